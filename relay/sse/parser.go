package sse

import (
	"bytes"
	"strings"
)

// Parser splits an SSE byte stream into the data payloads of its records.
// Chunks may arrive split anywhere, including inside multi-byte sequences;
// the parser only cuts on newline bytes so UTF-8 reassembles naturally.
//
// One emitted event is the newline-joined concatenation of every `data:`
// line of one record; records end at a blank line. Empty events and the
// `[DONE]` sentinel are emitted as-is and filtered by the caller.
type Parser struct {
	buf  bytes.Buffer
	data []string
	seen bool
}

func NewParser() *Parser {
	return &Parser{}
}

// Push consumes one chunk and returns the data payloads of every record
// completed by it.
func (p *Parser) Push(chunk []byte) []string {
	p.buf.Write(chunk)
	var events []string
	for {
		raw := p.buf.Bytes()
		idx := bytes.IndexByte(raw, '\n')
		if idx < 0 {
			break
		}
		line := string(raw[:idx])
		p.buf.Next(idx + 1)
		line = strings.TrimSuffix(line, "\r")

		if line == "" {
			if p.seen {
				events = append(events, strings.Join(p.data, "\n"))
			}
			p.data = p.data[:0]
			p.seen = false
			continue
		}
		if value, ok := strings.CutPrefix(line, "data:"); ok {
			p.data = append(p.data, strings.TrimPrefix(value, " "))
			p.seen = true
		}
		// Other fields (event:, id:, retry:, comments) are ignored: every
		// protocol we proxy keys purely off the data payload.
	}
	return events
}

// Finish flushes a trailing record that was not terminated by a blank line.
// It returns at most one event, and only if a data line was seen.
func (p *Parser) Finish() []string {
	// A trailing partial line may still hold a data field.
	if rest := p.buf.String(); rest != "" {
		line := strings.TrimSuffix(rest, "\r")
		if value, ok := strings.CutPrefix(line, "data:"); ok {
			p.data = append(p.data, strings.TrimPrefix(value, " "))
			p.seen = true
		}
		p.buf.Reset()
	}
	if !p.seen {
		return nil
	}
	event := strings.Join(p.data, "\n")
	p.data = nil
	p.seen = false
	return []string{event}
}
