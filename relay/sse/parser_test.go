package sse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseAll(t *testing.T, body string, chunkSize int) []string {
	t.Helper()
	p := NewParser()
	var events []string
	for i := 0; i < len(body); i += chunkSize {
		end := i + chunkSize
		if end > len(body) {
			end = len(body)
		}
		events = append(events, p.Push([]byte(body[i:end]))...)
	}
	return append(events, p.Finish()...)
}

func TestParserBasic(t *testing.T) {
	body := "data: {\"a\":1}\n\ndata: {\"b\":2}\n\ndata: [DONE]\n\n"
	events := parseAll(t, body, len(body))
	require.Equal(t, []string{`{"a":1}`, `{"b":2}`, "[DONE]"}, events)
}

func TestParserMultiDataLines(t *testing.T) {
	body := "data: line1\ndata: line2\n\n"
	events := parseAll(t, body, len(body))
	require.Equal(t, []string{"line1\nline2"}, events)
}

func TestParserIgnoresOtherFields(t *testing.T) {
	body := "event: message_start\nid: 7\nretry: 100\ndata: x\n\n"
	events := parseAll(t, body, len(body))
	require.Equal(t, []string{"x"}, events)
}

func TestParserCRLF(t *testing.T) {
	body := "data: x\r\n\r\ndata: y\r\n\r\n"
	events := parseAll(t, body, len(body))
	require.Equal(t, []string{"x", "y"}, events)
}

func TestParserTrailingRecordFlushedOnFinish(t *testing.T) {
	p := NewParser()
	assert.Empty(t, p.Push([]byte("data: tail")))
	require.Equal(t, []string{"tail"}, p.Finish())
	// Finish is idempotent once drained.
	assert.Empty(t, p.Finish())
}

func TestParserNoDataNoFinishEvent(t *testing.T) {
	p := NewParser()
	p.Push([]byte("event: ping\n"))
	assert.Empty(t, p.Finish())
}

// Any byte split of a valid body yields the same events as one-shot parsing,
// multi-byte UTF-8 included.
func TestParserSplitInvariance(t *testing.T) {
	body := "data: {\"text\":\"héllo 世界\"}\n\nevent: e\ndata: a\ndata: b\n\ndata: [DONE]\n\n"
	want := parseAll(t, body, len(body))
	for chunkSize := 1; chunkSize <= 7; chunkSize++ {
		got := parseAll(t, body, chunkSize)
		assert.Equalf(t, want, got, "chunk size %d", chunkSize)
	}
}
