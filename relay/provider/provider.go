// Package provider implements the per-provider upstream executors: header
// and URL construction, body massage, response classification, and the
// provider-specific OAuth surfaces.
package provider

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/dfft546/gproxy/model"
	"github.com/dfft546/gproxy/relay/dispatch"
	"github.com/dfft546/gproxy/relay/meta"
	"github.com/dfft546/gproxy/relay/pool"
	relaymodel "github.com/dfft546/gproxy/relay/model"
)

// Provider is one upstream backend executor. Native receives operations
// already translated into the provider's native protocol family; Local
// serves KindLocal dispatch entries without upstream I/O.
type Provider interface {
	Name() string
	Table() *dispatch.Table
	Pool() *pool.Pool
	Native(ctx context.Context, m *meta.Meta, req *Request) (*Result, *relaymodel.PassthroughError)
	Local(ctx context.Context, m *meta.Meta, req *Request) ([]byte, *relaymodel.PassthroughError)
}

const (
	NameClaude      = "claude"
	NameClaudeCode  = "claudecode"
	NameCodex       = "codex"
	NameGeminiCLI   = "geminicli"
	NameAntigravity = "antigravity"
	NameAIStudio    = "aistudio"
	NameCustom      = "custom"
)

// PoolStateLoader supplies the credential entries and recovered marks for
// one provider's pool.
type PoolStateLoader func(providerId int) ([]pool.Entry, []pool.Mark, error)

// Registry owns the live provider executors and their pools, kept in sync
// with the database by the admin plane.
type Registry struct {
	mu        sync.RWMutex
	providers map[int]Provider
	sink      pool.Sink
	loader    PoolStateLoader
}

// NewRegistry builds the registry. A nil loader reads pool state from the
// database.
func NewRegistry(sink pool.Sink, loader PoolStateLoader) *Registry {
	if loader == nil {
		loader = loadPoolStateFromDB
	}
	return &Registry{providers: map[int]Provider{}, sink: sink, loader: loader}
}

// Get returns the executor for a provider row, constructing it on first use.
func (r *Registry) Get(row *model.Provider) (Provider, *relaymodel.PassthroughError) {
	r.mu.RLock()
	p, ok := r.providers[row.Id]
	r.mu.RUnlock()
	if ok {
		return p, nil
	}
	return r.build(row)
}

func (r *Registry) build(row *model.Provider) (Provider, *relaymodel.PassthroughError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.providers[row.Id]; ok {
		return p, nil
	}

	credentialPool := pool.New(row.Name, pool.EmptySnapshot(), r.sink)
	var p Provider
	switch row.Name {
	case NameClaude:
		p = newClaudeProvider(credentialPool)
	case NameClaudeCode:
		p = newClaudeCodeProvider(credentialPool)
	case NameCodex:
		p = newCodexProvider(credentialPool)
	case NameGeminiCLI:
		p = newGeminiCLIProvider(credentialPool)
	case NameAntigravity:
		p = newAntigravityProvider(credentialPool)
	case NameAIStudio:
		p = newAIStudioProvider(credentialPool)
	default:
		p = newCustomProvider(row.Name, credentialPool)
	}
	r.providers[row.Id] = p

	if err := r.reloadLocked(row.Id); err != nil {
		return nil, relaymodel.ServiceUnavailable("provider credentials unavailable")
	}
	return p, nil
}

// Reload replaces a provider's pool snapshot from the database, re-seeding
// active disallow marks. Called at boot and after admin credential writes.
func (r *Registry) Reload(providerId int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reloadLocked(providerId)
}

func (r *Registry) reloadLocked(providerId int) error {
	p, ok := r.providers[providerId]
	if !ok {
		return nil
	}
	entries, marks, err := r.loader(providerId)
	if err != nil {
		return err
	}
	p.Pool().ReplaceSnapshot(entries)
	if len(marks) > 0 {
		p.Pool().SeedMarks(marks)
	}
	return nil
}

// Drop forgets a deleted provider. In-flight requests holding the old
// executor complete against the snapshot they already selected from.
func (r *Registry) Drop(providerId int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.providers, providerId)
}

func loadPoolStateFromDB(providerId int) ([]pool.Entry, []pool.Mark, error) {
	credentials, err := model.GetCredentialsByProviderId(providerId)
	if err != nil {
		return nil, nil, err
	}
	var entries []pool.Entry
	var ids []int
	for _, c := range credentials {
		secret, err := c.Secret()
		if err != nil {
			continue
		}
		entries = append(entries, pool.Entry{
			ID:      c.Id,
			Secret:  secret,
			Meta:    c.Meta(),
			Weight:  c.Weight,
			Enabled: c.Enabled,
		})
		ids = append(ids, c.Id)
	}

	rows, err := model.GetActiveDisallows(ids, timeNowUnix())
	if err != nil {
		return entries, nil, nil
	}
	var marks []pool.Mark
	for _, row := range rows {
		mark := pool.Mark{CredentialID: row.CredentialId, Reason: row.Reason}
		if row.ScopeKind == model.DisallowScopeModel {
			mark.Scope = pool.ModelScope(row.ScopeValue)
		}
		if row.Level == model.DisallowLevelDead {
			mark.Level = pool.Dead
		} else {
			mark.Level = pool.Transient
			if row.UntilAt > 0 {
				until := timeUnix(row.UntilAt)
				mark.Until = &until
			}
		}
		marks = append(marks, mark)
	}
	return entries, marks, nil
}

// StripModelPrefixes resolves the fake-stream and anti-truncation model name
// prefixes, returning the bare model plus the requested behaviors.
func StripModelPrefixes(modelName string) (bare string, fakeStream, antiTruncation bool) {
	const fakePrefix = "假流式/"
	const antiTruncPrefix = "流式抗截断/"
	for {
		switch {
		case strings.HasPrefix(modelName, fakePrefix):
			modelName = strings.TrimPrefix(modelName, fakePrefix)
			fakeStream = true
		case strings.HasPrefix(modelName, antiTruncPrefix):
			modelName = strings.TrimPrefix(modelName, antiTruncPrefix)
			antiTruncation = true
		default:
			return modelName, fakeStream, antiTruncation
		}
	}
}

func timeNowUnix() int64 { return time.Now().Unix() }

func timeUnix(sec int64) time.Time { return time.Unix(sec, 0) }
