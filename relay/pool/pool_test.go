package pool

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfft546/gproxy/model"
	relaymodel "github.com/dfft546/gproxy/relay/model"
)

type recordingSink struct {
	mu    sync.Mutex
	saved []Mark
}

func (s *recordingSink) SaveDisallow(mark Mark) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, mark)
}

func (s *recordingSink) DeleteDisallow(int, Scope) {}

func entries(weights ...int) []Entry {
	out := make([]Entry, len(weights))
	for i, w := range weights {
		out[i] = Entry{ID: i + 1, Weight: w, Enabled: true, Secret: model.CredentialSecret{Kind: model.SecretAPIKey, APIKey: "k"}}
	}
	return out
}

func TestWeightedSelectionConverges(t *testing.T) {
	p := New("test", &Snapshot{Entries: entries(1, 3)}, nil)

	counts := map[int]int{}
	const n = 6000
	for i := 0; i < n; i++ {
		id, perr := Execute(p, AllModels(), func(e Entry) (int, *AttemptFailure) {
			return e.ID, nil
		})
		require.Nil(t, perr)
		counts[id]++
	}
	// expect ~25% / ~75% within generous tolerance
	assert.InDelta(t, 0.25, float64(counts[1])/n, 0.05)
	assert.InDelta(t, 0.75, float64(counts[2])/n, 0.05)
}

func TestZeroWeightNeverPickedUnlessAllZero(t *testing.T) {
	p := New("test", &Snapshot{Entries: entries(0, 5)}, nil)
	for i := 0; i < 200; i++ {
		id, perr := Execute(p, AllModels(), func(e Entry) (int, *AttemptFailure) {
			return e.ID, nil
		})
		require.Nil(t, perr)
		assert.Equal(t, 2, id)
	}

	allZero := New("test", &Snapshot{Entries: entries(0, 0)}, nil)
	seen := map[int]bool{}
	for i := 0; i < 200; i++ {
		id, perr := Execute(allZero, AllModels(), func(e Entry) (int, *AttemptFailure) {
			return e.ID, nil
		})
		require.Nil(t, perr)
		seen[id] = true
	}
	assert.Len(t, seen, 2)
}

func TestRotationTriesEachCredentialOnce(t *testing.T) {
	sink := &recordingSink{}
	p := New("test", &Snapshot{Entries: entries(1, 1, 1)}, sink)

	var attempted []int
	passthrough := relaymodel.NewPassthrough(429, nil, []byte(`{"error":"rate"}`))
	_, perr := Execute(p, ModelScope("m"), func(e Entry) (int, *AttemptFailure) {
		attempted = append(attempted, e.ID)
		return 0, &AttemptFailure{
			Passthrough: passthrough,
			Mark:        TransientMark(ModelScope("m"), time.Hour, "always fails"),
		}
	})
	require.NotNil(t, perr)
	assert.Equal(t, 429, perr.StatusCode)
	assert.Len(t, attempted, 3)
	seen := map[int]bool{}
	for _, id := range attempted {
		assert.False(t, seen[id], "credential retried within one request")
		seen[id] = true
	}
	assert.Len(t, sink.saved, 3)
}

func TestNoMarkMeansNoRotation(t *testing.T) {
	p := New("test", &Snapshot{Entries: entries(1, 1)}, nil)
	calls := 0
	_, perr := Execute(p, AllModels(), func(e Entry) (int, *AttemptFailure) {
		calls++
		return 0, &AttemptFailure{Passthrough: relaymodel.BadRequestf("bad body")}
	})
	require.NotNil(t, perr)
	assert.Equal(t, 400, perr.StatusCode)
	assert.Equal(t, 1, calls)
}

func TestModelScopeMarkOnlyCoversThatModel(t *testing.T) {
	p := New("test", &Snapshot{Entries: entries(1)}, nil)
	p.install(Mark{CredentialID: 1, Scope: ModelScope("gpt-5"), Level: Transient,
		Until: timePtr(time.Now().Add(time.Hour))})

	_, perr := Execute(p, ModelScope("gpt-5"), func(e Entry) (int, *AttemptFailure) {
		t.Fatal("marked credential selected")
		return 0, nil
	})
	assert.NotNil(t, perr)

	id, perr := Execute(p, ModelScope("gpt-4o"), func(e Entry) (int, *AttemptFailure) {
		return e.ID, nil
	})
	require.Nil(t, perr)
	assert.Equal(t, 1, id)
}

func TestAllModelsMarkCoversEverything(t *testing.T) {
	p := New("test", &Snapshot{Entries: entries(1)}, nil)
	p.install(Mark{CredentialID: 1, Scope: AllModels(), Level: Dead, Reason: "revoked"})

	_, perr := Execute(p, ModelScope("any"), func(e Entry) (int, *AttemptFailure) {
		t.Fatal("dead credential selected")
		return 0, nil
	})
	assert.NotNil(t, perr)
}

func TestTransientMarkExpires(t *testing.T) {
	p := New("test", &Snapshot{Entries: entries(1)}, nil)
	p.install(Mark{CredentialID: 1, Scope: AllModels(), Level: Transient,
		Until: timePtr(time.Now().Add(-time.Second))})

	id, perr := Execute(p, AllModels(), func(e Entry) (int, *AttemptFailure) {
		return e.ID, nil
	})
	require.Nil(t, perr)
	assert.Equal(t, 1, id)
	assert.Empty(t, p.Marks())
}

func TestNewerMarkSupersedes(t *testing.T) {
	p := New("test", &Snapshot{Entries: entries(1)}, nil)
	p.install(Mark{CredentialID: 1, Scope: AllModels(), Level: Transient,
		Until: timePtr(time.Now().Add(time.Hour)), Reason: "first"})
	p.install(Mark{CredentialID: 1, Scope: AllModels(), Level: Dead, Reason: "second"})

	marks := p.Marks()
	require.Len(t, marks, 1)
	assert.Equal(t, Dead, marks[0].Level)
	assert.Equal(t, "second", marks[0].Reason)
}

func TestExecuteForIDNeverRotates(t *testing.T) {
	p := New("test", &Snapshot{Entries: entries(1, 1)}, nil)
	calls := 0
	_, perr := ExecuteForID(p, 2, AllModels(), func(e Entry) (int, *AttemptFailure) {
		calls++
		assert.Equal(t, 2, e.ID)
		return 0, &AttemptFailure{
			Passthrough: relaymodel.NewPassthrough(500, nil, nil),
			Mark:        TransientMark(AllModels(), time.Minute, "boom"),
		}
	})
	require.NotNil(t, perr)
	assert.Equal(t, 1, calls)
}

func TestReplaceSnapshotKeepsMarksForSurvivors(t *testing.T) {
	p := New("test", &Snapshot{Entries: entries(1, 1)}, nil)
	p.install(Mark{CredentialID: 1, Scope: AllModels(), Level: Dead})
	p.install(Mark{CredentialID: 2, Scope: AllModels(), Level: Dead})

	p.ReplaceSnapshot(entries(1)) // only credential 1 survives
	marks := p.Snapshot().Marks
	require.Len(t, marks, 1)
	assert.Equal(t, 1, marks[0].CredentialID)
}

func TestUpdateEntrySecretVisibleToNextSelection(t *testing.T) {
	p := New("test", &Snapshot{Entries: entries(1)}, nil)
	p.UpdateEntrySecret(1, model.CredentialSecret{Kind: model.SecretOAuth, AccessToken: "fresh"})
	token, perr := Execute(p, AllModels(), func(e Entry) (string, *AttemptFailure) {
		return e.Secret.AccessToken, nil
	})
	require.Nil(t, perr)
	assert.Equal(t, "fresh", token)
}

func timePtr(t time.Time) *time.Time { return &t }
