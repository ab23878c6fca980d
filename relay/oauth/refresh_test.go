package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfft546/gproxy/model"
	"github.com/dfft546/gproxy/relay/pool"
)

func tokenServer(t *testing.T, calls *atomic.Int64, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "refresh_token", payload["grant_type"])
		assert.Equal(t, "rt-1", payload["refresh_token"])
		assert.Equal(t, "client-1", payload["client_id"])

		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		// Slow enough that concurrent callers pile up behind one flight.
		time.Sleep(50 * time.Millisecond)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "fresh-token",
			"refresh_token": "rt-2",
			"expires_in":    3600,
		})
	}))
}

func init() {
	persistCredentialSecret = func(int, model.CredentialSecret) error { return nil }
}

func expiredEntry() pool.Entry {
	return pool.Entry{
		ID:      1,
		Enabled: true,
		Weight:  1,
		Secret: model.CredentialSecret{
			Kind:         model.SecretOAuth,
			AccessToken:  "stale-token",
			RefreshToken: "rt-1",
			ExpiresAt:    time.Now().Add(-time.Minute).Unix(),
		},
	}
}

// Property: K concurrent refreshes of one credential produce exactly one
// POST to the token endpoint, and every caller observes the same token.
func TestRefreshSingleFlight(t *testing.T) {
	var calls atomic.Int64
	server := tokenServer(t, &calls, http.StatusOK)
	defer server.Close()

	entry := expiredEntry()
	p := pool.New("codex", &pool.Snapshot{Entries: []pool.Entry{entry}}, nil)
	endpoint := Endpoint{TokenURL: server.URL, ClientID: "client-1"}

	const k = 8
	tokens := make([]string, k)
	var wg sync.WaitGroup
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := Ensure(context.Background(), p, entry, endpoint, "")
			if err != nil {
				// Persistence to the absent DB is logged, not fatal; the
				// token itself must come through.
				t.Errorf("refresh %d failed: %v", i, err)
				return
			}
			tokens[i] = got.AccessToken
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
	for i := 0; i < k; i++ {
		assert.Equal(t, "fresh-token", tokens[i])
	}

	// the pool snapshot observed the rotation
	snap := p.Snapshot()
	require.Len(t, snap.Entries, 1)
	assert.Equal(t, "fresh-token", snap.Entries[0].Secret.AccessToken)
	assert.Equal(t, "rt-2", snap.Entries[0].Secret.RefreshToken)
}

func TestEnsureSkipsFreshToken(t *testing.T) {
	var calls atomic.Int64
	server := tokenServer(t, &calls, http.StatusOK)
	defer server.Close()

	entry := expiredEntry()
	entry.Secret.ExpiresAt = time.Now().Add(time.Hour).Unix()
	p := pool.New("codex", &pool.Snapshot{Entries: []pool.Entry{entry}}, nil)

	got, err := Ensure(context.Background(), p, entry, Endpoint{TokenURL: server.URL, ClientID: "client-1"}, "")
	require.NoError(t, err)
	assert.Equal(t, "stale-token", got.AccessToken)
	assert.EqualValues(t, 0, calls.Load())
}

func TestRefreshRejectedIsTerminal(t *testing.T) {
	var calls atomic.Int64
	server := tokenServer(t, &calls, http.StatusBadRequest)
	defer server.Close()

	entry := expiredEntry()
	entry.ID = 2
	p := pool.New("codex", &pool.Snapshot{Entries: []pool.Entry{entry}}, nil)

	_, err := ForceRefresh(context.Background(), p, entry, Endpoint{TokenURL: server.URL, ClientID: "client-1"}, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRefreshRejected)
}

func TestStateConsumedExactlyOnce(t *testing.T) {
	key := PutState(AuthState{Provider: "codex", CodeVerifier: "v"})
	state, ok := ConsumeState(key)
	require.True(t, ok)
	assert.Equal(t, "codex", state.Provider)

	_, ok = ConsumeState(key)
	assert.False(t, ok)
}

func TestCodeVerifierChallenge(t *testing.T) {
	verifier, challenge := NewCodeVerifier()
	assert.NotEmpty(t, verifier)
	assert.NotEmpty(t, challenge)
	assert.NotEqual(t, verifier, challenge)

	_, challenge2 := NewCodeVerifier()
	assert.NotEqual(t, challenge, challenge2)
}
