package auth

import (
	"bytes"
	"context"
	"testing"
	stdtime "time"

	"github.com/stretchr/testify/require"

	"github.com/kuitang/notevault/internal/audit"
	"github.com/kuitang/notevault/internal/store"
)

type testEnv struct {
	docs     *store.DocumentStore
	revoked  *store.RevocationStore
	sink     *audit.MemorySink
	audit    *audit.Logger
	creds    *CredentialService
	clock    *FakeClock
	tokens   *TokenService
	registry *TokenRegistry
}

func newTestEnv(t testing.TB) *testEnv {
	t.Helper()
	backend, err := store.NewFileBackend(t.TempDir())
	require.NoError(t, err)

	env := &testEnv{
		docs:     store.NewDocumentStore(backend),
		revoked:  store.NewRevocationStore(backend),
		sink:     audit.NewMemorySink(),
		clock:    NewFakeClock(stdtime.Date(2024, 1, 1, 0, 0, 0, 0, stdtime.UTC)),
		registry: NewTokenRegistry(),
	}
	env.audit = audit.NewLogger(env.sink).WithClock(env.clock.Now)
	env.creds = NewCredentialService(env.docs, FakeInsecureHasher{}, env.audit)
	env.tokens, err = NewTokenService(TokenConfig{
		AccessSecret:  bytes.Repeat([]byte{0xA1}, MinSecretSize),
		RefreshSecret: bytes.Repeat([]byte{0xB2}, MinSecretSize),
		Clock:         env.clock,
	}, env.revoked, env.registry)
	require.NoError(t, err)
	return env
}

func (e *testEnv) records(t testing.TB, action audit.Action) []audit.Record {
	t.Helper()
	all, err := e.sink.List(context.Background(), 0)
	require.NoError(t, err)
	var out []audit.Record
	for _, r := range all {
		if r.Action == action {
			out = append(out, r)
		}
	}
	return out
}
