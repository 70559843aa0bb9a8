package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/kuitang/notevault/internal/access"
	"github.com/kuitang/notevault/internal/audit"
	"github.com/kuitang/notevault/internal/auth"
	"github.com/kuitang/notevault/internal/errs"
	"github.com/kuitang/notevault/internal/notes"
	"github.com/kuitang/notevault/internal/obs"
	"github.com/kuitang/notevault/internal/ratelimit"
	"github.com/kuitang/notevault/internal/store"
)

type apiEnv struct {
	server  *httptest.Server
	sink    *audit.MemorySink
	clock   *auth.FakeClock
	docs    *store.DocumentStore
	creds   *auth.CredentialService
	backend *countingBackend
}

// countingBackend counts reads per resource.
type countingBackend struct {
	store.Backend

	mu    sync.Mutex
	reads map[string]int
}

func (b *countingBackend) Read(ctx context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	b.reads[key]++
	b.mu.Unlock()
	return b.Backend.Read(ctx, key)
}

func (b *countingBackend) readsOf(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reads[key]
}

func newAPIEnv(t testing.TB, limiter *ratelimit.Limiter) *apiEnv {
	t.Helper()
	files, err := store.NewFileBackend(t.TempDir())
	require.NoError(t, err)
	backend := &countingBackend{Backend: files, reads: map[string]int{}}

	clock := auth.NewFakeClock(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	sink := audit.NewMemorySink()
	auditLog := audit.NewLogger(sink).WithClock(clock.Now)
	docs := store.NewDocumentStore(backend)

	tokens, err := auth.NewTokenService(auth.TokenConfig{
		AccessSecret:  bytes.Repeat([]byte{0x33}, auth.MinSecretSize),
		RefreshSecret: bytes.Repeat([]byte{0x44}, auth.MinSecretSize),
		AccessTTL:     15 * time.Minute,
		Clock:         clock,
	}, store.NewRevocationStore(backend), auth.NewTokenRegistry())
	require.NoError(t, err)

	creds := auth.NewCredentialService(docs, auth.FakeInsecureHasher{}, auditLog)
	repo := notes.NewRepository(docs, auditLog, 4096).WithClock(clock.Now)
	guard := access.NewGuard(tokens, creds, repo, auditLog)

	server := httptest.NewServer(NewHandler(guard, limiter).Routes())
	t.Cleanup(server.Close)

	return &apiEnv{server: server, sink: sink, clock: clock, docs: docs, creds: creds, backend: backend}
}

func (e *apiEnv) do(t testing.TB, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (e *apiEnv) register(t testing.TB, username, password string) {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/api/register", "", RegisterRequest{Username: username, Password: password})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
}

func (e *apiEnv) seedAdmin(t testing.TB, username, password string) {
	t.Helper()
	_, err := e.creds.EnsureAccount(context.Background(), username, password, store.RoleAdmin)
	require.NoError(t, err)
}

func (e *apiEnv) login(t testing.TB, username, password string) TokenResponse {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/api/login", "", LoginRequest{Username: username, Password: password})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var tok TokenResponse
	require.NoError(t, json.Unmarshal(body, &tok))
	return tok
}

func (e *apiEnv) actions(t testing.TB, action audit.Action) int {
	t.Helper()
	all, err := e.sink.List(context.Background(), 0)
	require.NoError(t, err)
	n := 0
	for _, r := range all {
		if r.Action == action {
			n++
		}
	}
	return n
}

func decodeError(t testing.TB, body []byte) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	require.NoError(t, json.Unmarshal(body, &e), string(body))
	return e
}

func TestHealth(t *testing.T) {
	env := newAPIEnv(t, nil)
	resp, body := env.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"status":"ok"}`, string(body))
	require.NotEmpty(t, resp.Header.Get("X-Request-Id"))
}

func TestNotesLifecycle(t *testing.T) {
	env := newAPIEnv(t, nil)
	env.register(t, "alice", "alice-password")
	tok := env.login(t, "alice", "alice-password")
	require.Equal(t, auth.TokenType, tok.TokenType)
	require.Equal(t, int64(900), tok.ExpiresIn)
	require.NotEmpty(t, tok.RefreshToken)

	resp, body := env.do(t, http.MethodPost, "/api/notes", tok.AccessToken, NoteRequest{Title: "todo", Content: "# Milk\n\n<script>x()</script>"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var created notes.Note
	require.NoError(t, json.Unmarshal(body, &created))
	require.True(t, created.Intact)
	require.Equal(t, "todo", created.Title)

	resp, body = env.do(t, http.MethodGet, "/api/notes", tok.AccessToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list NotesResponse
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list.Notes, 1)

	resp, body = env.do(t, http.MethodPut, "/api/notes", tok.AccessToken, NoteRequest{Title: "todo", Content: "eggs"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = env.do(t, http.MethodGet, "/api/notes?title=todo", tok.AccessToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got notes.Note
	require.NoError(t, json.Unmarshal(body, &got))
	require.Equal(t, "eggs", got.Content)
	require.True(t, got.Intact)

	resp, body = env.do(t, http.MethodGet, "/api/notes/render?title=todo", tok.AccessToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
	require.Contains(t, string(body), "eggs")

	resp, _ = env.do(t, http.MethodDelete, "/api/notes?title=todo", tok.AccessToken, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = env.do(t, http.MethodDelete, "/api/notes?title=todo", tok.AccessToken, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, errs.NotFound, decodeError(t, body).Code)

	resp, body = env.do(t, http.MethodGet, "/api/notes", tok.AccessToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"notes":[]}`, string(body))
}

func TestRenderSanitizesMarkup(t *testing.T) {
	env := newAPIEnv(t, nil)
	env.register(t, "alice", "alice-password")
	tok := env.login(t, "alice", "alice-password")

	resp, _ := env.do(t, http.MethodPost, "/api/notes", tok.AccessToken, NoteRequest{Title: "x", Content: "hi <script>alert(1)</script>"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := env.do(t, http.MethodGet, "/api/notes/render?title=x", tok.AccessToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotContains(t, string(body), "<script>")
	require.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}

func TestLoginErrorsAreUniform(t *testing.T) {
	env := newAPIEnv(t, nil)
	env.register(t, "alice", "alice-password")

	wrongResp, wrongBody := env.do(t, http.MethodPost, "/api/login", "", LoginRequest{Username: "alice", Password: "not-the-password"})
	unknownResp, unknownBody := env.do(t, http.MethodPost, "/api/login", "", LoginRequest{Username: "mallory", Password: "whatever-password"})

	require.Equal(t, http.StatusUnauthorized, wrongResp.StatusCode)
	require.Equal(t, wrongResp.StatusCode, unknownResp.StatusCode)
	require.Equal(t, string(wrongBody), string(unknownBody))
	require.Equal(t, errs.Unauthenticated, decodeError(t, wrongBody).Code)
	require.Contains(t, wrongResp.Header.Get("WWW-Authenticate"), "Bearer")
}

func TestRegisterRules(t *testing.T) {
	env := newAPIEnv(t, nil)
	env.register(t, "alice", "alice-password")

	resp, body := env.do(t, http.MethodPost, "/api/register", "", RegisterRequest{Username: "alice", Password: "another-password"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, errs.Conflict, decodeError(t, body).Code)

	resp, body = env.do(t, http.MethodPost, "/api/register", "", RegisterRequest{Username: "bob", Password: "pw2", Role: store.RoleAdmin})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	require.JSONEq(t, `{"username":"bob","role":"admin"}`, string(body))
	bob := env.login(t, "bob", "pw2")
	resp, _ = env.do(t, http.MethodGet, "/api/admin/notes", bob.AccessToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = env.do(t, http.MethodPost, "/api/register", "", RegisterRequest{Username: "short", Password: "x"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, body = env.do(t, http.MethodPost, "/api/register", "", RegisterRequest{Username: "empty", Password: ""})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, errs.InvalidArgument, decodeError(t, body).Code)

	resp, _ = env.do(t, http.MethodPost, "/api/register", "garbage-token", RegisterRequest{Username: "bob", Password: "bob-password"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMalformedBodies(t *testing.T) {
	env := newAPIEnv(t, nil)

	for _, body := range []string{"", "{", `{"username":"a","password":"b","extra":1}`, `[]`} {
		resp, raw := env.do(t, http.MethodPost, "/api/login", "", body)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
		require.Equal(t, errs.InvalidArgument, decodeError(t, raw).Code)
	}

	huge := `{"username":"` + strings.Repeat("a", MaxBodyBytes) + `"}`
	resp, _ := env.do(t, http.MethodPost, "/api/register", "", huge)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMissingAndInvalidTokens(t *testing.T) {
	env := newAPIEnv(t, nil)

	resp, body := env.do(t, http.MethodGet, "/api/notes", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, errs.Unauthenticated, decodeError(t, body).Code)

	resp, _ = env.do(t, http.MethodGet, "/api/notes", "not.a.jwt", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// One audit record per rejected request.
	require.Equal(t, 2, env.actions(t, audit.ActionTokenRejected))
}

func TestOwnershipEnforced(t *testing.T) {
	env := newAPIEnv(t, nil)
	env.register(t, "alice", "alice-password")
	env.register(t, "carol", "carol-password")
	alice := env.login(t, "alice", "alice-password")
	carol := env.login(t, "carol", "carol-password")

	resp, _ := env.do(t, http.MethodPost, "/api/notes", alice.AccessToken, NoteRequest{Title: "secret", Content: "s"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	cases := []struct {
		method string
		path   string
		body   any
	}{
		{http.MethodGet, "/api/notes?username=alice", nil},
		{http.MethodGet, "/api/notes/render?username=alice&title=secret", nil},
		{http.MethodDelete, "/api/notes?username=alice&title=secret", nil},
		{http.MethodPut, "/api/notes", NoteRequest{Username: "alice", Title: "secret", Content: "pwned"}},
		{http.MethodPost, "/api/notes", NoteRequest{Username: "alice", Title: "planted", Content: "x"}},
		{http.MethodGet, "/api/admin/notes", nil},
		{http.MethodGet, "/api/admin/audit", nil},
		{http.MethodGet, "/api/admin/integrity", nil},
		{http.MethodDelete, "/api/admin/accounts/alice", nil},
	}
	for _, tc := range cases {
		resp, body := env.do(t, tc.method, tc.path, carol.AccessToken, tc.body)
		require.Equal(t, http.StatusForbidden, resp.StatusCode, "%s %s", tc.method, tc.path)
		require.Equal(t, errs.PermissionDenied, decodeError(t, body).Code)
	}
	require.Equal(t, len(cases), env.actions(t, audit.ActionAccessDenied))

	resp, body := env.do(t, http.MethodGet, "/api/notes?title=secret", alice.AccessToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `"content":"s"`)
}

func TestAdminRoutes(t *testing.T) {
	env := newAPIEnv(t, nil)
	env.seedAdmin(t, "root", "root-password")
	env.register(t, "alice", "alice-password")
	admin := env.login(t, "root", "root-password")
	alice := env.login(t, "alice", "alice-password")

	resp, _ := env.do(t, http.MethodPost, "/api/notes", alice.AccessToken, NoteRequest{Title: "a", Content: "one"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := env.do(t, http.MethodGet, "/api/admin/notes", admin.AccessToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var accounts AccountsResponse
	require.NoError(t, json.Unmarshal(body, &accounts))
	require.Len(t, accounts.Accounts, 2)
	require.NotContains(t, string(body), "password")

	resp, body = env.do(t, http.MethodGet, "/api/notes?username=alice&title=a", admin.AccessToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `"intact":true`)

	resp, body = env.do(t, http.MethodGet, "/api/admin/integrity", admin.AccessToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var report struct {
		Intact    bool             `json:"intact"`
		NoteCount int              `json:"note_count"`
		Tampered  []notes.Tampered `json:"tampered"`
	}
	require.NoError(t, json.Unmarshal(body, &report))
	require.True(t, report.Intact)
	require.Equal(t, 1, report.NoteCount)
	require.Empty(t, report.Tampered)

	resp, body = env.do(t, http.MethodGet, "/api/admin/audit?limit=3", admin.AccessToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var records AuditResponse
	require.NoError(t, json.Unmarshal(body, &records))
	require.Len(t, records.Records, 3)

	resp, _ = env.do(t, http.MethodGet, "/api/admin/audit?limit=-1", admin.AccessToken, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodDelete, "/api/admin/accounts/alice", admin.AccessToken, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = env.do(t, http.MethodDelete, "/api/admin/accounts/alice", admin.AccessToken, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/login", "", LoginRequest{Username: "alice", Password: "alice-password"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/refresh", "", RefreshRequest{RefreshToken: alice.RefreshToken})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestIntegrityReportsTampering(t *testing.T) {
	env := newAPIEnv(t, nil)
	env.seedAdmin(t, "root", "root-password")
	admin := env.login(t, "root", "root-password")

	resp, _ := env.do(t, http.MethodPost, "/api/notes", admin.AccessToken, NoteRequest{Title: "ledger", Content: "balance 10"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	err := env.docs.Update(context.Background(), func(doc *store.Document) error {
		acct, _ := doc.FindAccount("root")
		acct.Notes[0].Content = "balance 1000"
		return nil
	})
	require.NoError(t, err)

	resp, body := env.do(t, http.MethodGet, "/api/notes?title=ledger", admin.AccessToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `"intact":false`)

	resp, body = env.do(t, http.MethodGet, "/api/admin/integrity", admin.AccessToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `"intact":false`)
	require.Contains(t, string(body), `"title":"ledger"`)
}

func TestLogoutAndRefresh(t *testing.T) {
	env := newAPIEnv(t, nil)
	env.register(t, "alice", "alice-password")
	tok := env.login(t, "alice", "alice-password")

	env.clock.Advance(20 * time.Minute)
	resp, _ := env.do(t, http.MethodGet, "/api/notes", tok.AccessToken, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := env.do(t, http.MethodPost, "/api/refresh", "", RefreshRequest{RefreshToken: tok.RefreshToken})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	require.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	var refreshed TokenResponse
	require.NoError(t, json.Unmarshal(body, &refreshed))
	require.Empty(t, refreshed.RefreshToken)

	resp, _ = env.do(t, http.MethodGet, "/api/notes", refreshed.AccessToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/logout", refreshed.AccessToken, RefreshRequest{RefreshToken: tok.RefreshToken})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = env.do(t, http.MethodGet, "/api/notes", refreshed.AccessToken, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "token revoked", decodeError(t, body).Error)

	resp, _ = env.do(t, http.MethodPost, "/api/refresh", "", RefreshRequest{RefreshToken: tok.RefreshToken})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/logout", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLogoutWithoutBody(t *testing.T) {
	env := newAPIEnv(t, nil)
	env.register(t, "alice", "alice-password")
	tok := env.login(t, "alice", "alice-password")

	resp, body := env.do(t, http.MethodPost, "/api/logout", tok.AccessToken, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode, string(body))
	require.Equal(t, 1, env.actions(t, audit.ActionLogout))
}

func TestLogoutChecksTheTokenOnce(t *testing.T) {
	env := newAPIEnv(t, nil)
	env.register(t, "alice", "pw1")
	tok := env.login(t, "alice", "pw1")

	before := env.backend.readsOf(store.RevocationKey)
	resp, body := env.do(t, http.MethodPost, "/api/logout", tok.AccessToken, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode, string(body))

	// One membership check while identifying, one read-modify-write to revoke.
	require.Equal(t, 2, env.backend.readsOf(store.RevocationKey)-before)
}

func TestDeletedAccountTokenCannotReadNewOwner(t *testing.T) {
	env := newAPIEnv(t, nil)
	env.register(t, "alice", "pw1")
	old := env.login(t, "alice", "pw1")
	env.seedAdmin(t, "root", "root-password")
	admin := env.login(t, "root", "root-password")

	resp, _ := env.do(t, http.MethodDelete, "/api/admin/accounts/alice", admin.AccessToken, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	env.register(t, "alice", "pw1")
	fresh := env.login(t, "alice", "pw1")
	resp, body := env.do(t, http.MethodPost, "/api/notes", fresh.AccessToken, NoteRequest{Title: "diary", Content: "secret"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, body = env.do(t, http.MethodGet, "/api/notes", old.AccessToken, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.NotContains(t, string(body), "secret")
	require.Equal(t, errs.Unauthenticated, decodeError(t, body).Code)
}

func TestQuotaExceeded(t *testing.T) {
	env := newAPIEnv(t, nil)
	env.register(t, "alice", "alice-password")
	tok := env.login(t, "alice", "alice-password")

	resp, body := env.do(t, http.MethodPost, "/api/notes", tok.AccessToken, NoteRequest{Title: "big", Content: strings.Repeat("x", 5000)})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, errs.InvalidArgument, decodeError(t, body).Code)
}

func TestRateLimitedByClientAddress(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{
		UserRPS:         0.001,
		UserBurst:       2,
		AdminRPS:        0.001,
		AdminBurst:      2,
		CleanupInterval: time.Hour,
	})
	t.Cleanup(limiter.Stop)
	env := newAPIEnv(t, limiter)

	for i := 0; i < 2; i++ {
		resp, _ := env.do(t, http.MethodGet, "/healthz", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, body := env.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.JSONEq(t, `{"error":"too many requests","code":"rate_limited"}`, string(body))
}

func TestRateLimitKey(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.9:5555"
	require.Equal(t, "ip:203.0.113.9", rateLimitKey(r))
	require.False(t, rateLimitIsAdmin(r))

	r = r.WithContext(auth.WithIdentity(r.Context(), auth.Identity{Username: "root", Role: store.RoleAdmin}))
	require.Equal(t, "user:root", rateLimitKey(r))
	require.True(t, rateLimitIsAdmin(r))
}

func testStatusMatchesErrorCode(t *rapid.T) {
	code := rapid.SampledFrom([]errs.Code{
		errs.InvalidArgument, errs.Unauthenticated, errs.PermissionDenied,
		errs.NotFound, errs.Conflict, errs.Unavailable, errs.IntegrityMismatch, errs.Internal,
	}).Draw(t, "code")
	msg := rapid.StringMatching(`[a-z ]{1,20}`).Draw(t, "msg")

	rec := httptest.NewRecorder()
	writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), errs.Wrap(code, msg, io.ErrUnexpectedEOF))

	if rec.Code != errs.HTTPStatus(code) {
		t.Fatalf("status %d, want %d", rec.Code, errs.HTTPStatus(code))
	}
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Code != code || resp.Error != msg {
		t.Fatalf("got %+v, want code=%s error=%q", resp, code, msg)
	}
}

func TestStatusMatchesErrorCode(t *testing.T) {
	rapid.Check(t, testStatusMatchesErrorCode)
}

func FuzzStatusMatchesErrorCode(f *testing.F) {
	f.Fuzz(rapid.MakeFuzz(testStatusMatchesErrorCode))
}

func TestUncodedErrorsDoNotLeak(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), io.ErrUnexpectedEOF)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `{"error":"internal error","code":"internal"}`, rec.Body.String())
}

func TestDecodeFailureLogsRedactedBody(t *testing.T) {
	var buf bytes.Buffer
	restore := obs.SetOutputForTests(&buf)
	defer restore()

	h := NewHandler(nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(`{"username":"alice","password":"hunter2-hunter2","bogus":true}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.Login(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, buf.String(), "request_decode_failed")
	require.Contains(t, buf.String(), "[REDACTED]")
	require.NotContains(t, buf.String(), "hunter2")
}
