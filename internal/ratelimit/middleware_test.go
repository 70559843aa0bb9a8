package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMiddleware_BlocksAfterBurst(t *testing.T) {
	rl := New(Config{UserRPS: 0.01, UserBurst: 2, AdminRPS: 0.01, AdminBurst: 4, CleanupInterval: time.Hour})
	defer rl.Stop()

	handler := Middleware(rl,
		func(r *http.Request) string { return r.Header.Get("X-Test-User") },
		func(r *http.Request) bool { return r.Header.Get("X-Test-Admin") == "1" },
	)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func(user string, admin bool) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/notes", nil)
		req.Header.Set("X-Test-User", user)
		if admin {
			req.Header.Set("X-Test-Admin", "1")
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	first := do("alice", false)
	require.Equal(t, http.StatusNoContent, first.Code)
	require.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))
	require.Equal(t, http.StatusNoContent, do("alice", false).Code)

	blocked := do("alice", false)
	require.Equal(t, http.StatusTooManyRequests, blocked.Code)
	require.Equal(t, "0", blocked.Header().Get("X-RateLimit-Remaining"))
	retry, err := strconv.Atoi(blocked.Header().Get("Retry-After"))
	require.NoError(t, err)
	require.InDelta(t, 100, retry, 2, "one token at 0.01 rps takes about 100s")
	require.JSONEq(t, `{"error":"too many requests","code":"rate_limited"}`, blocked.Body.String())

	for i := 0; i < 4; i++ {
		require.Equal(t, http.StatusNoContent, do("root", true).Code)
	}
	require.Equal(t, http.StatusTooManyRequests, do("root", true).Code)

	for i := 0; i < 10; i++ {
		require.Equal(t, http.StatusNoContent, do("", false).Code, "requests without a key are not limited")
	}
}
