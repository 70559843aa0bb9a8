package api

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/kuitang/notevault/internal/auth"
	"github.com/kuitang/notevault/internal/obs"
)

type authErrorContextKey struct{}

// identify verifies the Authorization header once per request. A valid token
// puts its identity in the context; a rejected one stores the error so the
// route can report it. Requests without the header pass through untouched.
func (h *Handler) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()
		id, err := h.guard.Authenticate(ctx, header)
		if err != nil {
			ctx = context.WithValue(ctx, authErrorContextKey{}, err)
		} else {
			ctx = obs.WithActor(auth.WithIdentity(ctx, id), id.Username)
			obs.SetAccessActor(ctx, id.Username)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireIdentity returns the request's identity or the reason there is none.
func (h *Handler) requireIdentity(r *http.Request) (auth.Identity, error) {
	if id, ok := auth.IdentityFromContext(r.Context()); ok {
		return id, nil
	}
	if err, ok := r.Context().Value(authErrorContextKey{}).(error); ok {
		return auth.Identity{}, err
	}
	// No header at all: let the guard record the missing token.
	return h.guard.Authenticate(r.Context(), "")
}

// optionalIdentity returns nil for anonymous requests and an error only when
// a token was presented and rejected.
func optionalIdentity(r *http.Request) (*auth.Identity, error) {
	if id, ok := auth.IdentityFromContext(r.Context()); ok {
		return &id, nil
	}
	if err, ok := r.Context().Value(authErrorContextKey{}).(error); ok {
		return nil, err
	}
	return nil, nil
}

// rateLimitKey keys authenticated requests by username and anonymous ones
// by client IP.
func rateLimitKey(r *http.Request) string {
	if id, ok := auth.IdentityFromContext(r.Context()); ok {
		return "user:" + id.Username
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		return ""
	}
	return "ip:" + host
}

func rateLimitIsAdmin(r *http.Request) bool {
	id, ok := auth.IdentityFromContext(r.Context())
	return ok && id.IsAdmin()
}
