// Package api exposes the note vault over JSON/HTTP. Every route dispatches
// to access.Guard; this package only decodes requests and encodes results.
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/kuitang/notevault/internal/access"
	"github.com/kuitang/notevault/internal/audit"
	"github.com/kuitang/notevault/internal/errs"
	"github.com/kuitang/notevault/internal/logutil"
	"github.com/kuitang/notevault/internal/notes"
	"github.com/kuitang/notevault/internal/obs"
	"github.com/kuitang/notevault/internal/ratelimit"
	"github.com/kuitang/notevault/internal/store"
)

// MaxBodyBytes bounds every JSON request body.
const MaxBodyBytes = 1 << 20

// Handler wraps the access guard and provides HTTP handlers.
type Handler struct {
	guard   *access.Guard
	limiter *ratelimit.Limiter
}

// NewHandler creates a new API handler. limiter may be nil to disable rate limiting.
func NewHandler(guard *access.Guard, limiter *ratelimit.Limiter) *Handler {
	return &Handler{guard: guard, limiter: limiter}
}

// RegisterRoutes registers all API routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Health)

	mux.HandleFunc("POST /api/register", h.Register)
	mux.HandleFunc("POST /api/login", h.Login)
	mux.HandleFunc("POST /api/logout", h.Logout)
	mux.HandleFunc("POST /api/refresh", h.Refresh)

	mux.HandleFunc("POST /api/notes", h.CreateNote)
	mux.HandleFunc("GET /api/notes", h.ReadNotes)
	mux.HandleFunc("PUT /api/notes", h.UpdateNote)
	mux.HandleFunc("DELETE /api/notes", h.DeleteNote)
	mux.HandleFunc("GET /api/notes/render", h.RenderNote)

	mux.HandleFunc("GET /api/admin/notes", h.ListAllNotes)
	mux.HandleFunc("GET /api/admin/audit", h.ViewAudit)
	mux.HandleFunc("GET /api/admin/integrity", h.VerifyIntegrity)
	mux.HandleFunc("DELETE /api/admin/accounts/{username}", h.DeleteAccount)
}

// Routes returns the full handler chain: correlation IDs, access log,
// bearer identity, rate limiting, then the route mux.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	var handler http.Handler = mux
	if h.limiter != nil {
		handler = ratelimit.Middleware(h.limiter, rateLimitKey, rateLimitIsAdmin)(handler)
	}
	handler = h.identify(handler)
	handler = obs.AccessLogMiddleware("api", handler)
	return obs.RequestMiddleware(handler)
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// RegisterRequest is the body of POST /api/register.
type RegisterRequest struct {
	Username string     `json:"username"`
	Password string     `json:"password"`
	Role     store.Role `json:"role,omitempty"`
}

// AccountResponse describes an account without its password hash.
type AccountResponse struct {
	Username string     `json:"username"`
	Role     store.Role `json:"role"`
}

// Register handles POST /api/register. A bearer token is optional; it only
// matters when admin registration is restricted.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	caller, err := optionalIdentity(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	acct, err := h.guard.Register(r.Context(), caller, req.Username, req.Password, req.Role)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, AccountResponse{Username: acct.Username, Role: acct.Role})
}

// LoginRequest is the body of POST /api/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenResponse carries issued tokens.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

func tokenResponse(s *access.Session) TokenResponse {
	return TokenResponse{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    s.TokenType,
		ExpiresIn:    s.ExpiresIn,
	}
}

// Login handles POST /api/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sess, err := h.guard.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, tokenResponse(sess))
}

// RefreshRequest is the body of POST /api/refresh and the optional body of
// POST /api/logout.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Logout handles POST /api/logout.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	id, err := h.requireIdentity(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	token := access.BearerToken(r.Header.Get("Authorization"))
	if err := h.guard.Logout(r.Context(), id, token, req.RefreshToken); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Refresh handles POST /api/refresh.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sess, err := h.guard.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, tokenResponse(sess))
}

// NoteRequest is the body of POST and PUT /api/notes. Username selects
// another account and is only honored for admins.
type NoteRequest struct {
	Username string `json:"username,omitempty"`
	Title    string `json:"title"`
	Content  string `json:"content"`
}

// NotesResponse lists one account's notes.
type NotesResponse struct {
	Notes []notes.Note `json:"notes"`
}

// CreateNote handles POST /api/notes.
func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	id, err := h.requireIdentity(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req NoteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	note, err := h.guard.CreateNote(r.Context(), id, req.Username, req.Title, req.Content)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

// ReadNotes handles GET /api/notes. With a title it returns that note,
// otherwise the account's notes.
func (h *Handler) ReadNotes(w http.ResponseWriter, r *http.Request) {
	id, err := h.requireIdentity(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	res, err := h.guard.ReadNotes(r.Context(), id, q.Get("username"), q.Get("title"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if res.Note != nil {
		writeJSON(w, http.StatusOK, res.Note)
		return
	}
	list := res.Notes
	if list == nil {
		list = []notes.Note{}
	}
	writeJSON(w, http.StatusOK, NotesResponse{Notes: list})
}

// UpdateNote handles PUT /api/notes.
func (h *Handler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	id, err := h.requireIdentity(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req NoteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	note, err := h.guard.UpdateNote(r.Context(), id, req.Username, req.Title, req.Content)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// DeleteNote handles DELETE /api/notes.
func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	id, err := h.requireIdentity(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	if err := h.guard.DeleteNote(r.Context(), id, q.Get("username"), q.Get("title")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RenderNote handles GET /api/notes/render and returns sanitized HTML.
func (h *Handler) RenderNote(w http.ResponseWriter, r *http.Request) {
	id, err := h.requireIdentity(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	page, err := h.guard.RenderNote(r.Context(), id, q.Get("username"), q.Get("title"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'; img-src https: data:")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(page)
}

// AccountsResponse is the full document without password hashes.
type AccountsResponse struct {
	Accounts []notes.AccountNotes `json:"accounts"`
}

// ListAllNotes handles GET /api/admin/notes.
func (h *Handler) ListAllNotes(w http.ResponseWriter, r *http.Request) {
	id, err := h.requireIdentity(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	accounts, err := h.guard.ListAllNotes(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if accounts == nil {
		accounts = []notes.AccountNotes{}
	}
	writeJSON(w, http.StatusOK, AccountsResponse{Accounts: accounts})
}

// AuditResponse lists audit records oldest first.
type AuditResponse struct {
	Records []audit.Record `json:"records"`
}

// ViewAudit handles GET /api/admin/audit?limit=N.
func (h *Handler) ViewAudit(w http.ResponseWriter, r *http.Request) {
	id, err := h.requireIdentity(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 0 {
			writeError(w, r, errs.New(errs.InvalidArgument, "limit must be a non-negative integer"))
			return
		}
		limit = parsed
	}
	records, err := h.guard.ViewAudit(r.Context(), id, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if records == nil {
		records = []audit.Record{}
	}
	writeJSON(w, http.StatusOK, AuditResponse{Records: records})
}

// IntegrityResponse is an integrity report with its verdict.
type IntegrityResponse struct {
	*notes.IntegrityReport
	Intact bool `json:"intact"`
}

// VerifyIntegrity handles GET /api/admin/integrity.
func (h *Handler) VerifyIntegrity(w http.ResponseWriter, r *http.Request) {
	id, err := h.requireIdentity(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	report, err := h.guard.VerifyIntegrity(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if report.Tampered == nil {
		report.Tampered = []notes.Tampered{}
	}
	writeJSON(w, http.StatusOK, IntegrityResponse{IntegrityReport: report, Intact: report.Intact()})
}

// DeleteAccount handles DELETE /api/admin/accounts/{username}.
func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	id, err := h.requireIdentity(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.guard.DeleteAccount(r.Context(), id, r.PathValue("username")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error string    `json:"error"`
	Code  errs.Code `json:"code"`
}

// maxLoggedBodyBytes bounds request bodies echoed into debug logs.
const maxLoggedBodyBytes = 512

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errs.Wrap(errs.InvalidArgument, "request body too large", err)
		}
		return errs.Wrap(errs.InvalidArgument, "invalid JSON body", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return errs.Wrap(errs.InvalidArgument, "invalid JSON body", io.EOF)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		obs.From(r.Context()).With("pkg", "api").Debug("request_decode_failed",
			"path", r.URL.Path,
			"error", err,
			"body", logutil.FormatBodyForLog(r.Header.Get("Content-Type"), raw, maxLoggedBodyBytes, false),
		)
		return errs.Wrap(errs.InvalidArgument, "invalid JSON body", err)
	}
	return nil
}

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, v any) error {
	err := decodeJSON(w, r, v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		obs.Pkg("api").Warn("response_encode_failed", "error", err)
	}
}

// writeError maps err to its status code and a client-safe message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errs.CodeOf(err)
	status := errs.HTTPStatus(code)
	if status >= http.StatusInternalServerError {
		obs.From(r.Context()).With("pkg", "api").Error("request_failed",
			"method", r.Method,
			"path", r.URL.Path,
			"code", string(code),
			"error", err,
			"headers", logutil.FormatHeadersForLog(r.Header),
		)
	}
	if errs.HasCode(err, errs.Unauthenticated) {
		w.Header().Set("WWW-Authenticate", `Bearer realm="notevault"`)
	}
	writeJSON(w, status, ErrorResponse{Error: errs.MessageOf(err), Code: code})
}
