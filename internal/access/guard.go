// Package access enforces who may do what: it authenticates bearer tokens
// and applies the ownership and admin-role policies before dispatching to the
// credential service and note repository.
package access

import (
	"context"
	"strings"

	"github.com/kuitang/notevault/internal/audit"
	"github.com/kuitang/notevault/internal/auth"
	"github.com/kuitang/notevault/internal/errs"
	"github.com/kuitang/notevault/internal/notes"
	"github.com/kuitang/notevault/internal/obs"
	"github.com/kuitang/notevault/internal/store"
)

var (
	ErrForbidden    = errs.New(errs.PermissionDenied, "forbidden")
	ErrMissingToken = errs.New(errs.Unauthenticated, "missing bearer token")
)

// Session is the token pair handed to a client after login or refresh.
// RefreshToken is empty after a refresh.
type Session struct {
	Identity     auth.Identity
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int64
}

// Guard is the single entry point for authenticated operations.
type Guard struct {
	tokens *auth.TokenService
	creds  *auth.CredentialService
	notes  *notes.Repository
	audit  *audit.Logger

	restrictAdminRegistration bool
}

// NewGuard creates a guard over the given services.
func NewGuard(tokens *auth.TokenService, creds *auth.CredentialService, repo *notes.Repository, auditLog *audit.Logger) *Guard {
	return &Guard{
		tokens: tokens,
		creds:  creds,
		notes:  repo,
		audit:  auditLog,
	}
}

// WithAdminRegistrationRestricted makes admin registration require an admin
// caller. Off by default: registration takes the requested role as given.
func (g *Guard) WithAdminRegistrationRestricted(on bool) *Guard {
	g.restrictAdminRegistration = on
	return g
}

// Authenticate verifies a bearer token and checks that the account it was
// issued for still exists with the same role. Both "Bearer <token>" and a
// bare token are accepted. Every rejection is audited with its reason.
func (g *Guard) Authenticate(ctx context.Context, bearer string) (auth.Identity, error) {
	token := BearerToken(bearer)
	if token == "" {
		g.audit.Log(ctx, audit.ActorAnonymous, audit.ActionTokenRejected, "failure: "+ErrMissingToken.Error())
		return auth.Identity{}, ErrMissingToken
	}
	claimed, err := g.tokens.VerifyAccess(ctx, token)
	if err != nil {
		g.audit.Log(ctx, audit.ActorAnonymous, audit.ActionTokenRejected, "failure: "+errs.MessageOf(err))
		return auth.Identity{}, err
	}
	id, err := g.creds.Resolve(ctx, claimed)
	if err != nil {
		g.audit.Logf(ctx, audit.ActorAnonymous, audit.ActionTokenRejected, "failure: %s: account=%s", errs.MessageOf(err), claimed.Username)
		return auth.Identity{}, err
	}
	return id, nil
}

// Register creates an account with the requested role; an empty role means
// user. caller may be nil. It only matters when admin registration is
// restricted.
func (g *Guard) Register(ctx context.Context, caller *auth.Identity, username, password string, role store.Role) (*store.Account, error) {
	if role == "" {
		role = store.RoleUser
	}
	if g.restrictAdminRegistration && role == store.RoleAdmin && (caller == nil || !caller.IsAdmin()) {
		actor := audit.ActorAnonymous
		if caller != nil {
			actor = caller.Username
		}
		g.audit.Logf(ctx, actor, audit.ActionAccessDenied, "failure: %s requires admin role", audit.ActionRegister)
		return nil, ErrForbidden
	}
	return g.creds.Register(ctx, username, password, role)
}

// Login checks credentials and issues an access and refresh token.
func (g *Guard) Login(ctx context.Context, username, password string) (*Session, error) {
	id, err := g.creds.Authenticate(ctx, username, password)
	if err != nil {
		return nil, err
	}
	access, err := g.tokens.IssueAccessToken(id)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "token issuance failed", err)
	}
	refresh, err := g.tokens.IssueRefreshToken(id)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "token issuance failed", err)
	}
	return g.session(id, access, refresh), nil
}

// Logout revokes the caller's access token and forgets refreshToken when
// given. id must come from Authenticate on accessToken.
func (g *Guard) Logout(ctx context.Context, id auth.Identity, accessToken, refreshToken string) error {
	if err := g.tokens.Revoke(ctx, accessToken); err != nil {
		g.audit.Logf(ctx, id.Username, audit.ActionLogout, "failure: %s", errs.MessageOf(err))
		return err
	}
	if refreshToken != "" {
		g.tokens.Forget(refreshToken)
	}
	g.audit.Log(ctx, id.Username, audit.ActionLogout, "success")
	return nil
}

// Refresh exchanges a refresh token for a new access token.
func (g *Guard) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	access, claimed, err := g.tokens.Refresh(ctx, refreshToken)
	if err != nil {
		g.audit.Log(ctx, audit.ActorAnonymous, audit.ActionRefresh, "failure: "+errs.MessageOf(err))
		return nil, err
	}
	id, err := g.creds.Resolve(ctx, claimed)
	if err != nil {
		if errs.HasCode(err, errs.Unauthenticated) {
			g.tokens.Forget(refreshToken)
		}
		g.audit.Logf(ctx, audit.ActorAnonymous, audit.ActionRefresh, "failure: %s: account=%s", errs.MessageOf(err), claimed.Username)
		return nil, err
	}
	g.audit.Log(ctx, id.Username, audit.ActionRefresh, "success")
	return g.session(id, access, ""), nil
}

func (g *Guard) session(id auth.Identity, access, refresh string) *Session {
	return &Session{
		Identity:     id,
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    auth.TokenType,
		ExpiresIn:    int64(g.tokens.AccessTTL().Seconds()),
	}
}

// CreateNote creates a note in target's account. An empty target means the caller.
func (g *Guard) CreateNote(ctx context.Context, id auth.Identity, target, title, content string) (*notes.Note, error) {
	owner, err := g.authorizeOwner(ctx, id, target, audit.ActionNoteCreate)
	if err != nil {
		return nil, err
	}
	return g.notes.Create(withActor(ctx, id), owner, title, content)
}

// ReadNotes returns target's notes, or one note when title is set.
// An empty target means the caller; reading every account is ListAllNotes.
func (g *Guard) ReadNotes(ctx context.Context, id auth.Identity, target, title string) (*notes.ReadResult, error) {
	owner, err := g.authorizeOwner(ctx, id, target, audit.ActionNoteRead)
	if err != nil {
		return nil, err
	}
	return g.notes.Read(withActor(ctx, id), notes.Query{Username: owner, Title: title})
}

// UpdateNote replaces the content of target's note.
func (g *Guard) UpdateNote(ctx context.Context, id auth.Identity, target, title, content string) (*notes.Note, error) {
	owner, err := g.authorizeOwner(ctx, id, target, audit.ActionNoteUpdate)
	if err != nil {
		return nil, err
	}
	return g.notes.Update(withActor(ctx, id), owner, title, content)
}

// DeleteNote removes target's note.
func (g *Guard) DeleteNote(ctx context.Context, id auth.Identity, target, title string) error {
	owner, err := g.authorizeOwner(ctx, id, target, audit.ActionNoteDelete)
	if err != nil {
		return err
	}
	return g.notes.Delete(withActor(ctx, id), owner, title)
}

// RenderNote returns a note as sanitized HTML.
func (g *Guard) RenderNote(ctx context.Context, id auth.Identity, target, title string) ([]byte, error) {
	if title == "" {
		return nil, notes.ErrTitleRequired
	}
	res, err := g.ReadNotes(ctx, id, target, title)
	if err != nil {
		return nil, err
	}
	return notes.RenderHTML(*res.Note), nil
}

// ListAllNotes returns every account's notes. Admin only.
func (g *Guard) ListAllNotes(ctx context.Context, id auth.Identity) ([]notes.AccountNotes, error) {
	if err := g.requireAdmin(ctx, id, audit.ActionAdminListNotes); err != nil {
		return nil, err
	}
	res, err := g.notes.Read(withActor(ctx, id), notes.Query{})
	if err != nil {
		g.audit.Logf(ctx, id.Username, audit.ActionAdminListNotes, "failure: %s", errs.MessageOf(err))
		return nil, err
	}
	g.audit.Logf(ctx, id.Username, audit.ActionAdminListNotes, "success: accounts=%d", len(res.Accounts))
	return res.Accounts, nil
}

// ViewAudit returns the newest limit audit records (all when limit <= 0). Admin only.
func (g *Guard) ViewAudit(ctx context.Context, id auth.Identity, limit int) ([]audit.Record, error) {
	if err := g.requireAdmin(ctx, id, audit.ActionAdminViewAudit); err != nil {
		return nil, err
	}
	records, err := g.audit.List(ctx, limit)
	if err != nil {
		g.audit.Logf(ctx, id.Username, audit.ActionAdminViewAudit, "failure: %v", err)
		return nil, errs.Wrap(errs.Unavailable, "audit log unavailable", err)
	}
	g.audit.Logf(ctx, id.Username, audit.ActionAdminViewAudit, "success: records=%d", len(records))
	return records, nil
}

// DeleteAccount removes an account, its notes and its outstanding refresh tokens. Admin only.
func (g *Guard) DeleteAccount(ctx context.Context, id auth.Identity, username string) error {
	if err := g.requireAdmin(ctx, id, audit.ActionAdminDeleteAccount); err != nil {
		return err
	}
	if err := g.creds.DeleteAccount(ctx, username); err != nil {
		g.audit.Logf(ctx, id.Username, audit.ActionAdminDeleteAccount, "failure: account=%s: %s", username, errs.MessageOf(err))
		return err
	}
	dropped := g.tokens.ForgetSubject(username)
	g.audit.Logf(ctx, id.Username, audit.ActionAdminDeleteAccount, "success: account=%s refresh_tokens_dropped=%d", username, dropped)
	return nil
}

// VerifyIntegrity runs a full checksum sweep. Admin only.
func (g *Guard) VerifyIntegrity(ctx context.Context, id auth.Identity) (*notes.IntegrityReport, error) {
	if err := g.requireAdmin(ctx, id, audit.ActionAdminVerifyIntegrity); err != nil {
		return nil, err
	}
	return g.notes.VerifyAll(withActor(ctx, id))
}

// authorizeOwner resolves the account an operation targets. Users may only
// target themselves; a different target is refused, never narrowed.
func (g *Guard) authorizeOwner(ctx context.Context, id auth.Identity, target string, action audit.Action) (string, error) {
	if target == "" || target == id.Username {
		return id.Username, nil
	}
	if id.IsAdmin() {
		return target, nil
	}
	g.audit.Logf(ctx, id.Username, audit.ActionAccessDenied, "failure: %s on account %s", action, target)
	obs.From(withActor(ctx, id)).With("pkg", "access").Warn("access_denied", "action", string(action), "target", target)
	return "", ErrForbidden
}

func (g *Guard) requireAdmin(ctx context.Context, id auth.Identity, action audit.Action) error {
	if id.IsAdmin() {
		return nil
	}
	g.audit.Logf(ctx, id.Username, audit.ActionAccessDenied, "failure: %s requires admin role", action)
	obs.From(withActor(ctx, id)).With("pkg", "access").Warn("access_denied", "action", string(action))
	return ErrForbidden
}

func withActor(ctx context.Context, id auth.Identity) context.Context {
	return obs.WithActor(ctx, id.Username)
}

// BearerToken extracts the token from an Authorization header value. A bare
// token is returned as is.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if strings.EqualFold(header, auth.TokenType) {
		return ""
	}
	scheme, rest, found := strings.Cut(header, " ")
	if found && strings.EqualFold(scheme, auth.TokenType) {
		return strings.TrimSpace(rest)
	}
	return header
}
