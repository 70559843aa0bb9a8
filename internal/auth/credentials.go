package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/kuitang/notevault/internal/audit"
	"github.com/kuitang/notevault/internal/errs"
	"github.com/kuitang/notevault/internal/obs"
	"github.com/kuitang/notevault/internal/store"
)

var (
	ErrInvalidCredentials = errs.New(errs.Unauthenticated, "invalid username or password")
	ErrUsernameTaken      = errs.New(errs.Conflict, "username already taken")
	ErrInvalidUsername    = errs.New(errs.InvalidArgument, "username must be 1-64 bytes of printable UTF-8")
	ErrInvalidRole        = errs.New(errs.InvalidArgument, "role must be 'user' or 'admin'")
	ErrUserNotFound       = store.ErrUserNotFound
	ErrStaleToken         = errs.New(errs.Unauthenticated, "token no longer matches an account")
)

// MaxUsernameLength is the longest accepted username in bytes.
const MaxUsernameLength = 64

// ValidateUsername checks that a username is non-empty, at most
// MaxUsernameLength bytes and free of control characters. Usernames are
// compared exactly, case included.
func ValidateUsername(username string) error {
	if username == "" || len(username) > MaxUsernameLength || !utf8.ValidString(username) {
		return ErrInvalidUsername
	}
	if strings.IndexFunc(username, unicode.IsControl) >= 0 {
		return ErrInvalidUsername
	}
	return nil
}

// CredentialService registers accounts and checks passwords against the Document Store.
type CredentialService struct {
	store  *store.DocumentStore
	hasher PasswordHasher
	audit  *audit.Logger

	dummyOnce sync.Once
	dummyHash string
}

// NewCredentialService creates a credential service.
func NewCredentialService(docs *store.DocumentStore, hasher PasswordHasher, auditLog *audit.Logger) *CredentialService {
	return &CredentialService{
		store:  docs,
		hasher: hasher,
		audit:  auditLog,
	}
}

// Register creates an account with no notes.
func (s *CredentialService) Register(ctx context.Context, username, password string, role store.Role) (*store.Account, error) {
	if err := s.validate(username, password, role); err != nil {
		s.audit.Logf(ctx, actorOrAnonymous(username), audit.ActionRegister, "failure: %s", errs.MessageOf(err))
		return nil, err
	}

	// Hash outside the store lock; Argon2 is slow.
	hash, err := s.hasher.HashPassword(password)
	if err != nil {
		s.audit.Log(ctx, username, audit.ActionRegister, "failure: password hashing failed")
		return nil, fmt.Errorf("hash password: %w", err)
	}

	account := store.Account{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		Notes:        []store.Note{},
	}
	err = s.store.Update(ctx, func(doc *store.Document) error {
		if existing, _ := doc.FindAccount(username); existing != nil {
			return ErrUsernameTaken
		}
		doc.Accounts = append(doc.Accounts, account)
		return nil
	})
	if err != nil {
		s.audit.Logf(ctx, username, audit.ActionRegister, "failure: %s", errs.MessageOf(err))
		return nil, err
	}

	obs.From(ctx).With("pkg", "auth").Info("account_registered", "username", username, "role", string(role))
	s.audit.Logf(ctx, username, audit.ActionRegister, "success: role=%s", role)
	return &account, nil
}

// Authenticate checks a username/password pair. Unknown users and wrong
// passwords return the same ErrInvalidCredentials; the audit record tells
// them apart.
func (s *CredentialService) Authenticate(ctx context.Context, username, password string) (Identity, error) {
	var (
		found bool
		hash  string
		id    Identity
	)
	err := s.store.View(ctx, func(doc *store.Document) error {
		if acct, _ := doc.FindAccount(username); acct != nil {
			found = true
			hash = acct.PasswordHash
			id = identityOf(acct)
		}
		return nil
	})
	if err != nil {
		s.audit.Logf(ctx, actorOrAnonymous(username), audit.ActionLogin, "failure: %s", errs.MessageOf(err))
		return Identity{}, err
	}

	if !found {
		// Burn the same hashing cost as a real check.
		s.hasher.VerifyPassword(password, s.dummy())
		s.audit.Log(ctx, actorOrAnonymous(username), audit.ActionLogin, "failure: user not found")
		return Identity{}, ErrInvalidCredentials
	}
	if !s.hasher.VerifyPassword(password, hash) {
		s.audit.Log(ctx, username, audit.ActionLogin, "failure: bad password")
		return Identity{}, ErrInvalidCredentials
	}

	s.audit.Log(ctx, username, audit.ActionLogin, "success")
	return id, nil
}

// Resolve checks a token's identity against the live account. A deleted
// account, a re-registered username or a changed role all yield
// ErrStaleToken.
func (s *CredentialService) Resolve(ctx context.Context, claimed Identity) (Identity, error) {
	var (
		current Identity
		found   bool
	)
	err := s.store.View(ctx, func(doc *store.Document) error {
		if acct, _ := doc.FindAccount(claimed.Username); acct != nil {
			current = identityOf(acct)
			found = true
		}
		return nil
	})
	if err != nil {
		return Identity{}, err
	}
	if !found || current.AccountID != claimed.AccountID || current.Role != claimed.Role {
		return Identity{}, ErrStaleToken
	}
	return current, nil
}

// DeleteAccount removes an account and all of its notes.
func (s *CredentialService) DeleteAccount(ctx context.Context, username string) error {
	err := s.store.Update(ctx, func(doc *store.Document) error {
		_, i := doc.FindAccount(username)
		if i < 0 {
			return ErrUserNotFound
		}
		doc.RemoveAccount(i)
		return nil
	})
	if err != nil {
		return err
	}
	obs.From(ctx).With("pkg", "auth").Info("account_deleted", "username", username)
	return nil
}

// EnsureAccount creates the account unless one with the same username
// exists. It reports whether an account was created. Used to seed the
// first admin at startup.
func (s *CredentialService) EnsureAccount(ctx context.Context, username, password string, role store.Role) (bool, error) {
	if err := s.validate(username, password, role); err != nil {
		return false, err
	}
	hash, err := s.hasher.HashPassword(password)
	if err != nil {
		return false, fmt.Errorf("hash password: %w", err)
	}

	created := false
	err = s.store.Update(ctx, func(doc *store.Document) error {
		if existing, _ := doc.FindAccount(username); existing != nil {
			return nil
		}
		doc.Accounts = append(doc.Accounts, store.Account{
			ID:           uuid.NewString(),
			Username:     username,
			PasswordHash: hash,
			Role:         role,
			Notes:        []store.Note{},
		})
		created = true
		return nil
	})
	if err != nil {
		s.audit.Logf(ctx, audit.ActorSystem, audit.ActionBootstrap, "failure: account=%s: %s", username, errs.MessageOf(err))
		return false, err
	}
	if created {
		s.audit.Logf(ctx, audit.ActorSystem, audit.ActionBootstrap, "success: created account=%s role=%s", username, role)
	} else {
		s.audit.Logf(ctx, audit.ActorSystem, audit.ActionBootstrap, "skipped: account=%s already exists", username)
	}
	return created, nil
}

func (s *CredentialService) validate(username, password string, role store.Role) error {
	if err := ValidateUsername(username); err != nil {
		return err
	}
	if err := ValidatePassword(password); err != nil {
		return err
	}
	if !role.Valid() {
		return ErrInvalidRole
	}
	return nil
}

func (s *CredentialService) dummy() string {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.HashPassword("notevault-dummy-password")
		if err == nil {
			s.dummyHash = hash
		}
	})
	return s.dummyHash
}

func actorOrAnonymous(username string) string {
	if ValidateUsername(username) != nil {
		return audit.ActorAnonymous
	}
	return username
}

func identityOf(acct *store.Account) Identity {
	return Identity{Username: acct.Username, Role: acct.Role, AccountID: acct.ID}
}
