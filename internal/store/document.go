// Package store persists the account/note Document and the revoked-token set
// as whole resources with atomic replace semantics.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kuitang/notevault/internal/errs"
	"github.com/kuitang/notevault/internal/integrity"
	"github.com/kuitang/notevault/internal/obs"
)

const (
	// DocumentKey is the resource name of the account/note Document.
	DocumentKey = "data.json"

	// RevocationKey is the resource name of the revoked-token set.
	RevocationKey = "revoked.json"
)

// ErrStoreUnavailable is returned when a resource exists but cannot be read,
// parsed or written.
var ErrStoreUnavailable = errs.New(errs.Unavailable, "storage unavailable")

// ErrUserNotFound is returned when an operation names an account that does not exist.
var ErrUserNotFound = errs.New(errs.NotFound, "user not found")

// Role is an account's authorization role.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// Note is a titled piece of content owned by one account.
type Note struct {
	Title    string           `json:"title"`
	Content  string           `json:"content"`
	Checksum integrity.Digest `json:"checksum"`
	Date     time.Time        `json:"date"`
}

// Account is a registered user and their notes in insertion order.
type Account struct {
	ID           string `json:"id,omitempty"`
	Username     string `json:"username"`
	PasswordHash string `json:"password_hash"`
	Role         Role   `json:"role"`
	Notes        []Note `json:"notes"`
}

// NoteIndex returns the index of the first note titled title, or -1.
func (a *Account) NoteIndex(title string) int {
	for i := range a.Notes {
		if a.Notes[i].Title == title {
			return i
		}
	}
	return -1
}

// Document is the whole persisted account collection.
type Document struct {
	Accounts []Account
}

// FindAccount returns the account with the exact username and its index,
// or nil and -1.
func (d *Document) FindAccount(username string) (*Account, int) {
	for i := range d.Accounts {
		if d.Accounts[i].Username == username {
			return &d.Accounts[i], i
		}
	}
	return nil, -1
}

// RemoveAccount deletes the account at index i, preserving order.
func (d *Document) RemoveAccount(i int) {
	d.Accounts = append(d.Accounts[:i], d.Accounts[i+1:]...)
}

// DocumentStore serializes every load-mutate-save cycle on the Document
// behind a single mutex.
type DocumentStore struct {
	backend Backend
	key     string
	mu      sync.Mutex
}

// NewDocumentStore creates a store for the Document resource on backend.
func NewDocumentStore(backend Backend) *DocumentStore {
	return &DocumentStore{backend: backend, key: DocumentKey}
}

// Load reads the current Document. A resource that was never written loads
// as an empty Document.
func (s *DocumentStore) Load(ctx context.Context) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// Save fully replaces the persisted Document.
func (s *DocumentStore) Save(ctx context.Context, doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(ctx, doc)
}

// Update runs fn on a freshly loaded Document and persists the result.
// The store lock is held for the whole cycle, so concurrent updates never
// overwrite each other. If fn returns an error nothing is written.
// Once fn succeeds the save runs to completion even if ctx is cancelled.
func (s *DocumentStore) Update(ctx context.Context, fn func(doc *Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx)
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	return s.save(context.WithoutCancel(ctx), doc)
}

// View runs fn on a freshly loaded Document under the store lock.
// Changes made by fn are discarded.
func (s *DocumentStore) View(ctx context.Context, fn func(doc *Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx)
	if err != nil {
		return err
	}
	return fn(doc)
}

func (s *DocumentStore) load(ctx context.Context) (*Document, error) {
	data, err := s.backend.Read(ctx, s.key)
	if err != nil {
		if errors.Is(err, ErrNotExist) {
			return &Document{}, nil
		}
		obs.From(ctx).With("pkg", "store").Error("document_read_failed", "key", s.key, "error", err)
		return nil, fmt.Errorf("%w: read %s: %w", ErrStoreUnavailable, s.key, err)
	}

	var accounts []Account
	if len(data) > 0 {
		if err := json.Unmarshal(data, &accounts); err != nil {
			obs.From(ctx).With("pkg", "store").Error("document_parse_failed", "key", s.key, "error", err)
			return nil, fmt.Errorf("%w: parse %s: %w", ErrStoreUnavailable, s.key, err)
		}
	}
	for i := range accounts {
		if accounts[i].Notes == nil {
			accounts[i].Notes = []Note{}
		}
	}
	return &Document{Accounts: accounts}, nil
}

func (s *DocumentStore) save(ctx context.Context, doc *Document) error {
	accounts := doc.Accounts
	if accounts == nil {
		accounts = []Account{}
	}
	data, err := json.MarshalIndent(accounts, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", ErrStoreUnavailable, s.key, err)
	}
	if err := s.backend.Write(ctx, s.key, data); err != nil {
		obs.From(ctx).With("pkg", "store").Error("document_write_failed", "key", s.key, "error", err)
		return fmt.Errorf("%w: write %s: %w", ErrStoreUnavailable, s.key, err)
	}
	return nil
}
