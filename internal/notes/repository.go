// Package notes implements per-account note storage with integrity stamping.
package notes

import (
	"context"
	"strings"
	"time"

	"github.com/kuitang/notevault/internal/audit"
	"github.com/kuitang/notevault/internal/errs"
	"github.com/kuitang/notevault/internal/integrity"
	"github.com/kuitang/notevault/internal/logutil"
	"github.com/kuitang/notevault/internal/obs"
	"github.com/kuitang/notevault/internal/store"
)

var (
	ErrNoteNotFound  = errs.New(errs.NotFound, "note not found")
	ErrTitleRequired = errs.New(errs.InvalidArgument, "title is required")
	ErrUserNotFound  = store.ErrUserNotFound
)

// maxTitleInAudit bounds how much of a title is copied into audit outcomes.
const maxTitleInAudit = 128

// Repository runs note operations as single Document Store cycles.
type Repository struct {
	store *store.DocumentStore
	audit *audit.Logger
	quota int64
	now   func() time.Time
}

// NewRepository creates a repository. quotaBytes <= 0 disables the per-account quota.
func NewRepository(docs *store.DocumentStore, auditLog *audit.Logger, quotaBytes int64) *Repository {
	return &Repository{
		store: docs,
		audit: auditLog,
		quota: quotaBytes,
		now:   time.Now,
	}
}

// WithClock returns a copy of r that timestamps notes with now.
func (r *Repository) WithClock(now func() time.Time) *Repository {
	cp := *r
	cp.now = now
	return &cp
}

// Create appends a note to username's account. Duplicate titles are allowed.
func (r *Repository) Create(ctx context.Context, username, title, content string) (*Note, error) {
	actor := actorFor(ctx, username)
	if strings.TrimSpace(title) == "" {
		r.audit.Logf(ctx, actor, audit.ActionNoteCreate, "failure: owner=%s: %s", username, ErrTitleRequired.Error())
		return nil, ErrTitleRequired
	}

	var created store.Note
	err := r.store.Update(ctx, func(doc *store.Document) error {
		acct, _ := doc.FindAccount(username)
		if acct == nil {
			return ErrUserNotFound
		}
		if err := CheckStorageLimit(r.quota, AccountUsage(acct), NoteSize(title, content)); err != nil {
			return err
		}
		created = store.Note{
			Title:    title,
			Content:  content,
			Checksum: integrity.Fingerprint(content),
			Date:     r.now().UTC(),
		}
		acct.Notes = append(acct.Notes, created)
		return nil
	})
	if err != nil {
		r.audit.Logf(ctx, actor, audit.ActionNoteCreate, "failure: owner=%s title=%s: %s", username, auditTitle(title), errs.MessageOf(err))
		return nil, err
	}

	r.audit.Logf(ctx, actor, audit.ActionNoteCreate, "success: owner=%s title=%s", username, auditTitle(title))
	view := viewOf(created)
	return &view, nil
}

// Read returns notes at the level selected by q. Every returned note is
// verified; tampered notes are still returned, with Intact=false, and each
// one is audited.
func (r *Repository) Read(ctx context.Context, q Query) (*ReadResult, error) {
	actor := actorFor(ctx, q.Username)
	var result ReadResult

	err := r.store.View(ctx, func(doc *store.Document) error {
		if q.Username == "" {
			result.Accounts = make([]AccountNotes, 0, len(doc.Accounts))
			for i := range doc.Accounts {
				acct := &doc.Accounts[i]
				result.Accounts = append(result.Accounts, AccountNotes{
					Username: acct.Username,
					Role:     acct.Role,
					Notes:    r.verifyNotes(ctx, actor, acct),
				})
			}
			return nil
		}

		acct, _ := doc.FindAccount(q.Username)
		if acct == nil {
			return ErrUserNotFound
		}
		if q.Title == "" {
			result.Notes = r.verifyNotes(ctx, actor, acct)
			return nil
		}

		i := acct.NoteIndex(q.Title)
		if i < 0 {
			return ErrNoteNotFound
		}
		view := r.verifyNote(ctx, actor, acct.Username, acct.Notes[i])
		result.Note = &view
		return nil
	})
	if err != nil {
		r.audit.Logf(ctx, actor, audit.ActionNoteRead, "failure: %s: %s", describeQuery(q), errs.MessageOf(err))
		return nil, err
	}

	r.audit.Logf(ctx, actor, audit.ActionNoteRead, "success: %s", describeQuery(q))
	return &result, nil
}

// Update replaces a note's content, checksum and date. Nothing is created
// when the account or note is missing.
func (r *Repository) Update(ctx context.Context, username, title, newContent string) (*Note, error) {
	actor := actorFor(ctx, username)
	var updated store.Note
	err := r.store.Update(ctx, func(doc *store.Document) error {
		acct, _ := doc.FindAccount(username)
		if acct == nil {
			return ErrUserNotFound
		}
		i := acct.NoteIndex(title)
		if i < 0 {
			return ErrNoteNotFound
		}
		old := acct.Notes[i]
		if err := CheckStorageLimitForUpdate(r.quota, AccountUsage(acct), NoteSize(old.Title, old.Content), NoteSize(title, newContent)); err != nil {
			return err
		}
		acct.Notes[i].Content = newContent
		acct.Notes[i].Checksum = integrity.Fingerprint(newContent)
		acct.Notes[i].Date = r.now().UTC()
		updated = acct.Notes[i]
		return nil
	})
	if err != nil {
		r.audit.Logf(ctx, actor, audit.ActionNoteUpdate, "failure: owner=%s title=%s: %s", username, auditTitle(title), errs.MessageOf(err))
		return nil, err
	}

	r.audit.Logf(ctx, actor, audit.ActionNoteUpdate, "success: owner=%s title=%s", username, auditTitle(title))
	view := viewOf(updated)
	return &view, nil
}

// Delete removes the first note titled title.
func (r *Repository) Delete(ctx context.Context, username, title string) error {
	actor := actorFor(ctx, username)
	err := r.store.Update(ctx, func(doc *store.Document) error {
		acct, _ := doc.FindAccount(username)
		if acct == nil {
			return ErrUserNotFound
		}
		i := acct.NoteIndex(title)
		if i < 0 {
			return ErrNoteNotFound
		}
		acct.Notes = append(acct.Notes[:i], acct.Notes[i+1:]...)
		return nil
	})
	if err != nil {
		r.audit.Logf(ctx, actor, audit.ActionNoteDelete, "failure: owner=%s title=%s: %s", username, auditTitle(title), errs.MessageOf(err))
		return err
	}

	r.audit.Logf(ctx, actor, audit.ActionNoteDelete, "success: owner=%s title=%s", username, auditTitle(title))
	return nil
}

// VerifyAll recomputes every note's fingerprint and lists the tampered ones.
func (r *Repository) VerifyAll(ctx context.Context) (*IntegrityReport, error) {
	actor := actorFor(ctx, audit.ActorSystem)
	report := &IntegrityReport{
		CheckedAt: r.now().UTC(),
		Tampered:  []Tampered{},
	}
	err := r.store.View(ctx, func(doc *store.Document) error {
		report.AccountCount = len(doc.Accounts)
		for _, acct := range doc.Accounts {
			for _, n := range acct.Notes {
				report.NoteCount++
				if integrity.Verify(n.Content, n.Checksum) {
					continue
				}
				report.Tampered = append(report.Tampered, Tampered{
					Username: acct.Username,
					Title:    n.Title,
					Checksum: n.Checksum,
					Actual:   integrity.Fingerprint(n.Content),
				})
			}
		}
		return nil
	})
	if err != nil {
		r.audit.Logf(ctx, actor, audit.ActionAdminVerifyIntegrity, "failure: %s", errs.MessageOf(err))
		return nil, err
	}

	for _, t := range report.Tampered {
		r.audit.Logf(ctx, actor, audit.ActionIntegrityMismatch, "owner=%s title=%s", t.Username, auditTitle(t.Title))
	}
	r.audit.Logf(ctx, actor, audit.ActionAdminVerifyIntegrity, "success: accounts=%d notes=%d tampered=%d",
		report.AccountCount, report.NoteCount, len(report.Tampered))
	return report, nil
}

func (r *Repository) verifyNotes(ctx context.Context, actor string, acct *store.Account) []Note {
	out := make([]Note, 0, len(acct.Notes))
	for _, n := range acct.Notes {
		out = append(out, r.verifyNote(ctx, actor, acct.Username, n))
	}
	return out
}

func (r *Repository) verifyNote(ctx context.Context, actor, owner string, n store.Note) Note {
	view := viewOf(n)
	if !view.Intact {
		obs.From(ctx).With("pkg", "notes").Warn("integrity_mismatch", "owner", owner, "title", auditTitle(n.Title))
		r.audit.Logf(ctx, actor, audit.ActionIntegrityMismatch, "owner=%s title=%s", owner, auditTitle(n.Title))
	}
	return view
}

// actorFor returns the authenticated actor on ctx, falling back to the note owner.
func actorFor(ctx context.Context, owner string) string {
	if actor := obs.ActorFromContext(ctx); actor != "" {
		return actor
	}
	if owner == "" {
		return audit.ActorAnonymous
	}
	return owner
}

func auditTitle(title string) string {
	return logutil.TruncateForLog(title, maxTitleInAudit)
}

func describeQuery(q Query) string {
	switch {
	case q.Username == "":
		return "scope=all"
	case q.Title == "":
		return "owner=" + q.Username
	default:
		return "owner=" + q.Username + " title=" + auditTitle(q.Title)
	}
}
