package notes

import (
	"time"

	"github.com/kuitang/notevault/internal/integrity"
	"github.com/kuitang/notevault/internal/store"
)

// Note is a note as returned to callers. Intact is false when the stored
// content no longer matches its checksum.
type Note struct {
	Title    string           `json:"title"`
	Content  string           `json:"content"`
	Checksum integrity.Digest `json:"checksum"`
	Date     time.Time        `json:"date"`
	Intact   bool             `json:"intact"`
}

// Query selects what Read returns.
//
//   - Username empty: every account with its notes
//   - Username set, Title empty: that account's notes
//   - Username and Title set: the first note with that title
type Query struct {
	Username string
	Title    string
}

// AccountNotes is one account's notes without its password hash.
type AccountNotes struct {
	Username string     `json:"username"`
	Role     store.Role `json:"role"`
	Notes    []Note     `json:"notes"`
}

// ReadResult holds exactly one populated field, matching the Query level.
type ReadResult struct {
	Accounts []AccountNotes `json:"accounts,omitempty"`
	Notes    []Note         `json:"notes,omitempty"`
	Note     *Note          `json:"note,omitempty"`
}

// Tampered identifies a note whose content fails its checksum.
type Tampered struct {
	Username string           `json:"username"`
	Title    string           `json:"title"`
	Checksum integrity.Digest `json:"checksum"`
	Actual   integrity.Digest `json:"actual"`
}

// IntegrityReport is the result of VerifyAll.
type IntegrityReport struct {
	CheckedAt    time.Time  `json:"checked_at"`
	AccountCount int        `json:"account_count"`
	NoteCount    int        `json:"note_count"`
	Tampered     []Tampered `json:"tampered"`
}

// Intact reports whether no tampered notes were found.
func (r *IntegrityReport) Intact() bool {
	return len(r.Tampered) == 0
}

func viewOf(n store.Note) Note {
	return Note{
		Title:    n.Title,
		Content:  n.Content,
		Checksum: n.Checksum,
		Date:     n.Date,
		Intact:   integrity.Verify(n.Content, n.Checksum),
	}
}
