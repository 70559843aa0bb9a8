package notes

import (
	"fmt"

	"github.com/kuitang/notevault/internal/errs"
	"github.com/kuitang/notevault/internal/store"
)

// DefaultQuotaBytes is the default per-account storage quota (10 MiB).
const DefaultQuotaBytes int64 = 10 * 1024 * 1024

// ErrStorageLimitExceeded is returned when a write would push an account over its quota.
var ErrStorageLimitExceeded = errs.New(errs.InvalidArgument, "storage limit exceeded")

// NoteSize is the number of bytes a note counts against the quota.
func NoteSize(title, content string) int64 {
	return int64(len(title) + len(content))
}

// AccountUsage returns the bytes used by all of an account's notes.
func AccountUsage(acct *store.Account) int64 {
	var total int64
	for _, n := range acct.Notes {
		total += NoteSize(n.Title, n.Content)
	}
	return total
}

// CheckStorageLimit checks if adding newContentSize bytes to currentSize
// would exceed limitBytes. A limit of zero or less disables the check.
func CheckStorageLimit(limitBytes, currentSize, newContentSize int64) error {
	if limitBytes <= 0 {
		return nil
	}
	if currentSize+newContentSize > limitBytes {
		return fmt.Errorf("%w (current: %d bytes, new: %d bytes, limit: %d bytes)",
			ErrStorageLimitExceeded, currentSize, newContentSize, limitBytes)
	}
	return nil
}

// CheckStorageLimitForUpdate checks if replacing oldContentSize bytes with
// newContentSize bytes would exceed the limit. Shrinking is always allowed.
func CheckStorageLimitForUpdate(limitBytes, currentTotalSize, oldContentSize, newContentSize int64) error {
	delta := newContentSize - oldContentSize
	if delta <= 0 {
		return nil
	}
	return CheckStorageLimit(limitBytes, currentTotalSize, delta)
}
