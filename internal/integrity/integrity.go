// Package integrity computes and verifies content fingerprints for note bodies.
package integrity

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/kuitang/notevault/internal/errs"
)

// DigestLength is the length of a hex-encoded SHA-256 digest.
const DigestLength = sha256.Size * 2

// ErrMismatch is returned by Check when stored content no longer matches its digest.
var ErrMismatch = errs.New(errs.IntegrityMismatch, "content integrity check failed")

// Digest is a lowercase hex SHA-256 fingerprint.
type Digest string

// Fingerprint returns the SHA-256 digest of content.
func Fingerprint(content string) Digest {
	sum := sha256.Sum256([]byte(content))
	return Digest(hex.EncodeToString(sum[:]))
}

// Verify reports whether digest is the fingerprint of content.
func Verify(content string, digest Digest) bool {
	want := strings.ToLower(strings.TrimSpace(string(digest)))
	if len(want) != DigestLength {
		return false
	}
	got := Fingerprint(content)
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// Check is Verify returning ErrMismatch instead of false.
func Check(content string, digest Digest) error {
	if !Verify(content, digest) {
		return ErrMismatch
	}
	return nil
}
