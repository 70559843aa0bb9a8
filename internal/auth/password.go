package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	stdtime "time"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"

	"github.com/kuitang/notevault/internal/errs"
	"github.com/kuitang/notevault/internal/obs"
)

// MaxPasswordLength caps the bytes handed to the hasher.
const MaxPasswordLength = 1024

var (
	ErrEmptyPassword   = errs.New(errs.InvalidArgument, "password is required")
	ErrPasswordTooLong = errs.New(errs.InvalidArgument, "password must be at most 1024 bytes")
)

// Argon2id parameters (OWASP second recommendation: m=19456, t=2, p=1).
// Parameters are embedded in each hash string, so hashes made with other
// parameters still verify.
const (
	argon2Time    = 2
	argon2Memory  = 19 * 1024 // ~19 MiB
	argon2Threads = 1
	argon2KeyLen  = 32
	argon2SaltLen = 16
)

// DefaultBcryptCost is the bcrypt cost used when none is configured.
const DefaultBcryptCost = 12

// Hasher names accepted by NewPasswordHasher.
const (
	HasherArgon2 = "argon2"
	HasherBcrypt = "bcrypt"
)

// PasswordHasher turns raw passwords into self-describing hashes and checks them.
type PasswordHasher interface {
	HashPassword(password string) (string, error)
	VerifyPassword(password, encodedHash string) bool
}

// NewPasswordHasher returns the hasher registered under name.
func NewPasswordHasher(name string) (PasswordHasher, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", HasherArgon2:
		return Argon2Hasher{}, nil
	case HasherBcrypt:
		return NewBcryptHasher(DefaultBcryptCost), nil
	default:
		return nil, fmt.Errorf("unknown password hasher %q", name)
	}
}

// ValidatePassword rejects empty and oversized passwords. There is no
// strength rule; any non-empty password is accepted.
func ValidatePassword(password string) error {
	switch {
	case password == "":
		return ErrEmptyPassword
	case len(password) > MaxPasswordLength:
		return ErrPasswordTooLong
	}
	return nil
}

// Argon2Hasher hashes passwords with Argon2id.
type Argon2Hasher struct{}

// HashPassword hashes a password using Argon2id.
func (Argon2Hasher) HashPassword(password string) (string, error) {
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	began := stdtime.Now()
	key := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	obs.Pkg("auth").Debug("password_hashed", "algo", "argon2id", "duration_ms", stdtime.Since(began).Milliseconds())

	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s", argon2Memory, argon2Time, argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt), base64.RawStdEncoding.EncodeToString(key)), nil
}

type argon2Params struct {
	memory  uint32
	passes  uint32
	threads uint8
	salt    []byte
	key     []byte
}

// parseArgon2Hash splits "$argon2id$v=19$m=..,t=..,p=..$salt$key".
func parseArgon2Hash(encoded string) (argon2Params, bool) {
	var p argon2Params
	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" || fields[1] != "argon2id" || fields[2] != "v=19" {
		return p, false
	}
	if _, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &p.memory, &p.passes, &p.threads); err != nil {
		return p, false
	}
	if p.memory == 0 || p.passes == 0 || p.threads == 0 {
		return p, false
	}
	var err error
	if p.salt, err = base64.RawStdEncoding.DecodeString(fields[4]); err != nil {
		return p, false
	}
	if p.key, err = base64.RawStdEncoding.DecodeString(fields[5]); err != nil {
		return p, false
	}
	if len(p.key) == 0 || len(p.key) > 2*argon2KeyLen {
		return p, false
	}
	return p, true
}

// VerifyPassword recomputes the hash with the parameters stored in
// encodedHash and compares in constant time.
func (Argon2Hasher) VerifyPassword(password, encodedHash string) bool {
	p, ok := parseArgon2Hash(encodedHash)
	if !ok {
		return false
	}
	got := argon2.IDKey([]byte(password), p.salt, p.passes, p.memory, p.threads, uint32(len(p.key)))
	return subtle.ConstantTimeCompare(p.key, got) == 1
}

// BcryptHasher hashes passwords with bcrypt.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher creates a bcrypt hasher. Out-of-range costs fall back to DefaultBcryptCost.
func NewBcryptHasher(cost int) BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	return BcryptHasher{cost: cost}
}

func (h BcryptHasher) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", errs.Wrap(errs.InvalidArgument, "password must be at most 72 bytes", err)
		}
		return "", fmt.Errorf("bcrypt hash: %w", err)
	}
	return string(hash), nil
}

func (h BcryptHasher) VerifyPassword(password, encodedHash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password)) == nil
}

// FakeInsecureHasher implements PasswordHasher with zero crypto overhead.
// Stores passwords as "$fake$<plaintext>". For tests only.
type FakeInsecureHasher struct{}

func (FakeInsecureHasher) HashPassword(password string) (string, error) {
	return "$fake$" + password, nil
}

func (FakeInsecureHasher) VerifyPassword(password, encodedHash string) bool {
	plain, ok := strings.CutPrefix(encodedHash, "$fake$")
	return ok && plain == password
}
