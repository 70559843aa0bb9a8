// Package crypto derives purpose-bound secrets from the service master key.
// Every secret the service needs (access-token signing key, refresh-token
// signing key, audit database key) is derived with HKDF-SHA256 using a
// distinct info string, so no two purposes ever share key material.
package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// MasterKeySize is the size of the decoded master key in bytes (256 bits)
	MasterKeySize = 32

	// DerivedKeySize is the size of every derived key in bytes (256 bits)
	DerivedKeySize = 32
)

// Purposes used as HKDF info prefixes.
const (
	PurposeAccessToken  = "token:access"
	PurposeRefreshToken = "token:refresh"
	PurposeAuditDB      = "audit:db"
)

// ParseMasterKey decodes a 64-character hex master key.
func ParseMasterKey(hexKey string) ([]byte, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("master key is not valid hex: %w", err)
	}
	if len(key) != MasterKeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", MasterKeySize, len(key))
	}
	return key, nil
}

// DeriveKey derives a 32-byte key for purpose from masterKey using HKDF-SHA256.
// info = purpose + ":v" + version
//
// Parameters:
//   - masterKey: The root secret (must be high-entropy, at least 32 bytes recommended)
//   - purpose: One of the Purpose* constants
//   - version: The key version (for rotation support)
func DeriveKey(masterKey []byte, purpose string, version int) []byte {
	info := fmt.Sprintf("%s:v%d", purpose, version)

	// Salt is nil - using a random master key is sufficient for our use case
	hkdfReader := hkdf.New(sha256.New, masterKey, nil, []byte(info))

	key := make([]byte, DerivedKeySize)
	if _, err := io.ReadFull(hkdfReader, key); err != nil {
		// HKDF cannot fail to produce 32 bytes from SHA-256
		panic(fmt.Sprintf("HKDF failed: %v", err))
	}

	return key
}
