package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/kuitang/notevault/internal/obs"
)

// RevocationStore persists the set of revoked access tokens.
// Tokens are stored as SHA-256 hashes; membership is by exact token string.
// Entries are never pruned.
type RevocationStore struct {
	backend Backend
	key     string
	mu      sync.Mutex
}

// NewRevocationStore creates a store for the revoked-token resource on backend.
func NewRevocationStore(backend Backend) *RevocationStore {
	return &RevocationStore{backend: backend, key: RevocationKey}
}

// Contains reports whether token has been revoked.
func (r *RevocationStore) Contains(ctx context.Context, token string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, err := r.load(ctx)
	if err != nil {
		return false, err
	}
	_, ok := set[hashToken(token)]
	return ok, nil
}

// Add revokes token. Adding an already revoked token is a no-op.
func (r *RevocationStore) Add(ctx context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, err := r.load(ctx)
	if err != nil {
		return err
	}
	h := hashToken(token)
	if _, ok := set[h]; ok {
		return nil
	}
	set[h] = struct{}{}
	return r.save(context.WithoutCancel(ctx), set)
}

// Len returns the number of revoked tokens.
func (r *RevocationStore) Len(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, err := r.load(ctx)
	if err != nil {
		return 0, err
	}
	return len(set), nil
}

func (r *RevocationStore) load(ctx context.Context) (map[string]struct{}, error) {
	set := make(map[string]struct{})
	data, err := r.backend.Read(ctx, r.key)
	if err != nil {
		if errors.Is(err, ErrNotExist) {
			return set, nil
		}
		obs.From(ctx).With("pkg", "store").Error("revocations_read_failed", "key", r.key, "error", err)
		return nil, fmt.Errorf("%w: read %s: %w", ErrStoreUnavailable, r.key, err)
	}
	if len(data) == 0 {
		return set, nil
	}

	var hashes []string
	if err := json.Unmarshal(data, &hashes); err != nil {
		obs.From(ctx).With("pkg", "store").Error("revocations_parse_failed", "key", r.key, "error", err)
		return nil, fmt.Errorf("%w: parse %s: %w", ErrStoreUnavailable, r.key, err)
	}
	for _, h := range hashes {
		set[h] = struct{}{}
	}
	return set, nil
}

func (r *RevocationStore) save(ctx context.Context, set map[string]struct{}) error {
	hashes := make([]string, 0, len(set))
	for h := range set {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)

	data, err := json.MarshalIndent(hashes, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", ErrStoreUnavailable, r.key, err)
	}
	if err := r.backend.Write(ctx, r.key, data); err != nil {
		obs.From(ctx).With("pkg", "store").Error("revocations_write_failed", "key", r.key, "error", err)
		return fmt.Errorf("%w: write %s: %w", ErrStoreUnavailable, r.key, err)
	}
	return nil
}

// hashToken hashes a token with SHA-256. The token is the secret; the hash is stored.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
