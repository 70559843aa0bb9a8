package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kuitang/notevault/internal/s3client"
)

const (
	// TempFilePrefix is the prefix used for temporary atomic write files.
	TempFilePrefix = "notevault-tmp-"

	// FilePerm is the permission applied to persisted resources.
	FilePerm os.FileMode = 0o600
)

// ErrNotExist is returned by a Backend when the requested resource has never been written.
var ErrNotExist = errors.New("store: resource does not exist")

// Backend reads and replaces whole named resources.
// Write must be all-or-nothing: a concurrent or later Read observes either
// the previous bytes or the new bytes, never a mix.
type Backend interface {
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, data []byte) error
}

// FileBackend stores each resource as a file inside Dir.
type FileBackend struct {
	Dir string
}

// NewFileBackend creates the directory if needed and returns a backend rooted there.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create data directory %s: %w", dir, err)
	}
	return &FileBackend{Dir: dir}, nil
}

func (b *FileBackend) path(key string) string {
	return filepath.Join(b.Dir, filepath.Base(key))
}

func (b *FileBackend) Read(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(b.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotExist
		}
		return nil, err
	}
	return data, nil
}

func (b *FileBackend) Write(_ context.Context, key string, data []byte) error {
	return writeFileAtomic(b.path(key), data, FilePerm)
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it over filename.
func writeFileAtomic(filename string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(filename)

	tmpFile, err := os.CreateTemp(dir, TempFilePrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write to temp file: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Chmod(tmpFile.Name(), perm); err != nil {
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}

	if err := os.Rename(tmpFile.Name(), filename); err != nil {
		return fmt.Errorf("failed to rename temp file to %s: %w", filename, err)
	}

	return nil
}

// S3Backend stores each resource as an object in a bucket.
type S3Backend struct {
	client *s3client.Client
}

// NewS3Backend wraps an s3client.Client.
func NewS3Backend(client *s3client.Client) *S3Backend {
	return &S3Backend{client: client}
}

func (b *S3Backend) Read(ctx context.Context, key string) ([]byte, error) {
	data, err := b.client.GetObject(ctx, key)
	if err != nil {
		if errors.Is(err, s3client.ErrObjectNotFound) {
			return nil, ErrNotExist
		}
		return nil, err
	}
	return data, nil
}

func (b *S3Backend) Write(ctx context.Context, key string, data []byte) error {
	return b.client.PutObject(ctx, key, data, "application/json")
}
