package s3client

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
)

// NewFake starts an in-memory gofakes3 server for the life of t, creates
// bucket on it and returns a Client for it with the given key prefix.
func NewFake(t testing.TB, bucket, prefix string) *Client {
	t.Helper()
	srv := httptest.NewServer(gofakes3.New(s3mem.New()).Server())
	t.Cleanup(srv.Close)

	ctx := context.Background()
	c, err := New(ctx, Config{
		Endpoint:        srv.URL,
		Region:          "us-east-1",
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
		BucketName:      bucket,
		Prefix:          prefix,
		UsePathStyle:    true,
	})
	if err != nil {
		t.Fatalf("s3client: %v", err)
	}
	if err := c.createBucket(ctx); err != nil {
		t.Fatalf("s3client: create bucket %q: %v", bucket, err)
	}
	return c
}
