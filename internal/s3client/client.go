// Package s3client stores whole objects in one bucket of an S3-compatible
// service. Every key is namespaced under a fixed prefix.
package s3client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ErrObjectNotFound is returned when a key has no object.
var ErrObjectNotFound = errors.New("s3client: object not found")

// Config holds connection settings. Endpoint may be empty for AWS itself;
// UsePathStyle is needed by most self-hosted services and by gofakes3.
type Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Prefix          string
	UsePathStyle    bool
}

// Client is bound to one bucket and key prefix.
type Client struct {
	api    *s3.Client
	bucket string
	prefix string
}

// New loads the SDK configuration, preferring static credentials when both
// halves are set, and returns a Client for cfg.BucketName.
func New(ctx context.Context, cfg Config) (*Client, error) {
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		static := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
		loadOpts = append(loadOpts, config.WithCredentialsProvider(static))
	}
	sdkConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3client: load aws config: %w", err)
	}

	api := s3.NewFromConfig(sdkConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewFromS3Client(api, cfg.BucketName, cfg.Prefix), nil
}

// NewFromS3Client wraps an already configured SDK client.
func NewFromS3Client(api *s3.Client, bucket, prefix string) *Client {
	return &Client{api: api, bucket: bucket, prefix: prefix}
}

func (c *Client) key(name string) *string {
	return aws.String(c.prefix + name)
}

// CheckBucket confirms the bucket exists and the credentials can reach it.
func (c *Client) CheckBucket(ctx context.Context) error {
	if _, err := c.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)}); err != nil {
		return fmt.Errorf("s3client: bucket %q unreachable: %w", c.bucket, err)
	}
	return nil
}

func (c *Client) createBucket(ctx context.Context) error {
	_, err := c.api.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(c.bucket)})
	return err
}

// PutObject replaces the object at key. A single PUT is atomic: readers
// observe the previous body or the new one, never a mix.
func (c *Client) PutObject(ctx context.Context, key string, body []byte, contentType string) error {
	in := &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           c.key(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(contentType),
	}
	if _, err := c.api.PutObject(ctx, in); err != nil {
		return fmt.Errorf("s3client: put %q: %w", key, err)
	}
	return nil
}

// GetObject returns the body at key, or ErrObjectNotFound.
func (c *Client) GetObject(ctx context.Context, key string) ([]byte, error) {
	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    c.key(key),
	})
	if isNotFound(err) {
		return nil, ErrObjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("s3client: get %q: %w", key, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3client: read %q: %w", key, err)
	}
	return body, nil
}

// DeleteObject removes key. Deleting a missing key succeeds.
func (c *Client) DeleteObject(ctx context.Context, key string) error {
	_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    c.key(key),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("s3client: delete %q: %w", key, err)
	}
	return nil
}

// BucketName returns the bound bucket.
func (c *Client) BucketName() string {
	return c.bucket
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noKey) || errors.As(err, &notFound)
}
