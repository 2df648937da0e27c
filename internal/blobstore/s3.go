// Package blobstore stores large binary payloads in an S3-compatible object
// store (MinIO, R2, AWS S3). Writes and reads are streamed — no whole-file
// buffering in process memory. Objects are keyed by opaque ids chosen by the
// caller; the store itself assigns no meaning to keys.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ErrNotFound is returned by Get and Stat when no object exists at the key.
// Callers distinguish "never existed / already cleaned up" from I/O failure.
var ErrNotFound = errors.New("blobstore: object not found")

// Options configures a Store.
type Options struct {
	Endpoint  string // empty for AWS; set for MinIO/R2
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

// Store is an S3-backed blob store.
type Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
}

// New builds a Store from static credentials. A non-empty Endpoint switches
// the client to path-style addressing, which MinIO and R2 require.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Bucket == "" {
		return nil, errors.New("blobstore: bucket is required")
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(opts.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			opts.AccessKey, opts.SecretKey, "",
		)))
	if err != nil {
		return nil, fmt.Errorf("blobstore: load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   opts.Bucket,
	}, nil
}

// Put streams r into the store at key and returns the number of bytes
// written. The upload manager splits the stream into multipart chunks, so r
// may be of arbitrary, unknown length.
func (s *Store) Put(ctx context.Context, key, contentType string, r io.Reader) (int64, error) {
	cr := &countingReader{r: r}
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        cr,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return 0, fmt.Errorf("blobstore: put %s: %w", key, err)
	}
	return cr.n, nil
}

// Get opens a read stream for the object at key.
// Returns ErrNotFound when the object does not exist.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("blobstore: get %s: %w", key, err)
	}
	return out.Body, nil
}

// Stat returns the content type and size of the object at key.
// Returns ErrNotFound when the object does not exist.
func (s *Store) Stat(ctx context.Context, key string) (contentType string, size int64, err error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return "", 0, ErrNotFound
		}
		return "", 0, fmt.Errorf("blobstore: stat %s: %w", key, err)
	}
	if out.ContentType != nil {
		contentType = *out.ContentType
	}
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	return contentType, size, nil
}

// Delete removes the object at key. Deleting a missing object succeeds —
// S3 DeleteObject is idempotent and so is this method.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("blobstore: delete %s: %w", key, err)
	}
	return nil
}

// countingReader counts bytes as the uploader consumes them.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
