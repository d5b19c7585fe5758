package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/Namann-14/artifex/internal/infra"
)

// ErrMissingPublicURL is returned by NewMinioStore without a public base URL.
var ErrMissingPublicURL = errors.New("storage: minio public url is required")

// MinioOptions configures the S3-compatible backend.
type MinioOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicURL is the public base of the bucket. Durable URLs end up in
	// history, so they must not expire.
	PublicURL string
	Logger    *infra.Logger
}

// MinioStore writes objects into a single bucket.
type MinioStore struct {
	client    *minio.Client
	bucket    string
	publicURL string
	logger    *infra.Logger
}

// NewMinioStore connects and makes sure the bucket exists.
func NewMinioStore(ctx context.Context, opts MinioOptions) (*MinioStore, error) {
	if strings.TrimSpace(opts.PublicURL) == "" {
		return nil, ErrMissingPublicURL
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		nop := infra.NopLogger()
		logger = &nop
	}
	store := &MinioStore{
		client:    client,
		bucket:    opts.Bucket,
		publicURL: strings.TrimRight(opts.PublicURL, "/"),
		logger:    logger,
	}
	if err := store.ensureBucketExists(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure bucket %s exists: %w", opts.Bucket, err)
	}
	return store, nil
}

func (s *MinioStore) ensureBucketExists(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check if bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	s.logger.Info().Str("bucket", s.bucket).Msg("storage: created bucket")
	return nil
}

// Put uploads data and returns a URL for it.
func (s *MinioStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	info, err := s.client.PutObject(ctx, s.bucket, cleanKey, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload file: %w", err)
	}
	s.logger.Debug().
		Str("bucket", s.bucket).
		Str("key", cleanKey).
		Int64("size", info.Size).
		Msg("storage: object uploaded")

	return objectURL(s.publicURL, s.bucket, cleanKey), nil
}

func objectURL(base, bucket, key string) string {
	return strings.TrimRight(base, "/") + "/" + bucket + "/" + strings.TrimLeft(key, "/")
}

var _ ObjectStore = (*MinioStore)(nil)
