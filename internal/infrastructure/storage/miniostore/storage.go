package miniostore

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Storage pushes derived bytes to a MinIO bucket and returns a public URL.
// Transient write conflicts are retried with linear backoff; any other error
// is fatal immediately.
type Storage struct {
	client        *minio.Client
	bucket        string
	publicURL     string
	uploadTimeout time.Duration
	sleep         func(time.Duration)
}

type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool

	// PublicURL overrides the base URL objects resolve under. Empty means
	// scheme://endpoint.
	PublicURL string

	// UploadTimeout bounds a single Upload call including its retries.
	// Zero means the caller's context deadline applies alone.
	UploadTimeout time.Duration
}

func New(opts Options) (*Storage, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client init: %w", err)
	}

	publicURL := strings.TrimRight(opts.PublicURL, "/")
	if publicURL == "" {
		scheme := "http"
		if opts.UseSSL {
			scheme = "https"
		}
		publicURL = fmt.Sprintf("%s://%s", scheme, opts.Endpoint)
	}

	return &Storage{
		client:        client,
		bucket:        opts.Bucket,
		publicURL:     publicURL,
		uploadTimeout: opts.UploadTimeout,
		sleep:         time.Sleep,
	}, nil
}

// EnsureBucket creates the bucket when missing and applies a public-read
// policy so uploaded objects resolve without signed URLs.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
	}

	policy := fmt.Sprintf(`{
	"Version": "2012-10-17",
	"Statement": [{
		"Effect": "Allow",
		"Principal": {"AWS": ["*"]},
		"Action": ["s3:GetObject"],
		"Resource": ["arn:aws:s3:::%s/*"]
	}]
}`, s.bucket)
	if err := s.client.SetBucketPolicy(ctx, s.bucket, policy); err != nil {
		return fmt.Errorf("set bucket policy: %w", err)
	}
	return nil
}

const uploadMaxRetries = 2

func (s *Storage) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if s.uploadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.uploadTimeout)
		defer cancel()
	}

	var lastErr error
	for attempt := 0; attempt <= uploadMaxRetries; attempt++ {
		if attempt > 0 {
			s.sleep(time.Duration(attempt) * time.Second)
		}

		_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
			minio.PutObjectOptions{ContentType: contentType})
		if err == nil {
			return fmt.Sprintf("%s/%s/%s", s.publicURL, s.bucket, key), nil
		}

		if !isTransientWriteConflict(err) {
			return "", fmt.Errorf("put object: %w", err)
		}
		lastErr = err
		slog.Warn("storage_upload_retry", "key", key, "attempt", attempt+1, "error", err)
	}
	return "", fmt.Errorf("put object after retries: %w", lastErr)
}

func isTransientWriteConflict(err error) bool {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "PreconditionFailed", "OperationAborted", "SlowDown":
		return true
	default:
		return false
	}
}
