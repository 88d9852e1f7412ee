// Package artifacts uploads rendered exports to S3-compatible storage.
package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"grantsmith/api/internal/export"
)

const presignExpiry = 15 * time.Minute

var ErrMissingETag = errors.New("export result has no etag")

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Artifact describes one stored export.
type Artifact struct {
	Bucket   string `json:"bucket"`
	Key      string `json:"key"`
	Size     int64  `json:"size"`
	URL      string `json:"url,omitempty"`
	Existing bool   `json:"existing"`
}

type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to the endpoint and creates the bucket if needed.
func NewMinioStore(ctx context.Context, cfg Config) (*MinioStore, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" || strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("minio endpoint and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
		log.Printf("artifacts: created bucket %s", cfg.Bucket)
	}
	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

// ObjectKey is proposals/<id>/<etag>.<ext>, so identical content for the
// same format always lands on the same object.
func ObjectKey(proposalID string, result *export.Result) (string, error) {
	if result == nil || result.ETag == "" {
		return "", ErrMissingETag
	}
	ext := strings.TrimPrefix(path.Ext(result.Filename), ".")
	if ext == "" {
		ext = "bin"
	}
	return fmt.Sprintf("proposals/%s/%s.%s", proposalID, result.ETag, ext), nil
}

// Upload stores result unless an object with the same key already exists,
// and returns a presigned download URL.
func (s *MinioStore) Upload(ctx context.Context, proposalID string, result *export.Result) (Artifact, error) {
	key, err := ObjectKey(proposalID, result)
	if err != nil {
		return Artifact{}, err
	}
	artifact := Artifact{Bucket: s.bucket, Key: key, Size: int64(len(result.Data))}

	if info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err == nil {
		artifact.Existing = true
		artifact.Size = info.Size
	} else {
		_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(result.Data), int64(len(result.Data)), minio.PutObjectOptions{
			ContentType:        result.MimeType,
			ContentDisposition: fmt.Sprintf("attachment; filename=%q", result.Filename),
		})
		if err != nil {
			return Artifact{}, fmt.Errorf("upload %s: %w", key, err)
		}
	}

	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, presignExpiry, nil)
	if err != nil {
		log.Printf("artifacts: presign %s: %v", key, err)
		return artifact, nil
	}
	artifact.URL = u.String()
	return artifact, nil
}
