package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	apperrors "clinic-backup-sync/internal/errors"
)

// MinIOStore replicates into a bucket on a MinIO server
type MinIOStore struct {
	client   *minio.Client
	bucket   string
	endpoint string
	secure   bool
}

// NewMinIOStore creates a MinIO client. The endpoint may be given with or
// without an http:// or https:// scheme; https implies TLS.
func NewMinIOStore(config *MinIOConfig) (*MinIOStore, error) {
	if config == nil {
		return nil, apperrors.NewConfigurationError("MinIO storage configuration is required", nil)
	}
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, apperrors.NewConfigurationError("invalid MinIO storage configuration", err)
	}

	endpoint, secure := normalizeEndpoint(config.Endpoint, config.UseSSL)

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: secure,
		Region: config.Region,
	})
	if err != nil {
		return nil, apperrors.NewStorageError("failed to create MinIO client", err)
	}

	return &MinIOStore{
		client:   client,
		bucket:   config.Bucket,
		endpoint: endpoint,
		secure:   secure,
	}, nil
}

// normalizeEndpoint strips a URL scheme and trailing slash from a MinIO endpoint
func normalizeEndpoint(endpoint string, useSSL bool) (string, bool) {
	endpoint = strings.TrimSpace(endpoint)
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		endpoint = strings.TrimPrefix(endpoint, "https://")
		useSSL = true
	case strings.HasPrefix(endpoint, "http://"):
		endpoint = strings.TrimPrefix(endpoint, "http://")
	}
	return strings.TrimRight(endpoint, "/"), useSSL
}

// List returns all objects below prefix, recursively
func (m *MinIOStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo

	// Canceling stops the listing goroutine when we return early.
	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for obj := range m.client.ListObjects(listCtx, m.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, apperrors.NewCancelledError("listing canceled", ctxErr)
			}
			return nil, apperrors.NewStorageError(fmt.Sprintf("failed to list %s/%s", m.Describe(), prefix), obj.Err)
		}
		objects = append(objects, ObjectInfo{
			Key:          obj.Key,
			Size:         obj.Size,
			LastModified: obj.LastModified,
		})
	}

	return objects, nil
}

// Put uploads the object with user metadata
func (m *MinIOStore) Put(ctx context.Context, key string, body io.Reader, size int64, meta map[string]string) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, body, size, minio.PutObjectOptions{
		ContentType:  "application/octet-stream",
		UserMetadata: meta,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return apperrors.NewCancelledError("upload canceled", ctxErr)
		}
		return apperrors.NewStorageError(fmt.Sprintf("failed to upload %s/%s", m.Describe(), key), err).
			WithContext("size", size)
	}
	return nil
}

// HealthCheck verifies the bucket exists
func (m *MinIOStore) HealthCheck(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return apperrors.NewStorageError("MinIO health check failed: server not reachable", err)
	}
	if !exists {
		return apperrors.NewConfigurationError(fmt.Sprintf("MinIO bucket %s does not exist", m.bucket), nil)
	}
	return nil
}

// Describe returns the target location
func (m *MinIOStore) Describe() string {
	scheme := "http"
	if m.secure {
		scheme = "https"
	}
	return fmt.Sprintf("minio+%s://%s/%s", scheme, m.endpoint, m.bucket)
}
