package storage

import (
	"context"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	apperrors "clinic-backup-sync/internal/errors"
)

// GCSStore replicates into a Google Cloud Storage bucket
type GCSStore struct {
	client     *gcs.Client
	bucketName string
}

// NewGCSStore creates a GCS client from a credentials file or application
// default credentials. A custom endpoint (emulator) disables authentication
// unless a credentials file is given.
func NewGCSStore(ctx context.Context, config *GCSConfig) (*GCSStore, error) {
	if config == nil {
		return nil, apperrors.NewConfigurationError("GCS storage configuration is required", nil)
	}
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, apperrors.NewConfigurationError("invalid GCS storage configuration", err)
	}

	var opts []option.ClientOption
	if config.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsPath))
	}
	if config.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(config.Endpoint))
		if config.CredentialsPath == "" {
			opts = append(opts, option.WithoutAuthentication())
		}
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, apperrors.NewStorageError("failed to create GCS client", err)
	}

	return &GCSStore{
		client:     client,
		bucketName: config.Bucket,
	}, nil
}

// List iterates over objects below prefix
func (g *GCSStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo

	it := g.client.Bucket(g.bucketName).Objects(ctx, &gcs.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, apperrors.NewCancelledError("listing canceled", ctxErr)
			}
			return nil, apperrors.NewStorageError(fmt.Sprintf("failed to list gs://%s/%s", g.bucketName, prefix), err)
		}
		objects = append(objects, ObjectInfo{
			Key:          attrs.Name,
			Size:         attrs.Size,
			LastModified: attrs.Updated,
		})
	}

	return objects, nil
}

// Put streams the body into a new object generation
func (g *GCSStore) Put(ctx context.Context, key string, body io.Reader, size int64, meta map[string]string) error {
	writer := g.client.Bucket(g.bucketName).Object(key).NewWriter(ctx)
	writer.ContentType = "application/octet-stream"
	writer.Metadata = meta

	if _, err := io.Copy(writer, body); err != nil {
		writer.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return apperrors.NewCancelledError("upload canceled", ctxErr)
		}
		return apperrors.NewStorageError(fmt.Sprintf("failed to upload gs://%s/%s", g.bucketName, key), err)
	}
	if err := writer.Close(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return apperrors.NewCancelledError("upload canceled", ctxErr)
		}
		return apperrors.NewStorageError(fmt.Sprintf("failed to finalize gs://%s/%s", g.bucketName, key), err).
			WithContext("size", size)
	}
	return nil
}

// HealthCheck verifies the bucket exists and is accessible
func (g *GCSStore) HealthCheck(ctx context.Context) error {
	if _, err := g.client.Bucket(g.bucketName).Attrs(ctx); err != nil {
		return apperrors.NewStorageError("GCS health check failed: bucket not accessible", err)
	}
	return nil
}

// Describe returns the target location
func (g *GCSStore) Describe() string {
	return "gs://" + g.bucketName
}

// Close releases the underlying client
func (g *GCSStore) Close() error {
	return g.client.Close()
}
