package storage

import (
	"context"
	"fmt"
	"io"

	apperrors "clinic-backup-sync/internal/errors"
)

// NewObjectStore builds the store selected by config.Provider
func NewObjectStore(ctx context.Context, config TargetConfig) (ObjectStore, error) {
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, apperrors.NewConfigurationError("invalid storage target configuration", err)
	}

	switch config.Provider {
	case ProviderLocal:
		return NewLocalStore(config.Local)
	case ProviderS3:
		return NewS3Store(config.S3)
	case ProviderMinIO:
		return NewMinIOStore(config.MinIO)
	case ProviderAzure:
		return NewAzureStore(config.Azure)
	case ProviderGCS:
		return NewGCSStore(ctx, config.GCS)
	default:
		return nil, apperrors.NewConfigurationError(fmt.Sprintf("unsupported storage provider: %s", config.Provider), nil)
	}
}

// CloseStore releases resources held by stores that own a client
func CloseStore(store ObjectStore) error {
	if closer, ok := store.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
