package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/Azure/azure-storage-blob-go/azblob"

	apperrors "clinic-backup-sync/internal/errors"
)

const (
	azureUploadBufferSize = 4 * 1024 * 1024
	azureUploadMaxBuffers = 4
)

// AzureStore replicates into an Azure Blob Storage container
type AzureStore struct {
	containerURL  azblob.ContainerURL
	accountName   string
	containerName string
}

// NewAzureStore creates a container client using a shared key credential
func NewAzureStore(config *AzureConfig) (*AzureStore, error) {
	if config == nil {
		return nil, apperrors.NewConfigurationError("Azure storage configuration is required", nil)
	}
	if err := config.Validate(); err != nil {
		return nil, apperrors.NewConfigurationError("invalid Azure storage configuration", err)
	}

	credential, err := azblob.NewSharedKeyCredential(config.AccountName, config.AccountKey)
	if err != nil {
		return nil, apperrors.NewConfigurationError("failed to create Azure credentials", err)
	}

	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})

	endpoint := config.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net", config.AccountName)
	}
	serviceURL, err := url.Parse(strings.TrimRight(endpoint, "/"))
	if err != nil {
		return nil, apperrors.NewConfigurationError("failed to parse Azure service URL", err)
	}

	return &AzureStore{
		containerURL:  azblob.NewServiceURL(*serviceURL, pipeline).NewContainerURL(config.ContainerName),
		accountName:   config.AccountName,
		containerName: config.ContainerName,
	}, nil
}

// List walks the flat blob listing below prefix
func (az *AzureStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo

	for marker := (azblob.Marker{}); marker.NotDone(); {
		listResponse, err := az.containerURL.ListBlobsFlatSegment(ctx, marker, azblob.ListBlobsSegmentOptions{
			Prefix: prefix,
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, apperrors.NewCancelledError("listing canceled", ctxErr)
			}
			return nil, apperrors.NewStorageError(fmt.Sprintf("failed to list %s/%s", az.Describe(), prefix), err)
		}

		for _, blob := range listResponse.Segment.BlobItems {
			info := ObjectInfo{
				Key:          blob.Name,
				LastModified: blob.Properties.LastModified,
			}
			if blob.Properties.ContentLength != nil {
				info.Size = *blob.Properties.ContentLength
			}
			objects = append(objects, info)
		}

		marker = listResponse.NextMarker
	}

	return objects, nil
}

// Put uploads the body as a block blob in buffered chunks
func (az *AzureStore) Put(ctx context.Context, key string, body io.Reader, size int64, meta map[string]string) error {
	blobURL := az.containerURL.NewBlockBlobURL(key)

	_, err := azblob.UploadStreamToBlockBlob(ctx, body, blobURL, azblob.UploadStreamToBlockBlobOptions{
		BufferSize: azureUploadBufferSize,
		MaxBuffers: azureUploadMaxBuffers,
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{
			ContentType: "application/octet-stream",
		},
		Metadata: azblob.Metadata(meta),
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return apperrors.NewCancelledError("upload canceled", ctxErr)
		}
		return apperrors.NewStorageError(fmt.Sprintf("failed to upload %s/%s", az.Describe(), key), err).
			WithContext("size", size)
	}
	return nil
}

// HealthCheck verifies the container exists and blobs can be listed
func (az *AzureStore) HealthCheck(ctx context.Context) error {
	if _, err := az.containerURL.GetProperties(ctx, azblob.LeaseAccessConditions{}); err != nil {
		return apperrors.NewStorageError("Azure health check failed: container not accessible", err)
	}

	_, err := az.containerURL.ListBlobsFlatSegment(ctx, azblob.Marker{}, azblob.ListBlobsSegmentOptions{
		MaxResults: 1,
	})
	if err != nil {
		return apperrors.NewStorageError("Azure health check failed: cannot list blobs", err)
	}
	return nil
}

// Describe returns the target location
func (az *AzureStore) Describe() string {
	return fmt.Sprintf("azure://%s/%s", az.accountName, az.containerName)
}
