package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	apperrors "clinic-backup-sync/internal/errors"
)

// S3Store replicates into an S3 bucket. A custom endpoint turns it into a
// client for any S3-compatible service.
type S3Store struct {
	client   s3iface.S3API
	uploader *s3manager.Uploader
	bucket   string
}

// NewS3Store creates an S3 client from static keys or the default credential chain
func NewS3Store(config *S3Config) (*S3Store, error) {
	if config == nil {
		return nil, apperrors.NewConfigurationError("S3 storage configuration is required", nil)
	}
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, apperrors.NewConfigurationError("invalid S3 storage configuration", err)
	}

	awsConfig := &aws.Config{
		Region: aws.String(config.Region),
	}
	if config.AccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(config.AccessKey, config.SecretKey, "")
	}
	if config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(config.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}
	if config.ForcePathStyle {
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, apperrors.NewStorageError("failed to create AWS session", err)
	}

	client := s3.New(sess)
	return &S3Store{
		client:   client,
		uploader: s3manager.NewUploaderWithClient(client),
		bucket:   config.Bucket,
	}, nil
}

// List pages through ListObjectsV2
func (s *S3Store) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}
	err := s.client.ListObjectsV2PagesWithContext(ctx, input,
		func(page *s3.ListObjectsV2Output, lastPage bool) bool {
			for _, obj := range page.Contents {
				objects = append(objects, ObjectInfo{
					Key:          aws.StringValue(obj.Key),
					Size:         aws.Int64Value(obj.Size),
					LastModified: aws.TimeValue(obj.LastModified),
				})
			}
			return true
		})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, apperrors.NewCancelledError("listing canceled", ctxErr)
		}
		return nil, apperrors.NewStorageError(fmt.Sprintf("failed to list s3://%s/%s", s.bucket, prefix), err)
	}

	return objects, nil
}

// Put streams the body through the multipart-capable uploader
func (s *S3Store) Put(ctx context.Context, key string, body io.Reader, size int64, meta map[string]string) error {
	metadata := make(map[string]*string, len(meta))
	for k, v := range meta {
		metadata[k] = aws.String(v)
	}

	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String("application/octet-stream"),
		Metadata:    metadata,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return apperrors.NewCancelledError("upload canceled", ctxErr)
		}
		return apperrors.NewStorageError(fmt.Sprintf("failed to upload s3://%s/%s", s.bucket, key), err).
			WithContext("size", size)
	}

	return nil
}

// HealthCheck verifies the bucket exists and is accessible
func (s *S3Store) HealthCheck(ctx context.Context) error {
	_, err := s.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return apperrors.NewStorageError("S3 health check failed: bucket not accessible", err)
	}
	return nil
}

// Describe returns the target location
func (s *S3Store) Describe() string {
	return "s3://" + s.bucket
}
