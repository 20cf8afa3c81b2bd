package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/jobrunner/tilemerge/internal/domain"
)

// MinIOStorage implements ObjectStorage for MinIO and other S3-compatible
// object stores.
type MinIOStorage struct {
	client *minio.Client
	bucket string
	prefix string
}

// MinIOConfig holds MinIO configuration.
type MinIOConfig struct {
	Endpoint        string // host:port, without scheme
	Bucket          string
	Prefix          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
}

// NewMinIOStorage creates a new MinIO storage adapter.
func NewMinIOStorage(cfg MinIOConfig) (*MinIOStorage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, err
	}

	return &MinIOStorage{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// List returns the objects under prefix.
func (s *MinIOStorage) List(ctx context.Context, prefix string, recursive bool) ([]domain.RemoteObject, error) {
	var objects []domain.RemoteObject

	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    joinKey(s.prefix, prefix),
		Recursive: recursive,
	}) {
		if obj.Err != nil {
			return nil, &domain.StorageError{Operation: "list", Key: prefix, Err: mapMinIOError(obj.Err)}
		}

		key := relativeKey(s.prefix, obj.Key)
		if !inListing(key, prefix, recursive) {
			continue
		}

		objects = append(objects, domain.RemoteObject{
			Key:          key,
			Size:         obj.Size,
			LastModified: obj.LastModified.Unix(),
			ETag:         strings.Trim(obj.ETag, "\""),
		})
	}

	return objects, nil
}

// Download downloads an object to the local filesystem.
func (s *MinIOStorage) Download(ctx context.Context, key string, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0750); err != nil {
		return err
	}

	err := s.client.FGetObject(ctx, s.bucket, joinKey(s.prefix, key), dest, minio.GetObjectOptions{})
	if err != nil {
		return &domain.StorageError{Operation: "download", Key: key, Err: mapMinIOError(err)}
	}
	return nil
}

// mapMinIOError maps MinIO error responses onto domain errors.
func mapMinIOError(err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return fmt.Errorf("%w: %v", domain.ErrObjectNotFound, err)
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	default:
		return err
	}
}
