// Package output defines the secondary/driven ports of the application.
package output

import (
	"context"

	"github.com/jobrunner/tilemerge/internal/domain"
)

// ObjectStorage defines the secondary port for object storage operations.
type ObjectStorage interface {
	// List returns the objects whose key starts with prefix. When recursive
	// is false only objects directly under prefix are returned.
	List(ctx context.Context, prefix string, recursive bool) ([]domain.RemoteObject, error)

	// Download fetches an object to the local filesystem.
	Download(ctx context.Context, key string, dest string) error
}

// StorageType represents the type of storage backend.
type StorageType string

const (
	StorageTypeMinIO StorageType = "minio"
	StorageTypeS3    StorageType = "s3"
	StorageTypeAzure StorageType = "azure"
	StorageTypeHTTP  StorageType = "http"
	StorageTypeLocal StorageType = "local"
)
