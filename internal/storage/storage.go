// Package storage provides object storage for export archives and
// pre-purge snapshots.
package storage

import (
	"context"

	apperrors "github.com/eventdeck/eventdeck/internal/errors"
)

// ErrObjectNotFound is returned by Get for a missing object.
var ErrObjectNotFound = apperrors.NewNotFoundError(apperrors.CodeObjectNotFound, "object not found")

// ObjectStorage abstracts object storage operations.
// Implementations include S3 and the local filesystem.
type ObjectStorage interface {
	// Put writes data to objectPath, replacing any existing object.
	Put(ctx context.Context, objectPath string, data []byte) error

	// Get reads the object at objectPath.
	Get(ctx context.Context, objectPath string) ([]byte, error)

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, objectPath string) error

	// Exists checks if an object exists in storage.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// List returns all object paths under the given prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

func uploadFailed(objectPath string, err error) error {
	return apperrors.NewStorageError(apperrors.CodeUploadFailed, "put "+objectPath, err)
}

func readFailed(objectPath string, err error) error {
	return apperrors.NewStorageError(apperrors.CodeQueryFailed, "get "+objectPath, err)
}

func deleteFailed(objectPath string, err error) error {
	return apperrors.NewStorageError(apperrors.CodeWriteFailed, "delete "+objectPath, err)
}
