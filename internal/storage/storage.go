// Package storage provides the object storage abstractions used by the
// migration engine (reading versioned migration files per namespace)
// and the backup engine (writing compressed namespace dumps).
// Implementations cover the local filesystem and S3.
package storage

import (
	"context"
	"errors"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrUploadFailed   = errors.New("upload failed")
	ErrDownloadFailed = errors.New("download failed")
)

// MigrationFile is one migration file as found in the source.
type MigrationFile struct {
	// Name is the bare file name, e.g. 001_create_users.sql.
	Name string
	// Data is the raw file content; checksums cover these exact bytes.
	Data []byte
}

// MigrationSource lists and reads a namespace's migration files.
// A namespace with no migrations yields an empty list, not an error.
type MigrationSource interface {
	List(ctx context.Context, namespace string) ([]MigrationFile, error)
}

// BackupSink receives backup objects. objectPath is a /-separated key
// relative to the sink's root.
type BackupSink interface {
	Put(ctx context.Context, objectPath string, data []byte) error
}
