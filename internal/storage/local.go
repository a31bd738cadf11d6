package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LocalSource reads migration files from <dir>/<namespace>/*.sql on
// the local filesystem.
type LocalSource struct {
	dir string
}

// NewLocalSource creates a local migration source rooted at dir.
func NewLocalSource(dir string) *LocalSource {
	return &LocalSource{dir: dir}
}

// List returns the namespace's migration files sorted by name.
// A missing namespace directory means no migrations.
func (l *LocalSource) List(ctx context.Context, namespace string) ([]MigrationFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	nsDir := filepath.Join(l.dir, namespace)
	entries, err := os.ReadDir(nsDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}

	var files []MigrationFile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(nsDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
		}
		files = append(files, MigrationFile{Name: entry.Name(), Data: data})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// LocalSink writes backup objects under a base directory.
type LocalSink struct {
	baseDir string
}

// NewLocalSink creates a local backup sink rooted at baseDir.
func NewLocalSink(baseDir string) (*LocalSink, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	return &LocalSink{baseDir: baseDir}, nil
}

// Put writes data to baseDir/objectPath, creating parent directories.
func (l *LocalSink) Put(ctx context.Context, objectPath string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	destPath := filepath.Join(l.baseDir, filepath.FromSlash(objectPath))
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	if err := os.WriteFile(destPath, data, 0644); err != nil {
		return fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	return nil
}
