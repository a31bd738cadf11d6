package migrate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/stratumdb/stratum/internal/errors"
	"github.com/stratumdb/stratum/internal/storage"
)

var fileNameRE = regexp.MustCompile(`^(\d{3})_([a-z][a-z0-9_]*)\.sql$`)

const (
	upMarker   = "-- migrate:up"
	downMarker = "-- migrate:down"
)

// Discover lists the namespace's migration files from the source,
// parses them, and returns them sorted by version. Version numbers
// must start at 1 and be consecutive with no duplicates.
func Discover(ctx context.Context, source storage.MigrationSource, namespace string) ([]Migration, error) {
	files, err := source.List(ctx, namespace)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCategoryMigration, errors.CodeDatabaseError,
			fmt.Sprintf("failed to list migrations for namespace %q", namespace), err)
	}

	migrations := make([]Migration, 0, len(files))
	for _, file := range files {
		m, err := parseFile(namespace, file)
		if err != nil {
			return nil, err
		}
		migrations = append(migrations, m)
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	for i, m := range migrations {
		want := i + 1
		if m.Version != want {
			if i > 0 && m.Version == migrations[i-1].Version {
				return nil, errors.New(errors.ErrCategoryMigration, errors.CodeValidationError,
					fmt.Sprintf("duplicate migration version %03d in namespace %q", m.Version, namespace))
			}
			return nil, errors.New(errors.ErrCategoryMigration, errors.CodeValidationError,
				fmt.Sprintf("migration versions must be consecutive from 001: expected %03d, found %03d", want, m.Version))
		}
	}

	return migrations, nil
}

func parseFile(namespace string, file storage.MigrationFile) (Migration, error) {
	match := fileNameRE.FindStringSubmatch(file.Name)
	if match == nil {
		return Migration{}, errors.New(errors.ErrCategoryMigration, errors.CodeValidationError,
			fmt.Sprintf("invalid migration file name %q: want NNN_description.sql", file.Name))
	}

	version, err := strconv.Atoi(match[1])
	if err != nil || version == 0 {
		return Migration{}, errors.New(errors.ErrCategoryMigration, errors.CodeValidationError,
			fmt.Sprintf("invalid migration version in %q", file.Name))
	}

	up, down, err := splitSections(string(file.Data))
	if err != nil {
		return Migration{}, errors.New(errors.ErrCategoryMigration, errors.CodeValidationError,
			fmt.Sprintf("%s: %v", file.Name, err))
	}

	sum := sha256.Sum256(file.Data)

	return Migration{
		Namespace: namespace,
		Version:   version,
		Name:      match[2],
		UpSQL:     up,
		DownSQL:   down,
		Checksum:  hex.EncodeToString(sum[:]),
	}, nil
}

// splitSections extracts the up and down SQL from a migration body.
// The up marker must come before the down marker; each appears once.
func splitSections(body string) (up, down string, err error) {
	upIdx := strings.Index(body, upMarker)
	downIdx := strings.Index(body, downMarker)

	if upIdx < 0 {
		return "", "", fmt.Errorf("missing %q marker", upMarker)
	}
	if downIdx < 0 {
		return "", "", fmt.Errorf("missing %q marker", downMarker)
	}
	if downIdx < upIdx {
		return "", "", fmt.Errorf("%q marker must come before %q", upMarker, downMarker)
	}
	if strings.Contains(body[upIdx+len(upMarker):], upMarker) {
		return "", "", fmt.Errorf("duplicate %q marker", upMarker)
	}
	if strings.Contains(body[downIdx+len(downMarker):], downMarker) {
		return "", "", fmt.Errorf("duplicate %q marker", downMarker)
	}

	up = strings.TrimSpace(body[upIdx+len(upMarker) : downIdx])
	down = strings.TrimSpace(body[downIdx+len(downMarker):])
	return up, down, nil
}

// Statements splits a SQL section into individual statements on
// semicolons. Good enough for migration DDL; string literals holding
// semicolons are not supported in migration files.
func Statements(sqlText string) []string {
	parts := strings.Split(sqlText, ";")
	stmts := make([]string, 0, len(parts))
	for _, part := range parts {
		stmt := strings.TrimSpace(part)
		if stmt == "" {
			continue
		}
		stmts = append(stmts, stmt)
	}
	return stmts
}
