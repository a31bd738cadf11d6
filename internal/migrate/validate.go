package migrate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/stratumdb/stratum/internal/errors"
	"github.com/stratumdb/stratum/pkg/types"
)

// Warning is a non-blocking finding from static migration validation.
type Warning struct {
	Version int    `json:"version"`
	Message string `json:"message"`
}

// Statement shapes SQLite cannot execute natively inside a migration.
// Authors must use the table-recreation pattern instead, so these are
// blocking errors rather than warnings.
var blockedPatterns = []struct {
	re     *regexp.Regexp
	reason string
}{
	{regexp.MustCompile(`(?is)\bALTER\s+TABLE\s+\S+\s+DROP\s+COLUMN\b`),
		"ALTER TABLE DROP COLUMN is not supported by the backend; recreate the table instead"},
	{regexp.MustCompile(`(?is)\bALTER\s+TABLE\s+\S+\s+ALTER\s+COLUMN\b`),
		"ALTER TABLE ALTER COLUMN is not supported by the backend; recreate the table instead"},
	{regexp.MustCompile(`(?is)\bALTER\s+TABLE\s+\S+\s+MODIFY\b`),
		"ALTER TABLE MODIFY is not supported by the backend; recreate the table instead"},
	{regexp.MustCompile(`(?is)\bALTER\s+TABLE\s+\S+\s+ADD\s+CONSTRAINT\b`),
		"ALTER TABLE ADD CONSTRAINT is not supported by the backend; recreate the table instead"},
}

var warnPatterns = []struct {
	re      *regexp.Regexp
	message string
}{
	{regexp.MustCompile(`(?is)\bDROP\s+TABLE\b`), "DROP TABLE is destructive and cannot be undone by rollback"},
	{regexp.MustCompile(`(?is)\bTRUNCATE\b`), "TRUNCATE is destructive and cannot be undone by rollback"},
}

var deleteNoWhereRE = regexp.MustCompile(`(?is)^\s*DELETE\s+FROM\s+\S+\s*$`)

// tableRefRE captures table names referenced by DDL and DML statements.
var tableRefRE = regexp.MustCompile(`(?is)\b(?:CREATE\s+TABLE(?:\s+IF\s+NOT\s+EXISTS)?|ALTER\s+TABLE|DROP\s+TABLE(?:\s+IF\s+EXISTS)?|INSERT\s+INTO|DELETE\s+FROM|UPDATE)\s+["` + "`" + `]?([a-zA-Z_][a-zA-Z0-9_]*)`)

var indexOnRE = regexp.MustCompile(`(?is)\bCREATE\s+(?:UNIQUE\s+)?INDEX\s+\S+\s+ON\s+["` + "`" + `]?([a-zA-Z_][a-zA-Z0-9_]*)`)

// Validate statically inspects a migration's up and down SQL. It
// returns blocking errors for statements the backend cannot execute,
// for tables outside the migration's namespace, and for an empty up
// section; destructive statements come back as warnings.
func Validate(m Migration) ([]Warning, error) {
	if m.UpSQL == "" {
		return nil, errors.New(errors.ErrCategoryMigration, errors.CodeValidationError,
			fmt.Sprintf("migration %03d_%s has an empty up section", m.Version, m.Name))
	}
	if m.DownSQL == "" {
		return nil, errors.New(errors.ErrCategoryMigration, errors.CodeValidationError,
			fmt.Sprintf("migration %03d_%s has an empty down section: every migration must be reversible", m.Version, m.Name))
	}

	var warnings []Warning
	for _, section := range []string{m.UpSQL, m.DownSQL} {
		for _, stmt := range Statements(section) {
			if err := validateStatement(m, stmt); err != nil {
				return nil, err
			}
			warnings = append(warnings, statementWarnings(m.Version, stmt)...)
		}
	}
	return warnings, nil
}

func validateStatement(m Migration, stmt string) error {
	for _, bp := range blockedPatterns {
		if bp.re.MatchString(stmt) {
			return errors.New(errors.ErrCategoryMigration, errors.CodeValidationError,
				fmt.Sprintf("migration %03d_%s: %s", m.Version, m.Name, bp.reason))
		}
	}

	prefix := types.NamespacePrefix(m.Namespace)
	recordsTable := recordsTableName(m.Namespace)
	for _, table := range referencedTables(stmt) {
		if table == recordsTable {
			return errors.New(errors.ErrCategoryMigration, errors.CodeValidationError,
				fmt.Sprintf("migration %03d_%s references the migration records table %q", m.Version, m.Name, table))
		}
		if !strings.HasPrefix(table, prefix) {
			return errors.New(errors.ErrCategoryMigration, errors.CodeValidationError,
				fmt.Sprintf("migration %03d_%s references table %q outside namespace %q", m.Version, m.Name, table, m.Namespace))
		}
	}
	return nil
}

func statementWarnings(version int, stmt string) []Warning {
	var warnings []Warning
	for _, wp := range warnPatterns {
		if wp.re.MatchString(stmt) {
			warnings = append(warnings, Warning{Version: version, Message: wp.message})
		}
	}
	if deleteNoWhereRE.MatchString(stmt) {
		warnings = append(warnings, Warning{Version: version, Message: "DELETE without WHERE removes all rows"})
	}
	return warnings
}

func referencedTables(stmt string) []string {
	var tables []string
	for _, match := range tableRefRE.FindAllStringSubmatch(stmt, -1) {
		tables = append(tables, match[1])
	}
	for _, match := range indexOnRE.FindAllStringSubmatch(stmt, -1) {
		tables = append(tables, match[1])
	}
	return tables
}
