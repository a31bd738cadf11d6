package migrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMigration(up, down string) Migration {
	return Migration{Namespace: "shop", Version: 1, Name: "test", UpSQL: up, DownSQL: down}
}

func TestValidateBlocksUnsupportedDDL(t *testing.T) {
	cases := []struct {
		name string
		sql  string
	}{
		{"drop column", `ALTER TABLE shop__users DROP COLUMN email`},
		{"alter column", `ALTER TABLE shop__users ALTER COLUMN email TYPE TEXT`},
		{"modify", `ALTER TABLE shop__users MODIFY email TEXT`},
		{"add constraint", `ALTER TABLE shop__users ADD CONSTRAINT uq UNIQUE (email)`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Validate(testMigration(tc.sql, `SELECT 1`))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "not supported")
		})
	}
}

func TestValidateNamespaceIsolation(t *testing.T) {
	_, err := Validate(testMigration(
		`CREATE TABLE other__users (id INTEGER)`,
		`DROP TABLE other__users`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside namespace")

	_, err = Validate(testMigration(
		`INSERT INTO billing__invoices (id) VALUES (1)`,
		`SELECT 1`))
	require.Error(t, err)

	// Index creation on a foreign table is still a reference.
	_, err = Validate(testMigration(
		`CREATE INDEX idx ON other__users (id)`,
		`DROP INDEX idx`))
	require.Error(t, err)
}

func TestValidateRejectsRecordsTable(t *testing.T) {
	_, err := Validate(testMigration(
		`DELETE FROM shop__schema_migrations`,
		`SELECT 1`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "records table")
}

func TestValidateEmptySections(t *testing.T) {
	_, err := Validate(testMigration("", `DROP TABLE shop__users`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty up section")

	_, err = Validate(testMigration(`CREATE TABLE shop__users (id INTEGER)`, ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty down section")
}

func TestValidateDestructiveWarnings(t *testing.T) {
	warnings, err := Validate(testMigration(
		`CREATE TABLE shop__audit (id INTEGER)`,
		`DROP TABLE shop__audit`))
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Message, "DROP TABLE")

	warnings, err = Validate(testMigration(
		`DELETE FROM shop__audit`,
		`SELECT 1`))
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Message, "without WHERE")
}

func TestValidateCleanMigration(t *testing.T) {
	warnings, err := Validate(testMigration(
		`CREATE TABLE shop__orders (id INTEGER PRIMARY KEY, total FLOAT);
		 CREATE INDEX idx_orders_total ON shop__orders (total)`,
		`DROP INDEX idx_orders_total;
		 DROP TABLE shop__orders`))
	require.NoError(t, err)
	// DROP TABLE in the down section still warns.
	require.Len(t, warnings, 1)
}
