package gateway

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratumdb/stratum/internal/backup"
	"github.com/stratumdb/stratum/internal/migrate"
	"github.com/stratumdb/stratum/internal/registry"
	"github.com/stratumdb/stratum/internal/rows"
	"github.com/stratumdb/stratum/internal/storage"
)

func newTestGateway(t *testing.T) (*Gateway, string) {
	t.Helper()
	dir := t.TempDir()

	store, err := registry.Open(filepath.Join(dir, "gateway_test.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	reg, err := registry.New(store, 0)
	require.NoError(t, err)

	exec := rows.New(reg, 0, 0)
	migrationDir := filepath.Join(dir, "migrations")
	migrator := migrate.New(reg, storage.NewLocalSource(migrationDir), time.Second)

	sink, err := storage.NewLocalSink(filepath.Join(dir, "backups"))
	require.NoError(t, err)
	bak := backup.New(reg, exec, sink, 0)

	return New(reg, exec, migrator, bak, 0), migrationDir
}

func call(t *testing.T, g *Gateway, subject, payload string) map[string]any {
	t.Helper()
	body := g.Handle(context.Background(), subject, []byte(payload))
	var resp map[string]any
	require.NoError(t, json.Unmarshal(body, &resp), "response is not JSON: %s", body)
	return resp
}

func errorCode(t *testing.T, resp map[string]any) string {
	t.Helper()
	require.Equal(t, false, resp["success"], "expected failure envelope: %v", resp)
	errObj, ok := resp["error"].(map[string]any)
	require.True(t, ok, "failure envelope missing error object: %v", resp)
	code, _ := errObj["code"].(string)
	require.NotEmpty(t, errObj["message"])
	return code
}

const usersSchema = `{
	"table": "users",
	"schema": {"fields": [
		{"name": "name", "type": "string", "required": true},
		{"name": "score", "type": "integer"}
	]}
}`

func TestSchemaAndInsert(t *testing.T) {
	g, _ := newTestGateway(t)

	resp := call(t, g, "schema.chat", usersSchema)
	assert.Equal(t, true, resp["success"])

	resp = call(t, g, "insert.chat", `{"table":"users","data":{"name":"alice","score":10}}`)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, float64(1), resp["id"])

	resp = call(t, g, "insert.chat", `{"table":"users","data":[{"name":"bob"},{"name":"carol"}]}`)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, float64(2), resp["created"])
	ids, ok := resp["ids"].([]any)
	require.True(t, ok)
	assert.Len(t, ids, 2)
}

func TestSelectEnvelope(t *testing.T) {
	g, _ := newTestGateway(t)
	call(t, g, "schema.chat", usersSchema)
	call(t, g, "insert.chat", `{"table":"users","data":{"name":"alice"}}`)

	resp := call(t, g, "select.chat", `{"table":"users","id":1}`)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, true, resp["exists"])
	data, ok := resp["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "alice", data["name"])

	// Missing id is success with exists:false, no data key.
	resp = call(t, g, "select.chat", `{"table":"users","id":99}`)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, false, resp["exists"])
	_, hasData := resp["data"]
	assert.False(t, hasData)
}

func TestUpdateAndDelete(t *testing.T) {
	g, _ := newTestGateway(t)
	call(t, g, "schema.chat", usersSchema)
	call(t, g, "insert.chat", `{"table":"users","data":[{"name":"alice","score":1},{"name":"bob","score":2}]}`)

	resp := call(t, g, "update.chat", `{"table":"users","filters":{"name":"alice"},"operations":{"score":{"$inc":10}}}`)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, float64(1), resp["updated"])

	resp = call(t, g, "select.chat", `{"table":"users","id":1}`)
	data := resp["data"].(map[string]any)
	assert.Equal(t, float64(11), data["score"])

	resp = call(t, g, "delete.chat", `{"table":"users","id":2}`)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, float64(1), resp["deleted"])

	// Deleting again is idempotent success.
	resp = call(t, g, "delete.chat", `{"table":"users","id":2}`)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, float64(0), resp["deleted"])
}

func TestSearchEnvelope(t *testing.T) {
	g, _ := newTestGateway(t)
	call(t, g, "schema.chat", usersSchema)
	for i := 0; i < 15; i++ {
		call(t, g, "insert.chat", `{"table":"users","data":{"name":"user","score":5}}`)
	}

	resp := call(t, g, "search.chat", `{"table":"users","filters":{"score":{"$gte":1}},"limit":10}`)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, float64(10), resp["count"])
	assert.Equal(t, true, resp["truncated"])

	resp = call(t, g, "search.chat", `{"table":"users","limit":20,"aggregates":{"total":{"$count":"id"},"points":{"$sum":"score"}}}`)
	assert.Equal(t, false, resp["truncated"])
	assert.Equal(t, float64(15), resp["count"])
	aggs := resp["aggregates"].(map[string]any)
	assert.Equal(t, float64(15), aggs["total"])
	assert.Equal(t, float64(75), aggs["points"])
}

func TestBoundaryErrors(t *testing.T) {
	g, _ := newTestGateway(t)
	call(t, g, "schema.chat", usersSchema)

	cases := []struct {
		name    string
		subject string
		payload string
		code    string
	}{
		{"invalid json", "insert.chat", `{"table":`, "INVALID_JSON"},
		{"missing table", "insert.chat", `{"data":{"name":"x"}}`, "MISSING_FIELD"},
		{"missing data", "insert.chat", `{"table":"users"}`, "MISSING_FIELD"},
		{"missing id", "select.chat", `{"table":"users"}`, "MISSING_FIELD"},
		{"unknown operation", "explode.chat", `{}`, "VALIDATION_ERROR"},
		{"bad subject", "insert", `{}`, "VALIDATION_ERROR"},
		{"bad namespace", "insert.Bad-Namespace", `{}`, "VALIDATION_ERROR"},
		{"namespace with separator", "insert.foo__bar", `{}`, "VALIDATION_ERROR"},
		{"table with separator", "schema.chat", `{"table":"bar__baz","schema":{"fields":[{"name":"x","type":"string"}]}}`, "VALIDATION_ERROR"},
		{"unregistered table", "insert.chat", `{"table":"ghosts","data":{"name":"x"}}`, "NOT_REGISTERED"},
		{"unknown field", "insert.chat", `{"table":"users","data":{"name":"x","wat":1}}`, "VALIDATION_ERROR"},
		{"operator mismatch", "search.chat", `{"table":"users","filters":{"name":{"$gt":"a"}}}`, "VALIDATION_ERROR"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := call(t, g, tc.subject, tc.payload)
			assert.Equal(t, tc.code, errorCode(t, resp))
		})
	}
}

func writeMigration(t *testing.T, dir, namespace, name, up, down string) {
	t.Helper()
	nsDir := filepath.Join(dir, namespace)
	require.NoError(t, os.MkdirAll(nsDir, 0755))
	body := "-- migrate:up\n" + up + "\n-- migrate:down\n" + down + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(nsDir, name), []byte(body), 0644))
}

func TestMigrationOperations(t *testing.T) {
	g, migrationDir := newTestGateway(t)
	writeMigration(t, migrationDir, "chat", "001_create_rooms.sql",
		`CREATE TABLE chat__rooms (id INTEGER PRIMARY KEY AUTOINCREMENT, title VARCHAR NOT NULL, created_at DATETIME NOT NULL, updated_at DATETIME NOT NULL)`,
		`DROP TABLE chat__rooms`)
	writeMigration(t, migrationDir, "chat", "002_add_topic.sql",
		`ALTER TABLE chat__rooms ADD COLUMN topic VARCHAR`,
		`CREATE TABLE chat__rooms_tmp (id INTEGER PRIMARY KEY AUTOINCREMENT, title VARCHAR NOT NULL, created_at DATETIME NOT NULL, updated_at DATETIME NOT NULL);
		 INSERT INTO chat__rooms_tmp (id, title, created_at, updated_at) SELECT id, title, created_at, updated_at FROM chat__rooms;
		 DROP TABLE chat__rooms;
		 ALTER TABLE chat__rooms_tmp RENAME TO chat__rooms`)

	resp := call(t, g, "status.chat", `{}`)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, float64(0), resp["current_version"])

	resp = call(t, g, "apply.chat", `{}`)
	assert.Equal(t, true, resp["success"])
	applied := resp["applied"].([]any)
	assert.Len(t, applied, 2)

	// Migrated tables are immediately usable through the gateway.
	resp = call(t, g, "insert.chat", `{"table":"rooms","data":{"title":"general","topic":"anything"}}`)
	assert.Equal(t, true, resp["success"])

	// Rollback without a version undoes only the latest migration.
	resp = call(t, g, "rollback.chat", `{}`)
	assert.Equal(t, true, resp["success"])
	rolledBack := resp["rolled_back"].([]any)
	require.Len(t, rolledBack, 1)
	assert.Equal(t, float64(2), rolledBack[0])

	resp = call(t, g, "status.chat", `{}`)
	assert.Equal(t, float64(1), resp["current_version"])
	pending := resp["pending_migrations"].([]any)
	assert.Len(t, pending, 1)
	tables := resp["tables"].([]any)
	assert.Equal(t, []any{"rooms"}, tables)

	// Rows inserted before the rollback survive it.
	resp = call(t, g, "select.chat", `{"table":"rooms","id":1}`)
	assert.Equal(t, true, resp["exists"])
	data := resp["data"].(map[string]any)
	assert.Equal(t, "general", data["title"])
}

func TestApplyDryRunThroughGateway(t *testing.T) {
	g, migrationDir := newTestGateway(t)
	writeMigration(t, migrationDir, "chat", "001_create_rooms.sql",
		`CREATE TABLE chat__rooms (id INTEGER PRIMARY KEY)`,
		`DROP TABLE chat__rooms`)

	resp := call(t, g, "apply.chat", `{"dry_run":true}`)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, true, resp["dry_run"])

	resp = call(t, g, "status.chat", `{}`)
	assert.Equal(t, float64(0), resp["current_version"])
}

func TestBackupOperation(t *testing.T) {
	g, _ := newTestGateway(t)
	call(t, g, "schema.chat", usersSchema)
	call(t, g, "insert.chat", `{"table":"users","data":{"name":"alice"}}`)

	resp := call(t, g, "backup.chat", `{}`)
	assert.Equal(t, true, resp["success"])
	manifest, ok := resp["manifest"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "chat", manifest["namespace"])
	tables := manifest["tables"].([]any)
	assert.Len(t, tables, 1)
}

func TestBackupDisabled(t *testing.T) {
	g, _ := newTestGateway(t)
	g.backup = nil
	resp := call(t, g, "backup.chat", `{}`)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, resp))
}
