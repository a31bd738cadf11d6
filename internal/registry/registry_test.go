package registry

import (
	"context"
	"path/filepath"
	"testing"

	stratumerr "github.com/stratumdb/stratum/internal/errors"
	"github.com/stratumdb/stratum/pkg/types"
)

func newTestRegistry(t *testing.T) (*Registry, *Store) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "stratum_test.db")

	store, err := Open(dbPath, 0)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	reg, err := New(store, 0)
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}
	return reg, store
}

func userFields() []types.FieldDef {
	return []types.FieldDef{
		{Name: "name", Type: types.FieldString, Required: true},
		{Name: "score", Type: types.FieldInteger},
	}
}

func TestStore_ReadPoolIsReadOnly(t *testing.T) {
	_, store := newTestRegistry(t)
	if _, err := store.readDB.Exec(`CREATE TABLE scratch (x INTEGER)`); err == nil {
		t.Fatal("read pool accepted a write")
	}
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	if err := reg.Register(ctx, "chat", "users", userFields()); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	schema, err := reg.Get(ctx, "chat", "users")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if len(schema.Fields) != 2 || schema.Fields[0].Name != "name" {
		t.Errorf("unexpected schema: %+v", schema)
	}

	// Idempotent for the identical schema
	if err := reg.Register(ctx, "chat", "users", userFields()); err != nil {
		t.Errorf("identical re-registration should succeed: %v", err)
	}

	// Different shape is rejected
	err = reg.Register(ctx, "chat", "users", []types.FieldDef{
		{Name: "name", Type: types.FieldText},
	})
	if stratumerr.GetCode(err) != stratumerr.CodeValidationError {
		t.Errorf("conflicting re-registration: got %v", err)
	}
}

func TestRegistry_GetUnregistered(t *testing.T) {
	reg, _ := newTestRegistry(t)

	_, err := reg.Get(context.Background(), "chat", "missing")
	if stratumerr.GetCode(err) != stratumerr.CodeNotRegistered {
		t.Fatalf("expected NOT_REGISTERED, got %v", err)
	}
}

func TestRegistry_RejectsInvalidSchemas(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		ns     string
		table  string
		fields []types.FieldDef
	}{
		{"reserved field", "chat", "t1", []types.FieldDef{{Name: "id", Type: types.FieldInteger}}},
		{"unknown type", "chat", "t2", []types.FieldDef{{Name: "x", Type: "blob"}}},
		{"bad field name", "chat", "t3", []types.FieldDef{{Name: "Bad-Name", Type: types.FieldString}}},
		{"duplicate field", "chat", "t4", []types.FieldDef{
			{Name: "x", Type: types.FieldString}, {Name: "x", Type: types.FieldText},
		}},
		{"empty schema", "chat", "t5", nil},
		{"bad namespace", "Chat!", "t6", userFields()},
		{"bad table", "chat", "1table", userFields()},
		{"separator in table", "chat", "rooms__msgs", userFields()},
		{"separator in namespace", "chat__ops", "t7", userFields()},
		{"trailing underscore namespace", "chat_", "t8", userFields()},
		{"trailing underscore field", "chat", "t9", []types.FieldDef{{Name: "x_", Type: types.FieldString}}},
	}
	for _, c := range cases {
		if err := reg.Register(ctx, c.ns, c.table, c.fields); err == nil {
			t.Errorf("%s: expected rejection", c.name)
		}
	}
}

func TestRegistry_NamespaceIsolation(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()

	if err := reg.Register(ctx, "alpha", "items", userFields()); err != nil {
		t.Fatalf("register alpha: %v", err)
	}
	if err := reg.Register(ctx, "beta", "items", userFields()); err != nil {
		t.Fatalf("register beta: %v", err)
	}

	// Same logical name, distinct physical tables
	rows, err := store.QueryRead(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name LIKE '%items'")
	if err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	defer rows.Close()

	names := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatal(err)
		}
		names[name] = true
	}
	if !names["alpha__items"] || !names["beta__items"] {
		t.Errorf("expected both physical tables, got %v", names)
	}
}

// Physical names must map back to exactly one (namespace, table) pair:
// if "foo"+"bar__baz" and "foo__bar"+"baz" could both register, they
// would share the physical table foo__bar__baz and read each other's
// rows through it.
func TestRegistry_RejectsAmbiguousPhysicalNames(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	if err := reg.Register(ctx, "foo", "bar__baz", userFields()); err == nil {
		t.Fatal("expected rejection of table containing the separator")
	}
	if err := reg.Register(ctx, "foo__bar", "baz", userFields()); err == nil {
		t.Fatal("expected rejection of namespace containing the separator")
	}
}

// A namespace must never claim a sibling's tables just because its name
// is a spelling prefix: Resync on "chat" must not touch chatty__*.
func TestRegistry_ResyncIgnoresSiblingNamespaces(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()

	if err := reg.Register(ctx, "chat", "rooms", userFields()); err != nil {
		t.Fatalf("register chat: %v", err)
	}
	if err := reg.Register(ctx, "chatty", "logs", userFields()); err != nil {
		t.Fatalf("register chatty: %v", err)
	}
	if _, err := store.ExecWrite(ctx,
		`ALTER TABLE "chatty__logs" ADD COLUMN note VARCHAR`); err != nil {
		t.Fatalf("alter: %v", err)
	}

	if err := reg.Resync(ctx, "chat"); err != nil {
		t.Fatalf("resync: %v", err)
	}

	tables, err := reg.List(ctx, "chat")
	if err != nil {
		t.Fatal(err)
	}
	if len(tables) != 1 || tables[0] != "rooms" {
		t.Errorf("chat claims foreign tables: %v", tables)
	}
	schema, err := reg.Get(ctx, "chatty", "logs")
	if err != nil {
		t.Fatalf("get chatty.logs: %v", err)
	}
	if _, ok := schema.Field("note"); ok {
		t.Error("chat resync must not reflect chatty's tables")
	}
}

func TestRegistry_ResyncPicksUpMigratedColumns(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()

	if err := reg.Register(ctx, "chat", "users", userFields()); err != nil {
		t.Fatalf("register: %v", err)
	}

	// Simulate a migration adding a column.
	if _, err := store.ExecWrite(ctx, `ALTER TABLE "chat__users" ADD COLUMN email VARCHAR`); err != nil {
		t.Fatalf("alter: %v", err)
	}

	if err := reg.Resync(ctx, "chat"); err != nil {
		t.Fatalf("resync: %v", err)
	}

	schema, err := reg.Get(ctx, "chat", "users")
	if err != nil {
		t.Fatalf("get after resync: %v", err)
	}
	field, ok := schema.Field("email")
	if !ok {
		t.Fatalf("email column not reflected: %+v", schema.Fields)
	}
	if field.Type != types.FieldString {
		t.Errorf("email type: got %s, want string", field.Type)
	}
}

func TestRegistry_ResyncRemovesDroppedTables(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()

	if err := reg.Register(ctx, "chat", "ephemeral", userFields()); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := store.ExecWrite(ctx, `DROP TABLE "chat__ephemeral"`); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if err := reg.Resync(ctx, "chat"); err != nil {
		t.Fatalf("resync: %v", err)
	}

	_, err := reg.Get(ctx, "chat", "ephemeral")
	if stratumerr.GetCode(err) != stratumerr.CodeNotRegistered {
		t.Errorf("dropped table should be NOT_REGISTERED, got %v", err)
	}
}
