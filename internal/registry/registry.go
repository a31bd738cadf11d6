package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	stratumerr "github.com/stratumdb/stratum/internal/errors"
	"github.com/stratumdb/stratum/pkg/types"
)

// DefaultCacheSize is the default number of schemas held in memory.
const DefaultCacheSize = 1024

// MaxFields caps the number of declared fields per table.
const MaxFields = 64

// Registry validates and registers table schemas, creates the physical
// tables, and serves schema lookups from an LRU cache backed by the
// persisted schema records.
type Registry struct {
	store *Store
	cache *lru.Cache[string, *types.TableSchema]
}

// New creates a Registry over the given store.
func New(store *Store, cacheSize int) (*Registry, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, *types.TableSchema](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("registry: failed to create schema cache: %w", err)
	}
	return &Registry{store: store, cache: cache}, nil
}

// Store exposes the underlying store to the executor and migration engine.
func (r *Registry) Store() *Store {
	return r.store
}

func cacheKey(namespace, table string) string {
	return namespace + "/" + table
}

// Register validates the schema and creates the physical table if it
// does not exist. Registration is idempotent for an identical schema;
// re-registering with a different shape is rejected (schemas evolve
// only through migrations).
func (r *Registry) Register(ctx context.Context, namespace, table string, fields []types.FieldDef) error {
	if err := validateNames(namespace, table); err != nil {
		return err
	}
	if err := validateFields(fields); err != nil {
		return err
	}

	schema := &types.TableSchema{Namespace: namespace, Table: table, Fields: fields}

	existing, err := r.Get(ctx, namespace, table)
	if err == nil {
		if existing.Equal(schema) {
			return nil
		}
		return stratumerr.NewValidationErrorf(
			"table %s is already registered in namespace %s with a different schema", table, namespace)
	}
	if stratumerr.GetCode(err) != stratumerr.CodeNotRegistered {
		return err
	}

	ddl := buildCreateTable(schema)
	if _, err := r.store.ExecWrite(ctx, ddl); err != nil {
		return stratumerr.NewDatabaseError("failed to create table", err)
	}

	if err := r.persist(ctx, schema); err != nil {
		return err
	}

	r.cache.Add(cacheKey(namespace, table), schema)
	log.Printf("registry: registered %s.%s (%d fields)", namespace, table, len(fields))
	return nil
}

// Get returns the schema for a namespaced table, consulting the cache
// first and the persisted record on a miss.
func (r *Registry) Get(ctx context.Context, namespace, table string) (*types.TableSchema, error) {
	if schema, ok := r.cache.Get(cacheKey(namespace, table)); ok {
		return schema, nil
	}

	var schemaJSON string
	err := r.store.QueryRowRead(ctx,
		"SELECT schema_json FROM stratum_schemas WHERE namespace = ? AND tbl = ?",
		namespace, table,
	).Scan(&schemaJSON)
	if err == sql.ErrNoRows {
		return nil, stratumerr.NewNotRegisteredError(namespace, table)
	}
	if err != nil {
		return nil, stratumerr.NewDatabaseError("failed to load schema", err)
	}

	var schema types.TableSchema
	if err := json.Unmarshal([]byte(schemaJSON), &schema); err != nil {
		return nil, stratumerr.NewInternalError("corrupt schema record", err)
	}

	r.cache.Add(cacheKey(namespace, table), &schema)
	return &schema, nil
}

// List returns the registered logical table names of a namespace.
func (r *Registry) List(ctx context.Context, namespace string) ([]string, error) {
	rows, err := r.store.QueryRead(ctx,
		"SELECT tbl FROM stratum_schemas WHERE namespace = ? ORDER BY tbl", namespace)
	if err != nil {
		return nil, stratumerr.NewDatabaseError("failed to list tables", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var tbl string
		if err := rows.Scan(&tbl); err != nil {
			return nil, stratumerr.NewDatabaseError("failed to scan table name", err)
		}
		tables = append(tables, tbl)
	}
	if err := rows.Err(); err != nil {
		return nil, stratumerr.NewDatabaseError("failed to list tables", err)
	}
	return tables, nil
}

// Invalidate drops all cached schemas and prepared statements for a
// namespace. Callers that changed physical shapes should use Resync.
func (r *Registry) Invalidate(namespace string) {
	prefix := namespace + "/"
	for _, key := range r.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			r.cache.Remove(key)
		}
	}
	r.store.InvalidateStmts()
}

// Resync reflects the physical tables of a namespace back into schema
// records. Called after migration apply/rollback so that columns added
// or removed by migrations become visible to the executor. Tables
// created by migrations are picked up; records for dropped tables are
// removed.
func (r *Registry) Resync(ctx context.Context, namespace string) error {
	physical, err := r.physicalTables(ctx, namespace)
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(physical))
	for _, phys := range physical {
		table := strings.TrimPrefix(phys, types.NamespacePrefix(namespace))
		schema, err := r.reflect(ctx, namespace, table)
		if err != nil {
			return err
		}
		if err := r.persist(ctx, schema); err != nil {
			return err
		}
		r.cache.Add(cacheKey(namespace, table), schema)
		seen[table] = true
	}

	registered, err := r.List(ctx, namespace)
	if err != nil {
		return err
	}
	for _, table := range registered {
		if seen[table] {
			continue
		}
		if _, err := r.store.ExecWrite(ctx,
			"DELETE FROM stratum_schemas WHERE namespace = ? AND tbl = ?", namespace, table); err != nil {
			return stratumerr.NewDatabaseError("failed to remove stale schema record", err)
		}
		r.cache.Remove(cacheKey(namespace, table))
		log.Printf("registry: table %s.%s dropped by migration, schema record removed", namespace, table)
	}

	r.store.InvalidateStmts()
	return nil
}

// physicalTables lists the namespace's physical tables, excluding the
// engine-managed migration record table.
func (r *Registry) physicalTables(ctx context.Context, namespace string) ([]string, error) {
	// LIKE treats _ as a single-character wildcard; escape the
	// separator so sibling namespaces with a shared spelling prefix
	// never match.
	pattern := strings.ReplaceAll(types.NamespacePrefix(namespace), "_", `\_`) + "%"
	rows, err := r.store.QueryRead(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name LIKE ? ESCAPE '\' ORDER BY name`,
		pattern)
	if err != nil {
		return nil, stratumerr.NewDatabaseError("failed to list physical tables", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, stratumerr.NewDatabaseError("failed to scan table name", err)
		}
		if name == migrationTableName(namespace) {
			continue
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, stratumerr.NewDatabaseError("failed to list physical tables", err)
	}
	return names, nil
}

// migrationTableName is the engine-managed migration record table for a
// namespace. Declared here because the registry must skip it during
// reflection; the migration engine owns its contents.
func migrationTableName(namespace string) string {
	return types.NamespacePrefix(namespace) + "schema_migrations"
}

// MigrationTableName exposes the record table name to the migration engine.
func MigrationTableName(namespace string) string {
	return migrationTableName(namespace)
}

// reflect rebuilds a TableSchema from PRAGMA table_info.
func (r *Registry) reflect(ctx context.Context, namespace, table string) (*types.TableSchema, error) {
	phys := types.PhysicalName(namespace, table)
	rows, err := r.store.QueryRead(ctx, fmt.Sprintf("PRAGMA table_info(%q)", phys))
	if err != nil {
		return nil, stratumerr.NewDatabaseError("failed to reflect table", err)
	}
	defer rows.Close()

	schema := &types.TableSchema{Namespace: namespace, Table: table}
	for rows.Next() {
		var (
			cid       int
			name      string
			declType  string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &declType, &notNull, &dfltValue, &pk); err != nil {
			return nil, stratumerr.NewDatabaseError("failed to scan column info", err)
		}
		if types.IsReserved(name) {
			continue
		}
		schema.Fields = append(schema.Fields, types.FieldDef{
			Name:     name,
			Type:     fieldTypeFromDecl(declType),
			Required: notNull != 0,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, stratumerr.NewDatabaseError("failed to reflect table", err)
	}
	return schema, nil
}

// fieldTypeFromDecl maps a declared column type back to a logical field
// type. Exact matches cover columns this engine created; the fallback
// follows SQLite's affinity rules for columns added by migrations with
// free-form type names.
func fieldTypeFromDecl(declType string) types.FieldType {
	if t, ok := types.FieldTypeFromSQL(declType); ok {
		return t
	}
	upper := strings.ToUpper(declType)
	switch {
	case strings.Contains(upper, "INT"):
		return types.FieldInteger
	case strings.Contains(upper, "BOOL"):
		return types.FieldBoolean
	case strings.Contains(upper, "DATE"), strings.Contains(upper, "TIME"):
		return types.FieldDatetime
	case strings.Contains(upper, "REAL"), strings.Contains(upper, "FLOA"), strings.Contains(upper, "DOUB"):
		return types.FieldFloat
	case strings.Contains(upper, "CHAR"):
		return types.FieldString
	default:
		return types.FieldText
	}
}

// persist upserts the schema record.
func (r *Registry) persist(ctx context.Context, schema *types.TableSchema) error {
	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return stratumerr.NewInternalError("failed to marshal schema", err)
	}
	_, err = r.store.ExecWrite(ctx,
		`INSERT INTO stratum_schemas (namespace, tbl, schema_json, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (namespace, tbl) DO UPDATE SET schema_json = excluded.schema_json`,
		schema.Namespace, schema.Table, string(schemaJSON), time.Now().Unix())
	if err != nil {
		return stratumerr.NewDatabaseError("failed to persist schema", err)
	}
	return nil
}

// buildCreateTable renders the CREATE TABLE statement for a validated
// schema. Field names have passed ValidIdentifier, so interpolating
// them as identifiers is safe.
func buildCreateTable(schema *types.TableSchema) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %q (\n", types.PhysicalName(schema.Namespace, schema.Table))
	b.WriteString("\tid INTEGER PRIMARY KEY AUTOINCREMENT,\n")
	b.WriteString("\tcreated_at DATETIME NOT NULL,\n")
	b.WriteString("\tupdated_at DATETIME NOT NULL")
	for _, f := range schema.Fields {
		fmt.Fprintf(&b, ",\n\t%q %s", f.Name, f.Type.SQLType())
		if f.Required {
			b.WriteString(" NOT NULL")
		}
	}
	b.WriteString("\n)")
	return b.String()
}

func validateNames(namespace, table string) error {
	if !types.ValidIdentifier(namespace) {
		return stratumerr.NewValidationErrorf("invalid namespace %q", namespace)
	}
	if !types.ValidIdentifier(table) {
		return stratumerr.NewValidationErrorf("invalid table name %q", table)
	}
	return nil
}

func validateFields(fields []types.FieldDef) error {
	if len(fields) == 0 {
		return stratumerr.NewValidationError("schema must declare at least one field")
	}
	if len(fields) > MaxFields {
		return stratumerr.NewValidationErrorf("schema declares %d fields, maximum is %d", len(fields), MaxFields)
	}
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if !types.ValidIdentifier(f.Name) {
			return stratumerr.NewValidationErrorf("invalid field name %q", f.Name)
		}
		if types.IsReserved(f.Name) {
			return stratumerr.NewValidationErrorf("field name %s is reserved", f.Name)
		}
		if seen[f.Name] {
			return stratumerr.NewValidationErrorf("duplicate field %s", f.Name)
		}
		seen[f.Name] = true
		if !f.Type.Valid() {
			return stratumerr.NewValidationErrorf("field %s has unknown type %q", f.Name, f.Type)
		}
	}
	return nil
}
