// Package rows implements the row operation executor: insert, select,
// update, delete, and search over namespaced tables, built on the
// schema registry and the operator compiler. All operations are
// short-lived transactions; counter atomicity comes from compiling
// increments into single database-evaluated statements, not from
// application-level locking.
package rows

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/stratumdb/stratum/internal/compile"
	stratumerr "github.com/stratumdb/stratum/internal/errors"
	"github.com/stratumdb/stratum/internal/registry"
	"github.com/stratumdb/stratum/internal/validate"
	"github.com/stratumdb/stratum/pkg/types"
)

// Limit defaults applied when the caller does not specify one.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Executor performs row operations scoped by (namespace, table).
type Executor struct {
	registry     *registry.Registry
	store        *registry.Store
	defaultLimit int
	maxLimit     int
}

// New creates an executor. Zero limits select the package defaults.
func New(reg *registry.Registry, defaultLimit, maxLimit int) *Executor {
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}
	if maxLimit <= 0 {
		maxLimit = MaxLimit
	}
	return &Executor{
		registry:     reg,
		store:        reg.Store(),
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
	}
}

// Insert validates and inserts one or more rows in a single
// transaction. Either every row is inserted or none is; the generated
// ids are returned in input order.
func (e *Executor) Insert(ctx context.Context, namespace, table string, data []map[string]any) ([]int64, error) {
	schema, err := e.registry.Get(ctx, namespace, table)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, stratumerr.NewValidationError("insert requires at least one row")
	}

	// Validate everything before any statement is issued, so a
	// validation failure has zero side effects.
	coerced := make([]types.Row, len(data))
	for i, raw := range data {
		row, err := validate.Coerce(raw, schema)
		if err != nil {
			return nil, err
		}
		coerced[i] = row
	}

	insertSQL, fieldNames := buildInsert(schema)
	now := validate.Now()

	ids := make([]int64, len(coerced))
	err = e.store.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, insertSQL)
		if err != nil {
			return stratumerr.NewDatabaseError("failed to prepare insert", err)
		}
		defer stmt.Close()

		for i, row := range coerced {
			args := make([]any, 0, len(fieldNames)+2)
			for _, name := range fieldNames {
				args = append(args, row[name])
			}
			args = append(args, now, now)

			result, err := stmt.ExecContext(ctx, args...)
			if err != nil {
				return databaseError("insert failed", err)
			}
			id, err := result.LastInsertId()
			if err != nil {
				return databaseError("insert failed", err)
			}
			ids[i] = id
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Select returns the row with the given id, or exists=false when no
// such row exists. A missing id is never an error.
func (e *Executor) Select(ctx context.Context, namespace, table string, id int64) (types.Row, bool, error) {
	schema, err := e.registry.Get(ctx, namespace, table)
	if err != nil {
		return nil, false, err
	}

	query := fmt.Sprintf(`SELECT %s FROM %q WHERE "id" = ?`,
		selectColumns(schema), types.PhysicalName(namespace, table))

	rs, err := e.store.QueryRead(ctx, query, id)
	if err != nil {
		return nil, false, databaseError("select failed", err)
	}
	defer rs.Close()

	if !rs.Next() {
		if err := rs.Err(); err != nil {
			return nil, false, databaseError("select failed", err)
		}
		return nil, false, nil
	}
	row, err := scanRow(rs, schema)
	if err != nil {
		return nil, false, err
	}
	return row, true, nil
}

// Update applies the compiled operations to the rows matched by id or
// filter in one statement and returns the number of updated rows.
// Matching zero rows is not an error.
func (e *Executor) Update(ctx context.Context, namespace, table string, id *int64, filter compile.Filter, ops map[string]compile.UpdateSpec) (int64, error) {
	schema, err := e.registry.Get(ctx, namespace, table)
	if err != nil {
		return 0, err
	}

	setClause, err := compile.CompileUpdate(ops, schema, validate.Now())
	if err != nil {
		return 0, err
	}
	where, err := e.whereClause(id, filter, schema)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf("UPDATE %q SET %s WHERE %s",
		types.PhysicalName(namespace, table), setClause.SQL, where.SQL)
	args := append(setClause.Args, where.Args...)

	result, err := e.store.ExecWrite(ctx, query, args...)
	if err != nil {
		return 0, databaseError("update failed", err)
	}
	updated, err := result.RowsAffected()
	if err != nil {
		return 0, databaseError("update failed", err)
	}
	return updated, nil
}

// Delete removes the rows matched by id or filter and returns the
// number deleted. Deleting nothing is success with zero.
func (e *Executor) Delete(ctx context.Context, namespace, table string, id *int64, filter compile.Filter) (int64, error) {
	schema, err := e.registry.Get(ctx, namespace, table)
	if err != nil {
		return 0, err
	}

	where, err := e.whereClause(id, filter, schema)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf("DELETE FROM %q WHERE %s",
		types.PhysicalName(namespace, table), where.SQL)

	result, err := e.store.ExecWrite(ctx, query, where.Args...)
	if err != nil {
		return 0, databaseError("delete failed", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, databaseError("delete failed", err)
	}
	return deleted, nil
}

// whereClause builds the predicate for update/delete: an explicit id
// wins, otherwise the filter. One of the two is mandatory so a single
// malformed request can never touch a whole table.
func (e *Executor) whereClause(id *int64, filter compile.Filter, schema *types.TableSchema) (*compile.Fragment, error) {
	if id != nil {
		return &compile.Fragment{SQL: `"id" = ?`, Args: []any{*id}}, nil
	}
	if filter == nil {
		return nil, stratumerr.NewValidationError("operation requires an id or filters")
	}
	return compile.CompileFilter(filter, schema)
}

// buildInsert renders the insert statement covering every declared
// field plus the reserved timestamps. Optional fields absent from a
// row bind as NULL.
func buildInsert(schema *types.TableSchema) (string, []string) {
	fieldNames := schema.FieldNames()
	cols := make([]string, 0, len(fieldNames)+2)
	for _, name := range fieldNames {
		cols = append(cols, fmt.Sprintf("%q", name))
	}
	cols = append(cols, `"created_at"`, `"updated_at"`)

	query := fmt.Sprintf("INSERT INTO %q (%s) VALUES (%s)",
		types.PhysicalName(schema.Namespace, schema.Table),
		strings.Join(cols, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))
	return query, fieldNames
}

// selectColumns renders the select list: reserved fields first, then
// declared fields in registration order.
func selectColumns(schema *types.TableSchema) string {
	cols := []string{`"id"`, `"created_at"`, `"updated_at"`}
	for _, f := range schema.Fields {
		cols = append(cols, fmt.Sprintf("%q", f.Name))
	}
	return strings.Join(cols, ", ")
}

// scanRow decodes the current result row into a typed Row. Datetime
// columns come back from the driver as time.Time and are rendered into
// the canonical fixed-width text form.
func scanRow(rs *sql.Rows, schema *types.TableSchema) (types.Row, error) {
	var (
		id                   int64
		createdAt, updatedAt time.Time
	)
	dest := []any{&id, &createdAt, &updatedAt}

	holders := make([]any, len(schema.Fields))
	for i, f := range schema.Fields {
		holders[i] = scanHolder(f.Type)
		dest = append(dest, holders[i])
	}

	if err := rs.Scan(dest...); err != nil {
		return nil, databaseError("failed to scan row", err)
	}

	row := types.Row{
		types.FieldID:        id,
		types.FieldCreatedAt: validate.FormatTime(createdAt),
		types.FieldUpdatedAt: validate.FormatTime(updatedAt),
	}
	for i, f := range schema.Fields {
		row[f.Name] = holderValue(holders[i])
	}
	return row, nil
}

func scanHolder(t types.FieldType) any {
	switch t {
	case types.FieldInteger:
		return new(sql.NullInt64)
	case types.FieldFloat:
		return new(sql.NullFloat64)
	case types.FieldBoolean:
		return new(sql.NullBool)
	case types.FieldDatetime:
		return new(sql.NullTime)
	default:
		return new(sql.NullString)
	}
}

func holderValue(holder any) any {
	switch v := holder.(type) {
	case *sql.NullInt64:
		if v.Valid {
			return v.Int64
		}
	case *sql.NullFloat64:
		if v.Valid {
			return v.Float64
		}
	case *sql.NullBool:
		if v.Valid {
			return v.Bool
		}
	case *sql.NullTime:
		if v.Valid {
			return validate.FormatTime(v.Time)
		}
	case *sql.NullString:
		if v.Valid {
			return v.String
		}
	}
	return nil
}

// databaseError wraps a backend failure, logging the raw driver error
// which is never exposed to the caller.
func databaseError(message string, cause error) error {
	log.Printf("rows: %s: %v", message, cause)
	return stratumerr.NewDatabaseError(message, cause)
}
