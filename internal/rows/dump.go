package rows

import (
	"context"
	"fmt"

	"github.com/stratumdb/stratum/pkg/types"
)

// Each streams every row of a table in id order, calling fn once per
// row. Backup snapshots use this instead of Search so that dumps are
// not subject to the search limit clamp.
func (e *Executor) Each(ctx context.Context, namespace, table string, fn func(types.Row) error) error {
	schema, err := e.registry.Get(ctx, namespace, table)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`SELECT %s FROM %q ORDER BY "id"`,
		selectColumns(schema), types.PhysicalName(namespace, table))

	rs, err := e.store.QueryRead(ctx, query)
	if err != nil {
		return databaseError("dump failed", err)
	}
	defer rs.Close()

	for rs.Next() {
		row, err := scanRow(rs, schema)
		if err != nil {
			return err
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	if err := rs.Err(); err != nil {
		return databaseError("dump failed", err)
	}
	return nil
}
