package rows

import (
	"context"
	"fmt"

	"github.com/stratumdb/stratum/internal/compile"
	"github.com/stratumdb/stratum/pkg/types"
)

// SearchParams are the compiled-down inputs to a search.
type SearchParams struct {
	Filter     compile.Filter
	Sort       []types.SortField
	Limit      int
	Offset     int
	Aggregates map[string]compile.AggregateSpec
}

// SearchResult is a page of matching rows. Truncated reports whether
// more rows exist beyond the returned page.
type SearchResult struct {
	Rows       []types.Row
	Count      int
	Truncated  bool
	Aggregates map[string]any
}

// Search compiles the filter and sort, fetches one page (probing one
// row past the limit to detect truncation), and computes any requested
// aggregates with SQL aggregate functions over the same predicate
// rather than pulling all matching rows.
func (e *Executor) Search(ctx context.Context, namespace, table string, params SearchParams) (*SearchResult, error) {
	schema, err := e.registry.Get(ctx, namespace, table)
	if err != nil {
		return nil, err
	}

	where, err := compile.CompileFilter(params.Filter, schema)
	if err != nil {
		return nil, err
	}
	orderBy, err := compile.CompileSort(params.Sort, schema)
	if err != nil {
		return nil, err
	}
	limit := e.clampLimit(params.Limit)
	offset := params.Offset
	if offset < 0 {
		offset = 0
	}

	phys := types.PhysicalName(namespace, table)

	query := fmt.Sprintf("SELECT %s FROM %q", selectColumns(schema), phys)
	var args []any
	if where != nil {
		query += " WHERE " + where.SQL
		args = append(args, where.Args...)
	}
	if orderBy != "" {
		query += " " + orderBy
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit+1, offset)

	rs, err := e.store.QueryRead(ctx, query, args...)
	if err != nil {
		return nil, databaseError("search failed", err)
	}
	defer rs.Close()

	result := &SearchResult{Rows: []types.Row{}}
	for rs.Next() {
		row, err := scanRow(rs, schema)
		if err != nil {
			return nil, err
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rs.Err(); err != nil {
		return nil, databaseError("search failed", err)
	}

	if len(result.Rows) > limit {
		result.Rows = result.Rows[:limit]
		result.Truncated = true
	}
	result.Count = len(result.Rows)

	if len(params.Aggregates) > 0 {
		aggs, err := e.computeAggregates(ctx, phys, schema, params.Aggregates, where)
		if err != nil {
			return nil, err
		}
		result.Aggregates = aggs
	}
	return result, nil
}

// clampLimit applies the default and the hard maximum.
func (e *Executor) clampLimit(limit int) int {
	if limit <= 0 {
		return e.defaultLimit
	}
	if limit > e.maxLimit {
		return e.maxLimit
	}
	return limit
}

// computeAggregates runs one aggregate query sharing the search's
// predicate. Aggregates over zero matching rows come back as nil
// (COUNT as zero), mirroring SQL semantics.
func (e *Executor) computeAggregates(ctx context.Context, phys string, schema *types.TableSchema, specs map[string]compile.AggregateSpec, where *compile.Fragment) (map[string]any, error) {
	selectList, aliases, err := compile.CompileAggregates(specs, schema)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT %s FROM %q", selectList, phys)
	var args []any
	if where != nil {
		query += " WHERE " + where.SQL
		args = append(args, where.Args...)
	}

	rs, err := e.store.QueryRead(ctx, query, args...)
	if err != nil {
		return nil, databaseError("aggregate query failed", err)
	}
	defer rs.Close()

	if !rs.Next() {
		if err := rs.Err(); err != nil {
			return nil, databaseError("aggregate query failed", err)
		}
		return map[string]any{}, nil
	}

	holders := make([]any, len(aliases))
	for i := range holders {
		holders[i] = new(any)
	}
	if err := rs.Scan(holders...); err != nil {
		return nil, databaseError("failed to scan aggregates", err)
	}

	out := make(map[string]any, len(aliases))
	for i, alias := range aliases {
		value := *(holders[i].(*any))
		if b, ok := value.([]byte); ok {
			value = string(b)
		}
		out[alias] = value
	}
	return out, nil
}
