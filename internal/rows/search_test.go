package rows

import (
	"context"
	"fmt"
	"testing"

	"github.com/stratumdb/stratum/internal/compile"
	stratumerr "github.com/stratumdb/stratum/internal/errors"
	"github.com/stratumdb/stratum/pkg/types"
)

func mustParseFilter(t *testing.T, doc map[string]any) compile.Filter {
	t.Helper()
	f, err := compile.ParseFilter(doc)
	if err != nil {
		t.Fatalf("parse filter: %v", err)
	}
	return f
}

func mustParseUpdate(t *testing.T, doc map[string]any) map[string]compile.UpdateSpec {
	t.Helper()
	ops, err := compile.ParseUpdate(doc)
	if err != nil {
		t.Fatalf("parse update: %v", err)
	}
	return ops
}

func seedUsers(t *testing.T, exec *Executor, n int) {
	t.Helper()
	data := make([]map[string]any, n)
	for i := 0; i < n; i++ {
		data[i] = map[string]any{
			"name":  fmt.Sprintf("user%02d", i),
			"score": i,
		}
	}
	if _, err := exec.Insert(context.Background(), "chat", "users", data); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestSearch_Truncation(t *testing.T) {
	exec, reg, _ := newTestExecutor(t)
	registerUsers(t, reg, "chat")
	seedUsers(t, exec, 15)
	ctx := context.Background()

	result, err := exec.Search(ctx, "chat", "users", SearchParams{Limit: 10})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(result.Rows) != 10 || result.Count != 10 {
		t.Errorf("limit 10: got %d rows, count %d", len(result.Rows), result.Count)
	}
	if !result.Truncated {
		t.Error("limit 10 over 15 rows: truncated should be true")
	}

	result, err = exec.Search(ctx, "chat", "users", SearchParams{Limit: 20})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(result.Rows) != 15 || result.Truncated {
		t.Errorf("limit 20 over 15 rows: got %d rows, truncated=%v", len(result.Rows), result.Truncated)
	}
}

func TestSearch_LimitClamping(t *testing.T) {
	exec, reg, _ := newTestExecutor(t)
	registerUsers(t, reg, "chat")

	if got := exec.clampLimit(0); got != DefaultLimit {
		t.Errorf("default: got %d", got)
	}
	if got := exec.clampLimit(-5); got != DefaultLimit {
		t.Errorf("negative: got %d", got)
	}
	if got := exec.clampLimit(MaxLimit + 1); got != MaxLimit {
		t.Errorf("over max: got %d", got)
	}
	if got := exec.clampLimit(7); got != 7 {
		t.Errorf("in range: got %d", got)
	}
}

func TestSearch_SortAndOffset(t *testing.T) {
	exec, reg, _ := newTestExecutor(t)
	registerUsers(t, reg, "chat")
	seedUsers(t, exec, 5)
	ctx := context.Background()

	result, err := exec.Search(ctx, "chat", "users", SearchParams{
		Sort:   []types.SortField{{Field: "score", Order: types.SortDesc}},
		Limit:  2,
		Offset: 1,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("rows: %d", len(result.Rows))
	}
	if result.Rows[0]["score"] != int64(3) || result.Rows[1]["score"] != int64(2) {
		t.Errorf("sorted page: got %v, %v", result.Rows[0]["score"], result.Rows[1]["score"])
	}
}

func TestSearch_FilterRejectedBeforeSQL(t *testing.T) {
	exec, reg, _ := newTestExecutor(t)
	registerUsers(t, reg, "chat")

	// $gt on a string-typed field fails the matrix before any query.
	_, err := exec.Search(context.Background(), "chat", "users", SearchParams{
		Filter: mustParseFilter(t, map[string]any{"name": map[string]any{"$gt": "a"}}),
	})
	if stratumerr.GetCode(err) != stratumerr.CodeValidationError {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
}

func TestSearch_Aggregates(t *testing.T) {
	exec, reg, _ := newTestExecutor(t)
	registerUsers(t, reg, "chat")
	seedUsers(t, exec, 10) // scores 0..9
	ctx := context.Background()

	aggs, err := compile.ParseAggregates(map[string]any{
		"total":     map[string]any{"$count": "*"},
		"score_sum": map[string]any{"$sum": "score"},
		"score_avg": map[string]any{"$avg": "score"},
		"score_min": map[string]any{"$min": "score"},
		"score_max": map[string]any{"$max": "score"},
	})
	if err != nil {
		t.Fatalf("parse aggregates: %v", err)
	}

	result, err := exec.Search(ctx, "chat", "users", SearchParams{
		Filter:     mustParseFilter(t, map[string]any{"score": map[string]any{"$gte": float64(5)}}),
		Limit:      2,
		Aggregates: aggs,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}

	// Aggregates cover all matches even though the page is smaller.
	if result.Aggregates["total"] != int64(5) {
		t.Errorf("count: got %v", result.Aggregates["total"])
	}
	if result.Aggregates["score_sum"] != int64(35) { // 5+6+7+8+9
		t.Errorf("sum: got %v", result.Aggregates["score_sum"])
	}
	if result.Aggregates["score_avg"] != float64(7) {
		t.Errorf("avg: got %v", result.Aggregates["score_avg"])
	}
	if result.Aggregates["score_min"] != int64(5) || result.Aggregates["score_max"] != int64(9) {
		t.Errorf("min/max: got %v, %v", result.Aggregates["score_min"], result.Aggregates["score_max"])
	}
}

func TestSearch_AggregateTypeRules(t *testing.T) {
	exec, reg, _ := newTestExecutor(t)
	registerUsers(t, reg, "chat")

	aggs, err := compile.ParseAggregates(map[string]any{
		"name_sum": map[string]any{"$sum": "name"},
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	_, err = exec.Search(context.Background(), "chat", "users", SearchParams{Aggregates: aggs})
	if stratumerr.GetCode(err) != stratumerr.CodeValidationError {
		t.Fatalf("$sum on string: got %v", err)
	}
}
