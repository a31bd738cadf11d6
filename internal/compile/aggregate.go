package compile

import (
	"fmt"
	"sort"
	"strings"

	stratumerr "github.com/stratumdb/stratum/internal/errors"
	"github.com/stratumdb/stratum/pkg/types"
)

// AggregateOp is a search-time aggregate function.
type AggregateOp int

const (
	AggCount AggregateOp = iota
	AggSum
	AggAvg
	AggMin
	AggMax
)

var aggregateOpNames = map[AggregateOp]string{
	AggCount: "$count", AggSum: "$sum", AggAvg: "$avg", AggMin: "$min", AggMax: "$max",
}

var aggregateOpsByName = func() map[string]AggregateOp {
	m := make(map[string]AggregateOp, len(aggregateOpNames))
	for op, name := range aggregateOpNames {
		m[name] = op
	}
	return m
}()

// String returns the wire name of the operator.
func (op AggregateOp) String() string {
	return aggregateOpNames[op]
}

func (op AggregateOp) sqlFunc() string {
	switch op {
	case AggCount:
		return "COUNT"
	case AggSum:
		return "SUM"
	case AggAvg:
		return "AVG"
	case AggMin:
		return "MIN"
	case AggMax:
		return "MAX"
	}
	return ""
}

// AggregateSpec is one requested aggregate.
type AggregateSpec struct {
	Op    AggregateOp
	Field string // ignored for $count
}

// ParseAggregates parses the wire shape
// {"alias": {"$sum": "score"}, "total": {"$count": "*"}}.
func ParseAggregates(doc map[string]any) (map[string]AggregateSpec, error) {
	specs := make(map[string]AggregateSpec, len(doc))
	for alias, value := range doc {
		opDoc, ok := value.(map[string]any)
		if !ok || len(opDoc) != 1 {
			return nil, stratumerr.NewValidationErrorf("aggregate %s must use exactly one operator", alias)
		}
		for name, operand := range opDoc {
			op, known := aggregateOpsByName[name]
			if !known {
				return nil, stratumerr.NewValidationErrorf("unknown aggregate operator %s for %s", name, alias)
			}
			field, ok := operand.(string)
			if !ok {
				return nil, stratumerr.NewValidationErrorf("aggregate %s operand must be a field name", alias)
			}
			specs[alias] = AggregateSpec{Op: op, Field: field}
		}
	}
	return specs, nil
}

// CompileAggregates renders the select list for the requested
// aggregates, validating aliases, fields, and type compatibility
// ($sum/$avg numeric only). Aliases come back in deterministic order
// matching the select list.
func CompileAggregates(specs map[string]AggregateSpec, schema *types.TableSchema) (selectList string, aliases []string, err error) {
	if len(specs) == 0 {
		return "", nil, nil
	}

	aliases = make([]string, 0, len(specs))
	for alias := range specs {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)

	parts := make([]string, 0, len(aliases))
	for _, alias := range aliases {
		if !types.ValidIdentifier(alias) {
			return "", nil, stratumerr.NewValidationErrorf("invalid aggregate alias %q", alias)
		}
		spec := specs[alias]

		if spec.Op == AggCount {
			parts = append(parts, fmt.Sprintf("COUNT(*) AS %q", alias))
			continue
		}

		field, ok := schema.Field(spec.Field)
		if !ok {
			return "", nil, stratumerr.NewValidationErrorf("unknown field %s in aggregate %s", spec.Field, alias)
		}
		if (spec.Op == AggSum || spec.Op == AggAvg) && !field.Type.Numeric() {
			return "", nil, stratumerr.NewValidationErrorf(
				"aggregate %s is not valid for field %s of type %s", spec.Op, field.Name, field.Type)
		}
		parts = append(parts, fmt.Sprintf("%s(%q) AS %q", spec.Op.sqlFunc(), field.Name, alias))
	}

	return strings.Join(parts, ", "), aliases, nil
}
