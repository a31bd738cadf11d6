package compile

import (
	"fmt"
	"strings"

	stratumerr "github.com/stratumdb/stratum/internal/errors"
	"github.com/stratumdb/stratum/internal/validate"
	"github.com/stratumdb/stratum/pkg/types"
)

// Filter is a node in a filter expression tree.
type Filter interface {
	isFilter()
}

// Comparison is a leaf: one field, one operator, one literal.
type Comparison struct {
	Field string
	Op    CompareOp
	Value any
}

// Logical combines child subtrees with $and, $or, or $not.
type Logical struct {
	Op       LogicalOp
	Children []Filter
}

func (Comparison) isFilter() {}
func (Logical) isFilter()    {}

// Fragment is a compiled SQL fragment with its bind parameters.
type Fragment struct {
	SQL  string
	Args []any
}

// CompileFilter lowers a filter tree into one parameterized predicate.
// A nil filter compiles to a nil fragment (no WHERE clause). Operator
// compatibility and literal coercion are checked for every leaf before
// any SQL text is assembled.
func CompileFilter(f Filter, schema *types.TableSchema) (*Fragment, error) {
	if f == nil {
		return nil, nil
	}
	var b strings.Builder
	var args []any
	if err := compileNode(f, schema, &b, &args); err != nil {
		return nil, err
	}
	return &Fragment{SQL: b.String(), Args: args}, nil
}

func compileNode(f Filter, schema *types.TableSchema, b *strings.Builder, args *[]any) error {
	switch node := f.(type) {
	case Comparison:
		return compileComparison(node, schema, b, args)
	case Logical:
		return compileLogical(node, schema, b, args)
	}
	return stratumerr.NewInternalError(fmt.Sprintf("unknown filter node %T", f), nil)
}

func compileLogical(node Logical, schema *types.TableSchema, b *strings.Builder, args *[]any) error {
	switch node.Op {
	case LogicalAnd, LogicalOr:
		if len(node.Children) == 0 {
			return stratumerr.NewValidationErrorf("%s requires at least one condition", node.Op)
		}
		joiner := " AND "
		if node.Op == LogicalOr {
			joiner = " OR "
		}
		b.WriteString("(")
		for i, child := range node.Children {
			if i > 0 {
				b.WriteString(joiner)
			}
			if err := compileNode(child, schema, b, args); err != nil {
				return err
			}
		}
		b.WriteString(")")
		return nil
	case LogicalNot:
		if len(node.Children) != 1 {
			return stratumerr.NewValidationError("$not requires exactly one condition")
		}
		b.WriteString("NOT (")
		if err := compileNode(node.Children[0], schema, b, args); err != nil {
			return err
		}
		b.WriteString(")")
		return nil
	}
	return stratumerr.NewInternalError(fmt.Sprintf("unknown logical operator %d", node.Op), nil)
}

func compileComparison(node Comparison, schema *types.TableSchema, b *strings.Builder, args *[]any) error {
	field, ok := schema.Field(node.Field)
	if !ok {
		return stratumerr.NewValidationErrorf("unknown field %s in filter for table %s", node.Field, schema.Table)
	}
	if !node.Op.CompatibleWith(field.Type) {
		return stratumerr.NewValidationErrorf(
			"operator %s is not valid for field %s of type %s", node.Op, field.Name, field.Type)
	}

	col := fmt.Sprintf("%q", field.Name)

	switch node.Op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte:
		value, err := coerceLiteral(field, node.Op, node.Value)
		if err != nil {
			return err
		}
		fmt.Fprintf(b, "%s %s ?", col, sqlComparison(node.Op))
		*args = append(*args, value)
		return nil

	case OpIn, OpNin:
		list, ok := node.Value.([]any)
		if !ok || len(list) == 0 {
			return stratumerr.NewValidationErrorf("%s on field %s requires a non-empty array", node.Op, field.Name)
		}
		coerced := make([]any, len(list))
		for i, raw := range list {
			v, err := coerceLiteral(field, node.Op, raw)
			if err != nil {
				return err
			}
			coerced[i] = v
		}
		keyword := "IN"
		if node.Op == OpNin {
			keyword = "NOT IN"
		}
		fmt.Fprintf(b, "%s %s (%s)", col, keyword, placeholders(len(coerced)))
		*args = append(*args, coerced...)
		return nil

	case OpLike, OpILike:
		pattern, ok := node.Value.(string)
		if !ok {
			return stratumerr.NewValidationErrorf("%s on field %s requires a string pattern", node.Op, field.Name)
		}
		if node.Op == OpILike {
			fmt.Fprintf(b, "LOWER(%s) LIKE LOWER(?)", col)
		} else {
			fmt.Fprintf(b, "%s LIKE ?", col)
		}
		*args = append(*args, pattern)
		return nil

	case OpExists, OpNull:
		flag, ok := node.Value.(bool)
		if !ok {
			return stratumerr.NewValidationErrorf("%s on field %s requires a boolean", node.Op, field.Name)
		}
		// Columns always exist in a relational table; NULL is the
		// absence signal, so $exists:false ≡ $null:true.
		wantNull := flag
		if node.Op == OpExists {
			wantNull = !flag
		}
		if wantNull {
			fmt.Fprintf(b, "%s IS NULL", col)
		} else {
			fmt.Fprintf(b, "%s IS NOT NULL", col)
		}
		return nil
	}
	return stratumerr.NewInternalError(fmt.Sprintf("unknown comparison operator %d", node.Op), nil)
}

// coerceLiteral coerces a comparison literal through the validator.
// A nil literal is rejected: NULL never matches a SQL comparison, so
// callers must use $null or $exists instead.
func coerceLiteral(field types.FieldDef, op CompareOp, raw any) (any, error) {
	if raw == nil {
		return nil, stratumerr.NewValidationErrorf(
			"%s on field %s cannot compare against null, use $null", op, field.Name)
	}
	// Coercion ignores the required flag for filter literals.
	return validate.CoerceValue(types.FieldDef{Name: field.Name, Type: field.Type}, raw)
}

func sqlComparison(op CompareOp) string {
	switch op {
	case OpEq:
		return "="
	case OpNe:
		return "!="
	case OpGt:
		return ">"
	case OpGte:
		return ">="
	case OpLt:
		return "<"
	case OpLte:
		return "<="
	}
	return ""
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// CompileSort renders a priority-ordered sort specification.
func CompileSort(sorts []types.SortField, schema *types.TableSchema) (string, error) {
	if len(sorts) == 0 {
		return "", nil
	}
	parts := make([]string, len(sorts))
	for i, s := range sorts {
		field, ok := schema.Field(s.Field)
		if !ok {
			return "", stratumerr.NewValidationErrorf("unknown sort field %s", s.Field)
		}
		direction := "ASC"
		switch strings.ToLower(string(s.Order)) {
		case "", string(types.SortAsc):
		case string(types.SortDesc):
			direction = "DESC"
		default:
			return "", stratumerr.NewValidationErrorf("invalid sort order %q for field %s", s.Order, s.Field)
		}
		parts[i] = fmt.Sprintf("%q %s", field.Name, direction)
	}
	return "ORDER BY " + strings.Join(parts, ", "), nil
}
