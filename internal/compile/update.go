package compile

import (
	"fmt"
	"sort"
	"strings"

	stratumerr "github.com/stratumdb/stratum/internal/errors"
	"github.com/stratumdb/stratum/internal/validate"
	"github.com/stratumdb/stratum/pkg/types"
)

// UpdateSpec is one field's mutation.
type UpdateSpec struct {
	Op    UpdateOp
	Value any
}

// CompileUpdate lowers per-field update operations into one
// parameterized SET clause. The arithmetic operators compile to
// database-evaluated expressions (field = field + ?), so increments
// applied under the statement's WHERE clause are atomic under
// concurrent callers. updated_at is always appended with the supplied
// timestamp; the reserved fields are rejected as immutable.
func CompileUpdate(ops map[string]UpdateSpec, schema *types.TableSchema, now string) (*Fragment, error) {
	if len(ops) == 0 {
		return nil, stratumerr.NewValidationError("update requires at least one operation")
	}

	// Deterministic clause order keeps the SQL text stable for the
	// prepared statement cache.
	fields := make([]string, 0, len(ops))
	for name := range ops {
		fields = append(fields, name)
	}
	sort.Strings(fields)

	var b strings.Builder
	var args []any

	for _, name := range fields {
		if types.IsReserved(name) {
			return nil, stratumerr.NewValidationErrorf("field %s is immutable and cannot be updated", name)
		}
		field, ok := schema.Field(name)
		if !ok {
			return nil, stratumerr.NewValidationErrorf("unknown field %s in update for table %s", name, schema.Table)
		}
		spec := ops[name]
		if !spec.Op.CompatibleWith(field.Type) {
			return nil, stratumerr.NewValidationErrorf(
				"operator %s is not valid for field %s of type %s", spec.Op, field.Name, field.Type)
		}

		value, err := coerceUpdateValue(field, spec)
		if err != nil {
			return nil, err
		}

		if b.Len() > 0 {
			b.WriteString(", ")
		}
		col := fmt.Sprintf("%q", field.Name)

		switch spec.Op {
		case UpdateSet:
			fmt.Fprintf(&b, "%s = ?", col)
			args = append(args, value)
		case UpdateInc:
			fmt.Fprintf(&b, "%s = %s + ?", col, col)
			args = append(args, value)
		case UpdateDec:
			fmt.Fprintf(&b, "%s = %s - ?", col, col)
			args = append(args, value)
		case UpdateMul:
			fmt.Fprintf(&b, "%s = %s * ?", col, col)
			args = append(args, value)
		case UpdateMax:
			fmt.Fprintf(&b, "%s = CASE WHEN ? > %s THEN ? ELSE %s END", col, col, col)
			args = append(args, value, value)
		case UpdateMin:
			fmt.Fprintf(&b, "%s = CASE WHEN ? < %s THEN ? ELSE %s END", col, col, col)
			args = append(args, value, value)
		default:
			return nil, stratumerr.NewInternalError(fmt.Sprintf("unknown update operator %d", spec.Op), nil)
		}
	}

	b.WriteString(`, "updated_at" = ?`)
	args = append(args, now)

	return &Fragment{SQL: b.String(), Args: args}, nil
}

// coerceUpdateValue coerces the operand. $set takes a value of the
// field's type (null allowed for optional fields); the arithmetic and
// extremum operators take an operand matching the field's type.
func coerceUpdateValue(field types.FieldDef, spec UpdateSpec) (any, error) {
	if spec.Op == UpdateSet {
		return validate.CoerceValue(field, spec.Value)
	}
	if spec.Value == nil {
		return nil, stratumerr.NewValidationErrorf("%s on field %s requires a non-null operand", spec.Op, field.Name)
	}
	return validate.CoerceValue(types.FieldDef{Name: field.Name, Type: field.Type}, spec.Value)
}
