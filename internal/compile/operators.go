// Package compile lowers MongoDB-style filter and update operator
// documents into parameterized SQL fragments. Operators are closed
// enums compiled via exhaustive switches, so adding an operator is a
// compile-time-checked change. User values never reach the SQL text;
// they are always bound as parameters after type coercion.
package compile

import "github.com/stratumdb/stratum/pkg/types"

// CompareOp is a comparison operator in a filter leaf.
type CompareOp int

const (
	OpEq CompareOp = iota
	OpNe
	OpGt
	OpGte
	OpLt
	OpLte
	OpIn
	OpNin
	OpLike
	OpILike
	OpExists
	OpNull
)

var compareOpNames = map[CompareOp]string{
	OpEq: "$eq", OpNe: "$ne", OpGt: "$gt", OpGte: "$gte", OpLt: "$lt", OpLte: "$lte",
	OpIn: "$in", OpNin: "$nin", OpLike: "$like", OpILike: "$ilike",
	OpExists: "$exists", OpNull: "$null",
}

var compareOpsByName = func() map[string]CompareOp {
	m := make(map[string]CompareOp, len(compareOpNames))
	for op, name := range compareOpNames {
		m[name] = op
	}
	return m
}()

// String returns the wire name of the operator.
func (op CompareOp) String() string {
	return compareOpNames[op]
}

// ParseCompareOp resolves a wire operator name.
func ParseCompareOp(name string) (CompareOp, bool) {
	op, ok := compareOpsByName[name]
	return op, ok
}

// CompatibleWith implements the fixed type/operator matrix: ordering
// operators only on numeric/datetime fields, pattern operators only on
// string/text, everything else on every type.
func (op CompareOp) CompatibleWith(t types.FieldType) bool {
	switch op {
	case OpGt, OpGte, OpLt, OpLte:
		return t.Orderable()
	case OpLike, OpILike:
		return t.Textual()
	case OpEq, OpNe, OpIn, OpNin, OpExists, OpNull:
		return true
	}
	return false
}

// LogicalOp combines filter subtrees.
type LogicalOp int

const (
	LogicalAnd LogicalOp = iota
	LogicalOr
	LogicalNot
)

// String returns the wire name of the operator.
func (op LogicalOp) String() string {
	switch op {
	case LogicalAnd:
		return "$and"
	case LogicalOr:
		return "$or"
	case LogicalNot:
		return "$not"
	}
	return ""
}

// UpdateOp is a per-field mutation operator.
type UpdateOp int

const (
	UpdateSet UpdateOp = iota
	UpdateInc
	UpdateDec
	UpdateMul
	UpdateMax
	UpdateMin
)

var updateOpNames = map[UpdateOp]string{
	UpdateSet: "$set", UpdateInc: "$inc", UpdateDec: "$dec",
	UpdateMul: "$mul", UpdateMax: "$max", UpdateMin: "$min",
}

var updateOpsByName = func() map[string]UpdateOp {
	m := make(map[string]UpdateOp, len(updateOpNames))
	for op, name := range updateOpNames {
		m[name] = op
	}
	return m
}()

// String returns the wire name of the operator.
func (op UpdateOp) String() string {
	return updateOpNames[op]
}

// ParseUpdateOp resolves a wire operator name.
func ParseUpdateOp(name string) (UpdateOp, bool) {
	op, ok := updateOpsByName[name]
	return op, ok
}

// CompatibleWith restricts mutation operators by field type. The
// arithmetic operators require numeric fields; $max/$min additionally
// work on datetimes (whose storage ordering is lexicographic).
func (op UpdateOp) CompatibleWith(t types.FieldType) bool {
	switch op {
	case UpdateSet:
		return true
	case UpdateInc, UpdateDec, UpdateMul:
		return t.Numeric()
	case UpdateMax, UpdateMin:
		return t.Orderable()
	}
	return false
}
