// Package types defines the shared value types for the Stratum storage
// engine: field types, table schemas, rows, and sort specifications.
package types

import "fmt"

// FieldType is the logical type of a table field.
type FieldType string

const (
	FieldString   FieldType = "string"
	FieldText     FieldType = "text"
	FieldInteger  FieldType = "integer"
	FieldFloat    FieldType = "float"
	FieldBoolean  FieldType = "boolean"
	FieldDatetime FieldType = "datetime"
)

// Valid reports whether t is one of the supported field types.
func (t FieldType) Valid() bool {
	switch t {
	case FieldString, FieldText, FieldInteger, FieldFloat, FieldBoolean, FieldDatetime:
		return true
	}
	return false
}

// Numeric reports whether the type supports arithmetic update operators.
func (t FieldType) Numeric() bool {
	return t == FieldInteger || t == FieldFloat
}

// Orderable reports whether the type supports ordering comparisons
// ($gt, $gte, $lt, $lte and the $max/$min update operators).
func (t FieldType) Orderable() bool {
	return t.Numeric() || t == FieldDatetime
}

// Textual reports whether the type supports pattern matching.
func (t FieldType) Textual() bool {
	return t == FieldString || t == FieldText
}

// SQLType returns the declared SQLite column type for the field type.
// The names are chosen so that reflecting a table via PRAGMA table_info
// recovers the logical type exactly.
func (t FieldType) SQLType() string {
	switch t {
	case FieldString:
		return "VARCHAR"
	case FieldText:
		return "TEXT"
	case FieldInteger:
		return "INTEGER"
	case FieldFloat:
		return "FLOAT"
	case FieldBoolean:
		return "BOOLEAN"
	case FieldDatetime:
		return "DATETIME"
	}
	return ""
}

// FieldTypeFromSQL is the inverse of SQLType. Returns false for column
// types this engine never declares.
func FieldTypeFromSQL(sqlType string) (FieldType, bool) {
	switch sqlType {
	case "VARCHAR":
		return FieldString, true
	case "TEXT":
		return FieldText, true
	case "INTEGER":
		return FieldInteger, true
	case "FLOAT":
		return FieldFloat, true
	case "BOOLEAN":
		return FieldBoolean, true
	case "DATETIME":
		return FieldDatetime, true
	}
	return "", false
}

// Reserved field names present on every table. They are managed by the
// engine and may not be declared, inserted, or overwritten by callers.
const (
	FieldID        = "id"
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"
)

// IsReserved reports whether name is one of the implicit engine fields.
func IsReserved(name string) bool {
	return name == FieldID || name == FieldCreatedAt || name == FieldUpdatedAt
}

// FieldDef defines a single declared field in a table schema.
type FieldDef struct {
	// Name is the field name
	Name string `json:"name"`

	// Type is the logical field type
	Type FieldType `json:"type"`

	// Required indicates the field must be present and non-null on insert
	Required bool `json:"required"`
}

// TableSchema defines the declared structure of a namespaced table.
// The three reserved fields (id, created_at, updated_at) are implicit
// and never appear in Fields.
type TableSchema struct {
	// Namespace is the owning plugin's isolation boundary
	Namespace string `json:"namespace"`

	// Table is the logical table name within the namespace
	Table string `json:"table"`

	// Fields are the declared fields in registration order
	Fields []FieldDef `json:"fields"`
}

// Field resolves a field name to its definition. Reserved fields
// resolve to their engine-defined types (id: integer, created_at and
// updated_at: datetime) so they can appear in filters and sorts.
func (s *TableSchema) Field(name string) (FieldDef, bool) {
	switch name {
	case FieldID:
		return FieldDef{Name: FieldID, Type: FieldInteger, Required: true}, true
	case FieldCreatedAt:
		return FieldDef{Name: FieldCreatedAt, Type: FieldDatetime, Required: true}, true
	case FieldUpdatedAt:
		return FieldDef{Name: FieldUpdatedAt, Type: FieldDatetime, Required: true}, true
	}
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDef{}, false
}

// FieldNames returns the declared field names in registration order.
func (s *TableSchema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Equal compares two schemas for structural equality.
func (s *TableSchema) Equal(other *TableSchema) bool {
	if s.Namespace != other.Namespace || s.Table != other.Table || len(s.Fields) != len(other.Fields) {
		return false
	}
	for i := range s.Fields {
		if s.Fields[i] != other.Fields[i] {
			return false
		}
	}
	return true
}

// PhysicalName returns the physical table name for a namespaced table.
// The namespace is always part of the physical name, so two namespaces
// can never collide even for identical logical table names.
func PhysicalName(namespace, table string) string {
	return fmt.Sprintf("%s__%s", namespace, table)
}

// NamespacePrefix returns the physical-name prefix owned by a namespace.
func NamespacePrefix(namespace string) string {
	return namespace + "__"
}
