package types

import (
	"regexp"
	"strings"
)

// Row is a validated record keyed by field name. Values are always one
// of: string, int64, float64, bool, or nil, with datetimes represented
// as normalized UTC strings (see validate.TimeLayout).
type Row map[string]any

// SortOrder is the direction of a sort field.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// SortField is one entry in a priority-ordered sort specification.
type SortField struct {
	Field string    `json:"field"`
	Order SortOrder `json:"order"`
}

// identifierPattern constrains namespaces, table names, and field names.
// Lowercase, starts with a letter, max 64 characters.
var identifierPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// ValidIdentifier reports whether name is usable as a namespace, table,
// or field identifier. Everything interpolated into SQL as a name (never
// as a value) must pass this check. A double underscore is reserved as
// the namespace separator in physical table names, and a trailing
// underscore would make one namespace's physical prefix a prefix of
// another's; both are rejected so every physical name maps back to
// exactly one (namespace, table) pair.
func ValidIdentifier(name string) bool {
	if strings.Contains(name, "__") || strings.HasSuffix(name, "_") {
		return false
	}
	return identifierPattern.MatchString(name)
}
