// Package validate implements type coercion of raw request values
// against a registered table schema. Every literal bound into a SQL
// statement passes through this package first, so coercion doubles as
// the engine's injection defense: user values only ever reach the
// database as typed bind parameters.
package validate

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	stratumerr "github.com/stratumdb/stratum/internal/errors"
	"github.com/stratumdb/stratum/pkg/types"
)

// TimeLayout is the canonical storage format for datetime values:
// fixed-width RFC 3339 in UTC, nanosecond precision. Fixed width keeps
// lexicographic ordering identical to chronological ordering, which is
// what makes range predicates on TEXT datetime columns correct.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// datetimeLayouts are the accepted input formats, tried in order.
var datetimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// truthy is the set of strings coerced to boolean true (case-insensitive).
var truthy = map[string]bool{
	"true": true, "1": true, "yes": true, "on": true,
}

// FormatTime renders t in the canonical storage format.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// Now returns the current time in the canonical storage format.
func Now() string {
	return FormatTime(time.Now())
}

// Coerce validates rawData against schema and returns a typed row.
// Unknown keys, reserved keys, missing required fields, and
// uncoercible values are all hard errors naming the offending field;
// values are never silently dropped or defaulted.
func Coerce(rawData map[string]any, schema *types.TableSchema) (types.Row, error) {
	for key := range rawData {
		if types.IsReserved(key) {
			return nil, stratumerr.NewValidationErrorf("field %s is reserved and cannot be supplied", key)
		}
		if _, ok := schema.Field(key); !ok {
			return nil, stratumerr.NewValidationErrorf("unknown field %s for table %s", key, schema.Table)
		}
	}

	row := make(types.Row, len(schema.Fields))
	for _, field := range schema.Fields {
		raw, present := rawData[field.Name]
		if !present {
			if field.Required {
				return nil, stratumerr.NewMissingFieldError(field.Name)
			}
			continue
		}
		value, err := CoerceValue(field, raw)
		if err != nil {
			return nil, err
		}
		row[field.Name] = value
	}
	return row, nil
}

// CoerceValue coerces a single raw value to the storage representation
// for the field's type: string for string/text/datetime, int64 for
// integer, float64 for float, bool for boolean, or nil.
func CoerceValue(field types.FieldDef, raw any) (any, error) {
	if raw == nil {
		if field.Required {
			return nil, stratumerr.NewValidationErrorf("field %s is required and cannot be null", field.Name)
		}
		return nil, nil
	}

	switch field.Type {
	case types.FieldString, types.FieldText:
		return coerceString(field.Name, raw)
	case types.FieldInteger:
		return coerceInteger(field.Name, raw)
	case types.FieldFloat:
		return coerceFloat(field.Name, raw)
	case types.FieldBoolean:
		return coerceBoolean(field.Name, raw)
	case types.FieldDatetime:
		return coerceDatetime(field.Name, raw)
	}
	return nil, stratumerr.NewValidationErrorf("field %s has unsupported type %s", field.Name, field.Type)
}

func coerceString(name string, raw any) (any, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		// JSON integers arrive as float64; render them without a
		// trailing ".0" when the value is integral.
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10), nil
		}
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	}
	return nil, stratumerr.NewValidationErrorf("field %s: cannot convert %T to string", name, raw)
}

func coerceInteger(name string, raw any) (any, error) {
	switch v := raw.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	case float32:
		return int64(v), nil
	case string:
		s := strings.TrimSpace(v)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int64(f), nil
		}
		return nil, stratumerr.NewValidationErrorf("field %s: %q is not a valid integer", name, v)
	}
	return nil, stratumerr.NewValidationErrorf("field %s: cannot convert %T to integer", name, raw)
}

func coerceFloat(name string, raw any) (any, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, stratumerr.NewValidationErrorf("field %s: %q is not a valid float", name, v)
		}
		return f, nil
	}
	return nil, stratumerr.NewValidationErrorf("field %s: cannot convert %T to float", name, raw)
}

func coerceBoolean(name string, raw any) (any, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		return truthy[strings.ToLower(strings.TrimSpace(v))], nil
	// Numbers follow the same truthy set as strings: 1 is true,
	// everything else is false.
	case int:
		return v == 1, nil
	case int64:
		return v == 1, nil
	case float64:
		return v == 1, nil
	}
	return nil, stratumerr.NewValidationErrorf("field %s: cannot convert %T to boolean", name, raw)
}

func coerceDatetime(name string, raw any) (any, error) {
	switch v := raw.(type) {
	case time.Time:
		return FormatTime(v), nil
	case string:
		t, err := ParseTime(v)
		if err != nil {
			return nil, stratumerr.NewValidationErrorf("field %s: %q is not a valid ISO-8601 datetime", name, v)
		}
		return FormatTime(t), nil
	}
	return nil, stratumerr.NewValidationErrorf("field %s: cannot convert %T to datetime", name, raw)
}

// ParseTime parses an ISO-8601 datetime string, accepting RFC 3339
// with Z or numeric offsets as well as zone-less timestamps and plain
// dates (interpreted as UTC).
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range datetimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized datetime %q", s)
}
