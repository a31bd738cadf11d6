package compile

import (
	"sort"
	"strings"

	stratumerr "github.com/stratumdb/stratum/internal/errors"
)

// ParseFilter parses a MongoDB-style filter document into a filter
// tree. Document keys are processed in sorted order so the same
// document always compiles to the same SQL text.
//
// Supported shapes:
//
//	{"name": "alice"}                      implicit $eq
//	{"score": {"$gte": 10, "$lt": 20}}     operator document
//	{"$or": [{...}, {...}]}                logical combinators
//	{"$not": {...}}
//
// An empty document parses to nil (match everything).
func ParseFilter(doc map[string]any) (Filter, error) {
	if len(doc) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var children []Filter
	for _, key := range keys {
		value := doc[key]
		switch key {
		case "$and", "$or":
			node, err := parseLogicalList(key, value)
			if err != nil {
				return nil, err
			}
			children = append(children, node)
		case "$not":
			childDoc, ok := value.(map[string]any)
			if !ok {
				return nil, stratumerr.NewValidationError("$not requires a filter document")
			}
			child, err := ParseFilter(childDoc)
			if err != nil {
				return nil, err
			}
			if child == nil {
				return nil, stratumerr.NewValidationError("$not requires a non-empty filter document")
			}
			children = append(children, Logical{Op: LogicalNot, Children: []Filter{child}})
		default:
			if strings.HasPrefix(key, "$") {
				return nil, stratumerr.NewValidationErrorf("unknown logical operator %s", key)
			}
			nodes, err := parseFieldCondition(key, value)
			if err != nil {
				return nil, err
			}
			children = append(children, nodes...)
		}
	}

	if len(children) == 1 {
		return children[0], nil
	}
	return Logical{Op: LogicalAnd, Children: children}, nil
}

func parseLogicalList(name string, value any) (Filter, error) {
	list, ok := value.([]any)
	if !ok || len(list) == 0 {
		return nil, stratumerr.NewValidationErrorf("%s requires a non-empty array of filter documents", name)
	}
	op := LogicalAnd
	if name == "$or" {
		op = LogicalOr
	}
	children := make([]Filter, 0, len(list))
	for _, item := range list {
		doc, ok := item.(map[string]any)
		if !ok {
			return nil, stratumerr.NewValidationErrorf("%s entries must be filter documents", name)
		}
		child, err := ParseFilter(doc)
		if err != nil {
			return nil, err
		}
		if child == nil {
			return nil, stratumerr.NewValidationErrorf("%s entries must not be empty", name)
		}
		children = append(children, child)
	}
	return Logical{Op: op, Children: children}, nil
}

// parseFieldCondition parses one field's condition: either a bare
// scalar (implicit $eq) or an operator document. Multiple operators on
// one field combine with AND.
func parseFieldCondition(field string, value any) ([]Filter, error) {
	opDoc, ok := value.(map[string]any)
	if !ok {
		return []Filter{Comparison{Field: field, Op: OpEq, Value: value}}, nil
	}
	if len(opDoc) == 0 {
		return nil, stratumerr.NewValidationErrorf("empty operator document for field %s", field)
	}

	opNames := make([]string, 0, len(opDoc))
	for name := range opDoc {
		opNames = append(opNames, name)
	}
	sort.Strings(opNames)

	nodes := make([]Filter, 0, len(opDoc))
	for _, name := range opNames {
		op, ok := ParseCompareOp(name)
		if !ok {
			return nil, stratumerr.NewValidationErrorf("unknown operator %s for field %s", name, field)
		}
		nodes = append(nodes, Comparison{Field: field, Op: op, Value: opDoc[name]})
	}
	return nodes, nil
}

// ParseUpdate parses a per-field update document. A field's value is
// either an operator document ({"$inc": 1}) or a bare value (implicit
// $set). Exactly one operator per field.
func ParseUpdate(doc map[string]any) (map[string]UpdateSpec, error) {
	if len(doc) == 0 {
		return nil, stratumerr.NewValidationError("update requires at least one operation")
	}

	ops := make(map[string]UpdateSpec, len(doc))
	for field, value := range doc {
		opDoc, ok := value.(map[string]any)
		if !ok {
			ops[field] = UpdateSpec{Op: UpdateSet, Value: value}
			continue
		}
		if len(opDoc) != 1 {
			return nil, stratumerr.NewValidationErrorf("field %s must use exactly one update operator", field)
		}
		for name, operand := range opDoc {
			op, known := ParseUpdateOp(name)
			if !known {
				return nil, stratumerr.NewValidationErrorf("unknown update operator %s for field %s", name, field)
			}
			ops[field] = UpdateSpec{Op: op, Value: operand}
		}
	}
	return ops, nil
}
