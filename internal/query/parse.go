package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/docsync/internal/model"
)

// Operators accepted inside a field selector.
const (
	OpEq     = "$eq"
	OpExists = "$exists"
	OpAnd    = "$and"
)

// Parse converts a selector map into a Predicate.
// Malformed selectors return a model.KindValidation error.
func Parse(selector map[string]any) (Predicate, error) {
	obj, err := model.ObjectFromMap(selector)
	if err != nil {
		return nil, model.Wrap(model.KindValidation, "parse filter", err)
	}
	return ParseObject(obj)
}

// ParseJSON parses a selector from JSON text.
func ParseJSON(data []byte) (Predicate, error) {
	obj, err := model.ParseObject(data)
	if err != nil {
		return nil, model.Wrap(model.KindValidation, "parse filter", err)
	}
	return ParseObject(obj)
}

// ParseObject converts a selector object into a Predicate. Clauses are
// ordered by field name so the same selector always compiles the same way.
func ParseObject(selector model.Object) (Predicate, error) {
	var preds []Predicate

	keys := make([]string, 0, len(selector))
	for k := range selector {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, field := range keys {
		val := selector[field]
		if field == OpAnd {
			arr, ok := val.(model.Array)
			if !ok {
				return nil, invalid("%s requires an array of selectors", OpAnd)
			}
			for i, elem := range arr {
				sub, ok := elem.(model.Object)
				if !ok {
					return nil, invalid("%s[%d] must be an object", OpAnd, i)
				}
				p, err := ParseObject(sub)
				if err != nil {
					return nil, err
				}
				preds = append(preds, Clauses(p)...)
			}
			continue
		}

		if err := ValidateField(field); err != nil {
			return nil, err
		}
		p, err := parseClause(field, val)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}

	return And{Predicates: preds}, nil
}

// parseClause interprets the value side of "field: value".
func parseClause(field string, val model.Value) (Predicate, error) {
	obj, ok := val.(model.Object)
	if !ok || !isOperatorObject(obj) {
		return Equals{Field: field, Value: val}, nil
	}
	if len(obj) != 1 {
		return nil, invalid("field %q: exactly one operator expected, got %d", field, len(obj))
	}

	for op, arg := range obj {
		switch op {
		case OpEq:
			return Equals{Field: field, Value: arg}, nil
		case OpExists:
			b, ok := arg.(model.Bool)
			if !ok {
				return nil, invalid("field %q: %s requires a boolean", field, OpExists)
			}
			return Exists{Field: field, Present: bool(b)}, nil
		default:
			return nil, invalid("field %q: unsupported operator %q", field, op)
		}
	}
	return nil, invalid("field %q: empty selector", field)
}

// isOperatorObject reports whether any key is an operator. Mixed objects
// are rejected by parseClause's single-operator check.
func isOperatorObject(obj model.Object) bool {
	for k := range obj {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}

// ValidateField checks a field path is usable in a filter, index, or
// projection.
func ValidateField(field string) error {
	if field == "" {
		return invalid("empty field path")
	}
	if strings.HasPrefix(field, "$") {
		return invalid("unknown top-level operator %q", field)
	}
	for _, part := range strings.Split(field, ".") {
		if part == "" {
			return invalid("field path %q has an empty segment", field)
		}
	}
	return nil
}

func invalid(format string, args ...any) error {
	return model.Errorf(model.KindValidation, "parse filter", format, args...)
}

// String renders a predicate for logs and CLI output.
func String(p Predicate) string {
	clauses := Clauses(p)
	if len(clauses) == 0 {
		return "true"
	}
	parts := make([]string, 0, len(clauses))
	for _, c := range clauses {
		switch pred := c.(type) {
		case Equals:
			v, err := model.CanonicalString(pred.Value)
			if err != nil {
				v = "?"
			}
			parts = append(parts, fmt.Sprintf("%s = %s", pred.Field, v))
		case Exists:
			if pred.Present {
				parts = append(parts, fmt.Sprintf("%s exists", pred.Field))
			} else {
				parts = append(parts, fmt.Sprintf("%s missing", pred.Field))
			}
		default:
			parts = append(parts, fmt.Sprintf("%T", c))
		}
	}
	return strings.Join(parts, " AND ")
}
