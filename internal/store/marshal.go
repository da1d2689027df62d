package store

import (
	"database/sql"
	"fmt"

	"github.com/roach88/docsync/internal/model"
)

// marshalBody converts a body to canonical JSON TEXT for storage.
// Uses RFC 8785 canonical JSON so identical bodies store identically.
func marshalBody(body model.Object) (string, error) {
	if body == nil {
		body = model.Object{}
	}
	data, err := model.MarshalCanonical(body)
	if err != nil {
		return "", fmt.Errorf("marshal body: %w", err)
	}
	return string(data), nil
}

// unmarshalBody parses a stored body.
func unmarshalBody(s string) (model.Object, error) {
	obj, err := model.ParseObject([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("unmarshal body: %w", err)
	}
	return obj, nil
}

// unmarshalNullableBody parses a revision body that compaction may have
// dropped. A dropped body comes back nil.
func unmarshalNullableBody(s sql.NullString) (model.Object, error) {
	if !s.Valid {
		return nil, nil
	}
	return unmarshalBody(s.String)
}

// marshalFields stores an index field list as a canonical JSON array.
func marshalFields(fields []string) (string, error) {
	v, err := model.FromAny(fields)
	if err != nil {
		return "", fmt.Errorf("marshal fields: %w", err)
	}
	data, err := model.MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("marshal fields: %w", err)
	}
	return string(data), nil
}

func unmarshalFields(s string) ([]string, error) {
	var arr model.Array
	if err := arr.UnmarshalJSON([]byte(s)); err != nil {
		return nil, fmt.Errorf("unmarshal fields: %w", err)
	}
	fields := make([]string, 0, len(arr))
	for i, v := range arr {
		f, ok := v.(model.String)
		if !ok {
			return nil, fmt.Errorf("unmarshal fields: element %d is %T", i, v)
		}
		fields = append(fields, string(f))
	}
	return fields, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
