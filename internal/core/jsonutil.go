package core

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// toJSONMap round-trips v through encoding/json to obtain a
// map[string]any view of it, the representation the rest of this package
// operates on.
func toJSONMap(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode into object: %w", err)
	}
	return m, nil
}

// fromJSONMap decodes a generic map into T.
func fromJSONMap[T any](m map[string]any) (T, error) {
	var zero T
	b, err := json.Marshal(m)
	if err != nil {
		return zero, fmt.Errorf("marshal: %w", err)
	}
	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		return zero, fmt.Errorf("unmarshal: %w", err)
	}
	return out, nil
}

// asInt coerces a decoded JSON number (json.Number, float64, or int) into
// an int.
func asInt(v any) (int, error) {
	switch t := v.(type) {
	case json.Number:
		i, err := t.Int64()
		if err != nil {
			return 0, err
		}
		return int(i), nil
	case float64:
		return int(t), nil
	case int:
		return t, nil
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}
