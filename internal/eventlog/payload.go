package eventlog

import "encoding/json"

// DecodePayload decodes an Event's Payload (which, once it has round
// tripped through a store, is a map[string]any or already the concrete
// type when constructed in-process) into T.
func DecodePayload[T any](payload any) (T, error) {
	var out T
	if t, ok := payload.(T); ok {
		return t, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, err
	}
	return out, nil
}
