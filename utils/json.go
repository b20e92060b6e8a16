package utils

import (
	"encoding/json"
)

// RawSnapshot marshals v into an owned json.RawMessage. A nil input yields nil
// so "no before state" stays distinguishable from an empty object.
func RawSnapshot(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(b) == "null" {
		return nil, nil
	}
	return json.RawMessage(b), nil
}
