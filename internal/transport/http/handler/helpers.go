package handler

import (
	"encoding/json"
	"time"
)

const rfc3339 = time.RFC3339

func timeNow() time.Time { return time.Now().UTC() }

// marshalPayload normalizes an arbitrary decoded JSON value (map, slice,
// scalar, or nil) back into json.RawMessage for storage on the Task row.
func marshalPayload(v any) (json.RawMessage, error) {
	if v == nil {
		return json.RawMessage("null"), nil
	}
	return json.Marshal(v)
}

func marshalSSEPayload(v any) ([]byte, error) {
	return json.Marshal(v)
}
