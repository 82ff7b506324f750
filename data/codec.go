package data

import (
	"encoding/json"
	"fmt"
)

// EncodeTags renders tags as a JSON object.
func EncodeTags(tags map[string]string) string {
	if len(tags) == 0 {
		return "{}"
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// DecodeTags parses a JSON object written by EncodeTags. Malformed input
// yields an empty map.
func DecodeTags(s string) map[string]string {
	out := make(map[string]string)
	if s == "" {
		return out
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return make(map[string]string)
	}
	return out
}

// EncodeMap renders a free-form map as JSON. Values that cannot be encoded
// are stored as their fmt representation instead of failing the row.
func EncodeMap(m map[string]any) string {
	if len(m) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err == nil {
		return string(b)
	}
	safe := make(map[string]any, len(m))
	for k, v := range m {
		if _, err := json.Marshal(v); err != nil {
			safe[k] = fmt.Sprint(v)
			continue
		}
		safe[k] = v
	}
	b, err = json.Marshal(safe)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// DecodeMap parses a JSON object written by EncodeMap.
func DecodeMap(s string) map[string]any {
	out := make(map[string]any)
	if s == "" {
		return out
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return make(map[string]any)
	}
	return out
}
