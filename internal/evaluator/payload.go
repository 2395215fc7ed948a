package evaluator

import json "github.com/goccy/go-json"

// parsePayload decodes raw (a json.RawMessage straight off the wire) and, if
// the decoded value is itself a JSON-encoded string, parses that string too
// — the payload may be double-encoded (spec §4.13). Parse failures at either
// stage fall back to the closest well-formed value available.
func parsePayload(raw []byte) any {
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return string(raw)
	}

	if s, ok := parsed.(string); ok {
		var inner any
		if err := json.Unmarshal([]byte(s), &inner); err == nil {
			return inner
		}
		return s
	}

	return parsed
}
