package audit

import (
	"encoding/json"
	"fmt"
)

const redactedPlaceholder = "[REDACTED]"

// redactedFields is the fixed deny list. Matching is by exact field
// name at any depth of the snapshot.
var redactedFields = map[string]bool{
	"passwordHash":        true,
	"password":            true,
	"encryptedSecret":     true,
	"encryptedPrivateKey": true,
	"refreshToken":        true,
	"refreshTokenHash":    true,
	"accessToken":         true,
}

// Sanitize renders a snapshot to JSON with sensitive fields replaced
// and decimals stringified. The snapshot may be a struct, a map or
// already-encoded JSON bytes.
func Sanitize(snapshot interface{}) (json.RawMessage, error) {
	if snapshot == nil {
		return nil, nil
	}

	var raw []byte
	switch v := snapshot.(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("audit: marshal snapshot: %w", err)
		}
		raw = b
	}

	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("audit: decode snapshot: %w", err)
	}
	cleaned := scrub(decoded)
	out, err := json.Marshal(cleaned)
	if err != nil {
		return nil, fmt.Errorf("audit: re-encode snapshot: %w", err)
	}
	return out, nil
}

// scrub walks the decoded JSON value, redacting denied fields
// recursively. Decimal fields already serialize as strings upstream.
func scrub(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			if redactedFields[k] {
				out[k] = redactedPlaceholder
				continue
			}
			out[k] = scrub(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = scrub(item)
		}
		return out
	default:
		return v
	}
}
