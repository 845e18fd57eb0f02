package audit

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeRedactsSensitiveFields(t *testing.T) {
	out, err := Sanitize(map[string]interface{}{
		"email":        "user@example.com",
		"passwordHash": "$argon2id$...",
		"nested": map[string]interface{}{
			"refreshTokenHash":    "abc",
			"encryptedPrivateKey": "deadbeef",
			"amount":              "12.5",
		},
	})
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Equal(t, "user@example.com", got["email"])
	assert.Equal(t, "[REDACTED]", got["passwordHash"])

	nested := got["nested"].(map[string]interface{})
	assert.Equal(t, "[REDACTED]", nested["refreshTokenHash"])
	assert.Equal(t, "[REDACTED]", nested["encryptedPrivateKey"])
	assert.Equal(t, "12.5", nested["amount"])
}

func TestSanitizeRedactsInsideArrays(t *testing.T) {
	out, err := Sanitize([]map[string]interface{}{
		{"password": "hunter2", "name": "a"},
		{"accessToken": "jwt", "name": "b"},
	})
	require.NoError(t, err)

	var got []map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Equal(t, "[REDACTED]", got[0]["password"])
	assert.Equal(t, "a", got[0]["name"])
	assert.Equal(t, "[REDACTED]", got[1]["accessToken"])
}

func TestSanitizeNilAndRawJSON(t *testing.T) {
	out, err := Sanitize(nil)
	require.NoError(t, err)
	assert.Nil(t, out)

	out, err = Sanitize(json.RawMessage(`{"refreshToken":"x","ok":true}`))
	require.NoError(t, err)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Equal(t, "[REDACTED]", got["refreshToken"])
	assert.Equal(t, true, got["ok"])
}

func TestSanitizeRejectsInvalidJSON(t *testing.T) {
	_, err := Sanitize([]byte("not json"))
	assert.Error(t, err)
}
