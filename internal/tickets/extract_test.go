package tickets

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractKeyPlainCode(t *testing.T) {
	key, err := ExtractKey("TICK-A1B2C3D4")
	require.NoError(t, err)
	assert.Equal(t, "TICK-A1B2C3D4", key)
}

func TestExtractKeyTrimsWhitespace(t *testing.T) {
	key, err := ExtractKey("  TICK-A1B2C3D4\n")
	require.NoError(t, err)
	assert.Equal(t, "TICK-A1B2C3D4", key)
}

func TestExtractKeyFromJSONString(t *testing.T) {
	key, err := ExtractKey(`{"ticket_code":"TICK-A1B2C3D4","name":"Alice"}`)
	require.NoError(t, err)
	assert.Equal(t, "TICK-A1B2C3D4", key)
}

func TestExtractKeyFromMapAliasOrder(t *testing.T) {
	// ticket_code outranks id even when both are present.
	key, err := ExtractKey(map[string]interface{}{
		"id":          "reg-9999",
		"ticket_code": "TICK-A1B2C3D4",
	})
	require.NoError(t, err)
	assert.Equal(t, "TICK-A1B2C3D4", key)
}

func TestExtractKeyCamelCaseAlias(t *testing.T) {
	key, err := ExtractKey(map[string]interface{}{"ticketId": "TICK-A1B2C3D4"})
	require.NoError(t, err)
	assert.Equal(t, "TICK-A1B2C3D4", key)
}

func TestExtractKeyNestedMap(t *testing.T) {
	key, err := ExtractKey(map[string]interface{}{
		"event": "expo-2026",
		"data": map[string]interface{}{
			"attendee": map[string]interface{}{"code": "TICK-A1B2C3D4"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "TICK-A1B2C3D4", key)
}

func TestExtractKeyBase64JSON(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte(`{"ticket_code":"TICK-A1B2C3D4"}`))
	key, err := ExtractKey(encoded)
	require.NoError(t, err)
	assert.Equal(t, "TICK-A1B2C3D4", key)
}

func TestExtractKeyNumericPayload(t *testing.T) {
	key, err := ExtractKey(float64(123456))
	require.NoError(t, err)
	assert.Equal(t, "123456", key)
}

func TestExtractKeyDigitRun(t *testing.T) {
	key, err := ExtractKey("***00012345***")
	require.NoError(t, err)
	assert.Equal(t, "00012345", key)
}

func TestExtractKeyArrayPicksFirstHit(t *testing.T) {
	key, err := ExtractKey([]interface{}{
		map[string]interface{}{"note": "!!"},
		map[string]interface{}{"qr_code": "TICK-A1B2C3D4"},
	})
	require.NoError(t, err)
	assert.Equal(t, "TICK-A1B2C3D4", key)
}

func TestExtractKeyInvalid(t *testing.T) {
	for _, raw := range []interface{}{
		nil,
		"",
		"   ",
		"??",
		map[string]interface{}{},
		map[string]interface{}{"note": true},
	} {
		_, err := ExtractKey(raw)
		assert.ErrorIs(t, err, ErrInvalidPayload, "payload %v", raw)
	}
}

func TestExtractKeyDepthLimited(t *testing.T) {
	deep := map[string]interface{}{"ticket_code": "TICK-A1B2C3D4"}
	for i := 0; i < 10; i++ {
		deep = map[string]interface{}{"wrap": deep}
	}
	_, err := ExtractKey(deep)
	assert.ErrorIs(t, err, ErrInvalidPayload)
}
