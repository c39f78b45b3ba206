package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel(" WARN "))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("chatty"))
}

func TestNewWritesJSONWithServiceFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{
		Level:       "info",
		Environment: "production",
		ServiceName: "expense-approvals",
		Version:     "1.2.3",
		Output:      &buf,
	})

	log.With("component", "test").Info().Str("expense_id", "e1").Msg("hello")
	log.Debug().Msg("dropped")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "expense-approvals", entry["service"])
	assert.Equal(t, "1.2.3", entry["version"])
	assert.Equal(t, "test", entry["component"])
	assert.Equal(t, "e1", entry["expense_id"])
	assert.Equal(t, "hello", entry["message"])
}
