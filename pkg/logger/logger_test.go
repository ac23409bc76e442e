package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for raw, want := range cases {
		assert.Equal(t, want, parseLevel(raw), raw)
	}
}

func TestJSONFormatFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithFormat(&buf, "warn", "json")
	log.Info("dropped")
	log.Warn("queued for offline delivery", slog.String("user_id", "u1"))

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "queued for offline delivery", record["msg"])
	assert.Equal(t, "u1", record["user_id"])
}
