package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := New("warn", "json", &buf)

	log.Info().Msg("hidden")
	log.Warn().Str("pass", "structural").Msg("Page failed")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "structural", entry["pass"])
	assert.Equal(t, "Page failed", entry["message"])
	assert.Contains(t, entry, "time")
}

func TestNew_ConsoleAndFallbackLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New("chatty", "console", &buf)

	assert.Equal(t, zerolog.InfoLevel, log.GetLevel())
	log.Debug().Msg("hidden")
	log.Info().Msg("Pass started")

	assert.Contains(t, buf.String(), "Pass started")
	assert.NotContains(t, buf.String(), "hidden")
	assert.False(t, json.Valid(bytes.TrimSpace(buf.Bytes())))
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel(" DEBUG ")
	require.NoError(t, err)
	assert.Equal(t, zerolog.DebugLevel, lvl)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}
