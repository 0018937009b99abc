package logging

import (
	"bytes"
	"context"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zerolog.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("verbose"))
}

func TestCtxAddsRunID(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "info", Format: "json", Output: &buf})
	t.Cleanup(func() { Init(Config{}) })

	ctx := ContextWithRunID(context.Background(), "abc12345")
	Ctx(ctx).Info().Int("features", 3).Msg("generation written")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "abc12345", entry["run_id"])
	assert.Equal(t, "generation written", entry["message"])
	assert.EqualValues(t, 3, entry["features"])
}

func TestRunIDHelpers(t *testing.T) {
	id := NewRunID()
	assert.Len(t, id, 8)
	assert.NotEqual(t, id, NewRunID())
	assert.Empty(t, RunIDFromContext(context.Background()))
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "warn", Output: &buf})
	t.Cleanup(func() { Init(Config{}) })

	logger := Logger()
	logger.Info().Msg("hidden")
	assert.Zero(t, buf.Len())

	units := WithComponent("units")
	units.Warn().Msg("shown")
	assert.Contains(t, buf.String(), `"component":"units"`)
}
