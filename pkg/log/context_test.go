package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func logLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	return out
}

func TestCtxFallsBackToGlobal(t *testing.T) {
	// No logger in the context: Ctx must still hand back a usable logger.
	l := Ctx(context.Background())
	l.Debug().Msg("fallback")
}

func TestCtxReturnsStoredLogger(t *testing.T) {
	var buf bytes.Buffer
	stored := zerolog.New(&buf)
	ctx := WithLogger(context.Background(), stored)

	l := Ctx(ctx)
	l.Info().Msg("hello")

	line := logLine(t, &buf)
	assert.Equal(t, "hello", line["message"])
}

func TestForSessionCarriesIdentity(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), zerolog.New(&buf))

	l := ForSession(ctx, "sess-1", "user-a")
	l.Info().Msg("frame")

	line := logLine(t, &buf)
	assert.Equal(t, "sess-1", line[FieldSessionID])
	assert.Equal(t, "user-a", line[FieldUserID])
}

func TestNewStampsServiceAndInstance(t *testing.T) {
	logger := New(Config{Level: "info", ServiceName: "notify-service", InstanceID: "inst-1"})

	var buf bytes.Buffer
	logger = logger.Output(&buf)
	logger.Info().Msg("up")

	line := logLine(t, &buf)
	assert.Equal(t, "notify-service", line[FieldService])
	assert.Equal(t, "inst-1", line[FieldInstanceID])
}
