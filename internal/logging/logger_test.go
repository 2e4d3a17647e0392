package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerJSONFieldsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithOutput(LevelInfo, FormatJSON, &buf)

	logger.Debug("hidden")
	logger.WithProject(4).WithIntent("vote", "vote:4").Info("submitted")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "submitted", entry["msg"])
	assert.Equal(t, float64(4), entry["project_chain_id"])
	assert.Equal(t, "vote:4", entry["action"])
}

func TestWithFieldDoesNotMutateParent(t *testing.T) {
	parent := NewLoggerWithOutput(LevelInfo, FormatJSON, &bytes.Buffer{})
	child := parent.WithField("a", 1)

	assert.Empty(t, parent.Fields())
	assert.Equal(t, 1, child.Fields()["a"])
}

func TestErrorIncludesCaller(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithOutput(LevelInfo, FormatText, &buf)

	logger.WithError(errors.New("boom")).Error("failed")

	out := buf.String()
	assert.Contains(t, out, "error=boom")
	assert.Contains(t, out, "caller=")
	assert.Contains(t, out, "logger_test.go")
}

func TestFromContext(t *testing.T) {
	logger := NewLoggerWithOutput(LevelDebug, FormatJSON, &bytes.Buffer{})
	ctx := WithLogger(context.Background(), logger)

	assert.Same(t, logger, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, LevelWarn, ParseLogLevel("WARNING"))
	assert.Equal(t, LevelInfo, ParseLogLevel("nope"))
	assert.Equal(t, FormatText, ParseLogFormat("text"))
}
