package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}

func TestNewJSON_RenamesErrorKey(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSON(&buf, slog.LevelInfo)
	logger.Info("listener failed", "error", errors.New("boom"))
	logger.Debug("hidden")

	out := buf.String()
	assert.Contains(t, out, `"err":"boom"`)
	assert.NotContains(t, out, "hidden")
}
