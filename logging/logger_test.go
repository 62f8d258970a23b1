package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: LevelWarn, Output: &buf})
	l.Info("should not appear")
	l.Warn("should appear")
	assert.NotContains(t, buf.String(), "should not appear")
	assert.Contains(t, buf.String(), "should appear")
}

func TestFieldsAreAttached(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: LevelDebug, Output: &buf})
	l.Error("socket error", "sid", uint64(42), "errno", 104)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.EqualValues(t, 42, decoded["sid"])
	assert.EqualValues(t, 104, decoded["errno"])
	assert.Equal(t, "socket error", decoded["message"])
}

func TestWithAttachesPersistentContext(t *testing.T) {
	var buf bytes.Buffer
	base := New(&Config{Level: LevelDebug, Output: &buf})
	scoped := base.With(map[string]any{"subsystem": "reactor"})
	scoped.Info("listening")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "reactor", decoded["subsystem"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel("warn"))
	assert.Equal(t, LevelError, ParseLevel("error"))
	assert.Equal(t, LevelInfo, ParseLevel("garbage"))
}

func TestDefaultLoggerRoundTrip(t *testing.T) {
	orig := Default()
	defer SetDefault(orig)

	var buf bytes.Buffer
	SetDefault(New(&Config{Level: LevelInfo, Output: &buf}))
	Default().Info("hello")
	assert.Contains(t, buf.String(), "hello")
}
