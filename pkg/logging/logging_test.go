package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "warn", false)
	logger.Info("hidden")
	logger.Warn("shown", "section", "devices")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "section=devices")
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "DEBUG", true).Debug("cycle", "id", "abc")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "cycle", line["msg"])
	assert.Equal(t, "abc", line["id"])
}
