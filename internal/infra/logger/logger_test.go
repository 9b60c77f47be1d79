package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubJoinsModulePath(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("gateway", "debug", "json", &buf)

	log.Sub("Session").Sub("u1").Infof("hello %s", "world")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "gateway/Session/u1", line["module"])
	assert.Equal(t, "hello world", line["message"])
	assert.Equal(t, "info", line["level"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("gateway", "WARN", "json", &buf)

	log.Debugf("dropped")
	log.Infof("dropped")
	log.Warnf("kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "kept")
}

func TestParseLevelDefaultsToInfo(t *testing.T) {
	assert.Equal(t, parseLevel("INFO"), parseLevel("verbose"))
	assert.Equal(t, parseLevel("warn"), parseLevel("WARNING"))
}
