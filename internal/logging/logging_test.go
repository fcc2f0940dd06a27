package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/studypal/backend/internal/config"
)

func TestNewJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(config.LogConfig{Level: "debug", Format: "json"}, &buf)

	logger.WithField("session", "s-1").Debug("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "hello", entry["msg"])
	require.Equal(t, "s-1", entry["session"])
}

func TestNewFallsBackToInfo(t *testing.T) {
	logger := NewWithWriter(config.LogConfig{Level: "chatty"}, &bytes.Buffer{})
	require.Equal(t, logrus.InfoLevel, logger.GetLevel())
}
