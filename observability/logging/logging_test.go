package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupWithWriterRenamesKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithWriter("mediatord", "test", &buf, slog.LevelInfo)
	logger.Debug("hidden")
	logger.Info("tokens bridged", "side", "home", MaskField("admin_secret", "hunter2"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	require.Equal(t, "tokens bridged", line["message"])
	require.Equal(t, "INFO", line["severity"])
	require.Equal(t, "mediatord", line["service"])
	require.Equal(t, "test", line["env"])
	require.Equal(t, "home", line["side"])
	require.Equal(t, RedactedValue, line["admin_secret"])
	require.Contains(t, line, "timestamp")
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("DEBUG")
	require.NoError(t, err)
	require.Equal(t, slog.LevelDebug, level)
	level, err = ParseLevel("")
	require.NoError(t, err)
	require.Equal(t, slog.LevelInfo, level)
	_, err = ParseLevel("verbose")
	require.Error(t, err)
}

func TestMaskField(t *testing.T) {
	require.Equal(t, "", MaskField("token", "").Value.String())
	require.Equal(t, "mediator", MaskField("component", "mediator").Value.String())
	require.Equal(t, RedactedValue, MaskField("dsn", "file:index.db").Value.String())
	require.Equal(t, "home", MaskField("Side", "home").Value.String())
}
