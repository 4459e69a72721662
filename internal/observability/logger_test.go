// internal/observability/logger_test.go
package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/watchdog-cli/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// initBuffered initializes the global logger against an in-memory buffer.
func initBuffered(t *testing.T, cfg config.LoggerConfig) *bytes.Buffer {
	t.Helper()
	ResetForTest()
	t.Cleanup(ResetForTest)
	buf := &bytes.Buffer{}
	Initialize(cfg, zapcore.AddSync(buf))
	return buf
}

func TestInitialize(t *testing.T) {
	t.Run("console logger with colors", func(t *testing.T) {
		buf := initBuffered(t, config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "watchdog",
			Colors:      config.ColorConfig{Info: "green"},
		})
		GetLogger().Named("flow").Info("Entering website")

		out := buf.String()
		assert.Contains(t, out, colorGreen+"INFO"+colorReset)
		assert.Contains(t, out, "watchdog.flow.")
		assert.Contains(t, out, "Entering website")
	})

	t.Run("json logger", func(t *testing.T) {
		buf := initBuffered(t, config.LoggerConfig{Level: "info", Format: "json", ServiceName: "json"})
		GetLogger().Warn("unusual HTTP response code", zap.Int("status", 502))

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "WARN", entry["level"])
		assert.Equal(t, "json", entry["logger"])
		assert.Equal(t, float64(502), entry["status"])
	})

	t.Run("level filtering and SetLevel", func(t *testing.T) {
		buf := initBuffered(t, config.LoggerConfig{Level: "warn", Format: "json"})
		GetLogger().Info("hidden")
		assert.Empty(t, buf.String())

		require.NoError(t, SetLevel("debug"))
		GetLogger().Debug("visible")
		assert.Contains(t, buf.String(), "visible")
	})

	t.Run("rotating log file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "watchdog-main.log")
		initBuffered(t, config.LoggerConfig{Level: "debug", Format: "console", LogFile: path, MaxSize: 1})
		GetLogger().Error("written to disk")
		Sync()

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(content), "written to disk")
	})

	t.Run("only the first initialization wins", func(t *testing.T) {
		buf := initBuffered(t, config.LoggerConfig{Level: "info", ServiceName: "First"})
		Initialize(config.LoggerConfig{Level: "debug", ServiceName: "Second"}, zapcore.AddSync(&bytes.Buffer{}))
		GetLogger().Info("test")

		assert.True(t, strings.Contains(buf.String(), "First"))
		assert.False(t, strings.Contains(buf.String(), "Second"))
	})
}

func TestGetLoggerFallback(t *testing.T) {
	ResetForTest()
	require.NotNil(t, GetLogger())
}

func TestWithRunFile(t *testing.T) {
	dir := t.TempDir()
	base := zap.NewNop()

	logger, closeFn, err := WithRunFile(base, dir)
	require.NoError(t, err)
	logger.Info("login page did not appear", zap.String("url", "https://idp.example.com"))
	require.NoError(t, closeFn())

	content, err := os.ReadFile(filepath.Join(dir, RunLogFile))
	require.NoError(t, err)
	assert.Contains(t, string(content), "login page did not appear")
	assert.Contains(t, string(content), "idp.example.com")

	_, _, err = WithRunFile(base, filepath.Join(dir, "missing", "nested"))
	assert.Error(t, err)
}
