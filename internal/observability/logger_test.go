// internal/observability/logger_test.go
package observability

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/autopilot/internal/config"
	"go.uber.org/zap"
)

// bufferSyncer adapts a bytes.Buffer to zapcore.WriteSyncer.
type bufferSyncer struct{ bytes.Buffer }

func (b *bufferSyncer) Sync() error { return nil }

func TestNewLogger_ConsoleColors(t *testing.T) {
	var buf bufferSyncer
	cfg := config.LoggerConfig{
		Level:       "debug",
		Format:      "console",
		ServiceName: "autopilot",
		Colors:      config.ColorConfig{Info: "green"},
	}

	logger := NewLogger(cfg, &buf)
	logger.Named("cache").Info("sequence stored")
	require.NoError(t, logger.Sync())

	out := buf.String()
	assert.Contains(t, out, colorGreen+"INFO"+colorReset)
	assert.Contains(t, out, "autopilot.cache.")
	assert.Contains(t, out, "sequence stored")
}

func TestNewLogger_JSONAndLevel(t *testing.T) {
	var buf bufferSyncer
	logger := NewLogger(config.LoggerConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("dropped")
	logger.Warn("kept")
	require.NoError(t, logger.Sync())

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1, "info must be filtered at warn level")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "kept", entry["msg"])
}

func TestNewLogger_InvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bufferSyncer
	logger := NewLogger(config.LoggerConfig{Level: "loud", Format: "json"}, &buf)
	logger.Debug("hidden")
	logger.Info("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestNewLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autopilot.log")
	var console bufferSyncer
	logger := NewLogger(config.LoggerConfig{Level: "info", Format: "console", LogFile: path, MaxSize: 1}, &console)

	logger.Info("to both", zap.String("task", "find GBP/USD"))
	require.NoError(t, logger.Sync())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	sc := bufio.NewScanner(f)
	require.True(t, sc.Scan())
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(sc.Bytes(), &entry))
	assert.Equal(t, "find GBP/USD", entry["task"])
	assert.Contains(t, console.String(), "to both")
}

func TestGlobalLogger(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	fallback := GetLogger()
	require.NotNil(t, fallback)

	var first, second bufferSyncer
	Initialize(config.LoggerConfig{Level: "info", Format: "json"}, &first)
	Initialize(config.LoggerConfig{Level: "info", Format: "json"}, &second)

	GetLogger().Info("once")
	Sync()

	assert.Contains(t, first.String(), "once")
	assert.Empty(t, second.String(), "only the first Initialize call takes effect")
}
