package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevelFallsBackToInfo(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("loud"))
}

func TestNewFileLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "bot.log")
	log, err := NewFileLogger(path, "info")
	require.NoError(t, err)

	log.Debug("hidden")
	log.Info("hello")
	_ = log.Sync()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"msg":"hello"`)
	assert.NotContains(t, string(raw), "hidden")
}
