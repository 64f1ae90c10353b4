package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "invoiced.log")

	log, err := New(Config{Level: "info", OutputPath: path, Format: "json"})
	require.NoError(t, err)

	log.Debug("hidden")
	log.Info("Invoice status changed", zap.Int64("invoice_id", 42))
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	content := string(data)
	assert.Contains(t, content, `"invoice_id":42`)
	assert.Contains(t, content, `"timestamp"`)
	assert.False(t, strings.Contains(content, "hidden"))
}

func TestNew_UnknownLevelFallsBackToInfo(t *testing.T) {
	log, err := New(Config{Level: "loud", OutputPath: "stderr"})
	require.NoError(t, err)

	assert.False(t, log.Core().Enabled(zap.DebugLevel))
	assert.True(t, log.Core().Enabled(zap.InfoLevel))
}
