package observability

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/georgeshao/outscraper-go/internal/config"
)

func TestSetupLoggerWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "sandbox.log")

	logger, err := SetupLogger(config.LogConfig{
		Level:   "debug",
		Format:  "json",
		Outputs: []string{path},
	})
	require.NoError(t, err)
	defer zap.ReplaceGlobals(zap.NewNop())

	logger.Debug("task resolved", zap.String("task_id", "task_1"))
	require.NoError(t, logger.Sync())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"msg":"task resolved"`)
	assert.Contains(t, string(raw), `"task_id":"task_1"`)
}

func TestSetupLoggerRespectsLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sandbox.log")

	logger, err := SetupLogger(config.LogConfig{
		Level:   "warn",
		Format:  "console",
		Outputs: []string{path},
	})
	require.NoError(t, err)
	defer zap.ReplaceGlobals(zap.NewNop())

	logger.Info("hidden")
	logger.Warn("shown")
	require.NoError(t, logger.Sync())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(raw), "hidden"))
	assert.Contains(t, string(raw), "shown")
}

func TestSetupLoggerRotation(t *testing.T) {
	dir := t.TempDir()
	rotated := filepath.Join(dir, "rotated.log")

	logger, err := SetupLogger(config.LogConfig{
		Level:    "info",
		Format:   "json",
		Outputs:  []string{filepath.Join(dir, "ignored.log")},
		Rotation: config.RotationConfig{Enable: true, Filename: rotated},
	})
	require.NoError(t, err)
	defer zap.ReplaceGlobals(zap.NewNop())

	logger.Info("rotating")
	_ = logger.Sync()

	_, err = os.Stat(rotated)
	assert.NoError(t, err)
}
