package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wlcmgr/internal/config"
)

func TestSetupFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wlcmgr.log")
	closer, err := Setup(config.LoggingConfig{Level: "warn", Format: "json", File: path, MaxSizeMB: 1}, false)
	require.NoError(t, err)
	t.Cleanup(func() {
		logrus.SetOutput(os.Stderr)
		logrus.SetLevel(logrus.InfoLevel)
	})

	assert.Equal(t, logrus.WarnLevel, logrus.GetLevel())
	logrus.WithField("module", "test").Warn("link lost")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"link lost"`)
}

func TestSetupDebugOverride(t *testing.T) {
	_, err := Setup(config.LoggingConfig{Level: "error", Format: "text"}, true)
	require.NoError(t, err)
	t.Cleanup(func() { logrus.SetLevel(logrus.InfoLevel) })
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())
}

func TestSetupBadLevel(t *testing.T) {
	_, err := Setup(config.LoggingConfig{Level: "chatty"}, false)
	assert.Error(t, err)
}
