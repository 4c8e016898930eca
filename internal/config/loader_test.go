package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labelscan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
pipeline:
  order_policy: left-to-right
  formats: [qr, code128]
  overlay:
    box_color: "#ff0000"
database:
  schema: normalized
  path: /tmp/labels.db
server:
  port: 9090
`), 0o600))

	cfg, err := NewLoaderWithViper(viper.New()).LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "left-to-right", cfg.Pipeline.OrderPolicy)
	assert.Equal(t, []string{"qr", "code128"}, cfg.Pipeline.Formats)
	assert.Equal(t, "#ff0000", cfg.Pipeline.Overlay.BoxColor)
	assert.Equal(t, 2, cfg.Pipeline.Overlay.Thickness, "unset keys keep defaults")
	assert.Equal(t, "normalized", cfg.Database.Schema)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoadWithFileErrors(t *testing.T) {
	_, err := NewLoaderWithViper(viper.New()).LoadWithFile("/no/such/labelscan.yaml")
	assert.ErrorContains(t, err, "does not exist")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("server:\n  port: 0\n"), 0o600))
	_, err = NewLoaderWithViper(viper.New()).LoadWithFile(bad)
	assert.ErrorContains(t, err, "validation failed")

	cfg, err := NewLoaderWithViper(viper.New()).LoadWithFileWithoutValidation(bad)
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Server.Port)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("LABELSCAN_DATABASE_DRIVER", "postgres")
	t.Setenv("LABELSCAN_DATABASE_DSN", "postgres://labels@db/labels")
	t.Setenv("LABELSCAN_REFERENCE_STRICT", "true")
	t.Setenv("LABELSCAN_SERVER_PORT", "8181")

	l := NewLoaderWithViper(viper.New())
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://labels@db/labels", cfg.Database.DSN)
	assert.True(t, cfg.Reference.Strict)
	assert.Equal(t, 8181, cfg.Server.Port)
	assert.Empty(t, l.GetConfigFileUsed())
}

func TestGenerateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "labelscan.yaml")
	require.NoError(t, GenerateDefaultConfigFile(path, false))
	assert.Error(t, GenerateDefaultConfigFile(path, false), "no overwrite")
	require.NoError(t, GenerateDefaultConfigFile(path, true))

	cfg, err := NewLoaderWithViper(viper.New()).LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server.Port, cfg.Server.Port)
	assert.Equal(t, DefaultConfig().Pipeline.Overlay, cfg.Pipeline.Overlay)
}

func TestGetConfigSearchPaths(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	paths := GetConfigSearchPaths()
	assert.Equal(t, ".", paths[0])
	assert.Contains(t, paths, "/xdg/labelscan")
	assert.Equal(t, "/etc/labelscan", paths[len(paths)-1])
}
