package main

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmdesk/vmdesk/internal/buildinfo"
	"github.com/vmdesk/vmdesk/internal/config"
	"github.com/vmdesk/vmdesk/internal/daemon"
)

func TestLoadConfig(t *testing.T) {
	t.Run("explicit missing path is fatal", func(t *testing.T) {
		temp := t.TempDir()
		_, err := loadConfig(filepath.Join(temp, "nonexistent", "config.yaml"))
		assert.Error(t, err)
	})

	t.Run("invalid yaml is fatal", func(t *testing.T) {
		temp := t.TempDir()
		configPath := filepath.Join(temp, "config.yaml")
		require.NoError(t, os.WriteFile(configPath, []byte("invalid: yaml: content: ["), 0644))

		_, err := loadConfig(configPath)
		assert.Error(t, err)
	})

	t.Run("valid config file overrides defaults", func(t *testing.T) {
		temp := t.TempDir()
		configPath := filepath.Join(temp, "config.yaml")
		customRunDir := filepath.Join(temp, "custom-run")
		require.NoError(t, os.WriteFile(configPath, []byte(`
run_dir: `+customRunDir+`
catalog_dir: `+filepath.Join(temp, "catalog")+`
`), 0644))

		cfg, err := loadConfig(configPath)
		require.NoError(t, err)
		assert.Equal(t, configPath, cfg.ConfigPath)
		assert.Equal(t, customRunDir, cfg.RunDir)
		assert.Equal(t, filepath.Join(customRunDir, "vmdeskd.sock"), cfg.SocketPath)
	})
}

func TestNewLoggerHonorsTimestampToggle(t *testing.T) {
	withStamps := newLogger(config.Config{LogTimestamps: true})
	assert.Equal(t, log.LstdFlags, withStamps.Flags())

	without := newLogger(config.Config{LogTimestamps: false})
	assert.Equal(t, 0, without.Flags())
}

func TestVersionOutput(t *testing.T) {
	version := buildinfo.String()
	assert.NotEmpty(t, version)
	assert.Contains(t, version, "version=")
	assert.Contains(t, version, "commit=")
}

func TestDaemonRunRejectsInvalidConfig(t *testing.T) {
	cfg := config.Config{} // missing required fields

	ctx := context.Background()
	err := daemon.Run(ctx, cfg, log.New(io.Discard, "", 0))
	assert.Error(t, err)
}
