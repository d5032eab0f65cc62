package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "test_api_key")
	t.Setenv("MODEL", "test_model")
	t.Setenv("ENABLE_FILE_LOGGING", "true")
	t.Setenv("SCREENSHOT_HOTKEY", "Ctrl+Shift+S")

	cfg, err := LoadWithOptions(LoadOptions{APIKeyPathOverride: filepath.Join(t.TempDir(), "missing")})
	require.NoError(t, err)

	assert.Equal(t, "test_api_key", cfg.APIKey)
	assert.Equal(t, "test_model", cfg.Model)
	assert.True(t, cfg.EnableFileLogging)
	assert.Equal(t, "Ctrl+Shift+S", cfg.ScreenshotHotkey)
	assert.Equal(t, DefaultResultHotkey, cfg.ResultHotkey)
}

func TestDefaults(t *testing.T) {
	cfg, err := LoadWithOptions(LoadOptions{EnvPath: filepath.Join(t.TempDir(), "none.env")})
	require.NoError(t, err)

	assert.True(t, cfg.UsePhysicalResolution)
	assert.Equal(t, 0, cfg.MaxThumbnailDimension)
	assert.Equal(t, DefaultHideSettleMs, cfg.HideSettleMs)
	assert.Equal(t, DefaultImageReadyTimeoutSec, cfg.ImageReadyTimeoutSec)
	assert.Equal(t, DefaultCopyAckMs, cfg.CopyAckMs)
	assert.Equal(t, DefaultAnalysisDeadlineSec, cfg.AnalysisDeadlineSec)
	assert.Equal(t, DefaultScreenshotHotkey, cfg.ScreenshotHotkey)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestScreenshotEnvironment(t *testing.T) {
	t.Setenv("SCREENSHOT_USE_PHYSICAL_RESOLUTION", "false")
	t.Setenv("SCREENSHOT_MAX_DIMENSION", "1920")

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.UsePhysicalResolution)
	assert.Equal(t, 1920, cfg.MaxThumbnailDimension)
}

func TestInvalidNumbersFallBack(t *testing.T) {
	t.Setenv("SCREENSHOT_MAX_DIMENSION", "-5")
	t.Setenv("IMAGE_READY_TIMEOUT_SEC", "0")
	t.Setenv("HIDE_SETTLE_MS", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.MaxThumbnailDimension)
	assert.Equal(t, DefaultImageReadyTimeoutSec, cfg.ImageReadyTimeoutSec)
	assert.Equal(t, DefaultHideSettleMs, cfg.HideSettleMs)
}

func TestEnvFileAndProcessPrecedence(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("MODEL=file_model\nPROVIDERS= a, b ,,c\nTARGET_LANG=German\n"), 0o600))
	t.Setenv("TARGET_LANG", "French")

	cfg, err := LoadWithOptions(LoadOptions{EnvPath: envPath})
	require.NoError(t, err)
	assert.Equal(t, "file_model", cfg.Model)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Providers)
	assert.Equal(t, "French", cfg.TargetLang)
	assert.Equal(t, envPath, cfg.EnvPath)
}

func TestAPIKeyFromFile(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "key")
	require.NoError(t, os.WriteFile(keyPath, []byte("  file-key\n"), 0o600))
	t.Setenv("OPENROUTER_API_KEY", "env-key")

	cfg, err := LoadWithOptions(LoadOptions{APIKeyPathOverride: keyPath})
	require.NoError(t, err)
	assert.Equal(t, "file-key", cfg.APIKey)
	assert.Equal(t, keyPath, cfg.APIKeyPath)
}

func TestAPIKeyPathFromEnvFile(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "key")
	require.NoError(t, os.WriteFile(keyPath, []byte("dotenv-key"), 0o600))
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte(APIKeyPathEnvVar+"="+keyPath+"\n"), 0o600))

	cfg, err := LoadWithOptions(LoadOptions{EnvPath: envPath})
	require.NoError(t, err)
	assert.Equal(t, "dotenv-key", cfg.APIKey)
}

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("SCREENSHOT_HOTKEY=Ctrl+Alt+A\n"), 0o600))

	w, err := NewWatcher(LoadOptions{EnvPath: envPath})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := make(chan *Config, 4)
	go func() { _ = w.Run(ctx, func(cfg *Config) { changes <- cfg }) }()

	require.NoError(t, os.WriteFile(envPath, []byte("SCREENSHOT_HOTKEY=Ctrl+Shift+X\n"), 0o600))

	select {
	case cfg := <-changes:
		assert.Equal(t, "Ctrl+Shift+X", cfg.ScreenshotHotkey)
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after write")
	}
}

func TestNewWatcherWithoutFile(t *testing.T) {
	t.Setenv(EnvPathEnvVar, "")
	exe, err := os.Executable()
	require.NoError(t, err)
	if _, err := os.Stat(filepath.Join(filepath.Dir(exe), ".env")); err == nil {
		t.Skip(".env beside test binary")
	}
	_, err = NewWatcher(LoadOptions{})
	assert.ErrorIs(t, err, ErrNoEnvFile)
}
