package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setRootEnv points all three roots into a fresh temp dir and clears the
// settings-related env vars so tests do not leak into each other.
func setRootEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("MEMORY_DIR", filepath.Join(dir, "memories"))
	t.Setenv("TASK_DIR", filepath.Join(dir, "tasks"))
	t.Setenv("DATA_DIR", filepath.Join(dir, "data"))
	for _, k := range []string{
		"LIKEISAID_FEATURES_MAXBACKUPS",
		"LIKEISAID_FEATURES_AUTOBACKUP",
		"LIKEISAID_AUTHENTICATION_ENABLED",
		"LIKEISAID_AUTHENTICATION_TOKEN",
		"LIKEISAID_LOG_LEVEL",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	return dir
}

func TestLoadDefaults(t *testing.T) {
	dir := setRootEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "memories"), cfg.Roots.Memories)
	assert.Equal(t, filepath.Join(dir, "tasks"), cfg.Roots.Tasks)
	assert.Equal(t, filepath.Join(dir, "data"), cfg.Roots.Data)

	assert.Equal(t, "like-i-said-memory-v2", cfg.Server.Name)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Auth.Enabled)
	assert.True(t, cfg.Features.AutoBackup)
	assert.Equal(t, time.Hour, cfg.Features.BackupInterval)
	assert.Equal(t, 10, cfg.Features.MaxBackups)
	assert.False(t, cfg.SemanticEnabled())
	assert.Empty(t, cfg.Warnings)

	// Roots are created on resolve.
	for _, p := range []string{cfg.Roots.Memories, cfg.Roots.Tasks, cfg.Roots.Data} {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestLoadSettingsFile(t *testing.T) {
	dir := setRootEnv(t)
	dataDir := filepath.Join(dir, "data")
	require.NoError(t, os.MkdirAll(dataDir, 0o755))

	settings := `{
		"features": {
			"autoBackup": false,
			"backupInterval": 120000,
			"maxBackups": 3,
			"enableSemanticSearch": true,
			"semanticSearchProvider": "ollama"
		},
		"log": {"level": "debug"}
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "settings.json"), []byte(settings), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.False(t, cfg.Features.AutoBackup)
	assert.Equal(t, 2*time.Minute, cfg.Features.BackupInterval)
	assert.Equal(t, 3, cfg.Features.MaxBackups)
	assert.True(t, cfg.SemanticEnabled())
	assert.Equal(t, ProviderOllama, cfg.Features.SemanticSearchProvider)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestEnvOverridesSettingsFile(t *testing.T) {
	dir := setRootEnv(t)
	dataDir := filepath.Join(dir, "data")
	require.NoError(t, os.MkdirAll(dataDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "settings.json"),
		[]byte(`{"features": {"maxBackups": 3}}`), 0o644))

	t.Setenv("LIKEISAID_FEATURES_MAXBACKUPS", "7")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Features.MaxBackups)
}

func TestPathSettingsRedirectsRoots(t *testing.T) {
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")
	require.NoError(t, os.MkdirAll(dataDir, 0o755))

	redirected := filepath.Join(dir, "elsewhere")
	ps := `{"memories": "` + filepath.ToSlash(filepath.Join(redirected, "mem")) + `", "tasks": "` + filepath.ToSlash(filepath.Join(redirected, "tsk")) + `"}`
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "path-settings.json"), []byte(ps), 0o644))

	t.Setenv("DATA_DIR", dataDir)
	t.Setenv("MEMORY_DIR", "")
	os.Unsetenv("MEMORY_DIR")
	t.Setenv("TASK_DIR", "")
	os.Unsetenv("TASK_DIR")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(redirected, "mem"), cfg.Roots.Memories)
	assert.Equal(t, filepath.Join(redirected, "tsk"), cfg.Roots.Tasks)

	// Env beats the file.
	override := filepath.Join(dir, "override-mem")
	t.Setenv("MEMORY_DIR", override)
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, override, cfg.Roots.Memories)
	assert.Equal(t, filepath.Join(redirected, "tsk"), cfg.Roots.Tasks)
}

func TestMalformedSettingsWarnsAndDefaults(t *testing.T) {
	dir := setRootEnv(t)
	dataDir := filepath.Join(dir, "data")
	require.NoError(t, os.MkdirAll(dataDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "settings.json"),
		[]byte(`{"features": {`), 0o644))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Features.MaxBackups)
	require.NotEmpty(t, cfg.Warnings)
	assert.Contains(t, cfg.Warnings[0], "settings file")
}

func TestXenovaProviderAliasesToNone(t *testing.T) {
	dir := setRootEnv(t)
	dataDir := filepath.Join(dir, "data")
	require.NoError(t, os.MkdirAll(dataDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "settings.json"),
		[]byte(`{"features": {"enableSemanticSearch": true, "semanticSearchProvider": "xenova"}}`), 0o644))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ProviderNone, cfg.Features.SemanticSearchProvider)
	assert.False(t, cfg.SemanticEnabled())
	require.NotEmpty(t, cfg.Warnings)
	assert.Contains(t, cfg.Warnings[0], "xenova")
}

func TestAuthEnabledRequiresToken(t *testing.T) {
	dir := setRootEnv(t)
	dataDir := filepath.Join(dir, "data")
	require.NoError(t, os.MkdirAll(dataDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "settings.json"),
		[]byte(`{"authentication": {"enabled": true}}`), 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authentication.enabled")

	t.Setenv("LIKEISAID_AUTHENTICATION_TOKEN", "secret")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, "secret", cfg.Auth.Token)
}

func TestBadIntervalFallsBack(t *testing.T) {
	dir := setRootEnv(t)
	dataDir := filepath.Join(dir, "data")
	require.NoError(t, os.MkdirAll(dataDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "settings.json"),
		[]byte(`{"features": {"backupInterval": -5}}`), 0o644))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, time.Hour, cfg.Features.BackupInterval)
	assert.NotEmpty(t, cfg.Warnings)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := &Config{
		Features: FeaturesConfig{MaxBackups: 0},
		Log:      LogConfig{Level: "info"},
	}
	require.Error(t, cfg.Validate())

	cfg.Features.MaxBackups = 5
	cfg.Log.Level = "noisy"
	require.Error(t, cfg.Validate())

	cfg.Log.Level = "warn"
	require.NoError(t, cfg.Validate())
}
