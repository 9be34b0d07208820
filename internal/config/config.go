// Package config resolves the storage roots and loads server settings.
//
// Resolution order for the three roots: environment variables (MEMORY_DIR,
// TASK_DIR, DATA_DIR) > <dataRoot>/path-settings.json > cwd-relative defaults.
// Server settings come from <dataRoot>/settings.json through viper, so that
// LIKEISAID_* environment variables override the file and the file overrides
// built-in defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/paths"
)

// Providers accepted for features.semanticSearchProvider. "xenova" is the
// historical name from the JS lineage; it maps to "none" with a warning.
const (
	ProviderOllama = "ollama"
	ProviderNone   = "none"
)

// Config holds all configuration for the like-i-said server.
type Config struct {
	Roots    *paths.Roots
	Server   ServerConfig
	Log      LogConfig
	Auth     AuthConfig
	Features FeaturesConfig
	HTTP     HTTPConfig
	Ollama   OllamaConfig

	// Warnings collects non-fatal findings from loading (malformed settings
	// files, unknown provider names). The caller logs them once a logger
	// exists; Load itself must stay silent because stdout belongs to the
	// protocol and the logger is built from Config.Log.
	Warnings []string
}

// ServerConfig holds MCP server metadata.
type ServerConfig struct {
	Name    string
	Version string
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string // debug, info, warn, error
	File  string // optional rotating log file; empty logs to stderr only
}

// AuthConfig controls bearer-token auth on the HTTP transport. Stdio clients
// are never authenticated.
type AuthConfig struct {
	Enabled bool
	Token   string
}

// FeaturesConfig mirrors the features.* keys of settings.json.
type FeaturesConfig struct {
	AutoBackup             bool
	BackupInterval         time.Duration
	MaxBackups             int
	EnableSemanticSearch   bool
	SemanticSearchProvider string
}

// HTTPConfig controls the optional Streamable HTTP transport.
type HTTPConfig struct {
	Enabled     bool
	Addr        string
	CORSOrigins string
}

// OllamaConfig holds the embedding backend connection details.
type OllamaConfig struct {
	URL   string
	Model string
}

// pathSettings is the shape of <dataRoot>/path-settings.json. Only the
// memories and tasks roots can be redirected from it; the data root has to be
// known before the file can be found, so it comes from DATA_DIR or the
// default.
type pathSettings struct {
	Memories string `json:"memories"`
	Tasks    string `json:"tasks"`
}

// Load resolves the roots, reads settings.json, and applies environment
// overrides. Missing files are fine; malformed ones produce a warning and
// defaults, never a failure.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Name:    "like-i-said-memory-v2",
			Version: "2.0.0",
		},
	}

	memories, tasks, data := rootsFromEnv(cfg)

	roots, err := paths.Resolve(memories, tasks, data)
	if err != nil {
		return nil, fmt.Errorf("resolving storage roots: %w", err)
	}
	cfg.Roots = roots

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("LIKEISAID")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	settingsFile := roots.SettingsFile()
	if _, err := os.Stat(settingsFile); err == nil {
		v.SetConfigFile(settingsFile)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			cfg.warnf("settings file %s unreadable, using defaults: %v", settingsFile, err)
		}
	}

	cfg.Log = LogConfig{
		Level: v.GetString("log.level"),
		File:  v.GetString("log.file"),
	}
	cfg.Auth = AuthConfig{
		Enabled: v.GetBool("authentication.enabled"),
		Token:   v.GetString("authentication.token"),
	}
	cfg.Features = FeaturesConfig{
		AutoBackup:             v.GetBool("features.autoBackup"),
		BackupInterval:         intervalMillis(cfg, v.GetInt64("features.backupInterval")),
		MaxBackups:             v.GetInt("features.maxBackups"),
		EnableSemanticSearch:   v.GetBool("features.enableSemanticSearch"),
		SemanticSearchProvider: cfg.normalizeProvider(v.GetString("features.semanticSearchProvider")),
	}
	cfg.HTTP = HTTPConfig{
		Enabled:     v.GetBool("http.enabled"),
		Addr:        v.GetString("http.addr"),
		CORSOrigins: v.GetString("http.corsOrigins"),
	}
	cfg.Ollama = OllamaConfig{
		URL:   v.GetString("ollama.url"),
		Model: v.GetString("ollama.model"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// rootsFromEnv applies the env > path-settings.json > default chain and
// returns the three configured (possibly empty) root paths.
func rootsFromEnv(cfg *Config) (memories, tasks, data string) {
	data = os.Getenv("DATA_DIR")

	dataCandidate := data
	if dataCandidate == "" {
		dataCandidate = "data"
	}
	ps := readPathSettings(cfg, filepath.Join(dataCandidate, "path-settings.json"))

	memories = os.Getenv("MEMORY_DIR")
	if memories == "" {
		memories = ps.Memories
	}
	tasks = os.Getenv("TASK_DIR")
	if tasks == "" {
		tasks = ps.Tasks
	}
	return memories, tasks, data
}

func readPathSettings(cfg *Config, path string) pathSettings {
	var ps pathSettings
	raw, err := os.ReadFile(path)
	if err != nil {
		return ps
	}
	if err := json.Unmarshal(raw, &ps); err != nil {
		cfg.warnf("path settings file %s malformed, ignoring: %v", path, err)
		return pathSettings{}
	}
	return ps
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")

	v.SetDefault("authentication.enabled", false)
	v.SetDefault("authentication.token", "")

	v.SetDefault("features.autoBackup", true)
	v.SetDefault("features.backupInterval", int64(3600000)) // ms
	v.SetDefault("features.maxBackups", 10)
	v.SetDefault("features.enableSemanticSearch", false)
	v.SetDefault("features.semanticSearchProvider", ProviderNone)

	v.SetDefault("http.enabled", false)
	v.SetDefault("http.addr", ":8787")
	v.SetDefault("http.corsOrigins", "*")

	v.SetDefault("ollama.url", "http://localhost:11434")
	v.SetDefault("ollama.model", "embeddinggemma")
}

// intervalMillis converts the settings value (milliseconds, JS lineage) into
// a duration, falling back to the hourly default for nonsense values.
func intervalMillis(cfg *Config, ms int64) time.Duration {
	if ms <= 0 {
		cfg.warnf("features.backupInterval %d is not positive, using 1h", ms)
		return time.Hour
	}
	return time.Duration(ms) * time.Millisecond
}

// normalizeProvider lowercases and maps legacy provider names. Anything this
// build cannot serve becomes "none" so semantic search degrades instead of
// failing.
func (c *Config) normalizeProvider(p string) string {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case ProviderOllama:
		return ProviderOllama
	case ProviderNone, "":
		return ProviderNone
	case "xenova":
		c.warnf("semanticSearchProvider %q is not available in this build, semantic search disabled", p)
		return ProviderNone
	default:
		c.warnf("unknown semanticSearchProvider %q, semantic search disabled", p)
		return ProviderNone
	}
}

// SemanticEnabled reports whether the vector layer should be wired at all.
func (c *Config) SemanticEnabled() bool {
	return c.Features.EnableSemanticSearch && c.Features.SemanticSearchProvider == ProviderOllama
}

// Validate checks that the loaded configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Auth.Enabled && c.Auth.Token == "" {
		return fmt.Errorf("authentication.enabled is true but no token is configured (set LIKEISAID_AUTHENTICATION_TOKEN or authentication.token)")
	}
	if c.Features.MaxBackups < 1 {
		return fmt.Errorf("features.maxBackups must be at least 1, got %d", c.Features.MaxBackups)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	return nil
}

func (c *Config) warnf(format string, args ...any) {
	c.Warnings = append(c.Warnings, fmt.Sprintf(format, args...))
}
