package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the SOS Chatbot tool service.
type Config struct {
	General  GeneralConfig  `json:"general" yaml:"general"`
	Server   ServerConfig   `json:"server" yaml:"server"`
	Tools    ToolsConfig    `json:"tools" yaml:"tools"`
	Audit    AuditConfig    `json:"audit" yaml:"audit"`
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel" yaml:"logLevel"`
	LogFile  string `json:"logFile,omitempty" yaml:"logFile,omitempty"` // optional log file path
}

// ServerConfig configures the HTTP tool endpoint.
type ServerConfig struct {
	Host           string `json:"host" yaml:"host"`
	Port           int    `json:"port" yaml:"port"`
	APIKey         string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"` // optional bearer token
	MetricsEnabled bool   `json:"metricsEnabled" yaml:"metricsEnabled"`
	MetricsPath    string `json:"metricsPath" yaml:"metricsPath"`
	WSPath         string `json:"wsPath" yaml:"wsPath"` // empty disables the WebSocket surface
}

type ToolsConfig struct {
	TimeoutSeconds int               `json:"timeoutSeconds" yaml:"timeoutSeconds"`
	Search         SearchToolConfig  `json:"search" yaml:"search"`
	Math           MathToolConfig    `json:"math" yaml:"math"`
	Weather        WeatherToolConfig `json:"weather" yaml:"weather"`
	News           NewsToolConfig    `json:"news" yaml:"news"`
}

type SearchToolConfig struct {
	Endpoint       string `json:"endpoint" yaml:"endpoint"`
	DefaultResults int    `json:"defaultResults" yaml:"defaultResults"`
}

type MathToolConfig struct {
	Endpoint      string `json:"endpoint" yaml:"endpoint"`
	LocalFallback bool   `json:"localFallback" yaml:"localFallback"`
}

type WeatherToolConfig struct {
	GeocodeEndpoint  string `json:"geocodeEndpoint" yaml:"geocodeEndpoint"`
	ForecastEndpoint string `json:"forecastEndpoint" yaml:"forecastEndpoint"`
}

type NewsToolConfig struct {
	Endpoint string `json:"endpoint" yaml:"endpoint"`
	APIKey   string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"` // overridden by NEWS_API_KEY
}

// AuditConfig configures the SQLite dispatch log.
type AuditConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	DBPath        string `json:"dbPath" yaml:"dbPath"`
	RetentionDays int    `json:"retentionDays" yaml:"retentionDays"`
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled" yaml:"enabled"`
	Token     string         `json:"token" yaml:"token"`
	AllowFrom FlexStringList `json:"allowFrom" yaml:"allowFrom"`
	ParseMode string         `json:"parseMode" yaml:"parseMode"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	// Try []string first
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	// Fallback: array of mixed types
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// DefaultConfigDir returns the default config directory (~/.soschat).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".soschat"
	}
	return filepath.Join(home, ".soschat")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads a JSON or YAML config file on top of Defaults, then applies
// environment overlays and validates the result.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg, err := parse(path, data)
	if err != nil {
		return nil, err
	}
	return resolve(cfg)
}

// LoadRaw reads the config file as written: no ${VAR} substitution, no
// environment overlay and no path expansion. Use it for configs that are
// saved back to disk.
func LoadRaw(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}
	return parse(path, data)
}

// Effective returns a validated copy of a raw config with ${VAR}
// substitution and environment overlays applied. cfg is not modified.
func Effective(cfg *Config) (*Config, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("cannot marshal config: %w", err)
	}
	out := Defaults()
	if err := json.Unmarshal([]byte(ExpandEnvVars(string(data))), out); err != nil {
		return nil, fmt.Errorf("cannot expand config: %w", err)
	}
	return resolve(out)
}

func parse(path string, data []byte) (*Config, error) {
	cfg := Defaults()
	var err error
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	return cfg, nil
}

func resolve(cfg *Config) (*Config, error) {
	ApplyEnv(cfg)
	cfg.Audit.DBPath = ExpandPath(cfg.Audit.DBPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overlays well-known environment variables onto cfg.
func ApplyEnv(cfg *Config) {
	if key := os.Getenv("NEWS_API_KEY"); key != "" {
		cfg.Tools.News.APIKey = key
	}
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

// Save writes cfg as JSON, or YAML when path ends in .yaml/.yml.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if cfg.Server.MetricsEnabled && !strings.HasPrefix(cfg.Server.MetricsPath, "/") {
		errs = append(errs, "server.metricsPath must start with /")
	}
	if cfg.Server.WSPath != "" && !strings.HasPrefix(cfg.Server.WSPath, "/") {
		errs = append(errs, "server.wsPath must start with /")
	}

	if cfg.Tools.TimeoutSeconds < 1 || cfg.Tools.TimeoutSeconds > 300 {
		errs = append(errs, "tools.timeoutSeconds must be between 1 and 300")
	}
	if cfg.Tools.Search.DefaultResults < 1 || cfg.Tools.Search.DefaultResults > 25 {
		errs = append(errs, "tools.search.defaultResults must be between 1 and 25")
	}

	if cfg.Audit.Enabled {
		if cfg.Audit.DBPath == "" {
			errs = append(errs, "audit.dbPath is required when audit is enabled")
		}
		if cfg.Audit.RetentionDays < 1 {
			errs = append(errs, "audit.retentionDays must be >= 1")
		}
	}

	if cfg.Telegram.Enabled && cfg.Telegram.Token == "" {
		errs = append(errs, "telegram.token is required when telegram is enabled")
	}
	switch cfg.Telegram.ParseMode {
	case "", "Markdown", "MarkdownV2", "HTML":
		// valid
	default:
		errs = append(errs, "telegram.parseMode must be one of: Markdown, MarkdownV2, HTML")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
