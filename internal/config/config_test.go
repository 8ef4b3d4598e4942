package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Port = -1
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for negative port")
	}

	cfg.Server.Port = 70000
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for port > 65535")
	}
}

func TestValidate_Timeout_Boundary(t *testing.T) {
	cfg := Defaults()

	cfg.Tools.TimeoutSeconds = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for timeoutSeconds=0")
	}

	cfg.Tools.TimeoutSeconds = 1
	if err := Validate(cfg); err != nil {
		t.Fatalf("timeoutSeconds=1 should be valid: %v", err)
	}

	cfg.Tools.TimeoutSeconds = 300
	if err := Validate(cfg); err != nil {
		t.Fatalf("timeoutSeconds=300 should be valid: %v", err)
	}
}

func TestValidate_SearchDefaultResults(t *testing.T) {
	cfg := Defaults()
	cfg.Tools.Search.DefaultResults = 26
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for defaultResults=26")
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := Defaults()
	cfg.General.LogLevel = "verbose"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown log level")
	}
}

func TestValidate_AuditConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Audit.RetentionDays = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for retentionDays=0")
	}

	cfg.Audit.Enabled = false
	if err := Validate(cfg); err != nil {
		t.Fatalf("disabled audit should skip audit checks: %v", err)
	}
}

func TestValidate_TelegramNeedsToken(t *testing.T) {
	cfg := Defaults()
	cfg.Telegram.Enabled = true
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for telegram without token")
	}
	cfg.Telegram.Token = "123:abc"
	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_Paths(t *testing.T) {
	cfg := Defaults()
	cfg.Server.WSPath = "ws"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for relative wsPath")
	}

	cfg = Defaults()
	cfg.Server.WSPath = ""
	if err := Validate(cfg); err != nil {
		t.Fatalf("empty wsPath disables websocket and is valid: %v", err)
	}
}

// --- Load / Save ---

func TestLoadSave_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	original := Defaults()
	original.Tools.Search.DefaultResults = 7

	if err := Save(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if loaded.Tools.Search.DefaultResults != 7 {
		t.Fatalf("expected 7, got %d", loaded.Tools.Search.DefaultResults)
	}
}

func TestLoadSave_YAMLRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	original := Defaults()
	original.Server.Port = 9191
	original.Tools.Math.LocalFallback = false

	if err := Save(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Server.Port != 9191 || loaded.Tools.Math.LocalFallback {
		t.Fatalf("unexpected config: %+v", loaded.Server)
	}
}

func TestLoad_YAMLPartialKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	content := "server:\n  port: 7000\ntelegram:\n  allowFrom: [\"alice\", 12345]\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 7000 {
		t.Fatalf("expected port 7000, got %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Tools.TimeoutSeconds != 15 {
		t.Fatal("unset keys should keep defaults")
	}
	if len(cfg.Telegram.AllowFrom) != 2 || cfg.Telegram.AllowFrom[1] != "12345" {
		t.Fatalf("unexpected allowFrom: %v", cfg.Telegram.AllowFrom)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.json")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	os.WriteFile(path, []byte("{not json}"), 0o644)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoad_ValidatesConfig(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.json")
	content := `{
		"tools": {
			"timeoutSeconds": 0
		}
	}`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(cfgFile)
	if err == nil {
		t.Fatal("expected validation error for timeoutSeconds=0")
	}
}

func TestLoad_NewsAPIKeyFromEnv(t *testing.T) {
	t.Setenv("NEWS_API_KEY", "env-news-key")

	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.json")
	content := `{"tools": {"news": {"apiKey": "file-key"}}}`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgFile)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Tools.News.APIKey != "env-news-key" {
		t.Fatalf("expected env key to win, got %q", cfg.Tools.News.APIKey)
	}
}

func TestLoad_WithEnvVarSubstitution(t *testing.T) {
	t.Setenv("TEST_SOSCHAT_AUDIT_DB", "/tmp/test-audit.db")

	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.json")
	content := `{
		"audit": {
			"enabled": true,
			"dbPath": "${TEST_SOSCHAT_AUDIT_DB}",
			"retentionDays": 7
		}
	}`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgFile)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Audit.DBPath != "/tmp/test-audit.db" {
		t.Fatalf("expected dbPath '/tmp/test-audit.db', got %q", cfg.Audit.DBPath)
	}
}

func TestLoadRaw_LeavesEnvUnapplied(t *testing.T) {
	t.Setenv("NEWS_API_KEY", "env-news-key")
	t.Setenv("TEST_SOSCHAT_AUDIT_DB", "/tmp/raw-audit.db")

	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.json")
	content := `{"audit": {"dbPath": "${TEST_SOSCHAT_AUDIT_DB}"}}`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	raw, err := LoadRaw(cfgFile)
	if err != nil {
		t.Fatalf("LoadRaw: %v", err)
	}
	if raw.Tools.News.APIKey != "" || raw.Audit.DBPath != "${TEST_SOSCHAT_AUDIT_DB}" {
		t.Fatalf("raw config picked up environment: key=%q db=%q", raw.Tools.News.APIKey, raw.Audit.DBPath)
	}

	eff, err := Effective(raw)
	if err != nil {
		t.Fatalf("Effective: %v", err)
	}
	if eff.Tools.News.APIKey != "env-news-key" || eff.Audit.DBPath != "/tmp/raw-audit.db" {
		t.Fatalf("unexpected effective config: key=%q db=%q", eff.Tools.News.APIKey, eff.Audit.DBPath)
	}
	if raw.Tools.News.APIKey != "" {
		t.Fatal("Effective modified its input")
	}
}

// --- Accessor ---

func TestGetByPath_ValidPaths(t *testing.T) {
	cfg := Defaults()

	val, err := GetByPath(cfg, "tools.math.endpoint")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if val != "https://api.mathjs.org/v4/" {
		t.Fatalf("unexpected value %v", val)
	}
}

func TestGetByPath_InvalidPath(t *testing.T) {
	cfg := Defaults()
	_, err := GetByPath(cfg, "nonexistent.path")
	if err == nil {
		t.Fatal("expected error for nonexistent path")
	}
}

func TestSetByPath_ValidPath(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "tools.news.endpoint", "http://localhost:9999"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if cfg.Tools.News.Endpoint != "http://localhost:9999" {
		t.Fatalf("unexpected endpoint %q", cfg.Tools.News.Endpoint)
	}
}

func TestSetByPath_EmptyPath(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "", "x"); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestSetByPath_BoolConversion(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "tools.math.localFallback", "false"); err != nil {
		t.Fatalf("set bool: %v", err)
	}
	if cfg.Tools.Math.LocalFallback {
		t.Fatal("expected tools.math.localFallback=false")
	}
}

func TestSetByPath_IntConversion(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "server.port", "9000"); err != nil {
		t.Fatalf("set int: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Fatalf("expected 9000, got %d", cfg.Server.Port)
	}
}

func TestSetByPath_TypeMismatchLeavesConfig(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "server.port", "not-a-port"); err == nil {
		t.Fatal("expected type error")
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("config modified on failed set: %d", cfg.Server.Port)
	}
}

// --- Sanitize ---

func TestSanitize_MasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Telegram.Token = "123456789:ABCdefGHIjklMNOpqrSTUvwxyz"
	cfg.Tools.News.APIKey = "0123456789abcdef0123456789abcdef"
	cfg.Server.APIKey = "server-key-12345678"

	sanitized := Sanitize(cfg)

	if sanitized.Telegram.Token == cfg.Telegram.Token {
		t.Fatal("telegram token should be masked")
	}
	if sanitized.Tools.News.APIKey != "0123****cdef" {
		t.Fatalf("news key should be masked, got %q", sanitized.Tools.News.APIKey)
	}
	if sanitized.Server.APIKey == cfg.Server.APIKey {
		t.Fatal("server API key should be masked")
	}
	// Verify original is untouched
	if cfg.Telegram.Token != "123456789:ABCdefGHIjklMNOpqrSTUvwxyz" {
		t.Fatal("original config should not be modified")
	}
}

func TestSanitize_ShortSecret(t *testing.T) {
	cfg := Defaults()
	cfg.Telegram.Token = "short"
	sanitized := Sanitize(cfg)
	if sanitized.Telegram.Token != "***" {
		t.Fatalf("short secret should be '***', got %q", sanitized.Telegram.Token)
	}
}

// --- ListPaths ---

func TestListPaths_ReturnsAllLeaves(t *testing.T) {
	cfg := Defaults()
	paths := ListPaths(cfg)
	if len(paths) == 0 {
		t.Fatal("expected non-empty paths")
	}

	for _, expected := range []string{"general.logLevel", "server.port", "tools.search.defaultResults", "audit.enabled"} {
		if _, ok := paths[expected]; !ok {
			t.Errorf("missing expected path: %s", expected)
		}
	}
}

// --- FlexStringList ---

func TestFlexStringList_MixedTypes(t *testing.T) {
	input := `["hello", 123, "world", 456.0]`
	var list FlexStringList
	if err := json.Unmarshal([]byte(input), &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(list) != 4 {
		t.Fatalf("expected 4 items, got %d", len(list))
	}
	if list[1] != "123" || list[3] != "456" {
		t.Fatalf("number conversion mismatch: %v", list)
	}
}

func TestFlexStringList_InvalidJSON(t *testing.T) {
	var list FlexStringList
	err := json.Unmarshal([]byte(`not json`), &list)
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

// --- ExpandEnvVars ---

func TestExpandEnvVars_SimpleSubstitution(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-abc123")
	result := ExpandEnvVars(`{"apiKey": "${TEST_API_KEY}"}`)
	expected := `{"apiKey": "sk-abc123"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_DefaultValue(t *testing.T) {
	os.Unsetenv("NONEXISTENT_VAR_12345")
	result := ExpandEnvVars(`{"port": "${NONEXISTENT_VAR_12345:-8080}"}`)
	expected := `{"port": "8080"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_UnsetVarNoDefault_KeepsOriginal(t *testing.T) {
	os.Unsetenv("TOTALLY_UNSET_VAR_XYZ")
	result := ExpandEnvVars(`"${TOTALLY_UNSET_VAR_XYZ}"`)
	expected := `"${TOTALLY_UNSET_VAR_XYZ}"`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_DollarSignWithoutBraces(t *testing.T) {
	input := `"$HOME is not substituted"`
	result := ExpandEnvVars(input)
	if result != input {
		t.Fatalf("expected no change for bare $VAR, got %q", result)
	}
}
