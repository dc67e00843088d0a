package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

// FUNCTIONAL VALIDATION TEST: defaults describe one installation
func TestConfig_DefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.HTTP.Port != 3000 {
		t.Errorf("Expected port 3000, got %d", config.HTTP.Port)
	}
	o := config.Orchestrator
	checks := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"rate limit window", o.RateLimitWindow, 30 * time.Second},
		{"max queue size", o.MaxQueueSize, 20},
		{"max attempts", o.MaxAttempts, 2},
		{"pull sync timeout", o.PullSyncTimeout, 2 * time.Second},
		{"viewer sync timeout", o.ViewerSyncTimeout, time.Second},
		{"safety interval", o.SafetyInterval, 5 * time.Second},
		{"failure backoff", o.FailureBackoff, time.Second},
		{"control tick", o.ControlTick, 100 * time.Millisecond},
		{"force epsilon", o.ForceEpsilon, 0.01},
		{"max prompt length", o.MaxPromptLength, 200},
		{"max recent prompts", o.MaxRecentPrompts, 10},
		{"idle ttl", o.RateLimitIdleTTL, 10 * time.Minute},
		{"generation timeout", config.AI.Timeout, 30 * time.Second},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: expected %v, got %v", c.name, c.want, c.got)
		}
	}

	if !config.UsesDefaultMasterKey() {
		t.Error("Default config should use the default master key")
	}
	if err := config.Validate(); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}
}

// FUNCTIONAL VALIDATION TEST: Validate rejects unusable values
func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"invalid port", func(c *Config) { c.HTTP.Port = -1 }},
		{"empty host", func(c *Config) { c.HTTP.Host = "" }},
		{"pong wait below ping", func(c *Config) { c.WebSocket.PongWait = c.WebSocket.PingInterval }},
		{"empty database path", func(c *Config) { c.Database.Path = "" }},
		{"empty master key", func(c *Config) { c.Orchestrator.MasterKey = "" }},
		{"fractional rate window", func(c *Config) { c.Orchestrator.RateLimitWindow = 1500 * time.Millisecond }},
		{"sub-second rate window", func(c *Config) { c.Orchestrator.RateLimitWindow = 500 * time.Millisecond }},
		{"zero queue", func(c *Config) { c.Orchestrator.MaxQueueSize = 0 }},
		{"zero attempts", func(c *Config) { c.Orchestrator.MaxAttempts = 0 }},
		{"epsilon out of range", func(c *Config) { c.Orchestrator.ForceEpsilon = 1 }},
		{"zero control tick", func(c *Config) { c.Orchestrator.ControlTick = 0 }},
		{"missing model", func(c *Config) { c.AI.Model = "" }},
		{"nil presets", func(c *Config) { c.Presets = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			if err := config.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestConfig_ValidateAllowsDisabledHistoryWithoutPath(t *testing.T) {
	config := DefaultConfig()
	config.Database.Enabled = false
	config.Database.Path = ""
	if err := config.Validate(); err != nil {
		t.Errorf("Disabled history should not need a path: %v", err)
	}
}

func TestConfig_ZeroRateWindowDisablesLimiting(t *testing.T) {
	config := DefaultConfig()
	config.Orchestrator.RateLimitWindow = 0
	if err := config.Validate(); err != nil {
		t.Errorf("Zero rate window should be allowed: %v", err)
	}
}

// FUNCTIONAL VALIDATION TEST: environment overrides, both naming schemes
func TestConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "4000")
	t.Setenv("HOST", "127.0.0.1")
	t.Setenv("RATE_LIMIT_SECONDS", "10")
	t.Setenv("MAX_QUEUE_SIZE", "5")
	t.Setenv("DEEPSEEK_API_KEY", "sk-test")
	t.Setenv("AI_MODEL", "deepseek-coder")
	t.Setenv("MASTER_KEY", "secret")
	t.Setenv("VIBEPIE_BLOCKED_KEYWORDS", "spam, scam ,")

	config := LoadFromEnv()

	if config.HTTP.Port != 4000 || config.HTTP.Host != "127.0.0.1" {
		t.Errorf("Expected 127.0.0.1:4000, got %s", config.Addr())
	}
	if config.Orchestrator.RateLimitWindow != 10*time.Second {
		t.Errorf("Expected 10s window, got %v", config.Orchestrator.RateLimitWindow)
	}
	if config.Orchestrator.MaxQueueSize != 5 {
		t.Errorf("Expected queue 5, got %d", config.Orchestrator.MaxQueueSize)
	}
	if config.AI.APIKey != "sk-test" || config.AI.Model != "deepseek-coder" {
		t.Errorf("AI settings not loaded: %+v", config.AI)
	}
	if config.UsesDefaultMasterKey() {
		t.Error("MASTER_KEY should replace the default key")
	}
	if got := strings.Join(config.Orchestrator.BlockedKeywords, "|"); got != "spam|scam" {
		t.Errorf("Expected spam|scam, got %s", got)
	}
}

func TestConfig_LoadFromEnvPrefixedWins(t *testing.T) {
	t.Setenv("PORT", "4000")
	t.Setenv("VIBEPIE_HTTP_PORT", "5000")

	if port := LoadFromEnv().HTTP.Port; port != 5000 {
		t.Errorf("Expected VIBEPIE_HTTP_PORT to win, got %d", port)
	}
}

func TestConfig_LoadFromEnvIgnoresGarbage(t *testing.T) {
	t.Setenv("PORT", "not-a-number")
	t.Setenv("VIBEPIE_SAFETY_INTERVAL", "soon")

	config := LoadFromEnv()
	if config.HTTP.Port != 3000 {
		t.Errorf("Invalid PORT should keep default, got %d", config.HTTP.Port)
	}
	if config.Orchestrator.SafetyInterval != 5*time.Second {
		t.Errorf("Invalid duration should keep default, got %v", config.Orchestrator.SafetyInterval)
	}
}

// FUNCTIONAL VALIDATION TEST: JSON and TOML files decode to the same config
func TestConfig_LoadFromFileJSON(t *testing.T) {
	path := writeFile(t, "vibepie.json", `{
		"http": {"port": 8081},
		"orchestrator": {"rate_limit_window": "15s", "max_queue_size": 7, "force_epsilon": 0.05},
		"ai": {"model": "gpt-4o-mini", "temperature": 0.2},
		"presets": {"watch": false, "path": "/etc/vibepie/presets.yaml"}
	}`)

	config, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if config.HTTP.Port != 8081 {
		t.Errorf("Expected port 8081, got %d", config.HTTP.Port)
	}
	if config.Orchestrator.RateLimitWindow != 15*time.Second || config.Orchestrator.MaxQueueSize != 7 {
		t.Errorf("Orchestrator section not applied: %+v", config.Orchestrator)
	}
	if config.Orchestrator.ForceEpsilon != 0.05 {
		t.Errorf("Expected epsilon 0.05, got %v", config.Orchestrator.ForceEpsilon)
	}
	if config.AI.Temperature != 0.2 {
		t.Errorf("Expected temperature 0.2, got %v", config.AI.Temperature)
	}
	if config.Presets.Watch || config.Presets.Path != "/etc/vibepie/presets.yaml" {
		t.Errorf("Presets section not applied: %+v", config.Presets)
	}
	if config.Orchestrator.MaxAttempts != 2 {
		t.Error("Unset fields should keep defaults")
	}
}

func TestConfig_LoadFromFileTOML(t *testing.T) {
	path := writeFile(t, "vibepie.toml", `
[http]
port = 9000

[database]
enabled = false

[orchestrator]
master_key = "stage-left"
control_tick = "50ms"
blocked_keywords = ["spam"]
`)

	config, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if config.HTTP.Port != 9000 {
		t.Errorf("Expected port 9000, got %d", config.HTTP.Port)
	}
	if config.Database.Enabled {
		t.Error("Expected history disabled")
	}
	if config.Orchestrator.MasterKey != "stage-left" {
		t.Errorf("Expected master key from file, got %s", config.Orchestrator.MasterKey)
	}
	if config.Orchestrator.ControlTick != 50*time.Millisecond {
		t.Errorf("Expected 50ms tick, got %v", config.Orchestrator.ControlTick)
	}
	if len(config.Orchestrator.BlockedKeywords) != 1 {
		t.Errorf("Expected one blocked keyword, got %v", config.Orchestrator.BlockedKeywords)
	}
}

func TestConfig_LoadFromFileErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"invalid json", "bad.json", `{"http": {`},
		{"invalid toml", "bad.toml", `[http`},
		{"bad duration", "dur.json", `{"orchestrator": {"safety_interval": "forever"}}`},
		{"fails validation", "port.json", `{"orchestrator": {"force_epsilon": 2}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadFromFile(writeFile(t, tt.file, tt.content)); err == nil {
				t.Error("Expected error")
			}
		})
	}

	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("Missing file should fail")
	}
}

// FUNCTIONAL VALIDATION TEST: file > environment > defaults
func TestConfig_LoadConfigWithPrecedence(t *testing.T) {
	t.Setenv("PORT", "4000")
	t.Setenv("MAX_QUEUE_SIZE", "9")
	path := writeFile(t, "vibepie.json", `{"http": {"port": 8082}}`)

	config, err := LoadConfigWithPrecedence(path)
	if err != nil {
		t.Fatalf("LoadConfigWithPrecedence failed: %v", err)
	}
	if config.HTTP.Port != 8082 {
		t.Errorf("File should win over env, got port %d", config.HTTP.Port)
	}
	if config.Orchestrator.MaxQueueSize != 9 {
		t.Errorf("Env should win over defaults, got queue %d", config.Orchestrator.MaxQueueSize)
	}
}

func TestConfig_LoadConfigWithPrecedenceBrokenFile(t *testing.T) {
	t.Setenv("PORT", "4000")
	path := writeFile(t, "broken.json", `{"http": {"port": 8083, "read_timeout": "nope"}}`)

	config, err := LoadConfigWithPrecedence(path)
	if err != nil {
		t.Fatalf("Broken file should be skipped, got %v", err)
	}
	if config.HTTP.Port != 4000 {
		t.Errorf("Broken file must not partially apply, got port %d", config.HTTP.Port)
	}
}

func TestConfig_Conversions(t *testing.T) {
	config := DefaultConfig()
	config.Database.Path = "/tmp/x.db"
	config.AI.APIKey = "k"

	if db := config.DatabaseSettings(); db.DatabasePath != "/tmp/x.db" || db.MaxConnections <= 0 {
		t.Errorf("Unexpected database settings: %+v", db)
	}
	if ai := config.AISettings(); ai.APIKey != "k" || ai.Model != config.AI.Model {
		t.Errorf("Unexpected AI settings: %+v", ai)
	}
}
