package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"vibepie/internal/ai"
	dbconfig "vibepie/pkg/database"
)

// DefaultMasterKey is accepted when no key is configured. Deployments are
// expected to override it.
const DefaultMasterKey = "geekpie"

// ARCHITECTURAL DISCOVERY: one struct carries every tunable, components
// receive only their own section
type Config struct {
	HTTP         *HTTPConfig         `json:"http"`
	WebSocket    *WebSocketConfig    `json:"websocket"`
	Database     *DatabaseConfig     `json:"database"`
	Orchestrator *OrchestratorConfig `json:"orchestrator"`
	AI           *AIConfig           `json:"ai"`
	Presets      *PresetsConfig      `json:"presets"`
}

type HTTPConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// WebSocketConfig covers heartbeat and the per-connection flood guard
type WebSocketConfig struct {
	PingInterval      time.Duration `json:"ping_interval"`
	PongWait          time.Duration `json:"pong_wait"`
	ReadLimit         int64         `json:"read_limit"`
	MessagesPerSecond float64       `json:"messages_per_second"`
	Burst             int           `json:"burst"`
}

type DatabaseConfig struct {
	Enabled   bool          `json:"enabled"`
	Path      string        `json:"path"`
	Retention time.Duration `json:"retention"`
}

// OrchestratorConfig holds the queue, pipeline and control tunables
type OrchestratorConfig struct {
	MasterKey         string        `json:"-"`
	RateLimitWindow   time.Duration `json:"rate_limit_window"`
	RateLimitIdleTTL  time.Duration `json:"rate_limit_idle_ttl"`
	MaxQueueSize      int           `json:"max_queue_size"`
	MaxPromptLength   int           `json:"max_prompt_length"`
	MaxRecentPrompts  int           `json:"max_recent_prompts"`
	MaxAttempts       int           `json:"max_attempts"`
	PullSyncTimeout   time.Duration `json:"pull_sync_timeout"`
	ViewerSyncTimeout time.Duration `json:"viewer_sync_timeout"`
	SafetyInterval    time.Duration `json:"safety_interval"`
	FailureBackoff    time.Duration `json:"failure_backoff"`
	ControlTick       time.Duration `json:"control_tick"`
	ForceEpsilon      float64       `json:"force_epsilon"`
	MaxCodeLength     int           `json:"max_code_length"`
	BlockedKeywords   []string      `json:"blocked_keywords"`
}

type AIConfig struct {
	APIKey      string        `json:"-"`
	BaseURL     string        `json:"base_url"`
	Model       string        `json:"model"`
	Temperature float32       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	TopP        float32       `json:"top_p"`
	Timeout     time.Duration `json:"timeout"`
}

type PresetsConfig struct {
	Path     string        `json:"path"`
	Watch    bool          `json:"watch"`
	Debounce time.Duration `json:"debounce"`
}

// FUNCTIONAL DISCOVERY: defaults match a single installation: one master
// display, a handful of viewers, a room full of phones
func DefaultConfig() *Config {
	aiDefaults := ai.DefaultConfig()
	return &Config{
		HTTP: &HTTPConfig{
			Host:            "0.0.0.0",
			Port:            3000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval:      30 * time.Second,
			PongWait:          60 * time.Second,
			ReadLimit:         64 * 1024,
			MessagesPerSecond: 50,
			Burst:             100,
		},
		Database: &DatabaseConfig{
			Enabled:   true,
			Path:      "./data/vibepie.db",
			Retention: 7 * 24 * time.Hour,
		},
		Orchestrator: &OrchestratorConfig{
			MasterKey:         DefaultMasterKey,
			RateLimitWindow:   30 * time.Second,
			RateLimitIdleTTL:  10 * time.Minute,
			MaxQueueSize:      20,
			MaxPromptLength:   200,
			MaxRecentPrompts:  10,
			MaxAttempts:       2,
			PullSyncTimeout:   2 * time.Second,
			ViewerSyncTimeout: time.Second,
			SafetyInterval:    5 * time.Second,
			FailureBackoff:    time.Second,
			ControlTick:       100 * time.Millisecond,
			ForceEpsilon:      0.01,
			MaxCodeLength:     5000,
		},
		AI: &AIConfig{
			BaseURL:     aiDefaults.BaseURL,
			Model:       aiDefaults.Model,
			Temperature: aiDefaults.Temperature,
			MaxTokens:   aiDefaults.MaxTokens,
			TopP:        aiDefaults.TopP,
			Timeout:     aiDefaults.Timeout,
		},
		Presets: &PresetsConfig{
			Watch:    true,
			Debounce: 200 * time.Millisecond,
		},
	}
}

// Validate rejects configurations that would fail at runtime
func (c *Config) Validate() error {
	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	// port 0 binds an ephemeral port
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 0 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		return fmt.Errorf("HTTP shutdown timeout must be positive")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.PongWait <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket pong wait must exceed the ping interval")
	}
	if c.WebSocket.ReadLimit <= 0 {
		return fmt.Errorf("WebSocket read limit must be positive")
	}
	if c.WebSocket.MessagesPerSecond <= 0 || c.WebSocket.Burst <= 0 {
		return fmt.Errorf("WebSocket flood guard rate and burst must be positive")
	}

	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if err := c.DatabaseSettings().Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	o := c.Orchestrator
	if o == nil {
		return fmt.Errorf("orchestrator configuration is required")
	}
	if o.MasterKey == "" {
		return fmt.Errorf("master key cannot be empty")
	}
	if o.RateLimitWindow < 0 {
		return fmt.Errorf("rate limit window cannot be negative")
	}
	// clients are told how many whole seconds to wait
	if o.RateLimitWindow%time.Second != 0 {
		return fmt.Errorf("rate limit window must be whole seconds, got %v", o.RateLimitWindow)
	}
	if o.RateLimitIdleTTL <= 0 {
		return fmt.Errorf("rate limit idle TTL must be positive")
	}
	if o.MaxQueueSize <= 0 {
		return fmt.Errorf("max queue size must be positive")
	}
	if o.MaxPromptLength <= 0 {
		return fmt.Errorf("max prompt length must be positive")
	}
	if o.MaxRecentPrompts <= 0 {
		return fmt.Errorf("max recent prompts must be positive")
	}
	if o.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1")
	}
	if o.PullSyncTimeout <= 0 || o.ViewerSyncTimeout <= 0 {
		return fmt.Errorf("pull-sync timeouts must be positive")
	}
	if o.SafetyInterval <= 0 {
		return fmt.Errorf("safety interval must be positive")
	}
	if o.FailureBackoff < 0 {
		return fmt.Errorf("failure backoff cannot be negative")
	}
	if o.ControlTick <= 0 {
		return fmt.Errorf("control tick must be positive")
	}
	if o.ForceEpsilon < 0 || o.ForceEpsilon >= 1 {
		return fmt.Errorf("force epsilon must be in [0, 1)")
	}
	if o.MaxCodeLength <= 0 {
		return fmt.Errorf("max code length must be positive")
	}

	if c.AI == nil {
		return fmt.Errorf("AI configuration is required")
	}
	if c.AI.Model == "" || c.AI.BaseURL == "" {
		return fmt.Errorf("AI model and base URL cannot be empty")
	}
	if c.AI.MaxTokens <= 0 {
		return fmt.Errorf("AI max tokens must be positive")
	}
	if c.AI.Timeout <= 0 {
		return fmt.Errorf("AI timeout must be positive")
	}

	if c.Presets == nil {
		return fmt.Errorf("presets configuration is required")
	}
	if c.Presets.Debounce < 0 {
		return fmt.Errorf("preset debounce cannot be negative")
	}
	return nil
}

// Addr is the HTTP listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// DatabaseSettings expands the database section into the store's pool settings
func (c *Config) DatabaseSettings() *dbconfig.Config {
	db := dbconfig.DefaultConfig()
	db.Enabled = c.Database.Enabled
	db.DatabasePath = c.Database.Path
	db.Retention = c.Database.Retention
	return db
}

// AISettings converts the AI section for the generator adapter
func (c *Config) AISettings() ai.Config {
	return ai.Config{
		APIKey:      c.AI.APIKey,
		BaseURL:     c.AI.BaseURL,
		Model:       c.AI.Model,
		Temperature: c.AI.Temperature,
		MaxTokens:   c.AI.MaxTokens,
		TopP:        c.AI.TopP,
		Timeout:     c.AI.Timeout,
	}
}

// UsesDefaultMasterKey reports whether the well-known key is still active
func (c *Config) UsesDefaultMasterKey() bool {
	return c.Orchestrator.MasterKey == DefaultMasterKey
}

// FUNCTIONAL DISCOVERY: VIBEPIE_* variables plus the short names the
// installation has always been deployed with
func LoadFromEnv() *Config {
	config := DefaultConfig()
	applyEnv(config)
	return config
}

func applyEnv(config *Config) {
	envString("HOST", &config.HTTP.Host)
	envString("VIBEPIE_HTTP_HOST", &config.HTTP.Host)
	envInt("PORT", &config.HTTP.Port)
	envInt("VIBEPIE_HTTP_PORT", &config.HTTP.Port)
	envDuration("VIBEPIE_HTTP_READ_TIMEOUT", &config.HTTP.ReadTimeout)
	envDuration("VIBEPIE_HTTP_WRITE_TIMEOUT", &config.HTTP.WriteTimeout)
	envDuration("VIBEPIE_HTTP_SHUTDOWN_TIMEOUT", &config.HTTP.ShutdownTimeout)

	envDuration("VIBEPIE_WEBSOCKET_PING_INTERVAL", &config.WebSocket.PingInterval)
	envDuration("VIBEPIE_WEBSOCKET_PONG_WAIT", &config.WebSocket.PongWait)

	envBool("VIBEPIE_DATABASE_ENABLED", &config.Database.Enabled)
	envString("VIBEPIE_DATABASE_PATH", &config.Database.Path)
	envDuration("VIBEPIE_DATABASE_RETENTION", &config.Database.Retention)

	o := config.Orchestrator
	envString("MASTER_KEY", &o.MasterKey)
	envString("VIBEPIE_MASTER_KEY", &o.MasterKey)
	if seconds := os.Getenv("RATE_LIMIT_SECONDS"); seconds != "" {
		if s, err := strconv.Atoi(seconds); err == nil {
			o.RateLimitWindow = time.Duration(s) * time.Second
		}
	}
	envDuration("VIBEPIE_RATE_LIMIT_WINDOW", &o.RateLimitWindow)
	envInt("MAX_QUEUE_SIZE", &o.MaxQueueSize)
	envInt("VIBEPIE_MAX_QUEUE_SIZE", &o.MaxQueueSize)
	envInt("VIBEPIE_MAX_PROMPT_LENGTH", &o.MaxPromptLength)
	envInt("VIBEPIE_MAX_ATTEMPTS", &o.MaxAttempts)
	envDuration("VIBEPIE_PULL_SYNC_TIMEOUT", &o.PullSyncTimeout)
	envDuration("VIBEPIE_SAFETY_INTERVAL", &o.SafetyInterval)
	envDuration("VIBEPIE_CONTROL_TICK", &o.ControlTick)
	if keywords := os.Getenv("VIBEPIE_BLOCKED_KEYWORDS"); keywords != "" {
		o.BlockedKeywords = splitList(keywords)
	}

	envString("DEEPSEEK_API_KEY", &config.AI.APIKey)
	envString("VIBEPIE_AI_API_KEY", &config.AI.APIKey)
	envString("AI_MODEL", &config.AI.Model)
	envString("VIBEPIE_AI_MODEL", &config.AI.Model)
	envString("VIBEPIE_AI_BASE_URL", &config.AI.BaseURL)
	envDuration("VIBEPIE_AI_TIMEOUT", &config.AI.Timeout)

	envString("VIBEPIE_PRESETS_PATH", &config.Presets.Path)
	envBool("VIBEPIE_PRESETS_WATCH", &config.Presets.Watch)
}

func envString(name string, target *string) {
	if v := os.Getenv(name); v != "" {
		*target = v
	}
}

func envInt(name string, target *int) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func envBool(name string, target *bool) {
	if v := os.Getenv(name); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}

func envDuration(name string, target *time.Duration) {
	if v := os.Getenv(name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*target = d
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ConfigFile is the on-disk shape. Durations are strings like "30s" so the
// same struct decodes from JSON and TOML.
type ConfigFile struct {
	HTTP         *HTTPConfigFile         `json:"http" toml:"http"`
	WebSocket    *WebSocketConfigFile    `json:"websocket" toml:"websocket"`
	Database     *DatabaseConfigFile     `json:"database" toml:"database"`
	Orchestrator *OrchestratorConfigFile `json:"orchestrator" toml:"orchestrator"`
	AI           *AIConfigFile           `json:"ai" toml:"ai"`
	Presets      *PresetsConfigFile      `json:"presets" toml:"presets"`
}

type HTTPConfigFile struct {
	Host            string `json:"host" toml:"host"`
	Port            int    `json:"port" toml:"port"`
	ReadTimeout     string `json:"read_timeout" toml:"read_timeout"`
	WriteTimeout    string `json:"write_timeout" toml:"write_timeout"`
	ShutdownTimeout string `json:"shutdown_timeout" toml:"shutdown_timeout"`
}

type WebSocketConfigFile struct {
	PingInterval      string  `json:"ping_interval" toml:"ping_interval"`
	PongWait          string  `json:"pong_wait" toml:"pong_wait"`
	ReadLimit         int64   `json:"read_limit" toml:"read_limit"`
	MessagesPerSecond float64 `json:"messages_per_second" toml:"messages_per_second"`
	Burst             int     `json:"burst" toml:"burst"`
}

type DatabaseConfigFile struct {
	Enabled   *bool  `json:"enabled" toml:"enabled"`
	Path      string `json:"path" toml:"path"`
	Retention string `json:"retention" toml:"retention"`
}

type OrchestratorConfigFile struct {
	MasterKey         string   `json:"master_key" toml:"master_key"`
	RateLimitWindow   string   `json:"rate_limit_window" toml:"rate_limit_window"`
	RateLimitIdleTTL  string   `json:"rate_limit_idle_ttl" toml:"rate_limit_idle_ttl"`
	MaxQueueSize      int      `json:"max_queue_size" toml:"max_queue_size"`
	MaxPromptLength   int      `json:"max_prompt_length" toml:"max_prompt_length"`
	MaxRecentPrompts  int      `json:"max_recent_prompts" toml:"max_recent_prompts"`
	MaxAttempts       int      `json:"max_attempts" toml:"max_attempts"`
	PullSyncTimeout   string   `json:"pull_sync_timeout" toml:"pull_sync_timeout"`
	ViewerSyncTimeout string   `json:"viewer_sync_timeout" toml:"viewer_sync_timeout"`
	SafetyInterval    string   `json:"safety_interval" toml:"safety_interval"`
	FailureBackoff    string   `json:"failure_backoff" toml:"failure_backoff"`
	ControlTick       string   `json:"control_tick" toml:"control_tick"`
	ForceEpsilon      *float64 `json:"force_epsilon" toml:"force_epsilon"`
	MaxCodeLength     int      `json:"max_code_length" toml:"max_code_length"`
	BlockedKeywords   []string `json:"blocked_keywords" toml:"blocked_keywords"`
}

type AIConfigFile struct {
	APIKey      string   `json:"api_key" toml:"api_key"`
	BaseURL     string   `json:"base_url" toml:"base_url"`
	Model       string   `json:"model" toml:"model"`
	Temperature *float32 `json:"temperature" toml:"temperature"`
	MaxTokens   int      `json:"max_tokens" toml:"max_tokens"`
	TopP        *float32 `json:"top_p" toml:"top_p"`
	Timeout     string   `json:"timeout" toml:"timeout"`
}

type PresetsConfigFile struct {
	Path     string `json:"path" toml:"path"`
	Watch    *bool  `json:"watch" toml:"watch"`
	Debounce string `json:"debounce" toml:"debounce"`
}

// LoadFromFile reads a .json or .toml file over the defaults. Unset fields
// keep their default; a malformed duration is an error.
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := mergeFile(config, path); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

func mergeFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file ConfigFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &file); err != nil {
			return fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &file); err != nil {
			return fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := file.apply(config); err != nil {
		return fmt.Errorf("invalid value in %s: %w", path, err)
	}
	return nil
}

func (f *ConfigFile) apply(config *Config) error {
	p := durationParser{}

	if h := f.HTTP; h != nil {
		setString(&config.HTTP.Host, h.Host)
		setInt(&config.HTTP.Port, h.Port)
		p.parse("http.read_timeout", h.ReadTimeout, &config.HTTP.ReadTimeout)
		p.parse("http.write_timeout", h.WriteTimeout, &config.HTTP.WriteTimeout)
		p.parse("http.shutdown_timeout", h.ShutdownTimeout, &config.HTTP.ShutdownTimeout)
	}

	if w := f.WebSocket; w != nil {
		p.parse("websocket.ping_interval", w.PingInterval, &config.WebSocket.PingInterval)
		p.parse("websocket.pong_wait", w.PongWait, &config.WebSocket.PongWait)
		if w.ReadLimit > 0 {
			config.WebSocket.ReadLimit = w.ReadLimit
		}
		if w.MessagesPerSecond > 0 {
			config.WebSocket.MessagesPerSecond = w.MessagesPerSecond
		}
		setInt(&config.WebSocket.Burst, w.Burst)
	}

	if d := f.Database; d != nil {
		if d.Enabled != nil {
			config.Database.Enabled = *d.Enabled
		}
		setString(&config.Database.Path, d.Path)
		p.parse("database.retention", d.Retention, &config.Database.Retention)
	}

	if o := f.Orchestrator; o != nil {
		t := config.Orchestrator
		setString(&t.MasterKey, o.MasterKey)
		p.parse("orchestrator.rate_limit_window", o.RateLimitWindow, &t.RateLimitWindow)
		p.parse("orchestrator.rate_limit_idle_ttl", o.RateLimitIdleTTL, &t.RateLimitIdleTTL)
		setInt(&t.MaxQueueSize, o.MaxQueueSize)
		setInt(&t.MaxPromptLength, o.MaxPromptLength)
		setInt(&t.MaxRecentPrompts, o.MaxRecentPrompts)
		setInt(&t.MaxAttempts, o.MaxAttempts)
		p.parse("orchestrator.pull_sync_timeout", o.PullSyncTimeout, &t.PullSyncTimeout)
		p.parse("orchestrator.viewer_sync_timeout", o.ViewerSyncTimeout, &t.ViewerSyncTimeout)
		p.parse("orchestrator.safety_interval", o.SafetyInterval, &t.SafetyInterval)
		p.parse("orchestrator.failure_backoff", o.FailureBackoff, &t.FailureBackoff)
		p.parse("orchestrator.control_tick", o.ControlTick, &t.ControlTick)
		if o.ForceEpsilon != nil {
			t.ForceEpsilon = *o.ForceEpsilon
		}
		setInt(&t.MaxCodeLength, o.MaxCodeLength)
		if len(o.BlockedKeywords) > 0 {
			t.BlockedKeywords = o.BlockedKeywords
		}
	}

	if a := f.AI; a != nil {
		setString(&config.AI.APIKey, a.APIKey)
		setString(&config.AI.BaseURL, a.BaseURL)
		setString(&config.AI.Model, a.Model)
		if a.Temperature != nil {
			config.AI.Temperature = *a.Temperature
		}
		setInt(&config.AI.MaxTokens, a.MaxTokens)
		if a.TopP != nil {
			config.AI.TopP = *a.TopP
		}
		p.parse("ai.timeout", a.Timeout, &config.AI.Timeout)
	}

	if ps := f.Presets; ps != nil {
		setString(&config.Presets.Path, ps.Path)
		if ps.Watch != nil {
			config.Presets.Watch = *ps.Watch
		}
		p.parse("presets.debounce", ps.Debounce, &config.Presets.Debounce)
	}

	return p.err
}

// durationParser keeps the first parse failure so apply reads linearly
type durationParser struct {
	err error
}

func (p *durationParser) parse(field, value string, target *time.Duration) {
	if value == "" || p.err != nil {
		return
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		p.err = fmt.Errorf("%s: %w", field, err)
		return
	}
	*target = d
}

func setString(target *string, value string) {
	if value != "" {
		*target = value
	}
}

func setInt(target *int, value int) {
	if value > 0 {
		*target = value
	}
}

// LoadConfigWithPrecedence layers file > environment > defaults. A file that
// cannot be loaded is logged and skipped; the result is still validated.
func LoadConfigWithPrecedence(path string) (*Config, error) {
	config := LoadFromEnv()

	if path != "" {
		candidate := LoadFromEnv()
		if err := mergeFile(candidate, path); err != nil {
			log.Printf("Ignoring config file: %v", err)
		} else {
			config = candidate
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}
