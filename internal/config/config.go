package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds application configuration.
type Config struct {
	// MessageMaxChars is the maximum character count for a capsule message
	MessageMaxChars int `json:"message_max_chars"`

	// Schedule is the recurring trigger expression (standard 5-field cron).
	// Default fires every 5 minutes.
	Schedule string `json:"schedule"`

	// Timezone is the IANA zone the schedule is evaluated in.
	Timezone string `json:"timezone"`

	// MaxConcurrent is the number of deliveries dispatched concurrently
	// within one chunk of a cycle.
	MaxConcurrent int `json:"max_concurrent"`

	// ChunkDelayMS is the pause between chunks within one cycle,
	// throttling load on the mail provider (not the store).
	ChunkDelayMS int `json:"chunk_delay_ms"`

	// MaxAttempts is how many times a single delivery is tried before the
	// channel reports failure. This is the only retry surface.
	MaxAttempts int `json:"max_attempts"`

	// RetryDelayMS is the constant pause between delivery attempts.
	RetryDelayMS int `json:"retry_delay_ms"`

	// StartupDelayMS is the pause between scheduler start and the immediate
	// catch-up cycle that picks up already-due capsules.
	StartupDelayMS int `json:"startup_delay_ms"`

	// SMTP provider settings. Host and From are mandatory for any command
	// that actually delivers; see ValidateMail.
	SMTPHost     string `json:"smtp_host"`
	SMTPPort     int    `json:"smtp_port"`
	SMTPUsername string `json:"smtp_username,omitempty"`
	SMTPPassword string `json:"smtp_password,omitempty"`
	SMTPFrom     string `json:"smtp_from"`

	// Bind and Port configure the HTTP API listener.
	Bind string `json:"bind"`
	Port int    `json:"port"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default. Only set if you experience contention.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		MessageMaxChars: 10000,
		Schedule:        "*/5 * * * *",
		Timezone:        "America/Sao_Paulo",
		MaxConcurrent:   3,
		ChunkDelayMS:    2000,
		MaxAttempts:     3,
		RetryDelayMS:    5000,
		StartupDelayMS:  3000,
		SMTPPort:        587,
		Bind:            "127.0.0.1",
		Port:            8080,
	}
}

// Load loads configuration from baseDir/config.json, merged over defaults,
// with environment overrides applied last.
// Returns default config (plus env) if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.capsula.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFile(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	applyEnv(cfg)
	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultConfig(), nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for non-zero scalars.
func Merge(base, overlay *Config) *Config {
	result := *overlay

	if result.MessageMaxChars == 0 {
		result.MessageMaxChars = base.MessageMaxChars
	}
	if result.Schedule == "" {
		result.Schedule = base.Schedule
	}
	if result.Timezone == "" {
		result.Timezone = base.Timezone
	}
	if result.MaxConcurrent == 0 {
		result.MaxConcurrent = base.MaxConcurrent
	}
	if result.ChunkDelayMS == 0 {
		result.ChunkDelayMS = base.ChunkDelayMS
	}
	if result.MaxAttempts == 0 {
		result.MaxAttempts = base.MaxAttempts
	}
	if result.RetryDelayMS == 0 {
		result.RetryDelayMS = base.RetryDelayMS
	}
	if result.StartupDelayMS == 0 {
		result.StartupDelayMS = base.StartupDelayMS
	}
	if result.SMTPHost == "" {
		result.SMTPHost = base.SMTPHost
	}
	if result.SMTPPort == 0 {
		result.SMTPPort = base.SMTPPort
	}
	if result.SMTPUsername == "" {
		result.SMTPUsername = base.SMTPUsername
	}
	if result.SMTPPassword == "" {
		result.SMTPPassword = base.SMTPPassword
	}
	if result.SMTPFrom == "" {
		result.SMTPFrom = base.SMTPFrom
	}
	if result.Bind == "" {
		result.Bind = base.Bind
	}
	if result.Port == 0 {
		result.Port = base.Port
	}
	if result.DBMaxOpenConns == 0 {
		result.DBMaxOpenConns = base.DBMaxOpenConns
	}
	if result.DBMaxIdleConns == 0 {
		result.DBMaxIdleConns = base.DBMaxIdleConns
	}
	if len(result.DisabledTools) == 0 {
		result.DisabledTools = base.DisabledTools
	}

	return &result
}

// applyEnv overrides deployment/secret settings from CAPSULA_* variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv("CAPSULA_SMTP_HOST"); v != "" {
		cfg.SMTPHost = v
	}
	if v := os.Getenv("CAPSULA_SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.SMTPPort = port
		}
	}
	if v := os.Getenv("CAPSULA_SMTP_USERNAME"); v != "" {
		cfg.SMTPUsername = v
	}
	if v := os.Getenv("CAPSULA_SMTP_PASSWORD"); v != "" {
		cfg.SMTPPassword = v
	}
	if v := os.Getenv("CAPSULA_SMTP_FROM"); v != "" {
		cfg.SMTPFrom = v
	}
	if v := os.Getenv("CAPSULA_SCHEDULE"); v != "" {
		cfg.Schedule = v
	}
	if v := os.Getenv("CAPSULA_TIMEZONE"); v != "" {
		cfg.Timezone = v
	}
}

// ValidateMail checks that mandatory delivery credentials are present.
// Commands that dispatch mail refuse to start when this fails.
func (c *Config) ValidateMail() error {
	if c.SMTPHost == "" {
		return errors.New("smtp_host is required (set CAPSULA_SMTP_HOST or config.json)")
	}
	if c.SMTPFrom == "" {
		return errors.New("smtp_from is required (set CAPSULA_SMTP_FROM or config.json)")
	}
	return nil
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// ChunkDelay returns the inter-chunk pause as a duration.
func (c *Config) ChunkDelay() time.Duration {
	return time.Duration(c.ChunkDelayMS) * time.Millisecond
}

// RetryDelay returns the inter-attempt pause as a duration.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMS) * time.Millisecond
}

// StartupDelay returns the catch-up cycle pause as a duration.
func (c *Config) StartupDelay() time.Duration {
	return time.Duration(c.StartupDelayMS) * time.Millisecond
}
