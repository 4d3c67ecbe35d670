package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Security  SecurityConfig  `yaml:"security" envconfig:"SECURITY"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Guard     GuardConfig     `yaml:"guard" envconfig:"GUARD"`
	Trial     TrialConfig     `yaml:"trial" envconfig:"TRIAL"`
	Scheduler SchedulerConfig `yaml:"scheduler" envconfig:"SCHEDULER"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	RateLimit RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" default:"100"`
	Burst   int     `yaml:"burst" envconfig:"BURST" default:"50"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"console"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/trialguard.log"`
}

// GuardConfig contains trial-abuse guard configuration.
// FailClosed flips the guard's persistence-fault policy: by default the
// guard allows a request through when the ledger cannot be read or written.
type GuardConfig struct {
	LedgerFile         string `yaml:"ledger_file" envconfig:"LEDGER_FILE" default:"data/abuse-ledger.json"`
	FingerprintArchive string `yaml:"fingerprint_archive" envconfig:"FINGERPRINT_ARCHIVE" default:"data/fingerprints.json"`
	FailClosed         bool   `yaml:"fail_closed" envconfig:"FAIL_CLOSED" default:"false"`
}

// TrialConfig contains trial registry configuration
type TrialConfig struct {
	DatabaseFile     string `yaml:"database_file" envconfig:"DATABASE_FILE" default:"data/trials.db"`
	DefaultTrialDays int    `yaml:"default_trial_days" envconfig:"DEFAULT_TRIAL_DAYS" default:"7"`
	CourseTrialDays  int    `yaml:"course_trial_days" envconfig:"COURSE_TRIAL_DAYS" default:"60"`
}

// SchedulerConfig contains expiry scheduler configuration.
// SweepTime and ReminderTime are local wall-clock times in HH:MM form.
type SchedulerConfig struct {
	SweepTime           string        `yaml:"sweep_time" envconfig:"SWEEP_TIME" default:"00:00"`
	ReminderTime        string        `yaml:"reminder_time" envconfig:"REMINDER_TIME" default:"09:00"`
	ReminderHorizonDays int           `yaml:"reminder_horizon_days" envconfig:"REMINDER_HORIZON_DAYS" default:"7"`
	StartupSweepDelay   time.Duration `yaml:"startup_sweep_delay" envconfig:"STARTUP_SWEEP_DELAY" default:"10s"`
}

// Load loads configuration from an optional YAML file overlaid with
// environment variables. Environment values take precedence; envconfig
// defaults fill whatever neither source set.
func Load() (*Config, error) {
	var cfg Config

	configFile := getConfigFilePath()
	if _, err := os.Stat(configFile); err == nil {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := envconfig.Process("TRIALGUARD", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	if err := cfg.ensureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to ensure directories: %w", err)
	}

	return &cfg, nil
}

// getConfigFilePath returns the config file path, honoring TRIALGUARD_CONFIG
func getConfigFilePath() string {
	if path := os.Getenv("TRIALGUARD_CONFIG"); path != "" {
		return path
	}
	return "trialguard.yaml"
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Trial.DefaultTrialDays <= 0 {
		return fmt.Errorf("default_trial_days must be positive, got %d", c.Trial.DefaultTrialDays)
	}
	if c.Trial.CourseTrialDays <= 0 {
		return fmt.Errorf("course_trial_days must be positive, got %d", c.Trial.CourseTrialDays)
	}
	if c.Scheduler.ReminderHorizonDays <= 0 {
		return fmt.Errorf("reminder_horizon_days must be positive, got %d", c.Scheduler.ReminderHorizonDays)
	}
	if _, _, err := ParseClockTime(c.Scheduler.SweepTime); err != nil {
		return fmt.Errorf("invalid sweep_time: %w", err)
	}
	if _, _, err := ParseClockTime(c.Scheduler.ReminderTime); err != nil {
		return fmt.Errorf("invalid reminder_time: %w", err)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level: %s", c.Logging.Level)
	}
	return nil
}

// ensureDirectories creates the directories backing file paths in the config
func (c *Config) ensureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Guard.LedgerFile),
		filepath.Dir(c.Guard.FingerprintArchive),
		filepath.Dir(c.Trial.DatabaseFile),
	}
	if c.Logging.Output != "console" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}
	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ParseClockTime parses an HH:MM wall-clock string into hour and minute
func ParseClockTime(s string) (hour, minute int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	if _, err := fmt.Sscanf(s, "%d:%d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("time out of range: %q", s)
	}
	return hour, minute, nil
}
