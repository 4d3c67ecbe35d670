package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TRIALGUARD_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	withTempDataDirs(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Guard.FailClosed)
	assert.Equal(t, 7, cfg.Trial.DefaultTrialDays)
	assert.Equal(t, 60, cfg.Trial.CourseTrialDays)
	assert.Equal(t, "00:00", cfg.Scheduler.SweepTime)
	assert.Equal(t, "09:00", cfg.Scheduler.ReminderTime)
	assert.Equal(t, 7, cfg.Scheduler.ReminderHorizonDays)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TRIALGUARD_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("TRIALGUARD_SERVER_PORT", "9090")
	t.Setenv("TRIALGUARD_GUARD_FAIL_CLOSED", "true")
	t.Setenv("TRIALGUARD_TRIAL_DEFAULT_TRIAL_DAYS", "14")
	withTempDataDirs(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.Guard.FailClosed)
	assert.Equal(t, 14, cfg.Trial.DefaultTrialDays)
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "trialguard.yaml")
	yaml := `
server:
  port: 3000
scheduler:
  reminder_time: "10:30"
`
	require.NoError(t, os.WriteFile(configFile, []byte(yaml), 0644))
	t.Setenv("TRIALGUARD_CONFIG", configFile)
	withTempDataDirs(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "10:30", cfg.Scheduler.ReminderTime)
	// Fields the file does not mention still get defaults
	assert.Equal(t, "00:00", cfg.Scheduler.SweepTime)
}

func TestLoadEnvBeatsFile(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "trialguard.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("server:\n  port: 3000\n"), 0644))
	t.Setenv("TRIALGUARD_CONFIG", configFile)
	t.Setenv("TRIALGUARD_SERVER_PORT", "4000")
	withTempDataDirs(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 4000, cfg.Server.Port)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }},
		{"zero trial days", func(c *Config) { c.Trial.DefaultTrialDays = 0 }},
		{"bad sweep time", func(c *Config) { c.Scheduler.SweepTime = "25:00" }},
		{"bad reminder time", func(c *Config) { c.Scheduler.ReminderTime = "nope" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.validate())
		})
	}
}

func TestParseClockTime(t *testing.T) {
	tests := []struct {
		input   string
		hour    int
		minute  int
		wantErr bool
	}{
		{"00:00", 0, 0, false},
		{"09:00", 9, 0, false},
		{"23:59", 23, 59, false},
		{"24:00", 0, 0, true},
		{"12:60", 0, 0, true},
		{"midnight", 0, 0, true},
		{"12", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			hour, minute, err := ParseClockTime(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.hour, hour)
			assert.Equal(t, tt.minute, minute)
		})
	}
}

func validConfig() *Config {
	return &Config{
		Server:    ServerConfig{Port: 8080},
		Logging:   LoggingConfig{Level: "info", Output: "console"},
		Trial:     TrialConfig{DefaultTrialDays: 7, CourseTrialDays: 60},
		Scheduler: SchedulerConfig{SweepTime: "00:00", ReminderTime: "09:00", ReminderHorizonDays: 7},
	}
}

func withTempDataDirs(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("TRIALGUARD_GUARD_LEDGER_FILE", filepath.Join(dir, "ledger.json"))
	t.Setenv("TRIALGUARD_GUARD_FINGERPRINT_ARCHIVE", filepath.Join(dir, "fingerprints.json"))
	t.Setenv("TRIALGUARD_TRIAL_DATABASE_FILE", filepath.Join(dir, "trials.db"))
}
