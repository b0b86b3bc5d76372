// Package config loads runtime configuration from defaults, an optional YAML
// file and REMINDD_* environment overrides, in that order.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sandeepkv93/remindd/internal/scheduler"
)

var ErrInvalidConfig = errors.New("config: invalid configuration")

type BackendConfig struct {
	URL     string        `yaml:"url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

type Config struct {
	Platform     string        `yaml:"platform"`
	Backend      BackendConfig `yaml:"backend"`
	DatabasePath string        `yaml:"database_path"`
	ListenAddr   string        `yaml:"listen_addr"`
	SyncInterval time.Duration `yaml:"sync_interval"`

	MinLeadTime     time.Duration `yaml:"min_lead_time"`
	SnoozeDuration  time.Duration `yaml:"snooze_duration"`
	FollowUpDelay   time.Duration `yaml:"follow_up_delay"`
	RingCeiling     time.Duration `yaml:"ring_ceiling"`
	WakeLockCeiling time.Duration `yaml:"wake_lock_ceiling"`
	SchedulerBuffer int           `yaml:"scheduler_buffer"`

	ExactAlarmsAllowed   bool `yaml:"exact_alarms_allowed"`
	FullScreenAllowed    bool `yaml:"full_screen_allowed"`
	DesktopNotifications bool `yaml:"desktop_notifications"`
	TerminalAlert        bool `yaml:"terminal_alert"`

	LogLevel string `yaml:"log_level"`
}

func Default() Config {
	return Config{
		Platform:           string(scheduler.PlatformAlarmClock),
		Backend:            BackendConfig{Timeout: 15 * time.Second},
		DatabasePath:       "remindd.db",
		ListenAddr:         "127.0.0.1:8765",
		SyncInterval:       5 * time.Minute,
		MinLeadTime:        5 * time.Second,
		SnoozeDuration:     10 * time.Minute,
		FollowUpDelay:      30 * time.Minute,
		RingCeiling:        30 * time.Second,
		WakeLockCeiling:    60 * time.Second,
		SchedulerBuffer:    64,
		ExactAlarmsAllowed: true,
		FullScreenAllowed:  true,
		TerminalAlert:      true,
		LogLevel:           "info",
	}
}

// Load builds the effective configuration. A missing file at path is not an
// error; an empty path skips the file layer.
func Load(path string) (Config, error) {
	cfg, err := LoadFile(Default(), path)
	if err != nil {
		return Config{}, err
	}
	cfg = FromEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile overlays the YAML file at path onto base. Keys absent from the
// file keep their base values.
func LoadFile(base Config, path string) (Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return base, nil
		}
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return base, nil
	}
	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}

func FromEnv(base Config) Config {
	cfg := base
	if v, ok := getEnvString("REMINDD_PLATFORM"); ok {
		cfg.Platform = v
	}
	if v, ok := getEnvString("REMINDD_BACKEND_URL"); ok {
		cfg.Backend.URL = v
	}
	if v, ok := getEnvString("REMINDD_BACKEND_TOKEN"); ok {
		cfg.Backend.Token = v
	}
	if v, ok := getEnvDuration("REMINDD_BACKEND_TIMEOUT"); ok && v > 0 {
		cfg.Backend.Timeout = v
	}
	if v, ok := getEnvString("REMINDD_DB_PATH"); ok {
		cfg.DatabasePath = v
	}
	if v, ok := getEnvString("REMINDD_LISTEN_ADDR"); ok {
		cfg.ListenAddr = v
	}
	if v, ok := getEnvDuration("REMINDD_SYNC_INTERVAL"); ok && v >= 0 {
		cfg.SyncInterval = v
	}
	if v, ok := getEnvDuration("REMINDD_MIN_LEAD_TIME"); ok && v > 0 {
		cfg.MinLeadTime = v
	}
	if v, ok := getEnvDuration("REMINDD_SNOOZE"); ok && v > 0 {
		cfg.SnoozeDuration = v
	}
	if v, ok := getEnvDuration("REMINDD_FOLLOW_UP_DELAY"); ok && v > 0 {
		cfg.FollowUpDelay = v
	}
	if v, ok := getEnvDuration("REMINDD_RING_CEILING"); ok && v > 0 {
		cfg.RingCeiling = v
	}
	if v, ok := getEnvDuration("REMINDD_WAKE_LOCK_CEILING"); ok && v > 0 {
		cfg.WakeLockCeiling = v
	}
	if v, ok := getEnvInt("REMINDD_SCHEDULER_BUFFER"); ok && v > 0 {
		cfg.SchedulerBuffer = v
	}
	if v, ok := getEnvBool("REMINDD_EXACT_ALARMS"); ok {
		cfg.ExactAlarmsAllowed = v
	}
	if v, ok := getEnvBool("REMINDD_FULL_SCREEN"); ok {
		cfg.FullScreenAllowed = v
	}
	if v, ok := getEnvBool("REMINDD_DESKTOP_NOTIFICATIONS"); ok {
		cfg.DesktopNotifications = v
	}
	if v, ok := getEnvBool("REMINDD_TERMINAL_ALERT"); ok {
		cfg.TerminalAlert = v
	}
	if v, ok := getEnvString("REMINDD_LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	return cfg
}

func (c Config) Validate() error {
	if _, err := scheduler.ParsePlatform(c.Platform); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.MinLeadTime <= 0 || c.SnoozeDuration <= 0 || c.FollowUpDelay <= 0 {
		return fmt.Errorf("%w: lead time, snooze and follow-up delay must be positive", ErrInvalidConfig)
	}
	if c.RingCeiling <= 0 || c.WakeLockCeiling <= 0 {
		return fmt.Errorf("%w: ring and wake lock ceilings must be positive", ErrInvalidConfig)
	}
	if c.SyncInterval < 0 {
		return fmt.Errorf("%w: sync interval %s", ErrInvalidConfig, c.SyncInterval)
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("%w: database path is empty", ErrInvalidConfig)
	}
	return nil
}

func getEnvString(name string) (string, bool) {
	raw := strings.TrimSpace(os.Getenv(name))
	return raw, raw != ""
}

func getEnvInt(name string) (int, bool) {
	raw, ok := getEnvString(name)
	if !ok {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

// getEnvDuration accepts Go durations ("90s") and bare seconds ("90").
func getEnvDuration(name string) (time.Duration, bool) {
	raw, ok := getEnvString(name)
	if !ok {
		return 0, false
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, true
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false
	}
	return d, true
}

func getEnvBool(name string) (bool, bool) {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
	if raw == "" {
		return false, false
	}
	switch raw {
	case "1", "true", "yes", "y", "on":
		return true, true
	case "0", "false", "no", "n", "off":
		return false, true
	default:
		return false, false
	}
}
