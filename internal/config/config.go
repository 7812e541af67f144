package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/clinic/booking/internal/domain/payment"
)

type Config struct {
	Env                   string        `mapstructure:"ENV"`
	LogLevel              string        `mapstructure:"LOG_LEVEL"`
	APIBaseURL            string        `mapstructure:"API_BASE_URL"`
	RealtimeURL           string        `mapstructure:"REALTIME_URL"`
	AccessToken           string        `mapstructure:"ACCESS_TOKEN"`
	HTTPTimeout           time.Duration `mapstructure:"HTTP_TIMEOUT"`
	Timezone              string        `mapstructure:"TIMEZONE"`
	DefaultDailyLimit     int           `mapstructure:"DEFAULT_DAILY_LIMIT"`
	DefaultMaxBookings    int           `mapstructure:"DEFAULT_MAX_BOOKINGS"`
	RescheduleLimit       int           `mapstructure:"RESCHEDULE_LIMIT"`
	PollInitialDelay      time.Duration `mapstructure:"POLL_INITIAL_DELAY"`
	PollRetryDelay        time.Duration `mapstructure:"POLL_RETRY_DELAY"`
	PollErrorInitialDelay time.Duration `mapstructure:"POLL_ERROR_INITIAL_DELAY"`
	PollMaxAttempts       int           `mapstructure:"POLL_MAX_ATTEMPTS"`
	FocusDelay            time.Duration `mapstructure:"FOCUS_DELAY"`
	FocusRearm            time.Duration `mapstructure:"FOCUS_REARM"`
	RealtimeReconnect     time.Duration `mapstructure:"REALTIME_RECONNECT"`
	LockHeartbeat         time.Duration `mapstructure:"LOCK_HEARTBEAT"`
	CallbackAddr          string        `mapstructure:"CALLBACK_ADDR"`
	PaymentRedirectURL    string        `mapstructure:"PAYMENT_REDIRECT_URL"`
}

var keys = []string{
	"ENV", "LOG_LEVEL", "API_BASE_URL", "REALTIME_URL", "ACCESS_TOKEN",
	"HTTP_TIMEOUT", "TIMEZONE", "DEFAULT_DAILY_LIMIT", "DEFAULT_MAX_BOOKINGS",
	"RESCHEDULE_LIMIT", "POLL_INITIAL_DELAY", "POLL_RETRY_DELAY",
	"POLL_ERROR_INITIAL_DELAY", "POLL_MAX_ATTEMPTS", "FOCUS_DELAY",
	"FOCUS_REARM", "REALTIME_RECONNECT", "LOCK_HEARTBEAT", "CALLBACK_ADDR",
	"PAYMENT_REDIRECT_URL",
}

// Load reads .env when present plus the environment. It does not validate.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("HTTP_TIMEOUT", "15s")
	v.SetDefault("TIMEZONE", "Asia/Ho_Chi_Minh")
	v.SetDefault("DEFAULT_DAILY_LIMIT", 3)
	v.SetDefault("DEFAULT_MAX_BOOKINGS", 3)
	v.SetDefault("RESCHEDULE_LIMIT", 2)
	v.SetDefault("POLL_INITIAL_DELAY", "2s")
	v.SetDefault("POLL_RETRY_DELAY", "2s")
	v.SetDefault("POLL_ERROR_INITIAL_DELAY", "1s")
	v.SetDefault("POLL_MAX_ATTEMPTS", 5)
	v.SetDefault("FOCUS_DELAY", "500ms")
	v.SetDefault("FOCUS_REARM", "2s")
	v.SetDefault("REALTIME_RECONNECT", "3s")
	v.SetDefault("LOCK_HEARTBEAT", "0s")
	v.SetDefault("CALLBACK_ADDR", "127.0.0.1:8787")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	if cfg.RealtimeURL == "" {
		cfg.RealtimeURL = deriveRealtimeURL(cfg.APIBaseURL)
	}
	if cfg.PaymentRedirectURL == "" {
		cfg.PaymentRedirectURL = "http://" + cfg.CallbackAddr + "/payment/return"
	}
	return cfg, nil
}

// deriveRealtimeURL maps https://host/api to wss://host/ws.
func deriveRealtimeURL(base string) string {
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return ""
	}
	scheme := "ws"
	if u.Scheme == "https" {
		scheme = "wss"
	}
	return (&url.URL{Scheme: scheme, Host: u.Host, Path: "/ws"}).String()
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Location is the zone "today" is evaluated in.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// PollerConfig returns the reconciliation timing.
func (c *Config) PollerConfig() payment.Config {
	return payment.Config{
		InitialDelay:      c.PollInitialDelay,
		RetryDelay:        c.PollRetryDelay,
		ErrorInitialDelay: c.PollErrorInitialDelay,
		FocusDelay:        c.FocusDelay,
		FocusRearm:        c.FocusRearm,
		MaxAttempts:       c.PollMaxAttempts,
	}
}

// Validate checks that the client can run against a backend.
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("API_BASE_URL is required")
	}
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("API_BASE_URL must be an absolute http(s) URL, got %q", c.APIBaseURL)
	}
	if c.RealtimeURL != "" {
		ru, err := url.Parse(c.RealtimeURL)
		if err != nil || (ru.Scheme != "ws" && ru.Scheme != "wss") {
			return fmt.Errorf("REALTIME_URL must be a ws(s) URL, got %q", c.RealtimeURL)
		}
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("TIMEZONE %q is not a known zone: %w", c.Timezone, err)
	}

	delays := []struct {
		key string
		d   time.Duration
	}{
		{"POLL_INITIAL_DELAY", c.PollInitialDelay},
		{"POLL_RETRY_DELAY", c.PollRetryDelay},
		{"POLL_ERROR_INITIAL_DELAY", c.PollErrorInitialDelay},
		{"FOCUS_DELAY", c.FocusDelay},
		{"FOCUS_REARM", c.FocusRearm},
	}
	for _, d := range delays {
		if d.d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.key, d.d)
		}
	}
	if c.PollMaxAttempts < 1 {
		return fmt.Errorf("POLL_MAX_ATTEMPTS must be at least 1, got %d", c.PollMaxAttempts)
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive, got %s", c.HTTPTimeout)
	}
	if c.RealtimeReconnect < 0 || c.LockHeartbeat < 0 {
		return fmt.Errorf("REALTIME_RECONNECT and LOCK_HEARTBEAT must not be negative")
	}
	return nil
}
