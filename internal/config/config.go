package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SMTPConfig holds outbound mail settings. User doubles as the organizer
// address when OrganizerEmail is empty.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

type IMAPConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	Mailbox string `yaml:"mailbox"`
}

type CalendarConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	CalendarID      string `yaml:"calendar_id"`
}

type SearchConfig struct {
	// Preferred names the provider to try first ("brave_search" or "duckduckgo").
	Preferred   string `yaml:"preferred"`
	BraveAPIKey string `yaml:"brave_api_key"`
}

type CORSConfig struct {
	Enabled        bool     `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	BurstSize         int  `yaml:"burst_size"`
}

type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	BindAddr string `yaml:"bind_addr"`
	LogLevel string `yaml:"log_level"`
	DBPath   string `yaml:"db_path"`

	// Timezone is the IANA zone used for "today" filters and for dates
	// given without an offset.
	Timezone string `yaml:"timezone"`

	// OrganizerEmail receives meeting confirmations and owner reminders.
	OrganizerEmail string `yaml:"organizer_email"`

	// ReminderLeadMinutes is used when a meeting request carries no lead time.
	ReminderLeadMinutes int `yaml:"reminder_lead_minutes"`

	// AuthToken, when set, is required as a bearer token on every endpoint
	// except /healthz.
	AuthToken string `yaml:"auth_token"`

	// AllowOrigins controls which Origin headers are accepted for browser WS connections.
	// Empty means same-origin only.
	AllowOrigins []string `yaml:"allow_origins"`

	// DrainTimeoutSeconds bounds how long shutdown waits for running reminder jobs.
	DrainTimeoutSeconds int `yaml:"drain_timeout_seconds"`

	SMTP      SMTPConfig      `yaml:"smtp"`
	IMAP      IMAPConfig      `yaml:"imap"`
	Calendar  CalendarConfig  `yaml:"calendar"`
	Search    SearchConfig    `yaml:"search"`
	CORS      CORSConfig      `yaml:"cors"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// FirstRun is set when config.yaml did not exist at load time.
	FirstRun bool `yaml:"-"`
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// Organizer returns the address that owns scheduled meetings.
func (c Config) Organizer() string {
	if c.OrganizerEmail != "" {
		return c.OrganizerEmail
	}
	return c.SMTP.User
}

// Location resolves Timezone, falling back to the process local zone.
func (c Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// ReminderLead returns the default meeting reminder lead time.
func (c Config) ReminderLead() time.Duration {
	return time.Duration(c.ReminderLeadMinutes) * time.Minute
}

// CalendarConfigured reports whether Google Calendar credentials are present.
func (c Config) CalendarConfigured() bool {
	return c.Calendar.CredentialsFile != "" && c.Calendar.CalendarID != ""
}

// MailConfigured reports whether SMTP credentials are present.
func (c Config) MailConfigured() bool {
	return c.SMTP.User != "" && c.SMTP.Password != ""
}

// Fingerprint returns a stable hash of the active config.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "bind=%s|log=%s|tz=%s|organizer=%s|lead=%d|smtp=%s:%d|imap=%s:%d|cal=%s|search=%s|origins=%v",
		c.BindAddr, c.LogLevel, c.Timezone, c.Organizer(), c.ReminderLeadMinutes,
		c.SMTP.Host, c.SMTP.Port, c.IMAP.Host, c.IMAP.Port, c.Calendar.CalendarID, c.Search.Preferred, c.AllowOrigins)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

func defaultConfig() Config {
	return Config{
		BindAddr:            "127.0.0.1:8765",
		LogLevel:            "info",
		Timezone:            "Europe/Bucharest",
		ReminderLeadMinutes: 60,
		DrainTimeoutSeconds: 5,
		SMTP: SMTPConfig{
			Host: "smtp.gmail.com",
			Port: 587,
		},
		IMAP: IMAPConfig{
			Host:    "imap.gmail.com",
			Port:    993,
			Mailbox: "INBOX",
		},
		Calendar: CalendarConfig{
			CalendarID: "primary",
		},
	}
}

func HomeDir() string {
	if override := os.Getenv("ASIS_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".asis")
}

func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create asis home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil {
		if os.IsNotExist(err) {
			cfg.FirstRun = true
		} else {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// WriteDefault writes a starter config.yaml when none exists.
func WriteDefault(homeDir string) error {
	path := ConfigPath(homeDir)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	cfg := defaultConfig()
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config.yaml: %w", err)
	}
	header := "# asis configuration. Secrets may instead come from .env or the environment.\n"
	return os.WriteFile(path, append([]byte(header), out...), 0o600)
}

func normalize(cfg *Config) {
	if cfg.BindAddr == "" {
		cfg.BindAddr = "127.0.0.1:8765"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.HomeDir, "asis.db")
	}
	if cfg.ReminderLeadMinutes <= 0 {
		cfg.ReminderLeadMinutes = 60
	}
	if cfg.DrainTimeoutSeconds <= 0 {
		cfg.DrainTimeoutSeconds = 5
	}
	if cfg.SMTP.Port <= 0 {
		cfg.SMTP.Port = 587
	}
	if cfg.IMAP.Port <= 0 {
		cfg.IMAP.Port = 993
	}
	if strings.TrimSpace(cfg.IMAP.Mailbox) == "" {
		cfg.IMAP.Mailbox = "INBOX"
	}
	if cfg.IMAP.Host == "" {
		cfg.IMAP.Host = cfg.SMTP.Host
	}
	cfg.OrganizerEmail = strings.TrimSpace(cfg.OrganizerEmail)
	cfg.Search.Preferred = strings.ToLower(strings.TrimSpace(cfg.Search.Preferred))
}

func validate(cfg Config) error {
	if cfg.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
		}
	}
	switch cfg.Search.Preferred {
	case "", "brave_search", "duckduckgo":
	default:
		return fmt.Errorf("unknown search provider %q (supported: brave_search, duckduckgo)", cfg.Search.Preferred)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("ASIS_BIND_ADDR"); raw != "" {
		cfg.BindAddr = raw
	}
	if raw := os.Getenv("ASIS_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("ASIS_DB_PATH"); raw != "" {
		cfg.DBPath = raw
	}
	if raw := os.Getenv("ASIS_TIMEZONE"); raw != "" {
		cfg.Timezone = raw
	}
	if raw := os.Getenv("ASIS_AUTH_TOKEN"); raw != "" {
		cfg.AuthToken = raw
	}
	if raw := os.Getenv("SMTP_HOST"); raw != "" {
		cfg.SMTP.Host = raw
	}
	if raw := os.Getenv("SMTP_PORT"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.SMTP.Port = v
		}
	}
	if raw := os.Getenv("SMTP_USER"); raw != "" {
		cfg.SMTP.User = raw
	}
	if raw := os.Getenv("SMTP_PASSWORD"); raw != "" {
		cfg.SMTP.Password = raw
	}
	if raw := os.Getenv("IMAP_HOST"); raw != "" {
		cfg.IMAP.Host = raw
	}
	if raw := os.Getenv("IMAP_PORT"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.IMAP.Port = v
		}
	}
	if raw := os.Getenv("ORGANIZER_EMAIL"); raw != "" {
		cfg.OrganizerEmail = raw
	}
	if raw := os.Getenv("GOOGLE_CALENDAR_CREDENTIALS_FILE"); raw != "" {
		cfg.Calendar.CredentialsFile = raw
	}
	if raw := os.Getenv("GOOGLE_CALENDAR_ID"); raw != "" {
		cfg.Calendar.CalendarID = raw
	}
	if raw := os.Getenv("BRAVE_API_KEY"); raw != "" {
		cfg.Search.BraveAPIKey = raw
	}
}
