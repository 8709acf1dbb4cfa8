package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/basket/asis/internal/config"
)

func setHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("ASIS_HOME", home)
	for _, key := range []string{
		"ASIS_BIND_ADDR", "ASIS_LOG_LEVEL", "ASIS_DB_PATH", "ASIS_TIMEZONE",
		"SMTP_HOST", "SMTP_PORT", "SMTP_USER", "SMTP_PASSWORD",
		"IMAP_HOST", "IMAP_PORT", "ORGANIZER_EMAIL",
		"GOOGLE_CALENDAR_CREDENTIALS_FILE", "GOOGLE_CALENDAR_ID", "BRAVE_API_KEY",
	} {
		t.Setenv(key, "")
	}
	return home
}

func TestHomeDir_DefaultsUnderUserHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("ASIS_HOME", "")
	t.Setenv("HOME", home)
	if got := config.HomeDir(); got != filepath.Join(home, ".asis") {
		t.Fatalf("unexpected home dir: %s", got)
	}
}

func TestLoad_FromAsisHome(t *testing.T) {
	home := setHome(t)
	yaml := `bind_addr: 127.0.0.1:9999
log_level: debug
timezone: UTC
organizer_email: boss@example.com
smtp:
  host: smtp.example.com
  port: 2525
  user: bot@example.com
search:
  preferred: duckduckgo
`
	if err := os.WriteFile(config.ConfigPath(home), []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.FirstRun {
		t.Fatalf("expected FirstRun=false when config exists")
	}
	if cfg.BindAddr != "127.0.0.1:9999" || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected bind/log: %s %s", cfg.BindAddr, cfg.LogLevel)
	}
	if cfg.SMTP.Host != "smtp.example.com" || cfg.SMTP.Port != 2525 {
		t.Fatalf("unexpected smtp: %+v", cfg.SMTP)
	}
	if cfg.IMAP.Port != 993 || cfg.IMAP.Mailbox != "INBOX" {
		t.Fatalf("expected imap defaults, got %+v", cfg.IMAP)
	}
	if cfg.Organizer() != "boss@example.com" {
		t.Fatalf("unexpected organizer: %s", cfg.Organizer())
	}
	if cfg.Search.Preferred != "duckduckgo" {
		t.Fatalf("unexpected preferred search: %s", cfg.Search.Preferred)
	}
	if cfg.Location().String() != "UTC" {
		t.Fatalf("unexpected location: %s", cfg.Location())
	}
}

func TestLoad_FirstRunDefaults(t *testing.T) {
	home := setHome(t)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.FirstRun {
		t.Fatalf("expected FirstRun when config.yaml is missing")
	}
	if cfg.BindAddr != "127.0.0.1:8765" {
		t.Fatalf("unexpected bind addr: %s", cfg.BindAddr)
	}
	if cfg.Timezone != "Europe/Bucharest" {
		t.Fatalf("unexpected timezone: %s", cfg.Timezone)
	}
	if cfg.ReminderLeadMinutes != 60 || cfg.ReminderLead().Minutes() != 60 {
		t.Fatalf("unexpected reminder lead: %d", cfg.ReminderLeadMinutes)
	}
	if cfg.DBPath != filepath.Join(home, "asis.db") {
		t.Fatalf("unexpected db path: %s", cfg.DBPath)
	}
	if cfg.CalendarConfigured() || cfg.MailConfigured() {
		t.Fatalf("expected no collaborators configured by default")
	}
}

func TestLoad_EnvOverridesConfig(t *testing.T) {
	home := setHome(t)
	if err := os.WriteFile(config.ConfigPath(home), []byte("log_level: warn\nsmtp:\n  user: yaml@example.com\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("ASIS_LOG_LEVEL", "debug")
	t.Setenv("SMTP_USER", "env@example.com")
	t.Setenv("SMTP_PASSWORD", "app-password")
	t.Setenv("SMTP_PORT", "465")
	t.Setenv("GOOGLE_CALENDAR_CREDENTIALS_FILE", "/tmp/sa.json")
	t.Setenv("BRAVE_API_KEY", "brave-key")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected env log level, got %s", cfg.LogLevel)
	}
	if cfg.SMTP.User != "env@example.com" || cfg.SMTP.Port != 465 {
		t.Fatalf("unexpected smtp: %+v", cfg.SMTP)
	}
	if cfg.Organizer() != "env@example.com" {
		t.Fatalf("organizer should fall back to smtp user, got %s", cfg.Organizer())
	}
	if !cfg.MailConfigured() || !cfg.CalendarConfigured() {
		t.Fatalf("expected mail and calendar configured")
	}
	if cfg.Search.BraveAPIKey != "brave-key" {
		t.Fatalf("unexpected brave key: %s", cfg.Search.BraveAPIKey)
	}
}

func TestLoad_RejectsUnknownTimezone(t *testing.T) {
	setHome(t)
	t.Setenv("ASIS_TIMEZONE", "Mars/Olympus")
	if _, err := config.Load(); err == nil {
		t.Fatal("expected error for invalid timezone")
	}
}

func TestLoad_RejectsUnknownSearchProvider(t *testing.T) {
	home := setHome(t)
	if err := os.WriteFile(config.ConfigPath(home), []byte("search:\n  preferred: altavista\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, err := config.Load()
	if err == nil || !strings.Contains(err.Error(), "altavista") {
		t.Fatalf("expected unknown provider error, got %v", err)
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	home := setHome(t)
	if err := os.WriteFile(config.ConfigPath(home), []byte("bind_addr: [unclosed\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := config.Load(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestWriteDefault_DoesNotOverwrite(t *testing.T) {
	home := t.TempDir()
	if err := config.WriteDefault(home); err != nil {
		t.Fatalf("write default: %v", err)
	}
	data, err := os.ReadFile(config.ConfigPath(home))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), "bind_addr: 127.0.0.1:8765") {
		t.Fatalf("default config missing bind_addr:\n%s", data)
	}

	if err := os.WriteFile(config.ConfigPath(home), []byte("log_level: error\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := config.WriteDefault(home); err != nil {
		t.Fatalf("write default again: %v", err)
	}
	data, _ = os.ReadFile(config.ConfigPath(home))
	if string(data) != "log_level: error\n" {
		t.Fatalf("existing config overwritten: %s", data)
	}
}

func TestFingerprint_ChangesWithConfig(t *testing.T) {
	a := config.Config{BindAddr: "127.0.0.1:1", LogLevel: "info"}
	b := a
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatal("identical configs should share a fingerprint")
	}
	b.LogLevel = "debug"
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatal("fingerprint should change with log level")
	}
	if !strings.HasPrefix(a.Fingerprint(), "cfg-") {
		t.Fatalf("unexpected fingerprint format: %s", a.Fingerprint())
	}
}
