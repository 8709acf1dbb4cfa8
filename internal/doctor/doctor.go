package doctor

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/basket/asis/internal/calendar"
	"github.com/basket/asis/internal/config"
	"github.com/basket/asis/internal/persistence"
)

const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
	StatusWarn = "WARN"
	StatusSkip = "SKIP"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// Failed reports whether any check failed.
func (d Diagnosis) Failed() bool {
	for _, r := range d.Results {
		if r.Status == StatusFail {
			return true
		}
	}
	return false
}

type check func(context.Context, *config.Config) CheckResult

// Run executes all diagnostic checks.
func Run(ctx context.Context, cfg *config.Config, version string) Diagnosis {
	return run(ctx, cfg, version, []check{
		checkConfig,
		checkDatabase,
		checkPermissions,
		checkMail,
		checkCalendar,
		checkNetwork,
	})
}

func run(ctx context.Context, cfg *config.Config, version string, checks []check) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}
	for _, c := range checks {
		d.Results = append(d.Results, c(ctx, cfg))
	}
	return d
}

func checkConfig(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Config", Status: StatusFail, Message: "Configuration not loaded"}
	}
	if cfg.FirstRun {
		return CheckResult{
			Name:    "Config",
			Status:  StatusWarn,
			Message: "config.yaml missing, running on defaults",
			Detail:  "Run `asis init` to write a starter file",
		}
	}
	return CheckResult{Name: "Config", Status: StatusPass, Message: fmt.Sprintf("Loaded from %s", config.ConfigPath(cfg.HomeDir))}
}

func checkDatabase(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil || cfg.DBPath == "" {
		return CheckResult{Name: "Database", Status: StatusSkip, Message: "Config missing"}
	}
	store, err := persistence.Open(cfg.DBPath, nil)
	if err != nil {
		return CheckResult{Name: "Database", Status: StatusFail, Message: fmt.Sprintf("Open failed: %v", err)}
	}
	defer store.Close()

	if err := store.Ping(ctx); err != nil {
		return CheckResult{Name: "Database", Status: StatusFail, Message: fmt.Sprintf("Ping failed: %v", err)}
	}
	if _, err := store.ListAgentActions(ctx, 1); err != nil {
		return CheckResult{Name: "Database", Status: StatusFail, Message: fmt.Sprintf("Query failed: %v", err)}
	}
	return CheckResult{Name: "Database", Status: StatusPass, Message: "Connection and schema valid", Detail: cfg.DBPath}
}

func checkPermissions(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Permissions", Status: StatusSkip, Message: "Config missing"}
	}
	testFile := filepath.Join(cfg.HomeDir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return CheckResult{Name: "Permissions", Status: StatusFail, Message: fmt.Sprintf("Home dir unwritable: %v", err)}
	}
	os.Remove(testFile)
	return CheckResult{Name: "Permissions", Status: StatusPass, Message: "Home directory writable"}
}

func checkMail(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Mail", Status: StatusSkip, Message: "Config missing"}
	}
	if !cfg.MailConfigured() {
		return CheckResult{
			Name:    "Mail",
			Status:  StatusWarn,
			Message: "SMTP credentials not set; email intents will fail",
			Detail:  "Set SMTP_USER and SMTP_PASSWORD",
		}
	}
	if cfg.Organizer() == "" {
		return CheckResult{Name: "Mail", Status: StatusWarn, Message: "No organizer address; meeting confirmations are skipped"}
	}
	return CheckResult{
		Name:    "Mail",
		Status:  StatusPass,
		Message: fmt.Sprintf("SMTP %s:%d, IMAP %s:%d", cfg.SMTP.Host, cfg.SMTP.Port, cfg.IMAP.Host, cfg.IMAP.Port),
		Detail:  "organizer=" + cfg.Organizer(),
	}
}

func checkCalendar(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Calendar", Status: StatusSkip, Message: "Config missing"}
	}
	if !cfg.CalendarConfigured() {
		return CheckResult{
			Name:    "Calendar",
			Status:  StatusWarn,
			Message: "Google Calendar not configured; events are kept locally",
			Detail:  "Set GOOGLE_CALENDAR_CREDENTIALS_FILE",
		}
	}
	if _, err := calendar.NewGoogle(calendar.Config{
		CredentialsFile: cfg.Calendar.CredentialsFile,
		CalendarID:      cfg.Calendar.CalendarID,
	}); err != nil {
		return CheckResult{Name: "Calendar", Status: StatusFail, Message: err.Error(), Detail: cfg.Calendar.CredentialsFile}
	}
	return CheckResult{Name: "Calendar", Status: StatusPass, Message: fmt.Sprintf("Service account key valid (calendar %s)", cfg.Calendar.CalendarID)}
}

// networkHosts lists the collaborator endpoints the assistant talks to.
func networkHosts(cfg *config.Config) []string {
	var hosts []string
	if cfg.MailConfigured() && cfg.SMTP.Host != "" {
		hosts = append(hosts, cfg.SMTP.Host)
	}
	if cfg.CalendarConfigured() {
		hosts = append(hosts, "www.googleapis.com")
	}
	if cfg.Search.BraveAPIKey != "" {
		hosts = append(hosts, "api.search.brave.com")
	}
	return append(hosts, "html.duckduckgo.com")
}

func checkNetwork(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Network", Status: StatusSkip, Message: "Config missing"}
	}

	lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	var failed, resolved []string
	for _, host := range networkHosts(cfg) {
		if _, err := net.DefaultResolver.LookupHost(lookupCtx, host); err != nil {
			failed = append(failed, host)
			continue
		}
		resolved = append(resolved, host)
	}
	latency := time.Since(start)

	if len(failed) > 0 {
		return CheckResult{
			Name:    "Network",
			Status:  StatusFail,
			Message: fmt.Sprintf("DNS lookup failed for %s", strings.Join(failed, ", ")),
			Detail:  fmt.Sprintf("resolved=%v, latency=%dms", resolved, latency.Milliseconds()),
		}
	}
	return CheckResult{
		Name:    "Network",
		Status:  StatusPass,
		Message: fmt.Sprintf("DNS resolved %d hosts (%dms)", len(resolved), latency.Milliseconds()),
		Detail:  strings.Join(resolved, ", "),
	}
}
