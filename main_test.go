package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"photo_to_pdf/internal/config"
	"photo_to_pdf/internal/mailer"
)

// runCommand executes the CLI with args and returns the configuration the
// action would have served with.
func runCommand(t *testing.T, args ...string) (*config.Config, error) {
	t.Helper()
	var got *config.Config
	cmd := newCommand(func(ctx context.Context, cfg *config.Config) error {
		got = cfg
		return nil
	})
	err := cmd.Run(context.Background(), append([]string{"photo_to_pdf"}, args...))
	return got, err
}

func TestLoadConfig_Flags(t *testing.T) {
	cfg, err := runCommand(t,
		"--port", "8080",
		"--smtp-host", "smtp.example.com",
		"--smtp-port", "465",
		"--smtp-secure",
		"--smtp-user", "scanner@example.com",
		"--smtp-pass", "secret",
		"--to", "office@example.com, archive@example.com",
		"--mail-timeout", "10s",
		"--max-upload-size", "20MiB",
	)
	if err != nil {
		t.Fatalf("command failed: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Errorf("expected :8080, got %q", cfg.Addr)
	}
	if cfg.Mail.SMTP.Port != 465 || !cfg.Mail.SMTP.Secure {
		t.Errorf("unexpected SMTP settings: %+v", cfg.Mail.SMTP)
	}
	if got := cfg.Recipients(); len(got) != 2 || got[1] != "archive@example.com" {
		t.Errorf("unexpected recipients %v", got)
	}
	if cfg.Mail.Timeout != 10*time.Second {
		t.Errorf("expected 10s timeout, got %v", cfg.Mail.Timeout)
	}
	if n, _ := cfg.MaxUploadBytes(); n != 20*1024*1024 {
		t.Errorf("expected 20MiB, got %d", n)
	}
	if cfg.Sender() != "scanner@example.com" {
		t.Errorf("expected SMTP user as sender, got %q", cfg.Sender())
	}
	// Not set anywhere, so the default survives.
	if cfg.Timezone != "Europe/Vilnius" || !cfg.AutoRotate {
		t.Errorf("defaults not kept: tz %q auto-rotate %v", cfg.Timezone, cfg.AutoRotate)
	}
}

func TestLoadConfig_Env(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("MAIL_TRANSPORT", "resend")
	t.Setenv("RESEND_API_KEY", "re_test")
	t.Setenv("FROM_EMAIL", "Scanner <noreply@example.com>")
	t.Setenv("TO_EMAIL", "office@example.com")
	t.Setenv("PDF_TIMEZONE", "UTC")

	cfg, err := runCommand(t)
	if err != nil {
		t.Fatalf("command failed: %v", err)
	}
	if cfg.Addr != ":9090" || cfg.Mail.Transport != mailer.TransportResend || cfg.Timezone != "UTC" {
		t.Errorf("environment not applied: %+v", cfg)
	}
	if cfg.Mail.Resend.APIKey != "re_test" || cfg.Sender() != "Scanner <noreply@example.com>" {
		t.Errorf("unexpected mail settings: %+v", cfg.Mail)
	}
}

func TestLoadConfig_FilePrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `
addr: ":7000"
auto_rotate: false
mail:
  to: [office@example.com]
  smtp:
    host: smtp.example.com
    username: scanner@example.com
    password: from-file
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := runCommand(t, "--config-file", path, "--smtp-pass", "from-flag")
	if err != nil {
		t.Fatalf("command failed: %v", err)
	}
	if cfg.Addr != ":7000" || cfg.AutoRotate {
		t.Errorf("file values not applied: addr %q auto-rotate %v", cfg.Addr, cfg.AutoRotate)
	}
	if cfg.Mail.SMTP.Password != "from-flag" {
		t.Errorf("flag should win over file, got %q", cfg.Mail.SMTP.Password)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	_, err := runCommand(t, "--smtp-host", "smtp.example.com")
	if !errors.Is(err, config.ErrMissingSetting) {
		t.Errorf("expected ErrMissingSetting, got %v", err)
	}

	_, err = runCommand(t, "--config-file", filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", "json")
	logger.Info("hidden")
	logger.Warn("shown", "key", "value")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info message should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, `"key":"value"`) {
		t.Errorf("expected JSON output, got %s", out)
	}

	buf.Reset()
	newLogger(&buf, "bogus", "text").Info("fallback")
	if !strings.Contains(buf.String(), "msg=fallback") {
		t.Errorf("expected text output at info level, got %s", buf.String())
	}
}

type nopSender struct{}

func (nopSender) Send(context.Context, *mailer.Message) error { return nil }

func TestNewHandler(t *testing.T) {
	cfg := config.Default()
	cfg.StaticDir = ""

	handler, err := newHandler(cfg, nopSender{})
	if err != nil {
		t.Fatalf("newHandler failed: %v", err)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200 from /health, got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("pprof should be off by default, got %d", rr.Code)
	}

	cfg.Pprof = true
	handler, err = newHandler(cfg, nopSender{})
	if err != nil {
		t.Fatalf("newHandler failed: %v", err)
	}
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("expected pprof index, got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200 from /health with pprof on, got %d", rr.Code)
	}

	cfg.MaxUploadSize = "nope"
	if _, err := newHandler(cfg, nopSender{}); err == nil {
		t.Error("expected error for invalid upload size")
	}
}
