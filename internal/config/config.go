// Package config holds the service configuration.
//
// Values come from three layers, later ones winning: Default(), an optional
// YAML file read with LoadFile, and command-line flags or environment
// variables applied by main.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata" // Zone database for minimal container images

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"

	"photo_to_pdf/internal/mailer"
	"photo_to_pdf/internal/naming"
)

// ErrMissingSetting is returned by Validate when a required value is empty.
var ErrMissingSetting = errors.New("missing required setting")

// DefaultMaxUploadSize is the default limit for an uploaded photo.
const DefaultMaxUploadSize = "15MiB"

// SMTP holds SMTP transport settings.
type SMTP struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Secure   bool   `yaml:"secure"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Verify   bool   `yaml:"verify"`
}

// Resend holds HTTP mail API settings.
type Resend struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// Mail holds message and transport settings.
type Mail struct {
	Transport string        `yaml:"transport"`
	From      string        `yaml:"from"`
	To        []string      `yaml:"to"`
	Timeout   time.Duration `yaml:"timeout"`
	SMTP      SMTP          `yaml:"smtp"`
	Resend    Resend        `yaml:"resend"`
}

// Config is the complete service configuration.
type Config struct {
	Addr          string `yaml:"addr"`
	StaticDir     string `yaml:"static_dir"`
	MaxUploadSize string `yaml:"max_upload_size"`
	Timezone      string `yaml:"timezone"`
	AutoRotate    bool   `yaml:"auto_rotate"`
	Title         string `yaml:"title"`
	LogLevel      string `yaml:"log_level"`
	LogFormat     string `yaml:"log_format"`
	Pprof         bool   `yaml:"pprof"`
	Mail          Mail   `yaml:"mail"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Addr:          ":3000",
		StaticDir:     "public",
		MaxUploadSize: DefaultMaxUploadSize,
		Timezone:      naming.DefaultTimezone,
		AutoRotate:    true,
		LogLevel:      "info",
		LogFormat:     "text",
		Mail: Mail{
			Transport: mailer.TransportSMTP,
			Timeout:   mailer.DefaultTimeout,
			SMTP:      SMTP{Port: 587},
			Resend:    Resend{BaseURL: mailer.DefaultResendURL},
		},
	}
}

// LoadFile overlays the YAML document at path onto cfg.
// Keys missing from the file keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config YAML %s: %w", path, err)
	}
	return nil
}

// MaxUploadBytes parses MaxUploadSize, e.g. "15MiB" or "10m".
func (c *Config) MaxUploadBytes() (int64, error) {
	n, err := units.RAMInBytes(c.MaxUploadSize)
	if err != nil {
		return 0, fmt.Errorf("invalid max upload size %q: %w", c.MaxUploadSize, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid max upload size %q: must be positive", c.MaxUploadSize)
	}
	return n, nil
}

// Location loads the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Sender returns the mail sender address, falling back to the SMTP user.
func (c *Config) Sender() string {
	if c.Mail.From != "" {
		return c.Mail.From
	}
	if strings.EqualFold(c.Mail.Transport, mailer.TransportSMTP) {
		return c.Mail.SMTP.Username
	}
	return ""
}

// Recipients returns the non-empty, trimmed To addresses.
func (c *Config) Recipients() []string {
	var out []string
	for _, to := range c.Mail.To {
		for _, addr := range strings.Split(to, ",") {
			if addr = strings.TrimSpace(addr); addr != "" {
				out = append(out, addr)
			}
		}
	}
	return out
}

// MailerConfig converts the mail settings for mailer.New.
func (c *Config) MailerConfig() mailer.Config {
	return mailer.Config{
		Transport: c.Mail.Transport,
		Timeout:   c.Mail.Timeout,
		SMTP: mailer.SMTPConfig{
			Host:     c.Mail.SMTP.Host,
			Port:     c.Mail.SMTP.Port,
			Username: c.Mail.SMTP.Username,
			Password: c.Mail.SMTP.Password,
			Secure:   c.Mail.SMTP.Secure,
			Timeout:  c.Mail.Timeout,
		},
		Resend: mailer.ResendConfig{
			APIKey:  c.Mail.Resend.APIKey,
			BaseURL: c.Mail.Resend.BaseURL,
			Timeout: c.Mail.Timeout,
		},
	}
}

// Validate reports the first problem that would stop the service from working.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: listen address", ErrMissingSetting)
	}
	if _, err := c.MaxUploadBytes(); err != nil {
		return err
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q", c.LogFormat)
	}

	switch strings.ToLower(c.Mail.Transport) {
	case mailer.TransportSMTP:
		if c.Mail.SMTP.Host == "" {
			return fmt.Errorf("%w: SMTP_HOST", ErrMissingSetting)
		}
		if c.Mail.SMTP.Port <= 0 {
			return fmt.Errorf("%w: SMTP_PORT", ErrMissingSetting)
		}
		if c.Mail.SMTP.Username == "" {
			return fmt.Errorf("%w: SMTP_USER", ErrMissingSetting)
		}
		if c.Mail.SMTP.Password == "" {
			return fmt.Errorf("%w: SMTP_PASS", ErrMissingSetting)
		}
	case mailer.TransportResend:
		if c.Mail.Resend.APIKey == "" {
			return fmt.Errorf("%w: RESEND_API_KEY", ErrMissingSetting)
		}
	default:
		return fmt.Errorf("%w: %q", mailer.ErrUnknownTransport, c.Mail.Transport)
	}

	if c.Sender() == "" {
		return fmt.Errorf("%w: FROM_EMAIL", ErrMissingSetting)
	}
	if len(c.Recipients()) == 0 {
		return fmt.Errorf("%w: TO_EMAIL", ErrMissingSetting)
	}
	return nil
}
