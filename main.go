package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/docker/go-units"
	"github.com/urfave/cli/v3"

	"photo_to_pdf/api"
	"photo_to_pdf/internal/config"
	"photo_to_pdf/internal/converter"
	"photo_to_pdf/internal/mailer"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 15 * time.Second
)

func main() {
	cmd := newCommand(serve)
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("photo_to_pdf stopped", "error", err)
		os.Exit(1)
	}
}

// newCommand builds the CLI. run receives the validated configuration.
func newCommand(run func(ctx context.Context, cfg *config.Config) error) *cli.Command {
	return &cli.Command{
		Name:  "photo_to_pdf",
		Usage: "Serve an upload form that turns a photo into a one-page A4 PDF and emails it.",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return run(ctx, cfg)
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config-file",
				Usage:   "Path to YAML configuration file",
				Sources: cli.EnvVars("CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "addr",
				Usage:   "HTTP listen address (default :3000)",
				Sources: cli.EnvVars("ADDR"),
			},
			&cli.IntFlag{
				Name:    "port",
				Usage:   "HTTP port, shorthand for --addr :PORT",
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "static-dir",
				Usage:   "Directory with the upload page (default public)",
				Sources: cli.EnvVars("STATIC_DIR"),
			},
			&cli.StringFlag{
				Name:    "max-upload-size",
				Usage:   "Max size of an uploaded photo. Examples: 15MiB, 10m.",
				Sources: cli.EnvVars("MAX_UPLOAD_SIZE"),
			},
			&cli.StringFlag{
				Name:    "timezone",
				Usage:   "Timezone for dated PDF names (default Europe/Vilnius)",
				Sources: cli.EnvVars("PDF_TIMEZONE"),
			},
			&cli.BoolFlag{
				Name:    "auto-rotate",
				Usage:   "Honour EXIF orientation and turn landscape photos to portrait",
				Sources: cli.EnvVars("AUTO_ROTATE"),
			},
			&cli.StringFlag{
				Name:    "pdf-title",
				Usage:   "Title stored in the PDF metadata (default: mail subject)",
				Sources: cli.EnvVars("PDF_TITLE"),
			},
			&cli.StringFlag{
				Name:    "mail-transport",
				Usage:   "Mail transport: smtp or resend",
				Sources: cli.EnvVars("MAIL_TRANSPORT"),
			},
			&cli.StringFlag{
				Name:    "from",
				Usage:   "Sender address (defaults to the SMTP user)",
				Sources: cli.EnvVars("FROM_EMAIL"),
			},
			&cli.StringFlag{
				Name:    "to",
				Usage:   "Comma-separated recipient addresses",
				Sources: cli.EnvVars("TO_EMAIL"),
			},
			&cli.DurationFlag{
				Name:    "mail-timeout",
				Usage:   "Timeout for delivering one message (default 30s)",
				Sources: cli.EnvVars("MAIL_TIMEOUT"),
			},
			&cli.StringFlag{
				Name:    "smtp-host",
				Usage:   "SMTP: server host",
				Sources: cli.EnvVars("SMTP_HOST"),
			},
			&cli.IntFlag{
				Name:    "smtp-port",
				Usage:   "SMTP: server port (default 587)",
				Sources: cli.EnvVars("SMTP_PORT"),
			},
			&cli.BoolFlag{
				Name:    "smtp-secure",
				Usage:   "SMTP: use implicit TLS, usually with port 465",
				Sources: cli.EnvVars("SMTP_SECURE"),
			},
			&cli.StringFlag{
				Name:    "smtp-user",
				Usage:   "SMTP: username",
				Sources: cli.EnvVars("SMTP_USER"),
			},
			&cli.StringFlag{
				Name:    "smtp-pass",
				Usage:   "SMTP: password",
				Sources: cli.EnvVars("SMTP_PASS"),
			},
			&cli.BoolFlag{
				Name:    "smtp-verify",
				Usage:   "SMTP: connect and authenticate once at startup",
				Sources: cli.EnvVars("SMTP_VERIFY"),
			},
			&cli.StringFlag{
				Name:    "resend-api-key",
				Usage:   "Resend: API key",
				Sources: cli.EnvVars("RESEND_API_KEY"),
			},
			&cli.StringFlag{
				Name:    "resend-base-url",
				Usage:   "Resend: API base URL",
				Sources: cli.EnvVars("RESEND_BASE_URL"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level: debug, info, warn or error",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format: text or json",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
			&cli.BoolFlag{
				Name:    "pprof",
				Usage:   "Expose runtime profiles under /debug/pprof/",
				Sources: cli.EnvVars("PPROF"),
			},
		},
	}
}

// loadConfig layers defaults, the YAML file and explicitly set flags or
// environment variables, then validates the result.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg := config.Default()
	if path := cmd.String("config-file"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	setString := func(name string, dst *string) {
		if cmd.IsSet(name) {
			*dst = cmd.String(name)
		}
	}
	setBool := func(name string, dst *bool) {
		if cmd.IsSet(name) {
			*dst = cmd.Bool(name)
		}
	}

	setString("addr", &cfg.Addr)
	if cmd.IsSet("port") {
		cfg.Addr = ":" + strconv.Itoa(int(cmd.Int("port")))
	}
	setString("static-dir", &cfg.StaticDir)
	setString("max-upload-size", &cfg.MaxUploadSize)
	setString("timezone", &cfg.Timezone)
	setBool("auto-rotate", &cfg.AutoRotate)
	setString("pdf-title", &cfg.Title)
	setString("log-level", &cfg.LogLevel)
	setString("log-format", &cfg.LogFormat)

	setString("mail-transport", &cfg.Mail.Transport)
	setString("from", &cfg.Mail.From)
	if cmd.IsSet("to") {
		cfg.Mail.To = strings.Split(cmd.String("to"), ",")
	}
	if cmd.IsSet("mail-timeout") {
		cfg.Mail.Timeout = cmd.Duration("mail-timeout")
	}
	setString("smtp-host", &cfg.Mail.SMTP.Host)
	if cmd.IsSet("smtp-port") {
		cfg.Mail.SMTP.Port = int(cmd.Int("smtp-port"))
	}
	setBool("smtp-secure", &cfg.Mail.SMTP.Secure)
	setString("smtp-user", &cfg.Mail.SMTP.Username)
	setString("smtp-pass", &cfg.Mail.SMTP.Password)
	setBool("smtp-verify", &cfg.Mail.SMTP.Verify)
	setString("resend-api-key", &cfg.Mail.Resend.APIKey)
	setString("resend-base-url", &cfg.Mail.Resend.BaseURL)
	setBool("pprof", &cfg.Pprof)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// newHandler wires the HTTP routes for cfg around sender.
func newHandler(cfg *config.Config, sender mailer.Sender) (http.Handler, error) {
	maxUpload, err := cfg.MaxUploadBytes()
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	convCfg := converter.NewDefaultConfig()
	convCfg.AutoRotate = cfg.AutoRotate
	convCfg.Title = cfg.Title

	srv := api.NewServer(api.Options{
		Converter:      convCfg,
		Sender:         sender,
		From:           cfg.Sender(),
		To:             cfg.Recipients(),
		MaxUploadBytes: maxUpload,
		Location:       loc,
		StaticDir:      cfg.StaticDir,
	})
	if !cfg.Pprof {
		return srv.Routes(), nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/", srv.Routes())
	slog.Info("Profiling endpoints enabled", "path", "/debug/pprof/")
	return mux, nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	slog.SetDefault(newLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat))

	sender, err := mailer.New(cfg.MailerConfig())
	if err != nil {
		return err
	}
	if v, ok := sender.(interface{ Verify(context.Context) error }); ok && cfg.Mail.SMTP.Verify {
		if err := v.Verify(ctx); err != nil {
			return fmt.Errorf("SMTP verification failed: %w", err)
		}
		slog.Info("SMTP connection verified", "host", cfg.Mail.SMTP.Host, "port", cfg.Mail.SMTP.Port)
	}

	handler, err := newHandler(cfg, sender)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	maxUpload, _ := cfg.MaxUploadBytes()
	slog.Info("Server starting",
		"addr", cfg.Addr,
		"transport", cfg.Mail.Transport,
		"from", cfg.Sender(),
		"to", strings.Join(cfg.Recipients(), ", "),
		"timezone", cfg.Timezone,
		"max_upload", units.BytesSize(float64(maxUpload)),
		"auto_rotate", cfg.AutoRotate,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
