package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/go-gomail/gomail"
)

// SMTPConfig holds SMTP server configuration.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// Secure selects implicit TLS (usually port 465). When false the
	// connection is upgraded with STARTTLS if the server offers it.
	Secure  bool
	Timeout time.Duration
	// TLSConfig is optional. By default the server certificate is checked
	// against Host and the system roots.
	TLSConfig *tls.Config
}

// SMTPSender delivers messages through an SMTP server.
type SMTPSender struct {
	cfg       SMTPConfig
	addr      string
	tlsConfig *tls.Config
}

// NewSMTPSender validates cfg and returns a sender for it.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp: host is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("smtp: invalid port %d", cfg.Port)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Port == 465 && !cfg.Secure {
		slog.Warn("SMTP port 465 normally expects implicit TLS but secure is off; delivery may hang until the timeout",
			"host", cfg.Host, "port", cfg.Port)
	}

	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.TLSConfig != nil {
		tlsConfig = cfg.TLSConfig.Clone()
	}
	if tlsConfig.ServerName == "" {
		tlsConfig.ServerName = cfg.Host
	}

	return &SMTPSender{
		cfg:       cfg,
		addr:      net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		tlsConfig: tlsConfig,
	}, nil
}

// compose converts msg into a gomail message.
func (s *SMTPSender) compose(msg *Message) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", msg.From)
	m.SetHeader("To", msg.To...)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Text)

	for _, a := range msg.Attachments {
		data := a.Data
		contentType := a.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		m.Attach(a.Filename,
			gomail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(data)
				return err
			}),
			gomail.SetHeader(map[string][]string{
				"Content-Type": {mime.FormatMediaType(contentType, map[string]string{"name": a.Filename})},
			}),
		)
	}
	return m
}

// smtpConn is a gomail.SendCloser over one authenticated session.
type smtpConn struct {
	c    *smtp.Client
	stop func() bool // detaches the context watcher
}

func (sc *smtpConn) Send(from string, to []string, msg io.WriterTo) error {
	if err := sc.c.Mail(from); err != nil {
		return err
	}
	for _, addr := range to {
		if err := sc.c.Rcpt(addr); err != nil {
			return err
		}
	}
	w, err := sc.c.Data()
	if err != nil {
		return err
	}
	if _, err := msg.WriteTo(w); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// Close ends the session politely and always releases the connection.
func (sc *smtpConn) Close() error {
	defer sc.stop()
	if err := sc.c.Quit(); err != nil {
		sc.c.Close()
		return err
	}
	return nil
}

func (sc *smtpConn) abort() {
	sc.stop()
	sc.c.Close()
}

// dial connects, negotiates TLS and authenticates. Every read and write on
// the connection is bounded by ctx, so nothing outlives the caller.
func (s *SMTPSender) dial(ctx context.Context) (*smtpConn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	raw := conn
	stop := context.AfterFunc(ctx, func() {
		raw.SetDeadline(time.Now())
	})

	if s.cfg.Secure {
		conn = tls.Client(conn, s.tlsConfig)
	}
	c, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		stop()
		conn.Close()
		return nil, err
	}
	sc := &smtpConn{c: c, stop: stop}

	if !s.cfg.Secure {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(s.tlsConfig); err != nil {
				sc.abort()
				return nil, err
			}
		}
	}
	if s.cfg.Username != "" {
		if ok, mechs := c.Extension("AUTH"); ok {
			if err := c.Auth(s.auth(mechs)); err != nil {
				sc.abort()
				return nil, err
			}
		}
	}
	return sc, nil
}

// auth picks a mechanism the server advertises, preferring CRAM-MD5, then
// PLAIN, then LOGIN.
func (s *SMTPSender) auth(mechs string) smtp.Auth {
	switch {
	case strings.Contains(mechs, "CRAM-MD5"):
		return smtp.CRAMMD5Auth(s.cfg.Username, s.cfg.Password)
	case strings.Contains(mechs, "LOGIN") && !strings.Contains(mechs, "PLAIN"):
		return &loginAuth{username: s.cfg.Username, password: s.cfg.Password, host: s.cfg.Host}
	default:
		return smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
}

// loginAuth implements the LOGIN mechanism, which net/smtp lacks.
type loginAuth struct {
	username, password, host string
}

func (a *loginAuth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	if !server.TLS {
		return "", nil, errors.New("smtp: refusing LOGIN auth over an unencrypted connection")
	}
	if server.Name != a.host {
		return "", nil, errors.New("smtp: wrong host name")
	}
	return "LOGIN", nil, nil
}

func (a *loginAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if !more {
		return nil, nil
	}
	switch {
	case bytes.EqualFold(fromServer, []byte("Username:")):
		return []byte(a.username), nil
	case bytes.EqualFold(fromServer, []byte("Password:")):
		return []byte(a.password), nil
	default:
		return nil, fmt.Errorf("smtp: unexpected LOGIN challenge %q", fromServer)
	}
}

// contextErr is ctx.Err, also reporting a deadline that has passed but whose
// timer has not fired yet. The connection deadline equals the context
// deadline, so an I/O timeout can surface first.
func contextErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
		return context.DeadlineExceeded
	}
	return nil
}

// fail reports err, preferring the context error that caused it.
func (s *SMTPSender) fail(op string, ctx context.Context, err error) error {
	if ctxErr := contextErr(ctx); ctxErr != nil {
		return fmt.Errorf("smtp %s via %s: %w (%v)", op, s.addr, ctxErr, err)
	}
	return fmt.Errorf("smtp %s via %s: %w", op, s.addr, err)
}

// Verify opens and closes an authenticated connection to the server.
func (s *SMTPSender) Verify(ctx context.Context) error {
	slog.Debug("Verifying SMTP connection", "addr", s.addr, "secure", s.cfg.Secure)
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	sc, err := s.dial(ctx)
	if err != nil {
		return s.fail("verify", ctx, err)
	}
	if err := sc.Close(); err != nil {
		return s.fail("verify", ctx, err)
	}
	return nil
}

// Send delivers msg.
func (s *SMTPSender) Send(ctx context.Context, msg *Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	m := s.compose(msg)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	start := time.Now()
	sc, err := s.dial(ctx)
	if err != nil {
		return s.fail("send", ctx, err)
	}
	if err := gomail.Send(sc, m); err != nil {
		sc.abort()
		return s.fail("send", ctx, err)
	}
	// The message is accepted once DATA completes; a failed QUIT is not a
	// delivery failure.
	if err := sc.Close(); err != nil {
		slog.Warn("SMTP session did not close cleanly", "addr", s.addr, "error", err)
	}
	slog.Debug("Email sent via SMTP", "addr", s.addr, "to", msg.To, "duration", time.Since(start))
	return nil
}
