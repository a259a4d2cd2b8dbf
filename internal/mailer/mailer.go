// Package mailer delivers generated documents by email.
//
// Two transports are provided: SMTPSender talks to a mail server directly and
// ResendSender posts to an HTTP mail API. Both satisfy Sender, so the rest of
// the service never knows which one is configured.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNoRecipients is returned when a message has no To address.
	ErrNoRecipients = errors.New("message has no recipients")
	// ErrNoSender is returned when a message has no From address.
	ErrNoSender = errors.New("message has no sender")
	// ErrUnknownTransport is returned by New for an unrecognised transport name.
	ErrUnknownTransport = errors.New("unknown mail transport")
)

// DefaultTimeout bounds a single delivery attempt.
const DefaultTimeout = 30 * time.Second

// Attachment is a file carried by a Message.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Message is an outbound email.
type Message struct {
	From        string
	To          []string
	Subject     string
	Text        string // plain-text body
	Attachments []Attachment
}

// Validate checks that the message can be delivered.
func (m *Message) Validate() error {
	if strings.TrimSpace(m.From) == "" {
		return ErrNoSender
	}
	if len(m.To) == 0 {
		return ErrNoRecipients
	}
	for _, to := range m.To {
		if strings.TrimSpace(to) == "" {
			return ErrNoRecipients
		}
	}
	for i, a := range m.Attachments {
		if a.Filename == "" {
			return fmt.Errorf("attachment %d has no filename", i)
		}
	}
	return nil
}

// Sender delivers messages. Implementations are safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, msg *Message) error
}

// Transport names accepted by New.
const (
	TransportSMTP   = "smtp"
	TransportResend = "resend"
)

// Config selects and configures a transport.
type Config struct {
	Transport string
	Timeout   time.Duration
	SMTP      SMTPConfig
	Resend    ResendConfig
}

// New builds the Sender named by cfg.Transport.
func New(cfg Config) (Sender, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	switch strings.ToLower(cfg.Transport) {
	case TransportSMTP, "":
		smtpCfg := cfg.SMTP
		if smtpCfg.Timeout <= 0 {
			smtpCfg.Timeout = timeout
		}
		return NewSMTPSender(smtpCfg)
	case TransportResend:
		resendCfg := cfg.Resend
		if resendCfg.Timeout <= 0 {
			resendCfg.Timeout = timeout
		}
		return NewResendSender(resendCfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, cfg.Transport)
	}
}
