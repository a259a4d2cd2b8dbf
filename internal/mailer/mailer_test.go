package mailer

import (
	"errors"
	"testing"
)

func TestMessageValidate(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		wantErr error
	}{
		{"ok", Message{From: "a@example.com", To: []string{"b@example.com"}}, nil},
		{"no sender", Message{To: []string{"b@example.com"}}, ErrNoSender},
		{"no recipients", Message{From: "a@example.com"}, ErrNoRecipients},
		{"blank recipient", Message{From: "a@example.com", To: []string{" "}}, ErrNoRecipients},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	msg := Message{From: "a@example.com", To: []string{"b@example.com"}, Attachments: []Attachment{{Data: []byte("x")}}}
	if err := msg.Validate(); err == nil {
		t.Error("expected error for attachment without filename")
	}
}

func TestNew(t *testing.T) {
	s, err := New(Config{Transport: "smtp", SMTP: SMTPConfig{Host: "mail.example.com", Port: 587}})
	if err != nil {
		t.Fatalf("New(smtp) failed: %v", err)
	}
	smtpSender, ok := s.(*SMTPSender)
	if !ok {
		t.Fatalf("expected *SMTPSender, got %T", s)
	}
	if smtpSender.cfg.Timeout != DefaultTimeout {
		t.Errorf("expected default timeout, got %v", smtpSender.cfg.Timeout)
	}

	s, err = New(Config{Transport: "RESEND", Resend: ResendConfig{APIKey: "re_test"}})
	if err != nil {
		t.Fatalf("New(resend) failed: %v", err)
	}
	if _, ok := s.(*ResendSender); !ok {
		t.Fatalf("expected *ResendSender, got %T", s)
	}

	if _, err := New(Config{Transport: "carrier-pigeon"}); !errors.Is(err, ErrUnknownTransport) {
		t.Errorf("expected ErrUnknownTransport, got %v", err)
	}
	if _, err := New(Config{Transport: "smtp"}); err == nil {
		t.Error("expected error for smtp without host")
	}
	if _, err := New(Config{Transport: "resend"}); err == nil {
		t.Error("expected error for resend without api key")
	}
}
