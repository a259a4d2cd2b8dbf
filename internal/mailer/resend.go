package mailer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/resend/resend-go/v2"
)

// DefaultResendURL is the Resend API base URL.
const DefaultResendURL = "https://api.resend.com"

// ResendConfig configures the HTTP mail API transport.
type ResendConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	Client  *http.Client // optional, mainly for tests
}

// APIError is a non-2xx answer from the mail API.
type APIError struct {
	StatusCode int
	Name       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("mail api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("mail api: status %d: %s: %s", e.StatusCode, e.Name, e.Message)
}

// statusTransport turns non-2xx responses into *APIError before the SDK
// flattens them into plain strings.
type statusTransport struct {
	next http.RoundTripper
}

func (t statusTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil || (resp.StatusCode >= 200 && resp.StatusCode <= 299) {
		return resp, err
	}
	defer resp.Body.Close()

	apiErr := &APIError{StatusCode: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		slog.Debug("Mail API returned a non-JSON body", "status", resp.StatusCode, "error", err)
	} else {
		apiErr.Name, apiErr.Message = body.Name, body.Message
	}
	return nil, apiErr
}

// ResendSender delivers messages through the Resend HTTP API.
type ResendSender struct {
	cfg    ResendConfig
	client *resend.Client
}

// NewResendSender validates cfg and returns a sender for it.
func NewResendSender(cfg ResendConfig) (*ResendSender, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("resend: api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultResendURL
	}
	// The SDK resolves "emails" against the base, so it must end in a slash.
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("resend: invalid base url %q: %w", cfg.BaseURL, err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	if cfg.Client != nil {
		c := *cfg.Client
		httpClient = &c
	}
	next := httpClient.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	httpClient.Transport = statusTransport{next: next}

	client := resend.NewCustomClient(httpClient, cfg.APIKey)
	client.BaseURL = base
	return &ResendSender{cfg: cfg, client: client}, nil
}

// Send delivers msg.
func (s *ResendSender) Send(ctx context.Context, msg *Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	req := &resend.SendEmailRequest{
		From:    msg.From,
		To:      msg.To,
		Subject: msg.Subject,
		Text:    msg.Text,
	}
	for _, a := range msg.Attachments {
		req.Attachments = append(req.Attachments, &resend.Attachment{
			Filename:    a.Filename,
			Content:     a.Data,
			ContentType: a.ContentType,
		})
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	start := time.Now()
	sent, err := s.client.Emails.SendWithContext(ctx, req)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return apiErr
		}
		return fmt.Errorf("resend: send: %w", err)
	}

	slog.Debug("Email sent via mail API", "id", sent.Id, "to", msg.To, "duration", time.Since(start))
	return nil
}
