package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"time"

	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/mailer"
)

type Email struct {
	From    mail.Address
	To      []mail.Address
	Subject string
	HTML    string
}

// Mailer delivers one email.
type Mailer interface {
	Send(ctx context.Context, email *Email) error
}

// HTTPMailer posts emails to a JSON email API authenticated with a bearer
// key.
type HTTPMailer struct {
	url    string
	apiKey string
	hc     *http.Client
}

func NewHTTPMailer(url, apiKey string, timeout time.Duration) *HTTPMailer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPMailer{url: url, apiKey: apiKey, hc: &http.Client{Timeout: timeout}}
}

func (m *HTTPMailer) Send(ctx context.Context, email *Email) error {
	to := make([]string, 0, len(email.To))
	for _, addr := range email.To {
		to = append(to, addr.String())
	}

	body, err := json.Marshal(map[string]any{
		"from":    email.From.String(),
		"to":      to,
		"subject": email.Subject,
		"html":    email.HTML,
	})
	if err != nil {
		return fmt.Errorf("sendEmail: json.Marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("sendEmail: http.NewRequest: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.hc.Do(req)
	if err != nil {
		return fmt.Errorf("sendEmail: http.Do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sendEmail: HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}

// PocketBaseMailer sends through the SMTP settings configured in PocketBase.
type PocketBaseMailer struct {
	app core.App
}

func NewPocketBaseMailer(app core.App) *PocketBaseMailer {
	return &PocketBaseMailer{app: app}
}

func (m *PocketBaseMailer) Send(ctx context.Context, email *Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.app.NewMailClient().Send(&mailer.Message{
		From:    email.From,
		To:      email.To,
		Subject: email.Subject,
		HTML:    email.HTML,
	})
}
