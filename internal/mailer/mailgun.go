package mailer

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

var ErrSendFailed = errors.New("email send failed")

type Message struct {
	To      string
	From    string
	Subject string
	HTML    string
	Text    string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Mailgun posts form-encoded messages to the Mailgun v3 API.
type Mailgun struct {
	apiBase    string
	domain     string
	apiKey     string
	httpClient *http.Client
}

var _ Sender = (*Mailgun)(nil)

func NewMailgun(apiBase, domain, apiKey string) *Mailgun {
	return &Mailgun{
		apiBase:    strings.TrimRight(apiBase, "/"),
		domain:     domain,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (m *Mailgun) Send(ctx context.Context, msg Message) error {
	if msg.To == "" || msg.Subject == "" {
		return fmt.Errorf("mailer: to and subject are required")
	}

	from := msg.From
	if from == "" {
		from = "noreply@" + m.domain
	}

	form := url.Values{}
	form.Set("from", from)
	form.Set("to", msg.To)
	form.Set("subject", msg.Subject)
	if msg.HTML != "" {
		form.Set("html", msg.HTML)
	}
	if msg.Text != "" {
		form.Set("text", msg.Text)
	}

	endpoint := fmt.Sprintf("%s/v3/%s/messages", m.apiBase, m.domain)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("mailer: failed to build send request: %w", err)
	}
	basic := base64.StdEncoding.EncodeToString([]byte("api:" + m.apiKey))
	req.Header.Set("Authorization", "Basic "+basic)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("mailer: send request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		log.Error().Int("status", resp.StatusCode).Str("body", string(body)).Msg("Mailgun rejected message")
		return fmt.Errorf("%w: status %d", ErrSendFailed, resp.StatusCode)
	}

	return nil
}
