// Package mail is the outbound email capability used by the email agents and
// the alert notifier.
package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/leadcore/intent-core/internal/retry"
)

var ErrInvalidMessage = errors.New("invalid mail message")

type Message struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

func (m Message) validate() error {
	if len(m.To) == 0 {
		return fmt.Errorf("%w: at least one recipient is required", ErrInvalidMessage)
	}
	for _, to := range m.To {
		if !strings.Contains(to, "@") {
			return fmt.Errorf("%w: recipient %q is not an address", ErrInvalidMessage, to)
		}
	}
	if strings.TrimSpace(m.Subject) == "" {
		return fmt.Errorf("%w: subject is required", ErrInvalidMessage)
	}
	if strings.TrimSpace(m.HTML) == "" && strings.TrimSpace(m.Text) == "" {
		return fmt.Errorf("%w: body is required", ErrInvalidMessage)
	}
	return nil
}

// Mailer sends one message. Implementations return *retry.StatusError for
// provider status failures so callers can decide whether to retry.
type Mailer interface {
	Send(ctx context.Context, message Message) error
}

type HTTPMailerConfig struct {
	Endpoint   string
	APIKey     string
	From       string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// HTTPMailer posts messages as JSON to a transactional email provider.
type HTTPMailer struct {
	endpoint   string
	apiKey     string
	from       string
	timeout    time.Duration
	httpClient *http.Client
}

func NewHTTPMailer(config HTTPMailerConfig) *HTTPMailer {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	return &HTTPMailer{
		endpoint:   strings.TrimSpace(config.Endpoint),
		apiKey:     strings.TrimSpace(config.APIKey),
		from:       strings.TrimSpace(config.From),
		timeout:    config.Timeout,
		httpClient: config.HTTPClient,
	}
}

func (m *HTTPMailer) Available() bool {
	return m.endpoint != "" && m.apiKey != ""
}

func (m *HTTPMailer) Send(ctx context.Context, message Message) error {
	if !m.Available() {
		return errors.New("http mailer is not configured")
	}
	if err := message.validate(); err != nil {
		return err
	}

	encoded, err := json.Marshal(map[string]any{
		"from":    m.from,
		"to":      message.To,
		"subject": message.Subject,
		"html":    message.HTML,
		"text":    message.Text,
		"tags":    message.Tags,
	})
	if err != nil {
		return fmt.Errorf("marshal mail payload: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost, m.endpoint, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("create mail request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+m.apiKey)
	request.Header.Set("Content-Type", "application/json")

	response, err := m.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("mail transport error: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 700))
		return &retry.StatusError{
			Service:    "mail",
			StatusCode: response.StatusCode,
			Message:    strings.TrimSpace(string(body)),
		}
	}
	_, _ = io.Copy(io.Discard, response.Body)
	return nil
}

// LogMailer writes messages to the log instead of delivering them. It is the
// fallback when no provider is configured and keeps the sent messages for
// inspection.
type LogMailer struct {
	logger *slog.Logger

	mu   sync.Mutex
	sent []Message
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, message Message) error {
	if err := message.validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.sent = append(m.sent, message)
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "mail not delivered: no provider configured",
		"to", strings.Join(message.To, ","), "subject", message.Subject)
	return nil
}

func (m *LogMailer) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.sent...)
}
