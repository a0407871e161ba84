// Package delivery sends issued certificate documents to recipients by
// email through a transactional mail API.
package delivery

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"constancia/internal/platform/config"
)

// Message is one outbound mail with an optional PDF attachment.
type Message struct {
	To             string
	ToName         string
	Subject        string
	HTMLBody       string
	AttachmentPath string
}

// Mailer is the transport boundary; tests swap in a recorder.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Brevo talks to the Brevo transactional email HTTP API. One request per
// message, no batching, no retries.
type Brevo struct {
	apiURL      string
	apiKey      string
	senderName  string
	senderEmail string
	client      *http.Client
	logger      *slog.Logger
}

func NewBrevo(cfg config.Mailer, logger *slog.Logger) *Brevo {
	if logger == nil {
		logger = slog.Default()
	}
	return &Brevo{
		apiURL:      cfg.APIURL,
		apiKey:      cfg.APIKey,
		senderName:  cfg.SenderName,
		senderEmail: cfg.SenderEmail,
		client:      &http.Client{Timeout: cfg.Timeout},
		logger:      logger,
	}
}

type brevoParty struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

type brevoAttachment struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type brevoPayload struct {
	Sender      brevoParty        `json:"sender"`
	To          []brevoParty      `json:"to"`
	Subject     string            `json:"subject"`
	HTMLContent string            `json:"htmlContent"`
	Attachment  []brevoAttachment `json:"attachment,omitempty"`
}

func (b *Brevo) Send(ctx context.Context, msg Message) error {
	payload := brevoPayload{
		Sender:      brevoParty{Name: b.senderName, Email: b.senderEmail},
		To:          []brevoParty{{Name: msg.ToName, Email: msg.To}},
		Subject:     msg.Subject,
		HTMLContent: msg.HTMLBody,
	}
	if msg.AttachmentPath != "" {
		attachment, err := loadAttachment(msg.AttachmentPath)
		if err != nil {
			return fmt.Errorf("load attachment: %w", err)
		}
		payload.Attachment = []brevoAttachment{attachment}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal mail payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build mail request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		b.logger.Warn("mail API rejected message",
			slog.Int("status", resp.StatusCode), slog.String("detail", string(detail)))
		return fmt.Errorf("mail API returned %d", resp.StatusCode)
	}
	return nil
}

func loadAttachment(path string) (brevoAttachment, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return brevoAttachment{}, err
	}
	return brevoAttachment{
		Name:    filepath.Base(path),
		Content: base64.StdEncoding.EncodeToString(raw),
	}, nil
}
