package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const telegramAPI = "https://api.telegram.org"

// Telegram posts to the Bot API sendMessage method. BaseURL may point at
// any service exposing the same endpoint.
type Telegram struct {
	baseURL string
	token   string
	chatID  string
	client  *http.Client
}

func NewTelegram(baseURL, token, chatID string, timeout time.Duration) *Telegram {
	if baseURL == "" {
		baseURL = telegramAPI
	}
	return &Telegram{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		chatID:  chatID,
		client:  &http.Client{Timeout: timeout},
	}
}

func (t *Telegram) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(map[string]string{
		"chat_id": t.chatID,
		"text":    Format(msg),
	})
	if err != nil {
		return fmt.Errorf("marshal telegram message: %w", err)
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		// The URL carries the bot token; keep it out of logs.
		return fmt.Errorf("telegram send failed: %w", redactURL(err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}

// Format renders a message as plain text.
func Format(msg Message) string {
	var b strings.Builder
	if msg.Symbol != "" {
		fmt.Fprintf(&b, "[%s] ", msg.Symbol)
	}
	b.WriteString(msg.Title)
	if msg.Text != "" {
		b.WriteString("\n")
		b.WriteString(msg.Text)
	}
	return b.String()
}

func redactURL(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}
