// Package notify pushes operator alerts to Telegram. The notifier
// subscribes to bus events, renders them as short Markdown messages and
// sends them through a rate limiter so an error storm cannot flood the
// chat or trip Telegram's own limits.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const sendTimeout = 10 * time.Second

// Sink delivers one rendered message. TelegramSink is the production
// implementation; tests supply their own.
type Sink interface {
	Send(ctx context.Context, text string) error
}

// TelegramSink posts Markdown messages to a chat via the Bot API.
type TelegramSink struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
}

// NewTelegramSink creates a sink for the given bot and chat.
func NewTelegramSink(token, chatID string) *TelegramSink {
	return &TelegramSink{
		token:   token,
		chatID:  chatID,
		baseURL: "https://api.telegram.org",
		client:  &http.Client{Timeout: sendTimeout},
	}
}

// Configured reports whether both the bot token and chat id are set.
func (s *TelegramSink) Configured() bool {
	return s.token != "" && s.chatID != ""
}

// Send posts one message to the chat.
func (s *TelegramSink) Send(ctx context.Context, text string) error {
	payload := map[string]string{
		"chat_id":    s.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, s.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram returned status %d: %s", resp.StatusCode, detail)
	}
	return nil
}
