package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ncobase/telemetry/config"
	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned while the chat API is considered down.
var ErrCircuitOpen = errors.New("chat channel circuit open")

// ChatChannel posts alerts through a Telegram-style bot API
// (POST {base}/bot{token}/sendMessage). Repeated failures open a circuit
// breaker so a dead endpoint costs nothing per alert.
type ChatChannel struct {
	endpoint string
	chatID   string
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
}

// ChatOption configures a ChatChannel.
type ChatOption func(*ChatChannel)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) ChatOption {
	return func(ch *ChatChannel) {
		if c != nil {
			ch.client = c
		}
	}
}

// WithBreakerSettings replaces the circuit breaker settings.
func WithBreakerSettings(s gobreaker.Settings) ChatOption {
	return func(ch *ChatChannel) {
		ch.breaker = gobreaker.NewCircuitBreaker(s)
	}
}

// NewChatChannel creates a chat channel from cfg.
func NewChatChannel(cfg *config.ChatChannel, opts ...ChatOption) *ChatChannel {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.telegram.org"
	}
	ch := &ChatChannel{
		endpoint: base + "/bot" + cfg.Token + "/sendMessage",
		chatID:   cfg.ChatID,
		client:   &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "alert-chat",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}
	for _, opt := range opts {
		opt(ch)
	}
	return ch
}

// Name implements Channel.
func (*ChatChannel) Name() string { return "chat" }

// State returns the breaker state.
func (c *ChatChannel) State() gobreaker.State {
	return c.breaker.State()
}

type chatRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type chatResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send implements Channel.
func (c *ChatChannel) Send(ctx context.Context, a Alert) error {
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.post(ctx, a)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}

func (c *ChatChannel) post(ctx context.Context, a Alert) error {
	body, err := json.Marshal(chatRequest{
		ChatID:                c.chatID,
		Text:                  a.Text(),
		DisableWebPagePreview: true,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var out chatResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(raw, &out)
	if resp.StatusCode != http.StatusOK || !out.OK {
		msg := out.Description
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return fmt.Errorf("chat api returned %d: %s", resp.StatusCode, msg)
	}
	return nil
}
