// internal/notify/notify.go
package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/watchdog-cli/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Message is a notification about a finished run.
type Message struct {
	Text string
}

// Notifier delivers run notifications.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// slackPayload is the incoming-webhook body.
type slackPayload struct {
	Text      string `json:"text"`
	Channel   string `json:"channel,omitempty"`
	Username  string `json:"username,omitempty"`
	IconEmoji string `json:"icon_emoji,omitempty"`
}

// SlackNotifier posts messages to a Slack incoming webhook.
type SlackNotifier struct {
	cfg    config.SlackConfig
	client *http.Client
	logger *zap.Logger
}

var _ Notifier = (*SlackNotifier)(nil)

// NewSlackNotifier returns a notifier for cfg. A nil client gets a 10s timeout.
func NewSlackNotifier(cfg config.SlackConfig, client *http.Client, logger *zap.Logger) *SlackNotifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &SlackNotifier{cfg: cfg, client: client, logger: logger.Named("slack")}
}

// Notify posts msg to the configured webhook.
func (n *SlackNotifier) Notify(ctx context.Context, msg Message) error {
	if n.cfg.URL == "" {
		return fmt.Errorf("slack webhook url is not configured")
	}

	payload := slackPayload{
		Text:      msg.Text,
		Username:  n.cfg.User,
		IconEmoji: n.cfg.Emoji,
	}
	if n.cfg.Channel != "" {
		payload.Channel = "#" + strings.TrimPrefix(n.cfg.Channel, "#")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding slack payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting to slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack returned %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	n.logger.Info("Slack notification sent.", zap.String("channel", payload.Channel))
	return nil
}
