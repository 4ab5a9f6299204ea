// Package alert delivers operator notifications to chat webhooks.
package alert

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
	"time"

	"github.com/aretw0/forkline/internal/config"
	"github.com/aretw0/forkline/pkg/ports"
)

// TelegramBaseURL is the Telegram Bot API root.
const TelegramBaseURL = "https://api.telegram.org"

// Telegram posts messages through a Telegram bot.
type Telegram struct {
	BaseURL string
	Token   string
	ChatID  string
	Client  *http.Client
}

// Notify implements ports.Notifier.
func (t *Telegram) Notify(ctx context.Context, message string) error {
	base := t.BaseURL
	if base == "" {
		base = TelegramBaseURL
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(base, "/"), t.Token)
	payload := map[string]string{
		"chat_id":    t.ChatID,
		"text":       message,
		"parse_mode": "Markdown",
	}
	if err := postJSON(ctx, t.Client, url, payload); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}

// Discord posts messages to a Discord webhook.
type Discord struct {
	Webhook string
	Client  *http.Client
}

// Notify implements ports.Notifier.
func (d *Discord) Notify(ctx context.Context, message string) error {
	if err := postJSON(ctx, d.Client, d.Webhook, map[string]string{"content": message}); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

// Multi fans a message out to every notifier and joins their failures.
type Multi []ports.Notifier

// Notify implements ports.Notifier.
func (m Multi) Notify(ctx context.Context, message string) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FromConfig builds the notifiers enabled in cfg. With none enabled it
// returns ports.NopNotifier.
func FromConfig(cfg config.Alerts) ports.Notifier {
	client := &http.Client{Timeout: 10 * time.Second}
	var out Multi
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		out = append(out, &Telegram{Token: cfg.TelegramToken, ChatID: cfg.TelegramChatID, Client: client})
	}
	if cfg.DiscordWebhook != "" {
		out = append(out, &Discord{Webhook: cfg.DiscordWebhook, Client: client})
	}
	if len(out) == 0 {
		return ports.NopNotifier{}
	}
	return out
}

// Send delivers message best-effort: failures are logged, never returned.
func Send(ctx context.Context, n ports.Notifier, logger *slog.Logger, message string) {
	if n == nil {
		return
	}
	if err := n.Notify(ctx, message); err != nil {
		logger.Warn("alert delivery failed", "err", err)
	}
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	if client == nil {
		client = http.DefaultClient
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
