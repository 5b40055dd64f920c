package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// --- Discord ---
type Discord struct {
	WebhookURL string
}

func (d *Discord) Name() string { return "Discord" }
func (d *Discord) Send(ctx context.Context, title, message string) error {
	payload := map[string]interface{}{
		"username": "Brakerr",
		"embeds":   []map[string]interface{}{{"title": title, "description": message, "color": 15105570, "timestamp": time.Now().Format(time.RFC3339)}},
	}
	return postJSON(ctx, d.WebhookURL, payload)
}

// --- Slack ---
type Slack struct {
	WebhookURL string
}

func (s *Slack) Name() string { return "Slack" }
func (s *Slack) Send(ctx context.Context, title, message string) error {
	payload := map[string]string{"text": fmt.Sprintf("*%s*\n%s", title, message)}
	return postJSON(ctx, s.WebhookURL, payload)
}

// --- Telegram ---
var telegramAPIBase = "https://api.telegram.org"

type Telegram struct{ BotToken, ChatID string }

func (t *Telegram) Name() string { return "Telegram" }
func (t *Telegram) Send(ctx context.Context, title, message string) error {
	apiURL := fmt.Sprintf("%s/bot%s/sendMessage", telegramAPIBase, t.BotToken)
	payload := map[string]string{"chat_id": t.ChatID, "text": fmt.Sprintf("<b>%s</b>\n%s", title, message), "parse_mode": "HTML"}
	return postJSON(ctx, apiURL, payload)
}

// --- Gotify (Self-Hosted Push) ---
type Gotify struct{ ServerURL, Token string }

func (g *Gotify) Name() string { return "Gotify" }
func (g *Gotify) Send(ctx context.Context, title, message string) error {
	url := fmt.Sprintf("%s/message", strings.TrimRight(g.ServerURL, "/"))
	payload := map[string]interface{}{"title": title, "message": message, "priority": 5}
	b, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Gotify-Key", g.Token)
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("gotify returned %d", resp.StatusCode)
	}
	return nil
}

// --- Pushover (Mobile Push) ---
var pushoverAPIURL = "https://api.pushover.net/1/messages.json"

type Pushover struct{ UserKey, APIToken string }

func (p *Pushover) Name() string { return "Pushover" }
func (p *Pushover) Send(ctx context.Context, title, message string) error {
	payload := map[string]string{"token": p.APIToken, "user": p.UserKey, "title": title, "message": message, "html": "0"}
	return postJSON(ctx, pushoverAPIURL, payload)
}

// --- Apprise (Gateway) ---
type Apprise struct{ APIURL string }

func (a *Apprise) Name() string { return "Apprise" }
func (a *Apprise) Send(ctx context.Context, title, message string) error {
	payload := map[string]string{"title": title, "body": message, "format": "markdown", "type": "info"}
	return postJSON(ctx, a.APIURL, payload)
}

// --- Generic Webhook ---
type Generic struct{ WebhookURL string }

func (g *Generic) Name() string { return "GenericWebhook" }
func (g *Generic) Send(ctx context.Context, title, message string) error {
	payload := map[string]string{"title": title, "message": message, "agent": "Brakerr"}
	return postJSON(ctx, g.WebhookURL, payload)
}
