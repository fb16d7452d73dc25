package bot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// discordMaxContent is the webhook limit for the content field
const discordMaxContent = 2000

// DiscordWebhook posts notifications to a Discord channel webhook
type DiscordWebhook struct {
	webhookURL string
	httpClient *http.Client
}

type discordMessage struct {
	Content string `json:"content"`
}

// NewDiscordWebhook creates a webhook client
func NewDiscordWebhook(webhookURL string) *DiscordWebhook {
	log.Info().Msg("🔔 Discord webhook enabled")
	return &DiscordWebhook{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send implements Notifier
func (d *DiscordWebhook) Send(text string) {
	if err := d.SendMessage(text); err != nil {
		log.Error().Err(err).Msg("Failed to send Discord message")
	}
}

// SendMessage posts text to the webhook
func (d *DiscordWebhook) SendMessage(text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if r := []rune(text); len(r) > discordMaxContent {
		text = string(r[:discordMaxContent-3]) + "..."
	}

	payload, err := json.Marshal(discordMessage{Content: text})
	if err != nil {
		return fmt.Errorf("marshal discord message: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, d.webhookURL, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("create discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "pipbot/1.0")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send discord message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("discord returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
