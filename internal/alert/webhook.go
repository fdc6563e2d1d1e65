package alert

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"time"

	"alats/internal/model/enum"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
)

const webhookFooter = "alats trading core"

type embedFooter struct {
	Text string `json:"text"`
}

type embed struct {
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Color       int         `json:"color"`
	Footer      embedFooter `json:"footer"`
	Timestamp   string      `json:"timestamp"`
}

type webhookPayload struct {
	Embeds []embed `json:"embeds"`
}

// WebhookNotifier posts Discord-style embeds to a webhook URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier returns nil when url is empty.
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if url == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookNotifier{url: url, client: &http.Client{Timeout: timeout}}
}

func (w *WebhookNotifier) Notify(ctx context.Context, severity enum.Severity, message string) error {
	if w == nil {
		return nil
	}
	data, err := sonic.Marshal(webhookPayload{Embeds: []embed{{
		Title:       "ALATS " + severity.String(),
		Description: message,
		Color:       severityColor(severity),
		Footer:      embedFooter{Text: webhookFooter},
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}}})
	if err != nil {
		return errors.Wrap(err, "marshal webhook payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(data))
	if err != nil {
		return errors.Wrap(err, "build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "post webhook")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return errors.New("webhook returned status " + strconv.Itoa(resp.StatusCode))
	}
	return nil
}

func severityColor(s enum.Severity) int {
	switch s {
	case enum.SeverityCritical:
		return 0xE74C3C
	case enum.SeverityWarning:
		return 0xF1C40F
	default:
		return 0x3498DB
	}
}
