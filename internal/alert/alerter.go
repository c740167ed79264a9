package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wlmyng/merge-coin-scripts/internal/metrics"
)

// AlertType categorizes the kind of alert.
type AlertType string

const (
	AlertTypePayerExhausted AlertType = "PAYER_EXHAUSTED"
	AlertTypeBreakerOpen    AlertType = "BREAKER_OPEN"
	AlertTypePassAborted    AlertType = "PASS_ABORTED"
	AlertTypePassCompleted  AlertType = "PASS_COMPLETED"
)

// Alert represents a single alert event. Subject narrows the cooldown key,
// e.g. the payer id for a payer exhaustion.
type Alert struct {
	Type    AlertType
	Network string
	Subject string
	Title   string
	Message string
	Fields  map[string]string
}

// Alerter is the interface for sending alerts.
type Alerter interface {
	Send(ctx context.Context, alert Alert) error
}

// MultiAlerter fans out alerts to multiple channels.
type MultiAlerter struct {
	alerters []Alerter
	cooldown time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time
	now      func() time.Time
}

// NewMultiAlerter creates a new multi-channel alerter with cooldown.
func NewMultiAlerter(cooldown time.Duration, logger *slog.Logger, alerters ...Alerter) *MultiAlerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &MultiAlerter{
		alerters: alerters,
		cooldown: cooldown,
		logger:   logger.With("component", "alerter"),
		lastSent: make(map[string]time.Time),
		now:      time.Now,
	}
}

func cooldownKey(a Alert) string {
	return fmt.Sprintf("%s:%s:%s", a.Type, a.Network, a.Subject)
}

// Send dispatches alert to every channel unless an alert with the same type,
// network and subject went out within the cooldown. Channel failures are
// joined; one failing channel does not stop the others.
func (m *MultiAlerter) Send(ctx context.Context, alert Alert) error {
	key := cooldownKey(alert)
	now := m.now()

	m.mu.Lock()
	if last, ok := m.lastSent[key]; ok && now.Sub(last) < m.cooldown {
		m.mu.Unlock()
		m.logger.Debug("alert suppressed by cooldown", "key", key)
		for _, a := range m.alerters {
			metrics.AlertsCooldownSkipped.WithLabelValues(alerterName(a), string(alert.Type)).Inc()
		}
		return nil
	}
	m.lastSent[key] = now
	m.mu.Unlock()

	var errs []error
	for _, a := range m.alerters {
		channel := alerterName(a)
		if err := a.Send(ctx, alert); err != nil {
			m.logger.Warn("alert send failed", "channel", channel, "type", alert.Type, "error", err)
			errs = append(errs, err)
			continue
		}
		metrics.AlertsSentTotal.WithLabelValues(channel, string(alert.Type)).Inc()
	}
	return errors.Join(errs...)
}

func alerterName(a Alerter) string {
	switch a.(type) {
	case *SlackAlerter:
		return "slack"
	case *WebhookAlerter:
		return "webhook"
	default:
		return "unknown"
	}
}

// SlackAlerter sends alerts to a Slack incoming webhook.
type SlackAlerter struct {
	webhookURL string
	client     *http.Client
}

func NewSlackAlerter(webhookURL string) *SlackAlerter {
	return &SlackAlerter{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *SlackAlerter) Send(ctx context.Context, alert Alert) error {
	emoji := ":warning:"
	switch alert.Type {
	case AlertTypePassCompleted:
		emoji = ":white_check_mark:"
	case AlertTypePassAborted:
		emoji = ":rotating_light:"
	case AlertTypePayerExhausted:
		emoji = ":fuelpump:"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s *[%s]* %s: %s\n%s", emoji, alert.Type, alert.Network, alert.Title, alert.Message)
	if len(alert.Fields) > 0 {
		b.WriteString("\n")
		for _, k := range sortedKeys(alert.Fields) {
			fmt.Fprintf(&b, "- *%s*: %s\n", k, alert.Fields[k])
		}
	}

	return postJSON(ctx, s.client, s.webhookURL, map[string]string{"text": b.String()}, "slack")
}

// WebhookAlerter sends alerts to a generic HTTP webhook.
type WebhookAlerter struct {
	url    string
	client *http.Client
}

func NewWebhookAlerter(url string) *WebhookAlerter {
	return &WebhookAlerter{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *WebhookAlerter) Send(ctx context.Context, alert Alert) error {
	payload := map[string]any{
		"type":    string(alert.Type),
		"network": alert.Network,
		"subject": alert.Subject,
		"title":   alert.Title,
		"message": alert.Message,
		"fields":  alert.Fields,
		"time":    time.Now().UTC().Format(time.RFC3339),
	}
	return postJSON(ctx, w.client, w.url, payload, "webhook")
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any, channel string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", channel, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", channel, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send %s alert: %w", channel, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned status %d", channel, resp.StatusCode)
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// NoopAlerter does nothing. Used when no alert channels are configured.
type NoopAlerter struct{}

func (n *NoopAlerter) Send(_ context.Context, _ Alert) error { return nil }
