package secmon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/oarkflow/log"
)

// NotificationSender delivers an alert notification over one channel.
type NotificationSender interface {
	Send(ctx context.Context, payload *NotificationPayload) error
	Name() string
}

// NotificationPayload is the channel-independent notification content built
// from an alert.
type NotificationPayload struct {
	Channel     string         `json:"channel"`
	AlertID     string         `json:"alert_id"`
	ThreatID    string         `json:"threat_id"`
	Type        ThreatType     `json:"type"`
	Severity    Severity       `json:"severity"`
	Priority    int            `json:"priority"`
	Description string         `json:"description"`
	Source      string         `json:"source"`
	Status      AlertStatus    `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Details     map[string]any `json:"details,omitempty"`
}

// Credentials holds per-channel delivery settings keyed by channel name,
// e.g. Notifications["webhook"]["alerts"] = "https://...".
type Credentials struct {
	Notifications map[string]map[string]any `json:"notifications"`
}

// NotificationRegistry manages notification senders and fans alerts out to
// the channels their rule names.
type NotificationRegistry struct {
	senders map[string]NotificationSender
	mu      sync.RWMutex
	logger  log.Logger
	timeout time.Duration
}

// NewNotificationRegistry creates a registry with the built-in senders
// registered: log, dashboard, webhook, slack, email and sms.
func NewNotificationRegistry(logger log.Logger, credentials *Credentials) *NotificationRegistry {
	registry := &NotificationRegistry{
		senders: make(map[string]NotificationSender),
		logger:  logger,
		timeout: 15 * time.Second,
	}
	client := &http.Client{Timeout: 10 * time.Second}
	registry.Register(&LogNotificationSender{logger: logger})
	registry.Register(NewDashboardFeed(200))
	registry.Register(&WebhookNotificationSender{client: client, credentials: credentials})
	registry.Register(&SlackNotificationSender{client: client, credentials: credentials})
	registry.Register(&EmailNotificationSender{logger: logger, credentials: credentials})
	registry.Register(&SMSNotificationSender{logger: logger, credentials: credentials})
	return registry
}

// Register adds or replaces a notification sender.
func (nr *NotificationRegistry) Register(sender NotificationSender) {
	nr.mu.Lock()
	defer nr.mu.Unlock()
	nr.senders[sender.Name()] = sender
}

// Get retrieves a notification sender by channel name.
func (nr *NotificationRegistry) Get(channel string) (NotificationSender, bool) {
	nr.mu.RLock()
	defer nr.mu.RUnlock()
	sender, exists := nr.senders[channel]
	return sender, exists
}

// Dashboard returns the built-in dashboard feed, or nil if the "dashboard"
// channel was replaced with a different sender.
func (nr *NotificationRegistry) Dashboard() *DashboardFeed {
	sender, exists := nr.Get("dashboard")
	if !exists {
		return nil
	}
	feed, ok := sender.(*DashboardFeed)
	if !ok {
		return nil
	}
	return feed
}

// Dispatch sends the alert to every channel its rule names. Delivery runs
// asynchronously so the lifecycle pipeline never blocks on a slow channel;
// failures are logged and dropped.
func (nr *NotificationRegistry) Dispatch(alert Alert) {
	for _, channel := range alert.NotificationChannels {
		sender, exists := nr.Get(channel)
		if !exists {
			nr.logger.Warn().Str("channel", channel).Str("alert_id", alert.ID).Msg("notification channel not registered")
			continue
		}
		payload := &NotificationPayload{
			Channel:     channel,
			AlertID:     alert.ID,
			ThreatID:    alert.ThreatID,
			Type:        alert.Type,
			Severity:    alert.Severity,
			Priority:    alert.Priority,
			Description: alert.Description,
			Source:      alert.Source,
			Status:      alert.Status,
			Timestamp:   alert.Timestamp,
			Details:     alert.Details,
		}
		go func(sender NotificationSender, payload *NotificationPayload) {
			ctx, cancel := context.WithTimeout(context.Background(), nr.timeout)
			defer cancel()
			if err := sender.Send(ctx, payload); err != nil {
				nr.logger.Error().Err(err).Str("channel", payload.Channel).Str("alert_id", payload.AlertID).Msg("failed to send notification")
			}
		}(sender, payload)
	}
}

// LogNotificationSender writes notifications to the structured log.
type LogNotificationSender struct {
	logger log.Logger
}

func (s *LogNotificationSender) Name() string { return "log" }

func (s *LogNotificationSender) Send(ctx context.Context, payload *NotificationPayload) error {
	s.logger.Info().
		Str("alert_id", payload.AlertID).
		Str("type", string(payload.Type)).
		Str("severity", string(payload.Severity)).
		Str("source", payload.Source).
		Str("description", payload.Description).
		Msg("security alert")
	return nil
}

// DashboardFeed keeps a bounded in-memory feed of recent notifications for
// the HTTP layer to serve to dashboard clients.
type DashboardFeed struct {
	mu      sync.Mutex
	entries []NotificationPayload
	cap     int
}

func NewDashboardFeed(capacity int) *DashboardFeed {
	if capacity <= 0 {
		capacity = 200
	}
	return &DashboardFeed{cap: capacity}
}

func (s *DashboardFeed) Name() string { return "dashboard" }

func (s *DashboardFeed) Send(ctx context.Context, payload *NotificationPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, *payload)
	if len(s.entries) > s.cap {
		s.entries = s.entries[len(s.entries)-s.cap:]
	}
	return nil
}

// Recent returns up to n recent notifications, newest last.
func (s *DashboardFeed) Recent(n int) []NotificationPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.entries
	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	out := make([]NotificationPayload, len(entries))
	copy(out, entries)
	return out
}

// WebhookNotificationSender posts the payload as JSON to a configured URL.
type WebhookNotificationSender struct {
	client      *http.Client
	credentials *Credentials
}

func (s *WebhookNotificationSender) Name() string { return "webhook" }

func (s *WebhookNotificationSender) Send(ctx context.Context, payload *NotificationPayload) error {
	url, err := channelSetting(s.credentials, "webhook", "url")
	if err != nil {
		return err
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "SecMon-Notification/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned non-2xx status code: %d", resp.StatusCode)
	}
	return nil
}

// SlackNotificationSender posts a block-formatted message to a Slack
// incoming webhook.
type SlackNotificationSender struct {
	client      *http.Client
	credentials *Credentials
}

func (s *SlackNotificationSender) Name() string { return "slack" }

func (s *SlackNotificationSender) Send(ctx context.Context, payload *NotificationPayload) error {
	url, err := channelSetting(s.credentials, "slack", "webhook_url")
	if err != nil {
		return err
	}
	slackPayload := map[string]any{
		"text": payload.Description,
		"blocks": []map[string]any{
			{
				"type": "header",
				"text": map[string]string{
					"type": "plain_text",
					"text": fmt.Sprintf("Security Alert: %s", payload.Type),
				},
			},
			{
				"type": "section",
				"text": map[string]string{
					"type": "mrkdwn",
					"text": payload.Description,
				},
			},
			{
				"type": "section",
				"fields": []map[string]string{
					{"type": "mrkdwn", "text": fmt.Sprintf("*Severity:*\n%s", payload.Severity)},
					{"type": "mrkdwn", "text": fmt.Sprintf("*Source:*\n%s", payload.Source)},
					{"type": "mrkdwn", "text": fmt.Sprintf("*Alert:*\n%s", payload.AlertID)},
					{"type": "mrkdwn", "text": fmt.Sprintf("*Time:*\n%s", payload.Timestamp.Format(time.RFC3339))},
				},
			},
		},
	}
	jsonData, err := json.Marshal(slackPayload)
	if err != nil {
		return fmt.Errorf("failed to marshal slack payload: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create slack request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send slack notification: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack returned non-2xx status code: %d", resp.StatusCode)
	}
	return nil
}

// EmailNotificationSender logs email deliveries; SMTP integration is left
// to deployments that need it.
type EmailNotificationSender struct {
	logger      log.Logger
	credentials *Credentials
}

func (s *EmailNotificationSender) Name() string { return "email" }

func (s *EmailNotificationSender) Send(ctx context.Context, payload *NotificationPayload) error {
	recipient, err := channelSetting(s.credentials, "email", "to")
	if err != nil {
		return err
	}
	s.logger.Info().
		Str("to", recipient).
		Str("alert_id", payload.AlertID).
		Str("subject", fmt.Sprintf("Security Alert: %s", payload.Type)).
		Msg("email notification")
	return nil
}

// SMSNotificationSender logs SMS deliveries; gateway integration is left to
// deployments that need it.
type SMSNotificationSender struct {
	logger      log.Logger
	credentials *Credentials
}

func (s *SMSNotificationSender) Name() string { return "sms" }

func (s *SMSNotificationSender) Send(ctx context.Context, payload *NotificationPayload) error {
	recipient, err := channelSetting(s.credentials, "sms", "to")
	if err != nil {
		return err
	}
	s.logger.Info().
		Str("to", recipient).
		Str("alert_id", payload.AlertID).
		Str("severity", string(payload.Severity)).
		Msg("sms notification")
	return nil
}

// LoadCredentials reads channel delivery settings from a JSON file. A
// missing path yields empty credentials, leaving remote channels disabled.
func LoadCredentials(path string) (*Credentials, error) {
	creds := &Credentials{}
	if path == "" {
		return creds, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return creds, nil
		}
		return nil, fmt.Errorf("failed to read credentials %s: %v", path, err)
	}
	if err := json.Unmarshal(data, creds); err != nil {
		return nil, fmt.Errorf("failed to parse credentials %s: %v", path, err)
	}
	return creds, nil
}

// channelSetting pulls one string setting for a channel out of the
// credentials, with explicit errors for each missing layer.
func channelSetting(credentials *Credentials, channel, key string) (string, error) {
	if credentials == nil || credentials.Notifications == nil {
		return "", fmt.Errorf("%s credentials not configured", channel)
	}
	settings, exists := credentials.Notifications[channel]
	if !exists {
		return "", fmt.Errorf("%s credentials not found", channel)
	}
	value, exists := settings[key]
	if !exists {
		return "", fmt.Errorf("%s setting %q not found", channel, key)
	}
	str, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("%s setting %q is not a string", channel, key)
	}
	return str, nil
}
