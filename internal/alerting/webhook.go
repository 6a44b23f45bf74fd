// Package alerting forwards high-impact risk alerts to an operator-owned
// webhook endpoint (a notification relay, chat bridge, or pager). Transport
// is fire-and-forget with bounded retries; delivery failures never block the
// risk path that raised the alert.
package alerting

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/atlas-ea/bridge/internal/events"
	"github.com/atlas-ea/bridge/pkg/types"
)

// WebhookForwarder posts CRITICAL risk alerts to a configured URL.
type WebhookForwarder struct {
	url    string
	client *retryablehttp.Client
	logger *zap.Logger
}

// NewWebhookForwarder builds a forwarder for url. The retry client handles
// transient endpoint failures with capped exponential backoff.
func NewWebhookForwarder(url string, logger *zap.Logger) *WebhookForwarder {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.HTTPClient.Timeout = 5 * time.Second
	client.Logger = nil

	return &WebhookForwarder{
		url:    url,
		client: client,
		logger: logger.Named("alerting.webhook"),
	}
}

type webhookPayload struct {
	AccountID string `json:"account_id"`
	AlertType string `json:"alert_type"`
	Impact    string `json:"impact"`
	Message   string `json:"message"`
	At        string `json:"at"`
}

// Subscribe attaches the forwarder to the bus's risk-alert stream. Only
// CRITICAL alerts are forwarded; lower-impact alerts stay in the decision
// log and dashboard feed.
func (f *WebhookForwarder) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventTypeRiskAlert, func(e events.Event) error {
		alert, ok := e.(*events.RiskAlertEvent)
		if !ok || alert.Impact != types.ImpactCritical {
			return nil
		}
		f.send(alert)
		return nil
	}, events.SubscriptionOptions{Async: true})
}

func (f *WebhookForwarder) send(alert *events.RiskAlertEvent) {
	body, err := json.Marshal(webhookPayload{
		AccountID: alert.AccountID,
		AlertType: alert.AlertType,
		Impact:    string(alert.Impact),
		Message:   alert.Message,
		At:        alert.GetTimestamp().UTC().Format(time.RFC3339),
	})
	if err != nil {
		f.logger.Warn("alert payload marshal failed", zap.Error(err))
		return
	}

	req, err := retryablehttp.NewRequest("POST", f.url, bytes.NewReader(body))
	if err != nil {
		f.logger.Warn("alert request build failed", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Warn("alert delivery failed", zap.String("alert_type", alert.AlertType), zap.Error(err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		f.logger.Warn("alert endpoint rejected delivery",
			zap.String("alert_type", alert.AlertType),
			zap.String("status", fmt.Sprintf("%d", resp.StatusCode)))
	}
}
