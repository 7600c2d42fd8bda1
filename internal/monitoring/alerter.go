// Package monitoring turns evaluation runs into webhook alerts: high failure
// rates, newly recorded breaches and damages above a threshold.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/contract-compliance/internal/config"
	"github.com/sells-group/contract-compliance/internal/engine"
	"github.com/sells-group/contract-compliance/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertFailureRate    AlertType = "evaluation_failure_rate"
	AlertBreachRecorded AlertType = "breach_recorded"
	AlertDamagesOverrun AlertType = "damages_overrun"
)

// minItemsForRate keeps tiny runs from tripping the failure-rate alert.
const minItemsForRate = 5

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a RunSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	retry  resilience.RetryConfig
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("monitoring", "webhook")
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		retry:  retry,
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *RunSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	// Check failure rate.
	if snap.Items >= minItemsForRate && snap.FailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Evaluation failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d items in run %s)",
				snap.FailRate*100, a.cfg.FailureRateThreshold*100, snap.Failed, snap.Items, snap.RunID,
			),
			Details: map[string]any{
				"failure_rate": snap.FailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.Failed,
				"transient":    snap.Transient,
				"items":        snap.Items,
			},
			Timestamp: now,
		})
	}

	// Report new breaches.
	if a.cfg.NotifyBreaches && len(snap.NewBreaches) > 0 {
		ids := make([]string, 0, len(snap.NewBreaches))
		for _, b := range snap.NewBreaches {
			ids = append(ids, b.ObligationID+"@"+b.PeriodKey)
		}
		alerts = append(alerts, Alert{
			Type:     AlertBreachRecorded,
			Severity: "medium",
			Message:  fmt.Sprintf("%d breach(es) recorded in run %s: %s", len(ids), snap.RunID, strings.Join(ids, ", ")),
			Details: map[string]any{
				"breaches": snap.NewBreaches,
			},
			Timestamp: now,
		})
	}

	// Check damages per currency.
	if a.cfg.DamagesThreshold > 0 {
		limit := decimal.NewFromFloat(a.cfg.DamagesThreshold)
		currencies := make([]string, 0, len(snap.Damages))
		for c := range snap.Damages {
			currencies = append(currencies, c)
		}
		sort.Strings(currencies)
		for _, c := range currencies {
			total := snap.Damages[c]
			if !total.GreaterThan(limit) {
				continue
			}
			alerts = append(alerts, Alert{
				Type:     AlertDamagesOverrun,
				Severity: "high",
				Message: fmt.Sprintf(
					"Liquidated damages %s %s exceed threshold %s in run %s",
					total.StringFixed(2), c, limit.StringFixed(2), snap.RunID,
				),
				Details: map[string]any{
					"currency":  c,
					"total":     total.String(),
					"threshold": limit.String(),
				},
				Timestamp: now,
			})
		}
	}

	return alerts
}

// Notify summarizes rep, evaluates it and sends any alerts. It returns the
// number of alerts sent.
func (a *Alerter) Notify(ctx context.Context, rep *engine.Report) int {
	if rep == nil {
		return 0
	}
	return a.SendAlerts(ctx, a.Evaluate(Summarize(rep)))
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		err := resilience.Do(ctx, a.retry, func(ctx context.Context) error {
			return a.sendWebhook(ctx, alert)
		})
		if err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL. 5xx responses are
// transient.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 500 {
		return resilience.Transient("webhook", eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
