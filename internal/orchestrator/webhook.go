package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/shaiso/Tribunal/internal/domain"
)

// Параметры доставки webhook-уведомлений.
const (
	webhookTimeout     = 10 * time.Second
	webhookMaxAttempts = 3
	webhookBaseDelay   = 2 * time.Second
)

// Notifier доставляет webhook-уведомления о завершении кейсов.
//
// Доставка best-effort: ограниченное число попыток с exponential
// backoff, неудача логируется и не влияет на судьбу кейса.
type Notifier struct {
	client *http.Client
	logger *slog.Logger
}

// NewNotifier создаёт новый Notifier.
func NewNotifier(logger *slog.Logger) *Notifier {
	return &Notifier{
		client: &http.Client{Timeout: webhookTimeout},
		logger: logger.With("component", "notifier"),
	}
}

// webhookEvent — тело webhook-уведомления.
type webhookEvent struct {
	CaseID        string     `json:"case_id"`
	Type          string     `json:"type"`
	State         string     `json:"state"`
	CorrelationID string     `json:"correlation_id,omitempty"`
	Error         string     `json:"error,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// NotifyAsync отправляет уведомление в фоне. Пустой URL — no-op.
func (n *Notifier) NotifyAsync(url string, c *domain.Case) {
	if url == "" {
		return
	}
	go n.notify(url, c)
}

func (n *Notifier) notify(url string, c *domain.Case) {
	event := webhookEvent{
		CaseID:        c.ID.String(),
		Type:          string(c.Type),
		State:         string(c.State),
		CorrelationID: c.CorrelationID,
		Error:         c.Error,
		FinishedAt:    c.FinishedAt,
	}

	body, err := json.Marshal(event)
	if err != nil {
		n.logger.Error("failed to marshal webhook event", "case_id", c.ID, "error", err)
		return
	}

	var lastErr error
	for attempt := 1; attempt <= webhookMaxAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(webhookBaseDelay * time.Duration(1<<(attempt-2)))
		}

		if lastErr = n.send(url, body); lastErr == nil {
			n.logger.Info("webhook delivered",
				"case_id", c.ID,
				"url", url,
				"attempt", attempt,
			)
			return
		}
	}

	n.logger.Warn("webhook delivery failed",
		"case_id", c.ID,
		"url", url,
		"attempts", webhookMaxAttempts,
		"error", lastErr,
	)
}

func (n *Notifier) send(url string, body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
