package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// Event subjects
const (
	SubjectSyncStarted      = "refund-insights.sync.started"
	SubjectSyncCompleted    = "refund-insights.sync.completed"
	SubjectSyncFailed       = "refund-insights.sync.failed"
	SubjectWebhookProcessed = "refund-insights.webhook.processed"
)

// Publisher publishes service events to NATS. A nil connection degrades to
// no-ops so the service runs without a broker.
type Publisher struct {
	conn   *nats.Conn
	logger *logrus.Entry
}

// NewPublisher connects to NATS at the given URL. An empty URL returns a
// disabled publisher rather than an error.
func NewPublisher(natsURL string, logger *logrus.Logger) (*Publisher, error) {
	entry := logger.WithField("component", "events")
	if natsURL == "" {
		entry.Info("NATS not configured, event publishing disabled")
		return &Publisher{logger: entry}, nil
	}

	conn, err := nats.Connect(natsURL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}

	entry.WithField("url", natsURL).Info("Connected to NATS")
	return &Publisher{conn: conn, logger: entry}, nil
}

// Close drains the NATS connection
func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}

func (p *Publisher) publish(subject string, payload map[string]interface{}) {
	if p.conn == nil {
		return
	}
	payload["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	data, err := json.Marshal(payload)
	if err != nil {
		p.logger.WithError(err).Error("Failed to marshal event payload")
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.WithError(err).WithField("subject", subject).Warn("Failed to publish event")
	}
}

// SyncStarted announces a new sync run
func (p *Publisher) SyncStarted(shop string, runID uuid.UUID, triggeredBy string) {
	p.publish(SubjectSyncStarted, map[string]interface{}{
		"shop":        shop,
		"runId":       runID.String(),
		"triggeredBy": triggeredBy,
	})
}

// SyncCompleted announces a finished sync run with its final counters
func (p *Publisher) SyncCompleted(shop string, runID uuid.UUID, total, processed, failed, skipped int) {
	p.publish(SubjectSyncCompleted, map[string]interface{}{
		"shop":      shop,
		"runId":     runID.String(),
		"total":     total,
		"processed": processed,
		"failed":    failed,
		"skipped":   skipped,
	})
}

// SyncFailed announces a failed sync run
func (p *Publisher) SyncFailed(shop string, runID uuid.UUID, reason string) {
	p.publish(SubjectSyncFailed, map[string]interface{}{
		"shop":   shop,
		"runId":  runID.String(),
		"reason": reason,
	})
}

// WebhookProcessed announces a successfully handled webhook delivery
func (p *Publisher) WebhookProcessed(shop, topic string) {
	p.publish(SubjectWebhookProcessed, map[string]interface{}{
		"shop":  shop,
		"topic": topic,
	})
}
