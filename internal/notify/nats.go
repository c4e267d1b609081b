// Package notify publishes document lifecycle events to downstream
// collaborators (push delivery, dashboards). Delivery mechanics live on
// the other side of the subject; the core only emits.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Event kinds.
const (
	EventDocumentCreated    = "document.created"
	EventDocumentClassified = "document.classified"
	EventDocumentFailed     = "document.failed"
)

// Event is the wire payload for one document lifecycle notification.
type Event struct {
	Kind       string  `json:"kind"`
	DocumentID string  `json:"document_id"`
	EntityName string  `json:"entity_name,omitempty"`
	Method     string  `json:"method,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	UploadedBy string  `json:"uploaded_by,omitempty"`
	Reason     string  `json:"reason,omitempty"`
}

// Publisher is the sink the orchestrator talks to. A nil *NATSPublisher is
// a valid no-op sink, so wiring stays unconditional.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type NATSPublisher struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

type Options struct {
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
	MaxReconnects  int
}

func NewNATSPublisher(url, subject string, opts Options, logger *slog.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 2 * time.Second
	}
	if opts.ReconnectWait <= 0 {
		opts.ReconnectWait = 2 * time.Second
	}
	if opts.MaxReconnects <= 0 {
		opts.MaxReconnects = 60
	}

	conn, err := nats.Connect(
		url,
		nats.Name("docsorter"),
		nats.Timeout(opts.ConnectTimeout),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSPublisher{conn: conn, subject: subject, logger: logger}, nil
}

func (p *NATSPublisher) Publish(_ context.Context, ev Event) error {
	if p == nil {
		return nil
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.conn.Publish(p.subject, b); err != nil {
		p.logger.Error("notify.publish_failed", "kind", ev.Kind, "document_id", ev.DocumentID, "error", err)
		return fmt.Errorf("nats publish: %w", err)
	}
	p.logger.Debug("notify.published", "kind", ev.Kind, "document_id", ev.DocumentID)
	return nil
}

func (p *NATSPublisher) Close() {
	if p != nil && p.conn != nil {
		p.conn.Close()
	}
}
