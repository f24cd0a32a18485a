// Package events publishes routing turn events to NATS for downstream
// consumers (analytics, audit). Publishing is fire-and-forget; a broker
// outage never affects message processing.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/finanzas-ai/coordinator/internal/model"
	"github.com/finanzas-ai/coordinator/pkg/logger"
)

// Config holds NATS connection configuration.
type Config struct {
	URL   string
	Token string
}

// TurnEvent describes one processed message turn.
type TurnEvent struct {
	UserID         string    `json:"user_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Handler        string    `json:"handler"`
	Method         string    `json:"method"`
	Confidence     float64   `json:"confidence"`
	Handoffs       int       `json:"handoffs"`
	Success        bool      `json:"success"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Publisher publishes turn events. A nil Publisher is valid and drops
// everything, so callers never need to branch on whether NATS is enabled.
type Publisher struct {
	conn *nats.Conn
	log  *logger.Logger
}

// Connect establishes a NATS connection for publishing.
func Connect(cfg Config, log *logger.Logger) (*Publisher, error) {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info("NATS reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return &Publisher{conn: nc, log: log}, nil
}

// PublishTurn publishes a turn event on routing.turn.<user-id>.
func (p *Publisher) PublishTurn(ev TurnEvent) {
	if p == nil || p.conn == nil {
		return
	}

	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		p.log.Warn("marshal turn event", zap.Error(err))
		return
	}

	subject := "routing.turn." + ev.UserID
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Warn("publish turn event", zap.String("subject", subject), zap.Error(err))
	}
}

// Decision fills routing fields from a decision.
func (ev *TurnEvent) Decision(d model.RoutingDecision) {
	ev.Handler = string(d.Handler)
	ev.Method = string(d.Method)
	ev.Confidence = d.Confidence
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	p.conn.Close()
}

// IsConnected reports whether the publisher has a live connection.
func (p *Publisher) IsConnected() bool {
	return p != nil && p.conn != nil && p.conn.IsConnected()
}
