// Package events publishes position lifecycle records to Kafka so
// downstream analysis can replay exactly what the engine did. Publish
// failures are logged and swallowed: trading never blocks on the bus.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/hetulpatel/updown/internal/logging"
	"github.com/hetulpatel/updown/internal/models"
)

const (
	TypeOpened = "position_opened"
	TypeClosed = "position_closed"
)

// TradeEvent is the wire record for one lifecycle transition.
type TradeEvent struct {
	Type       string          `json:"type"`
	Position   models.Position `json:"position"`
	PnLUSD     float64         `json:"pnl_usd,omitempty"`
	Reasoning  string          `json:"reasoning,omitempty"`
	Consensus  float64         `json:"consensus,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Publisher wraps a kafka writer. A nil Publisher is valid and drops
// everything, which is how dry runs without a broker operate.
type Publisher struct {
	writer *kafka.Writer
}

func NewPublisher(writer *kafka.Writer) *Publisher {
	if writer == nil {
		return nil
	}
	return &Publisher{writer: writer}
}

func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// Opened reports a confirmed entry fill with the decision that drove it.
func (p *Publisher) Opened(ctx context.Context, pos models.Position, decision models.EnsembleDecision) {
	p.publish(ctx, TradeEvent{
		Type:       TypeOpened,
		Position:   pos,
		Reasoning:  decision.Reasoning,
		Consensus:  decision.Consensus,
		OccurredAt: time.Now().UTC(),
	})
}

// Closed reports a confirmed exit fill with realized profit.
func (p *Publisher) Closed(ctx context.Context, pos models.Position, pnlUSD float64) {
	p.publish(ctx, TradeEvent{
		Type:       TypeClosed,
		Position:   pos,
		PnLUSD:     pnlUSD,
		OccurredAt: time.Now().UTC(),
	})
}

func (p *Publisher) publish(ctx context.Context, ev TradeEvent) {
	if p == nil || p.writer == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		logging.Warnf("[events] marshal %s for %s: %v", ev.Type, ev.Position.ID, err)
		return
	}
	key := fmt.Sprintf("%s-%d", ev.Position.ID, ev.OccurredAt.UnixNano())
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: payload}); err != nil {
		logging.Warnf("[events] publish %s for %s: %v", ev.Type, ev.Position.ID, err)
	}
}
