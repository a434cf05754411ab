package models

import (
	"fmt"
	"time"
)

// PositionStatus is the lifecycle state of a position. Transitions only
// move forward: open -> closing -> closed.
type PositionStatus string

const (
	StatusOpen    PositionStatus = "open"
	StatusClosing PositionStatus = "closing"
	StatusClosed  PositionStatus = "closed"
)

// ExitReason records why a position was closed. Exactly one terminal
// reason is set when the close fill is confirmed.
type ExitReason string

const (
	ExitEmergency    ExitReason = "emergency"
	ExitTime         ExitReason = "time"
	ExitStopLoss     ExitReason = "stop_loss"
	ExitTakeProfit   ExitReason = "take_profit"
	ExitTrailingStop ExitReason = "trailing_stop"
)

// Position is the only durable entity: capital at risk in one market.
// It is mutated only by the position manager.
type Position struct {
	ID         string         `json:"id"`
	MarketID   string         `json:"market_id"`
	Asset      string         `json:"asset"`
	TokenID    string         `json:"token_id"`
	Side       Side           `json:"side"`
	Strategy   Strategy       `json:"strategy"`
	EntryPrice float64        `json:"entry_price"`
	Size       float64        `json:"size"`
	EntryTime  time.Time      `json:"entry_time"`
	PeakPrice  float64        `json:"peak_price"`
	Status     PositionStatus `json:"status"`
	ExitReason ExitReason     `json:"exit_reason,omitempty"`
	ExitPrice  float64        `json:"exit_price,omitempty"`
	ClosedAt   time.Time      `json:"closed_at,omitempty"`
}

// Age is the time the position has been open. The entry time is never
// rewritten, so repeated failed close attempts cannot reset the clock.
func (p *Position) Age(now time.Time) time.Duration {
	return now.Sub(p.EntryTime)
}

// UpdatePeak raises the running peak price. The peak is monotonically
// non-decreasing while the position is open.
func (p *Position) UpdatePeak(price float64) {
	if price > p.PeakPrice {
		p.PeakPrice = price
	}
}

// PnLPct returns the unrealized profit fraction at the given price.
func (p *Position) PnLPct(price float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return (price - p.EntryPrice) / p.EntryPrice
}

// PeakPnLPct returns the best unrealized profit fraction seen so far.
func (p *Position) PeakPnLPct() float64 {
	return p.PnLPct(p.PeakPrice)
}

// Cost is the capital committed to the position.
func (p *Position) Cost() float64 {
	return p.EntryPrice * p.Size
}

// Validate rejects positions that violate structural invariants. A
// corrupt record is fatal to that position only, never to the scan loop.
func (p *Position) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("position has no id")
	}
	if p.MarketID == "" {
		return fmt.Errorf("position %s has no market id", p.ID)
	}
	if p.Size <= 0 {
		return fmt.Errorf("position %s has non-positive size %.4f", p.ID, p.Size)
	}
	if p.EntryPrice <= 0 {
		return fmt.Errorf("position %s has no entry price", p.ID)
	}
	if p.EntryTime.IsZero() {
		return fmt.Errorf("position %s has no entry time", p.ID)
	}
	return nil
}
