// Package risk gates every approved decision behind capital controls:
// a consecutive-loss circuit breaker, a daily loss cap, an exposure
// ceiling, and Kelly-derived position sizing.
package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/hetulpatel/updown/internal/models"
)

type Config struct {
	CapitalUSD            float64
	MaxConsecutiveLosses  int
	DailyLossFraction     float64
	BaseExposureFraction  float64
	SmallAccountThreshold float64
	KellyFraction         float64
	MaxKellyFraction      float64
	ArbWinProbability     float64
	MinOrderSize          float64
	MaxOrderSize          float64
	MinEdge               float64
}

// Rejection reasons are stable strings so tests and log filters can
// match on them.
const (
	ReasonCircuitBreaker = "circuit-breaker"
	ReasonDailyLoss      = "daily-loss"
	ReasonExposureLimit  = "exposure-limit"
	ReasonSizeTooSmall   = "size-too-small"
	ReasonEdgeTooLow     = "edge-too-low"
)

type Verdict struct {
	Approved bool
	Size     float64
	Reason   string
	Detail   string
}

const epsilon = 1e-9

// Manager holds the mutable risk state. Callers serialize access
// through the engine tick lock; the internal mutex additionally covers
// snapshotting for persistence.
type Manager struct {
	cfg Config

	mu    sync.Mutex
	state models.RiskState
}

func NewManager(cfg Config, state models.RiskState) *Manager {
	if state.DayStart.IsZero() {
		state.DayStart = utcMidnight(time.Now())
	}
	return &Manager{cfg: cfg, state: state}
}

// Evaluate runs the checks in fixed order and, when approved, reserves
// the returned size against committed capital. The caller must Release
// the reservation if the order is never filled.
func (m *Manager) Evaluate(intent models.TradeIntent, side models.Side, edge float64, now time.Time) Verdict {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked(now)

	if m.cfg.MaxConsecutiveLosses > 0 && m.state.ConsecutiveLosses >= m.cfg.MaxConsecutiveLosses {
		return Verdict{
			Reason: ReasonCircuitBreaker,
			Detail: fmt.Sprintf("%d consecutive losses", m.state.ConsecutiveLosses),
		}
	}

	dailyLimit := m.cfg.DailyLossFraction * m.cfg.CapitalUSD
	if dailyLimit > 0 && m.state.RealizedLossToday >= dailyLimit-epsilon {
		return Verdict{
			Reason: ReasonDailyLoss,
			Detail: fmt.Sprintf("lost %.2f of %.2f allowed today", m.state.RealizedLossToday, dailyLimit),
		}
	}

	if edge < m.cfg.MinEdge-epsilon {
		return Verdict{
			Reason: ReasonEdgeTooLow,
			Detail: fmt.Sprintf("edge %.4f below minimum %.4f", edge, m.cfg.MinEdge),
		}
	}

	available := m.exposureFraction()*m.cfg.CapitalUSD - m.state.CommittedCapital
	if available < m.cfg.MinOrderSize-epsilon {
		return Verdict{
			Reason: ReasonExposureLimit,
			Detail: fmt.Sprintf("%.2f committed, %.2f available", m.state.CommittedCapital, available),
		}
	}

	size := m.kellySize(intent, side, edge)
	if size > available {
		size = available
	}
	if size > m.cfg.MaxOrderSize {
		size = m.cfg.MaxOrderSize
	}
	if size < m.cfg.MinOrderSize-epsilon {
		return Verdict{
			Reason: ReasonSizeTooSmall,
			Detail: fmt.Sprintf("sized %.2f, minimum order %.2f", size, m.cfg.MinOrderSize),
		}
	}

	m.state.CommittedCapital += size
	return Verdict{Approved: true, Size: size}
}

// exposureFraction grows the deployable share as the account shrinks so
// small accounts can still clear the minimum order. Monotone in
// capital: never below the base fraction, never above 1.
func (m *Manager) exposureFraction() float64 {
	base := m.cfg.BaseExposureFraction
	if m.cfg.SmallAccountThreshold <= 0 || m.cfg.CapitalUSD >= m.cfg.SmallAccountThreshold {
		return base
	}
	frac := base + (1-base)*(1-m.cfg.CapitalUSD/m.cfg.SmallAccountThreshold)
	if frac > 1 {
		frac = 1
	}
	return frac
}

// kellySize applies fractional Kelly. For arbitrage the win probability
// is the configured near-certainty and the payout ratio comes from the
// locked edge; for directional trades the payout comes from the entry
// price and the probability is a win-rate-tilted coin flip.
func (m *Manager) kellySize(intent models.TradeIntent, side models.Side, edge float64) float64 {
	var p, b float64
	if intent.Strategy == models.StrategyArbitrage {
		p = m.cfg.ArbWinProbability
		if edge >= 1 {
			edge = 1 - epsilon
		}
		b = edge / (1 - edge)
	} else {
		entry := 0.5
		if intent.Snapshot != nil {
			if price := intent.Snapshot.SidePrice(side); price > epsilon {
				entry = price
			}
		}
		if entry >= 1 {
			entry = 1 - epsilon
		}
		b = (1 - entry) / entry
		tilt := (m.state.WinRate() - 0.5) / 2
		p = 0.5 + edge + tilt
	}
	if p > 1 {
		p = 1
	}
	if p < 0 {
		p = 0
	}
	if b <= epsilon {
		return 0
	}

	f := (b*p - (1 - p)) / b
	if f <= 0 {
		return 0
	}
	if f > m.cfg.MaxKellyFraction {
		f = m.cfg.MaxKellyFraction
	}
	return f * m.cfg.KellyFraction * m.cfg.CapitalUSD
}

// Release returns reserved capital after a failed or skipped order.
func (m *Manager) Release(size float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.CommittedCapital -= size
	if m.state.CommittedCapital < 0 {
		m.state.CommittedCapital = 0
	}
}

// RecordOutcome settles a closed position: frees its committed capital
// and updates streaks and the daily loss tally.
func (m *Manager) RecordOutcome(pnl, size float64, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked(now)

	m.state.CommittedCapital -= size
	if m.state.CommittedCapital < 0 {
		m.state.CommittedCapital = 0
	}

	if pnl >= 0 {
		m.state.Wins++
		m.state.ConsecutiveWins++
		m.state.ConsecutiveLosses = 0
	} else {
		m.state.Losses++
		m.state.ConsecutiveLosses++
		m.state.ConsecutiveWins = 0
		m.state.RealizedLossToday += -pnl
	}
}

// State returns a copy for persistence.
func (m *Manager) State() models.RiskState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) SetState(state models.RiskState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state.DayStart.IsZero() {
		state.DayStart = utcMidnight(time.Now())
	}
	m.state = state
}

// WinRate exposes the current realized win rate for sizing and scoring.
func (m *Manager) WinRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.WinRate()
}

// rolloverLocked resets the daily loss tally at UTC midnight.
func (m *Manager) rolloverLocked(now time.Time) {
	midnight := utcMidnight(now)
	if midnight.After(m.state.DayStart) {
		m.state.DayStart = midnight
		m.state.RealizedLossToday = 0
	}
}

func utcMidnight(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
