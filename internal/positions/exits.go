package positions

import (
	"fmt"
	"math"
	"time"

	"github.com/hetulpatel/updown/internal/models"
)

// ExitConfig holds the exit thresholds. Percentages are fractions of
// entry price, so 0.15 means 15%.
type ExitConfig struct {
	SoftMaxAge time.Duration
	HardMaxAge time.Duration

	BaseTakeProfitPct float64
	BaseStopLossPct   float64

	TimeFloorFactor   float64
	AgainstFeedFactor float64
	StreakStepFactor  float64

	TrailingActivationPct float64
	TrailingStopPct       float64
}

// ExitContext is everything outside the position itself that exit rules
// look at.
type ExitContext struct {
	Price     float64
	HavePrice bool
	FeedTrend float64
	Streak    int
	Now       time.Time
}

// ExitDecision says whether to close and at what price.
type ExitDecision struct {
	Exit   bool
	Reason models.ExitReason
	Price  float64
	Detail string
}

// EvaluateExit applies the exit rules in fixed precedence: emergency
// age, soft age, stop loss, take profit, trailing stop. The first rule
// that fires wins. The age-based rules fire even without a current
// price, falling back on a stale quote so a dead market feed cannot
// pin a position open past its age limits; the price-based rules need
// a live quote.
func EvaluateExit(p *models.Position, cfg ExitConfig, ec ExitContext) ExitDecision {
	age := p.Age(ec.Now)

	if cfg.HardMaxAge > 0 && age >= cfg.HardMaxAge {
		price := ec.Price
		if !ec.HavePrice {
			price = lastKnownPrice(p)
		}
		return ExitDecision{
			Exit:   true,
			Reason: models.ExitEmergency,
			Price:  price,
			Detail: fmt.Sprintf("age %s past hard limit %s", age.Round(time.Second), cfg.HardMaxAge),
		}
	}

	if cfg.SoftMaxAge > 0 && age >= cfg.SoftMaxAge {
		// Without a live quote the entry price stands in, booking the
		// exit flat rather than holding until the emergency limit.
		price := ec.Price
		if !ec.HavePrice {
			price = p.EntryPrice
		}
		return ExitDecision{
			Exit:   true,
			Reason: models.ExitTime,
			Price:  price,
			Detail: fmt.Sprintf("age %s past soft limit %s", age.Round(time.Second), cfg.SoftMaxAge),
		}
	}

	if !ec.HavePrice {
		return ExitDecision{}
	}

	tp, sl := Thresholds(p, cfg, ec)
	pnl := p.PnLPct(ec.Price)

	if pnl <= -sl {
		return ExitDecision{
			Exit:   true,
			Reason: models.ExitStopLoss,
			Price:  ec.Price,
			Detail: fmt.Sprintf("pnl %.1f%% through stop %.1f%%", pnl*100, -sl*100),
		}
	}
	if pnl >= tp {
		return ExitDecision{
			Exit:   true,
			Reason: models.ExitTakeProfit,
			Price:  ec.Price,
			Detail: fmt.Sprintf("pnl %.1f%% past target %.1f%%", pnl*100, tp*100),
		}
	}

	peak := p.PeakPnLPct()
	if cfg.TrailingActivationPct > 0 && peak >= cfg.TrailingActivationPct && peak-pnl >= cfg.TrailingStopPct {
		return ExitDecision{
			Exit:   true,
			Reason: models.ExitTrailingStop,
			Price:  ec.Price,
			Detail: fmt.Sprintf("gave back %.1f%% from peak %.1f%%", (peak-pnl)*100, peak*100),
		}
	}

	return ExitDecision{}
}

// Thresholds derives the live take-profit and stop-loss fractions from
// the base values through an ordered pipeline of multiplicative
// adjustments: time decay first, then the against-feed tighten, then
// the losing-streak tighten. The order is part of the contract; the
// same inputs always produce the same thresholds.
func Thresholds(p *models.Position, cfg ExitConfig, ec ExitContext) (tp, sl float64) {
	tp, sl = cfg.BaseTakeProfitPct, cfg.BaseStopLossPct

	if cfg.SoftMaxAge > 0 {
		frac := 1 - float64(p.Age(ec.Now))/float64(cfg.SoftMaxAge)
		if frac < 0 {
			frac = 0
		}
		if frac > 1 {
			frac = 1
		}
		factor := cfg.TimeFloorFactor + (1-cfg.TimeFloorFactor)*frac
		tp *= factor
		sl *= factor
	}

	if cfg.AgainstFeedFactor > 0 && trendOpposes(p.Side, ec.FeedTrend) {
		tp *= cfg.AgainstFeedFactor
		sl *= cfg.AgainstFeedFactor
	}

	if cfg.StreakStepFactor > 0 && cfg.StreakStepFactor != 1 && ec.Streak < 0 {
		factor := math.Pow(cfg.StreakStepFactor, float64(-ec.Streak))
		tp *= factor
		sl *= factor
	}

	return tp, sl
}

func trendOpposes(side models.Side, trend float64) bool {
	switch side {
	case models.SideUp:
		return trend < 0
	case models.SideDown:
		return trend > 0
	}
	return false
}

func lastKnownPrice(p *models.Position) float64 {
	if p.PeakPrice > 0 {
		return p.PeakPrice
	}
	return p.EntryPrice
}
