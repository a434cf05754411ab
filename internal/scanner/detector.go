// Package scanner evaluates market snapshots against the three
// opportunity classes and emits candidate trade intents. Detection is a
// pure function of its inputs; no side effects.
package scanner

import (
	"math"
	"time"

	"github.com/hetulpatel/updown/internal/feed"
	"github.com/hetulpatel/updown/internal/models"
)

const epsilon = 1e-9

// Config holds the detection thresholds.
type Config struct {
	FeeMargin           float64
	MinEdge             float64
	FeedMoveThreshold   float64
	FeedWindow          int
	FeedLagMaxLean      float64
	MinTimeToResolution time.Duration
}

// Detect returns the intents a snapshot supports, possibly none. The
// feed history may be nil when the asset does not trade on the
// reference feed; feed-lag detection is skipped in that case.
func Detect(snap *models.MarketSnapshot, hist *feed.History, cfg Config, now time.Time) []models.TradeIntent {
	if snap == nil {
		return nil
	}

	var intents []models.TradeIntent

	if intent, ok := crossPrice(snap, cfg); ok {
		intents = append(intents, intent)
	}
	if intent, ok := feedLag(snap, hist, cfg); ok {
		intents = append(intents, intent)
	}

	// Trading too close to resolution is rejected outright: there is no
	// time left to exit before the market settles.
	if snap.TimeToResolution(now) > cfg.MinTimeToResolution {
		intents = append(intents, models.TradeIntent{
			MarketID: snap.MarketID,
			Asset:    snap.Asset,
			Strategy: models.StrategyDirectional,
			Snapshot: snap,
		})
	}

	return intents
}

// crossPrice checks sum-to-one arbitrage: buying both outcomes below the
// guaranteed $1 payout, net of fees. The boundary case (sum exactly at
// the threshold) never emits.
func crossPrice(snap *models.MarketSnapshot, cfg Config) (models.TradeIntent, bool) {
	sum := snap.PriceSum()
	if sum <= epsilon {
		// Empty book, not free money.
		return models.TradeIntent{}, false
	}
	if sum >= 1-cfg.FeeMargin-cfg.MinEdge {
		return models.TradeIntent{}, false
	}
	edge := 1 - sum - cfg.FeeMargin
	if edge <= 0 {
		// Never place a guaranteed-loss trade.
		return models.TradeIntent{}, false
	}
	return models.TradeIntent{
		MarketID: snap.MarketID,
		Asset:    snap.Asset,
		Side:     models.SideBoth,
		Strategy: models.StrategyArbitrage,
		Edge:     edge,
		Snapshot: snap,
	}, true
}

// feedLag fires when the reference feed moved past the threshold inside
// the rolling window while the market is still priced near even money,
// i.e. the market has not caught up with the spot move yet.
func feedLag(snap *models.MarketSnapshot, hist *feed.History, cfg Config) (models.TradeIntent, bool) {
	if hist == nil {
		return models.TradeIntent{}, false
	}
	change, ok := hist.Change(cfg.FeedWindow)
	if !ok || math.Abs(change) < cfg.FeedMoveThreshold {
		return models.TradeIntent{}, false
	}

	side := models.SideUp
	lean := snap.PriceUp - 0.5
	if change < 0 {
		side = models.SideDown
		lean = snap.PriceDown - 0.5
	}
	if lean > cfg.FeedLagMaxLean {
		// The market already moved with the feed; no lag left to trade.
		return models.TradeIntent{}, false
	}

	return models.TradeIntent{
		MarketID: snap.MarketID,
		Asset:    snap.Asset,
		Side:     side,
		Strategy: models.StrategyFeedLag,
		Edge:     math.Abs(change),
		Snapshot: snap,
	}, true
}
