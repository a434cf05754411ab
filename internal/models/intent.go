package models

// Side identifies which outcome of a binary market an action targets.
type Side string

const (
	SideUp   Side = "up"
	SideDown Side = "down"
	SideBoth Side = "both"
)

// Strategy tags the opportunity class an intent was derived from.
type Strategy string

const (
	StrategyArbitrage   Strategy = "arbitrage"
	StrategyFeedLag     Strategy = "feed_lag"
	StrategyDirectional Strategy = "directional"
)

// TradeIntent is a candidate action emitted by the opportunity detector.
// It lives for a single scan cycle. Edge is the estimated profit fraction;
// directional intents carry no side and an unset edge until the ensemble
// engine decides.
type TradeIntent struct {
	MarketID string          `json:"market_id"`
	Asset    string          `json:"asset"`
	Side     Side            `json:"side,omitempty"`
	Strategy Strategy        `json:"strategy"`
	Edge     float64         `json:"edge"`
	Snapshot *MarketSnapshot `json:"-"`
}
