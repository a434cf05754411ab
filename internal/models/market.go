package models

import "time"

// MarketSnapshot is one 15-minute binary market at one point in time.
// PriceUp and PriceDown are outcome prices in [0,1]; their sum need not
// equal 1 — the deviation below 1 is the cross-price arbitrage signal.
type MarketSnapshot struct {
	MarketID      string    `json:"market_id"`
	Question      string    `json:"question"`
	Asset         string    `json:"asset"`
	UpTokenID     string    `json:"up_token_id"`
	DownTokenID   string    `json:"down_token_id"`
	PriceUp       float64   `json:"price_up"`
	PriceDown     float64   `json:"price_down"`
	LiquidityUp   float64   `json:"liquidity_up"`
	LiquidityDown float64   `json:"liquidity_down"`
	EndTime       time.Time `json:"end_time"`
	CapturedAt    time.Time `json:"captured_at"`
}

// PriceSum returns the combined outcome price.
func (s *MarketSnapshot) PriceSum() float64 {
	return s.PriceUp + s.PriceDown
}

// TimeToResolution returns the remaining trading window, never negative.
func (s *MarketSnapshot) TimeToResolution(now time.Time) time.Duration {
	d := s.EndTime.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// SidePrice returns the snapshot price for one side of the market.
// SideBoth reports the combined price.
func (s *MarketSnapshot) SidePrice(side Side) float64 {
	switch side {
	case SideUp:
		return s.PriceUp
	case SideDown:
		return s.PriceDown
	case SideBoth:
		return s.PriceSum()
	}
	return 0
}
