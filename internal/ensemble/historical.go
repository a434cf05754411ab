package ensemble

import (
	"context"
	"fmt"

	"github.com/hetulpatel/updown/internal/models"
)

// StatsSource exposes realized trade outcomes. The sqlite store
// satisfies it.
type StatsSource interface {
	TradeStats(ctx context.Context, strategy models.Strategy, asset string) (wins, total int, err error)
}

// HistoricalConfig tunes the track-record scorer.
type HistoricalConfig struct {
	Weight      float64
	MinTrades   int
	MinWinRate  float64
	TrendWindow int
}

// HistoricalScorer weighs an intent by how this strategy has actually
// performed on this asset. A strategy that keeps losing gets vetoed
// regardless of what the other scorers think of the setup.
type HistoricalScorer struct {
	stats StatsSource
	cfg   HistoricalConfig
}

func NewHistoricalScorer(stats StatsSource, cfg HistoricalConfig) *HistoricalScorer {
	if cfg.MinTrades <= 0 {
		cfg.MinTrades = 5
	}
	if cfg.MinWinRate <= 0 {
		cfg.MinWinRate = 0.4
	}
	if cfg.TrendWindow <= 0 {
		cfg.TrendWindow = 30
	}
	return &HistoricalScorer{stats: stats, cfg: cfg}
}

func (s *HistoricalScorer) Name() string    { return "historical" }
func (s *HistoricalScorer) Weight() float64 { return s.cfg.Weight }

func (s *HistoricalScorer) Score(ctx context.Context, in Input) (models.Vote, error) {
	vote := models.Vote{Action: models.ActionSkip}

	wins, total, err := s.stats.TradeStats(ctx, in.Intent.Strategy, in.Intent.Asset)
	if err != nil {
		return vote, fmt.Errorf("trade stats: %w", err)
	}

	action, ok := s.preferredAction(in)
	if !ok {
		vote.Rationale = "no direction to endorse"
		return vote, nil
	}

	if total < s.cfg.MinTrades {
		// Cold start: endorse weakly instead of blocking new strategies.
		vote.Action = action
		vote.Confidence = 50
		vote.Rationale = fmt.Sprintf("only %d recorded trades", total)
		return vote, nil
	}

	winRate := float64(wins) / float64(total)
	if winRate < s.cfg.MinWinRate {
		vote.Rationale = fmt.Sprintf("win rate %.0f%% over %d trades", winRate*100, total)
		return vote, nil
	}

	vote.Action = action
	vote.Confidence = clampPct(winRate * 100)
	vote.Rationale = fmt.Sprintf("%d/%d wins for %s on %s", wins, total, in.Intent.Strategy, in.Intent.Asset)
	return vote, nil
}

// preferredAction maps a sided intent to its matching action; sideless
// directional intents fall back to the feed trend.
func (s *HistoricalScorer) preferredAction(in Input) (models.Action, bool) {
	switch in.Intent.Side {
	case models.SideUp:
		return models.ActionBuyUp, true
	case models.SideDown:
		return models.ActionBuyDown, true
	case models.SideBoth:
		return models.ActionBuyBoth, true
	}
	if in.History == nil {
		return models.ActionSkip, false
	}
	change, ok := in.History.Change(s.cfg.TrendWindow)
	if !ok || change == 0 {
		return models.ActionSkip, false
	}
	if change > 0 {
		return models.ActionBuyUp, true
	}
	return models.ActionBuyDown, true
}
