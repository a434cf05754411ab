package ensemble

import (
	"context"
	"math"

	"github.com/hetulpatel/updown/internal/models"
)

// MomentumConfig tunes the rule-based feed scorer.
type MomentumConfig struct {
	Weight        float64
	MoveThreshold float64
	Window        int
}

// MomentumScorer votes the direction of the reference feed. It needs no
// network and never errors, so it anchors decisions when the reasoning
// scorer is unavailable.
type MomentumScorer struct {
	cfg MomentumConfig
}

func NewMomentumScorer(cfg MomentumConfig) *MomentumScorer {
	if cfg.Window <= 0 {
		cfg.Window = 30
	}
	return &MomentumScorer{cfg: cfg}
}

func (s *MomentumScorer) Name() string    { return "momentum" }
func (s *MomentumScorer) Weight() float64 { return s.cfg.Weight }

func (s *MomentumScorer) Score(ctx context.Context, in Input) (models.Vote, error) {
	vote := models.Vote{Action: models.ActionSkip}

	// Cross-price arbitrage is direction-free: endorse it on edge alone.
	if in.Intent.Strategy == models.StrategyArbitrage {
		vote.Action = models.ActionBuyBoth
		vote.Confidence = clampPct(50 + in.Intent.Edge*2000)
		vote.Rationale = "price sum locks in edge regardless of outcome"
		return vote, nil
	}

	if in.History == nil {
		vote.Rationale = "no feed history"
		return vote, nil
	}
	long, ok := in.History.Change(s.cfg.Window)
	if !ok {
		vote.Rationale = "insufficient feed history"
		return vote, nil
	}
	short, _ := in.History.Change(s.cfg.Window / 2)

	// Require the short move to agree with the long one so a single
	// spike does not flip the vote.
	if math.Abs(long) < s.cfg.MoveThreshold || long*short < 0 {
		vote.Rationale = "no sustained move"
		return vote, nil
	}

	if long > 0 {
		vote.Action = models.ActionBuyUp
	} else {
		vote.Action = models.ActionBuyDown
	}
	vote.Confidence = clampPct(50 + math.Abs(long)/s.cfg.MoveThreshold*20)
	vote.Rationale = "feed moved with the vote direction"
	return vote, nil
}

func clampPct(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
