package ensemble

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hetulpatel/updown/internal/models"
)

type stubScorer struct {
	name   string
	weight float64
	vote   models.Vote
	err    error
	delay  time.Duration
}

func (s stubScorer) Name() string    { return s.name }
func (s stubScorer) Weight() float64 { return s.weight }
func (s stubScorer) Score(ctx context.Context, in Input) (models.Vote, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return models.Vote{}, ctx.Err()
		}
	}
	return s.vote, s.err
}

func vote(action models.Action, confidence float64) models.Vote {
	return models.Vote{Action: action, Confidence: confidence}
}

func engineConfig() Config {
	return Config{
		MinConsensus:       0.5,
		ScorerTimeout:      time.Second,
		BaseMinConfidence:  55,
		ConfidenceDelta:    10,
		ConfidenceFloor:    40,
		ConfidenceCeiling:  90,
		ConfidenceCooldown: 30 * time.Minute,
	}
}

func TestResolveTwoOfThreeAgree(t *testing.T) {
	votes := []models.Vote{
		{Scorer: "a", Weight: 0.40, Action: models.ActionBuyUp, Confidence: 70},
		{Scorer: "b", Weight: 0.35, Action: models.ActionBuyUp, Confidence: 60},
		{Scorer: "c", Weight: 0.25, Action: models.ActionSkip},
	}

	decision := Resolve(votes, 0.5, 55)
	assert.Equal(t, models.ActionBuyUp, decision.Action)
	assert.InDelta(t, 0.75, decision.Consensus, 1e-9)
	// Confidence is the weight-averaged confidence of the agreeing votes.
	want := (70*0.40 + 60*0.35) / 0.75
	assert.InDelta(t, want, decision.Confidence, 1e-9)
}

func TestResolveConsensusBelowThresholdSkips(t *testing.T) {
	votes := []models.Vote{
		{Scorer: "a", Weight: 0.40, Action: models.ActionBuyUp, Confidence: 90},
		{Scorer: "b", Weight: 0.35, Action: models.ActionSkip},
		{Scorer: "c", Weight: 0.25, Action: models.ActionSkip},
	}

	decision := Resolve(votes, 0.5, 55)
	assert.Equal(t, models.ActionSkip, decision.Action)
	assert.InDelta(t, 0.40, decision.Consensus, 1e-9)
	assert.Contains(t, decision.Reasoning, "below threshold")
}

func TestResolveSplitVotesTakePlurality(t *testing.T) {
	votes := []models.Vote{
		{Scorer: "a", Weight: 0.40, Action: models.ActionBuyUp, Confidence: 70},
		{Scorer: "b", Weight: 0.35, Action: models.ActionBuyDown, Confidence: 70},
		{Scorer: "c", Weight: 0.25, Action: models.ActionBuyUp, Confidence: 60},
	}

	decision := Resolve(votes, 0.5, 55)
	assert.Equal(t, models.ActionBuyUp, decision.Action)
	assert.InDelta(t, 0.65, decision.Consensus, 1e-9)
}

func TestResolveConfidenceBelowRequiredSkips(t *testing.T) {
	votes := []models.Vote{
		{Scorer: "a", Weight: 0.5, Action: models.ActionBuyUp, Confidence: 52},
		{Scorer: "b", Weight: 0.5, Action: models.ActionBuyUp, Confidence: 50},
	}

	decision := Resolve(votes, 0.5, 55)
	assert.Equal(t, models.ActionSkip, decision.Action)
	assert.Contains(t, decision.Reasoning, "below required")
}

func TestResolveAllSkip(t *testing.T) {
	votes := []models.Vote{
		{Scorer: "a", Weight: 0.5, Action: models.ActionSkip},
		{Scorer: "b", Weight: 0.5, Action: models.ActionSkip},
	}

	decision := Resolve(votes, 0.5, 55)
	assert.Equal(t, models.ActionSkip, decision.Action)
	assert.Zero(t, decision.Consensus)
}

func TestResolveDeterministic(t *testing.T) {
	votes := []models.Vote{
		{Scorer: "a", Weight: 0.4, Action: models.ActionBuyUp, Confidence: 70},
		{Scorer: "b", Weight: 0.6, Action: models.ActionBuyDown, Confidence: 65},
	}
	first := Resolve(votes, 0.5, 55)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, Resolve(votes, 0.5, 55))
	}
}

func TestDecideErroredScorerBecomesSkip(t *testing.T) {
	eng := NewEngine(engineConfig(),
		stubScorer{name: "good", weight: 0.6, vote: vote(models.ActionBuyUp, 80)},
		stubScorer{name: "broken", weight: 0.4, err: errors.New("upstream down")},
	)

	decision := eng.Decide(context.Background(), Input{})
	assert.Equal(t, models.ActionBuyUp, decision.Action)
	assert.InDelta(t, 0.6, decision.Consensus, 1e-9)

	require.Len(t, decision.Votes, 2)
	for _, v := range decision.Votes {
		if v.Scorer == "broken" {
			assert.Equal(t, models.ActionSkip, v.Action)
			assert.Zero(t, v.Confidence)
		}
	}
}

func TestDecideTimedOutScorerBecomesSkip(t *testing.T) {
	cfg := engineConfig()
	cfg.ScorerTimeout = 20 * time.Millisecond
	eng := NewEngine(cfg,
		stubScorer{name: "fast", weight: 0.7, vote: vote(models.ActionBuyDown, 75)},
		stubScorer{name: "slow", weight: 0.3, vote: vote(models.ActionBuyDown, 90), delay: time.Second},
	)

	decision := eng.Decide(context.Background(), Input{})
	assert.Equal(t, models.ActionBuyDown, decision.Action)
	assert.InDelta(t, 0.7, decision.Consensus, 1e-9)
	assert.InDelta(t, 75, decision.Confidence, 1e-9)
}

func TestRequiredConfidenceAdapts(t *testing.T) {
	eng := NewEngine(engineConfig())
	now := time.Now()
	eng.now = func() time.Time { return now }

	assert.InDelta(t, 55, eng.RequiredConfidence(), 1e-9)

	eng.RecordOutcome(false)
	assert.InDelta(t, 65, eng.RequiredConfidence(), 1e-9)

	eng.RecordOutcome(false)
	assert.InDelta(t, 75, eng.RequiredConfidence(), 1e-9)

	eng.RecordOutcome(true)
	assert.InDelta(t, 70, eng.RequiredConfidence(), 1e-9)
}

func TestRequiredConfidenceDecaysAfterCooldown(t *testing.T) {
	eng := NewEngine(engineConfig())
	now := time.Now()
	eng.now = func() time.Time { return now }

	eng.RecordOutcome(false)
	assert.InDelta(t, 65, eng.RequiredConfidence(), 1e-9)

	now = now.Add(31 * time.Minute)
	assert.InDelta(t, 55, eng.RequiredConfidence(), 1e-9)
}

func TestRequiredConfidenceBounded(t *testing.T) {
	eng := NewEngine(engineConfig())
	now := time.Now()
	eng.now = func() time.Time { return now }

	for i := 0; i < 10; i++ {
		eng.RecordOutcome(false)
	}
	assert.InDelta(t, 90, eng.RequiredConfidence(), 1e-9)

	for i := 0; i < 20; i++ {
		eng.RecordOutcome(true)
	}
	assert.InDelta(t, 40, eng.RequiredConfidence(), 1e-9)
}
