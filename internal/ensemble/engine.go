// Package ensemble combines independent scorers into one consensus
// decision. Scorers run in parallel under a bounded timeout; a scorer
// that errors or times out contributes a skip vote at zero confidence
// instead of failing the decision.
package ensemble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hetulpatel/updown/internal/feed"
	"github.com/hetulpatel/updown/internal/models"
)

// Input is the full context handed to every scorer.
type Input struct {
	Intent  models.TradeIntent
	History *feed.History
}

// Scorer is one independent opinion source. Implementations may be
// rule-based or reasoning-based; the engine does not care which.
type Scorer interface {
	Name() string
	Weight() float64
	Score(ctx context.Context, in Input) (models.Vote, error)
}

// Config holds the consensus and adaptive-conservatism tunables.
type Config struct {
	MinConsensus       float64
	ScorerTimeout      time.Duration
	BaseMinConfidence  float64
	ConfidenceDelta    float64
	ConfidenceFloor    float64
	ConfidenceCeiling  float64
	ConfidenceCooldown time.Duration
}

// Engine queries its scorers and resolves their votes. The only mutable
// state is the adaptive confidence requirement; decisions are
// deterministic given identical votes and adjustment state.
type Engine struct {
	scorers []Scorer
	cfg     Config

	mu            sync.Mutex
	required      float64
	cooldownUntil time.Time

	now func() time.Time
}

// NewEngine builds an engine over the given scorers.
func NewEngine(cfg Config, scorers ...Scorer) *Engine {
	if cfg.ScorerTimeout <= 0 {
		cfg.ScorerTimeout = 10 * time.Second
	}
	return &Engine{
		scorers:  scorers,
		cfg:      cfg,
		required: cfg.BaseMinConfidence,
		now:      time.Now,
	}
}

// Decide collects one vote per scorer and resolves the consensus.
func (e *Engine) Decide(ctx context.Context, in Input) models.EnsembleDecision {
	votes := make([]models.Vote, len(e.scorers))

	var wg sync.WaitGroup
	for i, s := range e.scorers {
		wg.Add(1)
		go func(i int, s Scorer) {
			defer wg.Done()
			votes[i] = e.scoreOne(ctx, s, in)
		}(i, s)
	}
	wg.Wait()

	return Resolve(votes, e.cfg.MinConsensus, e.RequiredConfidence())
}

func (e *Engine) scoreOne(ctx context.Context, s Scorer, in Input) models.Vote {
	scoreCtx, cancel := context.WithTimeout(ctx, e.cfg.ScorerTimeout)
	defer cancel()

	type result struct {
		vote models.Vote
		err  error
	}
	done := make(chan result, 1)
	go func() {
		vote, err := s.Score(scoreCtx, in)
		done <- result{vote, err}
	}()

	skip := models.Vote{Scorer: s.Name(), Weight: s.Weight(), Action: models.ActionSkip}
	select {
	case <-scoreCtx.Done():
		// Abandon a stuck scorer; its goroutine is left to finish on its
		// own and the decision proceeds with a conservative default.
		skip.Rationale = "timed out"
		return skip
	case res := <-done:
		if res.err != nil {
			skip.Rationale = truncate(res.err.Error(), 80)
			return skip
		}
		vote := res.vote
		vote.Scorer = s.Name()
		vote.Weight = s.Weight()
		if vote.Confidence < 0 {
			vote.Confidence = 0
		}
		if vote.Confidence > 100 {
			vote.Confidence = 100
		}
		return vote
	}
}

// Resolve computes the consensus decision from a fixed set of votes.
// Consensus is the summed weight of scorers agreeing on the winning
// non-skip action divided by total scorer weight, not a raw average.
func Resolve(votes []models.Vote, minConsensus, requiredConfidence float64) models.EnsembleDecision {
	decision := models.EnsembleDecision{Action: models.ActionSkip, Votes: votes}
	if len(votes) == 0 {
		decision.Reasoning = "no scorers available"
		return decision
	}

	support := map[models.Action]float64{}
	totalWeight := 0.0
	for _, v := range votes {
		totalWeight += v.Weight
		if v.Action != models.ActionSkip {
			support[v.Action] += v.Weight
		}
	}
	if totalWeight <= 0 {
		decision.Reasoning = "scorers carry no weight"
		return decision
	}

	// Fixed iteration order keeps tie-breaks deterministic.
	winner := models.ActionSkip
	best := 0.0
	for _, action := range []models.Action{models.ActionBuyBoth, models.ActionBuyUp, models.ActionBuyDown} {
		if support[action] > best {
			best = support[action]
			winner = action
		}
	}
	if winner == models.ActionSkip {
		decision.Reasoning = "all scorers voted skip"
		return decision
	}

	consensus := best / totalWeight
	decision.Consensus = consensus
	decision.Reasoning = summarize(votes)

	if consensus < minConsensus {
		decision.Reasoning = fmt.Sprintf("consensus %.2f below threshold %.2f; %s", consensus, minConsensus, decision.Reasoning)
		return decision
	}

	confSum, weightSum := 0.0, 0.0
	for _, v := range votes {
		if v.Action == winner {
			confSum += v.Confidence * v.Weight
			weightSum += v.Weight
		}
	}
	confidence := 0.0
	if weightSum > 0 {
		confidence = confSum / weightSum
	}

	if confidence < requiredConfidence {
		decision.Reasoning = fmt.Sprintf("confidence %.1f below required %.1f; %s", confidence, requiredConfidence, decision.Reasoning)
		return decision
	}

	decision.Action = winner
	decision.Confidence = confidence
	return decision
}

// RequiredConfidence returns the current adaptive threshold. A raise
// from a losing trade decays back to the base once the cooldown passes.
func (e *Engine) RequiredConfidence() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.required > e.cfg.BaseMinConfidence && e.now().After(e.cooldownUntil) {
		e.required = e.cfg.BaseMinConfidence
	}
	return e.required
}

// RecordOutcome adapts the required confidence: a loss raises it by the
// configured delta for a cooldown period, a win lowers it by half that
// delta, both bounded to [floor, ceiling].
func (e *Engine) RecordOutcome(win bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if win {
		e.required -= e.cfg.ConfidenceDelta / 2
	} else {
		e.required += e.cfg.ConfidenceDelta
		e.cooldownUntil = e.now().Add(e.cfg.ConfidenceCooldown)
	}
	if e.required < e.cfg.ConfidenceFloor {
		e.required = e.cfg.ConfidenceFloor
	}
	if e.required > e.cfg.ConfidenceCeiling {
		e.required = e.cfg.ConfidenceCeiling
	}
}

func summarize(votes []models.Vote) string {
	parts := make([]string, 0, len(votes))
	for _, v := range votes {
		parts = append(parts, fmt.Sprintf("%s: %s (%.0f%%)", v.Scorer, v.Action, v.Confidence))
	}
	return strings.Join(parts, ", ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
