package ensemble

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hetulpatel/updown/internal/cache"
	"github.com/hetulpatel/updown/internal/hashutil"
	"github.com/hetulpatel/updown/internal/llm"
	"github.com/hetulpatel/updown/internal/logging"
	"github.com/hetulpatel/updown/internal/models"
)

const reasoningSystemPrompt = `You are a disciplined advisor for 15-minute binary up/down markets.
You receive one candidate trade as JSON and must answer with JSON only, no prose:
{"action": "buy_up" | "buy_down" | "buy_both" | "skip", "confidence": 0-100, "rationale": "one sentence"}
Rules:
- "buy_both" is only valid when both outcome prices together cost less than $1.
- Skip when the setup is unclear. A thin edge with little time left is a skip.
- Confidence reflects how likely the chosen action is to profit, not how exciting the setup is.`

// ReasoningConfig tunes the LLM-backed scorer.
type ReasoningConfig struct {
	Weight float64
}

// ReasoningScorer asks an LLM to judge the candidate trade. Responses
// are cached keyed on the market situation so repeated scans of an
// unchanged market do not burn tokens.
type ReasoningScorer struct {
	client *llm.Client
	cache  cache.DecisionCache
	cfg    ReasoningConfig
}

func NewReasoningScorer(client *llm.Client, c cache.DecisionCache, cfg ReasoningConfig) *ReasoningScorer {
	if c == nil {
		c = cache.NoopCache{}
	}
	return &ReasoningScorer{client: client, cache: c, cfg: cfg}
}

func (s *ReasoningScorer) Name() string    { return "reasoning" }
func (s *ReasoningScorer) Weight() float64 { return s.cfg.Weight }

type reasoningReply struct {
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

func (s *ReasoningScorer) Score(ctx context.Context, in Input) (models.Vote, error) {
	vote := models.Vote{Action: models.ActionSkip}
	snap := in.Intent.Snapshot
	if snap == nil {
		vote.Rationale = "no market snapshot"
		return vote, nil
	}

	key := s.cacheKey(in)
	if cached, ok, err := s.cache.Get(ctx, key); err != nil {
		logging.Warnf("decision cache get: %v", err)
	} else if ok {
		return *cached, nil
	}

	userPrompt, err := s.buildPrompt(in)
	if err != nil {
		return vote, err
	}
	raw, err := s.client.Complete(ctx, reasoningSystemPrompt, userPrompt)
	if err != nil {
		return vote, fmt.Errorf("llm complete: %w", err)
	}

	reply, err := parseReply(raw)
	if err != nil {
		return vote, fmt.Errorf("llm reply: %w", err)
	}

	vote.Action = models.Action(reply.Action)
	vote.Confidence = clampPct(reply.Confidence)
	vote.Rationale = reply.Rationale
	switch vote.Action {
	case models.ActionBuyUp, models.ActionBuyDown, models.ActionBuyBoth, models.ActionSkip:
	default:
		return models.Vote{Action: models.ActionSkip}, fmt.Errorf("llm reply: unknown action %q", reply.Action)
	}

	if err := s.cache.Set(ctx, key, vote); err != nil {
		logging.Warnf("decision cache set: %v", err)
	}
	return vote, nil
}

// cacheKey buckets prices to two decimals so tick-level noise does not
// defeat the cache.
func (s *ReasoningScorer) cacheKey(in Input) string {
	snap := in.Intent.Snapshot
	trend := "flat"
	if in.History != nil {
		if change, ok := in.History.Change(30); ok {
			switch {
			case change > 0:
				trend = "up"
			case change < 0:
				trend = "down"
			}
		}
	}
	return hashutil.HashStrings(
		in.Intent.Asset,
		string(in.Intent.Strategy),
		fmt.Sprintf("%.2f", snap.PriceUp),
		fmt.Sprintf("%.2f", snap.PriceDown),
		trend,
	)
}

func (s *ReasoningScorer) buildPrompt(in Input) (string, error) {
	snap := in.Intent.Snapshot
	payload := map[string]any{
		"asset":              strings.ToUpper(in.Intent.Asset),
		"question":           snap.Question,
		"strategy":           in.Intent.Strategy,
		"price_up":           snap.PriceUp,
		"price_down":         snap.PriceDown,
		"liquidity_up":       snap.LiquidityUp,
		"liquidity_down":     snap.LiquidityDown,
		"seconds_to_resolve": int(snap.TimeToResolution(time.Now()).Seconds()),
	}
	if in.Intent.Edge > 0 {
		payload["detected_edge"] = in.Intent.Edge
	}
	if in.History != nil {
		if change, ok := in.History.Change(30); ok {
			payload["feed_change_pct"] = change * 100
		}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal prompt: %w", err)
	}
	return string(b), nil
}

// parseReply tolerates models that wrap the JSON in code fences or
// surrounding text.
func parseReply(raw string) (reasoningReply, error) {
	var reply reasoningReply
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return reply, fmt.Errorf("no JSON object in %q", truncate(raw, 120))
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &reply); err != nil {
		return reply, err
	}
	return reply, nil
}
