// Package engine runs the scan loop: fetch live markets, evaluate
// exits, detect opportunities, run them through the ensemble and risk
// gate, and place orders. One tick is strictly sequential so position
// and capital accounting never race.
package engine

import (
	"context"
	"time"

	"github.com/hetulpatel/updown/internal/config"
	"github.com/hetulpatel/updown/internal/ensemble"
	"github.com/hetulpatel/updown/internal/feed"
	"github.com/hetulpatel/updown/internal/logging"
	"github.com/hetulpatel/updown/internal/markets"
	"github.com/hetulpatel/updown/internal/models"
	"github.com/hetulpatel/updown/internal/positions"
	"github.com/hetulpatel/updown/internal/risk"
	"github.com/hetulpatel/updown/internal/scanner"
	"github.com/hetulpatel/updown/internal/storage/sqlite"
)

// Engine wires the pipeline stages together.
type Engine struct {
	cfg      config.Config
	markets  *markets.Client
	feed     *feed.Feed
	ensemble *ensemble.Engine
	risk     *risk.Manager
	manager  *positions.Manager
	store    *sqlite.Store

	ticks   int
	opened  int
	settled int
}

func New(cfg config.Config, mkts *markets.Client, fd *feed.Feed, ens *ensemble.Engine, rk *risk.Manager, mgr *positions.Manager, store *sqlite.Store) *Engine {
	return &Engine{
		cfg:      cfg,
		markets:  mkts,
		feed:     fd,
		ensemble: ens,
		risk:     rk,
		manager:  mgr,
		store:    store,
	}
}

// Run blocks until the context is canceled.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.manager.Load(ctx); err != nil {
		return err
	}

	scan := time.NewTicker(e.cfg.ScanInterval)
	defer scan.Stop()
	heartbeat := time.NewTicker(e.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	logging.Infof("[engine] scanning %v every %s (dry run: %v)", e.cfg.Assets, e.cfg.ScanInterval, e.cfg.DryRun)
	for {
		select {
		case <-ctx.Done():
			e.persistRiskState(context.Background())
			return ctx.Err()
		case <-heartbeat.C:
			state := e.risk.State()
			logging.Infof("[engine] heartbeat: ticks=%d open=%d opened=%d settled=%d streak=%d committed=%.2f",
				e.ticks, e.manager.Count(), e.opened, e.settled, state.Streak(), state.CommittedCapital)
		case <-scan.C:
			e.tick(ctx)
		}
	}
}

func (e *Engine) tick(ctx context.Context) {
	e.ticks++
	now := time.Now()

	snapshots := e.markets.FetchCurrent(ctx, e.cfg.Assets)
	snapByMarket := make(map[string]models.MarketSnapshot, len(snapshots))
	for _, s := range snapshots {
		snapByMarket[s.MarketID] = s
	}

	// Exits run before entries so freed capital is available this tick.
	riskState := e.risk.State()
	streak := riskState.Streak()
	closed := e.manager.EvaluateAll(ctx, snapByMarket, e.trendFor(ctx), streak, now)
	for _, trade := range closed {
		e.settled++
		e.risk.RecordOutcome(trade.PnLUSD, trade.Position.Cost(), now)
		e.ensemble.RecordOutcome(trade.PnLUSD >= 0)
	}
	if len(closed) > 0 {
		e.persistRiskState(ctx)
	}

	for _, snap := range snapshots {
		e.considerMarket(ctx, snap, now)
	}
}

func (e *Engine) considerMarket(ctx context.Context, snap models.MarketSnapshot, now time.Time) {
	hist := e.feed.History(ctx, snap.Asset)
	intents := scanner.Detect(&snap, hist, scanner.Config{
		FeeMargin:           e.cfg.FeeMargin,
		MinEdge:             e.cfg.MinEdge,
		FeedMoveThreshold:   e.cfg.FeedMoveThreshold,
		FeedWindow:          e.cfg.FeedWindow,
		FeedLagMaxLean:      e.cfg.FeedLagMaxLean,
		MinTimeToResolution: e.cfg.MinTimeToResolution,
	}, now)

	for _, intent := range intents {
		if ok, why := e.manager.CanOpen(intent.Asset, intent.MarketID); !ok {
			logging.Debugf("[engine] skip %s %s: %s", intent.Asset, intent.Strategy, why)
			continue
		}

		decision := e.ensemble.Decide(ctx, ensemble.Input{Intent: intent, History: hist})
		if decision.Action == models.ActionSkip {
			logging.Debugf("[engine] skip %s %s: %s", intent.Asset, intent.Strategy, decision.Reasoning)
			continue
		}

		e.execute(ctx, intent, decision, now)
	}
}

// execute gates the decision through risk and places the order. The
// risk manager reserves capital inside Evaluate; the reservation is
// trued up against what actually filled.
func (e *Engine) execute(ctx context.Context, intent models.TradeIntent, decision models.EnsembleDecision, now time.Time) {
	edge := intent.Edge
	if edge <= 0 {
		// Directional intents carry no detected edge; derive one from
		// how far the ensemble's confidence sits above a coin flip.
		edge = (decision.Confidence/100 - 0.5) / 5
	}

	side, ok := models.ActionSide(decision.Action)
	if !ok {
		return
	}
	// A both-sides decision opens one single-token position per leg.
	sides := []models.Side{side}
	if side == models.SideBoth {
		sides = []models.Side{models.SideUp, models.SideDown}
	}

	verdict := e.risk.Evaluate(intent, side, edge, now)
	if !verdict.Approved {
		logging.Infof("[engine] rejected %s %s: %s (%s)", intent.Asset, intent.Strategy, verdict.Reason, verdict.Detail)
		return
	}

	perSide := verdict.Size / float64(len(sides))
	used := 0.0
	for _, side := range sides {
		pos, err := e.manager.Open(ctx, intent, side, decision, perSide)
		if err != nil {
			logging.Warnf("[engine] open %s %s failed: %v", intent.Asset, side, err)
			continue
		}
		e.opened++
		used += pos.Cost()
	}
	if used < verdict.Size {
		e.risk.Release(verdict.Size - used)
	}
	e.persistRiskState(ctx)
}

// trendFor resolves the signed feed change used by exit tightening.
func (e *Engine) trendFor(ctx context.Context) func(asset string) float64 {
	return func(asset string) float64 {
		hist := e.feed.History(ctx, asset)
		if hist == nil {
			return 0
		}
		change, ok := hist.Change(e.cfg.FeedWindow)
		if !ok {
			return 0
		}
		return change
	}
}

func (e *Engine) persistRiskState(ctx context.Context) {
	if err := e.store.SaveRiskState(ctx, e.risk.State()); err != nil {
		logging.Warnf("[engine] persist risk state: %v", err)
	}
}
