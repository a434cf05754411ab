package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hetulpatel/updown/internal/cache"
	"github.com/hetulpatel/updown/internal/config"
	"github.com/hetulpatel/updown/internal/engine"
	"github.com/hetulpatel/updown/internal/ensemble"
	"github.com/hetulpatel/updown/internal/events"
	"github.com/hetulpatel/updown/internal/exec"
	"github.com/hetulpatel/updown/internal/feed"
	"github.com/hetulpatel/updown/internal/kafka"
	"github.com/hetulpatel/updown/internal/llm"
	"github.com/hetulpatel/updown/internal/logging"
	"github.com/hetulpatel/updown/internal/markets"
	"github.com/hetulpatel/updown/internal/positions"
	"github.com/hetulpatel/updown/internal/risk"
	sqlstore "github.com/hetulpatel/updown/internal/storage/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logging.InitFromEnv()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logging.Fatalf("[trader] invalid config: %v", err)
	}

	store, err := sqlstore.Open(cfg.SQLitePath)
	if err != nil {
		logging.Fatalf("[trader] open sqlite: %v", err)
	}
	defer store.Close()
	if err := store.CreateTables(ctx); err != nil {
		logging.Fatalf("[trader] create tables: %v", err)
	}

	riskState, err := store.LoadRiskState(ctx)
	if err != nil {
		logging.Fatalf("[trader] load risk state: %v", err)
	}
	riskMgr := risk.NewManager(risk.Config{
		CapitalUSD:            cfg.CapitalUSD,
		MaxConsecutiveLosses:  cfg.MaxConsecutiveLosses,
		DailyLossFraction:     cfg.DailyLossFraction,
		BaseExposureFraction:  cfg.BaseExposureFraction,
		SmallAccountThreshold: cfg.SmallAccountThreshold,
		KellyFraction:         cfg.KellyFraction,
		MaxKellyFraction:      cfg.MaxKellyFraction,
		ArbWinProbability:     cfg.ArbWinProbability,
		MinOrderSize:          cfg.MinOrderSize,
		MaxOrderSize:          cfg.MaxOrderSize,
		MinEdge:               cfg.MinEdge,
	}, riskState)

	decisionCache := buildCache(cfg)
	defer decisionCache.Close()

	scorers := buildScorers(cfg, store, decisionCache)
	ensembleEngine := ensemble.NewEngine(ensemble.Config{
		MinConsensus:       cfg.MinConsensus,
		ScorerTimeout:      cfg.ScorerTimeout,
		BaseMinConfidence:  cfg.BaseMinConfidence,
		ConfidenceDelta:    cfg.ConfidenceDelta,
		ConfidenceFloor:    cfg.ConfidenceFloor,
		ConfidenceCeiling:  cfg.ConfidenceCeiling,
		ConfidenceCooldown: cfg.ConfidenceCooldown,
	}, scorers...)

	publisher := buildPublisher(ctx)
	defer publisher.Close()

	var gateway exec.Gateway
	if cfg.DryRun {
		logging.Infof("[trader] dry run: orders are simulated")
		gateway = exec.NewDryRunGateway()
	} else {
		gateway = exec.NewClobGateway(exec.ClobConfig{
			BaseURL: cfg.ClobBaseURL,
			APIKey:  os.Getenv("CLOB_API_KEY"),
			Timeout: cfg.OrderTimeout,
		})
	}

	manager := positions.NewManager(store, gateway, publisher, positions.Config{
		Exit: positions.ExitConfig{
			SoftMaxAge:            cfg.SoftMaxAge,
			HardMaxAge:            cfg.HardMaxAge,
			BaseTakeProfitPct:     cfg.BaseTakeProfitPct,
			BaseStopLossPct:       cfg.BaseStopLossPct,
			TimeFloorFactor:       cfg.TimeFloorFactor,
			AgainstFeedFactor:     cfg.AgainstFeedFactor,
			StreakStepFactor:      cfg.StreakStepFactor,
			TrailingActivationPct: cfg.TrailingActivationPct,
			TrailingStopPct:       cfg.TrailingStopPct,
		},
		MaxPositions:         cfg.MaxPositions,
		MaxPositionsPerAsset: cfg.MaxPositionsPerAsset,
	})

	priceFeed := feed.New(feed.Config{
		URLs:       cfg.FeedURLs,
		Assets:     cfg.Assets,
		HistoryLen: cfg.FeedHistoryLen,
	})
	go priceFeed.Run(ctx)

	marketClient := markets.NewClient(markets.Config{
		BaseURL:    cfg.GammaBaseURL,
		Timeout:    cfg.MarketTimeout,
		RatePerSec: cfg.MarketRatePerSec,
	})

	eng := engine.New(cfg, marketClient, priceFeed, ensembleEngine, riskMgr, manager, store)
	if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
		logging.Fatalf("[trader] engine stopped: %v", err)
	}
	logging.Infof("[trader] shutdown complete")
}

func buildCache(cfg config.Config) cache.DecisionCache {
	if cfg.RedisAddr == "" {
		return cache.NoopCache{}
	}
	c, err := cache.NewRedisDecisionCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.DecisionTTL, "scorer_vote")
	if err != nil {
		logging.Warnf("[trader] redis unavailable, caching disabled: %v", err)
		return cache.NoopCache{}
	}
	return c
}

func buildScorers(cfg config.Config, store *sqlstore.Store, decisionCache cache.DecisionCache) []ensemble.Scorer {
	scorers := []ensemble.Scorer{
		ensemble.NewMomentumScorer(ensemble.MomentumConfig{
			Weight:        cfg.WeightMomentum,
			MoveThreshold: cfg.FeedMoveThreshold,
			Window:        cfg.FeedWindow,
		}),
		ensemble.NewHistoricalScorer(store, ensemble.HistoricalConfig{
			Weight:      cfg.WeightHistorical,
			TrendWindow: cfg.FeedWindow,
		}),
	}

	if cfg.LLMAPIKey == "" {
		logging.Warnf("[trader] no LLM key; running on rule-based scorers only")
		return scorers
	}
	client, err := llm.New(llm.Config{
		APIKey:  cfg.LLMAPIKey,
		BaseURL: cfg.LLMBaseURL,
		Model:   cfg.LLMModel,
		Timeout: cfg.LLMTimeout,
	})
	if err != nil {
		logging.Warnf("[trader] llm client disabled: %v", err)
		return scorers
	}
	return append(scorers, ensemble.NewReasoningScorer(client, decisionCache, ensemble.ReasoningConfig{
		Weight: cfg.WeightReasoning,
	}))
}

func buildPublisher(ctx context.Context) *events.Publisher {
	if os.Getenv("KAFKA_BROKERS") == "" {
		logging.Infof("[trader] KAFKA_BROKERS unset; trade events stay local")
		return nil
	}
	brokers := kafka.Brokers()
	topic := kafka.TopicFromEnv("KAFKA_TOPIC", kafka.DefaultTopic)

	waitCtx, cancel := context.WithTimeout(ctx, 45*time.Second)
	defer cancel()
	if err := kafka.WaitForBroker(waitCtx, brokers); err != nil {
		logging.Warnf("[trader] kafka unavailable, trade events disabled: %v", err)
		return nil
	}
	ensureCtx, cancelEnsure := context.WithTimeout(ctx, 30*time.Second)
	defer cancelEnsure()
	if err := kafka.EnsureTopic(ensureCtx, brokers, topic); err != nil {
		logging.Errorf("[trader] ensure topic warning: %v", err)
	}
	return events.NewPublisher(kafka.NewWriter(brokers, topic))
}
