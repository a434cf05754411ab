package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config collects every recognized tunable. Values come from the
// environment (with a .env file loaded when present); thresholds that the
// strategy depends on are deliberately configuration, not constants.
type Config struct {
	// Scan loop
	ScanInterval      time.Duration
	HeartbeatInterval time.Duration
	DryRun            bool
	Assets            []string

	// Opportunity detection
	FeeMargin           float64
	MinEdge             float64
	FeedMoveThreshold   float64
	FeedWindow          int
	FeedLagMaxLean      float64
	MinTimeToResolution time.Duration

	// Ensemble
	MinConsensus       float64
	ScorerTimeout      time.Duration
	BaseMinConfidence  float64
	ConfidenceDelta    float64
	ConfidenceFloor    float64
	ConfidenceCeiling  float64
	ConfidenceCooldown time.Duration
	WeightReasoning    float64
	WeightMomentum     float64
	WeightHistorical   float64

	// Risk
	CapitalUSD            float64
	MaxConsecutiveLosses  int
	DailyLossFraction     float64
	BaseExposureFraction  float64
	SmallAccountThreshold float64
	KellyFraction         float64
	MaxKellyFraction      float64
	ArbWinProbability     float64
	MinOrderSize          float64
	MaxOrderSize          float64
	MaxPositions          int
	MaxPositionsPerAsset  int

	// Exits
	SoftMaxAge            time.Duration
	HardMaxAge            time.Duration
	BaseTakeProfitPct     float64
	BaseStopLossPct       float64
	TimeFloorFactor       float64
	AgainstFeedFactor     float64
	StreakStepFactor      float64
	TrailingActivationPct float64
	TrailingStopPct       float64

	// Market data
	GammaBaseURL     string
	MarketTimeout    time.Duration
	MarketRatePerSec float64

	// Reference feed
	FeedURLs       []string
	FeedHistoryLen int

	// Execution gateway
	ClobBaseURL  string
	OrderTimeout time.Duration

	// Storage / cache
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	DecisionTTL   time.Duration

	// LLM scorer
	LLMAPIKey  string
	LLMBaseURL string
	LLMModel   string
	LLMTimeout time.Duration
}

// Load reads configuration from the environment. A missing .env file is
// not an error; explicit env vars always win.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		ScanInterval:      envDuration("SCAN_INTERVAL", 2*time.Second),
		HeartbeatInterval: envDuration("HEARTBEAT_INTERVAL", time.Minute),
		DryRun:            envBool("DRY_RUN", false),
		Assets:            envList("ASSETS", []string{"BTC", "ETH", "SOL", "XRP"}),

		FeeMargin:           envFloat("FEE_MARGIN", 0.02),
		MinEdge:             envFloat("MIN_EDGE", 0.005),
		FeedMoveThreshold:   envFloat("FEED_MOVE_THRESHOLD", 0.002),
		FeedWindow:          envInt("FEED_WINDOW", 10),
		FeedLagMaxLean:      envFloat("FEED_LAG_MAX_LEAN", 0.05),
		MinTimeToResolution: envDuration("MIN_TIME_TO_RESOLUTION", 2*time.Minute),

		MinConsensus:       envFloat("MIN_CONSENSUS", 0.5),
		ScorerTimeout:      envDuration("SCORER_TIMEOUT", 10*time.Second),
		BaseMinConfidence:  envFloat("BASE_MIN_CONFIDENCE", 55),
		ConfidenceDelta:    envFloat("CONFIDENCE_DELTA", 10),
		ConfidenceFloor:    envFloat("CONFIDENCE_FLOOR", 40),
		ConfidenceCeiling:  envFloat("CONFIDENCE_CEILING", 90),
		ConfidenceCooldown: envDuration("CONFIDENCE_COOLDOWN", 30*time.Minute),
		WeightReasoning:    envFloat("WEIGHT_REASONING", 0.40),
		WeightMomentum:     envFloat("WEIGHT_MOMENTUM", 0.35),
		WeightHistorical:   envFloat("WEIGHT_HISTORICAL", 0.25),

		CapitalUSD:            envFloat("CAPITAL_USD", 100),
		MaxConsecutiveLosses:  envInt("MAX_CONSECUTIVE_LOSSES", 3),
		DailyLossFraction:     envFloat("DAILY_LOSS_FRACTION", 0.15),
		BaseExposureFraction:  envFloat("BASE_EXPOSURE_FRACTION", 0.5),
		SmallAccountThreshold: envFloat("SMALL_ACCOUNT_THRESHOLD", 100),
		KellyFraction:         envFloat("KELLY_FRACTION", 0.25),
		MaxKellyFraction:      envFloat("MAX_KELLY_FRACTION", 0.05),
		ArbWinProbability:     envFloat("ARB_WIN_PROBABILITY", 0.99),
		MinOrderSize:          envFloat("MIN_ORDER_SIZE", 1),
		MaxOrderSize:          envFloat("MAX_ORDER_SIZE", 5),
		MaxPositions:          envInt("MAX_POSITIONS", 3),
		MaxPositionsPerAsset:  envInt("MAX_POSITIONS_PER_ASSET", 2),

		SoftMaxAge:            envDuration("SOFT_MAX_AGE", 13*time.Minute),
		HardMaxAge:            envDuration("HARD_MAX_AGE", 15*time.Minute),
		BaseTakeProfitPct:     envFloat("BASE_TAKE_PROFIT_PCT", 0.10),
		BaseStopLossPct:       envFloat("BASE_STOP_LOSS_PCT", 0.05),
		TimeFloorFactor:       envFloat("TIME_FLOOR_FACTOR", 0.3),
		AgainstFeedFactor:     envFloat("AGAINST_FEED_FACTOR", 0.6),
		StreakStepFactor:      envFloat("STREAK_STEP_FACTOR", 0.1),
		TrailingActivationPct: envFloat("TRAILING_ACTIVATION_PCT", 0.05),
		TrailingStopPct:       envFloat("TRAILING_STOP_PCT", 0.02),

		GammaBaseURL:     envString("GAMMA_BASE_URL", "https://gamma-api.polymarket.com"),
		MarketTimeout:    envDuration("MARKET_TIMEOUT", 10*time.Second),
		MarketRatePerSec: envFloat("MARKET_RATE_PER_SEC", 5),

		FeedURLs: envList("FEED_URLS", []string{
			"wss://stream.binance.com:9443/ws",
			"wss://stream.binance.us:9443/ws",
		}),
		FeedHistoryLen: envInt("FEED_HISTORY_LEN", 60),

		ClobBaseURL:  envString("CLOB_BASE_URL", "https://clob.polymarket.com"),
		OrderTimeout: envDuration("ORDER_TIMEOUT", 15*time.Second),

		SQLitePath:    envString("SQLITE_PATH", "data/updown.db"),
		RedisAddr:     envString("REDIS_ADDR", ""),
		RedisPassword: envString("REDIS_PASSWORD", ""),
		RedisDB:       envInt("REDIS_DB", 0),
		DecisionTTL:   envDuration("DECISION_TTL", time.Minute),

		LLMAPIKey:  envString("LLM_API_KEY", ""),
		LLMBaseURL: envString("LLM_BASE_URL", ""),
		LLMModel:   envString("LLM_MODEL", ""),
		LLMTimeout: envDuration("LLM_TIMEOUT", 20*time.Second),
	}
}

// Validate rejects configurations that cannot run safely.
func (c Config) Validate() error {
	if c.ScanInterval <= 0 {
		return fmt.Errorf("scan interval must be positive")
	}
	if len(c.Assets) == 0 {
		return fmt.Errorf("at least one asset is required")
	}
	if c.FeeMargin < 0 || c.MinEdge < 0 {
		return fmt.Errorf("fee margin and min edge must not be negative")
	}
	if c.MinConsensus <= 0 || c.MinConsensus > 1 {
		return fmt.Errorf("min consensus must be in (0,1]")
	}
	if c.CapitalUSD <= 0 {
		return fmt.Errorf("capital must be positive")
	}
	if c.MaxConsecutiveLosses <= 0 {
		return fmt.Errorf("circuit breaker threshold must be positive")
	}
	if c.DailyLossFraction <= 0 || c.DailyLossFraction >= 1 {
		return fmt.Errorf("daily loss fraction must be in (0,1)")
	}
	if c.BaseExposureFraction <= 0 || c.BaseExposureFraction > 1 {
		return fmt.Errorf("base exposure fraction must be in (0,1]")
	}
	if c.MinOrderSize <= 0 || c.MaxOrderSize < c.MinOrderSize {
		return fmt.Errorf("order size bounds are inverted")
	}
	if c.SoftMaxAge <= 0 || c.HardMaxAge < c.SoftMaxAge {
		return fmt.Errorf("hard max age must be at least soft max age")
	}
	if c.BaseTakeProfitPct <= 0 || c.BaseStopLossPct <= 0 {
		return fmt.Errorf("base take-profit and stop-loss must be positive")
	}
	if c.TrailingStopPct <= 0 || c.TrailingActivationPct <= 0 {
		return fmt.Errorf("trailing stop parameters must be positive")
	}
	if c.FeedWindow < 2 || c.FeedHistoryLen < c.FeedWindow {
		return fmt.Errorf("feed history must cover at least the feed window")
	}
	return nil
}

func envString(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func envInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return def
}

func envList(key string, def []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
