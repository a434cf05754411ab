package positions

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hetulpatel/updown/internal/models"
)

func exitConfig() ExitConfig {
	return ExitConfig{
		SoftMaxAge:            13 * time.Minute,
		HardMaxAge:            15 * time.Minute,
		BaseTakeProfitPct:     0.10,
		BaseStopLossPct:       0.05,
		TimeFloorFactor:       0.3,
		AgainstFeedFactor:     0.6,
		StreakStepFactor:      0.1,
		TrailingActivationPct: 0.05,
		TrailingStopPct:       0.02,
	}
}

func openPosition(age time.Duration, now time.Time) *models.Position {
	entry := now.Add(-age)
	return &models.Position{
		ID:         "p1",
		MarketID:   "mkt-1",
		Asset:      "btc",
		TokenID:    "tok-up",
		Side:       models.SideUp,
		Strategy:   models.StrategyFeedLag,
		EntryPrice: 0.50,
		Size:       4,
		EntryTime:  entry,
		PeakPrice:  0.50,
		Status:     models.StatusOpen,
	}
}

func ctxAt(price float64, now time.Time) ExitContext {
	return ExitContext{Price: price, HavePrice: true, Now: now}
}

func TestEmergencyExitBeatsEverything(t *testing.T) {
	now := time.Now()
	p := openPosition(15*time.Minute+time.Second, now)
	// Price says take-profit, but the hard age limit wins.
	dec := EvaluateExit(p, exitConfig(), ctxAt(0.60, now))

	require.True(t, dec.Exit)
	assert.Equal(t, models.ExitEmergency, dec.Reason)
}

func TestEmergencyExitFiresWithoutPrice(t *testing.T) {
	now := time.Now()
	p := openPosition(16*time.Minute, now)
	p.PeakPrice = 0.55

	dec := EvaluateExit(p, exitConfig(), ExitContext{HavePrice: false, Now: now})
	require.True(t, dec.Exit)
	assert.Equal(t, models.ExitEmergency, dec.Reason)
	assert.Equal(t, 0.55, dec.Price, "falls back to the last known price")
}

func TestTimeExitFiresWithoutPrice(t *testing.T) {
	now := time.Now()
	p := openPosition(14*time.Minute, now)
	p.PeakPrice = 0.55

	dec := EvaluateExit(p, exitConfig(), ExitContext{HavePrice: false, Now: now})
	require.True(t, dec.Exit, "a position past the soft age limit never holds blind")
	assert.Equal(t, models.ExitTime, dec.Reason)
	assert.Equal(t, 0.50, dec.Price, "books flat at entry when no quote is available")
}

func TestNoBlindExitBeforeSoftLimit(t *testing.T) {
	now := time.Now()
	p := openPosition(5*time.Minute, now)

	dec := EvaluateExit(p, exitConfig(), ExitContext{HavePrice: false, Now: now})
	assert.False(t, dec.Exit, "price-based rules need a live quote")
}

func TestTimeExitAtSoftLimit(t *testing.T) {
	now := time.Now()
	p := openPosition(13*time.Minute+30*time.Second, now)

	dec := EvaluateExit(p, exitConfig(), ctxAt(0.50, now))
	require.True(t, dec.Exit)
	assert.Equal(t, models.ExitTime, dec.Reason)
}

func TestStopLossBeforeTakeProfit(t *testing.T) {
	now := time.Now()
	p := openPosition(time.Minute, now)

	dec := EvaluateExit(p, exitConfig(), ctxAt(0.40, now))
	require.True(t, dec.Exit)
	assert.Equal(t, models.ExitStopLoss, dec.Reason)
}

func TestTakeProfit(t *testing.T) {
	now := time.Now()
	p := openPosition(time.Minute, now)
	p.PeakPrice = 0.60

	dec := EvaluateExit(p, exitConfig(), ctxAt(0.60, now))
	require.True(t, dec.Exit)
	assert.Equal(t, models.ExitTakeProfit, dec.Reason)
}

func TestTrailingStopNeedsActivation(t *testing.T) {
	now := time.Now()
	cfg := exitConfig()
	cfg.TrailingActivationPct = 0.08

	// Peaked at +4%, now back at entry: never activated, and the drop
	// does not reach the stop-loss threshold either.
	p := openPosition(time.Minute, now)
	p.PeakPrice = 0.52

	dec := EvaluateExit(p, cfg, ctxAt(0.505, now))
	assert.False(t, dec.Exit)
}

func TestTrailingStopFiresAfterGiveback(t *testing.T) {
	now := time.Now()
	cfg := exitConfig()
	// Keep static take-profit out of the way so the trail is what fires.
	cfg.BaseTakeProfitPct = 0.50

	p := openPosition(time.Minute, now)
	p.PeakPrice = 0.54 // +8% peak, past the 5% activation

	dec := EvaluateExit(p, cfg, ctxAt(0.52, now)) // +4%, gave back 4% >= 2%
	require.True(t, dec.Exit)
	assert.Equal(t, models.ExitTrailingStop, dec.Reason)
}

func TestHoldInsideAllThresholds(t *testing.T) {
	now := time.Now()
	p := openPosition(time.Minute, now)

	dec := EvaluateExit(p, exitConfig(), ctxAt(0.505, now))
	assert.False(t, dec.Exit)
}

func TestThresholdsShrinkWithAge(t *testing.T) {
	now := time.Now()
	cfg := exitConfig()

	young := openPosition(time.Minute, now)
	old := openPosition(12*time.Minute, now)

	tpYoung, slYoung := Thresholds(young, cfg, ctxAt(0.50, now))
	tpOld, slOld := Thresholds(old, cfg, ctxAt(0.50, now))

	assert.Less(t, tpOld, tpYoung)
	assert.Less(t, slOld, slYoung)
	// The floor keeps thresholds from collapsing entirely.
	assert.GreaterOrEqual(t, tpOld, cfg.BaseTakeProfitPct*cfg.TimeFloorFactor)
}

func TestThresholdsTightenAgainstFeed(t *testing.T) {
	now := time.Now()
	cfg := exitConfig()
	p := openPosition(time.Minute, now)

	with := ctxAt(0.50, now)
	with.FeedTrend = 0.004 // moving with an up position
	against := ctxAt(0.50, now)
	against.FeedTrend = -0.004

	tpWith, _ := Thresholds(p, cfg, with)
	tpAgainst, _ := Thresholds(p, cfg, against)
	assert.InDelta(t, tpWith*cfg.AgainstFeedFactor, tpAgainst, 1e-9)
}

func TestThresholdsTightenOnLosingStreak(t *testing.T) {
	now := time.Now()
	cfg := exitConfig()
	cfg.StreakStepFactor = 0.8
	p := openPosition(time.Minute, now)

	flat := ctxAt(0.50, now)
	losing := ctxAt(0.50, now)
	losing.Streak = -2

	tpFlat, slFlat := Thresholds(p, cfg, flat)
	tpLosing, slLosing := Thresholds(p, cfg, losing)
	assert.InDelta(t, tpFlat*0.64, tpLosing, 1e-9)
	assert.InDelta(t, slFlat*0.64, slLosing, 1e-9)
}

func TestThresholdsReproducible(t *testing.T) {
	now := time.Now()
	cfg := exitConfig()
	p := openPosition(7*time.Minute, now)
	ec := ctxAt(0.51, now)
	ec.FeedTrend = -0.003
	ec.Streak = -1

	tp1, sl1 := Thresholds(p, cfg, ec)
	for i := 0; i < 25; i++ {
		tp2, sl2 := Thresholds(p, cfg, ec)
		assert.Equal(t, tp1, tp2)
		assert.Equal(t, sl1, sl2)
	}
}
