// Package markets fetches the currently live 15-minute up/down markets
// from the Gamma API. Calls run behind a rate limiter and a circuit
// breaker so a flapping API slows the scan loop instead of hammering it.
package markets

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/hetulpatel/updown/internal/logging"
	"github.com/hetulpatel/updown/internal/models"
)

const (
	defaultBaseURL = "https://gamma-api.polymarket.com"

	// Markets rotate every 15 minutes on aligned boundaries.
	intervalSeconds = 900
)

// Client fetches up/down market snapshots.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
}

// Config controls optional overrides for the client.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	RatePerSec float64
}

// NewClient builds a Gamma client with sane defaults.
func NewClient(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	perSec := cfg.RatePerSec
	if perSec <= 0 {
		perSec = 5
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "gamma",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warnf("[markets] breaker %s: %s -> %s", name, from, to)
		},
	})
	return &Client{
		baseURL:    strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(perSec), 1),
		breaker:    breaker,
	}
}

// Slug returns the Gamma slug for an asset's live interval at the given
// time, e.g. "btc-updown-15m-1756555200".
func Slug(asset string, now time.Time) string {
	interval := (now.Unix() / intervalSeconds) * intervalSeconds
	return fmt.Sprintf("%s-updown-15m-%d", strings.ToLower(asset), interval)
}

// IntervalEnd is when the live interval's market resolves.
func IntervalEnd(now time.Time) time.Time {
	interval := (now.Unix() / intervalSeconds) * intervalSeconds
	return time.Unix(interval+intervalSeconds, 0).UTC()
}

// FetchCurrent returns a snapshot per asset whose live market is
// resolvable right now. An asset whose fetch fails is skipped with a
// log line; the other assets still trade.
func (c *Client) FetchCurrent(ctx context.Context, assets []string) []models.MarketSnapshot {
	now := time.Now()
	snapshots := make([]models.MarketSnapshot, 0, len(assets))
	for _, asset := range assets {
		snap, err := c.fetchAsset(ctx, asset, now)
		if err != nil {
			logging.Warnf("[markets] skip %s: %v", asset, err)
			continue
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots
}

func (c *Client) fetchAsset(ctx context.Context, asset string, now time.Time) (models.MarketSnapshot, error) {
	slug := Slug(asset, now)
	u, err := url.Parse(c.baseURL + "/markets")
	if err != nil {
		return models.MarketSnapshot{}, fmt.Errorf("parse gamma url: %w", err)
	}
	q := u.Query()
	q.Set("slug", slug)
	u.RawQuery = q.Encode()

	var records []marketRecord
	if err := c.get(ctx, u.String(), &records); err != nil {
		return models.MarketSnapshot{}, err
	}
	if len(records) == 0 {
		return models.MarketSnapshot{}, fmt.Errorf("no market for slug %s", slug)
	}
	return convert(records[0], asset, now)
}

func (c *Client) get(ctx context.Context, rawURL string, dst any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := c.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			return nil, fmt.Errorf("gamma API %s: %s", resp.Status, string(body))
		}
		return nil, json.NewDecoder(resp.Body).Decode(dst)
	})
	return err
}

// marketRecord mirrors the Gamma wire shape. Token ids and prices come
// back as JSON arrays encoded inside strings.
type marketRecord struct {
	ID            string `json:"id"`
	Question      string `json:"question"`
	EndDate       string `json:"endDate"`
	ClobTokenIds  string `json:"clobTokenIds"`
	OutcomePrices string `json:"outcomePrices"`
	LiquidityNum  string `json:"liquidityNum"`
	Closed        bool   `json:"closed"`
}

func convert(rec marketRecord, asset string, now time.Time) (models.MarketSnapshot, error) {
	if rec.Closed {
		return models.MarketSnapshot{}, fmt.Errorf("market %s already closed", rec.ID)
	}

	tokens := parseStringArray(rec.ClobTokenIds)
	if len(tokens) < 2 {
		return models.MarketSnapshot{}, fmt.Errorf("market %s: want 2 token ids, got %d", rec.ID, len(tokens))
	}
	prices := parseStringArray(rec.OutcomePrices)
	if len(prices) < 2 {
		return models.MarketSnapshot{}, fmt.Errorf("market %s: want 2 outcome prices, got %d", rec.ID, len(prices))
	}
	priceUp, errUp := strconv.ParseFloat(prices[0], 64)
	priceDown, errDown := strconv.ParseFloat(prices[1], 64)
	if errUp != nil || errDown != nil {
		return models.MarketSnapshot{}, fmt.Errorf("market %s: unparseable prices %v", rec.ID, prices)
	}
	if priceUp <= 0 || priceDown <= 0 || priceUp >= 1 || priceDown >= 1 {
		return models.MarketSnapshot{}, fmt.Errorf("market %s: prices out of range up=%.4f down=%.4f", rec.ID, priceUp, priceDown)
	}

	// A missing or malformed end date falls back to the interval
	// boundary, which is when these markets resolve anyway.
	endTime := IntervalEnd(now)
	if rec.EndDate != "" {
		if ts, err := time.Parse(time.RFC3339, rec.EndDate); err == nil {
			endTime = ts
		}
	}

	liquidity := 0.0
	if rec.LiquidityNum != "" {
		liquidity, _ = strconv.ParseFloat(rec.LiquidityNum, 64)
	}

	return models.MarketSnapshot{
		MarketID:      rec.ID,
		Question:      rec.Question,
		Asset:         strings.ToLower(asset),
		UpTokenID:     tokens[0],
		DownTokenID:   tokens[1],
		PriceUp:       priceUp,
		PriceDown:     priceDown,
		LiquidityUp:   liquidity / 2,
		LiquidityDown: liquidity / 2,
		EndTime:       endTime,
		CapturedAt:    now,
	}, nil
}

func parseStringArray(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}
