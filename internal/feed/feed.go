// Package feed streams reference spot prices and keeps a short rolling
// history per asset for momentum checks.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hetulpatel/updown/internal/logging"
)

// Config controls the websocket feed.
type Config struct {
	// URLs are tried in order; on a failed connection the feed rotates to
	// the next endpoint (the primary host geo-blocks some regions).
	URLs       []string
	Assets     []string
	HistoryLen int
}

// Feed consumes a trade stream and exposes per-asset price history.
type Feed struct {
	cfg      Config
	streams  string
	updates  chan Sample
	requests chan historyRequest
}

type historyRequest struct {
	asset string
	reply chan *History
}

type tradeMessage struct {
	Symbol string `json:"s"`
	Price  string `json:"p"`
}

// New builds a feed for the configured assets.
func New(cfg Config) *Feed {
	if cfg.HistoryLen <= 0 {
		cfg.HistoryLen = 60
	}
	parts := make([]string, 0, len(cfg.Assets))
	for _, a := range cfg.Assets {
		parts = append(parts, strings.ToLower(a)+"usdt@trade")
	}
	return &Feed{
		cfg:      cfg,
		streams:  strings.Join(parts, "/"),
		updates:  make(chan Sample, 256),
		requests: make(chan historyRequest),
	}
}

// Run drives the websocket connection and the history owner until the
// context is cancelled. Histories are mutated only inside this loop, so
// readers always get consistent copies.
func (f *Feed) Run(ctx context.Context) {
	go f.connectLoop(ctx)

	histories := make(map[string]*History, len(f.cfg.Assets))
	for _, a := range f.cfg.Assets {
		histories[strings.ToUpper(a)] = NewHistory(f.cfg.HistoryLen)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case s := <-f.updates:
			if h, ok := histories[s.assetTag]; ok {
				h.Push(s)
			}
		case req := <-f.requests:
			if h, ok := histories[strings.ToUpper(req.asset)]; ok {
				req.reply <- h.Clone()
			} else {
				req.reply <- nil
			}
		}
	}
}

// History returns a copy of the rolling window for an asset, or nil when
// the asset is unknown or the feed has not started.
func (f *Feed) History(ctx context.Context, asset string) *History {
	req := historyRequest{asset: asset, reply: make(chan *History, 1)}
	select {
	case f.requests <- req:
	case <-ctx.Done():
		return nil
	}
	select {
	case h := <-req.reply:
		return h
	case <-ctx.Done():
		return nil
	}
}

func (f *Feed) connectLoop(ctx context.Context) {
	urlIdx := 0
	for ctx.Err() == nil {
		url := fmt.Sprintf("%s/%s", strings.TrimRight(f.cfg.URLs[urlIdx], "/"), f.streams)
		if err := f.consume(ctx, url); err != nil && ctx.Err() == nil {
			logging.Errorf("[feed] stream error: %v", err)
			// 451 means the endpoint is geo-blocked; rotate to the backup.
			if strings.Contains(err.Error(), "451") {
				urlIdx = (urlIdx + 1) % len(f.cfg.URLs)
				logging.Warnf("[feed] switching endpoint to %s", f.cfg.URLs[urlIdx])
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func (f *Feed) consume(ctx context.Context, url string) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: status %d: %w", url, resp.StatusCode, err)
		}
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()
	logging.Infof("[feed] connected to %s", url)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		var msg tradeMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		price, err := strconv.ParseFloat(msg.Price, 64)
		if err != nil || price <= 0 {
			continue
		}
		asset := strings.TrimSuffix(strings.ToUpper(msg.Symbol), "USDT")
		sample := Sample{Price: price, At: time.Now().UTC(), assetTag: asset}
		select {
		case f.updates <- sample:
		default:
			// Drop under backpressure; momentum only needs recent samples.
		}
	}
}
