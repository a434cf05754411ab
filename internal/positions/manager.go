// Package positions owns the position lifecycle. Status only moves
// forward, open -> closing -> closed, and every transition is persisted
// before the next one is attempted.
package positions

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hetulpatel/updown/internal/events"
	"github.com/hetulpatel/updown/internal/exec"
	"github.com/hetulpatel/updown/internal/logging"
	"github.com/hetulpatel/updown/internal/models"
	"github.com/hetulpatel/updown/internal/storage/sqlite"
)

// Config bounds how many positions the manager will carry.
type Config struct {
	Exit                 ExitConfig
	MaxPositions         int
	MaxPositionsPerAsset int
}

// ClosedTrade reports one settled position back to the caller.
type ClosedTrade struct {
	Position models.Position
	PnLUSD   float64
}

// Manager tracks open positions in memory with the sqlite store as the
// durable copy. All mutation goes through the manager's mutex; external
// I/O (orders, persistence) happens outside it.
type Manager struct {
	cfg     Config
	store   *sqlite.Store
	gateway exec.Gateway
	pub     *events.Publisher

	mu         sync.Mutex
	positions  map[string]*models.Position
	closeFails map[string]int
}

// closeRetryLimit is how many failed close attempts a position gets
// before the manager stops trusting its own state and reconciles
// against the venue.
const closeRetryLimit = 3

func NewManager(store *sqlite.Store, gateway exec.Gateway, pub *events.Publisher, cfg Config) *Manager {
	return &Manager{
		cfg:        cfg,
		store:      store,
		gateway:    gateway,
		pub:        pub,
		positions:  make(map[string]*models.Position),
		closeFails: make(map[string]int),
	}
}

// Load restores non-closed positions from the store. Called once before
// the first tick; invalid rows are logged and dropped, they never block
// startup.
func (m *Manager) Load(ctx context.Context) error {
	loaded, bad := m.store.LoadPositions(ctx)
	for _, err := range bad {
		logging.Warnf("[positions] dropping bad record: %v", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range loaded {
		p := loaded[i]
		m.positions[p.ID] = &p
	}
	if len(m.positions) > 0 {
		logging.Infof("[positions] restored %d open positions", len(m.positions))
	}
	return nil
}

// CanOpen checks the position-count limits for a prospective entry.
func (m *Manager) CanOpen(asset, marketID string) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg.MaxPositions > 0 && len(m.positions) >= m.cfg.MaxPositions {
		return false, fmt.Sprintf("at max positions (%d)", m.cfg.MaxPositions)
	}
	perAsset := 0
	for _, p := range m.positions {
		if p.MarketID == marketID && p.Status != models.StatusClosed {
			return false, "already positioned in market"
		}
		if p.Asset == asset {
			perAsset++
		}
	}
	if m.cfg.MaxPositionsPerAsset > 0 && perAsset >= m.cfg.MaxPositionsPerAsset {
		return false, fmt.Sprintf("at max positions for %s (%d)", asset, m.cfg.MaxPositionsPerAsset)
	}
	return true, ""
}

// Open places the entry order and registers the position only on a
// confirmed fill. notional is the USD amount to deploy; the position's
// size is the share count actually bought.
func (m *Manager) Open(ctx context.Context, intent models.TradeIntent, side models.Side, decision models.EnsembleDecision, notional float64) (*models.Position, error) {
	snap := intent.Snapshot
	if snap == nil {
		return nil, fmt.Errorf("intent for %s has no snapshot", intent.MarketID)
	}
	price := snap.SidePrice(side)
	if price <= 0 {
		return nil, fmt.Errorf("no price for %s side of %s", side, intent.MarketID)
	}
	tokenID := snap.UpTokenID
	if side == models.SideDown {
		tokenID = snap.DownTokenID
	}

	id := uuid.NewString()
	fill, err := m.gateway.PlaceOrder(ctx, exec.OrderRequest{
		ClientID: id,
		MarketID: intent.MarketID,
		TokenID:  tokenID,
		Side:     side,
		Price:    price,
		Size:     notional,
	})
	if err != nil {
		// An errored place is ambiguous: the venue may hold the fill
		// even though the response was lost. Ask it before concluding
		// the order never happened.
		status, lookupErr := m.gateway.LookupOrder(ctx, id)
		if lookupErr != nil || !status.Known || !status.Filled {
			return nil, fmt.Errorf("place order: %w", err)
		}
		logging.Warnf("[positions] order %s reconciled as filled after place error: %v", id, err)
		fill = exec.Fill{Filled: true, Price: status.Price, Size: status.Size}
	}
	if !fill.Filled {
		return nil, fmt.Errorf("order %s not filled", fill.OrderID)
	}
	if fill.Size <= 0 {
		fill.Size = notional
	}

	entryPrice := fill.Price
	if entryPrice <= 0 {
		entryPrice = price
	}
	now := time.Now().UTC()
	pos := &models.Position{
		ID:         id,
		MarketID:   intent.MarketID,
		Asset:      intent.Asset,
		TokenID:    tokenID,
		Side:       side,
		Strategy:   intent.Strategy,
		EntryPrice: entryPrice,
		Size:       fill.Size / entryPrice,
		EntryTime:  now,
		PeakPrice:  entryPrice,
		Status:     models.StatusOpen,
	}

	m.mu.Lock()
	m.positions[pos.ID] = pos
	m.mu.Unlock()

	if err := m.store.SavePosition(ctx, *pos); err != nil {
		logging.Warnf("[positions] persist %s: %v", pos.ID, err)
	}
	m.pub.Opened(ctx, *pos, decision)
	logging.Infof("[positions] opened %s %s %s @ %.4f size %.2f (%s)",
		pos.Asset, pos.Side, pos.Strategy, pos.EntryPrice, fill.Size, pos.ID)
	return pos, nil
}

// EvaluateAll runs the exit rules over every tracked position in entry
// order. A failed price lookup or close is isolated to that position;
// the rest still get evaluated. Confirmed closes are returned.
func (m *Manager) EvaluateAll(ctx context.Context, snapshots map[string]models.MarketSnapshot, trendFor func(asset string) float64, streak int, now time.Time) []ClosedTrade {
	var closed []ClosedTrade
	for _, pos := range m.sorted() {
		snap, ok := snapshots[pos.MarketID]
		price := 0.0
		if ok {
			price = snap.SidePrice(pos.Side)
			ok = price > 0
		}

		if ok && pos.Status == models.StatusOpen {
			m.mu.Lock()
			pos.UpdatePeak(price)
			m.mu.Unlock()
		}

		ec := ExitContext{
			Price:     price,
			HavePrice: ok,
			FeedTrend: trendFor(pos.Asset),
			Streak:    streak,
			Now:       now,
		}

		// A position stuck in closing retries its recorded exit; the
		// reason and entry time never change across attempts.
		var dec ExitDecision
		if pos.Status == models.StatusClosing {
			dec = ExitDecision{Exit: true, Reason: pos.ExitReason, Price: ec.Price, Detail: "retrying close"}
			if !ec.HavePrice {
				dec.Price = lastKnownPrice(pos)
			}
		} else {
			dec = EvaluateExit(pos, m.cfg.Exit, ec)
		}
		if !dec.Exit {
			continue
		}

		trade, err := m.close(ctx, pos, dec)
		if err != nil {
			logging.Warnf("[positions] close %s (%s): %v", pos.ID, dec.Reason, err)
			continue
		}
		closed = append(closed, trade)
	}
	return closed
}

func (m *Manager) close(ctx context.Context, pos *models.Position, dec ExitDecision) (ClosedTrade, error) {
	m.mu.Lock()
	if pos.Status == models.StatusOpen {
		pos.Status = models.StatusClosing
		pos.ExitReason = dec.Reason
	}
	snapshot := *pos
	m.mu.Unlock()

	if err := m.store.SavePosition(ctx, snapshot); err != nil {
		logging.Warnf("[positions] persist closing %s: %v", pos.ID, err)
	}

	// The close order's client id is stable across retries so the
	// venue can be asked about earlier attempts.
	clientID := pos.ID + "-close"
	m.mu.Lock()
	attempts := m.closeFails[pos.ID]
	m.mu.Unlock()

	var fill exec.Fill
	if attempts >= closeRetryLimit {
		status, err := m.gateway.LookupOrder(ctx, clientID)
		if err != nil {
			logging.Warnf("[positions] reconcile close %s: %v", pos.ID, err)
		} else if status.Known && status.Filled {
			logging.Warnf("[positions] close %s reconciled as filled after %d failed attempts", pos.ID, attempts)
			fill = exec.Fill{Filled: true, Price: status.Price, Size: status.Size}
		}
	}
	if !fill.Filled {
		var err error
		fill, err = m.gateway.CloseOrder(ctx, pos.ID, exec.OrderRequest{
			ClientID: clientID,
			MarketID: pos.MarketID,
			TokenID:  pos.TokenID,
			Side:     pos.Side,
			Price:    dec.Price,
			Size:     pos.Size * dec.Price,
		})
		if err != nil {
			m.noteCloseFailure(pos.ID)
			return ClosedTrade{}, err
		}
		if !fill.Filled {
			m.noteCloseFailure(pos.ID)
			return ClosedTrade{}, fmt.Errorf("close order %s not filled", fill.OrderID)
		}
	}

	exitPrice := fill.Price
	if exitPrice <= 0 {
		exitPrice = dec.Price
	}

	m.mu.Lock()
	pos.Status = models.StatusClosed
	pos.ExitPrice = exitPrice
	pos.ClosedAt = time.Now().UTC()
	settled := *pos
	delete(m.positions, pos.ID)
	delete(m.closeFails, pos.ID)
	m.mu.Unlock()

	pnl := (settled.ExitPrice - settled.EntryPrice) * settled.Size

	// The trades table is the durable record of a settled position;
	// once the trade is written the position row is purged. If the
	// write fails the closed row stays behind as the record instead.
	if err := m.store.InsertTrade(ctx, settled, pnl); err != nil {
		logging.Warnf("[positions] record trade %s: %v", settled.ID, err)
		if err := m.store.SavePosition(ctx, settled); err != nil {
			logging.Warnf("[positions] persist closed %s: %v", settled.ID, err)
		}
	} else if err := m.store.DeletePosition(ctx, settled.ID); err != nil {
		logging.Warnf("[positions] purge %s: %v", settled.ID, err)
	}
	m.pub.Closed(ctx, settled, pnl)
	logging.Infof("[positions] closed %s %s via %s @ %.4f pnl %+.2f (%s)",
		settled.Asset, settled.Side, settled.ExitReason, settled.ExitPrice, pnl, settled.ID)
	return ClosedTrade{Position: settled, PnLUSD: pnl}, nil
}

func (m *Manager) noteCloseFailure(id string) {
	m.mu.Lock()
	m.closeFails[id]++
	m.mu.Unlock()
}

// Count returns how many positions are currently tracked.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.positions)
}

// List returns copies of the tracked positions in entry order.
func (m *Manager) List() []models.Position {
	out := make([]models.Position, 0)
	for _, p := range m.sorted() {
		m.mu.Lock()
		out = append(out, *p)
		m.mu.Unlock()
	}
	return out
}

func (m *Manager) sorted() []*models.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntryTime.Equal(out[j].EntryTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].EntryTime.Before(out[j].EntryTime)
	})
	return out
}
