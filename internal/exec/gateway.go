// Package exec places and closes orders. A position is only ever
// created or settled from a confirmed fill; when the venue's answer is
// ambiguous the caller reconciles through LookupOrder before trusting
// its own state.
package exec

import (
	"context"
	"sync"
	"time"

	"github.com/hetulpatel/updown/internal/models"
)

// OrderRequest describes one order against a single outcome token.
// Size is the USD notional to deploy. ClientID is the caller's
// idempotency key; the venue echoes it back so a lost response can be
// reconciled later.
type OrderRequest struct {
	ClientID string
	MarketID string
	TokenID  string
	Side     models.Side
	Price    float64
	Size     float64
}

// Fill is the gateway's confirmation. Filled is false when the order
// was accepted but did not execute.
type Fill struct {
	Filled  bool
	OrderID string
	Price   float64
	Size    float64
}

// OrderStatus is the venue's answer to a reconciliation query. Known is
// false when the venue has no record of the client id, which means the
// order never reached it.
type OrderStatus struct {
	Known  bool
	Filled bool
	Price  float64
	Size   float64
}

// Gateway abstracts the venue. The engine never talks HTTP directly.
type Gateway interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (Fill, error)
	CloseOrder(ctx context.Context, positionID string, req OrderRequest) (Fill, error)
	// LookupOrder re-queries the true external state of an order by its
	// client id, for use after an ambiguous error or repeated failures.
	LookupOrder(ctx context.Context, clientID string) (OrderStatus, error)
}

// DryRunGateway simulates instant fills at the requested price and
// remembers them by client id so reconciliation works the same as
// against the real venue. It lets the full decision pipeline run
// against live markets without spending anything.
type DryRunGateway struct {
	mu    sync.Mutex
	fills map[string]Fill
}

func NewDryRunGateway() *DryRunGateway {
	return &DryRunGateway{fills: make(map[string]Fill)}
}

func (g *DryRunGateway) PlaceOrder(ctx context.Context, req OrderRequest) (Fill, error) {
	fill := Fill{
		Filled:  true,
		OrderID: "dry-" + time.Now().UTC().Format("20060102T150405.000"),
		Price:   req.Price,
		Size:    req.Size,
	}
	g.record(req.ClientID, fill)
	return fill, nil
}

func (g *DryRunGateway) CloseOrder(ctx context.Context, positionID string, req OrderRequest) (Fill, error) {
	fill := Fill{
		Filled:  true,
		OrderID: "dry-close-" + positionID,
		Price:   req.Price,
		Size:    req.Size,
	}
	g.record(req.ClientID, fill)
	return fill, nil
}

func (g *DryRunGateway) LookupOrder(ctx context.Context, clientID string) (OrderStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fill, ok := g.fills[clientID]
	if !ok {
		return OrderStatus{}, nil
	}
	return OrderStatus{Known: true, Filled: fill.Filled, Price: fill.Price, Size: fill.Size}, nil
}

func (g *DryRunGateway) record(clientID string, fill Fill) {
	if clientID == "" {
		return
	}
	g.mu.Lock()
	g.fills[clientID] = fill
	g.mu.Unlock()
}
