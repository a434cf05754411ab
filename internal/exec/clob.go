package exec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultClobURL = "https://clob.polymarket.com"

// ClobGateway submits marketable limit orders to the CLOB REST API.
type ClobGateway struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

type ClobConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

func NewClobGateway(cfg ClobConfig) *ClobGateway {
	base := cfg.BaseURL
	if base == "" {
		base = defaultClobURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &ClobGateway{
		baseURL:    strings.TrimRight(base, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type orderPayload struct {
	ClientID string  `json:"client_id,omitempty"`
	MarketID string  `json:"market_id"`
	TokenID  string  `json:"token_id"`
	Side     string  `json:"side"`
	Action   string  `json:"action"`
	Price    float64 `json:"price"`
	SizeUSD  float64 `json:"size_usd"`
}

type orderResponse struct {
	OrderID     string  `json:"order_id"`
	Status      string  `json:"status"`
	FilledPrice float64 `json:"filled_price"`
	FilledSize  float64 `json:"filled_size"`
	Message     string  `json:"message"`
}

func (g *ClobGateway) PlaceOrder(ctx context.Context, req OrderRequest) (Fill, error) {
	return g.submit(ctx, orderPayload{
		ClientID: req.ClientID,
		MarketID: req.MarketID,
		TokenID:  req.TokenID,
		Side:     string(req.Side),
		Action:   "buy",
		Price:    req.Price,
		SizeUSD:  req.Size,
	})
}

func (g *ClobGateway) CloseOrder(ctx context.Context, positionID string, req OrderRequest) (Fill, error) {
	return g.submit(ctx, orderPayload{
		ClientID: req.ClientID,
		MarketID: req.MarketID,
		TokenID:  req.TokenID,
		Side:     string(req.Side),
		Action:   "sell",
		Price:    req.Price,
		SizeUSD:  req.Size,
	})
}

// LookupOrder asks the venue for the order's true state. A 404 means
// the order never reached the venue.
func (g *ClobGateway) LookupOrder(ctx context.Context, clientID string) (OrderStatus, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/order?client_id="+url.QueryEscape(clientID), nil)
	if err != nil {
		return OrderStatus{}, err
	}
	if g.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return OrderStatus{}, fmt.Errorf("lookup order: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return OrderStatus{}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return OrderStatus{}, fmt.Errorf("clob API %s: %s", resp.Status, string(raw))
	}

	var out orderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return OrderStatus{}, fmt.Errorf("decode order status: %w", err)
	}
	filled := out.Status == "filled" || out.Status == "matched"
	return OrderStatus{Known: true, Filled: filled, Price: out.FilledPrice, Size: out.FilledSize}, nil
}

func (g *ClobGateway) submit(ctx context.Context, payload orderPayload) (Fill, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Fill{}, fmt.Errorf("marshal order: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/order", bytes.NewReader(body))
	if err != nil {
		return Fill{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return Fill{}, fmt.Errorf("submit order: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return Fill{}, fmt.Errorf("clob API %s: %s", resp.Status, string(raw))
	}

	var out orderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Fill{}, fmt.Errorf("decode order response: %w", err)
	}
	// Anything other than an explicit fill is treated as no trade.
	if out.Status != "filled" && out.Status != "matched" {
		return Fill{Filled: false, OrderID: out.OrderID}, nil
	}
	price := out.FilledPrice
	if price <= 0 {
		price = payload.Price
	}
	size := out.FilledSize
	if size <= 0 {
		size = payload.SizeUSD
	}
	return Fill{Filled: true, OrderID: out.OrderID, Price: price, Size: size}, nil
}

var _ Gateway = (*ClobGateway)(nil)
var _ Gateway = (*DryRunGateway)(nil)
