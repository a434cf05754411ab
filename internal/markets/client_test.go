package markets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlugAlignsToInterval(t *testing.T) {
	at := time.Unix(1756555800, 0) // 600s into an interval
	assert.Equal(t, "btc-updown-15m-1756555200", Slug("BTC", at))

	// Anywhere inside the same interval yields the same slug.
	assert.Equal(t, Slug("btc", at), Slug("btc", at.Add(4*time.Minute)))

	// The next interval rolls the suffix forward by exactly 900.
	assert.Equal(t, "btc-updown-15m-1756556100", Slug("btc", at.Add(10*time.Minute)))
}

func TestIntervalEnd(t *testing.T) {
	at := time.Unix(1756555800, 0)
	assert.Equal(t, int64(1756556100), IntervalEnd(at).Unix())
}

func gammaHandler(t *testing.T, records map[string][]marketRecord) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slug := r.URL.Query().Get("slug")
		recs, ok := records[slug]
		if !ok {
			recs = []marketRecord{}
		}
		require.NoError(t, json.NewEncoder(w).Encode(recs))
	}
}

func TestFetchCurrentParsesStringEncodedFields(t *testing.T) {
	slug := Slug("btc", time.Now())
	srv := httptest.NewServer(gammaHandler(t, map[string][]marketRecord{
		slug: {{
			ID:            "m-1",
			Question:      "Bitcoin Up or Down?",
			EndDate:       time.Now().Add(10 * time.Minute).UTC().Format(time.RFC3339),
			ClobTokenIds:  `["tok-up","tok-down"]`,
			OutcomePrices: `["0.52","0.47"]`,
			LiquidityNum:  "1200.5",
		}},
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Timeout: 2 * time.Second, RatePerSec: 100})
	snaps := c.FetchCurrent(context.Background(), []string{"BTC"})

	require.Len(t, snaps, 1)
	snap := snaps[0]
	assert.Equal(t, "m-1", snap.MarketID)
	assert.Equal(t, "btc", snap.Asset)
	assert.Equal(t, "tok-up", snap.UpTokenID)
	assert.Equal(t, "tok-down", snap.DownTokenID)
	assert.InDelta(t, 0.52, snap.PriceUp, 1e-9)
	assert.InDelta(t, 0.47, snap.PriceDown, 1e-9)
}

func TestFetchCurrentMissingEndDateFallsBackToInterval(t *testing.T) {
	slug := Slug("eth", time.Now())
	srv := httptest.NewServer(gammaHandler(t, map[string][]marketRecord{
		slug: {{
			ID:            "m-2",
			ClobTokenIds:  `["a","b"]`,
			OutcomePrices: `["0.50","0.50"]`,
		}},
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Timeout: 2 * time.Second, RatePerSec: 100})
	snaps := c.FetchCurrent(context.Background(), []string{"eth"})

	require.Len(t, snaps, 1)
	assert.Equal(t, IntervalEnd(time.Now()).Unix(), snaps[0].EndTime.Unix())
}

func TestFetchCurrentSkipsBadMarkets(t *testing.T) {
	now := time.Now()
	srv := httptest.NewServer(gammaHandler(t, map[string][]marketRecord{
		Slug("btc", now): {{
			ID:            "m-good",
			ClobTokenIds:  `["a","b"]`,
			OutcomePrices: `["0.50","0.50"]`,
		}},
		Slug("eth", now): {{
			ID:            "m-bad",
			ClobTokenIds:  `["only-one"]`,
			OutcomePrices: `["0.50","0.50"]`,
		}},
		Slug("sol", now): {{
			ID:            "m-closed",
			Closed:        true,
			ClobTokenIds:  `["a","b"]`,
			OutcomePrices: `["0.50","0.50"]`,
		}},
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Timeout: 2 * time.Second, RatePerSec: 100})
	snaps := c.FetchCurrent(context.Background(), []string{"btc", "eth", "sol", "xrp"})

	require.Len(t, snaps, 1, "only the well-formed live market survives")
	assert.Equal(t, "m-good", snaps[0].MarketID)
}

func TestFetchAssetRejectsMalformedBaseURL(t *testing.T) {
	c := NewClient(Config{BaseURL: "://not-a-url", Timeout: time.Second, RatePerSec: 100})

	_, err := c.fetchAsset(context.Background(), "btc", time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse gamma url")
}

func TestFetchCurrentRejectsDegeneratePrices(t *testing.T) {
	slug := Slug("btc", time.Now())
	srv := httptest.NewServer(gammaHandler(t, map[string][]marketRecord{
		slug: {{
			ID:            "m-settled",
			ClobTokenIds:  `["a","b"]`,
			OutcomePrices: `["1","0"]`,
		}},
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Timeout: 2 * time.Second, RatePerSec: 100})
	snaps := c.FetchCurrent(context.Background(), []string{"btc"})
	assert.Empty(t, snaps, "a settled book has no tradable prices")
}
