// Package market fetches prediction-market snapshots. The subgraph client
// pulls the full market set each cycle; the websocket stream pushes price
// refreshes between cycles.
package market

import (
	"context"
	"time"

	"github.com/oddlane/traderd/internal/domain"
)

// Filters narrows the market set a fetch returns.
type Filters struct {
	// Creators restricts markets to these creator addresses.
	Creators []string
	// OpeningAfter drops markets that open before this time.
	OpeningAfter time.Time
	// Languages restricts the market question language tags.
	Languages []string
	// First caps the number of returned markets.
	First int
}

// Source produces market snapshots for the ledger to merge. Implementations
// must treat every call as transient-failure-prone; callers retry with
// backoff.
type Source interface {
	FetchMarkets(ctx context.Context, f Filters) ([]domain.Bet, error)
}

// PriceUpdate is an incremental market refresh pushed by the stream.
type PriceUpdate struct {
	MarketID            string    `json:"market_id"`
	OutcomeTokenAmounts []int64   `json:"outcome_token_amounts"`
	OutcomePrices       []float64 `json:"outcome_prices"`
	ScaledLiquidity     float64   `json:"scaled_liquidity"`
}
