package market

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

func subgraphServer(t *testing.T, response string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)

		var req graphqlRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Contains(t, req.Query, "fixedProductMarketMakers")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(response))
	}))
}

func TestFetchMarkets(t *testing.T) {
	srv := subgraphServer(t, `{
		"data": {
			"fixedProductMarketMakers": [{
				"id": "0xmarket",
				"title": "Will it rain tomorrow?",
				"collateralToken": "0xtoken",
				"fee": "20000000000000000",
				"openingTimestamp": "1700000000",
				"outcomeSlotCount": 2,
				"outcomes": ["Yes", "No"],
				"outcomeTokenAmounts": ["100", "200"],
				"outcomeTokenMarginalPrices": ["0.6", "0.4"],
				"scaledLiquidityMeasure": "12.5"
			}]
		}
	}`)
	defer srv.Close()

	client := NewSubgraphClient(srv.URL)
	bets, err := client.FetchMarkets(context.Background(), Filters{
		Creators:     []string{"0xcreator"},
		OpeningAfter: time.Unix(1690000000, 0),
		Languages:    []string{"en_US"},
	})
	require.NoError(t, err)
	require.Len(t, bets, 1)

	bet := bets[0]
	assert.Equal(t, "0xmarket", bet.ID)
	assert.Equal(t, int64(20000000000000000), bet.Fee)
	assert.Equal(t, int64(1700000000), bet.OpeningTimestamp)
	assert.Equal(t, []int64{100, 200}, bet.OutcomeTokenAmounts)
	assert.Equal(t, []float64{0.6, 0.4}, bet.OutcomePrices)
	assert.Equal(t, 12.5, bet.ScaledLiquidity)
	require.NoError(t, bet.Validate())
}

func TestFetchMarkets_MalformedRowFailsValidation(t *testing.T) {
	srv := subgraphServer(t, `{
		"data": {
			"fixedProductMarketMakers": [{
				"id": "0xbad",
				"title": "Broken market",
				"collateralToken": "0xtoken",
				"fee": "0",
				"openingTimestamp": "1700000000",
				"outcomeSlotCount": 2,
				"outcomes": ["Yes", "No"],
				"outcomeTokenAmounts": ["100", "not-a-number"],
				"outcomeTokenMarginalPrices": ["0.6", "0.4"],
				"scaledLiquidityMeasure": "12.5"
			}]
		}
	}`)
	defer srv.Close()

	client := NewSubgraphClient(srv.URL)
	bets, err := client.FetchMarkets(context.Background(), Filters{})
	require.NoError(t, err)
	require.Len(t, bets, 1, "malformed rows are returned, not dropped")
	assert.Error(t, bets[0].Validate(), "the ledger decides what happens to malformed rows")
}

func TestFetchMarkets_GraphQLError(t *testing.T) {
	srv := subgraphServer(t, `{"errors": [{"message": "rate limited"}]}`)
	defer srv.Close()

	client := NewSubgraphClient(srv.URL)
	_, err := client.FetchMarkets(context.Background(), Filters{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestFetchMarkets_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewSubgraphClient(srv.URL)
	_, err := client.FetchMarkets(context.Background(), Filters{})
	assert.Error(t, err)
}
