package market

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/oddlane/traderd/internal/domain"
)

// SubgraphClient is a GraphQL client for the market subgraph indexer, used
// to query fixed-product market makers together with their pools and prices.
type SubgraphClient struct {
	graphqlURL string
	httpClient *http.Client
}

// NewSubgraphClient creates a subgraph client for the given endpoint.
func NewSubgraphClient(graphqlURL string) *SubgraphClient {
	return &SubgraphClient{
		graphqlURL: graphqlURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// graphqlRequest is the standard GraphQL request envelope.
type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// graphqlResponse is the standard GraphQL response envelope.
type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// marketRow mirrors the subgraph's market maker entity. Numeric fields come
// back as strings, BigInt-style.
type marketRow struct {
	ID                         string   `json:"id"`
	Title                      string   `json:"title"`
	CollateralToken            string   `json:"collateralToken"`
	Fee                        string   `json:"fee"`
	OpeningTimestamp           string   `json:"openingTimestamp"`
	OutcomeSlotCount           int      `json:"outcomeSlotCount"`
	Outcomes                   []string `json:"outcomes"`
	OutcomeTokenAmounts        []string `json:"outcomeTokenAmounts"`
	OutcomeTokenMarginalPrices []string `json:"outcomeTokenMarginalPrices"`
	ScaledLiquidityMeasure     string   `json:"scaledLiquidityMeasure"`
}

// FetchMarkets implements Source. Rows that fail numeric parsing are
// returned as malformed bets rather than dropped, so the ledger can
// blacklist them explicitly.
func (c *SubgraphClient) FetchMarkets(ctx context.Context, f Filters) ([]domain.Bet, error) {
	query := `
		query Markets($creators: [ID!], $openingAfter: BigInt!, $languages: [String!], $first: Int!) {
			fixedProductMarketMakers(
				first: $first
				orderBy: creationTimestamp
				orderDirection: desc
				where: {
					creator_in: $creators
					openingTimestamp_gt: $openingAfter
					language_in: $languages
					isPendingArbitration: false
				}
			) {
				id
				title
				collateralToken
				fee
				openingTimestamp
				outcomeSlotCount
				outcomes
				outcomeTokenAmounts
				outcomeTokenMarginalPrices
				scaledLiquidityMeasure
			}
		}
	`
	first := f.First
	if first <= 0 {
		first = 1000
	}
	variables := map[string]any{
		"creators":     f.Creators,
		"openingAfter": strconv.FormatInt(f.OpeningAfter.Unix(), 10),
		"languages":    f.Languages,
		"first":        first,
	}

	var data struct {
		Markets []marketRow `json:"fixedProductMarketMakers"`
	}
	if err := c.do(ctx, graphqlRequest{Query: query, Variables: variables}, &data); err != nil {
		return nil, err
	}

	bets := make([]domain.Bet, 0, len(data.Markets))
	for _, row := range data.Markets {
		bets = append(bets, row.toBet())
	}
	return bets, nil
}

func (c *SubgraphClient) do(ctx context.Context, reqBody graphqlRequest, out any) error {
	raw, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("market/subgraph: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("market/subgraph: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("market/subgraph: request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("market/subgraph: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("market/subgraph: status %d: %s", resp.StatusCode, body)
	}

	var envelope graphqlResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("market/subgraph: decode envelope: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("market/subgraph: graphql error: %s", envelope.Errors[0].Message)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("market/subgraph: decode data: %w", err)
	}
	return nil
}

// toBet converts a subgraph row into a bet. Parse failures leave the
// affected list mismatched so the bet fails validation downstream.
func (r marketRow) toBet() domain.Bet {
	bet := domain.Bet{
		ID:              r.ID,
		Title:           r.Title,
		CollateralToken: r.CollateralToken,
		OutcomeCount:    r.OutcomeSlotCount,
		Outcomes:        r.Outcomes,
	}
	if fee, err := strconv.ParseInt(r.Fee, 10, 64); err == nil {
		bet.Fee = fee
	}
	if opening, err := strconv.ParseInt(r.OpeningTimestamp, 10, 64); err == nil {
		bet.OpeningTimestamp = opening
	}
	if liquidity, err := strconv.ParseFloat(r.ScaledLiquidityMeasure, 64); err == nil {
		bet.ScaledLiquidity = liquidity
	}
	for _, raw := range r.OutcomeTokenAmounts {
		amount, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			break
		}
		bet.OutcomeTokenAmounts = append(bet.OutcomeTokenAmounts, amount)
	}
	for _, raw := range r.OutcomeTokenMarginalPrices {
		price, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			break
		}
		bet.OutcomePrices = append(bet.OutcomePrices, price)
	}
	return bet
}
