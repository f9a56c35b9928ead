package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oddlane/traderd/internal/domain"
)

// BetStore mirrors the in-memory ledger into the bets table.
type BetStore struct {
	pool *pgxpool.Pool
}

// NewBetStore creates a BetStore backed by the given connection pool.
func NewBetStore(pool *pgxpool.Pool) *BetStore {
	return &BetStore{pool: pool}
}

const betSelectCols = `id, title, collateral_token, fee, opening_timestamp,
	outcome_count, outcomes, outcome_token_amounts, outcome_prices,
	scaled_liquidity, queue_status, investments, processed_timestamp,
	position_liquidity, potential_net_profit, last_prediction`

// UpsertBets writes the given bets using a pgx batch. A row already
// blacklisted forever keeps its terminal state even when the incoming bet
// carries fresh market data; the guard mirrors the ledger's merge rule.
func (s *BetStore) UpsertBets(ctx context.Context, bets []domain.Bet) error {
	if len(bets) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
		INSERT INTO bets (
			id, title, collateral_token, fee, opening_timestamp,
			outcome_count, outcomes, outcome_token_amounts, outcome_prices,
			scaled_liquidity, queue_status, investments, processed_timestamp,
			position_liquidity, potential_net_profit, last_prediction,
			updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13,
			$14, $15, $16,
			NOW()
		) ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			collateral_token = EXCLUDED.collateral_token,
			fee = EXCLUDED.fee,
			opening_timestamp = EXCLUDED.opening_timestamp,
			outcome_count = EXCLUDED.outcome_count,
			outcomes = EXCLUDED.outcomes,
			outcome_token_amounts = EXCLUDED.outcome_token_amounts,
			outcome_prices = EXCLUDED.outcome_prices,
			scaled_liquidity = EXCLUDED.scaled_liquidity,
			queue_status = EXCLUDED.queue_status,
			investments = EXCLUDED.investments,
			processed_timestamp = EXCLUDED.processed_timestamp,
			position_liquidity = EXCLUDED.position_liquidity,
			potential_net_profit = EXCLUDED.potential_net_profit,
			last_prediction = EXCLUDED.last_prediction,
			updated_at = NOW()
		WHERE bets.processed_timestamp <> %d AND bets.outcomes IS NOT NULL`,
		int64(math.MaxInt64))

	batch := &pgx.Batch{}
	for _, bet := range bets {
		args, err := betArgs(bet)
		if err != nil {
			return err
		}
		batch.Queue(query, args...)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := range bets {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert bet %q: %w", bets[i].ID, err)
		}
	}
	return nil
}

func betArgs(bet domain.Bet) ([]any, error) {
	outcomes, err := nullableJSON(bet.Outcomes)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode bet %q outcomes: %w", bet.ID, err)
	}
	amounts, err := json.Marshal(bet.OutcomeTokenAmounts)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode bet %q token amounts: %w", bet.ID, err)
	}
	prices, err := json.Marshal(bet.OutcomePrices)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode bet %q prices: %w", bet.ID, err)
	}
	investments, err := json.Marshal(bet.Investments)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode bet %q investments: %w", bet.ID, err)
	}
	prediction, err := nullableJSON(bet.LastPrediction)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode bet %q prediction: %w", bet.ID, err)
	}
	return []any{
		bet.ID, bet.Title, bet.CollateralToken, bet.Fee, bet.OpeningTimestamp,
		bet.OutcomeCount, outcomes, amounts, prices,
		bet.ScaledLiquidity, int(bet.QueueStatus), investments, bet.ProcessedTimestamp,
		bet.PositionLiquidity, bet.PotentialNetProfit, prediction,
	}, nil
}

func nullableJSON(v any) ([]byte, error) {
	switch val := v.(type) {
	case []string:
		if val == nil {
			return nil, nil
		}
	case *domain.PredictionResponse:
		if val == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

// ListBets loads every stored bet, ordered by ID for determinism.
func (s *BetStore) ListBets(ctx context.Context) ([]domain.Bet, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+betSelectCols+" FROM bets ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets: %w", err)
	}
	defer rows.Close()

	var bets []domain.Bet
	for rows.Next() {
		bet, err := scanBet(rows)
		if err != nil {
			return nil, err
		}
		bets = append(bets, bet)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bets: %w", err)
	}
	return bets, nil
}

func scanBet(rows pgx.Rows) (domain.Bet, error) {
	var (
		bet         domain.Bet
		queueStatus int
		outcomes    []byte
		amounts     []byte
		prices      []byte
		investments []byte
		prediction  []byte
	)
	if err := rows.Scan(
		&bet.ID, &bet.Title, &bet.CollateralToken, &bet.Fee, &bet.OpeningTimestamp,
		&bet.OutcomeCount, &outcomes, &amounts, &prices,
		&bet.ScaledLiquidity, &queueStatus, &investments, &bet.ProcessedTimestamp,
		&bet.PositionLiquidity, &bet.PotentialNetProfit, &prediction,
	); err != nil {
		return domain.Bet{}, fmt.Errorf("postgres: scan bet: %w", err)
	}
	bet.QueueStatus = domain.QueueStatus(queueStatus)

	decoded := []struct {
		raw []byte
		dst any
	}{
		{outcomes, &bet.Outcomes},
		{amounts, &bet.OutcomeTokenAmounts},
		{prices, &bet.OutcomePrices},
		{investments, &bet.Investments},
		{prediction, &bet.LastPrediction},
	}
	for _, field := range decoded {
		if field.raw == nil {
			continue
		}
		if err := json.Unmarshal(field.raw, field.dst); err != nil {
			return domain.Bet{}, fmt.Errorf("postgres: decode bet %q: %w", bet.ID, err)
		}
	}
	return bet, nil
}
