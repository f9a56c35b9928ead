package strategy

import (
	"fmt"
	"math"

	"github.com/oddlane/traderd/internal/domain"
)

// DefaultMaxBet caps a single Kelly bet at 0.8 of a whole collateral token.
const DefaultMaxBet = int64(8e17)

// KellyCriterion sizes bets with a fractional Kelly criterion over the
// two-sided pool. The fraction scales the raw Kelly amount down; the floor
// balance is never spent.
type KellyCriterion struct {
	// Fraction of the raw Kelly amount actually bet, in (0, 1].
	Fraction float64
	// FloorBalance stays in the wallet no matter what Kelly says.
	FloorBalance int64
	// MaxBet caps the adjusted bankroll; zero means DefaultMaxBet.
	MaxBet int64
}

// Name implements Sizer.
func (k *KellyCriterion) Name() string { return "kelly_criterion" }

// BetAmount implements Sizer. It returns an insufficient-balance error when
// the bankroll cannot cover the floor, and zero when the Kelly formula
// yields no edge.
func (k *KellyCriterion) BetAmount(in Inputs) (int64, error) {
	maxBet := k.MaxBet
	if maxBet == 0 {
		maxBet = DefaultMaxBet
	}
	bankroll := min(in.Bankroll-k.FloorBalance, maxBet)
	if bankroll <= 0 {
		return 0, fmt.Errorf("strategy: kelly: bankroll %d below floor %d: %w",
			in.Bankroll, k.FloorBalance, domain.ErrInsufficientBalance)
	}

	raw := kellyBetAmount(
		float64(in.SelectedTokensInPool),
		float64(in.OtherTokensInPool),
		in.WinProbability,
		in.Confidence,
		float64(bankroll),
		in.FeeFraction,
	)
	if raw <= 0 || math.IsNaN(raw) {
		return 0, nil
	}
	return int64(raw * k.Fraction), nil
}

// kellyBetAmount solves the Kelly optimum for a constant-product binary
// market in closed form. x and y are the pool amounts of the selected and
// the opposite outcome, p the win probability, c the confidence, b the
// bankroll, and f the fee fraction.
func kellyBetAmount(x, y, p, c, b, f float64) float64 {
	if b == 0 {
		return 0
	}
	first := b*y*y*p*c*f +
		2*b*x*y*p*c*f +
		b*x*x*p*c*f -
		2*b*y*y*f -
		2*b*x*y*f
	discriminant := (4*x*x*y-first)*(4*x*x*y-first) -
		4*(x*x*f-y*y*f)*(-4*b*x*y*y*p*c-4*b*x*x*y*p*c+4*b*x*y*y)
	numerator := -4*x*x*y + first + math.Sqrt(discriminant)
	denominator := 2 * (x*x*f - y*y*f)
	if denominator == 0 {
		return 0
	}
	return numerator / denominator
}
