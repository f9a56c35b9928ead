package amm

import (
	"fmt"
	"math/big"
)

const (
	sellSolverPrecision  = 256
	sellSolverIterations = 100
)

// CalcSellAmountInCollateral approximates the collateral returned for selling
// sharesToSell outcome tokens back into a fixed-product market.
//
// With the selling outcome holding x pool tokens, the opposite outcome y, and
// a shares to sell, the returned collateral r satisfies
//
//	(y - R) * (x + a - R) - x*y = 0, R = r / (1 - fee)
//
// and is found with Newton-Raphson over big.Float, starting from zero.
func CalcSellAmountInCollateral(sharesToSell int64, tokenAmounts []int64, sellingOutcome int, fee float64) (int64, error) {
	if fee < 0 || fee >= 1 {
		return 0, fmt.Errorf("amm: sell amount: invalid fee %v", fee)
	}
	if sellingOutcome < 0 || sellingOutcome >= len(tokenAmounts) {
		return 0, fmt.Errorf("amm: sell amount: outcome index %d out of range", sellingOutcome)
	}
	if len(tokenAmounts) < 2 {
		return 0, fmt.Errorf("amm: sell amount: need a two-sided pool")
	}

	newFloat := func(v float64) *big.Float { return big.NewFloat(v).SetPrec(sellSolverPrecision) }
	newInt := func(v int64) *big.Float { return new(big.Float).SetPrec(sellSolverPrecision).SetInt64(v) }

	selling := newInt(tokenAmounts[sellingOutcome])
	other := newInt(tokenAmounts[sellingOutcome^1])
	shares := newInt(sharesToSell)
	oneMinusFee := newFloat(1 - fee)
	invariant := new(big.Float).SetPrec(sellSolverPrecision).Mul(selling, other)

	f := func(r *big.Float) *big.Float {
		capR := new(big.Float).SetPrec(sellSolverPrecision).Quo(r, oneMinusFee)
		first := new(big.Float).SetPrec(sellSolverPrecision).Sub(other, capR)
		second := new(big.Float).SetPrec(sellSolverPrecision).Add(selling, shares)
		second.Sub(second, capR)
		out := new(big.Float).SetPrec(sellSolverPrecision).Mul(first, second)
		return out.Sub(out, invariant)
	}

	root, ok := newtonRaphson(f, newFloat(0))
	if !ok {
		return 0, fmt.Errorf("amm: sell amount: solver did not converge")
	}
	if root.Sign() < 0 {
		return 0, fmt.Errorf("amm: sell amount: negative collateral result")
	}
	rounded, _ := new(big.Float).SetPrec(sellSolverPrecision).Add(root, newFloat(0.5)).Int64()
	return rounded, nil
}

// newtonRaphson finds a root of f with a numerical derivative. The step for
// the derivative is proportional to |x| with a floor, so the solver stays
// stable across the wei-scale magnitudes used here.
func newtonRaphson(f func(*big.Float) *big.Float, x0 *big.Float) (*big.Float, bool) {
	tol := big.NewFloat(1e-9).SetPrec(sellSolverPrecision)
	minStep := big.NewFloat(1e-6).SetPrec(sellSolverPrecision)
	relStep := big.NewFloat(1e-12).SetPrec(sellSolverPrecision)

	x := new(big.Float).SetPrec(sellSolverPrecision).Set(x0)
	for i := 0; i < sellSolverIterations; i++ {
		y := f(x)
		if new(big.Float).Abs(y).Cmp(tol) <= 0 {
			return x, true
		}

		h := new(big.Float).SetPrec(sellSolverPrecision).Abs(x)
		h.Mul(h, relStep)
		if h.Cmp(minStep) < 0 {
			h.Set(minStep)
		}
		xPlus := new(big.Float).SetPrec(sellSolverPrecision).Add(x, h)
		xMinus := new(big.Float).SetPrec(sellSolverPrecision).Sub(x, h)
		dy := new(big.Float).SetPrec(sellSolverPrecision).Sub(f(xPlus), f(xMinus))
		dy.Quo(dy, new(big.Float).SetPrec(sellSolverPrecision).Add(h, h))
		if dy.Sign() == 0 {
			return nil, false
		}

		step := new(big.Float).SetPrec(sellSolverPrecision).Quo(y, dy)
		next := new(big.Float).SetPrec(sellSolverPrecision).Sub(x, step)
		diff := new(big.Float).SetPrec(sellSolverPrecision).Sub(next, x)
		if diff.Abs(diff).Cmp(tol) <= 0 {
			return next, true
		}
		x = next
	}
	return nil, false
}
