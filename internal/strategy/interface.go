// Package strategy provides the bet-amount strategies the agent sizes its
// trades with. The set is closed and statically compiled; a strategy is
// selected by name from the registry, never loaded at runtime.
package strategy

// Inputs carries everything a sizer may need to price a bet. Amounts are in
// the smallest collateral unit; probabilities and fractions are in [0, 1].
type Inputs struct {
	// WinProbability is the predicted probability of the chosen outcome.
	WinProbability float64
	// Confidence is the tool's confidence in its own prediction.
	Confidence float64
	// SelectedTokensInPool / OtherTokensInPool are the pool amounts of the
	// chosen outcome and its opposite.
	SelectedTokensInPool int64
	OtherTokensInPool    int64
	// Bankroll is the spendable balance of the agent's wallet.
	Bankroll int64
	// FeeFraction is 1 minus the market fee, i.e. the share of the bet that
	// reaches the pool.
	FeeFraction float64
}

// Sizer computes the collateral amount to bet given the prediction and the
// market state. A zero amount means no bet this cycle.
type Sizer interface {
	Name() string
	BetAmount(in Inputs) (int64, error)
}
