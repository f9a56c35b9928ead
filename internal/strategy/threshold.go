package strategy

import (
	"fmt"
	"math"
	"strconv"
)

// AmountPerThreshold maps prediction confidence, rounded to one decimal, to
// a fixed bet amount. Confidence buckets come from configuration; a missing
// bucket is a configuration error surfaced at sizing time.
type AmountPerThreshold struct {
	// Amounts is keyed by the bucket label, e.g. "0.6" or "1.0".
	Amounts map[string]int64
}

// Name implements Sizer.
func (a *AmountPerThreshold) Name() string { return "bet_amount_per_threshold" }

// BetAmount implements Sizer.
func (a *AmountPerThreshold) BetAmount(in Inputs) (int64, error) {
	if len(a.Amounts) == 0 {
		return 0, fmt.Errorf("strategy: amount per threshold: empty bucket mapping")
	}
	bucket := ConfidenceBucket(in.Confidence)
	amount, ok := a.Amounts[bucket]
	if !ok {
		return 0, fmt.Errorf("strategy: amount per threshold: no amount configured for confidence bucket %q", bucket)
	}
	return amount, nil
}

// ConfidenceBucket rounds a confidence value to its one-decimal bucket label.
func ConfidenceBucket(confidence float64) string {
	return strconv.FormatFloat(math.Round(confidence*10)/10, 'f', 1, 64)
}
