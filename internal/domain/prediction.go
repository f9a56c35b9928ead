package domain

import "fmt"

// probabilitySumTolerance absorbs float rounding when checking that the two
// outcome probabilities add up to one.
const probabilitySumTolerance = 1e-9

// PredictionResponse is a tool's answer to a prediction request. All fields
// are fractions in [0, 1] and PYes + PNo must equal one.
type PredictionResponse struct {
	PYes        float64 `json:"p_yes"`
	PNo         float64 `json:"p_no"`
	Confidence  float64 `json:"confidence"`
	InfoUtility float64 `json:"info_utility"`
}

// NewPredictionResponse validates the raw values and builds a response.
func NewPredictionResponse(pYes, pNo, confidence, infoUtility float64) (*PredictionResponse, error) {
	p := &PredictionResponse{
		PYes:        pYes,
		PNo:         pNo,
		Confidence:  confidence,
		InfoUtility: infoUtility,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks the range and probability-sum invariants.
func (p *PredictionResponse) Validate() error {
	for name, v := range map[string]float64{
		"p_yes":        p.PYes,
		"p_no":         p.PNo,
		"confidence":   p.Confidence,
		"info_utility": p.InfoUtility,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: %s=%v out of [0, 1]", ErrInvalidPrediction, name, v)
		}
	}
	sum := p.PYes + p.PNo
	if sum < 1-probabilitySumTolerance || sum > 1+probabilitySumTolerance {
		return fmt.Errorf("%w: p_yes+p_no=%v must equal 1", ErrInvalidPrediction, sum)
	}
	return nil
}

// Vote returns the predicted outcome index. The second return value is false
// when the probabilities are tied and no vote can be derived.
func (p *PredictionResponse) Vote() (int, bool) {
	switch {
	case p.PYes > p.PNo:
		return OutcomeYes, true
	case p.PNo > p.PYes:
		return OutcomeNo, true
	default:
		return 0, false
	}
}

// WinProbability is the probability of the predicted outcome.
func (p *PredictionResponse) WinProbability() float64 {
	if p.PYes > p.PNo {
		return p.PYes
	}
	return p.PNo
}
