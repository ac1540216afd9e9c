package ml

import (
	"math"
)

const (
	PastSpendingMonths = 3
	CommitmentCount    = 1
	FeatureCount       = PastSpendingMonths + CommitmentCount
)

var featureNames = []string{
	"past_spending_1",
	"past_spending_2",
	"past_spending_3",
	"upcoming_commitments",
}

// FeatureNames returns the column order every estimator is trained on.
func FeatureNames() []string {
	return append([]string(nil), featureNames...)
}

// FeatureVector is the ordered input of an estimator.
type FeatureVector []float64

// BuildFeatureVector concatenates the spending history and the upcoming commitments
// after checking their dimensions.
func BuildFeatureVector(pastSpending, upcomingCommitments []float64) (FeatureVector, error) {
	if len(pastSpending) != PastSpendingMonths || len(upcomingCommitments) != CommitmentCount {
		return nil, &ValidationError{
			Message: "invalid input dimensions: past_spending needs 3 values and upcoming_commitments needs 1",
		}
	}
	vector := make(FeatureVector, 0, FeatureCount)
	vector = append(vector, pastSpending...)
	vector = append(vector, upcomingCommitments...)
	if err := vector.Validate(); err != nil {
		return nil, err
	}
	return vector, nil
}

// Validate checks width and that every value is a finite, non-negative amount.
func (v FeatureVector) Validate() error {
	if len(v) != FeatureCount {
		return newValidationError("", "expected %d features, got %d", FeatureCount, len(v))
	}
	for i, value := range v {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return newValidationError(featureNames[i], "value must be finite")
		}
		if value < 0 {
			return newValidationError(featureNames[i], "value must be non-negative")
		}
	}
	return nil
}
