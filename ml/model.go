package ml

// Estimator maps a fixed-width feature vector to a scalar prediction.
type Estimator interface {
	Type() string
	Fit(features [][]float64, targets []float64) error
	Predict(features []float64) (float64, error)
}

// ConfidenceScorer is the optional capability of estimators that can rate their own output.
// Scores are in [0,1].
type ConfidenceScorer interface {
	Confidence(features []float64) (float64, error)
}

// Importancer is implemented by estimators exposing per-feature importances.
type Importancer interface {
	Importances() []float64
}
