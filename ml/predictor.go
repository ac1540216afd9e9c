package ml

import (
	"errors"
	"fmt"
)

// DefaultConfidence is reported when the estimator cannot score its own output.
const DefaultConfidence = 0.85

type State int

const (
	StateUninitialized State = iota
	StateReady
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	default:
		return "uninitialized"
	}
}

type Prediction struct {
	Value      float64
	Confidence float64
}

// Predictor serves a loaded artifact. It holds no mutable state after construction and is
// safe for concurrent use.
type Predictor struct {
	artifact *Artifact
	scorer   ConfidenceScorer
	state    State
}

// NewPredictor moves an artifact into the Ready state. The confidence capability is
// resolved here once rather than on every request.
func NewPredictor(artifact *Artifact) (*Predictor, error) {
	if artifact == nil || artifact.Estimator == nil {
		return nil, errors.New("predictor requires a loaded artifact")
	}
	if artifact.Metrics == nil {
		artifact = &Artifact{Estimator: artifact.Estimator, Metrics: Metrics{}}
	}
	p := &Predictor{artifact: artifact, state: StateReady}
	if scorer, ok := artifact.Estimator.(ConfidenceScorer); ok {
		p.scorer = scorer
	}
	return p, nil
}

func (p *Predictor) State() State {
	if p == nil {
		return StateUninitialized
	}
	return p.state
}

func (p *Predictor) EstimatorType() string {
	return p.artifact.Estimator.Type()
}

func (p *Predictor) HasConfidence() bool {
	return p.scorer != nil
}

func (p *Predictor) Metrics() Metrics {
	return p.artifact.Metrics.Clone()
}

// Predict validates the vector and maps it through the estimator. Invalid input yields a
// *ValidationError without touching the estimator; estimator failures wrap
// ErrPredictionFailed.
func (p *Predictor) Predict(features FeatureVector) (Prediction, error) {
	if err := features.Validate(); err != nil {
		return Prediction{}, err
	}

	value, err := p.artifact.Estimator.Predict(features)
	if err != nil {
		return Prediction{}, fmt.Errorf("%w: %v", ErrPredictionFailed, err)
	}
	if !isFinite(value) {
		return Prediction{}, fmt.Errorf("%w: estimator returned %v", ErrPredictionFailed, value)
	}

	confidence := DefaultConfidence
	if p.scorer != nil {
		confidence, err = p.scorer.Confidence(features)
		if err != nil {
			return Prediction{}, fmt.Errorf("%w: confidence: %v", ErrPredictionFailed, err)
		}
		confidence = clamp01(confidence)
	}
	return Prediction{Value: value, Confidence: confidence}, nil
}
