package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Metrics maps metric names to values; timestamps are stored as Unix seconds.
type Metrics map[string]float64

func (m Metrics) Clone() Metrics {
	clone := make(Metrics, len(m))
	for k, v := range m {
		clone[k] = v
	}
	return clone
}

// Artifact is a fitted estimator plus its evaluation metrics. It is never mutated after
// it has been written or loaded.
type Artifact struct {
	Estimator Estimator
	Metrics   Metrics
}

type artifactFile struct {
	EstimatorType string          `json:"estimator_type"`
	Estimator     json.RawMessage `json:"estimator"`
	Metrics       Metrics         `json:"metrics"`
}

// EstimatorConfig selects and parameterizes an estimator.
type EstimatorConfig struct {
	Type     string
	MaxDepth int
	MinLeaf  int
}

func NewEstimator(config EstimatorConfig) (Estimator, error) {
	switch config.Type {
	case "", LinearEstimatorType:
		return NewLinearRegression(), nil
	case TreeEstimatorType:
		return NewRegressionTree(config.MaxDepth, config.MinLeaf), nil
	default:
		return nil, fmt.Errorf("unsupported estimator type %q", config.Type)
	}
}

func emptyEstimator(estimatorType string) (Estimator, error) {
	switch estimatorType {
	case LinearEstimatorType:
		return &LinearRegression{}, nil
	case TreeEstimatorType:
		return &RegressionTree{}, nil
	default:
		return nil, errors.New("unsupported estimator type")
	}
}

// SaveArtifact writes the artifact atomically: readers see the old file or the new one.
func SaveArtifact(path string, artifact *Artifact) error {
	if artifact == nil || artifact.Estimator == nil {
		return ErrModelNotTrained
	}
	estimator, err := json.Marshal(artifact.Estimator)
	if err != nil {
		return fmt.Errorf("encode estimator: %w", err)
	}
	metrics := artifact.Metrics
	if metrics == nil {
		metrics = Metrics{}
	}
	payload, err := json.MarshalIndent(artifactFile{
		EstimatorType: artifact.Estimator.Type(),
		Estimator:     estimator,
		Metrics:       metrics,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".artifact-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// LoadArtifact reads an artifact written by SaveArtifact. Failures wrap
// ErrArtifactMissing or ErrArtifactCorrupt.
func LoadArtifact(path string) (*Artifact, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrArtifactMissing, path)
		}
		return nil, fmt.Errorf("%w: %v", ErrArtifactMissing, err)
	}

	var file artifactFile
	if err := json.Unmarshal(payload, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArtifactCorrupt, err)
	}
	estimator, err := emptyEstimator(file.EstimatorType)
	if err != nil {
		return nil, fmt.Errorf("%w: estimator type %q: %v", ErrArtifactCorrupt, file.EstimatorType, err)
	}
	if len(file.Estimator) == 0 {
		return nil, fmt.Errorf("%w: estimator parameters missing", ErrArtifactCorrupt)
	}
	if err := json.Unmarshal(file.Estimator, estimator); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArtifactCorrupt, err)
	}
	if v, ok := estimator.(interface{ validate() error }); ok {
		if err := v.validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrArtifactCorrupt, err)
		}
	}
	if width, ok := trainedWidth(estimator); ok && width != FeatureCount {
		return nil, fmt.Errorf("%w: estimator expects %d features, service provides %d",
			ErrArtifactCorrupt, width, FeatureCount)
	}
	if file.Metrics == nil {
		file.Metrics = Metrics{}
	}
	return &Artifact{Estimator: estimator, Metrics: file.Metrics}, nil
}

// trainedWidth reports the input width an estimator was fitted on.
func trainedWidth(estimator Estimator) (int, bool) {
	switch e := estimator.(type) {
	case *LinearRegression:
		return len(e.Coefficients), true
	case *RegressionTree:
		return e.Width, true
	default:
		return 0, false
	}
}
