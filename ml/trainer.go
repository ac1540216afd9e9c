package ml

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// TrainerConfig collects everything that determines a training run.
type TrainerConfig struct {
	Estimator EstimatorConfig
	Synthetic SyntheticConfig
	TestRatio float64
	// SplitSeed seeds the train/test permutation.
	SplitSeed int64
}

func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{
		Estimator: EstimatorConfig{Type: LinearEstimatorType},
		Synthetic: SyntheticConfig{Samples: DefaultSamples, Seed: DefaultSeed},
		TestRatio: DefaultTestRatio,
		SplitSeed: DefaultSeed,
	}
}

// Trainer fits an estimator, evaluates it on a held-out partition and persists the result.
type Trainer struct {
	config   TrainerConfig
	logger   *zap.Logger
	now      func() time.Time
	artifact *Artifact
}

func NewTrainer(config TrainerConfig, logger *zap.Logger) *Trainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trainer{config: config, logger: logger, now: time.Now}
}

// Train fits on dataset, or on a synthetic dataset when dataset is nil.
func (t *Trainer) Train(dataset *Dataset) error {
	if dataset == nil {
		dataset = GenerateSynthetic(t.config.Synthetic)
		t.logger.Info("generated synthetic dataset",
			zap.Int("samples", dataset.Len()),
			zap.Int64("seed", t.config.Synthetic.Seed),
			zap.Bool("seasonal", t.config.Synthetic.Seasonal))
	}
	if dataset.Len() == 0 {
		return errors.New("dataset is empty")
	}
	for i, row := range dataset.Features {
		if len(row) != FeatureCount {
			return fmt.Errorf("row %d has %d features, expected %d", i, len(row), FeatureCount)
		}
	}

	train, test := Split(dataset, t.config.TestRatio, t.config.SplitSeed)
	if test.Len() == 0 {
		t.logger.Warn("evaluation partition is empty, evaluating on the training partition")
		test = train
	}

	estimator, err := NewEstimator(t.config.Estimator)
	if err != nil {
		return err
	}
	if err := estimator.Fit(train.Features, train.Targets); err != nil {
		return fmt.Errorf("fit %s estimator: %w", estimator.Type(), err)
	}

	metrics, err := t.evaluate(estimator, train, test)
	if err != nil {
		return err
	}
	t.artifact = &Artifact{Estimator: estimator, Metrics: metrics}

	t.logger.Info("model trained",
		zap.String("estimator", estimator.Type()),
		zap.Int("train_samples", train.Len()),
		zap.Int("test_samples", test.Len()),
		zap.Float64("r2", metrics[MetricR2]),
		zap.Float64("rmse", metrics[MetricRMSE]))
	return nil
}

func (t *Trainer) evaluate(estimator Estimator, train, test *Dataset) (Metrics, error) {
	r2, rmse, err := Evaluate(estimator, test)
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	trainR2, _, err := Evaluate(estimator, train)
	if err != nil {
		return nil, fmt.Errorf("evaluate training partition: %w", err)
	}

	metrics := Metrics{
		MetricR2:           finiteOrZero(r2),
		MetricRMSE:         finiteOrZero(rmse),
		MetricTrainR2:      finiteOrZero(trainR2),
		MetricTrainSamples: float64(train.Len()),
		MetricTestSamples:  float64(test.Len()),
		MetricTrainedAt:    float64(t.now().Unix()),
	}
	if lr, ok := estimator.(*LinearRegression); ok {
		metrics[MetricIntercept] = lr.Intercept
	}
	if imp, ok := estimator.(Importancer); ok {
		for i, value := range imp.Importances() {
			if i < len(featureNames) {
				metrics[ImportanceMetric(featureNames[i])] = finiteOrZero(value)
			}
		}
	}
	return metrics, nil
}

func (t *Trainer) Artifact() (*Artifact, error) {
	if t.artifact == nil {
		return nil, ErrModelNotTrained
	}
	return t.artifact, nil
}

func (t *Trainer) Metrics() (Metrics, error) {
	if t.artifact == nil {
		return nil, ErrModelNotTrained
	}
	return t.artifact.Metrics.Clone(), nil
}

// Save persists the trained artifact. It fails with ErrModelNotTrained before Train.
func (t *Trainer) Save(path string) error {
	if t.artifact == nil {
		return ErrModelNotTrained
	}
	if err := SaveArtifact(path, t.artifact); err != nil {
		return fmt.Errorf("save artifact: %w", err)
	}
	t.logger.Info("model saved", zap.String("path", path))
	return nil
}

func finiteOrZero(value float64) float64 {
	if !isFinite(value) {
		return 0
	}
	return value
}
