package ml

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var exampleVector = FeatureVector{1200, 1100, 1300, 500}

func newTestTrainer(t *testing.T, estimator string) *Trainer {
	t.Helper()
	config := DefaultTrainerConfig()
	config.Estimator.Type = estimator
	trainer := NewTrainer(config, zaptest.NewLogger(t))
	trainer.now = func() time.Time { return time.Unix(1700000000, 0) }
	return trainer
}

func TestTrainerSaveBeforeTrain(t *testing.T) {
	trainer := newTestTrainer(t, LinearEstimatorType)
	err := trainer.Save(filepath.Join(t.TempDir(), "model.json"))
	assert.ErrorIs(t, err, ErrModelNotTrained)

	_, err = trainer.Metrics()
	assert.ErrorIs(t, err, ErrModelNotTrained)
}

func TestTrainerIsDeterministic(t *testing.T) {
	for _, estimator := range []string{LinearEstimatorType, TreeEstimatorType} {
		t.Run(estimator, func(t *testing.T) {
			first := newTestTrainer(t, estimator)
			require.NoError(t, first.Train(nil))
			second := newTestTrainer(t, estimator)
			second.now = func() time.Time { return time.Unix(1800000000, 0) }
			require.NoError(t, second.Train(nil))

			a, err := first.Metrics()
			require.NoError(t, err)
			b, err := second.Metrics()
			require.NoError(t, err)
			delete(a, MetricTrainedAt)
			delete(b, MetricTrainedAt)
			assert.InDeltaMapValues(t, a, b, 1e-9)
		})
	}
}

func TestTrainerLinearMetrics(t *testing.T) {
	trainer := newTestTrainer(t, LinearEstimatorType)
	require.NoError(t, trainer.Train(nil))

	metrics, err := trainer.Metrics()
	require.NoError(t, err)
	assert.Greater(t, metrics[MetricR2], 0.75)
	assert.Greater(t, metrics[MetricRMSE], 0.0)
	assert.Less(t, metrics[MetricRMSE], 200.0)
	assert.Equal(t, 800.0, metrics[MetricTrainSamples])
	assert.Equal(t, 200.0, metrics[MetricTestSamples])
	assert.Equal(t, 1700000000.0, metrics[MetricTrainedAt])
	assert.Contains(t, metrics, MetricIntercept)
	assert.InDelta(t, 1.10, metrics[ImportanceMetric("upcoming_commitments")], 0.1)
}

func TestTrainerExamplePredictionIsPlausible(t *testing.T) {
	for _, estimator := range []string{LinearEstimatorType, TreeEstimatorType} {
		t.Run(estimator, func(t *testing.T) {
			trainer := newTestTrainer(t, estimator)
			require.NoError(t, trainer.Train(nil))
			artifact, err := trainer.Artifact()
			require.NoError(t, err)

			got, err := artifact.Estimator.Predict(exampleVector)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, got, 1500.0)
			assert.LessOrEqual(t, got, 3500.0)
		})
	}
}

func TestTrainerArtifactRoundTrip(t *testing.T) {
	for _, estimator := range []string{LinearEstimatorType, TreeEstimatorType} {
		t.Run(estimator, func(t *testing.T) {
			trainer := newTestTrainer(t, estimator)
			require.NoError(t, trainer.Train(nil))
			path := filepath.Join(t.TempDir(), "nested", "model.json")
			require.NoError(t, trainer.Save(path))

			original, err := trainer.Artifact()
			require.NoError(t, err)
			loaded, err := LoadArtifact(path)
			require.NoError(t, err)
			assert.Equal(t, original.Metrics, loaded.Metrics)
			assert.Equal(t, estimator, loaded.Estimator.Type())

			probes := append(GenerateSynthetic(SyntheticConfig{Samples: 25, Seed: 99}).Features, exampleVector)
			for _, probe := range probes {
				want, err := original.Estimator.Predict(probe)
				require.NoError(t, err)
				got, err := loaded.Estimator.Predict(probe)
				require.NoError(t, err)
				assert.Equal(t, want, got)
			}
		})
	}
}

func TestTrainerWithProvidedDataset(t *testing.T) {
	dataset := &Dataset{
		Features: [][]float64{
			{1200, 1100, 1300, 500},
			{1100, 1000, 1200, 400},
			{1300, 1200, 1400, 600},
			{1000, 900, 1100, 300},
			{1400, 1300, 1500, 700},
		},
		Targets: []float64{2000, 1800, 2300, 1600, 2500},
	}
	trainer := newTestTrainer(t, LinearEstimatorType)
	require.NoError(t, trainer.Train(dataset))

	metrics, err := trainer.Metrics()
	require.NoError(t, err)
	assert.Equal(t, 4.0, metrics[MetricTrainSamples])
	assert.Equal(t, 1.0, metrics[MetricTestSamples])
	for name, value := range metrics {
		assert.True(t, isFinite(value), "metric %s is not finite", name)
	}
}

func TestTrainerRejectsWrongWidth(t *testing.T) {
	trainer := newTestTrainer(t, LinearEstimatorType)
	err := trainer.Train(&Dataset{Features: [][]float64{{1, 2}}, Targets: []float64{3}})
	assert.Error(t, err)
}

func TestTrainerUnknownEstimator(t *testing.T) {
	trainer := newTestTrainer(t, "forest")
	assert.Error(t, trainer.Train(nil))
}
