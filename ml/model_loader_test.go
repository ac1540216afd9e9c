package ml

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadArtifactMissing(t *testing.T) {
	_, err := LoadArtifact(filepath.Join(t.TempDir(), "absent.json"))
	assert.ErrorIs(t, err, ErrArtifactMissing)
}

func TestLoadArtifactCorrupt(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "not json", content: "\x80\x04pickle"},
		{name: "unknown type", content: `{"estimator_type":"forest","estimator":{},"metrics":{}}`},
		{name: "no parameters", content: `{"estimator_type":"linear","metrics":{}}`},
		{name: "untrained linear", content: `{"estimator_type":"linear","estimator":{"intercept":1,"coefficients":[]}}`},
		{name: "linear fitted on two features", content: `{"estimator_type":"linear","estimator":{"intercept":1,"coefficients":[1,1]}}`},
		{name: "tree fitted on two features", content: `{"estimator_type":"tree","estimator":{"width":2,"nodes":[{"is_leaf":true,"value":10}]}}`},
		{name: "tree without width", content: `{"estimator_type":"tree","estimator":{"nodes":[{"is_leaf":true,"value":10}]}}`},
		{name: "bad tree children", content: `{"estimator_type":"tree","estimator":{"width":4,"nodes":[{"feature_idx":0,"left_child":0,"right_child":7}]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadArtifact(writeFile(t, tt.content))
			assert.ErrorIs(t, err, ErrArtifactCorrupt)
		})
	}
}

func TestLoadArtifactWithoutMetrics(t *testing.T) {
	path := writeFile(t, `{"estimator_type":"linear","estimator":{"intercept":100,"coefficients":[1,1,1,1]}}`)
	artifact, err := LoadArtifact(path)
	require.NoError(t, err)
	assert.NotNil(t, artifact.Metrics)

	got, err := artifact.Estimator.Predict([]float64{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, 110.0, got)
}

func TestSaveArtifactRequiresEstimator(t *testing.T) {
	err := SaveArtifact(filepath.Join(t.TempDir(), "model.json"), &Artifact{})
	assert.ErrorIs(t, err, ErrModelNotTrained)
}

func TestSaveArtifactReplacesExistingFile(t *testing.T) {
	path := writeFile(t, "old")
	artifact := &Artifact{
		Estimator: &LinearRegression{Intercept: 1, Coefficients: []float64{1, 1, 1, 1}},
		Metrics:   Metrics{MetricR2: 0.5},
	}
	require.NoError(t, SaveArtifact(path, artifact))

	loaded, err := LoadArtifact(path)
	require.NoError(t, err)
	assert.Equal(t, 0.5, loaded.Metrics[MetricR2])

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestNewEstimator(t *testing.T) {
	linear, err := NewEstimator(EstimatorConfig{})
	require.NoError(t, err)
	assert.Equal(t, LinearEstimatorType, linear.Type())

	tree, err := NewEstimator(EstimatorConfig{Type: TreeEstimatorType, MaxDepth: 4, MinLeaf: 3})
	require.NoError(t, err)
	require.IsType(t, &RegressionTree{}, tree)
	assert.Equal(t, 4, tree.(*RegressionTree).MaxDepth)

	_, err = NewEstimator(EstimatorConfig{Type: "forest"})
	assert.Error(t, err)
}
