package pipeline

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"finpredict/ml"
)

func TestRangeValidationRule(t *testing.T) {
	rule := NewRangeValidationRule()

	tests := []struct {
		name    string
		row     Row
		wantErr bool
	}{
		{name: "valid row", row: Row{Features: []float64{1200, 1100, 1300, 500}, Target: 1900}},
		{name: "negative feature", row: Row{Features: []float64{1200, -1, 1300, 500}, Target: 1900}, wantErr: true},
		{name: "short row", row: Row{Features: []float64{1200, 1100, 1300}, Target: 1900}, wantErr: true},
		{name: "nan target", row: Row{Features: []float64{1200, 1100, 1300, 500}, Target: math.NaN()}, wantErr: true},
		{name: "negative target", row: Row{Features: []float64{1200, 1100, 1300, 500}, Target: -3}, wantErr: true},
		{name: "absurd amount", row: Row{Features: []float64{1200, 1100, 2e7, 500}, Target: 1900}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := rule.Apply(&tt.row)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDuplicateDetectionRule(t *testing.T) {
	rule := NewDuplicateDetectionRule()

	require.NoError(t, rule.Apply(&Row{Line: 2, Features: []float64{1, 2, 3, 4}, Target: 5}))
	require.NoError(t, rule.Apply(&Row{Line: 3, Features: []float64{1, 2, 3, 4}, Target: 6}))

	err := rule.Apply(&Row{Line: 4, Features: []float64{1, 2, 3, 4}, Target: 5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestOutlierDetectionRule(t *testing.T) {
	dataset := ml.GenerateSynthetic(ml.SyntheticConfig{Samples: 500, Seed: 7})
	rule := NewOutlierDetectionRule(dataset, 4)

	typical := &Row{Features: []float64{1200, 1100, 1300, 500}, Target: 1900}
	assert.NoError(t, rule.Apply(typical))

	extreme := &Row{Features: []float64{1200, 1100, 1300, 5000}, Target: 1900}
	err := rule.Apply(extreme)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upcoming_commitments")
}

func TestOutlierDetectionRuleNeedsTwoRows(t *testing.T) {
	dataset := &ml.Dataset{Features: [][]float64{{1, 2, 3, 4}}, Targets: []float64{5}}
	rule := NewOutlierDetectionRule(dataset, 0)

	assert.Equal(t, DefaultOutlierThreshold, rule.StdDevThreshold)
	assert.NoError(t, rule.Apply(&Row{Features: []float64{1e6, 2, 3, 4}, Target: 5}))
}

type rejectLine struct{ line int }

func (r rejectLine) Name() string { return "reject_line" }

func (r rejectLine) Apply(row *Row) error {
	if row.Line == r.line {
		return errors.New("rejected")
	}
	return nil
}

func TestDataCleanerClean(t *testing.T) {
	dataset := &ml.Dataset{
		Features: [][]float64{
			{1200, 1100, 1300, 500},
			{1250, 1150, 1350, 450},
			{1200, 1100, 1300, 500},
			{1300, -20, 1250, 550},
			{1180, 1090, 1310, 480},
		},
		Targets: []float64{1900, 1950, 1900, 2000, 1880},
	}

	cleaner := NewDataCleaner(zaptest.NewLogger(t), NewRangeValidationRule(), NewDuplicateDetectionRule())
	cleaner.AddRule(rejectLine{line: 6})

	cleaned, issues := cleaner.Clean(dataset)
	require.Equal(t, 2, cleaned.Len())
	assert.Equal(t, []float64{1900, 1950}, cleaned.Targets)
	assert.Equal(t, 5, dataset.Len(), "input is not modified")

	require.Len(t, issues, 3)
	assert.Equal(t, "duplicate_detection", issues[0].Rule)
	assert.Equal(t, 4, issues[0].Line)
	assert.Equal(t, "range_validation", issues[1].Rule)
	assert.Equal(t, 5, issues[1].Line)
	assert.Equal(t, "reject_line", issues[2].Rule)

	stats := cleaner.GetStats()
	assert.EqualValues(t, 5, stats.TotalProcessed)
	assert.EqualValues(t, 2, stats.Passed)
	assert.EqualValues(t, 3, stats.Rejected)
	assert.EqualValues(t, 1, stats.Issues["duplicate_detection"])
	assert.False(t, stats.LastClean.IsZero())
}

func TestDataCleanerKeepsSyntheticData(t *testing.T) {
	dataset := ml.GenerateSynthetic(ml.SyntheticConfig{Samples: 300, Seed: 42})
	cleaner := NewDataCleaner(nil, DefaultRules(dataset)...)

	cleaned, issues := cleaner.Clean(dataset)
	assert.Empty(t, issues)
	assert.Equal(t, dataset.Len(), cleaned.Len())
}
