package ml

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	MetricR2           = "r2"
	MetricRMSE         = "rmse"
	MetricTrainR2      = "train_r2"
	MetricIntercept    = "intercept"
	MetricTrainSamples = "train_samples"
	MetricTestSamples  = "test_samples"
	MetricTrainedAt    = "trained_at"
	importancePrefix   = "importance_"
)

// ImportanceMetric names the importance entry of a feature.
func ImportanceMetric(feature string) string {
	return importancePrefix + feature
}

// Evaluate returns the coefficient of determination and the root-mean-squared error of
// the estimator on the dataset.
func Evaluate(estimator Estimator, dataset *Dataset) (r2, rmse float64, err error) {
	if dataset.Len() == 0 {
		return 0, 0, errors.New("evaluation set is empty")
	}
	predictions := make([]float64, dataset.Len())
	for i, features := range dataset.Features {
		predictions[i], err = estimator.Predict(features)
		if err != nil {
			return 0, 0, err
		}
	}
	r2 = stat.RSquaredFrom(predictions, dataset.Targets, nil)
	rmse = floats.Distance(predictions, dataset.Targets, 2) / math.Sqrt(float64(dataset.Len()))
	return r2, rmse, nil
}
