package ml

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

const LinearEstimatorType = "linear"

// singular values below this fraction of the largest are treated as zero, so collinear
// spending columns still produce the minimum-norm fit.
const linearRankTolerance = 1e-12

// LinearRegression is an ordinary least squares fit with an intercept term.
type LinearRegression struct {
	Intercept    float64   `json:"intercept"`
	Coefficients []float64 `json:"coefficients"`
}

func NewLinearRegression() *LinearRegression {
	return &LinearRegression{}
}

func (lr *LinearRegression) Type() string {
	return LinearEstimatorType
}

func (lr *LinearRegression) Fit(features [][]float64, targets []float64) error {
	if err := checkTrainingSet(features, targets); err != nil {
		return err
	}
	rows, cols := len(features), len(features[0])

	design := mat.NewDense(rows, cols+1, nil)
	for i, row := range features {
		design.Set(i, 0, 1)
		for j, value := range row {
			design.Set(i, j+1, value)
		}
	}
	y := mat.NewVecDense(rows, append([]float64(nil), targets...))

	var svd mat.SVD
	if ok := svd.Factorize(design, mat.SVDThin); !ok {
		return errors.New("linear regression: SVD factorization failed")
	}
	rank := svd.Rank(linearRankTolerance)
	if rank == 0 {
		return errors.New("linear regression: design matrix has rank 0")
	}

	var beta mat.VecDense
	svd.SolveVecTo(&beta, y, rank)

	coefficients := make([]float64, cols)
	for j := range coefficients {
		coefficients[j] = beta.AtVec(j + 1)
	}
	lr.Intercept = beta.AtVec(0)
	lr.Coefficients = coefficients
	return nil
}

func (lr *LinearRegression) Predict(features []float64) (float64, error) {
	if len(lr.Coefficients) == 0 {
		return 0, ErrModelNotTrained
	}
	if len(features) != len(lr.Coefficients) {
		return 0, fmt.Errorf("linear regression: expected %d features, got %d", len(lr.Coefficients), len(features))
	}
	prediction := lr.Intercept
	for i, value := range features {
		prediction += lr.Coefficients[i] * value
	}
	return prediction, nil
}

// Importances uses coefficient magnitudes as an importance proxy.
func (lr *LinearRegression) Importances() []float64 {
	importances := make([]float64, len(lr.Coefficients))
	for i, coef := range lr.Coefficients {
		importances[i] = math.Abs(coef)
	}
	return importances
}

func (lr *LinearRegression) validate() error {
	if len(lr.Coefficients) == 0 {
		return errors.New("no coefficients")
	}
	if !isFinite(lr.Intercept) {
		return errors.New("intercept is not finite")
	}
	for _, coef := range lr.Coefficients {
		if !isFinite(coef) {
			return errors.New("coefficient is not finite")
		}
	}
	return nil
}

func checkTrainingSet(features [][]float64, targets []float64) error {
	if len(features) == 0 || len(targets) == 0 {
		return errors.New("features or targets empty")
	}
	if len(features) != len(targets) {
		return errors.New("features and targets size mismatch")
	}
	width := len(features[0])
	if width == 0 {
		return errors.New("feature rows are empty")
	}
	for i, row := range features {
		if len(row) != width {
			return fmt.Errorf("row %d has %d features, expected %d", i, len(row), width)
		}
	}
	return nil
}

func isFinite(value float64) bool {
	return !math.IsNaN(value) && !math.IsInf(value, 0)
}
