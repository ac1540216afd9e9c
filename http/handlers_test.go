package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"finpredict/db"
	"finpredict/ml"
)

const examplePayload = `{"past_spending": [1200, 1100, 1300], "upcoming_commitments": [500]}`

var (
	trainedOnce     sync.Once
	trainedArtifact *ml.Artifact
)

// linearArtifact trains the default linear model once per test binary.
func linearArtifact(t *testing.T) *ml.Artifact {
	t.Helper()
	trainedOnce.Do(func() {
		trainer := ml.NewTrainer(ml.DefaultTrainerConfig(), nil)
		if err := trainer.Train(nil); err != nil {
			panic(err)
		}
		trainedArtifact, _ = trainer.Artifact()
	})
	return trainedArtifact
}

type countingEstimator struct {
	value float64
	err   error
	calls atomic.Int32
}

func (c *countingEstimator) Type() string { return "counting" }
func (c *countingEstimator) Fit(_ [][]float64, _ []float64) error { return nil }

func (c *countingEstimator) Predict(features []float64) (float64, error) {
	c.calls.Add(1)
	return c.value, c.err
}

type memoryRecorder struct {
	mu      sync.Mutex
	records []db.PredictionRecord
	err     error
}

func (m *memoryRecorder) SavePrediction(ctx context.Context, record db.PredictionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, record)
	return m.err
}

func newTestMux(t *testing.T, artifact *ml.Artifact, recorder PredictionRecorder) *http.ServeMux {
	t.Helper()
	predictor, err := ml.NewPredictor(artifact)
	require.NoError(t, err)
	handlers, err := NewHandlers(predictor, recorder, zaptest.NewLogger(t))
	require.NoError(t, err)
	handlers.now = func() time.Time { return time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC) }

	mux := http.NewServeMux()
	handlers.Register(mux, nil)
	return mux
}

func serve(handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload), "body: %s", w.Body.String())
	return payload
}

func TestNewHandlersRequiresReadyPredictor(t *testing.T) {
	_, err := NewHandlers(nil, nil, nil)
	assert.Error(t, err)
}

func TestHealthHandler(t *testing.T) {
	mux := newTestMux(t, linearArtifact(t), nil)

	w := serve(mux, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	payload := decodeBody(t, w)
	assert.Equal(t, "healthy", payload["status"])
	assert.Equal(t, "ready", payload["state"])
	assert.Equal(t, "linear", payload["estimator"])
	assert.Equal(t, "2024-05-01T09:30:00Z", payload["timestamp"])
	info, ok := payload["model_info"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, info, ml.MetricR2)
}

func TestPredictHandler(t *testing.T) {
	recorder := &memoryRecorder{}
	mux := newTestMux(t, linearArtifact(t), recorder)

	w := serve(mux, http.MethodPost, "/api/predict", examplePayload)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	payload := decodeBody(t, w)
	predicted, ok := payload["predicted_expenses"].(float64)
	require.True(t, ok)
	assert.GreaterOrEqual(t, predicted, 1500.0)
	assert.LessOrEqual(t, predicted, 3500.0)
	assert.Equal(t, 0.85, payload["confidence_score"])
	assert.Equal(t, "2024-05-01T09:30:00Z", payload["timestamp"])
	assert.Contains(t, payload["model_metrics"], ml.MetricRMSE)

	require.Len(t, recorder.records, 1)
	assert.Equal(t, []float64{1200, 1100, 1300, 500}, recorder.records[0].Features)
	assert.Equal(t, predicted, recorder.records[0].PredictedExpenses)
}

func TestPredictHandlerRecorderFailureIsNotFatal(t *testing.T) {
	mux := newTestMux(t, linearArtifact(t), &memoryRecorder{err: errors.New("disk full")})

	w := serve(mux, http.MethodPost, "/api/predict", examplePayload)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPredictHandlerRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		message string
	}{
		{name: "empty body", body: "", message: "no data provided"},
		{name: "empty object", body: `{}`, message: "no data provided"},
		{name: "malformed json", body: `{"past_spending": [1,2`, message: "invalid JSON body"},
		{name: "trailing data", body: examplePayload + ` garbage`, message: "invalid JSON body"},
		{name: "second object", body: examplePayload + examplePayload, message: "invalid JSON body"},
		{name: "missing commitments", body: `{"past_spending": [1200, 1100, 1300]}`, message: "upcoming_commitments"},
		{name: "missing history", body: `{"upcoming_commitments": [500]}`, message: "past_spending"},
		{name: "null field", body: `{"past_spending": null, "upcoming_commitments": [500]}`, message: "past_spending"},
		{name: "short history", body: `{"past_spending": [1200, 1100], "upcoming_commitments": [500]}`, message: "invalid input dimensions"},
		{name: "extra commitment", body: `{"past_spending": [1200, 1100, 1300], "upcoming_commitments": [500, 20]}`, message: "invalid input dimensions"},
		{name: "strings", body: `{"past_spending": ["a", "b", "c"], "upcoming_commitments": [500]}`, message: "array of numbers"},
		{name: "negative", body: `{"past_spending": [1200, 1100, 1300], "upcoming_commitments": [-5]}`, message: "non-negative"},
	}

	estimator := &countingEstimator{value: 1}
	mux := newTestMux(t, &ml.Artifact{Estimator: estimator}, nil)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(mux, http.MethodPost, "/api/predict", tt.body)
			require.Equal(t, http.StatusBadRequest, w.Code)
			payload := decodeBody(t, w)
			assert.Contains(t, payload["error"], tt.message)
		})
	}
	assert.Zero(t, estimator.calls.Load(), "invalid input must not reach the estimator")
}

func TestPredictHandlerAcceptsTrailingWhitespace(t *testing.T) {
	mux := newTestMux(t, linearArtifact(t), nil)

	w := serve(mux, http.MethodPost, "/api/predict", examplePayload+"\n\t ")
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestPredictHandlerHidesInternalErrors(t *testing.T) {
	estimator := &countingEstimator{err: errors.New("matrix exploded at /srv/models")}
	mux := newTestMux(t, &ml.Artifact{Estimator: estimator}, nil)

	w := serve(mux, http.MethodPost, "/api/predict", examplePayload)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "matrix exploded")

	payload := decodeBody(t, w)
	assert.Equal(t, "prediction_failed", payload["code"])
	assert.EqualValues(t, 1, estimator.calls.Load())
}

func TestModelMetricsHandler(t *testing.T) {
	artifact := &ml.Artifact{
		Estimator: &countingEstimator{},
		Metrics:   ml.Metrics{ml.MetricR2: 0.84, ml.MetricRMSE: 101.25},
	}
	mux := newTestMux(t, artifact, nil)

	w := serve(mux, http.MethodGet, "/api/model/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"r2":0.84,"rmse":101.25}`, w.Body.String())
}

func TestExpensesHandler(t *testing.T) {
	mux := newTestMux(t, &ml.Artifact{Estimator: &countingEstimator{}}, nil)

	w := serve(mux, http.MethodPost, "/api/expenses", `{"category":"groceries","amount":"84.20","date":"2024-04"}`)
	require.Equal(t, http.StatusOK, w.Code)
	payload := decodeBody(t, w)
	assert.Equal(t, "success", payload["status"])
	data, ok := payload["data"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "groceries", data["category"])
	assert.Equal(t, "84.2", data["amount"])

	w = serve(mux, http.MethodPost, "/api/expenses", `{"category":"groceries","amount":-1,"date":"2024-04"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = serve(mux, http.MethodPost, "/api/expenses", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = serve(mux, http.MethodPost, "/api/expenses", `{"category":"rent","amount":"900","date":"2024-04"} {}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRoutesEnforceMethods(t *testing.T) {
	mux := newTestMux(t, &ml.Artifact{Estimator: &countingEstimator{}}, nil)

	w := serve(mux, http.MethodGet, "/api/predict", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	w = serve(mux, http.MethodPost, "/api/health", "{}")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
