package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"finpredict/db"
	"finpredict/ml"
)

// PredictionRecorder keeps an audit trail of served predictions.
type PredictionRecorder interface {
	SavePrediction(ctx context.Context, record db.PredictionRecord) error
}

// Handlers serves one loaded model. The predictor is read-only, so handlers share it
// without locking.
type Handlers struct {
	predictor *ml.Predictor
	recorder  PredictionRecorder
	logger    *zap.Logger
	now       func() time.Time
}

// NewHandlers requires a predictor in the Ready state. recorder may be nil.
func NewHandlers(predictor *ml.Predictor, recorder PredictionRecorder, logger *zap.Logger) (*Handlers, error) {
	if predictor.State() != ml.StateReady {
		return nil, errors.New("predictor is not ready")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		predictor: predictor,
		recorder:  recorder,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Register mounts the API. predictGate wraps only the predict route.
func (h *Handlers) Register(mux *http.ServeMux, predictGate Middleware) {
	var predict http.Handler = http.HandlerFunc(h.handlePredict)
	if predictGate != nil {
		predict = predictGate(predict)
	}
	mux.HandleFunc("GET /api/health", h.handleHealth)
	mux.Handle("POST /api/predict", predict)
	mux.HandleFunc("GET /api/model/metrics", h.handleModelMetrics)
	mux.HandleFunc("POST /api/expenses", h.handleExpenses)
}

type healthResponse struct {
	Status    string     `json:"status"`
	State     string     `json:"state"`
	Estimator string     `json:"estimator"`
	Timestamp time.Time  `json:"timestamp"`
	ModelInfo ml.Metrics `json:"model_info"`
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, healthResponse{
		Status:    "healthy",
		State:     h.predictor.State().String(),
		Estimator: h.predictor.EstimatorType(),
		Timestamp: h.now(),
		ModelInfo: h.predictor.Metrics(),
	})
}

func (h *Handlers) handleModelMetrics(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.predictor.Metrics())
}

type predictResponse struct {
	PredictedExpenses float64    `json:"predicted_expenses"`
	ConfidenceScore   float64    `json:"confidence_score"`
	Timestamp         time.Time  `json:"timestamp"`
	ModelMetrics      ml.Metrics `json:"model_metrics"`
}

var predictFields = []string{"past_spending", "upcoming_commitments"}

func (h *Handlers) handlePredict(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	features, err := decodePredictRequest(r.Body)
	if err != nil {
		h.logger.Debug("rejected prediction request", zap.String("request_id", requestID), zap.Error(err))
		respondError(w, bodyErrorStatus(err), err.Error())
		return
	}

	prediction, err := h.predictor.Predict(features)
	if err != nil {
		if ml.IsValidation(err) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("prediction failed", zap.String("request_id", requestID), zap.Error(err))
		respondJSON(w, http.StatusInternalServerError, map[string]string{
			"error":      "internal prediction error",
			"code":       "prediction_failed",
			"request_id": requestID,
		})
		return
	}

	now := h.now()
	h.logger.Info("prediction made",
		zap.String("request_id", requestID),
		zap.Float64("predicted_expenses", prediction.Value),
		zap.Float64("confidence", prediction.Confidence))
	if h.recorder != nil {
		if err := h.recorder.SavePrediction(r.Context(), db.PredictionRecord{
			RequestID:         requestID,
			Features:          features,
			PredictedExpenses: prediction.Value,
			Confidence:        prediction.Confidence,
			CreatedAt:         now,
		}); err != nil {
			h.logger.Warn("failed to record prediction", zap.String("request_id", requestID), zap.Error(err))
		}
	}

	respondJSON(w, http.StatusOK, predictResponse{
		PredictedExpenses: prediction.Value,
		ConfidenceScore:   prediction.Confidence,
		Timestamp:         now,
		ModelMetrics:      h.predictor.Metrics(),
	})
}

var (
	errNoData       = errors.New("no data provided")
	errInvalidJSON  = errors.New("invalid JSON body")
	errBodyTooLarge = errors.New("request body too large")
)

// decodeJSONBody decodes exactly one JSON value from body.
func decodeJSONBody(body io.Reader, v interface{}) error {
	dec := json.NewDecoder(body)
	err := dec.Decode(v)
	if err == nil {
		if _, err = dec.Token(); errors.Is(err, io.EOF) {
			return nil
		}
		if err == nil {
			return errInvalidJSON
		}
	}
	if errors.Is(err, io.EOF) {
		return errNoData
	}
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return fmt.Errorf("%w: limit is %d bytes", errBodyTooLarge, maxBytes.Limit)
	}
	return errInvalidJSON
}

// bodyErrorStatus maps a decoding failure to its response status.
func bodyErrorStatus(err error) int {
	if errors.Is(err, errBodyTooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

// decodePredictRequest turns the request body into a feature vector. Every failure is a
// client error.
func decodePredictRequest(body io.Reader) (ml.FeatureVector, error) {
	var fields map[string]json.RawMessage
	if err := decodeJSONBody(body, &fields); err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, errNoData
	}

	var missing []string
	for _, name := range predictFields {
		if raw, ok := fields[name]; !ok || string(raw) == "null" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}

	var pastSpending, upcomingCommitments []float64
	if err := json.Unmarshal(fields["past_spending"], &pastSpending); err != nil {
		return nil, errors.New("past_spending must be an array of numbers")
	}
	if err := json.Unmarshal(fields["upcoming_commitments"], &upcomingCommitments); err != nil {
		return nil, errors.New("upcoming_commitments must be an array of numbers")
	}
	return ml.BuildFeatureVector(pastSpending, upcomingCommitments)
}

func (h *Handlers) handleExpenses(w http.ResponseWriter, r *http.Request) {
	var record ml.ExpenseRecord
	if err := decodeJSONBody(r.Body, &record); err != nil {
		if errors.Is(err, errInvalidJSON) {
			err = errors.New("invalid expense record")
		}
		respondError(w, bodyErrorStatus(err), err.Error())
		return
	}
	if err := record.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"data":   record,
	})
}

// respondJSON 统一JSON响应
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
