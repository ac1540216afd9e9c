package ml

import (
	"errors"
	"fmt"
)

var (
	ErrModelNotTrained  = errors.New("model not trained")
	ErrArtifactMissing  = errors.New("model artifact missing")
	ErrArtifactCorrupt  = errors.New("model artifact corrupt")
	ErrPredictionFailed = errors.New("prediction failed")
)

// ValidationError reports client input that cannot be mapped onto a feature vector.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func newValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is, or wraps, a *ValidationError.
func IsValidation(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}
