package usecase

import (
	"errors"

	"github.com/example/imageclassify/internal/inference"
)

var (
	// ErrValidation marks bad client input.
	ErrValidation = errors.New("validation failed")
	// ErrStorage marks object store failures on a synchronous path.
	ErrStorage = errors.New("object store failure")
	// ErrBusy is returned when an accepted upload cannot be scheduled.
	ErrBusy = errors.New("job queue unavailable")
	// ErrFetch marks a raw object that is missing or unreadable.
	ErrFetch = errors.New("fetch raw object")
	// ErrDecode marks a corrupt or unsupported image.
	ErrDecode = inference.ErrDecode
	// ErrInference marks a processing backend failure.
	ErrInference = inference.ErrInference
	// ErrMetricsUnavailable is returned when no job repository is configured.
	ErrMetricsUnavailable = errors.New("metrics unavailable")
)

// failureReason names the error class recorded in the audit trail.
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrFetch):
		return "fetch"
	case errors.Is(err, ErrDecode):
		return "decode"
	case errors.Is(err, ErrInference):
		return "inference"
	default:
		return "unknown"
	}
}
