package usecase

import (
	"encoding/json"

	"github.com/example/imageclassify/internal/imageprocessor"
)

// ProcessingErrorMessage is the only error detail exposed to clients.
const ProcessingErrorMessage = "Error processing image"

const resultSuffix = ".json"

// PredictionResult is the persisted and returned outcome of a job. Exactly one
// of Error or the Prediction/PredictedLabel pair is set.
type PredictionResult struct {
	Prediction     []float32 `json:"prediction,omitempty"`
	PredictedLabel string    `json:"predicted_label,omitempty"`
	Error          string    `json:"error,omitempty"`
}

// OK reports whether the result is the success variant.
func (r *PredictionResult) OK() bool {
	return r.Error == ""
}

// SuccessResult builds the success variant from a backend prediction.
func SuccessResult(p *imageprocessor.Prediction) *PredictionResult {
	return &PredictionResult{Prediction: p.Scores, PredictedLabel: p.Label}
}

// ErrorResult builds the error variant.
func ErrorResult() *PredictionResult {
	return &PredictionResult{Error: ProcessingErrorMessage}
}

// RawKey is where the uploaded bytes of a job live.
func RawKey(jobID string) string {
	return jobID
}

// ResultKey is where the result of a job lives.
func ResultKey(jobID string) string {
	return jobID + resultSuffix
}

func decodeResult(data []byte) (*PredictionResult, error) {
	var result PredictionResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
