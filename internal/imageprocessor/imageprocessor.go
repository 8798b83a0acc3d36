package imageprocessor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
)

// Prediction is the outcome of classifying one image.
type Prediction struct {
	Label  string
	Scores []float32
}

// Backend runs the classification of an uploaded image. Implementations may
// run the model in process or delegate to a remote compute service.
type Backend interface {
	Classify(ctx context.Context, jobID string, image io.Reader) (*Prediction, error)
}

// ErrInvalidPrediction is returned when a backend answer does not fit the
// label table.
var ErrInvalidPrediction = errors.New("imageprocessor: invalid prediction")

// ArgMax returns the index of the largest score. Ties resolve to the lowest
// index; an empty slice yields -1.
func ArgMax(scores []float32) int {
	if len(scores) == 0 {
		return -1
	}
	best := 0
	for i, s := range scores {
		if s > scores[best] {
			best = i
		}
	}
	return best
}

// Validate checks that a prediction carries one finite score per label and
// that its label is the arg-max entry of labels.
func Validate(p *Prediction, labels []string) error {
	if len(labels) == 0 {
		return fmt.Errorf("%w: no label table", ErrInvalidPrediction)
	}
	if p == nil {
		return fmt.Errorf("%w: empty prediction", ErrInvalidPrediction)
	}
	if len(p.Scores) != len(labels) {
		return fmt.Errorf("%w: got %d scores, want %d", ErrInvalidPrediction, len(p.Scores), len(labels))
	}
	for i, s := range p.Scores {
		if math.IsNaN(float64(s)) || math.IsInf(float64(s), 0) {
			return fmt.Errorf("%w: score %d is not finite", ErrInvalidPrediction, i)
		}
	}
	if want := labels[ArgMax(p.Scores)]; p.Label != want {
		return fmt.Errorf("%w: label %q does not match arg-max label %q", ErrInvalidPrediction, p.Label, want)
	}
	return nil
}
