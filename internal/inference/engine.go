// Package inference runs the trained classifier in process.
package inference

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/example/imageclassify/internal/imageprocessor"
)

var (
	// ErrDecode marks images that cannot be decoded or resized.
	ErrDecode = errors.New("inference: decode image")
	// ErrInference marks failures of the model itself, including a model that
	// was never loaded and tensors of the wrong shape.
	ErrInference = errors.New("inference: run model")
)

// DefaultScale maps 8-bit channel values onto 0.0-1.0.
const DefaultScale = float32(1.0 / 255.0)

// Engine pairs a loaded model with its label table. It is immutable after
// construction and safe for concurrent use.
type Engine struct {
	model  Model
	labels []string
	scale  float32
}

// NewEngine wraps model. labels must have one entry per model class, in
// training index order. A zero scale selects DefaultScale.
func NewEngine(model Model, labels []string, scale float32) (*Engine, error) {
	if model == nil {
		return nil, fmt.Errorf("%w: model not loaded", ErrInference)
	}
	if len(labels) != model.Classes() {
		return nil, fmt.Errorf("inference: %d labels for %d model classes", len(labels), model.Classes())
	}
	if scale == 0 {
		scale = DefaultScale
	}
	owned := make([]string, len(labels))
	copy(owned, labels)
	return &Engine{model: model, labels: owned, scale: scale}, nil
}

// LoadEngine reads a dense model artifact from path. Artifacts without a label
// table use DefaultLabels.
func LoadEngine(path string) (*Engine, error) {
	artifact, err := ReadArtifact(path)
	if err != nil {
		return nil, err
	}
	model, err := NewDenseModel(artifact)
	if err != nil {
		return nil, err
	}
	labels := artifact.Labels
	if len(labels) == 0 {
		labels = DefaultLabels()
	}
	return NewEngine(model, labels, artifact.Scale)
}

// Labels returns a copy of the label table.
func (e *Engine) Labels() []string {
	labels := make([]string, len(e.labels))
	copy(labels, e.labels)
	return labels
}

// InputShape is the geometry images are resized to.
func (e *Engine) InputShape() Shape {
	return e.model.InputShape()
}

// Predict runs the model on a preprocessed tensor.
func (e *Engine) Predict(t Tensor) (*imageprocessor.Prediction, error) {
	if e == nil || e.model == nil {
		return nil, fmt.Errorf("%w: model not loaded", ErrInference)
	}
	if want := e.model.InputShape(); t.Shape != want || len(t.Data) != want.Size() {
		return nil, fmt.Errorf("%w: tensor shape %s does not match model input %s", ErrInference, t.Shape, want)
	}
	scores, err := e.model.Forward(t.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}
	if len(scores) != len(e.labels) {
		return nil, fmt.Errorf("%w: model returned %d scores for %d labels", ErrInference, len(scores), len(e.labels))
	}
	return &imageprocessor.Prediction{
		Label:  e.labels[imageprocessor.ArgMax(scores)],
		Scores: scores,
	}, nil
}

// Classify implements imageprocessor.Backend by preprocessing and predicting
// in the calling goroutine.
func (e *Engine) Classify(ctx context.Context, jobID string, image io.Reader) (*imageprocessor.Prediction, error) {
	if e == nil || e.model == nil {
		return nil, fmt.Errorf("%w: model not loaded", ErrInference)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tensor, err := Preprocess(image, e.model.InputShape(), e.scale)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.Predict(tensor)
}
