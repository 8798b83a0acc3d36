package inference

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// Shape is the spatial geometry and channel count a model expects.
type Shape struct {
	Height   int `json:"height"`
	Width    int `json:"width"`
	Channels int `json:"channels"`
}

// Size is the number of values in one input tensor.
func (s Shape) Size() int {
	return s.Height * s.Width * s.Channels
}

func (s Shape) String() string {
	return fmt.Sprintf("%dx%dx%d", s.Height, s.Width, s.Channels)
}

// Model is the forward pass of a trained classifier. Implementations must not
// mutate their parameters after construction so that Forward is safe to call
// from many goroutines at once.
type Model interface {
	InputShape() Shape
	Classes() int
	Forward(input []float32) ([]float32, error)
}

// Artifact is the on-disk representation of a trained dense classifier.
type Artifact struct {
	Name       string      `json:"name"`
	Input      Shape       `json:"input"`
	Scale      float32     `json:"scale"`
	Activation string      `json:"activation"`
	Labels     []string    `json:"labels,omitempty"`
	Weights    [][]float32 `json:"weights"`
	Bias       []float32   `json:"bias"`
}

// DenseModel is a single fully connected layer followed by an optional
// softmax, operating on an HWC tensor flattened row-major.
type DenseModel struct {
	shape   Shape
	weights [][]float32
	bias    []float32
	softmax bool
}

// NewDenseModel validates artifact dimensions and builds the model.
func NewDenseModel(a *Artifact) (*DenseModel, error) {
	if a.Input.Height <= 0 || a.Input.Width <= 0 {
		return nil, fmt.Errorf("inference: invalid input geometry %s", a.Input)
	}
	if a.Input.Channels != 1 && a.Input.Channels != 3 {
		return nil, fmt.Errorf("inference: unsupported channel count %d", a.Input.Channels)
	}
	if len(a.Weights) == 0 {
		return nil, fmt.Errorf("inference: model has no classes")
	}
	if len(a.Bias) != len(a.Weights) {
		return nil, fmt.Errorf("inference: bias has %d entries, weights have %d rows", len(a.Bias), len(a.Weights))
	}
	size := a.Input.Size()
	for i, row := range a.Weights {
		if len(row) != size {
			return nil, fmt.Errorf("inference: weight row %d has %d entries, want %d", i, len(row), size)
		}
	}

	var softmax bool
	switch a.Activation {
	case "", "softmax":
		softmax = true
	case "linear":
	default:
		return nil, fmt.Errorf("inference: unknown activation %q", a.Activation)
	}

	return &DenseModel{
		shape:   a.Input,
		weights: a.Weights,
		bias:    a.Bias,
		softmax: softmax,
	}, nil
}

// InputShape implements Model.
func (m *DenseModel) InputShape() Shape { return m.shape }

// Classes implements Model.
func (m *DenseModel) Classes() int { return len(m.weights) }

// Forward implements Model.
func (m *DenseModel) Forward(input []float32) ([]float32, error) {
	if len(input) != m.shape.Size() {
		return nil, fmt.Errorf("input has %d values, model expects %d (%s)", len(input), m.shape.Size(), m.shape)
	}
	out := make([]float32, len(m.weights))
	for c, row := range m.weights {
		sum := m.bias[c]
		for i, w := range row {
			sum += w * input[i]
		}
		out[c] = sum
	}
	if m.softmax {
		softmaxInPlace(out)
	}
	return out, nil
}

func softmaxInPlace(v []float32) {
	maxVal := v[0]
	for _, x := range v[1:] {
		if x > maxVal {
			maxVal = x
		}
	}
	var total float64
	for i, x := range v {
		e := math.Exp(float64(x - maxVal))
		v[i] = float32(e)
		total += e
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / total)
	}
}

// ReadArtifact decodes a model artifact from path.
func ReadArtifact(path string) (*Artifact, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("inference: read model artifact: %w", err)
	}
	var a Artifact
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("inference: parse model artifact: %w", err)
	}
	return &a, nil
}
