// Package httpclient delegates classification to a remote compute service
// over HTTP.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/example/imageclassify/internal/imageprocessor"
	"github.com/example/imageclassify/internal/logging"
)

// ErrRemote marks a failure reported by, or talking to, the remote service.
var ErrRemote = errors.New("httpclient: remote classification failed")

// Options configures a Classifier.
type Options struct {
	// URL receives a multipart POST with the image in the "file" field.
	URL     string
	Timeout time.Duration
	// Labels is the label table remote answers are validated against.
	Labels []string
	Logger *zap.Logger
}

// Classifier is an imageprocessor.Backend backed by a remote HTTP service.
type Classifier struct {
	client *resty.Client
	url    string
	labels []string
	logger *zap.Logger
}

type classifyResponse struct {
	Prediction     []float32 `json:"prediction"`
	PredictedLabel string    `json:"predicted_label"`
	Error          string    `json:"error"`
}

// NewClassifier builds a remote HTTP backend.
func NewClassifier(opts Options) (*Classifier, error) {
	url := strings.TrimSpace(opts.URL)
	if url == "" {
		return nil, errors.New("httpclient: url is required")
	}
	if len(opts.Labels) == 0 {
		return nil, errors.New("httpclient: label table is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().SetHeader("Accept", "application/json")
	if opts.Timeout > 0 {
		client.SetTimeout(opts.Timeout)
	}
	return &Classifier{
		client: client,
		url:    url,
		labels: opts.Labels,
		logger: logger.Named("http_classifier"),
	}, nil
}

// Classify uploads image to the remote service and validates its answer.
func (c *Classifier) Classify(ctx context.Context, jobID string, image io.Reader) (*imageprocessor.Prediction, error) {
	var body classifyResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetFileReader("file", jobID, image).
		SetResult(&body).
		SetError(&body).
		Post(c.url)
	if err != nil {
		wrapped := logging.NewOperationError("httpclient.classify", jobID, fmt.Errorf("%w: %v", ErrRemote, err))
		c.logger.Error("remote classification call failed", zap.Error(wrapped))
		return nil, wrapped
	}
	if resp.IsError() || body.Error != "" {
		wrapped := logging.NewOperationError("httpclient.classify", jobID,
			fmt.Errorf("%w: status %d: %s", ErrRemote, resp.StatusCode(), body.Error))
		c.logger.Error("remote classification rejected image", zap.Error(wrapped))
		return nil, wrapped
	}

	prediction := &imageprocessor.Prediction{Label: body.PredictedLabel, Scores: body.Prediction}
	if err := imageprocessor.Validate(prediction, c.labels); err != nil {
		return nil, logging.NewOperationError("httpclient.validate", jobID, err)
	}
	return prediction, nil
}
