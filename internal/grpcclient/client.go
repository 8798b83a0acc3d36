package grpcclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/imageclassify/internal/imageprocessor"
	"github.com/example/imageclassify/internal/logging"
)

const (
	// ServiceName is the fully qualified gRPC service of the remote classifier.
	ServiceName = "imageclassify.v1.Classifier"
	// ClassifyMethod takes a google.protobuf.BytesValue holding the image and
	// answers a google.protobuf.Struct shaped like the result JSON.
	ClassifyMethod = "/" + ServiceName + "/Classify"
)

// ErrRemote marks a failure reported by, or talking to, the remote classifier.
var ErrRemote = errors.New("grpcclient: remote classification failed")

// DialClassifier returns a ready-to-use gRPC backend for a remote classifier.
// Answers are validated against labels, which must not be empty.
func DialClassifier(ctx context.Context, addr string, labels []string, logger *zap.Logger, opts ...grpc.DialOption) (imageprocessor.Backend, *grpc.ClientConn, error) {
	if len(labels) == 0 {
		return nil, nil, errors.New("grpcclient: label table is required")
	}
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	}, opts...)
	conn, err := grpc.DialContext(dialCtx, addr, dialOpts...)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_classifier", "", err)
		logger.Error("failed to dial classifier", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return NewClassifier(conn, labels, logger), conn, nil
}

// NewClassifier wraps an existing connection.
func NewClassifier(conn grpc.ClientConnInterface, labels []string, logger *zap.Logger) imageprocessor.Backend {
	return &grpcClassifier{conn: conn, labels: labels, logger: logger.Named("grpc_classifier")}
}

type grpcClassifier struct {
	conn   grpc.ClientConnInterface
	labels []string
	logger *zap.Logger
}

func (g *grpcClassifier) Classify(ctx context.Context, jobID string, image io.Reader) (*imageprocessor.Prediction, error) {
	data, err := io.ReadAll(image)
	if err != nil {
		return nil, logging.NewOperationError("grpcclient.read_image", jobID, err)
	}

	resp := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, ClassifyMethod, wrapperspb.Bytes(data), resp); err != nil {
		wrapped := logging.NewOperationError("grpcclient.classify", jobID, fmt.Errorf("%w: %v", ErrRemote, err))
		g.logger.Error("classifier call failed", zap.Error(wrapped))
		return nil, wrapped
	}

	prediction, err := predictionFromStruct(resp)
	if err != nil {
		return nil, logging.NewOperationError("grpcclient.decode_response", jobID, err)
	}
	if err := imageprocessor.Validate(prediction, g.labels); err != nil {
		return nil, logging.NewOperationError("grpcclient.validate", jobID, err)
	}
	return prediction, nil
}

func predictionFromStruct(s *structpb.Struct) (*imageprocessor.Prediction, error) {
	fields := s.GetFields()
	if msg := fields["error"].GetStringValue(); msg != "" {
		return nil, fmt.Errorf("%w: %s", ErrRemote, msg)
	}
	values := fields["prediction"].GetListValue().GetValues()
	scores := make([]float32, len(values))
	for i, v := range values {
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, fmt.Errorf("%w: score %d is not a number", imageprocessor.ErrInvalidPrediction, i)
		}
		scores[i] = float32(n.NumberValue)
	}
	return &imageprocessor.Prediction{
		Label:  fields["predicted_label"].GetStringValue(),
		Scores: scores,
	}, nil
}

func predictionToStruct(p *imageprocessor.Prediction) *structpb.Struct {
	values := make([]*structpb.Value, len(p.Scores))
	for i, s := range p.Scores {
		values[i] = structpb.NewNumberValue(float64(s))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"predicted_label": structpb.NewStringValue(p.Label),
		"prediction":      structpb.NewListValue(&structpb.ListValue{Values: values}),
	}}
}
