package grpcclient

import (
	"bytes"
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/imageclassify/internal/imageprocessor"
	"github.com/example/imageclassify/internal/logging"
)

type classifierServer struct {
	backend imageprocessor.Backend
	logger  *zap.Logger
}

// RegisterClassifierServer exposes backend as the Classifier service, letting
// one process act as the remote compute service of another.
func RegisterClassifierServer(registrar grpc.ServiceRegistrar, backend imageprocessor.Backend, logger *zap.Logger) {
	registrar.RegisterService(&classifierServiceDesc, &classifierServer{
		backend: backend,
		logger:  logger.Named("grpc_classifier_server"),
	})
}

var classifierServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*interface{})(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Classify", Handler: classifyHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func classifyHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	s := srv.(*classifierServer)
	if interceptor == nil {
		return s.classify(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ClassifyMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return s.classify(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func (s *classifierServer) classify(ctx context.Context, in *wrapperspb.BytesValue) (interface{}, error) {
	prediction, err := s.backend.Classify(ctx, "", bytes.NewReader(in.GetValue()))
	if err != nil {
		logging.WithOperation(s.logger, "grpcclient.serve_classify", "").Warn("classification failed", zap.Error(err))
		return nil, status.Error(codes.InvalidArgument, "Error processing image")
	}
	return predictionToStruct(prediction), nil
}
