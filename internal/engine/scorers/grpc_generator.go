package scorers

import (
	"context"
	"fmt"
	"time"

	"github.com/cybershield-x/shield/internal/engine"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const analysisGenerateMethod = "/shield.v1.AnalysisService/Generate"

// AnalysisServer is the server side of the analysis service. Requests carry
// {"prompt": string}; responses carry {"text": string}.
type AnalysisServer interface {
	Generate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

func analysisGenerateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AnalysisServer).Generate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: analysisGenerateMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AnalysisServer).Generate(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// AnalysisServiceDesc describes shield.v1.AnalysisService.
var AnalysisServiceDesc = grpc.ServiceDesc{
	ServiceName: "shield.v1.AnalysisService",
	HandlerType: (*AnalysisServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Generate", Handler: analysisGenerateHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "shield/v1/analysis.proto",
}

// RegisterAnalysisServer registers srv on s.
func RegisterAnalysisServer(s grpc.ServiceRegistrar, srv AnalysisServer) {
	s.RegisterService(&AnalysisServiceDesc, srv)
}

// GRPCGenerator calls a self-hosted analysis model over gRPC.
type GRPCGenerator struct {
	conn   *grpc.ClientConn
	logger *zap.Logger
}

// NewGRPCGenerator dials endpoint lazily (e.g. "10.0.0.5:50052").
func NewGRPCGenerator(endpoint string, logger *zap.Logger) (*GRPCGenerator, error) {
	conn, err := grpc.NewClient(
		endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("NewGRPCGenerator: %w", err)
	}

	logger.Info("grpc analysis generator configured",
		zap.String("endpoint", endpoint),
	)

	return &GRPCGenerator{conn: conn, logger: logger}, nil
}

func (g *GRPCGenerator) Name() string { return "grpc_analysis" }

func (g *GRPCGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	req, err := structpb.NewStruct(map[string]any{"prompt": prompt})
	if err != nil {
		return "", fmt.Errorf("Generate: %w", err)
	}

	resp := new(structpb.Struct)
	if err := g.conn.Invoke(ctx, analysisGenerateMethod, req, resp); err != nil {
		if status.Code(err) == codes.DeadlineExceeded {
			return "", fmt.Errorf("Generate: %w: %w", engine.ErrRemoteUnavailable, context.DeadlineExceeded)
		}
		return "", fmt.Errorf("Generate: %w: %v", engine.ErrRemoteUnavailable, err)
	}

	text, ok := resp.GetFields()["text"]
	if !ok {
		return "", fmt.Errorf("Generate: %w: missing text field", engine.ErrMalformedResponse)
	}
	sv, ok := text.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", fmt.Errorf("Generate: %w: text is not a string", engine.ErrMalformedResponse)
	}
	return sv.StringValue, nil
}

// Close shuts down the gRPC connection.
func (g *GRPCGenerator) Close() error {
	if g.conn != nil {
		return g.conn.Close()
	}
	return nil
}
