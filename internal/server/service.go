package server

import (
	"context"
	"fmt"

	"github.com/cybershield-x/shield/internal/engine"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	scoreAppMethod = "/shield.v1.ScoringService/ScoreApp"
	scoreURLMethod = "/shield.v1.ScoringService/ScoreURL"
)

// ScoringServiceServer is the server side of shield.v1.ScoringService.
type ScoringServiceServer interface {
	ScoreApp(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ScoreURL(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

func unaryHandler(method string, call func(ScoringServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ScoringServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ScoringServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ScoringServiceDesc describes shield.v1.ScoringService.
var ScoringServiceDesc = grpc.ServiceDesc{
	ServiceName: "shield.v1.ScoringService",
	HandlerType: (*ScoringServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ScoreApp", Handler: unaryHandler(scoreAppMethod, ScoringServiceServer.ScoreApp)},
		{MethodName: "ScoreURL", Handler: unaryHandler(scoreURLMethod, ScoringServiceServer.ScoreURL)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "shield/v1/scoring.proto",
}

// RegisterScoringServer registers srv on s.
func RegisterScoringServer(s grpc.ServiceRegistrar, srv ScoringServiceServer) {
	s.RegisterService(&ScoringServiceDesc, srv)
}

// ScoringClient is a typed client for shield.v1.ScoringService.
type ScoringClient struct {
	cc grpc.ClientConnInterface
}

// NewScoringClient wraps a connection.
func NewScoringClient(cc grpc.ClientConnInterface) *ScoringClient {
	return &ScoringClient{cc: cc}
}

// ScoreApp scores a profile remotely.
func (c *ScoringClient) ScoreApp(ctx context.Context, p *engine.AppProfile, opts ...grpc.CallOption) (*engine.RiskAssessment, error) {
	req, err := ProfileToStruct(p)
	if err != nil {
		return nil, fmt.Errorf("ScoreApp: %w", err)
	}
	resp := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, scoreAppMethod, req, resp, opts...); err != nil {
		return nil, err
	}
	return AppResultFromStruct(resp)
}

// ScoreURL scores a URL remotely.
func (c *ScoringClient) ScoreURL(ctx context.Context, url string, opts ...grpc.CallOption) (*engine.URLAssessment, error) {
	req, err := structpb.NewStruct(map[string]any{"url": url})
	if err != nil {
		return nil, fmt.Errorf("ScoreURL: %w", err)
	}
	resp := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, scoreURLMethod, req, resp, opts...); err != nil {
		return nil, err
	}
	return URLResultFromStruct(resp)
}
