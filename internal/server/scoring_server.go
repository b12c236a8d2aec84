package server

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cybershield-x/shield/internal/auth"
	"github.com/cybershield-x/shield/internal/engine"
	"github.com/cybershield-x/shield/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ScoringServer implements the ScoringService gRPC service.
type ScoringServer struct {
	provider engine.Provider
	auth     auth.Authenticator // nil disables auth
	writer   storage.EventWriter
	logger   *zap.Logger
}

// NewScoringServer creates a new ScoringServer with the given dependencies.
func NewScoringServer(
	provider engine.Provider,
	authenticator auth.Authenticator,
	writer storage.EventWriter,
	logger *zap.Logger,
) *ScoringServer {
	return &ScoringServer{
		provider: provider,
		auth:     authenticator,
		writer:   writer,
		logger:   logger,
	}
}

// ScoreApp implements the ScoringService.ScoreApp RPC.
func (s *ScoringServer) ScoreApp(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	start := time.Now()
	if err := s.authenticate(ctx); err != nil {
		return nil, err
	}

	profile, err := ProfileFromStruct(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	res := s.provider.ScoreApp(ctx, profile)
	s.writer.WriteThreat(storage.NewThreatLogEntry(profile, res))

	requestID := uuid.New().String()
	s.logger.Debug("scored app",
		zap.String("request_id", requestID),
		zap.String("package", profile.PackageName),
		zap.Float64("score", res.Score),
		zap.String("source", res.Source.String()),
		zap.Duration("latency", time.Since(start)),
	)

	out, err := AppResultToStruct(res, requestID)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode result: %v", err)
	}
	return out, nil
}

// ScoreURL implements the ScoringService.ScoreURL RPC.
func (s *ScoringServer) ScoreURL(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := s.authenticate(ctx); err != nil {
		return nil, err
	}

	url := strings.TrimSpace(req.GetFields()["url"].GetStringValue())
	if url == "" {
		return nil, status.Error(codes.InvalidArgument, "url is required")
	}

	res := s.provider.ScoreURL(ctx, url)
	out, err := URLResultToStruct(res, uuid.New().String())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode result: %v", err)
	}
	return out, nil
}

func (s *ScoringServer) authenticate(ctx context.Context) error {
	if s.auth == nil {
		return nil
	}
	if _, err := s.auth.Authenticate(ctx); err != nil {
		if errors.Is(err, auth.ErrAuthUnavailable) {
			return status.Errorf(codes.Unavailable, "auth unavailable: %v", err)
		}
		return status.Errorf(codes.Unauthenticated, "auth failed: %v", err)
	}
	return nil
}
