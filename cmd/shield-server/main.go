package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cybershield-x/shield/internal/api"
	"github.com/cybershield-x/shield/internal/auth"
	"github.com/cybershield-x/shield/internal/chread"
	"github.com/cybershield-x/shield/internal/config"
	"github.com/cybershield-x/shield/internal/engine"
	"github.com/cybershield-x/shield/internal/engine/scorers"
	"github.com/cybershield-x/shield/internal/scan"
	"github.com/cybershield-x/shield/internal/server"
	"github.com/cybershield-x/shield/internal/session"
	"github.com/cybershield-x/shield/internal/storage"
	"github.com/cybershield-x/shield/internal/store"
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as database/sql driver
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
)

const scoringServiceName = "shield.v1.ScoringService"

func main() {
	genKey := flag.Bool("genkey", false, "print a new API key and its bcrypt hash, then exit")
	flag.Parse()

	if *genKey {
		key, hash, err := auth.GenerateAPIKey()
		if err != nil {
			fmt.Fprintf(os.Stderr, "generate key: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("api key:  %s\nSHIELD_API_KEY_HASH=%s\n", key, hash)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	// Logger
	logger := mustBuildLogger(cfg.LogLevel)
	defer logger.Sync() //nolint:errcheck // best-effort flush

	logger.Info("starting shield server",
		zap.String("http_port", cfg.HTTPPort),
		zap.String("grpc_port", cfg.GRPCPort),
		zap.String("remote_provider", cfg.RemoteProvider),
		zap.String("revocation_policy", cfg.RevocationPolicy),
		zap.Bool("auth_enabled", cfg.AuthEnabled()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Scoring
	rules, err := engine.LoadRuleSet(cfg.RulesFile)
	if err != nil {
		logger.Fatal("failed to load rule tables", zap.String("path", cfg.RulesFile), zap.Error(err))
	}
	local, err := scorers.NewLocal(rules)
	if err != nil {
		logger.Fatal("failed to build local scorer", zap.Error(err))
	}
	provider, closeRemote := buildProvider(cfg, local, logger)
	defer closeRemote()

	// Log storage: SQLite always, plus ClickHouse when configured.
	logs, err := storage.OpenSQLite(cfg.SQLitePath)
	if err != nil {
		logger.Fatal("failed to open sqlite log store", zap.String("path", cfg.SQLitePath), zap.Error(err))
	}
	defer func() { _ = logs.Close() }()

	writers := storage.MultiWriter{storage.NewAsyncWriter(logs, "sqlite", 0, logger)}
	var reader storage.LogReader = logs
	var summary api.SummaryReader
	var chReader *chread.Reader

	if cfg.ClickHouseDSN != "" {
		chWriter, err := storage.NewClickHouseWriter(ctx, cfg.ClickHouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log writer", zap.Error(err))
			writers = append(writers, storage.NewLogWriter(logger))
		} else {
			writers = append(writers, chWriter)
			logger.Info("clickhouse writer connected")
		}

		chReader, err = chread.NewReader(ctx, cfg.ClickHouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse reader connection failed", zap.Error(err))
			chReader = nil
		} else {
			defer func() { _ = chReader.Close() }()
			reader = chReader
			summary = chReader
			logger.Info("clickhouse reader connected")
		}
	} else {
		logger.Info("no CLICKHOUSE_DSN set, threat logs stay on sqlite")
	}
	var writer storage.EventWriter = writers

	// Postgres holds the lock policy and the installed-app inventory.
	var pgStore *store.Store
	var policy session.PolicyStore
	if cfg.PostgresDSN != "" {
		db, err := sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			logger.Fatal("failed to open postgres", zap.Error(err))
		}
		defer func() { _ = db.Close() }()
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			logger.Fatal("failed to ping postgres", zap.Error(err))
		}
		pgStore = store.NewStore(db)
		if err := pgStore.Migrate(ctx); err != nil {
			logger.Fatal("failed to migrate postgres", zap.Error(err))
		}
		policy = pgStore.LockedApps()
		logger.Info("postgres connected")
	} else {
		logger.Info("no POSTGRES_DSN set, lock policy is in memory and scans are disabled")
	}

	// Lock session
	presenter := session.NewQueuePresenter(logger)
	manager := session.NewManager(cfg.Session(), presenter, policy, logger)
	if err := manager.Load(ctx); err != nil {
		logger.Fatal("failed to load lock policy", zap.Error(err))
	}
	normalizer := session.NewNormalizer(cfg.IgnoredPackages)

	// Auth
	var keyAuth *auth.KeyAuthenticator
	var grpcAuth auth.Authenticator
	if cfg.AuthEnabled() {
		keyAuth = auth.NewKeyAuthenticator(auth.NewStaticKeyStore(cfg.APIKeyHash), cfg.AuthCacheTTL, logger)
		grpcAuth = keyAuth
	} else {
		logger.Warn("SHIELD_API_KEY_HASH not set, API is unauthenticated")
	}

	deps := &api.Dependencies{
		Provider:   provider,
		Sessions:   manager,
		Normalizer: normalizer,
		Presenter:  presenter,
		Writer:     writer,
		Reader:     reader,
		Summary:    summary,
		Auth:       keyAuth,
		Logger:     logger,
	}

	g, gctx := errgroup.WithContext(ctx)

	// Threat scan
	if pgStore != nil {
		scanner := scan.NewScanner(pgStore, provider, pgStore, writer, cfg.ScanWorkers, logger)
		deps.Apps = pgStore
		deps.Scanner = scanner
		g.Go(func() error {
			if err := scanner.Run(gctx, cfg.ScanInterval); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	// Retention
	g.Go(func() error {
		pruneLoop(gctx, cfg.LogRetention, logger, logs, chReader)
		return nil
	})

	// gRPC server
	grpcServer := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle:     5 * time.Minute,
			MaxConnectionAge:      30 * time.Minute,
			MaxConnectionAgeGrace: 10 * time.Second,
			Time:                  30 * time.Second,
			Timeout:               5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             10 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.MaxRecvMsgSize(4*1024*1024),
		grpc.MaxSendMsgSize(4*1024*1024),
	)
	server.RegisterScoringServer(grpcServer, server.NewScoringServer(provider, grpcAuth, writer, logger))

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(scoringServiceName, healthpb.HealthCheckResponse_SERVING)
	if cfg.GRPCReflection {
		reflection.Register(grpcServer)
	}

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		logger.Fatal("failed to listen", zap.String("port", cfg.GRPCPort), zap.Error(err))
	}
	g.Go(func() error {
		logger.Info("grpc server listening", zap.String("addr", lis.Addr().String()))
		if err := grpcServer.Serve(lis); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	// HTTP API server
	httpServer := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      api.NewRouter(gctx, deps),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		healthServer.SetServingStatus(scoringServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", zap.Error(err))
		}
		grpcServer.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
	}

	// Challenges are answered TimedOut before the writers drain.
	manager.Close()
	writer.Close()
	logger.Info("shield server stopped")
}

// buildProvider returns the remote provider selected by cfg, or the local
// one. The returned func releases the remote client.
func buildProvider(cfg *config.Config, local *scorers.Local, logger *zap.Logger) (engine.Provider, func()) {
	var (
		gen     scorers.Generator
		release = func() {}
	)

	switch cfg.RemoteProvider {
	case config.RemoteGemini:
		g, err := scorers.NewGemini(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiEndpoint, &http.Client{Timeout: cfg.RemoteTimeout})
		if err != nil {
			logger.Fatal("failed to create gemini client", zap.Error(err))
		}
		gen = g
	case config.RemoteGRPC:
		g, err := scorers.NewGRPCGenerator(cfg.AnalysisEndpoint, logger)
		if err != nil {
			logger.Error("failed to create grpc analysis client, using local scoring",
				zap.String("endpoint", cfg.AnalysisEndpoint),
				zap.Error(err),
			)
			return engine.NewLocalProvider(local), release
		}
		gen = g
		release = func() { _ = g.Close() }
	default:
		logger.Info("remote scoring disabled, using local scorers")
		return engine.NewLocalProvider(local), release
	}

	analyzer, err := scorers.NewRemoteAnalyzer(gen)
	if err != nil {
		logger.Fatal("failed to create remote analyzer", zap.Error(err))
	}

	var breaker *engine.Breaker
	if cfg.BreakerThreshold > 0 {
		breaker = engine.NewBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown)
	}
	logger.Info("remote scoring enabled",
		zap.String("analyzer", analyzer.Name()),
		zap.Duration("timeout", cfg.RemoteTimeout),
	)
	return engine.NewRemoteProvider(analyzer, local, cfg.RemoteTimeout, breaker, logger), release
}

// pruneLoop deletes log records older than retention once an hour.
func pruneLoop(ctx context.Context, retention time.Duration, logger *zap.Logger, logs *storage.SQLiteStore, ch *chread.Reader) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		cutoff := time.Now().Add(-retention)
		if n, err := logs.Prune(ctx, cutoff); err != nil {
			logger.Error("sqlite prune failed", zap.Error(err))
		} else if n > 0 {
			logger.Info("pruned old log records", zap.Int64("rows", n), zap.Time("before", cutoff))
		}
		if ch != nil {
			if _, err := ch.Prune(ctx, cutoff); err != nil {
				logger.Error("clickhouse prune failed", zap.Error(err))
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}
