package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/aevon-lab/eventsim/internal/aggregation"
	"github.com/aevon-lab/eventsim/internal/bus"
	"github.com/aevon-lab/eventsim/internal/codec"
	corecfg "github.com/aevon-lab/eventsim/internal/core/config"
	"github.com/aevon-lab/eventsim/internal/core/storage"
	"github.com/aevon-lab/eventsim/internal/core/storage/memory"
	"github.com/aevon-lab/eventsim/internal/core/storage/postgres"
	"github.com/aevon-lab/eventsim/internal/ingestion"
	"github.com/aevon-lab/eventsim/internal/recommendation"
	"github.com/aevon-lab/eventsim/internal/replay"
	"github.com/aevon-lab/eventsim/internal/server"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (defaults and EVENTSIM_ env vars when empty)")
	replayPath := flag.String("replay", "", "Replay a YAML action log through the aggregator and exit")
	flag.Parse()

	// 0. Initialize Logger
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	level.Set(parseLevel(cfg.Log.Level))
	slog.Info("Loaded config", "config", cfg)

	if err := run(cfg, logger, *replayPath); err != nil {
		slog.Error("Stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Shutdown complete")
}

func run(cfg *corecfg.Config, logger *slog.Logger, replayPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Initialize Storage
	store, err := openStore(cfg.Database)
	if err != nil {
		return err
	}
	defer store.Close()

	// 3. Initialize Aggregator and rebuild state from durable interactions
	agg := aggregation.New(store, aggregation.Options{
		WorkerCount: cfg.Aggregation.WorkerCount,
		QueueSize:   cfg.Aggregation.QueueSize,
		Retry: aggregation.RetryPolicy{
			InitialInterval: cfg.Aggregation.Retry.InitialInterval,
			MaxInterval:     cfg.Aggregation.Retry.MaxInterval,
			MaxElapsed:      cfg.Aggregation.Retry.MaxElapsed,
		},
	})
	if err := agg.Bootstrap(ctx, store); err != nil {
		return err
	}

	if replayPath != "" {
		return runReplay(ctx, agg, replayPath)
	}

	// 4. Initialize Bus
	wireCodec, err := codec.New(cfg.Bus.Codec)
	if err != nil {
		return err
	}
	b, err := bus.New(cfg.Bus, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize bus: %w", err)
	}
	defer b.Close()

	consumer, err := aggregation.NewConsumer(agg, wireCodec, b.Subscriber, b.Publisher, aggregation.ConsumerConfig{
		UserActionsTopic: cfg.Aggregation.UserActionsTopic,
		SimilarityTopic:  cfg.Aggregation.SimilarityTopic,
		PoisonTopic:      cfg.Aggregation.PoisonTopic,
		MaxRetries:       cfg.Aggregation.HandlerRetries,
	}, b.Logger)
	if err != nil {
		return err
	}

	slog.Info("Aggregation pipeline initialized",
		"bus", cfg.Bus.Driver,
		"codec", wireCodec.Name(),
		"user_actions_topic", cfg.Aggregation.UserActionsTopic,
		"similarity_topic", cfg.Aggregation.SimilarityTopic,
		"worker_count", cfg.Aggregation.WorkerCount)

	// 5. Initialize Collector and Recommendation API
	ingestionSvc := ingestion.NewService(b.Publisher, wireCodec, cfg.Aggregation.UserActionsTopic, cfg.Server.MaxBodySizeMB)
	recommendationSvc := recommendation.NewService(store, store, recommendation.Options{
		DefaultMaxResults: cfg.Recommendation.DefaultMaxResults,
		MaxResultsLimit:   cfg.Recommendation.MaxResultsLimit,
		QueryTimeout:      cfg.Recommendation.QueryTimeout,
	})

	// 6. Initialize Server
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), store, cfg.Server.Mode)
	srv.ReportState(agg)
	ingestionSvc.RegisterRoutes(srv.Engine)
	recommendationSvc.RegisterRoutes(srv.Engine)

	// 7. Start Services; the first failure cancels the rest.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return agg.Run(gctx) })
	g.Go(func() error { return consumer.Run(gctx) })
	g.Go(func() error { return aggregation.NewReporter(cfg.Aggregation.ReportInterval, agg).Start(gctx) })
	g.Go(func() error { return srv.Run(gctx) })

	return g.Wait()
}

func openStore(cfg corecfg.DatabaseConfig) (storage.Store, error) {
	switch cfg.Type {
	case "memory":
		slog.Warn("Using in-memory storage; state is lost on restart")
		return memory.NewStore(), nil
	case "postgres":
		adapter, err := postgres.NewAdapter(cfg.DSN, cfg.MaxOpenConns, cfg.MaxIdleConns, cfg.AutoMigrate)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		return adapter, nil
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.Type)
	}
}

func runReplay(ctx context.Context, agg *aggregation.Aggregator, path string) error {
	actions, err := replay.LoadFile(path)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- agg.Run(runCtx) }()

	_, replayErr := replay.Run(ctx, agg, actions)
	cancel()
	return errors.Join(replayErr, <-done)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
