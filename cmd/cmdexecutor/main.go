// Command cmdexecutor runs the Command Executor service: it accepts entity
// commands from the command topics, validates them against an in-memory
// version cache, and emits update/response records with exactly-once,
// transactional semantics.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/arqsystems/refdata-platform/internal/codec"
	"github.com/arqsystems/refdata-platform/internal/config"
	"github.com/arqsystems/refdata-platform/internal/domain"
	"github.com/arqsystems/refdata-platform/internal/executor"
	"github.com/arqsystems/refdata-platform/internal/hydration"
	"github.com/arqsystems/refdata-platform/internal/observability"
	"github.com/arqsystems/refdata-platform/internal/transport/kafka"
	"github.com/arqsystems/refdata-platform/internal/transport/redisbus"
	"github.com/arqsystems/refdata-platform/internal/version"
	"github.com/arqsystems/refdata-platform/pkg/entities"
)

func main() {
	cfg, err := config.LoadExecutorConfig()
	if err != nil {
		slog.Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(observability.LoggerConfig{AppEnv: cfg.AppEnv, Service: cfg.OTELServiceName})
	slog.SetDefault(logger)
	observability.InitMetrics()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":9090", mux); err != nil {
			logger.Error("cmdexecutor metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracing, err := observability.SetupTracing(observability.TracingConfig{
		OTLPEndpoint: cfg.OTLPEndpoint,
		ServiceName:  cfg.OTELServiceName,
		AppEnv:       cfg.AppEnv,
	})
	if err != nil {
		logger.Error("setup tracing", slog.Any("error", err))
		os.Exit(1)
	}
	if shutdownTracing != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			_ = shutdownTracing(ctx)
		}()
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("cmdexecutor exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg config.ExecutorConfig, logger *slog.Logger) error {
	codecReg := codec.NewRegistry()
	table, err := entities.RegisterAll(codecReg, cfg.Entities, cfg.DisabledEntities)
	if err != nil {
		return err
	}

	cmdTopics := make([]string, 0, len(table))
	entityNames := make([]string, 0, len(table))
	for name := range table {
		cmdTopics = append(cmdTopics, domain.CommandTopic(name))
		entityNames = append(entityNames, name)
	}

	bootstrapCtx, cancelBootstrap := context.WithTimeout(context.Background(), 30*time.Second)
	err = kafka.EnsureEntityTopics(bootstrapCtx, cfg.KafkaBrokers, entityNames, cfg.TopicPartitions, cfg.ReplicationFactor)
	cancelBootstrap()
	if err != nil {
		return fmt.Errorf("cmdexecutor: ensure topics: %w", err)
	}

	store := version.NewStore()

	hydrateOnAssign := func(ctx context.Context, ev domain.RebalanceEvent) {
		if !ev.Assigned {
			return
		}
		var cmdParts []domain.TopicPartition
		for topic, partitions := range ev.Topics {
			for _, p := range partitions {
				cmdParts = append(cmdParts, domain.TopicPartition{Topic: topic, Partition: p})
			}
		}
		if len(cmdParts) == 0 {
			return
		}

		hydrationConsumer, err := kafka.NewConsumer(cfg.KafkaBrokers)
		if err != nil {
			logger.Error("hydration: construct consumer", slog.Any("error", err))
			return
		}
		engine := hydration.New(hydrationConsumer, codecReg, table, logger)

		start := time.Now()
		if err := engine.Run(ctx, store, cmdParts); err != nil {
			logger.Error("hydration: run failed", slog.Any("error", err))
			return
		}
		observability.HydrationDuration.WithLabelValues("success").Observe(time.Since(start).Seconds())
		observability.HydratedEntities.WithLabelValues("all").Set(float64(store.Len()))
	}

	session, err := kafka.NewTransactSession(kafka.SessionConfig{
		Brokers:         cfg.KafkaBrokers,
		TransactionalID: cfg.TransactionalID(),
		GroupID:         domain.GroupCommandExecutors,
		Topics:          cmdTopics,
		OnRebalance:     hydrateOnAssign,
	})
	if err != nil {
		return err
	}
	defer session.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	bus := redisbus.New(rdb)

	exec := executor.New(session, bus, codecReg, table, store, logger)

	errCh := make(chan error, 1)
	ctx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	go func() {
		logger.Info("cmdexecutor starting", slog.Any("topics", cmdTopics))
		errCh <- exec.Run(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("executor stopped with error", slog.Any("error", err))
			runErr = err
		}
	}

	cancelRun()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := session.Flush(shutdownCtx); err != nil {
		logger.Warn("flush on shutdown", slog.Any("error", err))
	}
	return runErr
}
