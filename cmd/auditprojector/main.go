// Command auditprojector runs the Audit Projector service: it consumes the
// update topics and writes a durable, idempotent history of every accepted
// entity version to the audit store.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arqsystems/refdata-platform/internal/audit/postgres"
	"github.com/arqsystems/refdata-platform/internal/audit/projector"
	"github.com/arqsystems/refdata-platform/internal/codec"
	"github.com/arqsystems/refdata-platform/internal/config"
	"github.com/arqsystems/refdata-platform/internal/domain"
	"github.com/arqsystems/refdata-platform/internal/observability"
	"github.com/arqsystems/refdata-platform/internal/transport/kafka"
	"github.com/arqsystems/refdata-platform/pkg/entities"
)

func main() {
	cfg, err := config.LoadAuditProjectorConfig()
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
			logger.Error("auditprojector metrics server error", slog.Any("error", err))
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
		logger.Error("auditprojector exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg config.AuditProjectorConfig, logger *slog.Logger) error {
	codecReg := codec.NewRegistry()
	table, err := entities.RegisterAll(codecReg, cfg.Entities, cfg.DisabledEntities)
	if err != nil {
		return err
	}

	updateTopics := make([]string, 0, len(table))
	for name := range table {
		updateTopics = append(updateTopics, domain.UpdateTopic(name))
	}

	bgCtx := context.Background()
	pool, err := postgres.NewPool(bgCtx, cfg.DBURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	store := postgres.NewStore(pool, codecReg.EncodeRecord)

	consumer, err := kafka.NewGroupConsumer(kafka.GroupConsumerConfig{
		Brokers: cfg.KafkaBrokers,
		GroupID: domain.GroupAuditProjectors,
		Topics:  updateTopics,
	})
	if err != nil {
		return err
	}
	defer consumer.Close()

	dlqProducer, err := kafka.NewProducer(cfg.KafkaBrokers)
	if err != nil {
		return err
	}
	defer dlqProducer.Close()

	proj := projector.New(consumer, dlqProducer, store, codecReg, table, cfg.DBBackoffSpec, logger)

	errCh := make(chan error, 1)
	ctx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	go func() {
		logger.Info("auditprojector starting", slog.Any("topics", updateTopics))
		errCh <- proj.Run(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("projector stopped with error", slog.Any("error", err))
			runErr = err
		}
	}

	cancelRun()
	return runErr
}
