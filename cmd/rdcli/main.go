// Command rdcli submits a single Upsert or Deactivate command against a
// running deployment and waits for its response. It is a manual
// smoke-testing tool and an integration-test helper, not a client SDK: it
// sends one command and blocks on one response subscription, with no
// connection pooling or in-flight command tracking.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/arqsystems/refdata-platform/internal/codec"
	"github.com/arqsystems/refdata-platform/internal/domain"
	"github.com/arqsystems/refdata-platform/internal/transport/kafka"
	"github.com/arqsystems/refdata-platform/internal/transport/redisbus"
	"github.com/arqsystems/refdata-platform/pkg/entities"
)

func main() {
	var (
		brokers   = flag.String("brokers", "localhost:19092", "comma-separated Kafka broker addresses")
		redisAddr = flag.String("redis", "localhost:6379", "Redis address for the response bus")
		entity    = flag.String("entity", "", "entity name, e.g. Currency")
		action    = flag.String("action", "upsert", "upsert | deactivate")
		targetRaw = flag.String("uuid", "", "target entity UUID (generated if empty, upsert only)")
		data      = flag.String("data", "{}", "JSON payload for upsert")
		updatedBy = flag.String("updated-by", "rdcli", "LastUpdatedBy attribution")
		expected  = flag.Uint("expected-version", 0, "ExpectedVersion (0 for a brand-new entity)")
		timeout   = flag.Duration("timeout", 10*time.Second, "time to wait for a response")
	)
	flag.Parse()

	if *entity == "" {
		fmt.Fprintln(os.Stderr, "rdcli: -entity is required")
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := run(runArgs{
		brokers: *brokers, redisAddr: *redisAddr, entity: *entity, action: *action,
		targetRaw: *targetRaw, data: *data, updatedBy: *updatedBy,
		expected: uint32(*expected), timeout: *timeout,
	}, logger); err != nil {
		logger.Error("rdcli failed", slog.Any("error", err))
		os.Exit(1)
	}
}

type runArgs struct {
	brokers, redisAddr, entity, action, targetRaw, data, updatedBy string
	expected                                                       uint32
	timeout                                                        time.Duration
}

func run(args runArgs, logger *slog.Logger) error {
	codecReg := codec.NewRegistry()
	table, err := entities.RegisterAll(codecReg, nil, nil)
	if err != nil {
		return err
	}
	if _, err := table.Lookup(args.entity); err != nil {
		return err
	}

	var targetUUID uuid.UUID
	if args.targetRaw != "" {
		targetUUID, err = uuid.Parse(args.targetRaw)
		if err != nil {
			return fmt.Errorf("rdcli: parse -uuid: %w", err)
		}
	} else if args.action == "deactivate" {
		return errors.New("rdcli: -uuid is required for -action deactivate")
	} else {
		targetUUID = uuid.New()
	}

	payload, err := buildCommandPayload(codecReg, args, targetUUID)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), args.timeout)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{Addr: args.redisAddr})
	defer rdb.Close()
	bus := redisbus.New(rdb)

	corrID := uuid.New()
	respTopic := "ARQ.RefData.Responses." + corrID.String()

	respCh := make(chan domain.CommandResponse, 1)
	sub, err := bus.Subscribe(ctx, respTopic, func(raw []byte) {
		var resp domain.CommandResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			logger.Warn("rdcli: malformed response payload", slog.Any("error", err))
			return
		}
		select {
		case respCh <- resp:
		default:
		}
	})
	if err != nil {
		return fmt.Errorf("rdcli: subscribe for response: %w", err)
	}
	defer sub.Unsubscribe()

	producer, err := kafka.NewProducer(strings.Split(args.brokers, ","))
	if err != nil {
		return err
	}
	defer producer.Close()

	rec := domain.ProducedRecord{
		Topic: domain.CommandTopic(args.entity),
		Key:   []byte(targetUUID.String()),
		Value: payload,
		Headers: map[string]string{
			domain.HeaderCorrID:        corrID.String(),
			domain.HeaderResponseTopic: respTopic,
			domain.HeaderCmdAction:     actionHeader(args.action),
		},
	}
	if err := producer.Send(ctx, rec); err != nil {
		return fmt.Errorf("rdcli: send command: %w", err)
	}
	if err := producer.Flush(ctx); err != nil {
		return fmt.Errorf("rdcli: flush: %w", err)
	}

	logger.Info("command sent", slog.String("entity", args.entity), slog.String("uuid", targetUUID.String()), slog.String("corrId", corrID.String()))

	select {
	case resp := <-respCh:
		fmt.Printf("uuid=%s status=%s message=%q\n", targetUUID, resp.Status, resp.Message)
		if resp.Status != domain.StatusSuccess {
			return errors.New("rdcli: command was not accepted")
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("rdcli: timed out waiting for a response: %w", ctx.Err())
	}
}

func actionHeader(action string) string {
	switch action {
	case "deactivate":
		return string(domain.CmdActionDeactivate)
	default:
		return string(domain.CmdActionUpsert)
	}
}

func buildCommandPayload(codecReg *codec.Registry, args runArgs, targetUUID uuid.UUID) ([]byte, error) {
	switch args.action {
	case "deactivate":
		return codecReg.EncodeDeactivate(domain.Deactivate{
			TargetUUID:      targetUUID,
			UpdatedBy:       args.updatedBy,
			ExpectedVersion: args.expected,
		})
	case "upsert":
		raw, err := decodeEntityData(codecReg, args.entity, args.data)
		if err != nil {
			return nil, err
		}
		return codecReg.EncodeUpsert(args.entity, domain.Upsert{
			TargetUUID:      targetUUID,
			Data:            raw,
			UpdatedBy:       args.updatedBy,
			ExpectedVersion: args.expected,
		})
	default:
		return nil, fmt.Errorf("rdcli: unknown -action %q (want upsert or deactivate)", args.action)
	}
}

// decodeEntityData unmarshals -data's raw JSON into the concrete registered
// Go type for entity, so EncodeUpsert marshals the same shape a live
// executor's codec.Registry would produce.
func decodeEntityData(codecReg *codec.Registry, entity, raw string) (any, error) {
	probe, err := codecReg.EncodeRecord(entity, domain.Record{Data: json.RawMessage(raw)})
	if err != nil {
		return nil, fmt.Errorf("rdcli: encode probe for %q: %w", entity, err)
	}
	rec, err := codecReg.DecodeRecord(entity, probe)
	if err != nil {
		return nil, fmt.Errorf("rdcli: decode -data for %q: %w", entity, err)
	}
	return rec.Data, nil
}
