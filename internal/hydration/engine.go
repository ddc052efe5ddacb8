// Package hydration implements the HydrationEngine (spec component C6):
// rebuilding the VersionStore for a set of newly assigned command-topic
// partitions by replaying the co-partitioned update topics from their
// earliest offset to their high-watermark.
package hydration

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/arqsystems/refdata-platform/internal/codec"
	"github.com/arqsystems/refdata-platform/internal/dispatch"
	"github.com/arqsystems/refdata-platform/internal/domain"
	"github.com/arqsystems/refdata-platform/internal/version"
)

// Engine hydrates a version.Store from a dedicated, non-committing
// StreamConsumer.
type Engine struct {
	consumer domain.StreamConsumer
	codec    *codec.Registry
	table    dispatch.Table
	log      *slog.Logger
}

// New constructs an Engine. consumer must be a freshly constructed,
// dedicated hydration consumer (assign-based, in no consumer group, never
// committing offsets) — the same instance must not be reused across Run calls once
// Close has been called.
func New(consumer domain.StreamConsumer, codecReg *codec.Registry, table dispatch.Table, log *slog.Logger) *Engine {
	return &Engine{consumer: consumer, codec: codecReg, table: table, log: log}
}

// entityFromUpdateTopic extracts the entity name from an
// "ARQ.RefData.Updates.<Entity>" topic name.
func entityFromUpdateTopic(topic string) (string, error) {
	const prefix = "ARQ.RefData.Updates."
	if !strings.HasPrefix(topic, prefix) {
		return "", fmt.Errorf("%w: topic %q is not an update topic", domain.ErrUnknownEntity, topic)
	}
	return strings.TrimPrefix(topic, prefix), nil
}

// CmdToUpdateTopic maps a command-topic partition to its co-partitioned
// update-topic partition.
func CmdToUpdateTopic(cmdTopic string) string {
	const cmdPrefix = "ARQ.RefData.Commands."
	return domain.UpdateTopic(strings.TrimPrefix(cmdTopic, cmdPrefix))
}

// Run hydrates store for the update-topic partitions co-partitioned with
// cmdPartitions, then closes the dedicated consumer. It blocks until every
// targeted partition's high-watermark has been reached.
func (e *Engine) Run(ctx context.Context, store *version.Store, cmdPartitions []domain.TopicPartition) error {
	defer e.consumer.Close()

	updateParts := make([]domain.TopicPartition, 0, len(cmdPartitions))
	for _, cp := range cmdPartitions {
		updateParts = append(updateParts, domain.TopicPartition{
			Topic:     CmdToUpdateTopic(cp.Topic),
			Partition: cp.Partition,
		})
	}
	if len(updateParts) == 0 {
		return nil
	}

	begins, err := e.consumer.BeginningOffsets(ctx, updateParts)
	if err != nil {
		return fmt.Errorf("hydration: beginning offsets: %w", err)
	}
	ends, err := e.consumer.EndOffsets(ctx, updateParts)
	if err != nil {
		return fmt.Errorf("hydration: end offsets: %w", err)
	}

	targets := make(map[domain.TopicPartition]int64, len(updateParts))
	var assignable []domain.TopicPartition
	for _, tp := range updateParts {
		begin, end := begins[tp], ends[tp]
		if end > begin {
			targets[tp] = end - 1 // high-watermark target
			assignable = append(assignable, tp)
		}
	}
	if len(targets) == 0 {
		return nil
	}

	if err := e.consumer.Assign(assignable); err != nil {
		return fmt.Errorf("hydration: assign: %w", err)
	}
	if err := e.consumer.SeekToBeginning(assignable); err != nil {
		return fmt.Errorf("hydration: seek to beginning: %w", err)
	}

	for len(targets) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		msgs, err := e.consumer.Poll(ctx)
		if err != nil {
			return fmt.Errorf("hydration: poll: %w", err)
		}
		for _, m := range msgs {
			e.processMessage(store, m)
		}
		for tp := range targets {
			if e.consumer.Position(tp) > targets[tp] {
				delete(targets, tp)
			}
		}
	}
	return nil
}

func (e *Engine) processMessage(store *version.Store, m domain.ConsumedMessage) {
	entity, err := entityFromUpdateTopic(m.Topic)
	if err != nil {
		e.log.Warn("hydration: skipping message on unrecognized topic", slog.String("topic", m.Topic), slog.Any("error", err))
		return
	}
	if _, ok := e.table[entity]; !ok {
		e.log.Warn("hydration: skipping message for unregistered entity", slog.String("entity", entity))
		return
	}

	rec, err := e.codec.DecodeRecord(entity, m.Value)
	if err != nil {
		e.log.Warn("hydration: skipping undecodable message", slog.String("topic", m.Topic), slog.Int64("offset", m.Offset), slog.Any("error", err))
		return
	}

	store.Set(rec.Header.UUID, rec.Header.Version, m.Value)
}
