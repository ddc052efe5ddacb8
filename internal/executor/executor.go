// Package executor implements the CommandExecutor's write-path main loop:
// poll a batch of commands, validate each against the partition-local
// VersionStore inside one transaction, emit update records and stage
// responses, commit the transaction (which also advances the consumer
// group's committed offsets), then apply the staged effects in memory and
// publish responses.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/arqsystems/refdata-platform/internal/codec"
	"github.com/arqsystems/refdata-platform/internal/dispatch"
	"github.com/arqsystems/refdata-platform/internal/domain"
	"github.com/arqsystems/refdata-platform/internal/observability"
	"github.com/arqsystems/refdata-platform/internal/version"
)

// Transactor is the fused producer+consumer surface the executor needs: a
// single object that is both a domain.StreamProducer and a
// domain.StreamConsumer, so commitTransaction and the consumer offset
// commit happen atomically (see internal/transport/kafka.TransactSession).
type Transactor interface {
	domain.StreamProducer
	domain.StreamConsumer
}

// Executor runs the CommandExecutor main loop against one Transactor.
type Executor struct {
	stream Transactor
	bus    domain.MessagingBus
	codec  *codec.Registry
	table  dispatch.Table
	store  *version.Store
	log    *slog.Logger
}

// New constructs an Executor. store should already be hydrated for the
// partitions stream currently owns before Run's main loop starts serving
// traffic.
func New(stream Transactor, bus domain.MessagingBus, codecReg *codec.Registry, table dispatch.Table, store *version.Store, log *slog.Logger) *Executor {
	return &Executor{stream: stream, bus: bus, codec: codecReg, table: table, store: store, log: log}
}

// Run executes the main loop until ctx is canceled or a fatal error occurs.
// A fatal error (transaction commit/abort failure, unrecoverable producer
// state) is returned so the caller can exit the process non-zero.
func (e *Executor) Run(ctx context.Context) error {
	if err := e.stream.InitTransactions(ctx); err != nil {
		return fmt.Errorf("executor: init transactions: %w", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		msgs, err := e.stream.Poll(ctx)
		if err != nil {
			return fmt.Errorf("executor: poll: %w", err)
		}
		if len(msgs) == 0 {
			continue
		}

		out, err := e.runBatch(ctx, msgs)
		if err != nil {
			return err
		}

		e.store.Apply(out.versionUpdates, out.recordUpdates)
		for _, pr := range out.responses {
			e.publishResponse(ctx, pr)
		}
	}
}

func (e *Executor) runBatch(ctx context.Context, msgs []domain.ConsumedMessage) (*batchOutput, error) {
	out := newBatchOutput()
	offsets := make(map[domain.TopicPartition]int64, len(msgs))

	if err := e.stream.BeginTransaction(); err != nil {
		return nil, fmt.Errorf("executor: begin transaction: %w", err)
	}

	for _, m := range msgs {
		if err := e.processMessage(ctx, m, out); err != nil {
			e.log.Error("executor: routing poison message to DLQ",
				slog.String("topic", m.Topic), slog.Int64("offset", m.Offset), slog.Any("error", err))
			if dlqErr := e.stream.Send(ctx, domain.ProducedRecord{
				Topic: domain.DLQTopic(m.Topic),
				Key:   m.Key,
				Value: m.Value,
			}); dlqErr != nil {
				if abortErr := e.stream.AbortTransaction(ctx); abortErr != nil {
					e.log.Error("executor: abort after DLQ send failure also failed", slog.Any("error", abortErr))
				}
				return nil, fmt.Errorf("executor: DLQ send: %w", dlqErr)
			}
			observability.DLQRoutedTotal.WithLabelValues(m.Topic).Inc()
		}
		e.stream.MarkForCommit(m)
		tp := domain.TopicPartition{Topic: m.Topic, Partition: m.Partition}
		if next := m.Offset + 1; next > offsets[tp] {
			offsets[tp] = next
		}
	}

	if err := e.stream.SendOffsetsToTransaction(ctx, offsets, e.stream.GroupMetadata()); err != nil {
		if abortErr := e.stream.AbortTransaction(ctx); abortErr != nil {
			e.log.Error("executor: abort after offset-coupling failure also failed", slog.Any("error", abortErr))
		}
		return nil, fmt.Errorf("executor: send offsets to transaction: %w", err)
	}
	if err := e.stream.CommitTransaction(ctx); err != nil {
		if abortErr := e.stream.AbortTransaction(ctx); abortErr != nil {
			e.log.Error("executor: abort after commit failure also failed", slog.Any("error", abortErr))
		}
		return nil, fmt.Errorf("executor: commit transaction: %w", err)
	}

	return out, nil
}

// processMessage dispatches one command message. Any returned error means
// the message is poison and must be routed to the DLQ by the caller; the
// message's offset is still advanced (it is included in the same
// transaction's offset commit either way).
func (e *Executor) processMessage(ctx context.Context, m domain.ConsumedMessage, out *batchOutput) error {
	entity, err := entityFromCommandTopic(m.Topic)
	if err != nil {
		return err
	}
	if _, ok := e.table[entity]; !ok {
		return fmt.Errorf("%w: %q", domain.ErrUnknownEntity, entity)
	}

	corrID, err := headerCorrID(m.Headers)
	if err != nil {
		return err
	}
	respTopic := m.Headers[domain.HeaderResponseTopic]
	action, ok := m.Headers[domain.HeaderCmdAction]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrMissingHeader, domain.HeaderCmdAction)
	}

	switch domain.CmdAction(action) {
	case domain.CmdActionUpsert:
		cmd, err := e.codec.DecodeUpsert(entity, m.Value)
		if err != nil {
			return err
		}
		_, accepted, err := e.processUpsert(ctx, entity, cmd, respTopic, corrID, m.Offset, out)
		if err == nil {
			observability.CommandsProcessedTotal.WithLabelValues(entity, string(domain.CmdActionUpsert), outcomeLabel(accepted)).Inc()
		}
		return err
	case domain.CmdActionDeactivate:
		cmd, err := e.codec.DecodeDeactivate(m.Value)
		if err != nil {
			return err
		}
		_, accepted, err := e.processDeactivate(ctx, entity, cmd, respTopic, corrID, m.Offset, out)
		if err == nil {
			observability.CommandsProcessedTotal.WithLabelValues(entity, string(domain.CmdActionDeactivate), outcomeLabel(accepted)).Inc()
		}
		return err
	default:
		return fmt.Errorf("%w: %q", domain.ErrUnknownAction, action)
	}
}

func outcomeLabel(accepted bool) string {
	if accepted {
		return "accepted"
	}
	return "rejected"
}

func (e *Executor) publishResponse(ctx context.Context, pr pendingResponse) {
	payload, err := json.Marshal(pr.response)
	if err != nil {
		e.log.Error("executor: marshal response", slog.Any("error", err))
		return
	}
	if err := e.bus.Publish(ctx, pr.topic, payload); err != nil {
		e.log.Warn("executor: publish response (best-effort)",
			slog.String("topic", pr.topic), slog.Any("error", err))
		return
	}
	observability.ResponsesPublishedTotal.WithLabelValues(pr.response.Status.String()).Inc()
}

func entityFromCommandTopic(topic string) (string, error) {
	prefix := domain.CommandTopic("")
	if !strings.HasPrefix(topic, prefix) {
		return "", fmt.Errorf("%w: topic %q is not a command topic", domain.ErrUnknownEntity, topic)
	}
	return strings.TrimPrefix(topic, prefix), nil
}

func headerCorrID(headers map[string]string) (uuid.UUID, error) {
	raw, ok := headers[domain.HeaderCorrID]
	if !ok {
		return uuid.UUID{}, fmt.Errorf("%w: %s", domain.ErrMissingHeader, domain.HeaderCorrID)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("%w: %s: %s", domain.ErrMissingHeader, domain.HeaderCorrID, err)
	}
	return id, nil
}
