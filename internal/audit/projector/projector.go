// Package projector implements the AuditProjector main loop (spec
// component C8): a consumer of the update topics, bucketing typed records
// per entity and writing them to a durable, idempotent audit store with
// bounded-retry/DLQ handling.
package projector

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	cenkalti "github.com/cenkalti/backoff/v4"

	"github.com/arqsystems/refdata-platform/internal/backoff"
	"github.com/arqsystems/refdata-platform/internal/codec"
	"github.com/arqsystems/refdata-platform/internal/dispatch"
	"github.com/arqsystems/refdata-platform/internal/domain"
	"github.com/arqsystems/refdata-platform/internal/observability"
)

// UpdateConsumer is the grouped, manual-commit StreamConsumer the projector
// reads from, extended with an explicit synchronous commit of every record
// marked since the last call — the projector never advances offsets until
// every bucket of the current batch has been durably inserted.
type UpdateConsumer interface {
	domain.StreamConsumer
	CommitMarked(ctx context.Context) error
}

// Projector runs the AuditProjector main loop.
type Projector struct {
	consumer    UpdateConsumer
	dlqProducer domain.StreamProducer
	store       domain.AuditStore
	codec       *codec.Registry
	table       dispatch.Table
	backoffSpec string
	breaker     *observability.CircuitBreaker
	log         *slog.Logger
}

// New constructs a Projector. backoffSpec is parsed fresh into a new
// backoff.Policy for every bucket insert, per spec.md §4.9's
// BackoffPolicy specification-string grammar. A circuit breaker sits in
// front of the audit store: once five consecutive insert attempts fail it
// trips open for 30s, so a down database fails the current batch fast
// instead of working through a full per-attempt backoff schedule on every
// bucket.
func New(consumer UpdateConsumer, dlqProducer domain.StreamProducer, store domain.AuditStore, codecReg *codec.Registry, table dispatch.Table, backoffSpec string, log *slog.Logger) *Projector {
	return &Projector{
		consumer: consumer, dlqProducer: dlqProducer, store: store,
		codec: codecReg, table: table, backoffSpec: backoffSpec,
		breaker: observability.NewCircuitBreaker(5, 30*time.Second, 0.5),
		log:     log,
	}
}

// Run executes the main loop until ctx is canceled or a bucket insert
// exhausts its retry budget, which is treated as fatal per spec.md §4.8.
func (p *Projector) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		msgs, err := p.consumer.Poll(ctx)
		if err != nil {
			return fmt.Errorf("projector: poll: %w", err)
		}
		if len(msgs) == 0 {
			continue
		}

		if err := p.processBatch(ctx, msgs); err != nil {
			return err
		}
	}
}

// processBatch buckets msgs by entity, inserts each non-empty bucket with
// retry, and only commits offsets once every bucket in the batch succeeded.
func (p *Projector) processBatch(ctx context.Context, msgs []domain.ConsumedMessage) error {
	buckets := make(map[string][]domain.Record)

	for _, m := range msgs {
		entity, rec, err := p.decode(m)
		if err != nil {
			p.log.Error("projector: routing undecodable message to DLQ",
				slog.String("topic", m.Topic), slog.Int64("offset", m.Offset), slog.Any("error", err))
			if dlqErr := p.dlqProducer.Send(ctx, domain.ProducedRecord{
				Topic: domain.DLQTopic(m.Topic),
				Key:   m.Key,
				Value: m.Value,
			}); dlqErr != nil {
				return fmt.Errorf("projector: DLQ send: %w", dlqErr)
			}
			observability.DLQRoutedTotal.WithLabelValues(m.Topic).Inc()
			continue
		}
		buckets[entity] = append(buckets[entity], rec)
	}

	for entity, records := range buckets {
		if err := p.insertWithRetry(ctx, entity, records); err != nil {
			return fmt.Errorf("projector: bucket %q exhausted retry budget: %w", entity, err)
		}
	}

	// Marked offsets may also be committed by the consumer's background
	// auto-commit, so nothing is marked until every bucket is durable.
	for _, m := range msgs {
		p.consumer.MarkForCommit(m)
	}
	if err := p.consumer.CommitMarked(ctx); err != nil {
		return fmt.Errorf("projector: commit offsets: %w", err)
	}
	return nil
}

func (p *Projector) decode(m domain.ConsumedMessage) (string, domain.Record, error) {
	entity, err := entityFromUpdateTopic(m.Topic)
	if err != nil {
		return "", domain.Record{}, err
	}
	if _, ok := p.table[entity]; !ok {
		return "", domain.Record{}, fmt.Errorf("%w: %q", domain.ErrUnknownEntity, entity)
	}
	rec, err := p.codec.DecodeRecord(entity, m.Value)
	if err != nil {
		return "", domain.Record{}, err
	}
	return entity, rec, nil
}

// insertWithRetry attempts store.Insert, retrying per a freshly parsed
// backoff.Policy until it succeeds or the policy's attempt budget is
// exhausted.
func (p *Projector) insertWithRetry(ctx context.Context, entity string, records []domain.Record) error {
	policy, err := backoff.Parse(p.backoffSpec)
	if err != nil {
		return fmt.Errorf("projector: parse backoff spec %q: %w", p.backoffSpec, err)
	}
	bo := backoff.NewBackOff(policy)

	op := func() error {
		if !p.breaker.CanExecute() {
			return cenkalti.Permanent(fmt.Errorf("projector: audit store circuit breaker open, entity %q", entity))
		}
		observability.AuditBackoffAttempts.WithLabelValues(entity).Inc()
		err := p.store.Insert(ctx, entity, records)
		if err != nil {
			p.breaker.RecordFailure()
			p.log.Warn("projector: audit insert attempt failed, retrying",
				slog.String("entity", entity), slog.String("attempt", policy.AttemptStr()), slog.Any("error", err))
			return err
		}
		p.breaker.RecordSuccess()
		return nil
	}

	ctxBo := cenkalti.WithContext(bo, ctx)
	if err := cenkalti.Retry(op, ctxBo); err != nil {
		p.log.Error("projector: audit insert exhausted retry budget, this batch cannot be durably recorded",
			slog.String("entity", entity), slog.Int("batch_size", len(records)), slog.Any("error", err))
		return err
	}
	return nil
}

func entityFromUpdateTopic(topic string) (string, error) {
	prefix := domain.UpdateTopic("")
	if !strings.HasPrefix(topic, prefix) {
		return "", fmt.Errorf("%w: topic %q is not an update topic", domain.ErrUnknownEntity, topic)
	}
	return strings.TrimPrefix(topic, prefix), nil
}
