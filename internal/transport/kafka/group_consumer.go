package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/arqsystems/refdata-platform/internal/domain"
)

// GroupConsumerConfig configures a GroupConsumer.
type GroupConsumerConfig struct {
	Brokers     []string
	GroupID     string
	Topics      []string
	OnRebalance domain.RebalanceCallback
}

// GroupConsumer is a plain, non-transactional, grouped StreamConsumer with
// manual (marked) offset commit and earliest-reset on first join. It is used
// by the AuditProjector, which has no producer of its own to couple offsets
// to — unlike the CommandExecutor's TransactSession.
type GroupConsumer struct {
	client *kgo.Client

	mu      sync.Mutex
	pending map[domain.TopicPartition]map[int64]*kgo.Record
}

// NewGroupConsumer joins cfg.GroupID and subscribes to cfg.Topics.
func NewGroupConsumer(cfg GroupConsumerConfig) (*GroupConsumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no seed brokers provided")
	}
	if cfg.GroupID == "" {
		return nil, fmt.Errorf("kafka: missing group id")
	}

	kotelTracer := kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider()))
	kotelService := kotel.NewKotel(kotel.WithTracer(kotelTracer))

	gc := &GroupConsumer{pending: make(map[domain.TopicPartition]map[int64]*kgo.Record)}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.FetchIsolationLevel(kgo.ReadCommitted()),
		kgo.WithHooks(kotelService.Hooks()...),
		kgo.AutoCommitMarks(),
		kgo.AutoCommitInterval(5 * time.Second),
		kgo.FetchMaxWait(2 * time.Second),
	}
	if cfg.OnRebalance != nil {
		assigned := func(ctx context.Context, _ *kgo.Client, assigned map[string][]int32) {
			cfg.OnRebalance(ctx, domain.RebalanceEvent{Assigned: true, Topics: assigned})
		}
		revoked := func(ctx context.Context, _ *kgo.Client, revoked map[string][]int32) {
			cfg.OnRebalance(ctx, domain.RebalanceEvent{Assigned: false, Topics: revoked})
		}
		opts = append(opts,
			kgo.OnPartitionsAssigned(assigned),
			kgo.OnPartitionsRevoked(revoked),
			kgo.OnPartitionsLost(revoked),
		)
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka: new group consumer: %w", err)
	}
	gc.client = client
	return gc, nil
}

// Subscribe is a no-op: topics and group membership are fixed at construction.
func (c *GroupConsumer) Subscribe(context.Context, []string, domain.RebalanceCallback) error {
	return nil
}

// Poll returns the next batch of fetched records, remembering each one so a
// later MarkForCommit/CommitMarked can reference it.
func (c *GroupConsumer) Poll(ctx context.Context) ([]domain.ConsumedMessage, error) {
	fetches := c.client.PollFetches(ctx)
	if errs := fetches.Errors(); len(errs) > 0 {
		e := errs[0]
		return nil, fmt.Errorf("kafka: fetch error on %s[%d]: %w", e.Topic, e.Partition, e.Err)
	}

	var out []domain.ConsumedMessage
	c.mu.Lock()
	defer c.mu.Unlock()
	fetches.EachRecord(func(r *kgo.Record) {
		out = append(out, fromKgoRecord(r))
		tp := domain.TopicPartition{Topic: r.Topic, Partition: r.Partition}
		if c.pending[tp] == nil {
			c.pending[tp] = make(map[int64]*kgo.Record)
		}
		c.pending[tp][r.Offset] = r
	})
	return out, nil
}

// MarkForCommit records msg as safe to commit. The actual network commit
// happens on CommitMarked (called once per batch, after every bucket in the
// batch has been durably inserted) or on the client's background auto-commit
// interval.
func (c *GroupConsumer) MarkForCommit(msg domain.ConsumedMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tp := domain.TopicPartition{Topic: msg.Topic, Partition: msg.Partition}
	rec, ok := c.pending[tp][msg.Offset]
	if !ok {
		return
	}
	c.client.MarkCommitRecords(rec)
	delete(c.pending[tp], msg.Offset)
}

// CommitMarked blocks until every record marked via MarkForCommit so far has
// its offset committed to the group.
func (c *GroupConsumer) CommitMarked(ctx context.Context) error {
	if err := c.client.CommitMarkedOffsets(ctx); err != nil {
		return fmt.Errorf("kafka: commit marked offsets: %w", err)
	}
	return nil
}

// Assign is unsupported: GroupConsumer relies on group balancing.
func (c *GroupConsumer) Assign([]domain.TopicPartition) error {
	return fmt.Errorf("kafka: Assign is not supported on a grouped GroupConsumer")
}

// SeekToBeginning is unsupported: reset policy is fixed at construction.
func (c *GroupConsumer) SeekToBeginning([]domain.TopicPartition) error {
	return fmt.Errorf("kafka: SeekToBeginning is not supported on a grouped GroupConsumer")
}

// BeginningOffsets is unsupported on a grouped consumer; hydration uses the
// dedicated assign-based Consumer instead.
func (c *GroupConsumer) BeginningOffsets(context.Context, []domain.TopicPartition) (map[domain.TopicPartition]int64, error) {
	return nil, fmt.Errorf("kafka: BeginningOffsets is not supported on a grouped GroupConsumer")
}

// EndOffsets is unsupported on a grouped consumer.
func (c *GroupConsumer) EndOffsets(context.Context, []domain.TopicPartition) (map[domain.TopicPartition]int64, error) {
	return nil, fmt.Errorf("kafka: EndOffsets is not supported on a grouped GroupConsumer")
}

// Position is not tracked separately; the broker-committed offset is the
// source of truth for a grouped consumer.
func (c *GroupConsumer) Position(domain.TopicPartition) int64 { return 0 }

// GroupMetadata returns nil: GroupConsumer never participates in a producer
// transaction.
func (c *GroupConsumer) GroupMetadata() domain.GroupMetadata { return nil }

// Close releases the consumer's resources.
func (c *GroupConsumer) Close() error {
	c.client.Close()
	return nil
}
