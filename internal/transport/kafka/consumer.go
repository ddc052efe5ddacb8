package kafka

import (
	"context"
	"fmt"
	"sync"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/arqsystems/refdata-platform/internal/domain"
)

// Consumer is a plain, ungrouped StreamConsumer used by the HydrationEngine:
// it assigns specific partitions directly and tracks read position itself,
// rather than joining a consumer group.
type Consumer struct {
	client *kgo.Client

	mu  sync.Mutex
	pos map[domain.TopicPartition]int64
}

// NewConsumer constructs a Consumer against brokers with no consumer group
// and no auto-commit; callers drive partition assignment explicitly via
// Assign/SeekToBeginning.
func NewConsumer(brokers []string) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka: no seed brokers provided")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.FetchIsolationLevel(kgo.ReadCommitted()),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka: new client: %w", err)
	}
	return &Consumer{client: client, pos: make(map[domain.TopicPartition]int64)}, nil
}

// Subscribe is unsupported: Consumer is assign-only.
func (c *Consumer) Subscribe(context.Context, []string, domain.RebalanceCallback) error {
	return fmt.Errorf("kafka: Subscribe is not supported on an assign-only Consumer")
}

// Poll returns the next batch of fetched records.
func (c *Consumer) Poll(ctx context.Context) ([]domain.ConsumedMessage, error) {
	fetches := c.client.PollFetches(ctx)
	if errs := fetches.Errors(); len(errs) > 0 {
		e := errs[0]
		return nil, fmt.Errorf("kafka: fetch error on %s[%d]: %w", e.Topic, e.Partition, e.Err)
	}

	var out []domain.ConsumedMessage
	c.mu.Lock()
	defer c.mu.Unlock()
	fetches.EachRecord(func(r *kgo.Record) {
		m := fromKgoRecord(r)
		out = append(out, m)
		c.pos[domain.TopicPartition{Topic: r.Topic, Partition: r.Partition}] = r.Offset + 1
	})
	return out, nil
}

// MarkForCommit is a no-op: a hydration Consumer never commits offsets.
func (c *Consumer) MarkForCommit(domain.ConsumedMessage) {}

// Assign directly assigns partitions, bypassing group balancing.
func (c *Consumer) Assign(partitions []domain.TopicPartition) error {
	offsets := make(map[string]map[int32]kgo.Offset, len(partitions))
	for _, tp := range partitions {
		if offsets[tp.Topic] == nil {
			offsets[tp.Topic] = make(map[int32]kgo.Offset)
		}
		offsets[tp.Topic][tp.Partition] = kgo.NewOffset().AtStart()
	}
	c.client.AddConsumePartitions(offsets)
	return nil
}

// SeekToBeginning seeks the given partitions to their earliest offset.
func (c *Consumer) SeekToBeginning(partitions []domain.TopicPartition) error {
	offsets := make(map[string]map[int32]kgo.Offset, len(partitions))
	for _, tp := range partitions {
		if offsets[tp.Topic] == nil {
			offsets[tp.Topic] = make(map[int32]kgo.Offset)
		}
		offsets[tp.Topic][tp.Partition] = kgo.NewOffset().AtStart()
	}
	c.client.SetOffsets(offsets)
	return nil
}

// BeginningOffsets returns the earliest readable offset per partition.
func (c *Consumer) BeginningOffsets(ctx context.Context, partitions []domain.TopicPartition) (map[domain.TopicPartition]int64, error) {
	return c.listOffsets(ctx, partitions, false)
}

// EndOffsets returns the high-watermark offset per partition.
func (c *Consumer) EndOffsets(ctx context.Context, partitions []domain.TopicPartition) (map[domain.TopicPartition]int64, error) {
	return c.listOffsets(ctx, partitions, true)
}

func (c *Consumer) listOffsets(ctx context.Context, partitions []domain.TopicPartition, end bool) (map[domain.TopicPartition]int64, error) {
	topics := make([]string, 0)
	seen := make(map[string]bool)
	for _, tp := range partitions {
		if !seen[tp.Topic] {
			seen[tp.Topic] = true
			topics = append(topics, tp.Topic)
		}
	}

	adm := kadm.NewClient(c.client)
	var listed kadm.ListedOffsets
	var err error
	if end {
		listed, err = adm.ListEndOffsets(ctx, topics...)
	} else {
		listed, err = adm.ListStartOffsets(ctx, topics...)
	}
	if err != nil {
		return nil, fmt.Errorf("kafka: list offsets: %w", err)
	}

	out := make(map[domain.TopicPartition]int64, len(partitions))
	for _, tp := range partitions {
		lo, ok := listed.Lookup(tp.Topic, tp.Partition)
		if !ok {
			return nil, fmt.Errorf("kafka: no listed offset for %s[%d]", tp.Topic, tp.Partition)
		}
		if lo.Err != nil {
			return nil, fmt.Errorf("kafka: list offset for %s[%d]: %w", tp.Topic, tp.Partition, lo.Err)
		}
		out[tp] = lo.Offset
	}
	return out, nil
}

// Position returns the consumer's current read position for a partition.
func (c *Consumer) Position(tp domain.TopicPartition) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pos[tp]
}

// GroupMetadata returns nil: Consumer never joins a consumer group.
func (c *Consumer) GroupMetadata() domain.GroupMetadata { return nil }

// Close releases the consumer's resources.
func (c *Consumer) Close() error {
	c.client.Close()
	return nil
}
