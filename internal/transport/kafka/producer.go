package kafka

import (
	"context"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/arqsystems/refdata-platform/internal/domain"
)

// Producer is a plain, non-transactional StreamProducer used by the
// AuditProjector's dead-letter path: unlike the CommandExecutor, the
// projector has no transaction to fold DLQ writes into, so its DLQ producer
// is a best-effort, separately-committed publisher (grounded on the
// original implementation's equivalent untransacted DLQ path).
type Producer struct {
	client *kgo.Client
}

// NewProducer constructs a non-transactional Producer against brokers.
func NewProducer(brokers []string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka: no seed brokers provided")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.RequestRetries(10),
		kgo.ProducerBatchMaxBytes(1000000),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka: new client: %w", err)
	}
	return &Producer{client: client}, nil
}

// Send produces rec and waits for its produce result before returning.
func (p *Producer) Send(ctx context.Context, rec domain.ProducedRecord) error {
	record := toKgoRecord(rec)
	e := kgo.AbortingFirstErrPromise(p.client)
	p.client.Produce(ctx, record, e.Promise())
	if err := e.Err(); err != nil {
		return fmt.Errorf("kafka: produce to %q: %w", rec.Topic, err)
	}
	return nil
}

// Flush blocks until the local send queue drains.
func (p *Producer) Flush(ctx context.Context) error {
	return p.client.Flush(ctx)
}

// InitTransactions is unsupported: Producer is not transactional.
func (p *Producer) InitTransactions(context.Context) error {
	return fmt.Errorf("kafka: Producer is not transactional")
}

// BeginTransaction is unsupported: Producer is not transactional.
func (p *Producer) BeginTransaction() error {
	return fmt.Errorf("kafka: Producer is not transactional")
}

// SendOffsetsToTransaction is unsupported: Producer is not transactional.
func (p *Producer) SendOffsetsToTransaction(context.Context, map[domain.TopicPartition]int64, domain.GroupMetadata) error {
	return fmt.Errorf("kafka: Producer is not transactional")
}

// CommitTransaction is unsupported: Producer is not transactional.
func (p *Producer) CommitTransaction(context.Context) error {
	return fmt.Errorf("kafka: Producer is not transactional")
}

// AbortTransaction is unsupported: Producer is not transactional.
func (p *Producer) AbortTransaction(context.Context) error {
	return fmt.Errorf("kafka: Producer is not transactional")
}

// Close releases the producer's resources.
func (p *Producer) Close() error {
	p.client.Close()
	return nil
}
