package kafka

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/arqsystems/refdata-platform/internal/domain"
)

// SessionConfig configures a TransactSession.
type SessionConfig struct {
	Brokers         []string
	TransactionalID string
	GroupID         string
	Topics          []string
	// OnRebalance is invoked synchronously whenever the group assigns or
	// revokes partitions for this member.
	OnRebalance domain.RebalanceCallback
}

// TransactSession fuses a transactional producer with a grouped,
// read-committed consumer, exactly the coupling the CommandExecutor's main
// loop needs: poll a batch, begin a transaction, produce update/DLQ
// records, then end the transaction — which both commits the produced
// records and advances the consumer group's committed offsets atomically.
// It implements both domain.StreamProducer and domain.StreamConsumer.
type TransactSession struct {
	session *kgo.GroupTransactSession

	mu       sync.RWMutex
	assigned map[string][]int32
}

// NewTransactSession constructs a TransactSession and joins cfg.GroupID,
// consuming cfg.Topics with read-committed isolation.
func NewTransactSession(cfg SessionConfig) (*TransactSession, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no seed brokers provided")
	}
	if cfg.GroupID == "" {
		return nil, fmt.Errorf("kafka: missing required group id")
	}

	tracer := kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider()))
	kotelService := kotel.NewKotel(kotel.WithTracer(tracer))

	ts := &TransactSession{assigned: make(map[string][]int32)}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.TransactionalID(cfg.TransactionalID),
		kgo.FetchIsolationLevel(kgo.ReadCommitted()),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.RequireStableFetchOffsets(),
		kgo.WithHooks(kotelService.Hooks()...),
		kgo.DisableAutoCommit(),
		kgo.OnPartitionsAssigned(func(ctx context.Context, _ *kgo.Client, assigned map[string][]int32) {
			ts.recordAssignment(assigned, true)
			if cfg.OnRebalance != nil {
				cfg.OnRebalance(ctx, domain.RebalanceEvent{Assigned: true, Topics: assigned})
			}
		}),
		kgo.OnPartitionsRevoked(func(ctx context.Context, _ *kgo.Client, revoked map[string][]int32) {
			ts.recordAssignment(revoked, false)
			if cfg.OnRebalance != nil {
				cfg.OnRebalance(ctx, domain.RebalanceEvent{Assigned: false, Topics: revoked})
			}
		}),
		kgo.OnPartitionsLost(func(ctx context.Context, _ *kgo.Client, lost map[string][]int32) {
			ts.recordAssignment(lost, false)
			if cfg.OnRebalance != nil {
				cfg.OnRebalance(ctx, domain.RebalanceEvent{Assigned: false, Topics: lost})
			}
		}),
	}

	session, err := kgo.NewGroupTransactSession(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka: new transact session: %w", err)
	}
	ts.session = session
	return ts, nil
}

func (s *TransactSession) recordAssignment(delta map[string][]int32, assigned bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for topic, partitions := range delta {
		if assigned {
			s.assigned[topic] = append(s.assigned[topic], partitions...)
			continue
		}
		kept := make([]int32, 0, len(s.assigned[topic]))
		for _, p := range s.assigned[topic] {
			if !slices.Contains(partitions, p) {
				kept = append(kept, p)
			}
		}
		s.assigned[topic] = kept
	}
}

// InitTransactions is a no-op: NewGroupTransactSession already performs
// producer-side transactional initialization during construction.
func (s *TransactSession) InitTransactions(context.Context) error { return nil }

// BeginTransaction opens a transaction.
func (s *TransactSession) BeginTransaction() error {
	return s.session.Begin()
}

// SendOffsetsToTransaction is a no-op: GroupTransactSession tracks consumed
// offsets from PollFetches automatically and commits them as part of End.
func (s *TransactSession) SendOffsetsToTransaction(context.Context, map[domain.TopicPartition]int64, domain.GroupMetadata) error {
	return nil
}

// CommitTransaction ends the open transaction with a commit, which also
// advances the consumer group's committed offsets for every record polled
// since the matching BeginTransaction.
func (s *TransactSession) CommitTransaction(ctx context.Context) error {
	committed, err := s.session.End(ctx, kgo.TryCommit)
	if err != nil {
		return fmt.Errorf("kafka: end transaction (commit): %w", err)
	}
	if !committed {
		return fmt.Errorf("kafka: transaction did not commit, likely due to a concurrent rebalance")
	}
	return nil
}

// AbortTransaction ends the open transaction with an abort.
func (s *TransactSession) AbortTransaction(ctx context.Context) error {
	if _, err := s.session.End(ctx, kgo.TryAbort); err != nil {
		return fmt.Errorf("kafka: end transaction (abort): %w", err)
	}
	return nil
}

// Send produces rec within the currently open transaction and waits for its
// produce result before returning.
func (s *TransactSession) Send(ctx context.Context, rec domain.ProducedRecord) error {
	record := toKgoRecord(rec)
	e := kgo.AbortingFirstErrPromise(s.session.Client())
	s.session.Produce(ctx, record, e.Promise())
	if err := e.Err(); err != nil {
		return fmt.Errorf("kafka: produce to %q: %w", rec.Topic, err)
	}
	return nil
}

// Flush blocks until the local send queue drains.
func (s *TransactSession) Flush(ctx context.Context) error {
	return s.session.Client().Flush(ctx)
}

// Subscribe is a no-op: the session already subscribed to its configured
// topics at construction time.
func (s *TransactSession) Subscribe(context.Context, []string, domain.RebalanceCallback) error {
	return nil
}

// Poll returns the next batch of fetched records, translated to
// domain.ConsumedMessage.
func (s *TransactSession) Poll(ctx context.Context) ([]domain.ConsumedMessage, error) {
	fetches := s.session.PollFetches(ctx)
	if errs := fetches.Errors(); len(errs) > 0 {
		e := errs[0]
		return nil, fmt.Errorf("kafka: fetch error on %s[%d]: %w", e.Topic, e.Partition, e.Err)
	}

	var out []domain.ConsumedMessage
	fetches.EachRecord(func(r *kgo.Record) {
		out = append(out, fromKgoRecord(r))
	})
	return out, nil
}

// MarkForCommit is a no-op for TransactSession: GroupTransactSession commits
// every record returned from PollFetches since the last Begin, regardless of
// individual marking.
func (s *TransactSession) MarkForCommit(domain.ConsumedMessage) {}

// Assign is unsupported for a grouped transactional session; dedicated
// hydration consumers use the plain Consumer type instead.
func (s *TransactSession) Assign([]domain.TopicPartition) error {
	return fmt.Errorf("kafka: Assign is not supported on a grouped TransactSession")
}

// SeekToBeginning is unsupported for a grouped transactional session.
func (s *TransactSession) SeekToBeginning([]domain.TopicPartition) error {
	return fmt.Errorf("kafka: SeekToBeginning is not supported on a grouped TransactSession")
}

// BeginningOffsets is unsupported for a grouped transactional session.
func (s *TransactSession) BeginningOffsets(context.Context, []domain.TopicPartition) (map[domain.TopicPartition]int64, error) {
	return nil, fmt.Errorf("kafka: BeginningOffsets is not supported on a grouped TransactSession")
}

// EndOffsets is unsupported for a grouped transactional session.
func (s *TransactSession) EndOffsets(context.Context, []domain.TopicPartition) (map[domain.TopicPartition]int64, error) {
	return nil, fmt.Errorf("kafka: EndOffsets is not supported on a grouped TransactSession")
}

// Position is unsupported for a grouped transactional session.
func (s *TransactSession) Position(domain.TopicPartition) int64 { return 0 }

// GroupMetadata returns nil: offset/transaction coupling is handled
// internally by GroupTransactSession, so callers never need this token.
func (s *TransactSession) GroupMetadata() domain.GroupMetadata { return nil }

// AssignedPartitions returns the topic's partitions currently owned by this
// session's consumer group member, for handing to the HydrationEngine after
// a rebalance. Reflects the most recent OnPartitionsAssigned/Revoked/Lost
// callback, so it is only meaningful once Begin/Poll have run at least once.
func (s *TransactSession) AssignedPartitions(topic string) []domain.TopicPartition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	partitions := s.assigned[topic]
	out := make([]domain.TopicPartition, 0, len(partitions))
	for _, p := range partitions {
		out = append(out, domain.TopicPartition{Topic: topic, Partition: p})
	}
	return out
}

// Close leaves the consumer group and releases the session's resources.
func (s *TransactSession) Close() error {
	s.session.Close()
	return nil
}

func toKgoRecord(rec domain.ProducedRecord) *kgo.Record {
	r := &kgo.Record{
		Topic: rec.Topic,
		Key:   rec.Key,
		Value: rec.Value,
	}
	if rec.Partition != nil {
		r.Partition = *rec.Partition
	}
	for k, v := range rec.Headers {
		r.Headers = append(r.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}
	if rec.ID != "" {
		r.Headers = append(r.Headers, kgo.RecordHeader{Key: domain.HeaderSourceOffset, Value: []byte(rec.ID)})
	}
	return r
}

func fromKgoRecord(r *kgo.Record) domain.ConsumedMessage {
	m := domain.ConsumedMessage{
		Topic:     r.Topic,
		Partition: r.Partition,
		Offset:    r.Offset,
		Key:       r.Key,
		Value:     r.Value,
	}
	if len(r.Headers) > 0 {
		m.Headers = make(map[string]string, len(r.Headers))
		for _, h := range r.Headers {
			m.Headers[h.Key] = string(h.Value)
		}
	}
	return m
}
