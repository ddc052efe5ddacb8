package projector

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arqsystems/refdata-platform/internal/codec"
	"github.com/arqsystems/refdata-platform/internal/dispatch"
	"github.com/arqsystems/refdata-platform/internal/domain"
)

type currencyData struct {
	CcyID string
}

type fakeUpdateConsumer struct {
	mu       sync.Mutex
	batch    []domain.ConsumedMessage
	polled   bool
	marked   []domain.ConsumedMessage
	commits  int
}

func (f *fakeUpdateConsumer) Subscribe(context.Context, []string, domain.RebalanceCallback) error {
	return nil
}
func (f *fakeUpdateConsumer) Poll(context.Context) ([]domain.ConsumedMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.polled {
		return nil, nil
	}
	f.polled = true
	return f.batch, nil
}
func (f *fakeUpdateConsumer) MarkForCommit(m domain.ConsumedMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, m)
}
func (f *fakeUpdateConsumer) Assign([]domain.TopicPartition) error          { return nil }
func (f *fakeUpdateConsumer) SeekToBeginning([]domain.TopicPartition) error { return nil }
func (f *fakeUpdateConsumer) BeginningOffsets(context.Context, []domain.TopicPartition) (map[domain.TopicPartition]int64, error) {
	return nil, nil
}
func (f *fakeUpdateConsumer) EndOffsets(context.Context, []domain.TopicPartition) (map[domain.TopicPartition]int64, error) {
	return nil, nil
}
func (f *fakeUpdateConsumer) Position(domain.TopicPartition) int64 { return 0 }
func (f *fakeUpdateConsumer) GroupMetadata() domain.GroupMetadata { return nil }
func (f *fakeUpdateConsumer) Close() error                        { return nil }
func (f *fakeUpdateConsumer) CommitMarked(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits++
	return nil
}

type fakeDLQProducer struct {
	mu   sync.Mutex
	sent []domain.ProducedRecord
}

func (f *fakeDLQProducer) Send(_ context.Context, rec domain.ProducedRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, rec)
	return nil
}
func (f *fakeDLQProducer) Flush(context.Context) error            { return nil }
func (f *fakeDLQProducer) InitTransactions(context.Context) error { return nil }
func (f *fakeDLQProducer) BeginTransaction() error                { return nil }
func (f *fakeDLQProducer) SendOffsetsToTransaction(context.Context, map[domain.TopicPartition]int64, domain.GroupMetadata) error {
	return nil
}
func (f *fakeDLQProducer) CommitTransaction(context.Context) error { return nil }
func (f *fakeDLQProducer) AbortTransaction(context.Context) error  { return nil }
func (f *fakeDLQProducer) Close() error                            { return nil }

type fakeAuditStore struct {
	mu       sync.Mutex
	inserted map[string][][]domain.Record
	failN    int // fail this many calls before succeeding
}

func (s *fakeAuditStore) Insert(_ context.Context, entity string, records []domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failN > 0 {
		s.failN--
		return assert.AnError
	}
	if s.inserted == nil {
		s.inserted = make(map[string][][]domain.Record)
	}
	s.inserted[entity] = append(s.inserted[entity], records)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T) (*codec.Registry, dispatch.Table) {
	t.Helper()
	reg := codec.NewRegistry()
	codec.Register[currencyData](reg, "Currency")
	table, err := dispatch.NewTable(dispatch.EntityOps{Name: "Currency"})
	require.NoError(t, err)
	return reg, table
}

func updateMessage(t *testing.T, reg *codec.Registry, id uuid.UUID, version uint32, offset int64) domain.ConsumedMessage {
	t.Helper()
	raw, err := reg.EncodeRecord("Currency", domain.Record{
		Header: domain.RecordHeader{UUID: id, Version: version, IsActive: true},
		Data:   &currencyData{CcyID: "USD"},
	})
	require.NoError(t, err)
	return domain.ConsumedMessage{Topic: "ARQ.RefData.Updates.Currency", Partition: 0, Offset: offset, Key: []byte(id.String()), Value: raw}
}

func TestProjector_InsertsBucketAndCommits(t *testing.T) {
	reg, table := newHarness(t)
	id := uuid.New()

	consumer := &fakeUpdateConsumer{batch: []domain.ConsumedMessage{
		updateMessage(t, reg, id, 1, 0),
		updateMessage(t, reg, id, 2, 1),
	}}
	dlq := &fakeDLQProducer{}
	store := &fakeAuditStore{}

	p := New(consumer, dlq, store, reg, table, "1ms-2-10ms-3", discardLogger())
	err := p.processBatch(context.Background(), consumer.batch)
	require.NoError(t, err)

	require.Equal(t, 1, consumer.commits)
	require.Len(t, store.inserted["Currency"], 1)
	assert.Len(t, store.inserted["Currency"][0], 2)
	assert.Empty(t, dlq.sent)
}

func TestProjector_UndecodableMessage_RoutesToDLQAndStillCommits(t *testing.T) {
	reg, table := newHarness(t)
	id := uuid.New()

	good := updateMessage(t, reg, id, 1, 0)
	bad := domain.ConsumedMessage{Topic: "ARQ.RefData.Updates.Currency", Partition: 0, Offset: 1, Value: []byte("{not json")}

	consumer := &fakeUpdateConsumer{batch: []domain.ConsumedMessage{good, bad}}
	dlq := &fakeDLQProducer{}
	store := &fakeAuditStore{}

	p := New(consumer, dlq, store, reg, table, "1ms-2-10ms-3", discardLogger())
	err := p.processBatch(context.Background(), consumer.batch)
	require.NoError(t, err)

	require.Len(t, dlq.sent, 1)
	assert.Equal(t, "ARQ.RefData.Updates.Currency.DLQ", dlq.sent[0].Topic)
	require.Len(t, store.inserted["Currency"], 1)
	assert.Len(t, store.inserted["Currency"][0], 1)
	assert.Equal(t, 1, consumer.commits)
}

func TestProjector_InsertRetries_ThenSucceeds(t *testing.T) {
	reg, table := newHarness(t)
	id := uuid.New()

	consumer := &fakeUpdateConsumer{batch: []domain.ConsumedMessage{updateMessage(t, reg, id, 1, 0)}}
	dlq := &fakeDLQProducer{}
	store := &fakeAuditStore{failN: 2}

	p := New(consumer, dlq, store, reg, table, "1ms-2-10ms-5", discardLogger())
	err := p.processBatch(context.Background(), consumer.batch)
	require.NoError(t, err)

	require.Len(t, store.inserted["Currency"], 1)
	assert.Equal(t, 1, consumer.commits)
}

func TestProjector_InsertExhaustsRetryBudget_IsFatal(t *testing.T) {
	reg, table := newHarness(t)
	id := uuid.New()

	consumer := &fakeUpdateConsumer{batch: []domain.ConsumedMessage{updateMessage(t, reg, id, 1, 0)}}
	dlq := &fakeDLQProducer{}
	store := &fakeAuditStore{failN: 100}

	p := New(consumer, dlq, store, reg, table, "1ms-2-5ms-2", discardLogger())
	err := p.processBatch(context.Background(), consumer.batch)
	require.Error(t, err)
	assert.Equal(t, 0, consumer.commits)
}
