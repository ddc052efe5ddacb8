package hydration

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arqsystems/refdata-platform/internal/codec"
	"github.com/arqsystems/refdata-platform/internal/dispatch"
	"github.com/arqsystems/refdata-platform/internal/domain"
	"github.com/arqsystems/refdata-platform/internal/version"
)

type currencyData struct {
	CcyID string
}

// fakeConsumer is a minimal, single-partition-per-topic domain.StreamConsumer
// that replays a fixed slice of messages, advancing Position as Poll is
// drained — enough to exercise the Engine's high-watermark loop without a
// real broker.
type fakeConsumer struct {
	begin, end map[domain.TopicPartition]int64
	queue      []domain.ConsumedMessage
	pos        map[domain.TopicPartition]int64
	assigned   []domain.TopicPartition
	closed     bool
}

func (f *fakeConsumer) Subscribe(context.Context, []string, domain.RebalanceCallback) error {
	return nil
}

func (f *fakeConsumer) Poll(context.Context) ([]domain.ConsumedMessage, error) {
	if len(f.queue) == 0 {
		return nil, nil
	}
	out := f.queue
	f.queue = nil
	for _, m := range out {
		tp := domain.TopicPartition{Topic: m.Topic, Partition: m.Partition}
		f.pos[tp] = m.Offset + 1
	}
	return out, nil
}

func (f *fakeConsumer) MarkForCommit(domain.ConsumedMessage) {}

func (f *fakeConsumer) Assign(partitions []domain.TopicPartition) error {
	f.assigned = partitions
	return nil
}

func (f *fakeConsumer) SeekToBeginning([]domain.TopicPartition) error { return nil }

func (f *fakeConsumer) BeginningOffsets(_ context.Context, partitions []domain.TopicPartition) (map[domain.TopicPartition]int64, error) {
	out := make(map[domain.TopicPartition]int64, len(partitions))
	for _, tp := range partitions {
		out[tp] = f.begin[tp]
	}
	return out, nil
}

func (f *fakeConsumer) EndOffsets(_ context.Context, partitions []domain.TopicPartition) (map[domain.TopicPartition]int64, error) {
	out := make(map[domain.TopicPartition]int64, len(partitions))
	for _, tp := range partitions {
		out[tp] = f.end[tp]
	}
	return out, nil
}

func (f *fakeConsumer) Position(tp domain.TopicPartition) int64 { return f.pos[tp] }

func (f *fakeConsumer) GroupMetadata() domain.GroupMetadata { return nil }

func (f *fakeConsumer) Close() error {
	f.closed = true
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEngine_Run_HydratesStoreToHighWatermark(t *testing.T) {
	reg := codec.NewRegistry()
	codec.Register[currencyData](reg, "Currency")
	table, err := dispatch.NewTable(dispatch.EntityOps{Name: "Currency"})
	require.NoError(t, err)

	id := uuid.New()
	updateTP := domain.TopicPartition{Topic: "ARQ.RefData.Updates.Currency", Partition: 0}

	recBytes, err := reg.EncodeRecord("Currency", domain.Record{
		Header: domain.RecordHeader{UUID: id, Version: 2, IsActive: true},
		Data:   &currencyData{CcyID: "USD"},
	})
	require.NoError(t, err)

	fc := &fakeConsumer{
		begin: map[domain.TopicPartition]int64{updateTP: 0},
		end:   map[domain.TopicPartition]int64{updateTP: 2},
		pos:   map[domain.TopicPartition]int64{},
		queue: []domain.ConsumedMessage{
			{Topic: updateTP.Topic, Partition: 0, Offset: 0, Key: []byte(id.String()), Value: recBytes},
			{Topic: updateTP.Topic, Partition: 0, Offset: 1, Key: []byte(id.String()), Value: recBytes},
		},
	}

	eng := New(fc, reg, table, discardLogger())
	store := version.NewStore()

	err = eng.Run(context.Background(), store, []domain.TopicPartition{
		{Topic: "ARQ.RefData.Commands.Currency", Partition: 0},
	})
	require.NoError(t, err)

	v, ok := store.CurrentVersion(id)
	require.True(t, ok)
	assert.Equal(t, uint32(2), v)
	assert.True(t, fc.closed)
}

func TestEngine_Run_NoPartitionsIsNoop(t *testing.T) {
	reg := codec.NewRegistry()
	table, err := dispatch.NewTable()
	require.NoError(t, err)

	fc := &fakeConsumer{pos: map[domain.TopicPartition]int64{}}
	eng := New(fc, reg, table, discardLogger())
	store := version.NewStore()

	err = eng.Run(context.Background(), store, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, store.Len())
	assert.True(t, fc.closed)
}

func TestEngine_Run_EmptyPartitionSkipsTarget(t *testing.T) {
	reg := codec.NewRegistry()
	table, err := dispatch.NewTable(dispatch.EntityOps{Name: "Currency"})
	require.NoError(t, err)

	updateTP := domain.TopicPartition{Topic: "ARQ.RefData.Updates.Currency", Partition: 0}
	fc := &fakeConsumer{
		begin: map[domain.TopicPartition]int64{updateTP: 5},
		end:   map[domain.TopicPartition]int64{updateTP: 5},
		pos:   map[domain.TopicPartition]int64{},
	}

	eng := New(fc, reg, table, discardLogger())
	store := version.NewStore()

	err = eng.Run(context.Background(), store, []domain.TopicPartition{
		{Topic: "ARQ.RefData.Commands.Currency", Partition: 0},
	})
	require.NoError(t, err)
	assert.Nil(t, fc.assigned)
}
