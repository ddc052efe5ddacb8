package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arqsystems/refdata-platform/internal/domain"
)

// fakeTx is a minimal pgx.Tx double: it embeds the interface so every method
// is satisfied, and overrides only the three Store actually calls.
type fakeTx struct {
	pgx.Tx
	execSQL      string
	execArgs     []any
	execErr      error
	commitErr    error
	rollbackErr  error
	committed    bool
	rolledBack   bool
}

func (t *fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.execSQL = sql
	t.execArgs = args
	return pgconn.CommandTag{}, t.execErr
}

func (t *fakeTx) Commit(context.Context) error {
	t.committed = true
	return t.commitErr
}

func (t *fakeTx) Rollback(context.Context) error {
	t.rolledBack = true
	return t.rollbackErr
}

type fakePool struct {
	tx      *fakeTx
	beginErr error
}

func (p *fakePool) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (p *fakePool) BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error) {
	if p.beginErr != nil {
		return nil, p.beginErr
	}
	return p.tx, nil
}

func encodeJSON(_ string, rec domain.Record) ([]byte, error) {
	return []byte(`{"ok":true}`), nil
}

func TestStore_Insert_Empty_NoOp(t *testing.T) {
	pool := &fakePool{tx: &fakeTx{}}
	s := NewStore(pool, encodeJSON)
	require.NoError(t, s.Insert(context.Background(), "Currency", nil))
	assert.False(t, pool.tx.committed, "an empty batch must not open a transaction")
}

func TestStore_Insert_CommitsAndBuildsMultiRowStatement(t *testing.T) {
	tx := &fakeTx{}
	pool := &fakePool{tx: tx}
	s := NewStore(pool, encodeJSON)

	records := []domain.Record{
		{Header: domain.RecordHeader{UUID: uuid.New(), Version: 1, IsActive: true, LastUpdatedBy: "tester", LastUpdatedTs: time.Now().UTC()}},
		{Header: domain.RecordHeader{UUID: uuid.New(), Version: 2, IsActive: true, LastUpdatedBy: "tester", LastUpdatedTs: time.Now().UTC()}},
	}

	require.NoError(t, s.Insert(context.Background(), "Currency", records))
	assert.True(t, tx.committed)
	assert.False(t, tx.rolledBack)
	assert.Contains(t, tx.execSQL, "ON CONFLICT (uuid, version) DO NOTHING")
	assert.Contains(t, tx.execSQL, "($1,$2,$3,$4,$5,$6,$7)")
	assert.Contains(t, tx.execSQL, "($8,$9,$10,$11,$12,$13,$14)")
	assert.Len(t, tx.execArgs, 14)
}

func TestStore_Insert_ExecFailure_RollsBackAndReturnsError(t *testing.T) {
	tx := &fakeTx{execErr: assert.AnError}
	pool := &fakePool{tx: tx}
	s := NewStore(pool, encodeJSON)

	err := s.Insert(context.Background(), "Currency", []domain.Record{
		{Header: domain.RecordHeader{UUID: uuid.New(), Version: 1}},
	})
	require.Error(t, err)
	assert.True(t, tx.rolledBack)
	assert.False(t, tx.committed)
}

func TestStore_Insert_BeginTxFailure_ReturnsError(t *testing.T) {
	pool := &fakePool{beginErr: assert.AnError}
	s := NewStore(pool, encodeJSON)

	err := s.Insert(context.Background(), "Currency", []domain.Record{
		{Header: domain.RecordHeader{UUID: uuid.New(), Version: 1}},
	})
	require.Error(t, err)
}
