package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/arqsystems/refdata-platform/internal/domain"
	"github.com/arqsystems/refdata-platform/internal/observability"
)

// PgxPool is a minimal subset of pgxpool used by Store, for easy testing.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Store persists Records to the audit_log table. Insert is idempotent: a
// (uuid, version) pair already present is silently skipped, so retrying a
// partially-applied batch after a transient failure never double-writes.
type Store struct {
	pool PgxPool
	// encode serializes a Record's entity-specific Data for storage. The
	// projector supplies its codec.Registry here so Store stays independent
	// of the entity type registry.
	encode func(entity string, rec domain.Record) ([]byte, error)
}

// NewStore constructs a Store. encode must round-trip with whatever codec
// the projector uses to decode update-topic messages, since audit_log.payload
// stores the same wire representation.
func NewStore(pool PgxPool, encode func(entity string, rec domain.Record) ([]byte, error)) *Store {
	return &Store{pool: pool, encode: encode}
}

// Insert writes records for entity in a single transaction. Rows whose
// (uuid, version) already exist are skipped via ON CONFLICT DO NOTHING,
// making this safe to call again with a batch that partially succeeded.
func (s *Store) Insert(ctx context.Context, entity string, records []domain.Record) error {
	if len(records) == 0 {
		return nil
	}

	start := time.Now()
	outcome := "error"
	defer func() {
		observability.AuditInsertDuration.WithLabelValues(entity, outcome).Observe(time.Since(start).Seconds())
	}()

	tracer := otel.Tracer("audit.postgres")
	ctx, span := tracer.Start(ctx, "audit.Insert")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "audit_log"),
		attribute.String("refdata.entity", entity),
		attribute.Int("refdata.batch_size", len(records)),
	)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("op=audit.insert.begin_tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	var b strings.Builder
	b.WriteString(`INSERT INTO audit_log (entity, uuid, version, is_active, last_updated_by, last_updated_ts, payload) VALUES `)
	args := make([]any, 0, len(records)*7)
	for i, rec := range records {
		payload, err := s.encode(entity, rec)
		if err != nil {
			return fmt.Errorf("op=audit.insert.encode: %w", err)
		}
		if i > 0 {
			b.WriteString(", ")
		}
		base := i * 7
		fmt.Fprintf(&b, "($%d,$%d,$%d,$%d,$%d,$%d,$%d)", base+1, base+2, base+3, base+4, base+5, base+6, base+7)
		args = append(args, entity, rec.Header.UUID, rec.Header.Version, rec.Header.IsActive, rec.Header.LastUpdatedBy, rec.Header.LastUpdatedTs, payload)
	}
	b.WriteString(` ON CONFLICT (uuid, version) DO NOTHING`)

	if _, err := tx.Exec(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("op=audit.insert.exec: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=audit.insert.commit: %w", err)
	}
	committed = true
	outcome = "success"
	return nil
}
