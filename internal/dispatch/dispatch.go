// Package dispatch builds the entity dispatch table the executor and
// projector use to process heterogeneous entity types through a single
// code path, without a compile-time-global type registry. This is the
// "tagged-variant dispatch table" called for in place of the source's
// static EntityMetadataRegistry: one explicit map, built once at startup by
// the caller, never a package-level singleton.
package dispatch

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arqsystems/refdata-platform/internal/domain"
)

// EntityOps names one entity the service handles. The entity's concrete Go
// type is resolved elsewhere, by the same Name, through a codec.Registry —
// Table only needs to know which entity names are enabled so the executor
// and projector can validate incoming commands and derive topic names
// (ARQ.RefData.Commands.<Name>, ARQ.RefData.Updates.<Name>) without a
// compile-time switch over entity types.
type EntityOps struct {
	Name string
}

// Table is the startup-built, read-only map from entity name to its
// operations. Construct with NewTable; never mutate after handing it to an
// executor or projector.
type Table map[string]EntityOps

// NewTable builds a Table from a list of EntityOps, validating that no name
// is registered twice.
func NewTable(ops ...EntityOps) (Table, error) {
	t := make(Table, len(ops))
	for _, op := range ops {
		if _, exists := t[op.Name]; exists {
			return nil, fmt.Errorf("dispatch: entity %q registered twice", op.Name)
		}
		t[op.Name] = op
	}
	return t, nil
}

// Lookup returns the ops for name, or domain.ErrUnknownEntity.
func (t Table) Lookup(name string) (EntityOps, error) {
	ops, ok := t[name]
	if !ok {
		return EntityOps{}, fmt.Errorf("%w: %q", domain.ErrUnknownEntity, name)
	}
	return ops, nil
}

// BuildUpsertRecord constructs the Record to write for an accepted Upsert.
func BuildUpsertRecord(targetUUID uuid.UUID, data any, updatedBy string, newVersion uint32) domain.Record {
	return domain.Record{
		Header: domain.RecordHeader{
			UUID:          targetUUID,
			Version:       newVersion,
			IsActive:      true,
			LastUpdatedBy: updatedBy,
			LastUpdatedTs: time.Now().UTC(),
		},
		Data: data,
	}
}

// BuildDeactivateRecord constructs the Record to write for an accepted
// Deactivate, reusing data recovered from the latest cached record.
func BuildDeactivateRecord(targetUUID uuid.UUID, data any, updatedBy string, newVersion uint32) domain.Record {
	rec := BuildUpsertRecord(targetUUID, data, updatedBy, newVersion)
	rec.Header.IsActive = false
	return rec
}
