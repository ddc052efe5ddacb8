package executor

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/arqsystems/refdata-platform/internal/domain"
	"github.com/arqsystems/refdata-platform/internal/version"
)

// currentVersion resolves a UUID's version as of this point in the batch:
// first whatever was staged earlier in the same batch, then the committed
// VersionStore, else absent.
func currentVersion(b *batchOutput, store *version.Store, id uuid.UUID) (uint32, bool) {
	if v, ok := b.stagedVersion(id); ok {
		return v, true
	}
	return store.CurrentVersion(id)
}

// currentRecord resolves the latest serialized record for a UUID, preferring
// what was staged earlier in the same batch.
func currentRecord(b *batchOutput, store *version.Store, id uuid.UUID) ([]byte, bool) {
	if r, ok := b.stagedRecord(id); ok {
		return r, true
	}
	return store.LatestRecord(id)
}

// processUpsert applies the acceptance test and, on success, sends the
// accepted Record to entity's update topic (within the caller's open
// transaction) and stages its effects into b. On rejection it stages only
// the response and sends nothing.
func (e *Executor) processUpsert(ctx context.Context, entity string, cmd domain.Upsert, respTopic string, corrID uuid.UUID, sourceOffset int64, b *batchOutput) (domain.Record, bool, error) {
	curVer, exists := currentVersion(b, e.store, cmd.TargetUUID)

	accepted := (!exists && cmd.ExpectedVersion == 0) || (exists && cmd.ExpectedVersion == curVer)
	if !accepted {
		b.respond(respTopic, domain.CommandResponse{
			CorrID: corrID,
			Status: domain.StatusRejected,
			Message: (&domain.VersionConflictError{
				UUID:            cmd.TargetUUID.String(),
				CurrentVersion:  optionalVersion(exists, curVer),
				ExpectedVersion: cmd.ExpectedVersion,
			}).Error(),
		})
		return domain.Record{}, false, nil
	}

	newVersion := curVer + 1

	rec := domain.Record{
		Header: domain.RecordHeader{
			UUID:          cmd.TargetUUID,
			Version:       newVersion,
			IsActive:      true,
			LastUpdatedBy: cmd.UpdatedBy,
			LastUpdatedTs: time.Now().UTC(),
		},
		Data: cmd.Data,
	}

	raw, err := e.codec.EncodeRecord(entity, rec)
	if err != nil {
		return domain.Record{}, false, fmt.Errorf("encode upserted record for %q: %w", entity, err)
	}

	if err := e.stream.Send(ctx, domain.ProducedRecord{
		Topic: domain.UpdateTopic(entity),
		Key:   []byte(cmd.TargetUUID.String()),
		Value: raw,
		ID:    strconv.FormatInt(sourceOffset, 10),
	}); err != nil {
		return domain.Record{}, false, fmt.Errorf("send update record for %q: %w", entity, err)
	}

	b.stage(cmd.TargetUUID, newVersion, raw)
	b.respond(respTopic, domain.CommandResponse{CorrID: corrID, Status: domain.StatusSuccess})
	return rec, true, nil
}

// processDeactivate applies the acceptance test and, on success, sends the
// accepted Record to entity's update topic (within the caller's open
// transaction) and stages its effects into b. Deactivate never creates an
// entity: data is recovered from the latest known serialized record, not
// supplied by the command.
func (e *Executor) processDeactivate(ctx context.Context, entity string, cmd domain.Deactivate, respTopic string, corrID uuid.UUID, sourceOffset int64, b *batchOutput) (domain.Record, bool, error) {
	curVer, exists := currentVersion(b, e.store, cmd.TargetUUID)

	if !exists || cmd.ExpectedVersion != curVer {
		b.respond(respTopic, domain.CommandResponse{
			CorrID: corrID,
			Status: domain.StatusRejected,
			Message: (&domain.VersionConflictError{
				UUID:            cmd.TargetUUID.String(),
				CurrentVersion:  optionalVersion(exists, curVer),
				ExpectedVersion: cmd.ExpectedVersion,
			}).Error(),
		})
		return domain.Record{}, false, nil
	}

	priorRaw, ok := currentRecord(b, e.store, cmd.TargetUUID)
	if !ok {
		b.respond(respTopic, domain.CommandResponse{
			CorrID:  corrID,
			Status:  domain.StatusRejected,
			Message: fmt.Sprintf("no cached record for UUID %s", cmd.TargetUUID),
		})
		return domain.Record{}, false, nil
	}
	prior, err := e.codec.DecodeRecord(entity, priorRaw)
	if err != nil {
		return domain.Record{}, false, fmt.Errorf("%w: decode prior record for %q", domain.ErrCodecFailure, entity)
	}

	newVersion := curVer + 1
	rec := domain.Record{
		Header: domain.RecordHeader{
			UUID:          cmd.TargetUUID,
			Version:       newVersion,
			IsActive:      false,
			LastUpdatedBy: cmd.UpdatedBy,
			LastUpdatedTs: time.Now().UTC(),
		},
		Data: prior.Data,
	}

	raw, err := e.codec.EncodeRecord(entity, rec)
	if err != nil {
		return domain.Record{}, false, fmt.Errorf("encode deactivated record for %q: %w", entity, err)
	}

	if err := e.stream.Send(ctx, domain.ProducedRecord{
		Topic: domain.UpdateTopic(entity),
		Key:   []byte(cmd.TargetUUID.String()),
		Value: raw,
		ID:    strconv.FormatInt(sourceOffset, 10),
	}); err != nil {
		return domain.Record{}, false, fmt.Errorf("send update record for %q: %w", entity, err)
	}

	b.stage(cmd.TargetUUID, newVersion, raw)
	b.respond(respTopic, domain.CommandResponse{CorrID: corrID, Status: domain.StatusSuccess})
	return rec, true, nil
}

func optionalVersion(exists bool, v uint32) *uint32 {
	if !exists {
		return nil
	}
	return &v
}
