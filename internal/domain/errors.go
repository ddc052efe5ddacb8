package domain

import (
	"errors"
	"strconv"
)

// Sentinel errors classifying per-message failures. These are the
// "InvalidCommand" kind of the error taxonomy: all route to DLQ, none fail
// the batch.
var (
	// ErrUnknownEntity means the message's topic does not map to any
	// registered entity.
	ErrUnknownEntity = errors.New("refdata: unknown entity")
	// ErrUnknownAction means the ARQ_CmdAction header is not Upsert or Deactivate.
	ErrUnknownAction = errors.New("refdata: unknown command action")
	// ErrMissingHeader means a required message header was absent.
	ErrMissingHeader = errors.New("refdata: missing required header")
	// ErrCodecFailure wraps a deserialization failure on a command or record payload.
	ErrCodecFailure = errors.New("refdata: codec failure")
	// ErrRecordNotCached means a Deactivate needed the latest serialized
	// record but neither the in-flight batch nor the VersionStore had one.
	ErrRecordNotCached = errors.New("refdata: no cached record for uuid")
)

// VersionConflictError is a normal business outcome: the command's
// expectedVersion did not match the entity's current version. It never
// aborts a batch; it becomes a REJECTED CommandResponse.
type VersionConflictError struct {
	UUID            string
	CurrentVersion  *uint32
	ExpectedVersion uint32
}

func (e *VersionConflictError) Error() string {
	cur := "None"
	if e.CurrentVersion != nil {
		cur = strconv.FormatUint(uint64(*e.CurrentVersion), 10)
	}
	return "Version mismatch for UUID " + e.UUID + ": CurrentVersion=" + cur +
		", VersionExpectedByCommand=" + strconv.FormatUint(uint64(e.ExpectedVersion), 10)
}
