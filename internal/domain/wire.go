package domain

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Wire envelopes separate the entity-agnostic metadata (header fields,
// UUIDs, versions) from the entity-specific payload, which is kept as raw
// JSON until a Codec resolves its concrete Go type by entity name. This is
// what lets one command-topic message format carry arbitrarily many entity
// types without a compile-time union.

// RecordWire is the on-the-wire shape of a Record.
type RecordWire struct {
	Header RecordHeader
	Data   json.RawMessage
}

// UpsertWire is the on-the-wire shape of an Upsert command.
type UpsertWire struct {
	TargetUUID      uuid.UUID
	Data            json.RawMessage
	UpdatedBy       string
	ExpectedVersion uint32
}

// DeactivateWire is the on-the-wire shape of a Deactivate command; it has no
// Data field (see spec.md §9 "Latest-serialized-record cache").
type DeactivateWire struct {
	TargetUUID      uuid.UUID
	UpdatedBy       string
	ExpectedVersion uint32
}
