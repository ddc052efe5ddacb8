// Package domain holds the core types shared by the command executor and
// audit projector: the versioned record model, command types, and the
// narrow ports each service depends on.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// RecordHeader carries the metadata attached to every committed Record,
// independent of the entity-specific payload.
type RecordHeader struct {
	UUID          uuid.UUID
	Version       uint32
	IsActive      bool
	LastUpdatedBy string
	LastUpdatedTs time.Time
}

// Record is a versioned snapshot of an entity. Data is the entity-specific
// payload; its concrete type is determined by the entity name carried
// alongside the record and resolved through the codec registry (see
// package codec), not by a type parameter here — heterogeneous entities
// must live in the same maps and channels at runtime.
type Record struct {
	Header RecordHeader
	Data   any
}

// CmdAction names the kind of write a Command carries.
type CmdAction string

// Supported command actions.
const (
	CmdActionUpsert     CmdAction = "Upsert"
	CmdActionDeactivate CmdAction = "Deactivate"
)

// Upsert is a write request creating or updating an entity's data.
type Upsert struct {
	TargetUUID      uuid.UUID
	Data            any
	UpdatedBy       string
	ExpectedVersion uint32
}

// Deactivate is a write request marking an existing entity inactive.
type Deactivate struct {
	TargetUUID      uuid.UUID
	UpdatedBy       string
	ExpectedVersion uint32
}

// Status is the outcome of processing a command.
type Status int

// Command response outcomes.
const (
	StatusUnset Status = iota - 1
	StatusSuccess
	StatusRejected
	StatusError
	StatusTimeout
)

// String renders a Status for logging.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusRejected:
		return "REJECTED"
	case StatusError:
		return "ERROR"
	case StatusTimeout:
		return "TIMEOUT"
	default:
		return "UNSET"
	}
}

// CommandResponse is delivered to clients over the MessagingBus, correlated
// by CorrID.
type CommandResponse struct {
	CorrID  uuid.UUID
	Status  Status
	Message string
}

// Header names used on command and update messages.
const (
	HeaderCorrID        = "ARQ_CorrID"
	HeaderResponseTopic = "ARQ_ResponseTopic"
	HeaderCmdAction     = "ARQ_CmdAction"
	// HeaderSourceOffset carries the originating command's stream offset on
	// the produced update record, for tracing a record back to the command
	// that caused it.
	HeaderSourceOffset = "ARQ_SourceOffset"
)

// CommandTopic returns the command-topic name for an entity.
func CommandTopic(entity string) string { return "ARQ.RefData.Commands." + entity }

// UpdateTopic returns the update-topic name for an entity.
func UpdateTopic(entity string) string { return "ARQ.RefData.Updates." + entity }

// DLQTopic returns the dead-letter topic name for a source topic.
func DLQTopic(sourceTopic string) string { return sourceTopic + ".DLQ" }

// Consumer group identities, fixed per spec.
const (
	GroupCommandExecutors          = "ARQ.RefData.CommandExecutors"
	GroupCommandExecutorsHydration = "ARQ.RefData.CommandExecutors.UpdateHydration"
	GroupAuditProjectors           = "ARQ.RefData.AuditProjectors"
)
