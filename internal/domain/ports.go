package domain

import (
	"context"
)

// Codec serializes and deserializes entity records and commands. The
// entity-specific Data payload's concrete Go type is resolved by a
// type-indexed registry keyed on entity name (see package codec); this
// interface describes only the byte-level contract, which codec.Registry
// implements. The executor, hydration engine, and projector take the
// concrete *codec.Registry rather than this interface.
type Codec interface {
	EncodeRecord(entity string, rec Record) ([]byte, error)
	DecodeRecord(entity string, buf []byte) (Record, error)
	EncodeUpsert(entity string, cmd Upsert) ([]byte, error)
	DecodeUpsert(entity string, buf []byte) (Upsert, error)
	EncodeDeactivate(cmd Deactivate) ([]byte, error)
	DecodeDeactivate(buf []byte) (Deactivate, error)
}

// TopicPartition identifies a partition of a topic.
type TopicPartition struct {
	Topic     string
	Partition int32
}

// ProducedRecord is the payload handed to a StreamProducer.
type ProducedRecord struct {
	Topic string
	Key   []byte
	Value []byte
	// ID identifies the record for tracing, typically the source command's
	// stream offset. Carried over the wire as a header since the underlying
	// transport has no first-class record-id concept.
	ID        string
	Headers   map[string]string
	Partition *int32
}

// GroupMetadata is an opaque token obtained from a StreamConsumer and passed
// to StreamProducer.SendOffsetsToTransaction to couple offset commits to the
// producer's transaction.
type GroupMetadata any

// StreamProducer is the transactional, batched publish side of the stream
// (spec component C2).
type StreamProducer interface {
	// Send produces a record. The kafka implementations wait for the
	// record's produce result before returning; records are not batched
	// across Send calls.
	Send(ctx context.Context, rec ProducedRecord) error
	// Flush blocks until the local queue drains or ctx is done.
	Flush(ctx context.Context) error
	// InitTransactions recovers/fences any prior transactional session
	// sharing this producer's transactional identity. Called once at startup.
	InitTransactions(ctx context.Context) error
	// BeginTransaction opens a transaction; every Send and
	// SendOffsetsToTransaction until the matching Commit/Abort is part of it.
	BeginTransaction() error
	// SendOffsetsToTransaction atomically couples the consumer's read
	// position to this producer's pending writes. offsets maps a
	// TopicPartition to the next offset to read (last processed + 1).
	SendOffsetsToTransaction(ctx context.Context, offsets map[TopicPartition]int64, groupMeta GroupMetadata) error
	// CommitTransaction commits the open transaction.
	CommitTransaction(ctx context.Context) error
	// AbortTransaction aborts the open transaction.
	AbortTransaction(ctx context.Context) error
	// Close releases the producer's resources.
	Close() error
}

// ConsumedMessage is one message returned from StreamConsumer.Poll.
type ConsumedMessage struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
}

// RebalanceEvent describes a consumer-group rebalance callback invocation.
type RebalanceEvent struct {
	Assigned bool // true for PARTITIONS_ASSIGNED, false for PARTITIONS_REVOKED
	Topics   map[string][]int32
}

// RebalanceCallback is invoked synchronously during a group rebalance.
type RebalanceCallback func(ctx context.Context, ev RebalanceEvent)

// StreamConsumer is the subscribe/poll/offset-management side of the stream
// (spec component C3).
type StreamConsumer interface {
	// Subscribe joins a consumer group for the given topics.
	Subscribe(ctx context.Context, topics []string, onRebalance RebalanceCallback) error
	// Poll returns zero or more messages, waiting until some are fetched or
	// ctx is done.
	Poll(ctx context.Context) ([]ConsumedMessage, error)
	// MarkForCommit records that a message has been fully processed and its
	// offset should be included in the consumer's next offset commit.
	MarkForCommit(msg ConsumedMessage)
	// Assign disables group balancing and assigns partitions directly
	// (used by the HydrationEngine's dedicated consumer).
	Assign(partitions []TopicPartition) error
	// SeekToBeginning seeks the given partitions to their earliest offset.
	SeekToBeginning(partitions []TopicPartition) error
	// BeginningOffsets returns the earliest readable offset per partition.
	BeginningOffsets(ctx context.Context, partitions []TopicPartition) (map[TopicPartition]int64, error)
	// EndOffsets returns the high-watermark offset per partition.
	EndOffsets(ctx context.Context, partitions []TopicPartition) (map[TopicPartition]int64, error)
	// Position returns the consumer's current read position for a partition.
	Position(tp TopicPartition) int64
	// GroupMetadata yields the opaque token for transactional coupling.
	GroupMetadata() GroupMetadata
	// Close releases the consumer's resources.
	Close() error
}

// MessagingBus is a best-effort, at-most-once pub/sub bus used for command
// responses (spec component C4).
type MessagingBus interface {
	// Publish sends payload to subject without blocking for delivery.
	Publish(ctx context.Context, subject string, payload []byte) error
	// Subscribe delivers messages on subject (which may use wildcard
	// patterns) to handler until the returned Subscription is closed.
	Subscribe(ctx context.Context, subject string, handler func(payload []byte)) (Subscription, error)
}

// Subscription is a live MessagingBus subscription.
type Subscription interface {
	// Unsubscribe stops delivery and releases broker-side resources.
	Unsubscribe() error
}

// AuditStore is the durable, idempotent sink the AuditProjector writes to.
// Insert must be safe to retry: re-inserting a record already present for
// the same (uuid, version) is a no-op.
type AuditStore interface {
	Insert(ctx context.Context, entity string, records []Record) error
}
