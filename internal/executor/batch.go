package executor

import (
	"github.com/google/uuid"

	"github.com/arqsystems/refdata-platform/internal/domain"
)

// batchOutput accumulates the effects of processing one polled batch of
// commands: staged version/record updates (visible to later commands in the
// same batch before anything is committed) and the responses to publish
// once the transaction commits.
type batchOutput struct {
	versionUpdates map[uuid.UUID]uint32
	recordUpdates  map[uuid.UUID][]byte
	responses      []pendingResponse
}

type pendingResponse struct {
	topic    string
	response domain.CommandResponse
}

func newBatchOutput() *batchOutput {
	return &batchOutput{
		versionUpdates: make(map[uuid.UUID]uint32),
		recordUpdates:  make(map[uuid.UUID][]byte),
	}
}

// stagedVersion returns the version staged earlier in this same batch for
// id, if any.
func (b *batchOutput) stagedVersion(id uuid.UUID) (uint32, bool) {
	v, ok := b.versionUpdates[id]
	return v, ok
}

// stagedRecord returns the serialized record staged earlier in this same
// batch for id, if any.
func (b *batchOutput) stagedRecord(id uuid.UUID) ([]byte, bool) {
	r, ok := b.recordUpdates[id]
	return r, ok
}

func (b *batchOutput) stage(id uuid.UUID, version uint32, record []byte) {
	b.versionUpdates[id] = version
	b.recordUpdates[id] = record
}

func (b *batchOutput) respond(topic string, resp domain.CommandResponse) {
	if topic == "" {
		return
	}
	b.responses = append(b.responses, pendingResponse{topic: topic, response: resp})
}
