// Package codec implements the type-indexed serialize/deserialize registry
// (spec component C1). It resolves an entity name to the concrete Go type
// carried in that entity's Record.Data/Upsert.Data field, so a single wire
// envelope format can carry arbitrarily many entity types.
package codec

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/arqsystems/refdata-platform/internal/domain"
)

// ErrUnregistered is returned when no type is registered for a name.
type ErrUnregistered struct{ Name string }

func (e *ErrUnregistered) Error() string {
	return fmt.Sprintf("codec: no type registered for %q", e.Name)
}

// Registry is a thread-safe, instance-scoped type registry — deliberately
// not a package-level singleton, so independent registries (e.g. one per
// test) never interfere with each other. It implements domain.Codec.
type Registry struct {
	mu    sync.RWMutex
	types map[string]reflect.Type
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]reflect.Type)}
}

// Register associates name with the Go type T. Call once per entity at
// startup, before any Encode/Decode call.
func Register[T any](r *Registry, name string) {
	var zero T
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[name] = reflect.TypeOf(zero)
}

func (r *Registry) typeFor(name string) (reflect.Type, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	if !ok {
		return nil, &ErrUnregistered{Name: name}
	}
	return t, nil
}

func (r *Registry) decodeData(name string, raw json.RawMessage) (any, error) {
	t, err := r.typeFor(name)
	if err != nil {
		return nil, err
	}
	ptr := reflect.New(t) // *T
	if err := json.Unmarshal(raw, ptr.Interface()); err != nil {
		return nil, fmt.Errorf("codec: decode data for %q: %w", name, err)
	}
	return ptr.Interface(), nil
}

// EncodeRecord serializes rec to bytes. The entity's Data is only required
// to be a JSON-marshalable value of its registered type; lookup still
// happens to surface ErrUnregistered consistently with DecodeRecord.
func (r *Registry) EncodeRecord(entity string, rec domain.Record) ([]byte, error) {
	if _, err := r.typeFor(entity); err != nil {
		return nil, err
	}
	data, err := json.Marshal(rec.Data)
	if err != nil {
		return nil, fmt.Errorf("codec: encode record data for %q: %w", entity, err)
	}
	b, err := json.Marshal(domain.RecordWire{Header: rec.Header, Data: data})
	if err != nil {
		return nil, fmt.Errorf("codec: encode record envelope for %q: %w", entity, err)
	}
	return b, nil
}

// DecodeRecord deserializes buf into a Record whose Data field holds a
// pointer to entity's registered type.
func (r *Registry) DecodeRecord(entity string, buf []byte) (domain.Record, error) {
	var wire domain.RecordWire
	if err := json.Unmarshal(buf, &wire); err != nil {
		return domain.Record{}, fmt.Errorf("%w: record envelope: %s", domain.ErrCodecFailure, err)
	}
	data, err := r.decodeData(entity, wire.Data)
	if err != nil {
		return domain.Record{}, fmt.Errorf("%w: %w", domain.ErrCodecFailure, err)
	}
	return domain.Record{Header: wire.Header, Data: data}, nil
}

// EncodeUpsert serializes cmd to bytes.
func (r *Registry) EncodeUpsert(entity string, cmd domain.Upsert) ([]byte, error) {
	if _, err := r.typeFor(entity); err != nil {
		return nil, err
	}
	data, err := json.Marshal(cmd.Data)
	if err != nil {
		return nil, fmt.Errorf("codec: encode upsert data for %q: %w", entity, err)
	}
	b, err := json.Marshal(domain.UpsertWire{
		TargetUUID:      cmd.TargetUUID,
		Data:            data,
		UpdatedBy:       cmd.UpdatedBy,
		ExpectedVersion: cmd.ExpectedVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("codec: encode upsert envelope for %q: %w", entity, err)
	}
	return b, nil
}

// DecodeUpsert deserializes buf into an Upsert whose Data field holds a
// pointer to entity's registered type.
func (r *Registry) DecodeUpsert(entity string, buf []byte) (domain.Upsert, error) {
	var wire domain.UpsertWire
	if err := json.Unmarshal(buf, &wire); err != nil {
		return domain.Upsert{}, fmt.Errorf("%w: upsert envelope: %s", domain.ErrCodecFailure, err)
	}
	data, err := r.decodeData(entity, wire.Data)
	if err != nil {
		return domain.Upsert{}, fmt.Errorf("%w: %w", domain.ErrCodecFailure, err)
	}
	return domain.Upsert{
		TargetUUID:      wire.TargetUUID,
		Data:            data,
		UpdatedBy:       wire.UpdatedBy,
		ExpectedVersion: wire.ExpectedVersion,
	}, nil
}

// EncodeDeactivate serializes cmd to bytes. No entity lookup is needed:
// Deactivate carries no entity-specific data.
func (r *Registry) EncodeDeactivate(cmd domain.Deactivate) ([]byte, error) {
	b, err := json.Marshal(domain.DeactivateWire{
		TargetUUID:      cmd.TargetUUID,
		UpdatedBy:       cmd.UpdatedBy,
		ExpectedVersion: cmd.ExpectedVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("codec: encode deactivate envelope: %w", err)
	}
	return b, nil
}

// DecodeDeactivate deserializes buf into a Deactivate command.
func (r *Registry) DecodeDeactivate(buf []byte) (domain.Deactivate, error) {
	var wire domain.DeactivateWire
	if err := json.Unmarshal(buf, &wire); err != nil {
		return domain.Deactivate{}, fmt.Errorf("%w: deactivate envelope: %s", domain.ErrCodecFailure, err)
	}
	return domain.Deactivate{
		TargetUUID:      wire.TargetUUID,
		UpdatedBy:       wire.UpdatedBy,
		ExpectedVersion: wire.ExpectedVersion,
	}, nil
}
