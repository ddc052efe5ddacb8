// Package version implements the VersionStore (spec component C5): the
// partition-scoped in-memory state the executor's main loop reads and
// writes. It has no durability and no locking — it is only ever touched
// from the executor's single-threaded main loop.
package version

import "github.com/google/uuid"

// Store holds the two maps described in spec.md §4.5 for the partitions
// hydrated into it. Entries are not removed when partitions are revoked.
type Store struct {
	versions      map[uuid.UUID]uint32
	latestRecords map[uuid.UUID][]byte
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		versions:      make(map[uuid.UUID]uint32),
		latestRecords: make(map[uuid.UUID][]byte),
	}
}

// CurrentVersion returns the committed version for uuid, and whether the
// entity is known at all.
func (s *Store) CurrentVersion(id uuid.UUID) (uint32, bool) {
	v, ok := s.versions[id]
	return v, ok
}

// LatestRecord returns the last committed serialized record for uuid (used
// to recover Deactivate's data field).
func (s *Store) LatestRecord(id uuid.UUID) ([]byte, bool) {
	b, ok := s.latestRecords[id]
	return b, ok
}

// Apply commits a batch of version/record updates produced by processing one
// transactional batch of commands. Called once, after the transaction
// commits, never inside it (spec.md §4.7: "post-commit: apply in-memory
// effects").
func (s *Store) Apply(versions map[uuid.UUID]uint32, records map[uuid.UUID][]byte) {
	for id, v := range versions {
		s.versions[id] = v
	}
	for id, b := range records {
		s.latestRecords[id] = b
	}
}

// Clear empties both maps. The executor service does not call it on
// rebalance; hydration overwrites the entries of assigned partitions in
// place.
func (s *Store) Clear() {
	s.versions = make(map[uuid.UUID]uint32)
	s.latestRecords = make(map[uuid.UUID][]byte)
}

// Len returns the number of UUIDs currently tracked, for metrics.
func (s *Store) Len() int { return len(s.versions) }

// Set directly installs a version/record pair, bypassing the staged-batch
// flow. Used by the HydrationEngine, which is overwriting unconditionally as
// it replays the update log in offset order (last write wins).
func (s *Store) Set(id uuid.UUID, v uint32, record []byte) {
	s.versions[id] = v
	s.latestRecords[id] = record
}
