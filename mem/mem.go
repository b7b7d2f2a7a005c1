// Package mem provides in-memory implementations of the feedkit storage and
// checkpoint contracts. Data is lost when the process exits. Best for
// testing, development, and small datasets.
package mem

import (
	"context"
	"fmt"
	"sync"

	"github.com/feedkit/feedkit"
)

// Storage is an in-memory feedkit.Storage enforcing key uniqueness under a
// mutex. Safe for concurrent use.
type Storage struct {
	mu        sync.Mutex
	records   map[string]*feedkit.Record // by id
	byKey     map[string]string          // natural key -> id
	sightings []*feedkit.Sighting
}

// NewStorage returns an empty Storage.
func NewStorage() *Storage {
	return &Storage{
		records: make(map[string]*feedkit.Record),
		byKey:   make(map[string]string),
	}
}

type keyExistsError struct {
	key string
}

func (e *keyExistsError) Error() string {
	return fmt.Sprintf("key %q already exists", e.key)
}

func (e *keyExistsError) KeyExists() bool { return true }

// FindByKey returns the record owning key, or nil.
func (s *Storage) FindByKey(_ context.Context, key string) (*feedkit.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byKey[key]
	if !ok {
		return nil, nil
	}
	rec := *s.records[id]
	return &rec, nil
}

// Insert stores r, failing with a uniqueness violation if its key is taken.
func (s *Storage) Insert(_ context.Context, r *feedkit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(r)
}

func (s *Storage) insert(r *feedkit.Record) error {
	if _, ok := s.byKey[r.Key]; ok {
		return &keyExistsError{key: r.Key}
	}
	rec := *r
	s.records[r.ID] = &rec
	s.byKey[r.Key] = r.ID
	return nil
}

// BatchInsert stores every record or none: a uniqueness violation anywhere
// in the batch rejects the whole batch.
func (s *Storage) BatchInsert(_ context.Context, rs []*feedkit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{}, len(rs))
	for _, r := range rs {
		if _, ok := s.byKey[r.Key]; ok {
			return &keyExistsError{key: r.Key}
		}
		if _, ok := seen[r.Key]; ok {
			return &keyExistsError{key: r.Key}
		}
		seen[r.Key] = struct{}{}
	}
	for _, r := range rs {
		if err := s.insert(r); err != nil {
			return err
		}
	}
	return nil
}

// AppendSighting appends to the audit log.
func (s *Storage) AppendSighting(_ context.Context, sight *feedkit.Sighting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sight
	s.sightings = append(s.sightings, &cp)
	return nil
}

// Sightings returns a snapshot of the audit log in append order.
func (s *Storage) Sightings() []*feedkit.Sighting {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*feedkit.Sighting, len(s.sightings))
	copy(out, s.sightings)
	return out
}

// Len returns the number of stored records.
func (s *Storage) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// CheckpointStore is an in-memory feedkit.CheckpointStore.
type CheckpointStore struct {
	mu  sync.Mutex
	cps map[string]*feedkit.Checkpoint
}

// NewCheckpointStore returns an empty CheckpointStore.
func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{cps: make(map[string]*feedkit.Checkpoint)}
}

// Read returns the stored checkpoint for feed, or nil.
func (c *CheckpointStore) Read(_ context.Context, feed string) (*feedkit.Checkpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp, ok := c.cps[feed]
	if !ok {
		return nil, nil
	}
	out := *cp
	return &out, nil
}

// Write stores cp, rejecting versions at or behind the stored one.
func (c *CheckpointStore) Write(_ context.Context, cp *feedkit.Checkpoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if stored, ok := c.cps[cp.Feed]; ok && stored.Version >= cp.Version {
		return feedkit.ErrCheckpointConflict
	}
	out := *cp
	c.cps[cp.Feed] = &out
	return nil
}
