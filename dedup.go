package feedkit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Storage is the contract the dedup engine needs from a record store.
// Concrete backends (in-memory, leveldb, a relational store) implement it;
// the core never depends on a concrete type.
//
// The backend must enforce a uniqueness constraint on Record.Key: Insert of
// a second record with an existing key must fail with an error classified by
// IsKeyExists. FindByKey returns (nil, nil) when the key is absent.
type Storage interface {
	FindByKey(ctx context.Context, key string) (*Record, error)
	Insert(ctx context.Context, r *Record) error
	BatchInsert(ctx context.Context, rs []*Record) error
	AppendSighting(ctx context.Context, s *Sighting) error
}

// keyExister is the interface backend errors implement to signal a
// uniqueness violation on Record.Key.
type keyExister interface {
	KeyExists() bool
}

// IsKeyExists reports whether err (or its cause) signals a natural-key
// uniqueness violation.
func IsKeyExists(err error) bool {
	ke, ok := errors.Cause(err).(keyExister)
	return ok && ke.KeyExists()
}

// Outcome is the dedup classification of a candidate.
type Outcome int

const (
	// New means this is the first-ever sighting of the key; a Record was
	// created.
	New Outcome = iota
	// Duplicate means a Record for the key already existed.
	Duplicate
)

func (o Outcome) String() string {
	if o == New {
		return "new"
	}
	return "duplicate"
}

// Dedup classifies candidates as new or duplicate against a Storage backend
// and appends one Sighting per candidate processed.
type Dedup struct {
	store Storage
}

// NewDedup returns a Dedup writing through the given storage.
func NewDedup(store Storage) *Dedup {
	return &Dedup{store: store}
}

// Classify looks up key, creates a raw-layer Record on first sighting, and
// appends a Sighting either way. The returned Sighting references the record
// the candidate resolved to (existing or newly created).
//
// Lookup-then-insert is not atomic against the storage collaborator, so a
// concurrent writer may win the insert after our lookup missed. In that case
// the insert is rejected as a uniqueness violation, and Classify re-queries,
// discovers the winning record, and downgrades its own sighting to
// IsNew=false. The "exactly one first sighting" invariant holds even under
// concurrent writers.
func (d *Dedup) Classify(ctx context.Context, c *Candidate, key string) (Outcome, *Sighting, error) {
	existing, err := d.store.FindByKey(ctx, key)
	if err != nil {
		return Duplicate, nil, errors.Wrap(err, "looking up key")
	}
	if existing != nil {
		s, err := d.sight(ctx, c, key, existing.ID, false)
		return Duplicate, s, err
	}

	rec := NewRecord(c, key)
	err = d.store.Insert(ctx, rec)
	if IsKeyExists(err) {
		// Lost the race - somebody inserted this key between our lookup
		// and our insert. The winner's sighting is the first one.
		existing, err = d.store.FindByKey(ctx, key)
		if err != nil {
			return Duplicate, nil, errors.Wrap(err, "re-querying after uniqueness violation")
		}
		if existing == nil {
			return Duplicate, nil, errors.Errorf("key %q rejected as duplicate but not found on re-query", key)
		}
		s, err := d.sight(ctx, c, key, existing.ID, false)
		return Duplicate, s, err
	}
	if err != nil {
		return New, nil, errors.Wrap(err, "inserting record")
	}

	s, err := d.sight(ctx, c, key, rec.ID, true)
	return New, s, err
}

func (d *Dedup) sight(ctx context.Context, c *Candidate, key, recordID string, isNew bool) (*Sighting, error) {
	s := &Sighting{
		ID:       uuid.New().String(),
		Key:      key,
		RecordID: recordID,
		Source:   c.Source,
		SeenAt:   time.Now().UTC(),
		IsNew:    isNew,
		RawHash:  c.RawHash,
	}
	if err := d.store.AppendSighting(ctx, s); err != nil {
		return nil, errors.Wrap(err, "appending sighting")
	}
	return s, nil
}
