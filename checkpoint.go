package feedkit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Checkpoint is the durable per-feed resume position. Position is opaque to
// the pipeline; Version increases by exactly one per advance and is how
// "behind" is detected, since positions themselves can't be compared.
type Checkpoint struct {
	Feed      string    `json:"feed"`
	Position  string    `json:"position"`
	Version   uint64    `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CheckpointStore is the contract for checkpoint persistence. Read returns
// (nil, nil) for a feed with no stored checkpoint. Write must reject any
// checkpoint whose Version is not greater than the stored one, returning an
// error wrapping ErrCheckpointConflict.
type CheckpointStore interface {
	Read(ctx context.Context, feed string) (*Checkpoint, error)
	Write(ctx context.Context, cp *Checkpoint) error
}

// ErrCheckpointConflict is the cause backends return from Write when the
// stored version is already at or past the one being written.
var ErrCheckpointConflict = errors.New("checkpoint version conflict")

// CheckpointRegressionError is fatal to a feed's run - it means something
// upstream tried to move that feed's checkpoint backwards, which is a
// programming or clock error, not a data condition.
type CheckpointRegressionError struct {
	Feed    string
	Stored  uint64
	Offered uint64
}

func (e *CheckpointRegressionError) Error() string {
	return fmt.Sprintf("checkpoint for feed %q would regress: stored version %d, offered %d", e.Feed, e.Stored, e.Offered)
}

// IsCheckpointRegression reports whether err (or its cause) is a
// CheckpointRegressionError.
func IsCheckpointRegression(err error) bool {
	_, ok := errors.Cause(err).(*CheckpointRegressionError)
	return ok
}

// CheckpointManager owns all checkpoint mutation. Advances are serialized
// per feed, even when fetches for that feed ran concurrently, and only ever
// move forward.
type CheckpointManager struct {
	store CheckpointStore

	mu    sync.Mutex
	feeds map[string]*feedCheckpoint
}

type feedCheckpoint struct {
	sync.Mutex
	current *Checkpoint
	loaded  bool
}

// NewCheckpointManager returns a manager persisting through store.
func NewCheckpointManager(store CheckpointStore) *CheckpointManager {
	return &CheckpointManager{
		store: store,
		feeds: make(map[string]*feedCheckpoint),
	}
}

func (m *CheckpointManager) feed(name string) *feedCheckpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	fc, ok := m.feeds[name]
	if !ok {
		fc = &feedCheckpoint{}
		m.feeds[name] = fc
	}
	return fc
}

// Load returns the feed's checkpoint, or nil if the feed has never advanced.
func (m *CheckpointManager) Load(ctx context.Context, feed string) (*Checkpoint, error) {
	fc := m.feed(feed)
	fc.Lock()
	defer fc.Unlock()
	if !fc.loaded {
		cp, err := m.store.Read(ctx, feed)
		if err != nil {
			return nil, errors.Wrapf(err, "reading checkpoint for %q", feed)
		}
		fc.current = cp
		fc.loaded = true
	}
	if fc.current == nil {
		return nil, nil
	}
	cp := *fc.current
	return &cp, nil
}

// Advance durably moves the feed's checkpoint to position. It must be called
// only after the batch ending at position is fully and durably processed. A
// crash between "records stored" and "checkpoint advanced" is safe:
// resumption re-fetches and re-classifies already-stored items as
// duplicates.
func (m *CheckpointManager) Advance(ctx context.Context, feed, position string) (*Checkpoint, error) {
	fc := m.feed(feed)
	fc.Lock()
	defer fc.Unlock()

	var version uint64 = 1
	if fc.current != nil {
		if position == fc.current.Position {
			// already there; advancing to the same position is a no-op,
			// not a regression
			cp := *fc.current
			return &cp, nil
		}
		version = fc.current.Version + 1
	}
	cp := &Checkpoint{
		Feed:      feed,
		Position:  position,
		Version:   version,
		UpdatedAt: time.Now().UTC(),
	}
	err := m.store.Write(ctx, cp)
	if errors.Cause(err) == ErrCheckpointConflict {
		stored, rerr := m.store.Read(ctx, feed)
		var storedVersion uint64
		if rerr == nil && stored != nil {
			storedVersion = stored.Version
		}
		return nil, &CheckpointRegressionError{Feed: feed, Stored: storedVersion, Offered: version}
	}
	if err != nil {
		return nil, errors.Wrapf(err, "writing checkpoint for %q", feed)
	}
	fc.current = cp
	fc.loaded = true
	out := *cp
	return &out, nil
}
