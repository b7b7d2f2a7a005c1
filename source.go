package feedkit

import (
	"context"
	"time"
)

// Candidate is a single not-yet-committed observation pulled from a feed. Its
// payload is opaque to the pipeline - only Keyers ever look inside it, and
// only to derive an identity.
type Candidate struct {
	// Source names the feed or backing source which produced this
	// observation.
	Source string

	// ObservedAt is when the source observed (or published) the item.
	ObservedAt time.Time

	// Payload is the raw decoded data. Sources producing JSON decode
	// objects into map[string]interface{}.
	Payload map[string]interface{}

	// RawHash optionally carries a hash of the undecoded data for change
	// detection.
	RawHash string
}

// Source is the interface for getting candidates one at a time. Record
// returns io.EOF when the source is exhausted; every Source is finite per
// open. Implementations of Source need not be thread safe - the Ingester
// drains each source from a single goroutine to preserve sighting order.
type Source interface {
	Record() (*Candidate, error)
}

// Positioned is implemented by sources which can report a resume position
// and start from one. Positions are opaque to the pipeline; they only need
// to round-trip through a CheckpointStore.
type Positioned interface {
	// Position returns the position after the most recently returned
	// record. Advancing a checkpoint to this position means every record
	// up to it has been durably processed.
	Position() string

	// Seek restarts the source just after the given position. An empty
	// position means the beginning.
	Seek(position string) error
}

// Feed is one registered stream of candidates. Open returns a Source
// starting just after position (empty means from the beginning). The
// returned Source is drained completely before the feed's checkpoint
// advances.
type Feed interface {
	Name() string
	Open(ctx context.Context, position string) (Source, error)
}

// RangedFeed is a feed whose work is planned across several overlapping
// backing sources rather than resumed from a cursor. The Ingester asks for
// the collection window, plans it over Sources, and opens one Source per
// plan assignment.
type RangedFeed interface {
	Name() string

	// Window returns the date range to collect given the feed's stored
	// position (empty means no prior run). Returning an empty range skips
	// the feed for this run.
	Window(position string) DateRange

	// Sources describes the candidate backing sources for the planner.
	Sources() []SourceDescriptor

	// Open opens a Source serving exactly one plan assignment.
	Open(ctx context.Context, a Assignment) (Source, error)
}

// TransientClassifier is implemented by feeds which know which of their
// errors are worth retrying. Fetch errors from feeds that don't implement it
// are classified by the Governor's default rule.
type TransientClassifier interface {
	Transient(err error) bool
}
