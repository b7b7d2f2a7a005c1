package feedkit

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// CollectionResult is the sole externally observed output of a run.
type CollectionResult struct {
	Processed  int
	New        int
	Duplicates int
	Errored    int
	Errors     []error
}

func (r *CollectionResult) merge(o CollectionResult) {
	r.Processed += o.Processed
	r.New += o.New
	r.Duplicates += o.Duplicates
	r.Errored += o.Errored
	r.Errors = append(r.Errors, o.Errors...)
}

// PositionTimeLayout is how ranged feeds encode their resume position - the
// end of the last fully collected window.
const PositionTimeLayout = "2006-01-02"

// IngestOption is a functional option for the Ingester.
type IngestOption func(n *Ingester)

// OptIngestGovernor supplies the Governor all fetches run under. Without it
// a default Governor is built and owned by the Ingester.
func OptIngestGovernor(g *Governor) IngestOption {
	return func(n *Ingester) {
		n.gov = g
		n.ownGov = false
	}
}

// OptIngestStats supplies a stats collector.
func OptIngestStats(s Statter) IngestOption {
	return func(n *Ingester) {
		n.stats = s
	}
}

// OptIngestLogger supplies a logger. Logs nothing by default.
func OptIngestLogger(l *zap.Logger) IngestOption {
	return func(n *Ingester) {
		n.log = l
	}
}

type registeredFeed struct {
	feed   Feed
	ranged RangedFeed
	keyer  Keyer
}

func (rf *registeredFeed) name() string {
	if rf.feed != nil {
		return rf.feed.Name()
	}
	return rf.ranged.Name()
}

// Ingester runs the collection pipeline over registered feeds: load
// checkpoint, fetch under the Governor, derive keys, classify through the
// dedup engine, advance the checkpoint only after durable success. Feeds run
// concurrently; candidates within one feed's batch are processed in fetch
// order so the sighting log preserves it.
type Ingester struct {
	dedup       *Dedup
	checkpoints *CheckpointManager
	gov         *Governor
	ownGov      bool
	stats       Statter
	log         *zap.Logger

	feeds []*registeredFeed
}

// NewIngester creates an Ingester writing records through store and
// checkpoints through cps.
func NewIngester(store Storage, cps CheckpointStore, opts ...IngestOption) *Ingester {
	n := &Ingester{
		dedup:       NewDedup(store),
		checkpoints: NewCheckpointManager(cps),
		ownGov:      true,
		stats:       NopStatter{},
		log:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.gov == nil {
		n.gov = NewGovernor()
	}
	return n
}

// AddFeed registers a cursor-resumable feed with the keyer deriving its
// candidates' identities.
func (n *Ingester) AddFeed(f Feed, k Keyer) {
	n.feeds = append(n.feeds, &registeredFeed{feed: f, keyer: k})
}

// AddRangedFeed registers a feed whose work is planned over several backing
// sources.
func (n *Ingester) AddRangedFeed(f RangedFeed, k Keyer) {
	n.feeds = append(n.feeds, &registeredFeed{ranged: f, keyer: k})
}

// Close tears down the Governor if the Ingester owns it.
func (n *Ingester) Close() {
	if n.ownGov {
		n.gov.Close()
	}
}

// Run collects every registered feed and returns the aggregate result. A
// single candidate's failure is counted and skipped; a fatal per-feed error
// (checkpoint regression, unplannable range) stops that feed only. Run
// returns a non-nil error only when ctx is cancelled; even then the partial
// result is valid and already-durable records remain safe to resume from.
func (n *Ingester) Run(ctx context.Context) (CollectionResult, error) {
	var mu sync.Mutex
	var total CollectionResult

	eg, ctx := errgroup.WithContext(ctx)
	for _, rf := range n.feeds {
		rf := rf
		eg.Go(func() error {
			res := n.runFeed(ctx, rf)
			mu.Lock()
			total.merge(res)
			mu.Unlock()
			return ctx.Err()
		})
	}
	err := eg.Wait()
	return total, err
}

func (n *Ingester) runFeed(ctx context.Context, rf *registeredFeed) CollectionResult {
	name := rf.name()
	log := n.log.With(zap.String("feed", name))
	start := time.Now()

	var res CollectionResult
	var position string
	cp, err := n.checkpoints.Load(ctx, name)
	if err != nil {
		res.Errored++
		res.Errors = append(res.Errors, errors.Wrapf(err, "feed %q", name))
		return res
	}
	if cp != nil {
		position = cp.Position
		log.Debug("resuming", zap.String("position", position), zap.Uint64("version", cp.Version))
	}

	if rf.ranged != nil {
		n.runRanged(ctx, rf, position, log, &res)
	} else {
		n.runCursor(ctx, rf, position, log, &res)
	}

	n.stats.Timing("feed_duration", time.Since(start), 1, name)
	log.Debug("feed done",
		zap.Int("processed", res.Processed),
		zap.Int("new", res.New),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("errored", res.Errored))
	return res
}

// runCursor drains a single source opened at the feed's stored position and
// advances the checkpoint to the source's final position on full success.
func (n *Ingester) runCursor(ctx context.Context, rf *registeredFeed, position string, log *zap.Logger, res *CollectionResult) {
	name := rf.feed.Name()
	src, err := rf.feed.Open(ctx, position)
	if err != nil {
		res.Errored++
		res.Errors = append(res.Errors, errors.Wrapf(err, "opening feed %q", name))
		return
	}
	clean := n.drain(ctx, rf, src, name, log, res)
	closeSource(src, log)
	if !clean {
		return
	}
	pos, ok := src.(Positioned)
	if !ok {
		return
	}
	n.advance(ctx, name, pos.Position(), res)
}

// runRanged plans the feed's window over its backing sources and drains one
// source per assignment, in order. The checkpoint advances to the window end
// only when every assignment completed cleanly.
func (n *Ingester) runRanged(ctx context.Context, rf *registeredFeed, position string, log *zap.Logger, res *CollectionResult) {
	name := rf.ranged.Name()
	window := rf.ranged.Window(position)
	if window.Empty() {
		log.Debug("window empty, nothing to collect")
		return
	}
	plan, err := PlanCollection(window, rf.ranged.Sources())
	if err != nil {
		res.Errored++
		res.Errors = append(res.Errors, errors.Wrapf(err, "planning feed %q", name))
		return
	}
	log.Debug("planned", zap.Int("assignments", len(plan.Assignments)))

	for _, a := range plan.Assignments {
		src, err := rf.ranged.Open(ctx, a)
		if err != nil {
			res.Errored++
			res.Errors = append(res.Errors, errors.Wrapf(err, "opening %s for %s", a.Source, a.Range))
			return
		}
		clean := n.drain(ctx, rf, src, a.Source, log, res)
		closeSource(src, log)
		if !clean {
			return
		}
	}
	n.advance(ctx, name, window.End.UTC().Format(PositionTimeLayout), res)
}

// drain pulls every candidate from src through the governor and the dedup
// engine. It reports whether the source was exhausted cleanly - only then
// may the caller advance a checkpoint.
func (n *Ingester) drain(ctx context.Context, rf *registeredFeed, src Source, govScope string, log *zap.Logger, res *CollectionResult) bool {
	transient := n.transientFor(rf)
	for {
		var c *Candidate
		err := n.gov.DoClassified(ctx, govScope, transient, func(context.Context) error {
			var rerr error
			c, rerr = src.Record()
			return rerr
		})
		if err == io.EOF {
			return true
		}
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			// a broken stream can't be resumed mid-batch; count it and
			// leave the checkpoint alone so the next run refetches
			res.Errored++
			res.Errors = append(res.Errors, errors.Wrapf(err, "fetching from %q", govScope))
			n.stats.Count("fetch_errors", 1, 1, govScope)
			return false
		}
		n.process(ctx, rf, c, log, res)
	}
}

func (n *Ingester) process(ctx context.Context, rf *registeredFeed, c *Candidate, log *zap.Logger, res *CollectionResult) {
	res.Processed++
	n.stats.Count("processed", 1, 1, c.Source)

	key, err := rf.keyer.Key(c)
	if err != nil {
		res.Errored++
		res.Errors = append(res.Errors, errors.Wrapf(err, "deriving key for candidate from %q", c.Source))
		n.stats.Count("derivation_errors", 1, 1, c.Source)
		log.Debug("skipping candidate", zap.Error(err))
		return
	}

	outcome, _, err := n.dedup.Classify(ctx, c, key)
	if err != nil {
		res.Errored++
		res.Errors = append(res.Errors, errors.Wrapf(err, "classifying %q", key))
		n.stats.Count("classify_errors", 1, 1, c.Source)
		return
	}
	switch outcome {
	case New:
		res.New++
		n.stats.Count("new", 1, 1, c.Source)
	case Duplicate:
		res.Duplicates++
		n.stats.Count("duplicates", 1, 1, c.Source)
	}
}

func (n *Ingester) advance(ctx context.Context, feed, position string, res *CollectionResult) {
	if position == "" {
		return
	}
	if _, err := n.checkpoints.Advance(ctx, feed, position); err != nil {
		res.Errored++
		res.Errors = append(res.Errors, errors.Wrapf(err, "advancing checkpoint for %q", feed))
	}
}

func closeSource(src Source, log *zap.Logger) {
	c, ok := src.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		log.Debug("closing source", zap.Error(err))
	}
}

// transientFor returns the feed's own error classifier when it has one.
func (n *Ingester) transientFor(rf *registeredFeed) TransientFunc {
	var f interface{} = rf.feed
	if rf.ranged != nil {
		f = rf.ranged
	}
	if tc, ok := f.(TransientClassifier); ok {
		return tc.Transient
	}
	return nil
}
