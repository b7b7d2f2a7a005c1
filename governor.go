package feedkit

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Op is an externally-visible operation (a fetch or a store) run under the
// Governor. It must respect ctx cancellation.
type Op func(ctx context.Context) error

// TransientFunc classifies errors worth retrying. Validation and permanent
// errors must return false.
type TransientFunc func(err error) bool

// DefaultTransient treats network timeouts and temporary network conditions
// as transient, along with truncated reads. Everything else - including
// io.EOF - is permanent.
func DefaultTransient(err error) bool {
	if err == nil || err == io.EOF {
		return false
	}
	if err == io.ErrUnexpectedEOF {
		return true
	}
	if nerr, ok := err.(net.Error); ok {
		return nerr.Timeout() || nerr.Temporary()
	}
	if terr, ok := err.(interface{ Temporary() bool }); ok {
		return terr.Temporary()
	}
	return false
}

// RetryExhausted is returned by Governor.Do when an operation stayed
// transiently broken through the configured number of attempts. It carries
// the last underlying error.
type RetryExhausted struct {
	Attempts int
	Last     error
}

func (e *RetryExhausted) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Last)
}

// Cause returns the last underlying error, supporting errors.Cause chains.
func (e *RetryExhausted) Cause() error { return e.Last }

// GovOption is a functional option for the Governor.
type GovOption func(g *Governor)

// OptGovRate sets the token bucket refill rate (tokens per second) and
// capacity shared by all operations against one source.
func OptGovRate(perSecond float64, capacity int) GovOption {
	return func(g *Governor) {
		g.rate = rate.Limit(perSecond)
		g.burst = capacity
	}
}

// OptGovSlots bounds the number of concurrent in-flight operations per
// source.
func OptGovSlots(n int64) GovOption {
	return func(g *Governor) {
		g.slots = n
	}
}

// OptGovRetry sets the maximum attempt count and the initial backoff delay.
// The delay doubles per attempt with jitter of up to half the delay.
func OptGovRetry(maxAttempts int, backoff time.Duration) GovOption {
	return func(g *Governor) {
		g.maxAttempts = maxAttempts
		g.backoff = backoff
	}
}

// OptGovTransient replaces the default transient-error classifier.
func OptGovTransient(f TransientFunc) GovOption {
	return func(g *Governor) {
		g.transient = f
	}
}

// Governor wraps fetch and store operations with rate limiting, bounded
// parallelism, and retry. The limiter and semaphore are scoped per source
// name, initialized once, and shared by all concurrent tasks targeting that
// source. A Governor is explicitly constructed and owned - build one at
// startup, pass it to the Ingester, and Close it on teardown.
type Governor struct {
	rate        rate.Limit
	burst       int
	slots       int64
	maxAttempts int
	backoff     time.Duration
	transient   TransientFunc

	mu      sync.Mutex
	sources map[string]*sourceGov
	rnd     *rand.Rand
	closed  bool
}

type sourceGov struct {
	limiter *rate.Limiter
	sem     *semaphore.Weighted
}

// NewGovernor returns a Governor with the options applied. Defaults: 10
// tokens/second with capacity 10, 4 concurrent operations per source, 3
// attempts starting at 100ms backoff.
func NewGovernor(opts ...GovOption) *Governor {
	g := &Governor{
		rate:        rate.Limit(10),
		burst:       10,
		slots:       4,
		maxAttempts: 3,
		backoff:     100 * time.Millisecond,
		transient:   DefaultTransient,
		sources:     make(map[string]*sourceGov),
		rnd:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Governor) source(name string) *sourceGov {
	g.mu.Lock()
	defer g.mu.Unlock()
	sg, ok := g.sources[name]
	if !ok {
		sg = &sourceGov{
			limiter: rate.NewLimiter(g.rate, g.burst),
			sem:     semaphore.NewWeighted(g.slots),
		}
		g.sources[name] = sg
	}
	return sg
}

// Do runs op under source's token bucket and concurrency bound, retrying
// transient failures with exponential backoff and jitter up to the
// configured attempt count. Permanent errors are returned as-is after the
// first attempt; exhausting retries returns a *RetryExhausted carrying the
// last error.
func (g *Governor) Do(ctx context.Context, source string, op Op) error {
	return g.DoClassified(ctx, source, g.transient, op)
}

// DoClassified is Do with a caller-supplied transient classifier, for feeds
// which know their own collaborator's failure modes.
func (g *Governor) DoClassified(ctx context.Context, source string, transient TransientFunc, op Op) error {
	if transient == nil {
		transient = g.transient
	}
	sg := g.source(source)
	var last error
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := g.sleep(ctx, attempt-1); err != nil {
				return err
			}
		}
		if err := sg.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := sg.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		err := op(ctx)
		sg.sem.Release(1)
		if err == nil {
			return nil
		}
		if !transient(err) {
			return err
		}
		last = err
	}
	return &RetryExhausted{Attempts: g.maxAttempts, Last: last}
}

// sleep waits out the backoff for the given completed attempt count,
// returning early only on ctx cancellation.
func (g *Governor) sleep(ctx context.Context, done int) error {
	d := g.backoff << uint(done-1)
	g.mu.Lock()
	d += time.Duration(g.rnd.Int63n(int64(d)/2 + 1))
	g.mu.Unlock()
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Close releases the per-source limiter and semaphore state. The Governor
// must not be used after Close.
func (g *Governor) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sources = make(map[string]*sourceGov)
	g.closed = true
}
