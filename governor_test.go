package feedkit

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/pkg/errors"
)

type tempErr struct{}

func (tempErr) Error() string   { return "temporarily broken" }
func (tempErr) Temporary() bool { return true }

func TestGovernorRate(t *testing.T) {
	g := NewGovernor(OptGovRate(2, 2), OptGovSlots(1))
	defer g.Close()

	start := time.Now()
	for i := 0; i < 5; i++ {
		err := g.Do(context.Background(), "src", func(context.Context) error { return nil })
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	// capacity 2 at 2 tokens/sec: the first two are immediate, the next
	// three wait half a second each.
	if elapsed := time.Since(start); elapsed < 1500*time.Millisecond {
		t.Fatalf("5 acquisitions took %v, expected at least 1.5s", elapsed)
	}
}

func TestGovernorRetryExhausted(t *testing.T) {
	g := NewGovernor(OptGovRetry(3, time.Millisecond))
	defer g.Close()

	calls := 0
	err := g.Do(context.Background(), "src", func(context.Context) error {
		calls++
		return tempErr{}
	})
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	re, ok := err.(*RetryExhausted)
	if !ok {
		t.Fatalf("expected RetryExhausted, got %v", err)
	}
	if re.Attempts != 3 {
		t.Fatalf("expected Attempts 3, got %d", re.Attempts)
	}
	if _, ok := errors.Cause(err).(tempErr); !ok {
		t.Fatalf("expected cause to be the last underlying error, got %v", errors.Cause(err))
	}
}

func TestGovernorTransientRecovers(t *testing.T) {
	g := NewGovernor(OptGovRetry(3, time.Millisecond))
	defer g.Close()

	calls := 0
	err := g.Do(context.Background(), "src", func(context.Context) error {
		calls++
		if calls < 3 {
			return tempErr{}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestGovernorPermanentNotRetried(t *testing.T) {
	g := NewGovernor(OptGovRetry(3, time.Millisecond))
	defer g.Close()

	perm := errors.New("bad credentials")
	calls := 0
	err := g.Do(context.Background(), "src", func(context.Context) error {
		calls++
		return perm
	})
	if calls != 1 {
		t.Fatalf("permanent error retried: %d attempts", calls)
	}
	if err != perm {
		t.Fatalf("expected the error unchanged, got %v", err)
	}
}

func TestGovernorEOFPassthrough(t *testing.T) {
	g := NewGovernor()
	defer g.Close()

	err := g.Do(context.Background(), "src", func(context.Context) error { return io.EOF })
	if err != io.EOF {
		t.Fatalf("expected io.EOF unchanged, got %v", err)
	}
}

func TestGovernorCancellation(t *testing.T) {
	g := NewGovernor(OptGovRate(1, 1))
	defer g.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := g.Do(ctx, "src", func(context.Context) error {
		t.Fatal("op ran under a cancelled context")
		return nil
	})
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestGovernorCustomClassifier(t *testing.T) {
	g := NewGovernor(OptGovRetry(2, time.Millisecond))
	defer g.Close()

	flaky := errors.New("throttled")
	calls := 0
	err := g.DoClassified(context.Background(), "src", func(err error) bool {
		return err == flaky
	}, func(context.Context) error {
		calls++
		return flaky
	})
	if calls != 2 {
		t.Fatalf("expected 2 attempts under custom classifier, got %d", calls)
	}
	if _, ok := err.(*RetryExhausted); !ok {
		t.Fatalf("expected RetryExhausted, got %v", err)
	}
}
