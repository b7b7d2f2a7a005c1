package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestStatter(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewStatter(reg)

	s.Count("ingest.processed", 3, 1)
	s.Count("ingest.processed", 2, 1)
	s.Gauge("queue-depth", 7, 1)
	s.Timing("feed_duration", 250*time.Millisecond, 1)

	if got := testutil.ToFloat64(s.counters["ingest.processed"]); got != 5 {
		t.Fatalf("expected counter 5, got %v", got)
	}
	if got := testutil.ToFloat64(s.gauges["queue-depth"]); got != 7 {
		t.Fatalf("expected gauge 7, got %v", got)
	}

	fams, err := reg.Gather()
	if err != nil {
		t.Fatalf("gathering: %v", err)
	}
	names := map[string]bool{}
	for _, f := range fams {
		names[f.GetName()] = true
	}
	for _, want := range []string{"ingest_processed", "queue_depth", "feed_duration_seconds"} {
		if !names[want] {
			t.Fatalf("expected metric %q registered, have %v", want, names)
		}
	}
}
