// Package fake provides a feed generating deterministic pseudo-random
// candidates. The id field is zipfian over a bounded set, so a long enough
// run naturally produces duplicates - handy for exercising the dedup engine
// and for load testing without a real upstream.
package fake

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/feedkit/feedkit"
	"github.com/feedkit/feedkit/fake/gen"
)

// Feed generates Count candidates from Seed. The same seed always yields the
// same stream on a given version of Go.
type Feed struct {
	Name_       string
	Seed        int64
	Count       int
	Cardinality int
}

// NewFeed returns a Feed with reasonable demo defaults.
func NewFeed(seed int64, count int) *Feed {
	return &Feed{
		Name_:       "fake",
		Seed:        seed,
		Count:       count,
		Cardinality: 1000,
	}
}

// Name implements feedkit.Feed.
func (f *Feed) Name() string { return f.Name_ }

// Open returns a Source resuming at the given candidate offset.
func (f *Feed) Open(_ context.Context, position string) (feedkit.Source, error) {
	s := &Source{
		feed: f,
		g:    gen.NewGenerator(f.Seed),
		r:    gen.NewGenerator(f.Seed + 1),
	}
	if err := s.Seek(position); err != nil {
		return nil, err
	}
	return s, nil
}

// Source generates candidates up to the feed's count.
type Source struct {
	feed *Feed
	g    *gen.Generator
	r    *gen.Generator
	idx  int
	skip int
}

// Record generates the next candidate, or io.EOF at the configured count.
// Skipped-over candidates (when resuming) are still generated so the stream
// stays deterministic.
func (s *Source) Record() (*feedkit.Candidate, error) {
	for {
		if s.idx >= s.feed.Count {
			return nil, io.EOF
		}
		c := s.generate()
		s.idx++
		if s.idx <= s.skip {
			continue
		}
		return c, nil
	}
}

func (s *Source) generate() *feedkit.Candidate {
	seen := s.g.Time(time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC), time.Minute)
	return &feedkit.Candidate{
		Source:     s.feed.Name_,
		ObservedAt: seen,
		Payload: map[string]interface{}{
			"id":       fmt.Sprintf("item-%d", s.g.Uint64(s.feed.Cardinality)),
			"venue":    s.g.String(6, 50),
			"user_id":  float64(s.r.Uint64(100000000) + 1),
			"velocity": float64(s.r.Uint64(1000)),
			"seen":     seen.Format(time.RFC3339),
		},
	}
}

// Position implements feedkit.Positioned - the count of candidates emitted.
func (s *Source) Position() string {
	return strconv.Itoa(s.idx)
}

// Seek implements feedkit.Positioned.
func (s *Source) Seek(position string) error {
	if position == "" {
		return nil
	}
	n, err := strconv.Atoi(position)
	if err != nil {
		return err
	}
	s.skip = n
	return nil
}
