package feedkit

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// DateRange is a half-open interval [Start, End) over calendar dates in UTC.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Date is a convenience constructor for UTC calendar dates.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// NewDateRange returns the half-open range [start, end).
func NewDateRange(start, end time.Time) DateRange {
	return DateRange{Start: start.UTC(), End: end.UTC()}
}

// Empty reports whether the range contains no days.
func (r DateRange) Empty() bool {
	return !r.Start.Before(r.End)
}

// Days is the length of the range in whole days.
func (r DateRange) Days() float64 {
	if r.Empty() {
		return 0
	}
	return r.End.Sub(r.Start).Hours() / 24
}

// Intersect returns the overlap of r and other, which may be empty.
func (r DateRange) Intersect(other DateRange) DateRange {
	out := r
	if other.Start.After(out.Start) {
		out.Start = other.Start
	}
	if other.End.Before(out.End) {
		out.End = other.End
	}
	if out.Empty() {
		return DateRange{}
	}
	return out
}

// Subtract returns the up-to-two sub-ranges of r not covered by other.
func (r DateRange) Subtract(other DateRange) []DateRange {
	inter := r.Intersect(other)
	if inter.Empty() {
		return []DateRange{r}
	}
	var out []DateRange
	if r.Start.Before(inter.Start) {
		out = append(out, DateRange{Start: r.Start, End: inter.Start})
	}
	if inter.End.Before(r.End) {
		out = append(out, DateRange{Start: inter.End, End: r.End})
	}
	return out
}

func (r DateRange) String() string {
	return fmt.Sprintf("[%s, %s)", r.Start.Format("2006-01-02"), r.End.Format("2006-01-02"))
}

// SourceDescriptor describes one candidate backing source for the planner.
type SourceDescriptor struct {
	// Name identifies the source. It must be unique within a feed.
	Name string

	// Priority ranks the source; higher priority sources are assigned
	// work first. The greedy cover is cost-optimal whenever higher
	// priority implies lower-or-equal marginal cost per unit range, which
	// is the intended usage: coarse, cheap sources over fine, expensive
	// ones.
	Priority int

	// Covers returns the sub-ranges of r this source can serve. Returned
	// ranges must lie within r.
	Covers func(r DateRange) []DateRange

	// Cost estimates the request-count or latency cost of serving r.
	Cost func(r DateRange) float64
}

// Assignment is one (source, sub-range) unit of a CollectionPlan.
type Assignment struct {
	Source string
	Range  DateRange
}

// CollectionPlan assigns sub-ranges of a requested range to sources. The
// assignments partition the requested range exactly - no gaps, no overlaps -
// and are ordered by sub-range start.
type CollectionPlan struct {
	Requested   DateRange
	Assignments []Assignment
}

// UnplannableRangeError means no subset of the configured sources can cover
// the full requested range. It names the remaining gaps.
type UnplannableRangeError struct {
	Requested DateRange
	Gaps      []DateRange
}

func (e *UnplannableRangeError) Error() string {
	gaps := make([]string, len(e.Gaps))
	for i, g := range e.Gaps {
		gaps[i] = g.String()
	}
	return fmt.Sprintf("no sources cover %s: gaps remain at %s", e.Requested, strings.Join(gaps, ", "))
}

// IsUnplannableRange reports whether err is an UnplannableRangeError.
func IsUnplannableRange(err error) bool {
	_, ok := err.(*UnplannableRangeError)
	return ok
}

// PlanCollection computes a minimal-cost cover of requested using a
// priority-greedy interval cover: sources are considered in descending
// priority order (ties broken by ascending cost per day over the requested
// range, then by name), each one claiming whatever still-uncovered
// sub-ranges it can serve. Adjacent assignments to the same source are
// merged to minimize distinct fetch operations.
func PlanCollection(requested DateRange, sources []SourceDescriptor) (*CollectionPlan, error) {
	if requested.Empty() {
		return &CollectionPlan{Requested: requested}, nil
	}

	ordered := make([]SourceDescriptor, len(sources))
	copy(ordered, sources)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		ca := a.Cost(requested) / requested.Days()
		cb := b.Cost(requested) / requested.Days()
		if ca != cb {
			return ca < cb
		}
		return a.Name < b.Name
	})

	uncovered := []DateRange{requested}
	var assignments []Assignment
	for _, src := range ordered {
		if len(uncovered) == 0 {
			break
		}
		var remaining []DateRange
		for _, u := range uncovered {
			left := []DateRange{u}
			for _, cov := range src.Covers(u) {
				var next []DateRange
				for _, l := range left {
					inter := cov.Intersect(l)
					if inter.Empty() {
						next = append(next, l)
						continue
					}
					assignments = append(assignments, Assignment{Source: src.Name, Range: inter})
					next = append(next, l.Subtract(inter)...)
				}
				left = next
			}
			remaining = append(remaining, left...)
		}
		uncovered = remaining
	}

	if len(uncovered) > 0 {
		sort.Slice(uncovered, func(i, j int) bool { return uncovered[i].Start.Before(uncovered[j].Start) })
		return nil, &UnplannableRangeError{Requested: requested, Gaps: uncovered}
	}

	sort.Slice(assignments, func(i, j int) bool {
		return assignments[i].Range.Start.Before(assignments[j].Range.Start)
	})
	merged := assignments[:0]
	for _, a := range assignments {
		if n := len(merged); n > 0 && merged[n-1].Source == a.Source && merged[n-1].Range.End.Equal(a.Range.Start) {
			merged[n-1].Range.End = a.Range.End
			continue
		}
		merged = append(merged, a)
	}

	return &CollectionPlan{Requested: requested, Assignments: merged}, nil
}
