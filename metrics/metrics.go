// Package metrics provides a prometheus-backed stats implementation. Stat
// names are mapped to collectors lazily, so the pipeline doesn't need to
// declare its counters up front.
package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/feedkit/feedkit"
)

var _ feedkit.Statter = &Statter{}

// Statter collects pipeline stats into prometheus collectors registered on a
// Registerer.
type Statter struct {
	lock     sync.Mutex
	reg      prometheus.Registerer
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	timings  map[string]prometheus.Histogram
}

// NewStatter returns a Statter registering its collectors with reg. If reg is
// nil, the default registerer is used.
func NewStatter(reg prometheus.Registerer) *Statter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Statter{
		reg:      reg,
		counters: make(map[string]prometheus.Counter),
		gauges:   make(map[string]prometheus.Gauge),
		timings:  make(map[string]prometheus.Histogram),
	}
}

// Count adds value to the named counter. The rate and tags arguments are
// ignored - prometheus scrapes everything.
func (s *Statter) Count(name string, value int64, rate float64, tags ...string) {
	s.lock.Lock()
	c, ok := s.counters[name]
	if !ok {
		c = prometheus.NewCounter(prometheus.CounterOpts{
			Name: promName(name),
			Help: name,
		})
		s.reg.MustRegister(c)
		s.counters[name] = c
	}
	s.lock.Unlock()
	c.Add(float64(value))
}

// Gauge sets the named gauge to value.
func (s *Statter) Gauge(name string, value float64, rate float64, tags ...string) {
	s.lock.Lock()
	g, ok := s.gauges[name]
	if !ok {
		g = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: promName(name),
			Help: name,
		})
		s.reg.MustRegister(g)
		s.gauges[name] = g
	}
	s.lock.Unlock()
	g.Set(value)
}

// Timing observes value in seconds on the named histogram.
func (s *Statter) Timing(name string, value time.Duration, rate float64, tags ...string) {
	s.lock.Lock()
	h, ok := s.timings[name]
	if !ok {
		h = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: promName(name) + "_seconds",
			Help: name,
		})
		s.reg.MustRegister(h)
		s.timings[name] = h
	}
	s.lock.Unlock()
	h.Observe(value.Seconds())
}

// promName rewrites a dotted stat name like "ingest.candidates" into a valid
// prometheus metric name.
func promName(name string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(name)
}
