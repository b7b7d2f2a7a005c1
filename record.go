package feedkit

import (
	"time"

	"github.com/google/uuid"
)

// Layer is the data-quality tier of a Record. Layers only ever advance; the
// collection pipeline creates records at LayerRaw and never touches them
// again - validation and enrichment are downstream concerns.
type Layer int

const (
	LayerRaw Layer = iota
	LayerValidated
	LayerEnriched
)

func (l Layer) String() string {
	switch l {
	case LayerRaw:
		return "raw"
	case LayerValidated:
		return "validated"
	case LayerEnriched:
		return "enriched"
	}
	return "unknown"
}

// Record is the durable, single-owner representation of an item. Exactly one
// Record exists per distinct natural key, created on first sighting.
type Record struct {
	ID         string                 `json:"id"`
	Key        string                 `json:"key"`
	Layer      Layer                  `json:"layer"`
	Source     string                 `json:"source"`
	ObservedAt time.Time              `json:"observed_at"`
	CreatedAt  time.Time              `json:"created_at"`
	Payload    map[string]interface{} `json:"payload"`
}

// NewRecord creates a raw-layer Record from a candidate and its derived key.
func NewRecord(c *Candidate, key string) *Record {
	return &Record{
		ID:         uuid.New().String(),
		Key:        key,
		Layer:      LayerRaw,
		Source:     c.Source,
		ObservedAt: c.ObservedAt,
		CreatedAt:  time.Now().UTC(),
		Payload:    c.Payload,
	}
}

// Sighting is one append-only audit entry - every candidate processed
// produces exactly one, whether it turned out to be new or a duplicate. For
// a fixed key, exactly one Sighting in the whole history has IsNew true.
type Sighting struct {
	ID       string    `json:"id"`
	Key      string    `json:"key"`
	RecordID string    `json:"record_id"`
	Source   string    `json:"source"`
	SeenAt   time.Time `json:"seen_at"`
	IsNew    bool      `json:"is_new"`
	RawHash  string    `json:"raw_hash,omitempty"`
}
