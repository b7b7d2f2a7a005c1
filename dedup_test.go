package feedkit_test

import (
	"context"
	"testing"

	"github.com/feedkit/feedkit"
	"github.com/feedkit/feedkit/mem"
)

func candidate(source string, payload map[string]interface{}) *feedkit.Candidate {
	return &feedkit.Candidate{Source: source, Payload: payload}
}

func TestClassifyNewThenDuplicate(t *testing.T) {
	store := mem.NewStorage()
	d := feedkit.NewDedup(store)
	ctx := context.Background()

	out, s, err := d.Classify(ctx, candidate("a", map[string]interface{}{"id": "1"}), "k1")
	if err != nil {
		t.Fatalf("classifying: %v", err)
	}
	if out != feedkit.New || !s.IsNew {
		t.Fatalf("first classify should be new, got %v (IsNew %v)", out, s.IsNew)
	}

	out, s2, err := d.Classify(ctx, candidate("b", map[string]interface{}{"id": "1"}), "k1")
	if err != nil {
		t.Fatalf("classifying: %v", err)
	}
	if out != feedkit.Duplicate || s2.IsNew {
		t.Fatalf("second classify should be duplicate, got %v (IsNew %v)", out, s2.IsNew)
	}
	if s2.RecordID != s.RecordID {
		t.Fatalf("sightings reference different records: %q vs %q", s.RecordID, s2.RecordID)
	}
	if s2.Source != "b" {
		t.Fatalf("duplicate sighting should carry its own source, got %q", s2.Source)
	}

	if store.Len() != 1 {
		t.Fatalf("expected 1 record, got %d", store.Len())
	}
	sightings := store.Sightings()
	if len(sightings) != 2 {
		t.Fatalf("expected 2 sightings, got %d", len(sightings))
	}
	firsts := 0
	for _, sg := range sightings {
		if sg.IsNew {
			firsts++
		}
	}
	if firsts != 1 {
		t.Fatalf("expected exactly one first sighting, got %d", firsts)
	}
}

// racyStore simulates a concurrent writer claiming the key between our lookup
// and our insert.
type racyStore struct {
	*mem.Storage
	raced bool
}

type keyTakenErr struct{}

func (keyTakenErr) Error() string   { return "key already claimed" }
func (keyTakenErr) KeyExists() bool { return true }

func (r *racyStore) FindByKey(ctx context.Context, key string) (*feedkit.Record, error) {
	if !r.raced {
		return nil, nil
	}
	return r.Storage.FindByKey(ctx, key)
}

func (r *racyStore) Insert(ctx context.Context, rec *feedkit.Record) error {
	if !r.raced {
		r.raced = true
		winner := *rec
		winner.ID = "winner"
		if err := r.Storage.Insert(ctx, &winner); err != nil {
			return err
		}
		return keyTakenErr{}
	}
	return r.Storage.Insert(ctx, rec)
}

func TestClassifyUniquenessRaceDowngrades(t *testing.T) {
	store := &racyStore{Storage: mem.NewStorage()}
	d := feedkit.NewDedup(store)

	out, s, err := d.Classify(context.Background(), candidate("a", map[string]interface{}{"id": "1"}), "k1")
	if err != nil {
		t.Fatalf("classifying: %v", err)
	}
	if out != feedkit.Duplicate {
		t.Fatalf("losing the insert race should classify as duplicate, got %v", out)
	}
	if s.IsNew {
		t.Fatal("loser's sighting must be downgraded to IsNew=false")
	}
	if s.RecordID != "winner" {
		t.Fatalf("sighting should reference the winning record, got %q", s.RecordID)
	}
}

func TestIsKeyExists(t *testing.T) {
	store := mem.NewStorage()
	ctx := context.Background()
	r1 := feedkit.NewRecord(candidate("a", nil), "k")
	r2 := feedkit.NewRecord(candidate("b", nil), "k")
	if err := store.Insert(ctx, r1); err != nil {
		t.Fatalf("inserting: %v", err)
	}
	err := store.Insert(ctx, r2)
	if !feedkit.IsKeyExists(err) {
		t.Fatalf("expected a uniqueness violation, got %v", err)
	}
}
