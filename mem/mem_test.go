package mem

import (
	"context"
	"testing"

	"github.com/feedkit/feedkit"
)

func TestStorageUniqueness(t *testing.T) {
	s := NewStorage()
	ctx := context.Background()

	r1 := &feedkit.Record{ID: "1", Key: "k"}
	if err := s.Insert(ctx, r1); err != nil {
		t.Fatalf("inserting: %v", err)
	}
	err := s.Insert(ctx, &feedkit.Record{ID: "2", Key: "k"})
	if !feedkit.IsKeyExists(err) {
		t.Fatalf("expected a uniqueness violation, got %v", err)
	}

	got, err := s.FindByKey(ctx, "k")
	if err != nil {
		t.Fatalf("finding: %v", err)
	}
	if got == nil || got.ID != "1" {
		t.Fatalf("unexpected record: %+v", got)
	}
	got, err = s.FindByKey(ctx, "absent")
	if err != nil || got != nil {
		t.Fatalf("absent key should be (nil, nil), got %v, %v", got, err)
	}
}

func TestStorageBatchInsertAllOrNothing(t *testing.T) {
	s := NewStorage()
	ctx := context.Background()

	if err := s.Insert(ctx, &feedkit.Record{ID: "1", Key: "taken"}); err != nil {
		t.Fatalf("inserting: %v", err)
	}
	err := s.BatchInsert(ctx, []*feedkit.Record{
		{ID: "2", Key: "fresh"},
		{ID: "3", Key: "taken"},
	})
	if !feedkit.IsKeyExists(err) {
		t.Fatalf("expected a uniqueness violation, got %v", err)
	}
	if got, _ := s.FindByKey(ctx, "fresh"); got != nil {
		t.Fatal("rejected batch must not leave partial records behind")
	}

	err = s.BatchInsert(ctx, []*feedkit.Record{
		{ID: "2", Key: "fresh"},
		{ID: "4", Key: "fresher"},
	})
	if err != nil {
		t.Fatalf("batch inserting: %v", err)
	}
	if s.Len() != 3 {
		t.Fatalf("expected 3 records, got %d", s.Len())
	}
}

func TestStorageBatchInsertDuplicateWithin(t *testing.T) {
	s := NewStorage()
	ctx := context.Background()

	err := s.BatchInsert(ctx, []*feedkit.Record{
		{ID: "1", Key: "k"},
		{ID: "2", Key: "k"},
	})
	if !feedkit.IsKeyExists(err) {
		t.Fatalf("expected a uniqueness violation, got %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("rejected batch must store nothing, got %d records", s.Len())
	}
}

func TestStorageSightingsOrder(t *testing.T) {
	s := NewStorage()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if err := s.AppendSighting(ctx, &feedkit.Sighting{ID: id, Key: "k"}); err != nil {
			t.Fatalf("appending: %v", err)
		}
	}
	got := s.Sightings()
	if len(got) != 3 || got[0].ID != "a" || got[2].ID != "c" {
		t.Fatalf("sightings out of order: %v", got)
	}
}

func TestCheckpointStoreConflict(t *testing.T) {
	c := NewCheckpointStore()
	ctx := context.Background()

	cp, err := c.Read(ctx, "f")
	if err != nil || cp != nil {
		t.Fatalf("fresh feed should be (nil, nil), got %v, %v", cp, err)
	}

	if err := c.Write(ctx, &feedkit.Checkpoint{Feed: "f", Position: "p1", Version: 1}); err != nil {
		t.Fatalf("writing: %v", err)
	}
	if err := c.Write(ctx, &feedkit.Checkpoint{Feed: "f", Position: "p2", Version: 2}); err != nil {
		t.Fatalf("writing: %v", err)
	}
	err = c.Write(ctx, &feedkit.Checkpoint{Feed: "f", Position: "stale", Version: 2})
	if err != feedkit.ErrCheckpointConflict {
		t.Fatalf("expected a version conflict, got %v", err)
	}

	cp, err = c.Read(ctx, "f")
	if err != nil {
		t.Fatalf("reading: %v", err)
	}
	if cp.Position != "p2" || cp.Version != 2 {
		t.Fatalf("conflicting write must not change the store, got %+v", cp)
	}
}
