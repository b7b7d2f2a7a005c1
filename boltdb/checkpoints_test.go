package boltdb

import (
	"context"
	"io/ioutil"
	"os"
	"testing"

	"github.com/pkg/errors"

	"github.com/feedkit/feedkit"
)

func tempFileName(t *testing.T) string {
	tf, err := ioutil.TempFile("", "")
	if err != nil {
		t.Fatalf("couldn't get temp file: %v", err)
	}
	err = tf.Close()
	if err != nil {
		t.Fatalf("couldn't close temp file: %v", err)
	}
	return tf.Name()
}

func TestCheckpointStore(t *testing.T) {
	boltFile := tempFileName(t)
	defer os.Remove(boltFile)
	ctx := context.Background()

	cs, err := NewCheckpointStore(boltFile)
	if err != nil {
		t.Fatalf("couldn't get bolt db: %v", err)
	}

	cp, err := cs.Read(ctx, "f")
	if err != nil || cp != nil {
		t.Fatalf("fresh feed should be (nil, nil), got %v, %v", cp, err)
	}

	if err := cs.Write(ctx, &feedkit.Checkpoint{Feed: "f", Position: "p1", Version: 1}); err != nil {
		t.Fatalf("writing: %v", err)
	}
	if err := cs.Write(ctx, &feedkit.Checkpoint{Feed: "f", Position: "p2", Version: 2}); err != nil {
		t.Fatalf("writing: %v", err)
	}

	err = cs.Write(ctx, &feedkit.Checkpoint{Feed: "f", Position: "stale", Version: 2})
	if errors.Cause(err) != feedkit.ErrCheckpointConflict {
		t.Fatalf("expected a version conflict, got %v", err)
	}

	err = cs.Close()
	if err != nil {
		t.Fatalf("closing bolt db: %v", err)
	}

	// reopen: the checkpoint must survive
	cs, err = NewCheckpointStore(boltFile)
	if err != nil {
		t.Fatalf("reopening bolt db: %v", err)
	}
	defer cs.Close()

	cp, err = cs.Read(ctx, "f")
	if err != nil {
		t.Fatalf("reading after reopen: %v", err)
	}
	if cp == nil || cp.Position != "p2" || cp.Version != 2 {
		t.Fatalf("unexpected checkpoint after reopen: %+v", cp)
	}

	// feeds are independent
	if err := cs.Write(ctx, &feedkit.Checkpoint{Feed: "g", Position: "q1", Version: 1}); err != nil {
		t.Fatalf("writing second feed: %v", err)
	}
	cp, err = cs.Read(ctx, "g")
	if err != nil {
		t.Fatalf("reading second feed: %v", err)
	}
	if cp == nil || cp.Position != "q1" {
		t.Fatalf("unexpected checkpoint for second feed: %+v", cp)
	}
}
