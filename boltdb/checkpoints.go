// Package boltdb provides a feedkit.CheckpointStore implementation using
// boltdb. Checkpoints are tiny and written once per batch, so bolt's
// single-writer transaction model fits well - version monotonicity is
// enforced inside the write transaction.
package boltdb

import (
	"context"
	"encoding/json"
	"time"

	"github.com/boltdb/bolt"
	"github.com/pkg/errors"

	"github.com/feedkit/feedkit"
)

var checkpointBucket = []byte("checkpoints")

var _ feedkit.CheckpointStore = &CheckpointStore{}

// CheckpointStore persists one JSON-encoded checkpoint per feed.
type CheckpointStore struct {
	Db *bolt.DB
}

// NewCheckpointStore opens (or creates) the bolt file at filename.
func NewCheckpointStore(filename string) (*CheckpointStore, error) {
	db, err := bolt.Open(filename, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "opening db file '%v'", filename)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(checkpointBucket)
		return errors.Wrap(err, "creating checkpoint bucket")
	})
	if err != nil {
		return nil, errors.Wrap(err, "ensuring bucket existence")
	}
	return &CheckpointStore{Db: db}, nil
}

// Close syncs and closes the underlying boltdb.
func (c *CheckpointStore) Close() error {
	err := c.Db.Sync()
	if err != nil {
		return errors.Wrap(err, "syncing db")
	}
	return c.Db.Close()
}

// Read returns the stored checkpoint for feed, or nil if none exists.
func (c *CheckpointStore) Read(_ context.Context, feed string) (*feedkit.Checkpoint, error) {
	var cp *feedkit.Checkpoint
	err := c.Db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(checkpointBucket).Get([]byte(feed))
		if data == nil {
			return nil
		}
		cp = &feedkit.Checkpoint{}
		return errors.Wrap(json.Unmarshal(data, cp), "decoding checkpoint")
	})
	if err != nil {
		return nil, err
	}
	return cp, nil
}

// Write stores cp if its version is greater than the stored one, failing
// with feedkit.ErrCheckpointConflict otherwise. The check and the put happen
// in one transaction, so concurrent writers serialize here.
func (c *CheckpointStore) Write(_ context.Context, cp *feedkit.Checkpoint) error {
	return c.Db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(checkpointBucket)
		if data := b.Get([]byte(cp.Feed)); data != nil {
			stored := &feedkit.Checkpoint{}
			if err := json.Unmarshal(data, stored); err != nil {
				return errors.Wrap(err, "decoding stored checkpoint")
			}
			if stored.Version >= cp.Version {
				return errors.Wrapf(feedkit.ErrCheckpointConflict,
					"stored version %d, writing %d", stored.Version, cp.Version)
			}
		}
		data, err := json.Marshal(cp)
		if err != nil {
			return errors.Wrap(err, "encoding checkpoint")
		}
		return errors.Wrap(b.Put([]byte(cp.Feed), data), "putting checkpoint")
	})
}
