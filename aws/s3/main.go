package s3

import (
	"context"
	"log"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/feedkit/feedkit"
	"github.com/feedkit/feedkit/boltdb"
	"github.com/feedkit/feedkit/leveldb"
	"github.com/feedkit/feedkit/termstat"
)

// Main holds the options for collecting line separated json from objects in
// an S3 bucket.
type Main struct {
	Bucket      string   `help:"S3 bucket to read objects from."`
	Prefix      string   `help:"Only consume objects matching this prefix."`
	Region      string   `help:"AWS region."`
	Name        string   `help:"Feed name recorded on candidates and checkpoints."`
	KeyFields   []string `help:"Comma separated payload fields joined to derive each item's natural key."`
	StorageDir  string   `help:"Directory for the record database."`
	Checkpoints string   `help:"Path to the checkpoint database file."`
}

// NewMain returns a new Main.
func NewMain() *Main {
	return &Main{
		Region:      "us-east-1",
		Name:        "s3",
		KeyFields:   []string{"id"},
		StorageDir:  "feedkit-data",
		Checkpoints: "feedkit-checkpoints.db",
	}
}

// Run collects the bucket once and reports the result.
func (m *Main) Run() error {
	log.Printf("Running Main: %#v", m)
	store, err := leveldb.NewStorage(m.StorageDir)
	if err != nil {
		return errors.Wrap(err, "opening record storage")
	}
	defer store.Close()
	cps, err := boltdb.NewCheckpointStore(m.Checkpoints)
	if err != nil {
		return errors.Wrap(err, "opening checkpoint store")
	}
	defer cps.Close()

	logger, err := zap.NewProduction()
	if err != nil {
		return errors.Wrap(err, "building logger")
	}
	ing := feedkit.NewIngester(store, cps,
		feedkit.OptIngestStats(termstat.NewCollector(os.Stderr)),
		feedkit.OptIngestLogger(logger))
	defer ing.Close()

	feed := NewFeed(m.Bucket,
		OptFeedName(m.Name),
		OptFeedPrefix(m.Prefix),
		OptFeedRegion(m.Region))
	ing.AddFeed(feed, feedkit.FieldKeyer(m.KeyFields...))

	res, err := ing.Run(context.Background())
	for _, e := range res.Errors {
		log.Printf("collection error: %v", e)
	}
	log.Printf("processed: %d, new: %d, duplicates: %d, errored: %d",
		res.Processed, res.New, res.Duplicates, res.Errored)
	return err
}
