package fake

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

// Main holds the options for collecting generated candidates, mostly for
// demos and smoke testing a storage setup.
type Main struct {
	Seed        int64    `help:"Random seed. The same seed generates the same candidates."`
	Count       int      `help:"Number of candidates to generate."`
	Cardinality int      `help:"Size of the id set. Smaller means more duplicates."`
	KeyFields   []string `help:"Comma separated payload fields joined to derive each item's natural key."`
	StorageDir  string   `help:"Directory for the record database."`
	Checkpoints string   `help:"Path to the checkpoint database file."`
}

// NewMain returns a new Main.
func NewMain() *Main {
	return &Main{
		Count:       10000,
		Cardinality: 1000,
		KeyFields:   []string{"id"},
		StorageDir:  "feedkit-data",
		Checkpoints: "feedkit-checkpoints.db",
	}
}

// Run generates and collects one batch, reporting the result.
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

	feed := NewFeed(m.Seed, m.Count)
	feed.Cardinality = m.Cardinality
	ing.AddFeed(feed, feedkit.FieldKeyer(m.KeyFields...))

	res, err := ing.Run(context.Background())
	for _, e := range res.Errors {
		log.Printf("collection error: %v", e)
	}
	log.Printf("processed: %d, new: %d, duplicates: %d, errored: %d",
		res.Processed, res.New, res.Duplicates, res.Errored)
	return err
}
