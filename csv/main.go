package csv

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

// Main holds the options for collecting csv files into record storage.
type Main struct {
	Path        string   `help:"Path to a csv file or a directory of csv files."`
	Name        string   `help:"Feed name recorded on candidates and checkpoints."`
	TimeField   string   `help:"Column holding each row's observation time (RFC3339)."`
	KeyFields   []string `help:"Comma separated columns joined to derive each row's natural key."`
	StorageDir  string   `help:"Directory for the record database."`
	Checkpoints string   `help:"Path to the checkpoint database file."`
}

// NewMain returns a new Main.
func NewMain() *Main {
	return &Main{
		Name:        "csv",
		KeyFields:   []string{"id"},
		StorageDir:  "feedkit-data",
		Checkpoints: "feedkit-checkpoints.db",
	}
}

// Run collects the csv feed once and reports the result.
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

	opts := []FeedOption{OptFeedName(m.Name)}
	if m.TimeField != "" {
		opts = append(opts, OptFeedTimeField(m.TimeField))
	}
	ing.AddFeed(NewFeed(m.Path, opts...), feedkit.FieldKeyer(m.KeyFields...))

	res, err := ing.Run(context.Background())
	for _, e := range res.Errors {
		log.Printf("collection error: %v", e)
	}
	log.Printf("processed: %d, new: %d, duplicates: %d, errored: %d",
		res.Processed, res.New, res.Duplicates, res.Errored)
	return err
}
