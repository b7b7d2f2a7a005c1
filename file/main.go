package file

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

// Main holds the options for collecting newline separated json files into
// record storage.
type Main struct {
	Path        string   `help:"Path to a json file or a directory of json files."`
	Name        string   `help:"Feed name recorded on candidates and checkpoints."`
	TimeField   string   `help:"Payload field holding each item's observation time (RFC3339)."`
	KeyFields   []string `help:"Comma separated payload fields joined to derive each item's natural key. Dots descend into nested objects."`
	StorageDir  string   `help:"Directory for the record database."`
	Checkpoints string   `help:"Path to the checkpoint database file."`
}

// NewMain returns a new Main.
func NewMain() *Main {
	return &Main{
		Name:        "file",
		KeyFields:   []string{"id"},
		StorageDir:  "feedkit-data",
		Checkpoints: "feedkit-checkpoints.db",
	}
}

// Run collects the file feed once and reports the result.
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
