package kafka

import (
	"context"
	"log"
	"net/http"
	"os"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/feedkit/feedkit"
	"github.com/feedkit/feedkit/boltdb"
	"github.com/feedkit/feedkit/leveldb"
	"github.com/feedkit/feedkit/metrics"
	"github.com/feedkit/feedkit/termstat"
)

// Main holds the options for collecting json messages from Kafka.
type Main struct {
	Hosts       []string `help:"Comma separated list of Kafka hosts and ports"`
	Topics      []string `help:"Comma separated list of Kafka topics"`
	Group       string   `help:"Kafka group"`
	MaxMsgs     int      `help:"Stop the batch after this many messages. 0 means consume until the topics are drained, blocking whenever they are empty."`
	KeyFields   []string `help:"Comma separated payload fields joined to derive each message's natural key."`
	StorageDir  string   `help:"Directory for the record database."`
	Checkpoints string   `help:"Path to the checkpoint database file."`
	MetricsAddr string   `help:"Bind address for prometheus metrics, e.g. :9093. Empty disables metrics and stats go to stderr instead."`
}

// NewMain returns a new Main.
func NewMain() *Main {
	return &Main{
		Hosts:       []string{"localhost:9092"},
		Topics:      []string{"test"},
		Group:       "group0",
		KeyFields:   []string{"id"},
		StorageDir:  "feedkit-data",
		Checkpoints: "feedkit-checkpoints.db",
	}
}

// Run collects one batch from Kafka and reports the result.
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
	var stats feedkit.Statter = termstat.NewCollector(os.Stderr)
	if m.MetricsAddr != "" {
		stats = metrics.NewStatter(nil)
		go func() {
			err := http.ListenAndServe(m.MetricsAddr, promhttp.Handler())
			logger.Error("serving metrics", zap.Error(err))
		}()
	}
	ing := feedkit.NewIngester(store, cps,
		feedkit.OptIngestStats(stats),
		feedkit.OptIngestLogger(logger))
	defer ing.Close()

	feed := NewFeed()
	feed.Hosts = m.Hosts
	feed.Topics = m.Topics
	feed.Group = m.Group
	feed.MaxMsgs = m.MaxMsgs
	ing.AddFeed(feed, feedkit.FieldKeyer(m.KeyFields...))

	res, err := ing.Run(context.Background())
	for _, e := range res.Errors {
		log.Printf("collection error: %v", e)
	}
	log.Printf("processed: %d, new: %d, duplicates: %d, errored: %d",
		res.Processed, res.New, res.Duplicates, res.Errored)
	return err
}
