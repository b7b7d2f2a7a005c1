// Package kafka provides a feedkit feed which consumes json messages from
// kafka topics. Resume positions are kafka's own consumer-group offsets -
// marked only as records are returned - so the feed's checkpoint carries the
// last marked offset purely for the audit trail.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"log"

	"github.com/Shopify/sarama"
	cluster "github.com/bsm/sarama-cluster"
	"github.com/pkg/errors"

	"github.com/feedkit/feedkit"
)

// Feed consumes candidates from kafka.
type Feed struct {
	Hosts  []string
	Topics []string
	Group  string

	// MaxMsgs bounds how many messages one open Source returns. It should
	// be set for batch collection: with MaxMsgs 0 the consumer's messages
	// channel stays open and Record blocks whenever the topics are empty,
	// waiting for more messages rather than returning io.EOF.
	MaxMsgs int
}

// NewFeed gets a new Feed with default values.
func NewFeed() *Feed {
	return &Feed{
		Hosts:  []string{"localhost:9092"},
		Topics: []string{"test"},
		Group:  "group0",
	}
}

// Name implements feedkit.Feed.
func (f *Feed) Name() string {
	return "kafka-" + f.Group
}

// Open connects a consumer. The stored position is ignored for seeking -
// kafka's group offsets are authoritative - but each Source reports the last
// consumed offset as its position. Batches are finite only when MaxMsgs is
// set; see the field comment.
func (f *Feed) Open(_ context.Context, _ string) (feedkit.Source, error) {
	sarama.Logger = log.New(ioutil.Discard, "", 0)
	config := cluster.NewConfig()
	config.Config.Version = sarama.V0_10_0_0
	config.Consumer.Return.Errors = true
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Group.Return.Notifications = true

	consumer, err := cluster.NewConsumer(f.Hosts, f.Group, f.Topics, config)
	if err != nil {
		return nil, errors.Wrap(err, "getting new consumer")
	}
	s := &Source{feed: f, consumer: consumer}
	go func() {
		for range consumer.Notifications() {
		}
	}()
	go func() {
		for range consumer.Errors() {
		}
	}()
	return s, nil
}

// Source consumes one bounded batch of messages.
type Source struct {
	feed     *Feed
	consumer *cluster.Consumer
	numMsgs  int
	position string
}

// Record returns the next message as a candidate, marking its offset as
// processed. It returns io.EOF after MaxMsgs messages, or when the messages
// channel closes. With MaxMsgs 0 it blocks on an empty topic.
func (s *Source) Record() (*feedkit.Candidate, error) {
	if s.feed.MaxMsgs > 0 {
		s.numMsgs++
		if s.numMsgs > s.feed.MaxMsgs {
			return nil, io.EOF
		}
	}
	msg, ok := <-s.consumer.Messages()
	if !ok {
		return nil, io.EOF
	}
	payload := make(map[string]interface{})
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		return nil, errors.Wrap(err, "unmarshaling json")
	}
	s.consumer.MarkOffset(msg, "") // mark message as processed
	s.position = fmt.Sprintf("%s:%d:%d", msg.Topic, msg.Partition, msg.Offset)
	return &feedkit.Candidate{
		Source:     s.feed.Name(),
		ObservedAt: msg.Timestamp,
		Payload:    payload,
	}, nil
}

// Position implements feedkit.Positioned, reporting the last consumed
// topic:partition:offset.
func (s *Source) Position() string {
	return s.position
}

// Seek implements feedkit.Positioned. Group offsets own resumption; Seek
// only carries the audit position forward.
func (s *Source) Seek(position string) error {
	s.position = position
	return nil
}

// Close closes the underlying consumer.
func (s *Source) Close() error {
	return errors.Wrap(s.consumer.Close(), "closing consumer")
}
