// Package http provides a feedkit feed which polls a JSON endpoint. The
// endpoint returns pages of the form
//
//	{"items": [{...}, ...], "next": "<page token>"}
//
// and the feed walks pages until next comes back empty. The page token is
// the resume position, so a restarted collection picks up where the last
// fully processed page left off.
package http

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/feedkit/feedkit"
)

// Feed polls a JSON endpoint for candidates.
type Feed struct {
	name      string
	url       string
	client    *http.Client
	timeField string
}

// FeedOption is a functional option type for the http Feed.
type FeedOption func(f *Feed)

// OptFeedName sets the feed's name.
func OptFeedName(name string) FeedOption {
	return func(f *Feed) {
		f.name = name
	}
}

// OptFeedClient sets the http client used for polling, mostly so tests can
// inject one.
func OptFeedClient(c *http.Client) FeedOption {
	return func(f *Feed) {
		f.client = c
	}
}

// OptFeedTimeField reads each candidate's observation time from the named
// item field (RFC 3339) instead of the poll time.
func OptFeedTimeField(field string) FeedOption {
	return func(f *Feed) {
		f.timeField = field
	}
}

// NewFeed creates a Feed polling the given endpoint.
func NewFeed(endpoint string, opts ...FeedOption) *Feed {
	f := &Feed{
		name:   "http",
		url:    endpoint,
		client: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Name implements feedkit.Feed.
func (f *Feed) Name() string { return f.name }

// Open returns a Source paging from position.
func (f *Feed) Open(ctx context.Context, position string) (feedkit.Source, error) {
	return &Source{feed: f, ctx: ctx, token: position}, nil
}

// Transient classifies network and timeout failures as retryable; decode
// and HTTP status errors are permanent.
func (f *Feed) Transient(err error) bool {
	cause := errors.Cause(err)
	if nerr, ok := cause.(net.Error); ok {
		return nerr.Timeout() || nerr.Temporary()
	}
	if uerr, ok := cause.(*url.Error); ok {
		return uerr.Timeout() || uerr.Temporary()
	}
	return false
}

type page struct {
	Items []map[string]interface{} `json:"items"`
	Next  string                   `json:"next"`
}

// Source pages through the endpoint.
type Source struct {
	feed  *Feed
	ctx   context.Context
	token string
	buf   []map[string]interface{}
	done  bool
}

// Record returns the next item, fetching the next page as needed, and io.EOF
// once the endpoint reports no further page.
func (s *Source) Record() (*feedkit.Candidate, error) {
	for len(s.buf) == 0 {
		if s.done {
			return nil, io.EOF
		}
		if err := s.fetch(); err != nil {
			return nil, err
		}
	}
	payload := s.buf[0]
	s.buf = s.buf[1:]
	return &feedkit.Candidate{
		Source:     s.feed.name,
		ObservedAt: s.observedAt(payload),
		Payload:    payload,
	}, nil
}

func (s *Source) fetch() error {
	u, err := url.Parse(s.feed.url)
	if err != nil {
		return errors.Wrap(err, "parsing endpoint url")
	}
	q := u.Query()
	if s.token != "" {
		q.Set("cursor", s.token)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	req = req.WithContext(s.ctx)
	resp, err := s.feed.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "polling")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("unexpected status %d from %s", resp.StatusCode, u)
	}

	var p page
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return errors.Wrap(err, "decoding page")
	}
	s.buf = p.Items
	if p.Next == "" {
		s.done = true
	} else {
		s.token = p.Next
	}
	return nil
}

func (s *Source) observedAt(payload map[string]interface{}) time.Time {
	if s.feed.timeField != "" {
		if v, ok := payload[s.feed.timeField].(string); ok {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				return t
			}
		}
	}
	return time.Now().UTC()
}

// Position implements feedkit.Positioned - the token of the last fetched
// page.
func (s *Source) Position() string {
	return s.token
}

// Seek implements feedkit.Positioned.
func (s *Source) Seek(position string) error {
	s.token = position
	s.buf = nil
	s.done = false
	return nil
}
