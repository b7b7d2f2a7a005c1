// Package file provides a feedkit feed which reads json objects from files
// on disk. Files are consumed in name order; the resume position is the
// number of files fully processed, so a restarted collection skips whole
// files and lets the dedup engine absorb any partially-processed one.
package file

import (
	"context"
	"encoding/json"
	"io"
	"io/ioutil"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/feedkit/feedkit"
)

// Feed reads candidates from a file or all files in a directory.
type Feed struct {
	name      string
	pathname  string
	timeField string
}

// FeedOption is a functional option for the file Feed.
type FeedOption func(f *Feed)

// OptFeedName sets the feed's name, which also becomes each candidate's
// source.
func OptFeedName(name string) FeedOption {
	return func(f *Feed) {
		f.name = name
	}
}

// OptFeedTimeField tells the feed to read each candidate's observation time
// from the named payload field (RFC 3339). Without it observation times come
// from file modification times.
func OptFeedTimeField(field string) FeedOption {
	return func(f *Feed) {
		f.timeField = field
	}
}

// NewFeed gets a feed which reads json data from a file or all files in a
// directory.
func NewFeed(pathname string, opts ...FeedOption) *Feed {
	f := &Feed{
		name:     "file",
		pathname: pathname,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Name implements feedkit.Feed.
func (f *Feed) Name() string { return f.name }

// Open lists the files and returns a Source resuming after position.
func (f *Feed) Open(_ context.Context, position string) (feedkit.Source, error) {
	info, err := os.Stat(f.pathname)
	if err != nil {
		return nil, errors.Wrap(err, "statting path")
	}
	var files []string
	if info.IsDir() {
		infos, err := ioutil.ReadDir(f.pathname)
		if err != nil {
			return nil, errors.Wrap(err, "reading directory")
		}
		for _, info := range infos {
			if info.IsDir() {
				continue
			}
			files = append(files, path.Join(f.pathname, info.Name()))
		}
	} else {
		files = []string{f.pathname}
	}
	s := &Source{feed: f, files: files}
	if err := s.Seek(position); err != nil {
		return nil, err
	}
	return s, nil
}

// Source is a feedkit.Source reading json objects file by file.
type Source struct {
	feed  *Feed
	files []string
	idx   int
	cur   *os.File
	dec   *json.Decoder
	mtime time.Time
}

// Record returns the next json object as a candidate. It returns io.EOF
// after the last object of the last file.
func (s *Source) Record() (*feedkit.Candidate, error) {
	for {
		if s.dec == nil {
			if s.idx >= len(s.files) {
				return nil, io.EOF
			}
			file, err := os.Open(s.files[s.idx])
			if err != nil {
				return nil, errors.Wrapf(err, "opening %s", s.files[s.idx])
			}
			info, err := file.Stat()
			if err != nil {
				file.Close()
				return nil, errors.Wrapf(err, "statting %s", s.files[s.idx])
			}
			s.cur = file
			s.mtime = info.ModTime()
			s.dec = json.NewDecoder(file)
		}

		payload := make(map[string]interface{})
		err := s.dec.Decode(&payload)
		if err == io.EOF {
			s.cur.Close()
			s.cur, s.dec = nil, nil
			s.idx++
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "decoding json from %s", s.files[s.idx])
		}
		return &feedkit.Candidate{
			Source:     s.feed.name,
			ObservedAt: s.observedAt(payload),
			Payload:    payload,
		}, nil
	}
}

// Close releases any file handle left open by a mid-file failure.
func (s *Source) Close() error {
	if s.cur == nil {
		return nil
	}
	err := s.cur.Close()
	s.cur, s.dec = nil, nil
	return err
}

func (s *Source) observedAt(payload map[string]interface{}) time.Time {
	if s.feed.timeField != "" {
		if v, ok := payload[s.feed.timeField].(string); ok {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				return t
			}
		}
	}
	return s.mtime
}

// Position implements feedkit.Positioned - the count of files fully
// consumed.
func (s *Source) Position() string {
	return strconv.Itoa(s.idx)
}

// Seek implements feedkit.Positioned.
func (s *Source) Seek(position string) error {
	if position == "" {
		s.idx = 0
		return nil
	}
	n, err := strconv.Atoi(position)
	if err != nil {
		return errors.Wrapf(err, "parsing position %q", position)
	}
	if n > len(s.files) {
		n = len(s.files)
	}
	s.idx = n
	return nil
}
