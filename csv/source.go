// Package csv provides a feedkit feed which reads comma separated files with
// a header row. Each data row becomes one candidate whose payload maps header
// fields to row values. Files are consumed in name order like the file feed,
// and the resume position is the count of files fully processed.
package csv

import (
	"bufio"
	"context"
	"io"
	"io/ioutil"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/feedkit/feedkit"
)

// Feed reads candidates from a csv file or all csv files in a directory.
type Feed struct {
	name      string
	pathname  string
	timeField string
}

// FeedOption is a functional option for the csv Feed.
type FeedOption func(f *Feed)

// OptFeedName sets the feed's name.
func OptFeedName(name string) FeedOption {
	return func(f *Feed) {
		f.name = name
	}
}

// OptFeedTimeField reads each candidate's observation time from the named
// column (RFC 3339) instead of the file modification time.
func OptFeedTimeField(field string) FeedOption {
	return func(f *Feed) {
		f.timeField = field
	}
}

// NewFeed gets a feed reading csv data from a file or all files in a
// directory.
func NewFeed(pathname string, opts ...FeedOption) *Feed {
	f := &Feed{
		name:     "csv",
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

// Source reads csv rows file by file.
type Source struct {
	feed   *Feed
	files  []string
	idx    int
	cur    *os.File
	scan   *bufio.Scanner
	header []string
	line   int
	mtime  time.Time
}

// Record returns the next row as a candidate, or io.EOF after the last row
// of the last file.
func (s *Source) Record() (*feedkit.Candidate, error) {
	for {
		if s.scan == nil {
			if s.idx >= len(s.files) {
				return nil, io.EOF
			}
			if err := s.openNext(); err != nil {
				return nil, err
			}
		}
		if !s.scan.Scan() {
			if err := s.scan.Err(); err != nil {
				return nil, errors.Wrapf(err, "scanning %s", s.files[s.idx])
			}
			s.cur.Close()
			s.cur, s.scan, s.header, s.line = nil, nil, nil, 0
			s.idx++
			continue
		}
		s.line++
		txt := s.scan.Text()
		if strings.TrimSpace(txt) == "" {
			continue
		}
		payload, err := parseRow(s.header, strings.Split(txt, ","))
		if err != nil {
			return nil, errors.Wrapf(err, "%s line %d", s.files[s.idx], s.line)
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
	s.cur, s.scan, s.header, s.line = nil, nil, nil, 0
	return err
}

func (s *Source) openNext() error {
	file, err := os.Open(s.files[s.idx])
	if err != nil {
		return errors.Wrapf(err, "opening %s", s.files[s.idx])
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return errors.Wrapf(err, "statting %s", s.files[s.idx])
	}
	s.cur = file
	s.mtime = info.ModTime()
	s.scan = bufio.NewScanner(file)
	if s.scan.Scan() {
		s.header = strings.Split(s.scan.Text(), ",")
		if err := validateHeader(s.header); err != nil {
			file.Close()
			s.cur, s.scan = nil, nil
			return errors.Wrapf(err, "%s", s.files[s.idx])
		}
	}
	s.line = 1
	return nil
}

func validateHeader(header []string) error {
	fields := make(map[string]int)
	for i, h := range header {
		if h == "" {
			return errors.Errorf("header contains empty string at %d: %v", i, header)
		}
		if pos, exists := fields[h]; exists {
			return errors.Errorf("%s appeared at both %d and %d in header", h, pos, i)
		}
		fields[h] = i
	}
	return nil
}

func parseRow(header []string, row []string) (map[string]interface{}, error) {
	if len(header) > len(row) {
		return nil, errors.Errorf("header/row len mismatch: %dvs%d, %v and %v", len(header), len(row), header, row)
	}
	ret := make(map[string]interface{}, len(header))
	for i := 0; i < len(header); i++ {
		if row[i] == "" {
			continue
		}
		ret[header[i]] = row[i]
	}
	return ret, nil
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
