// Package s3 provides a feedkit feed which reads line-separated json objects
// from an S3 bucket. Objects are consumed in the order the bucket listing
// returns them; the resume position is the key of the last fully processed
// object, so a restarted collection skips everything up to and including it.
package s3

import (
	"context"
	"encoding/json"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/pkg/errors"

	"github.com/feedkit/feedkit"
)

// Feed reads candidates from an S3 bucket.
type Feed struct {
	name   string
	bucket string
	prefix string
	region string
}

// FeedOption is a functional option type for s3.Feed.
type FeedOption func(f *Feed)

// OptFeedName sets the feed's name.
func OptFeedName(name string) FeedOption {
	return func(f *Feed) {
		f.name = name
	}
}

// OptFeedPrefix tells the feed to list only the objects in the bucket that
// match the specified prefix.
func OptFeedPrefix(prefix string) FeedOption {
	return func(f *Feed) {
		f.prefix = prefix
	}
}

// OptFeedRegion sets the AWS region.
func OptFeedRegion(region string) FeedOption {
	return func(f *Feed) {
		f.region = region
	}
}

// NewFeed returns a new Feed reading from bucket with the options applied.
func NewFeed(bucket string, opts ...FeedOption) *Feed {
	f := &Feed{
		name:   "s3",
		bucket: bucket,
		region: "us-east-1",
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Name implements feedkit.Feed.
func (f *Feed) Name() string { return f.name }

// Transient reports whether an S3 request failure is worth retrying.
func (f *Feed) Transient(err error) bool {
	return request.IsErrorRetryable(errors.Cause(err)) ||
		request.IsErrorThrottle(errors.Cause(err))
}

// Open lists the bucket and returns a Source resuming after the object key
// in position.
func (f *Feed) Open(_ context.Context, position string) (feedkit.Source, error) {
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(f.region),
	})
	if err != nil {
		return nil, errors.Wrap(err, "getting aws session")
	}
	svc := s3.New(sess)
	resp, err := svc.ListObjects(&s3.ListObjectsInput{
		Bucket: aws.String(f.bucket),
		Prefix: aws.String(f.prefix),
		Marker: aws.String(position),
	})
	if err != nil {
		return nil, errors.Wrap(err, "listing objects")
	}
	return &Source{
		feed:     f,
		s3:       svc,
		objects:  resp.Contents,
		position: position,
	}, nil
}

// Source reads json objects line by line from the listed bucket objects.
type Source struct {
	feed     *Feed
	s3       *s3.S3
	objects  []*s3.Object
	idx      int
	body     io.ReadCloser
	dec      *json.Decoder
	current  *s3.Object
	position string
}

// Record parses the next json object from the current bucket object, or
// moves to the next bucket object and returns its first. It returns io.EOF
// after the last object.
func (s *Source) Record() (*feedkit.Candidate, error) {
	for {
		if s.dec == nil {
			if s.idx >= len(s.objects) {
				return nil, io.EOF
			}
			obj := s.objects[s.idx]
			result, err := s.s3.GetObject(&s3.GetObjectInput{
				Bucket: aws.String(s.feed.bucket),
				Key:    aws.String(*obj.Key),
			})
			if err != nil {
				return nil, errors.Wrapf(err, "fetching %v", *obj.Key)
			}
			s.body = result.Body
			s.dec = json.NewDecoder(result.Body)
			s.current = obj
		}

		payload := make(map[string]interface{})
		err := s.dec.Decode(&payload)
		if err == io.EOF {
			s.body.Close()
			s.body, s.dec = nil, nil
			s.position = *s.current.Key
			s.idx++
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "decoding json from %v", *s.current.Key)
		}
		c := &feedkit.Candidate{
			Source:  s.feed.name,
			Payload: payload,
		}
		if s.current.LastModified != nil {
			c.ObservedAt = *s.current.LastModified
		}
		return c, nil
	}
}

// Position implements feedkit.Positioned - the key of the last fully
// consumed object.
func (s *Source) Position() string {
	return s.position
}

// Seek implements feedkit.Positioned. Open already applies the position as
// the bucket listing marker, so Seek only resets in-flight state.
func (s *Source) Seek(position string) error {
	if s.body != nil {
		s.body.Close()
	}
	s.body, s.dec = nil, nil
	s.position = position
	return nil
}
