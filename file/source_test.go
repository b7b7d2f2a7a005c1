package file

import (
	"context"
	"io"
	"io/ioutil"
	"os"
	"testing"
	"time"

	"github.com/feedkit/feedkit"
)

func mustTempDir(t *testing.T, prefix string) string {
	t.Helper()
	d, err := ioutil.TempDir("", prefix)
	if err != nil {
		t.Fatal("getting temp dir")
	}
	return d
}

func mustFile(t *testing.T, dir, contents string) string {
	t.Helper()
	f, err := ioutil.TempFile(dir, "")
	if err != nil {
		t.Fatalf("getting temp file: %v", err)
	}
	_, err = io.WriteString(f, contents)
	if err != nil {
		t.Fatalf("writing contents: %v", err)
	}
	f.Close()
	return f.Name()
}

func drain(t *testing.T, src feedkit.Source) []*feedkit.Candidate {
	t.Helper()
	var out []*feedkit.Candidate
	for {
		c, err := src.Record()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("reading record: %v", err)
		}
		out = append(out, c)
	}
}

func TestFeedReadsDirectory(t *testing.T) {
	d := mustTempDir(t, "testfilefeed")
	defer os.RemoveAll(d)

	mustFile(t, d, `{"id": "a"}{"id": "b"}`)
	mustFile(t, d, `{"id": "c"}`)

	feed := NewFeed(d, OptFeedName("myfeed"))
	src, err := feed.Open(context.Background(), "")
	if err != nil {
		t.Fatalf("opening feed: %v", err)
	}
	got := drain(t, src)
	if len(got) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(got))
	}
	ids := map[string]bool{}
	for _, c := range got {
		if c.Source != "myfeed" {
			t.Fatalf("unexpected source: %q", c.Source)
		}
		if c.ObservedAt.IsZero() {
			t.Fatal("expected an observation time from file mtime")
		}
		ids[c.Payload["id"].(string)] = true
	}
	if !ids["a"] || !ids["b"] || !ids["c"] {
		t.Fatalf("missing ids: %v", ids)
	}

	pos, ok := src.(feedkit.Positioned)
	if !ok {
		t.Fatal("source should report a position")
	}
	if pos.Position() != "2" {
		t.Fatalf("expected position 2 after draining both files, got %q", pos.Position())
	}
}

func TestFeedResumesAtPosition(t *testing.T) {
	d := mustTempDir(t, "testfileresume")
	defer os.RemoveAll(d)

	mustFile(t, d, `{"id": "a"}`)
	mustFile(t, d, `{"id": "b"}`)

	feed := NewFeed(d)
	src, err := feed.Open(context.Background(), "1")
	if err != nil {
		t.Fatalf("opening feed: %v", err)
	}
	got := drain(t, src)
	if len(got) != 1 {
		t.Fatalf("expected to skip the first file, got %d candidates", len(got))
	}

	// past-the-end positions are clamped
	src, err = feed.Open(context.Background(), "9")
	if err != nil {
		t.Fatalf("opening feed: %v", err)
	}
	if got := drain(t, src); len(got) != 0 {
		t.Fatalf("expected nothing past the end, got %d", len(got))
	}
}

func TestSourceCloseAfterDecodeError(t *testing.T) {
	d := mustTempDir(t, "testfileclose")
	defer os.RemoveAll(d)

	mustFile(t, d, `{"id": "a"}
not json`)

	feed := NewFeed(d)
	src, err := feed.Open(context.Background(), "")
	if err != nil {
		t.Fatalf("opening feed: %v", err)
	}
	fsrc := src.(*Source)
	if _, err := fsrc.Record(); err != nil {
		t.Fatalf("reading first object: %v", err)
	}
	if _, err := fsrc.Record(); err == nil {
		t.Fatal("expected a decode error")
	}
	if fsrc.cur == nil {
		t.Fatal("expected an open file handle after the mid-file error")
	}
	if err := fsrc.Close(); err != nil {
		t.Fatalf("closing: %v", err)
	}
	if fsrc.cur != nil {
		t.Fatal("close must release the file handle")
	}
	if err := fsrc.Close(); err != nil {
		t.Fatalf("closing an already-closed source: %v", err)
	}
}

func TestFeedTimeField(t *testing.T) {
	d := mustTempDir(t, "testfiletime")
	defer os.RemoveAll(d)

	mustFile(t, d, `{"id": "a", "seen": "2024-03-01T10:00:00Z"}`)

	feed := NewFeed(d, OptFeedTimeField("seen"))
	src, err := feed.Open(context.Background(), "")
	if err != nil {
		t.Fatalf("opening feed: %v", err)
	}
	got := drain(t, src)
	if len(got) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(got))
	}
	want := time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)
	if !got[0].ObservedAt.Equal(want) {
		t.Fatalf("expected observation time from payload, got %v", got[0].ObservedAt)
	}
}
