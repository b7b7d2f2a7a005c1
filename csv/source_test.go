package csv

import (
	"context"
	"io"
	"io/ioutil"
	"os"
	"strings"
	"testing"

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

func TestFeedReadsRows(t *testing.T) {
	d := mustTempDir(t, "testcsvfeed")
	defer os.RemoveAll(d)

	mustFile(t, d, strings.TrimSpace(`
id,name,city
1,alpha,austin
2,beta,

3,gamma,boston
`)+"\n")

	feed := NewFeed(d, OptFeedName("rows"))
	src, err := feed.Open(context.Background(), "")
	if err != nil {
		t.Fatalf("opening feed: %v", err)
	}
	var got []*feedkit.Candidate
	for {
		c, err := src.Record()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("reading record: %v", err)
		}
		got = append(got, c)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 candidates (blank lines skipped), got %d", len(got))
	}
	if got[0].Payload["id"] != "1" || got[0].Payload["city"] != "austin" {
		t.Fatalf("unexpected first row: %v", got[0].Payload)
	}
	if _, ok := got[1].Payload["city"]; ok {
		t.Fatalf("empty cells should be omitted, got %v", got[1].Payload)
	}
	if got[2].Source != "rows" {
		t.Fatalf("unexpected source: %q", got[2].Source)
	}

	pos := src.(feedkit.Positioned)
	if pos.Position() != "1" {
		t.Fatalf("expected position 1, got %q", pos.Position())
	}
}

func TestFeedBadHeader(t *testing.T) {
	d := mustTempDir(t, "testcsvbadheader")
	defer os.RemoveAll(d)

	mustFile(t, d, "id,id\n1,2\n")

	feed := NewFeed(d)
	src, err := feed.Open(context.Background(), "")
	if err != nil {
		t.Fatalf("opening feed: %v", err)
	}
	if _, err := src.Record(); err == nil {
		t.Fatal("expected an error for a duplicate header field")
	}
}

func TestFeedShortRow(t *testing.T) {
	d := mustTempDir(t, "testcsvshort")
	defer os.RemoveAll(d)

	mustFile(t, d, "id,name\n1\n")

	feed := NewFeed(d)
	src, err := feed.Open(context.Background(), "")
	if err != nil {
		t.Fatalf("opening feed: %v", err)
	}
	if _, err := src.Record(); err == nil {
		t.Fatal("expected an error for a short row")
	}
}

func TestSourceCloseAfterParseError(t *testing.T) {
	d := mustTempDir(t, "testcsvclose")
	defer os.RemoveAll(d)

	mustFile(t, d, "id,name\n1\n")

	feed := NewFeed(d)
	src, err := feed.Open(context.Background(), "")
	if err != nil {
		t.Fatalf("opening feed: %v", err)
	}
	csrc := src.(*Source)
	if _, err := csrc.Record(); err == nil {
		t.Fatal("expected an error for a short row")
	}
	if csrc.cur == nil {
		t.Fatal("expected an open file handle after the mid-file error")
	}
	if err := csrc.Close(); err != nil {
		t.Fatalf("closing: %v", err)
	}
	if csrc.cur != nil {
		t.Fatal("close must release the file handle")
	}
	if err := csrc.Close(); err != nil {
		t.Fatalf("closing an already-closed source: %v", err)
	}
}
