package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/feedkit/feedkit"
)

func pageServer(t *testing.T, pages map[string]page) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cursor := r.URL.Query().Get("cursor")
		p, ok := pages[cursor]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if err := json.NewEncoder(w).Encode(p); err != nil {
			t.Fatalf("encoding page: %v", err)
		}
	}))
}

func TestFeedPagination(t *testing.T) {
	srv := pageServer(t, map[string]page{
		"":   {Items: []map[string]interface{}{{"id": "a"}, {"id": "b"}}, Next: "p2"},
		"p2": {Items: []map[string]interface{}{{"id": "c"}}},
	})
	defer srv.Close()

	feed := NewFeed(srv.URL, OptFeedName("poller"))
	src, err := feed.Open(context.Background(), "")
	if err != nil {
		t.Fatalf("opening feed: %v", err)
	}

	var ids []string
	for {
		c, err := src.Record()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("reading record: %v", err)
		}
		if c.Source != "poller" {
			t.Fatalf("unexpected source: %q", c.Source)
		}
		ids = append(ids, c.Payload["id"].(string))
	}
	if len(ids) != 3 || ids[0] != "a" || ids[1] != "b" || ids[2] != "c" {
		t.Fatalf("unexpected items: %v", ids)
	}

	pos := src.(feedkit.Positioned)
	if pos.Position() != "p2" {
		t.Fatalf("expected position of the last fetched page, got %q", pos.Position())
	}
}

func TestFeedResumesAtToken(t *testing.T) {
	srv := pageServer(t, map[string]page{
		"p2": {Items: []map[string]interface{}{{"id": "c"}}},
	})
	defer srv.Close()

	feed := NewFeed(srv.URL)
	src, err := feed.Open(context.Background(), "p2")
	if err != nil {
		t.Fatalf("opening feed: %v", err)
	}
	c, err := src.Record()
	if err != nil {
		t.Fatalf("reading record: %v", err)
	}
	if c.Payload["id"] != "c" {
		t.Fatalf("unexpected item: %v", c.Payload)
	}
	if _, err := src.Record(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestFeedBadStatus(t *testing.T) {
	srv := pageServer(t, map[string]page{})
	defer srv.Close()

	feed := NewFeed(srv.URL)
	src, err := feed.Open(context.Background(), "")
	if err != nil {
		t.Fatalf("opening feed: %v", err)
	}
	if _, err := src.Record(); err == nil {
		t.Fatal("expected an error for a non-200 response")
	}
}
