package feedkit

import (
	"testing"
	"time"
)

func TestPathNested(t *testing.T) {
	c := &Candidate{Payload: map[string]interface{}{
		"meta": map[string]interface{}{"id": "ABC-1"},
		"num":  float64(42),
	}}
	got, err := Path("meta", "id")("", c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ABC-1" {
		t.Fatalf("got %q", got)
	}
	got, err = Path("num")("", c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "42" {
		t.Fatalf("json integers should format without a fraction, got %q", got)
	}
}

func TestPathMissingField(t *testing.T) {
	c := &Candidate{Payload: map[string]interface{}{"a": "x"}}
	_, err := Path("b")("", c)
	if !IsDerivation(err) {
		t.Fatalf("expected a derivation error, got %v", err)
	}
	_, err = Path("a", "deeper")("", c)
	if !IsDerivation(err) {
		t.Fatalf("expected a derivation error for non-object, got %v", err)
	}
}

func TestKeyChain(t *testing.T) {
	c := &Candidate{Payload: map[string]interface{}{
		"name": "  Widget ",
		"sku":  "A9",
	}}
	kc := KeyChain{
		Concat("|", Path("name")),
		Concat("|", Path("sku")),
		Normalize(),
	}
	got, err := kc.Key(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "widget |a9" {
		t.Fatalf("got %q", got)
	}
}

func TestKeyChainDeterministic(t *testing.T) {
	c := &Candidate{Payload: map[string]interface{}{"id": "X"}}
	kc := FieldKeyer("id")
	a, err := kc.Key(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := kc.Key(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a != b {
		t.Fatalf("same input produced different keys: %q vs %q", a, b)
	}
}

func TestKeyChainEmptyResult(t *testing.T) {
	c := &Candidate{Payload: map[string]interface{}{"id": "   "}}
	_, err := KeyChain{Path("id"), Normalize()}.Key(c)
	if !IsDerivation(err) {
		t.Fatalf("expected a derivation error for an empty key, got %v", err)
	}
}

func TestDailyKey(t *testing.T) {
	c := &Candidate{
		ObservedAt: time.Date(2024, time.June, 3, 14, 30, 0, 0, time.UTC),
		Payload:    map[string]interface{}{"title": "Daily Digest"},
	}
	got, err := DailyKey("title").Key(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "daily digest|2024-06-03" {
		t.Fatalf("got %q", got)
	}

	c.ObservedAt = time.Time{}
	if _, err := DailyKey("title").Key(c); !IsDerivation(err) {
		t.Fatalf("expected a derivation error without an observation time, got %v", err)
	}
}

func TestFieldKeyerDotPath(t *testing.T) {
	c := &Candidate{Payload: map[string]interface{}{
		"meta": map[string]interface{}{"region": "EU"},
		"id":   "7",
	}}
	got, err := FieldKeyer("id", "meta.region").Key(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "7|eu" {
		t.Fatalf("got %q", got)
	}
}
