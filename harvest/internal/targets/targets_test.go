package targets

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestParse_JSONList(t *testing.T) {
	doc := `[
		{"url": "https://Example.com/v/1#t=3", "title": "One", "duration": 95, "uploaded_at": "2024-02-01T10:00:00Z"},
		{"link": "https://example.com/v/2", "name": "Two", "duration": "01:02:03"},
		{"title": "no url"},
		{"url": "ftp://example.com/v/3"},
		{"url": "not a url"},
		{"url": "https://example.com/v/1"},
		"https://example.com/v/4"
	]`
	ts, skipped, err := Parse([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	if len(ts) != 3 {
		t.Fatalf("got %d targets: %+v", len(ts), ts)
	}
	if skipped != 4 {
		t.Fatalf("skipped %d, want 4", skipped)
	}

	one := ts[0]
	if one.ID != "https://example.com/v/1" || one.URL != "https://Example.com/v/1#t=3" {
		t.Fatalf("identity: %+v", one)
	}
	if one.Title != "One" || one.Duration != 95 || one.UploadedAt != "2024-02-01T10:00:00Z" {
		t.Fatalf("fields: %+v", one)
	}
	if ts[1].Duration != 3723 || ts[1].Title != "Two" {
		t.Fatalf("second: %+v", ts[1])
	}
	if ts[2].URL != "https://example.com/v/4" {
		t.Fatalf("bare string entry: %+v", ts[2])
	}
}

func TestParse_YAMLNested(t *testing.T) {
	doc := `
source: catalogue
videos:
  - page_url: https://example.com/watch?v=abc
    title: With query
    length_seconds: 61.6
    published: 1706780000
  - href: https://example.com/watch?v=def
    duration: "2:05"
`
	ts, skipped, err := Parse([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	if len(ts) != 2 || skipped != 0 {
		t.Fatalf("got %d targets, %d skipped", len(ts), skipped)
	}
	if ts[0].ID != "https://example.com/watch?v=abc" {
		t.Fatalf("query must be part of identity: %s", ts[0].ID)
	}
	if ts[0].Duration != 62 || ts[0].UploadedAt != "1706780000" {
		t.Fatalf("fields: %+v", ts[0])
	}
	if ts[1].Duration != 125 {
		t.Fatalf("duration: %d", ts[1].Duration)
	}
}

func TestParse_Errors(t *testing.T) {
	if _, _, err := Parse([]byte(`{"foo": 1}`)); err == nil {
		t.Fatal("object without list should fail")
	}
	if _, _, err := Parse([]byte(`{"targets": [`)); err == nil {
		t.Fatal("broken document should fail")
	}
	ts, _, err := Parse([]byte(""))
	if err != nil || len(ts) != 0 {
		t.Fatalf("empty document: %v %v", ts, err)
	}
}

func TestClock(t *testing.T) {
	cases := map[string]int{
		"":         0,
		"45":       45,
		"1:30":     90,
		"01:02:03": 3723,
		"1:2:3:4":  0,
		"ab:10":    0,
		"-5":       0,
	}
	for in, want := range cases {
		if got := clock(in); got != want {
			t.Errorf("clock(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "targets.json")
	os.WriteFile(path, []byte(`{"items":[{"url":"https://example.com/a"}]}`), 0o644)

	ts, skipped, err := New().Load(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if len(ts) != 1 || skipped != 0 {
		t.Fatalf("got %+v, skipped %d", ts, skipped)
	}

	if _, _, err := New().Load(context.Background(), filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("missing file should fail")
	}
}

func TestLoad_HTTPRetries5xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`[{"url":"https://example.com/a"},{"url":"https://example.com/b"}]`))
	}))
	defer srv.Close()

	l := New(WithRetries(2, time.Millisecond))
	ts, _, err := l.Load(context.Background(), srv.URL+"/targets.json")
	if err != nil {
		t.Fatal(err)
	}
	if len(ts) != 2 || calls.Load() != 2 {
		t.Fatalf("targets %d, calls %d", len(ts), calls.Load())
	}
}

func TestLoad_HTTPNotFoundIsFinal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, _, err := New(WithRetries(3, time.Millisecond)).Load(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("404 retried: %d calls", calls.Load())
	}
}
