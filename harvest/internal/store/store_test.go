package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/harvester/harvest/manifest"
)

func result(id string, kind manifest.Kind) *manifest.Result {
	r := manifest.NewResult(manifest.Target{ID: id, URL: id, Title: "t " + id}, time.Now())
	if kind != "" {
		r.Status = manifest.StatusFound
		r.Kind = kind
		r.Manifest = "https://cdn.example.com/" + string(kind)
		r.Streams = map[manifest.Kind]string{kind: r.Manifest}
	}
	return r
}

func readState(t *testing.T, path string) State {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read state: %v", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		t.Fatalf("state does not parse: %v\n%s", err, data)
	}
	return st
}

func TestOpen_MissingFileStartsEmpty(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatal(err)
	}
	if s.Contains("x") {
		t.Fatal("empty store should contain nothing")
	}
}

func TestOpen_CorruptFileIsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	os.WriteFile(path, []byte(`{"results": {`), 0o644)
	if _, err := Open(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestUpsert_PersistsImmediately(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	added, err := s.Upsert(result("https://example.com/1", manifest.KindHLS))
	if err != nil || !added {
		t.Fatalf("upsert: added=%v err=%v", added, err)
	}

	st := readState(t, path)
	if st.Count != 1 || len(st.Results) != 1 {
		t.Fatalf("persisted state: %+v", st)
	}
	if st.UpdatedAt.IsZero() {
		t.Fatal("updated_at not set")
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reopened.Contains("https://example.com/1") {
		t.Fatal("reopened store lost the result")
	}
}

func TestUpsert_ExistingIsImmutable(t *testing.T) {
	s, _ := Open(filepath.Join(t.TempDir(), "state.json"))
	first := result("id", manifest.KindHLS)
	s.Upsert(first)

	added, err := s.Upsert(result("id", manifest.KindDASH))
	if err != nil {
		t.Fatal(err)
	}
	if added {
		t.Fatal("second upsert for the same id must be a no-op")
	}
	if got := s.Snapshot().Results["id"]; got.Kind != manifest.KindHLS {
		t.Fatalf("result was mutated: %+v", got)
	}
}

func TestFailure_RetriedThenCleared(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, _ := Open(path)
	tgt := manifest.Target{ID: "p1", URL: "p1"}

	if err := s.RecordFailure(tgt, errors.New("page crashed")); err != nil {
		t.Fatal(err)
	}
	s.RecordFailure(tgt, errors.New("page crashed again"))

	if s.Contains("p1") {
		t.Fatal("failed target must stay pending")
	}
	if got := s.Pending([]manifest.Target{tgt}); len(got) != 1 {
		t.Fatalf("pending: %v", got)
	}
	st := readState(t, path)
	if f := st.Failures["p1"]; f == nil || f.Attempts != 2 || f.Error != "page crashed again" {
		t.Fatalf("failure: %+v", st.Failures["p1"])
	}

	s.Upsert(result("p1", ""))
	st = readState(t, path)
	if len(st.Failures) != 0 {
		t.Fatalf("failure should be cleared by a result: %+v", st.Failures)
	}
	if err := s.RecordFailure(tgt, errors.New("late")); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Snapshot().Failures["p1"]; ok {
		t.Fatal("failure must not be recorded over a result")
	}
}

func TestPending_PreservesOrder(t *testing.T) {
	s, _ := Open(filepath.Join(t.TempDir(), "state.json"))
	s.Upsert(result("b", ""))
	targets := []manifest.Target{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	got := s.Pending(targets)
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Fatalf("pending: %v", got)
	}
}

func TestWriteCrash_LeavesPreviousStateValid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	s, _ := Open(path)
	if _, err := s.Upsert(result("one", manifest.KindHLS)); err != nil {
		t.Fatal(err)
	}
	before, _ := os.ReadFile(path)

	// Simulate a process dying halfway through writing the temp file.
	s.write = func(p string, data []byte) error {
		tmp := p + ".crash.tmp"
		os.WriteFile(tmp, data[:len(data)/2], 0o644)
		return errors.New("killed")
	}
	if _, err := s.Upsert(result("two", manifest.KindDASH)); err == nil {
		t.Fatal("expected persistence error")
	}

	after, _ := os.ReadFile(path)
	if string(before) != string(after) {
		t.Fatal("state file changed despite failed write")
	}
	st := readState(t, path)
	if len(st.Results) != 1 || st.Results["one"] == nil {
		t.Fatalf("previous state lost: %+v", st)
	}

	// Persistence errors are sticky: no further results are accepted.
	if _, err := s.Upsert(result("three", "")); err == nil {
		t.Fatal("expected sticky persistence error")
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen after crash: %v", err)
	}
	if !reopened.Contains("one") || reopened.Contains("two") {
		t.Fatal("reopened state should hold exactly the last successful write")
	}
}

func TestWriteAtomic_NoTempLeftovers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	s, _ := Open(path)
	for i := 0; i < 5; i++ {
		s.Upsert(result(fmt.Sprintf("id-%d", i), manifest.KindHLS))
	}
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("tmp file left behind: %s", e.Name())
		}
	}
}

func TestUpsert_ConcurrentWorkers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, _ := Open(path)

	const n = 40
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Upsert(result(fmt.Sprintf("id-%02d", i), manifest.KindHLS))
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Errorf("upsert %d: %v", i, err)
		}
	}
	if st := readState(t, path); st.Count != n {
		t.Fatalf("count: got %d, want %d", st.Count, n)
	}
}

func TestFlushInterval_BatchesAndCloseFlushes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := Open(path, WithFlushInterval(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	s.Upsert(result("a", manifest.KindHLS))
	if _, err := os.Stat(path); err == nil {
		t.Fatal("batched store should not write before the interval")
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if st := readState(t, path); st.Count != 1 {
		t.Fatalf("close did not flush: %+v", st)
	}
}

func TestWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "summary.json")
	if err := WriteJSON(path, map[string]int{"found": 2}); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), `"found": 2`) {
		t.Fatalf("got %s", data)
	}
}
