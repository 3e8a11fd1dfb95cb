package session

import (
	"errors"
	"os"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
)

func TestLoad_Absent(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "session.json"))
	if s.IsPresent() {
		t.Fatal("should not be present")
	}
	if _, err := s.Load(); !errors.Is(err, ErrAbsent) {
		t.Fatalf("got %v, want ErrAbsent", err)
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth", "session.json")
	s := NewStore(path)
	st := &State{
		Cookies: []Cookie{{Name: "sid", Value: "abc", Domain: ".example.com", Path: "/", HTTPOnly: true, Secure: true}},
		Origins: []Origin{{Origin: "https://www.example.com", LocalStorage: []Item{{Name: "token", Value: "t1"}}}},
	}
	if err := s.Save(st); err != nil {
		t.Fatal(err)
	}
	if !s.IsPresent() {
		t.Fatal("should be present after save")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		t.Errorf("session file readable by others: %v", perm)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Cookies) != 1 || got.Cookies[0].Value != "abc" || !got.Cookies[0].HTTPOnly {
		t.Fatalf("cookies: %+v", got.Cookies)
	}
	if items := got.StorageFor("https://www.example.com"); len(items) != 1 || items[0].Value != "t1" {
		t.Fatalf("storage: %+v", items)
	}
	if got.CreatedAt.IsZero() {
		t.Fatal("created_at not stamped")
	}
	if _, err := os.Stat(path + ".tmp"); err == nil {
		t.Fatal("tmp file left behind")
	}
}

func TestSave_ConcurrentReplace(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, "session.json"))

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Save(&State{Cookies: []Cookie{{Name: "sid", Value: fmt.Sprint(i)}}})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.Load()
	if err != nil || len(got.Cookies) != 1 {
		t.Fatalf("snapshot damaged: %v %+v", err, got)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "session.json" {
		t.Fatalf("leftover files: %v", entries)
	}
	info, _ := entries[0].Info()
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("mode %v, want 0600", perm)
	}
}

func TestLoad_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	os.WriteFile(path, []byte("not json"), 0o600)
	_, err := NewStore(path).Load()
	if err == nil || errors.Is(err, ErrAbsent) {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	s := NewStore(path)
	s.Save(&State{})
	if err := s.Remove(); err != nil {
		t.Fatal(err)
	}
	if s.IsPresent() {
		t.Fatal("still present")
	}
	if err := s.Remove(); err != nil {
		t.Fatalf("removing twice should be fine: %v", err)
	}
}
