// Package session persists the authenticated browser snapshot produced by
// an interactive login so headless runs can start pre-authenticated.
//
// The snapshot is written once per bootstrap and only read afterwards. It
// is never merged: a fresh login replaces it wholesale.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// ErrAbsent is returned by Load when no snapshot exists yet.
var ErrAbsent = errors.New("session: no saved session")

// Cookie mirrors the fields a browser needs to restore a cookie.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"` // seconds since epoch, 0 = session cookie
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

// Item is one localStorage entry.
type Item struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Origin groups the localStorage entries of one origin.
type Origin struct {
	Origin       string `json:"origin"`
	LocalStorage []Item `json:"localStorage"`
}

// State is the authentication snapshot.
type State struct {
	Cookies   []Cookie  `json:"cookies"`
	Origins   []Origin  `json:"origins"`
	CreatedAt time.Time `json:"created_at"`
}

// Store reads and writes the snapshot file.
type Store struct {
	path string
}

// NewStore returns a Store backed by path.
func NewStore(path string) *Store { return &Store{path: path} }

// Path returns the snapshot file path.
func (s *Store) Path() string { return s.path }

// IsPresent reports whether a snapshot file exists.
func (s *Store) IsPresent() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Load reads the snapshot. Its content is not validated against the
// remote site: an expired session surfaces later as per-target failures.
func (s *Store) Load() (*State, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrAbsent
	}
	if err != nil {
		return nil, fmt.Errorf("session: read %s: %w", s.path, err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("session: parse %s: %w", s.path, err)
	}
	return &st, nil
}

// Save writes the snapshot atomically with owner-only permissions.
func (s *Store) Save(st *State) error {
	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now().UTC()
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("session: marshal: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("session: mkdir %s: %w", dir, err)
	}
	// CreateTemp opens the file 0600; the snapshot holds credentials.
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("session: create tmp: %w", err)
	}
	tmpName := tmp.Name()
	fail := func(step string, err error) error {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("session: %s: %w", step, err)
	}
	if _, err := tmp.Write(data); err != nil {
		return fail("write tmp", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("sync tmp", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("session: close tmp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("session: rename: %w", err)
	}
	if d, err := os.Open(dir); err == nil {
		d.Sync()
		d.Close()
	}
	return nil
}

// Remove deletes the snapshot so the next run bootstraps again.
func (s *Store) Remove() error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("session: remove: %w", err)
	}
	return nil
}

// StorageFor returns the localStorage entries saved for origin.
func (st *State) StorageFor(origin string) []Item {
	for _, o := range st.Origins {
		if o.Origin == origin {
			return o.LocalStorage
		}
	}
	return nil
}
