// Package store is the registry of live executions, keyed by token.
//
// CONCURRENCY MODEL:
// The map itself is guarded by a RWMutex that is only held for lookups and
// inserts/deletes. Each token additionally has its own mutex. Do() runs the
// caller's function while holding that per-token mutex, so "is it still
// registered?" -> "tear it down" -> "deregister" happens as one step:
//
//	poller:  Do(tok, fn) ── lock tok ── inspect, remove, delete files ── release ── unlock
//	reaper:  Do(tok, fn) ──────────────────────── wait ─────────────────────── sees released, no-op
//
// Two different tokens never wait on each other beyond the brief map lock.
package store

import (
	"errors"
	"sync"
	"time"
)

// ErrDuplicate is returned when inserting a token that is already registered.
var ErrDuplicate = errors.New("store: token already registered")

// Record is what the registry keeps per execution. The token doubles as the
// container name, so it is also the runtime handle.
type Record struct {
	Token       string
	Interpreter string
	SetupPath   string
	CodePath    string
	StartedAt   time.Time

	stopReaper func() bool
}

// SetReaper attaches the stop function of the pending timeout timer.
// Only call it from inside Do.
func (r *Record) SetReaper(stop func() bool) {
	r.stopReaper = stop
}

// StopReaper cancels the pending timeout timer, if any. Only call it from
// inside Do or on a record returned by Drain.
func (r *Record) StopReaper() {
	if r.stopReaper != nil {
		r.stopReaper()
		r.stopReaper = nil
	}
}

type entry struct {
	mu       sync.Mutex
	rec      *Record
	released bool
}

// Store is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// New creates an empty Store.
func New() *Store {
	return &Store{entries: make(map[string]*entry)}
}

// Insert registers rec under rec.Token.
func (s *Store) Insert(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[rec.Token]; ok {
		return ErrDuplicate
	}
	s.entries[rec.Token] = &entry{rec: rec}
	return nil
}

// Do runs fn with exclusive access to the record for token. If fn returns
// true the record is deregistered before the lock is released, and no later
// Do for the same token will see it.
//
// Do reports whether the token was registered when the lock was acquired.
// fn must not call back into the Store for the same token.
func (s *Store) Do(token string, fn func(rec *Record) (release bool)) bool {
	s.mu.RLock()
	e, ok := s.entries[token]
	s.mu.RUnlock()
	if !ok {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Another actor may have released it while we waited for the lock.
	if e.released {
		return false
	}

	if fn(e.rec) {
		e.released = true
		s.mu.Lock()
		if s.entries[token] == e {
			delete(s.entries, token)
		}
		s.mu.Unlock()
	}
	return true
}

// Has reports whether token is currently registered.
func (s *Store) Has(token string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[token]
	return ok
}

// Len returns the number of registered executions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Drain deregisters every record and hands them to the caller, who now owns
// their teardown. It waits for any Do in progress on each token to finish,
// and skips records that Do released in the meantime.
func (s *Store) Drain() []*Record {
	s.mu.Lock()
	old := s.entries
	s.entries = make(map[string]*entry)
	s.mu.Unlock()

	out := make([]*Record, 0, len(old))
	for _, e := range old {
		e.mu.Lock()
		if !e.released {
			e.released = true
			out = append(out, e.rec)
		}
		e.mu.Unlock()
	}
	return out
}
