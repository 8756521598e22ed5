package history

import (
	"context"
	"sync"
)

// Reader is the read-only view of a Store handed to presentation code.
type Reader interface {
	All() []Entry
	Len() int
}

// Fetcher loads the prior history of a conversation in display order.
type Fetcher interface {
	FetchHistory(ctx context.Context, conversationID string) ([]Entry, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, conversationID string) ([]Entry, error)

func (f FetcherFunc) FetchHistory(ctx context.Context, conversationID string) ([]Entry, error) {
	return f(ctx, conversationID)
}

// Store is an append-only sequence of entries. Append order, display order and
// chronological order are the same thing; existing entries are never mutated.
type Store struct {
	mu      sync.RWMutex
	entries []Entry
}

var _ Reader = &Store{}

func NewStore() *Store {
	return &Store{}
}

// NewSeededStore creates a store whose first entries are seed, reindexed from 0.
func NewSeededStore(seed []Entry) *Store {
	s := &Store{entries: make([]Entry, 0, len(seed))}
	for _, e := range seed {
		s.appendLocked(e)
	}
	return s
}

// Append stores a copy of e with Index set to the current length and returns it.
func (s *Store) Append(e Entry) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(e)
}

func (s *Store) appendLocked(e Entry) Entry {
	e = e.Clone()
	e.Index = len(s.entries)
	s.entries = append(s.entries, e)
	return e.Clone()
}

// All returns a copy of the entries in append order.
func (s *Store) All() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Clone()
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Last returns the most recent entry.
func (s *Store) Last() (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return Entry{}, false
	}
	return s.entries[len(s.entries)-1].Clone(), true
}
