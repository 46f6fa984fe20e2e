package testutil

import (
	"github.com/vk/gridcalc/internal/value"
	"github.com/zclconf/go-cty/cty"
)

// Store is a writable stream: subscribers receive the current value on
// subscription and every Set after it.
type Store struct {
	v      cty.Value
	subs   map[int]func(cty.Value)
	nextID int
}

// NewStore creates a store holding v.
func NewStore(v cty.Value) *Store {
	return &Store{v: v, subs: make(map[int]func(cty.Value))}
}

// Subscribe implements value.Subscribable.
func (s *Store) Subscribe(cb func(cty.Value)) func() {
	id := s.nextID
	s.nextID++
	s.subs[id] = cb
	cb(s.v)
	return func() { delete(s.subs, id) }
}

// Get implements value.Getter.
func (s *Store) Get() cty.Value { return s.v }

// Set stores v and notifies subscribers in subscription order.
func (s *Store) Set(v cty.Value) {
	s.v = v
	for id := 0; id < s.nextID; id++ {
		if cb, ok := s.subs[id]; ok {
			cb(v)
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (s *Store) Subscribers() int { return len(s.subs) }

// Value returns the store as a stream value.
func (s *Store) Value() cty.Value { return value.StreamVal(s) }
