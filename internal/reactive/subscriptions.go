package reactive

import (
	"context"
	"sync"
)

// Subscriptions owns the cancel funcs of an engine's live subscriptions,
// keyed by name. Each engine instance has its own manager.
type Subscriptions struct {
	mu      sync.Mutex
	handles map[string]context.CancelFunc
	resets  int
}

// NewSubscriptions creates an empty manager
func NewSubscriptions() *Subscriptions {
	return &Subscriptions{handles: make(map[string]context.CancelFunc)}
}

// Replace cancels the subscription stored under name, if any, then stores cancel
func (s *Subscriptions) Replace(name string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.handles[name]; ok {
		old()
	}
	s.handles[name] = cancel
}

// Cancel stops the subscription stored under name
func (s *Subscriptions) Cancel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.handles[name]; ok {
		cancel()
		delete(s.handles, name)
	}
}

// Has reports whether a subscription is stored under name
func (s *Subscriptions) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.handles[name]
	return ok
}

// Len returns the number of live subscriptions
func (s *Subscriptions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

// ResetSubscriptions cancels every subscription and empties the manager
func (s *Subscriptions) ResetSubscriptions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, cancel := range s.handles {
		cancel()
		delete(s.handles, name)
	}
	s.resets++
}

// Resets returns how many times ResetSubscriptions ran
func (s *Subscriptions) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}
