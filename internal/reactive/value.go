// Package reactive holds the small push primitives the engines publish
// their projections through.
package reactive

import "sync"

// Value is a thread-safe holder that pushes every new value to its
// subscribers. A subscriber always receives the current value first and
// afterwards only ever sees the latest value; intermediate values it was too
// slow to read are dropped.
type Value[T any] struct {
	mu     sync.Mutex
	value  T
	nextID int
	subs   map[int]chan T
}

// NewValue creates a Value holding initial
func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{value: initial, subs: make(map[int]chan T)}
}

// Get returns the current value
func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.value
}

// Set stores x and pushes it to every subscriber
func (v *Value[T]) Set(x T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.value = x
	for _, ch := range v.subs {
		offer(ch, x)
	}
}

// Subscribe returns a channel of values and a cancel func. The channel is
// closed by cancel.
func (v *Value[T]) Subscribe() (<-chan T, func()) {
	v.mu.Lock()
	defer v.mu.Unlock()

	id := v.nextID
	v.nextID++
	ch := make(chan T, 1)
	ch <- v.value
	v.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			v.mu.Lock()
			defer v.mu.Unlock()
			delete(v.subs, id)
			close(ch)
		})
	}
}

// Subscribers returns the number of live subscriptions
func (v *Value[T]) Subscribers() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.subs)
}

// offer replaces whatever is buffered in ch with x. Callers hold the lock,
// so no other writer races the drain.
func offer[T any](ch chan T, x T) {
	select {
	case <-ch:
	default:
	}
	ch <- x
}
