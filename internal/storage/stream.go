package storage

import (
	"context"
	"sync"
)

// Stream is a cancellable push stream of snapshots
type Stream[T any] struct {
	C      <-chan T
	cancel context.CancelFunc
}

// Stop ends the stream; C is closed shortly after
func (s *Stream[T]) Stop() {
	s.cancel()
}

func newStream[T any](ctx context.Context) (*Stream[T], context.Context, chan T) {
	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan T)
	return &Stream[T]{C: ch, cancel: cancel}, ctx, ch
}

// deliver sends v unless ctx ends first
func deliver[T any](ctx context.Context, ch chan<- T, v T) bool {
	select {
	case ch <- v:
		return true
	case <-ctx.Done():
		return false
	}
}

// broker signals watchers when documents on their topics change. Watchers
// re-read the state themselves, so bursts of changes coalesce into one load.
type broker struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

func newBroker() *broker {
	return &broker{subs: make(map[string]map[chan struct{}]struct{})}
}

func (b *broker) subscribe(topic string) (chan struct{}, func()) {
	kick := make(chan struct{}, 1)
	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[chan struct{}]struct{})
	}
	b.subs[topic][kick] = struct{}{}
	b.mu.Unlock()

	return kick, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[topic], kick)
		if len(b.subs[topic]) == 0 {
			delete(b.subs, topic)
		}
	}
}

func (b *broker) publish(topics ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, topic := range topics {
		for kick := range b.subs[topic] {
			select {
			case kick <- struct{}{}:
			default:
			}
		}
	}
}

// publishAll kicks every watcher
func (b *broker) publishAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, kicks := range b.subs {
		for kick := range kicks {
			select {
			case kick <- struct{}{}:
			default:
			}
		}
	}
}

func listTopic(id string) string { return "listas/" + id }

func ownerTopic(uid string) string { return "owner/" + uid }

func inviteTopic(uid string) string { return "convites_usuario/" + uid }

// watch runs load once immediately and again after every kick on topic
func watch[T any](ctx context.Context, b *broker, topic string, load func(context.Context) T) *Stream[T] {
	stream, ctx, ch := newStream[T](ctx)
	kick, unsubscribe := b.subscribe(topic)

	go func() {
		defer close(ch)
		defer unsubscribe()
		for {
			if !deliver(ctx, ch, load(ctx)) {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-kick:
			}
		}
	}()
	return stream
}
