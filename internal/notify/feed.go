package notify

import (
	"sync"

	"github.com/sirupsen/logrus"
)

const (
	defaultHistory   = 50
	subscriberBuffer = 16
)

// Feed fans notifications out to live subscribers and keeps a bounded
// history for clients that poll.
type Feed struct {
	mu      sync.Mutex
	history []Notification
	limit   int
	nextID  int
	subs    map[int]chan Notification
	log     *logrus.Entry
}

// NewFeed creates a feed keeping the last limit notifications (50 if limit <= 0)
func NewFeed(limit int, log *logrus.Entry) *Feed {
	if limit <= 0 {
		limit = defaultHistory
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Feed{limit: limit, subs: make(map[int]chan Notification), log: log}
}

// Notify implements Notifier
func (f *Feed) Notify(n Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.history = append(f.history, n)
	if len(f.history) > f.limit {
		f.history = f.history[len(f.history)-f.limit:]
	}
	for id, ch := range f.subs {
		select {
		case ch <- n:
		default:
			f.log.WithFields(logrus.Fields{
				"subscriber":      id,
				"notification_id": n.ID,
			}).Warn("Notification subscriber is full, dropping notification")
		}
	}
}

// Recent returns up to the last limit notifications, oldest first
func (f *Feed) Recent() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Notification(nil), f.history...)
}

// Subscribe returns a channel receiving every future notification and a
// cancel func that closes it.
func (f *Feed) Subscribe() (<-chan Notification, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++
	ch := make(chan Notification, subscriberBuffer)
	f.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if _, ok := f.subs[id]; ok {
				delete(f.subs, id)
				close(ch)
			}
		})
	}
}

// Close cancels every subscriber
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
}
