package notify

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Level is the severity of a notification
type Level string

const (
	LevelSuccess Level = "success"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

var defaultTitles = map[Level]string{
	LevelSuccess: "Success",
	LevelInfo:    "Info",
	LevelWarning: "Warning",
	LevelError:   "Error",
}

// Notification is a user-facing event produced by the engines
type Notification struct {
	ID         string    `json:"id"`
	Level      Level     `json:"level"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	Persistent bool      `json:"persistent"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Notifier receives notifications
type Notifier interface {
	Notify(n Notification)
}

// Option adjusts a notification before it is sent
type Option func(*Notification)

// WithTitle overrides the level's default title
func WithTitle(title string) Option {
	return func(n *Notification) { n.Title = title }
}

// Persistent marks the notification as one the UI keeps until dismissed
func Persistent(persistent bool) Option {
	return func(n *Notification) { n.Persistent = persistent }
}

// Success sends a success notification
func Success(to Notifier, message string, opts ...Option) {
	send(to, LevelSuccess, message, opts)
}

// Info sends an informational notification
func Info(to Notifier, message string, opts ...Option) {
	send(to, LevelInfo, message, opts)
}

// Warning sends a warning notification
func Warning(to Notifier, message string, opts ...Option) {
	send(to, LevelWarning, message, opts)
}

// Error sends an error notification. Errors are persistent unless told otherwise.
func Error(to Notifier, message string, opts ...Option) {
	send(to, LevelError, message, append([]Option{Persistent(true)}, opts...))
}

func send(to Notifier, level Level, message string, opts []Option) {
	if to == nil {
		return
	}
	n := Notification{
		ID:        ulid.Make().String(),
		Level:     level,
		Title:     defaultTitles[level],
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&n)
	}
	to.Notify(n)
}

// Discard drops every notification
var Discard Notifier = discard{}

type discard struct{}

func (discard) Notify(Notification) {}

// Recorder keeps every notification it receives. Used by tests.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
}

// Notify implements Notifier
func (r *Recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
}

// All returns a copy of the recorded notifications
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.items...)
}

// Last returns the most recent notification
func (r *Recorder) Last() (Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.items) == 0 {
		return Notification{}, false
	}
	return r.items[len(r.items)-1], true
}

// Count returns how many notifications of level were recorded
func (r *Recorder) Count(level Level) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, item := range r.items {
		if item.Level == level {
			n++
		}
	}
	return n
}

// Reset forgets everything recorded so far
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = nil
}
