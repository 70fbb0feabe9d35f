// Package eventlog models the page's append-only analytics event queue
// (the "dataLayer") with explicit observer registration.
package eventlog

import "sync"

// Entry is one pushed event record.
type Entry map[string]any

// Event returns the entry's "event" field when it is a string.
func (e Entry) Event() string {
	if e == nil {
		return ""
	}
	name, _ := e["event"].(string)
	return name
}

// Observer is notified with the entries of every push, after they are appended.
type Observer func(entries []Entry)

// Log is safe for concurrent use.
type Log struct {
	mu        sync.RWMutex
	entries   []Entry
	observers map[string]Observer
	order     []string
}

func New(initial ...Entry) *Log {
	l := &Log{observers: map[string]Observer{}}
	l.entries = append(l.entries, initial...)
	return l
}

// Push appends entries and returns the new length. Observers run after the append,
// outside the lock, so an observer may read or push again.
func (l *Log) Push(entries ...Entry) int {
	l.mu.Lock()
	l.entries = append(l.entries, entries...)
	n := len(l.entries)
	observers := make([]Observer, 0, len(l.order))
	for _, name := range l.order {
		observers = append(observers, l.observers[name])
	}
	l.mu.Unlock()

	if len(entries) == 0 {
		return n
	}
	pushed := append([]Entry(nil), entries...)
	for _, fn := range observers {
		fn(pushed)
	}
	return n
}

// Entries returns a snapshot, oldest first.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Entry(nil), l.entries...)
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Subscribe registers fn under name. Registering a name twice is a no-op and
// returns false.
func (l *Log) Subscribe(name string, fn Observer) bool {
	if fn == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.observers[name]; exists {
		return false
	}
	l.observers[name] = fn
	l.order = append(l.order, name)
	return true
}

func (l *Log) Unsubscribe(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.observers[name]; !exists {
		return
	}
	delete(l.observers, name)
	kept := l.order[:0]
	for _, n := range l.order {
		if n != name {
			kept = append(kept, n)
		}
	}
	l.order = kept
}
