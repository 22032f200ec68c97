// Package eventlog is the process-wide publish/subscribe channel components
// use to report progress and terminal outcomes to observers.
package eventlog

import (
	"sync"
	"time"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
)

type Entry struct {
	Message  string    `json:"message"`
	Severity Severity  `json:"severity"`
	At       time.Time `json:"at"`
}

// subscriber buffers beyond the backlog; entries published while the buffer
// is full are dropped for that subscriber only.
const subscriberBuffer = 64

// Log broadcasts entries to subscribers. Late subscribers receive the full
// backlog once, then only new entries. The log has an explicit lifecycle: it
// is created at session start and closed at session end.
type Log struct {
	mu      sync.Mutex
	backlog []Entry
	subs    map[int]chan Entry
	nextID  int
	closed  bool
}

func New() *Log {
	return &Log{subs: make(map[int]chan Entry)}
}

func (l *Log) Info(message string)    { l.Publish(Entry{Message: message, Severity: SeverityInfo}) }
func (l *Log) Success(message string) { l.Publish(Entry{Message: message, Severity: SeveritySuccess}) }
func (l *Log) Error(message string)   { l.Publish(Entry{Message: message, Severity: SeverityError}) }

// Publish appends the entry to the backlog and fans it out. It never blocks
// the caller.
func (l *Log) Publish(entry Entry) {
	if entry.At.IsZero() {
		entry.At = time.Now()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.backlog = append(l.backlog, entry)
	for _, ch := range l.subs {
		select {
		case ch <- entry:
		default:
		}
	}
}

// Subscribe returns a channel carrying the backlog followed by new entries,
// and a cancel function that detaches the subscriber and closes the channel.
func (l *Log) Subscribe() (<-chan Entry, func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch := make(chan Entry, len(l.backlog)+subscriberBuffer)
	for _, entry := range l.backlog {
		ch <- entry
	}
	if l.closed {
		close(ch)
		return ch, func() {}
	}

	id := l.nextID
	l.nextID++
	l.subs[id] = ch

	cancel := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if sub, ok := l.subs[id]; ok {
			delete(l.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Snapshot returns a copy of the backlog.
func (l *Log) Snapshot() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := make([]Entry, len(l.backlog))
	copy(entries, l.backlog)
	return entries
}

// Close detaches and closes all subscriber channels. Publishing after Close
// is a no-op.
func (l *Log) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	for id, ch := range l.subs {
		delete(l.subs, id)
		close(ch)
	}
}
