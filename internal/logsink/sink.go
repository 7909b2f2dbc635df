// Package logsink holds the append-only, timestamped event log each scenario
// renders for its viewer.
package logsink

import (
	"sync"
	"time"

	"github.com/signalsfoundry/reactive-labs/internal/reactive"
	"github.com/signalsfoundry/reactive-labs/timectrl"
)

// TimestampLayout is the display format of LogEntry.Timestamp (24h clock with
// milliseconds).
const TimestampLayout = "15:04:05.000"

// Kind classifies a log entry.
type Kind string

const (
	KindEmission     Kind = "emission"
	KindSubscription Kind = "subscription"
	KindCompletion   Kind = "completion"
	KindInfo         Kind = "info"
	KindWarning      Kind = "warning"
	KindError        Kind = "error"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindEmission, KindSubscription, KindCompletion, KindInfo, KindWarning, KindError:
		return true
	}
	return false
}

// LogEntry is one immutable line of a sink.
type LogEntry struct {
	Timestamp string `json:"timestamp" yaml:"timestamp"`
	Message   string `json:"message" yaml:"message"`
	Kind      Kind   `json:"kind" yaml:"kind"`
	Value     any    `json:"value,omitempty" yaml:"value,omitempty"`
}

// Sink is an ordered, append-only sequence of entries. Insertion order is
// chronological order. Only Clear shortens it.
type Sink struct {
	clock timectrl.SimClock

	mu      sync.RWMutex
	entries []LogEntry

	changed reactive.Notifier
}

// New returns an empty sink stamping entries from clock. A nil clock uses wall time.
func New(clock timectrl.SimClock) *Sink {
	if clock == nil {
		clock = timectrl.WallClock{}
	}
	return &Sink{clock: clock}
}

// Append records message with the current time.
func (s *Sink) Append(message string, kind Kind) {
	s.AppendValue(message, kind, nil)
}

// AppendValue records message together with the value it describes.
func (s *Sink) AppendValue(message string, kind Kind, value any) {
	if !kind.Valid() {
		kind = KindInfo
	}
	e := LogEntry{
		Timestamp: s.clock.Now().Format(TimestampLayout),
		Message:   message,
		Kind:      kind,
		Value:     value,
	}

	s.mu.Lock()
	s.entries = append(s.entries, e)
	s.mu.Unlock()

	s.changed.Notify()
}

// Clear empties the sink. Clearing an empty sink does not notify.
func (s *Sink) Clear() {
	s.mu.Lock()
	if len(s.entries) == 0 {
		s.mu.Unlock()
		return
	}
	s.entries = nil
	s.mu.Unlock()

	s.changed.Notify()
}

// Len returns the number of entries.
func (s *Sink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Entries returns a copy of the log.
func (s *Sink) Entries() []LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]LogEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Messages returns just the message text of every entry, in order.
func (s *Sink) Messages() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Message
	}
	return out
}

// Count returns how many entries have the given kind.
func (s *Sink) Count(kind Kind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.entries {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// Subscribe registers fn to receive a snapshot after every change.
func (s *Sink) Subscribe(fn func([]LogEntry)) *reactive.Subscription {
	return s.changed.Subscribe(func() { fn(s.Entries()) })
}

// Now exposes the sink clock, so callers can stamp related records consistently.
func (s *Sink) Now() time.Time { return s.clock.Now() }
