package memory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
)

// Default recent-window sizes.
const (
	DefaultFixedPrefixLength = 100
	DefaultLookbackLength    = 100
)

// Episodic is an append-only, ordered log of one persona's events.
type Episodic struct {
	mu       sync.RWMutex
	events   []Event
	prefix   int
	lookback int
}

// NewEpisodic creates an empty log. Non-positive window sizes use defaults.
func NewEpisodic(fixedPrefix, lookback int) *Episodic {
	if fixedPrefix <= 0 {
		fixedPrefix = DefaultFixedPrefixLength
	}
	if lookback <= 0 {
		lookback = DefaultLookbackLength
	}
	return &Episodic{prefix: fixedPrefix, lookback: lookback}
}

// Store appends a copy of e to the log.
func (m *Episodic) Store(e Event) {
	e = e.clone()
	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()
}

// Len returns the number of stored events.
func (m *Episodic) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

// All returns a copy of the whole log.
func (m *Episodic) All() []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneEvents(m.events)
}

// Retrieve returns the first n events followed by the last n events. A
// bound <= 0 counts as not given. With both bounds, an omission sentinel
// separates the slices when they do not cover the whole log, and the whole
// log is returned when they do. With one bound only that slice is returned;
// with neither, the whole log.
func (m *Episodic) Retrieve(first, last int, includeOmission bool) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := len(m.events)

	switch {
	case first > 0 && last > 0:
		if first+last >= n {
			return cloneEvents(m.events)
		}
		out := make([]Event, 0, first+last+1)
		out = append(out, m.events[:first]...)
		if includeOmission {
			out = append(out, OmissionEvent())
		}
		return cloneEvents(append(out, m.events[n-last:]...))
	case first > 0:
		return cloneEvents(m.events[:min(first, n)])
	case last > 0:
		return cloneEvents(m.events[n-min(last, n):])
	default:
		return cloneEvents(m.events)
	}
}

// RetrieveRecent returns the fixed prefix of the log plus the most recent
// lookback events not already in it. The omission sentinel is inserted only
// when events between the two are actually skipped, so the result never
// exceeds prefix+lookback+1 events.
func (m *Episodic) RetrieveRecent(includeOmission bool) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := len(m.events)

	prefix := m.events[:min(m.prefix, n)]
	remaining := min(n-len(prefix), m.lookback)
	out := make([]Event, 0, len(prefix)+max(remaining, 0)+1)
	out = append(out, prefix...)
	if remaining <= 0 {
		return cloneEvents(out)
	}
	if includeOmission && len(prefix)+remaining < n {
		out = append(out, OmissionEvent())
	}
	return cloneEvents(append(out, m.events[n-remaining:]...))
}

// clone copies the parts of e that share memory with the caller.
func (e Event) clone() Event {
	e.Content = bytes.Clone(e.Content)
	if e.Timestamp != nil {
		ts := *e.Timestamp
		e.Timestamp = &ts
	}
	return e
}

// cloneEvents returns a new slice of copied events. Stored events are never
// handed out directly.
func cloneEvents(src []Event) []Event {
	out := make([]Event, len(src))
	for i, e := range src {
		out[i] = e.clone()
	}
	return out
}

// Snapshot serializes the log as JSON.
func (m *Episodic) Snapshot() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, err := json.Marshal(m.events)
	if err != nil {
		return nil, fmt.Errorf("snapshot episodic memory: %w", err)
	}
	return data, nil
}

// Restore replaces the log with a snapshot.
func (m *Episodic) Restore(data []byte) error {
	var events []Event
	if err := json.Unmarshal(data, &events); err != nil {
		return fmt.Errorf("restore episodic memory: %w", err)
	}
	m.mu.Lock()
	m.events = events
	m.mu.Unlock()
	return nil
}
