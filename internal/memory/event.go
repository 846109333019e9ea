// Package memory implements a persona's episodic log and semantic store.
package memory

import (
	"encoding/json"
	"time"

	"github.com/nidhogg/persona-sim/internal/schema"
)

// EventType distinguishes what a persona received from what it did.
type EventType string

const (
	EventStimulus EventType = "stimulus"
	EventAction   EventType = "action"
)

// OmissionText is the content of the sentinel placed where events were skipped.
const OmissionText = "Info: there were other messages here, but they were omitted for brevity."

// Event is one immutable entry in episodic memory. Content is either a
// stimulus batch, a cognitive action, or a JSON string for the sentinel.
type Event struct {
	Role      string          `json:"role"`
	Content   json.RawMessage `json:"content"`
	Type      EventType       `json:"type,omitempty"`
	Timestamp *time.Time      `json:"simulation_timestamp"`
}

// OmissionEvent returns a fresh omission sentinel.
func OmissionEvent() Event {
	c, _ := json.Marshal(OmissionText)
	return Event{Role: "assistant", Content: c}
}

// IsOmission reports whether e is the omission sentinel.
func (e Event) IsOmission() bool {
	return e.Type == "" && e.Timestamp == nil && e.Text() == OmissionText
}

// NewStimulusEvent wraps a stimulus batch.
func NewStimulusEvent(role string, batch schema.StimulusBatch, ts time.Time) (Event, error) {
	c, err := json.Marshal(batch)
	if err != nil {
		return Event{}, err
	}
	return Event{Role: role, Content: c, Type: EventStimulus, Timestamp: &ts}, nil
}

// NewActionEvent wraps a produced action record.
func NewActionEvent(role string, action schema.CognitiveAction, ts time.Time) (Event, error) {
	c, err := json.Marshal(action)
	if err != nil {
		return Event{}, err
	}
	return Event{Role: role, Content: c, Type: EventAction, Timestamp: &ts}, nil
}

// Text returns the content as prompt text: the plain string for string
// content, the JSON encoding otherwise.
func (e Event) Text() string {
	var s string
	if err := json.Unmarshal(e.Content, &s); err == nil {
		return s
	}
	return string(e.Content)
}

// Truncated returns a copy whose action or stimulus content strings are cut
// at max runes with " (...)" appended. Other content is left alone.
func (e Event) Truncated(max int) Event {
	var obj map[string]any
	if max <= 0 || json.Unmarshal(e.Content, &obj) != nil {
		return e
	}
	changed := false
	if action, ok := obj["action"].(map[string]any); ok {
		if s, ok := action["content"]; ok {
			action["content"] = breakText(s, max)
			changed = true
		}
	} else if stimulus, ok := obj["stimulus"].(map[string]any); ok {
		if s, ok := stimulus["content"]; ok {
			stimulus["content"] = breakText(s, max)
			changed = true
		}
	} else if stimuli, ok := obj["stimuli"].([]any); ok {
		for _, item := range stimuli {
			if st, ok := item.(map[string]any); ok {
				if s, ok := st["content"]; ok {
					st["content"] = breakText(s, max)
					changed = true
				}
			}
		}
	}
	if !changed {
		return e
	}
	c, err := json.Marshal(obj)
	if err != nil {
		return e
	}
	out := e
	out.Content = c
	return out
}

func breakText(v any, max int) string {
	var s string
	switch val := v.(type) {
	case string:
		s = val
	default:
		b, _ := json.MarshalIndent(val, "", "    ")
		s = string(b)
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + " (...)"
}
