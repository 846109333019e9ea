package agent

import (
	"time"

	"github.com/nidhogg/persona-sim/internal/schema"
)

// Trace records one listen-and-act exchange with a persona.
type Trace struct {
	ID        string                   `json:"id"`
	PersonID  string                   `json:"person_id"`
	Persona   string                   `json:"persona"`
	Stimulus  string                   `json:"stimulus"`
	Actions   []schema.CognitiveAction `json:"actions"`
	StartedAt time.Time                `json:"started_at"`
	Duration  time.Duration            `json:"duration"`
}

// Talk returns what the persona said during the exchange.
func (t *Trace) Talk() string { return TalkContent(t.Actions) }

// Done reports whether the persona finished with DONE.
func (t *Trace) Done() bool {
	n := len(t.Actions)
	return n > 0 && t.Actions[n-1].Action.Type == schema.ActionDone
}
