package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// ActionDone is the reserved terminal action type.
const ActionDone = "DONE"

// Common action and stimulus types.
const (
	ActionTalk  = "TALK"
	ActionThink = "THINK"

	StimulusConversation = "CONVERSATION"
	StimulusThought      = "THOUGHT"
)

// Action is one thing a persona does.
type Action struct {
	Type    string `json:"type" jsonschema:"action type such as TALK, THINK or DONE"`
	Content string `json:"content" jsonschema:"what the persona says or thinks"`
	Target  string `json:"target" jsonschema:"who the action is directed to, may be empty"`
}

// CognitiveState is the mental state reported alongside an action.
type CognitiveState struct {
	Goals     string `json:"goals"`
	Attention string `json:"attention"`
	Emotions  string `json:"emotions"`
}

// CognitiveAction is a single model-produced record.
type CognitiveAction struct {
	Action         Action         `json:"action"`
	CognitiveState CognitiveState `json:"cognitive_state"`
}

// Stimulus is something a persona perceives.
type Stimulus struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Source  string `json:"source"`
}

// StimulusBatch is the content of a stimulus memory event.
type StimulusBatch struct {
	Stimuli []Stimulus `json:"stimuli"`
}

// ErrMissingKey is matched by every MissingKeyError.
var ErrMissingKey = errors.New("missing required key")

// MissingKeyError reports a well-formed record lacking a required field.
type MissingKeyError struct {
	Key string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("cognitive action: missing required key %q", e.Key)
}

func (e *MissingKeyError) Is(target error) bool { return target == ErrMissingKey }

// DecodeCognitiveActions converts a parsed JSON value into actions. It
// accepts a single record, a list of records, or an object with an
// "actions" list. Records must carry "action" and "action.type"; missing
// cognitive_state fields default to empty strings.
func DecodeCognitiveActions(v any) ([]CognitiveAction, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case []any:
		out := make([]CognitiveAction, 0, len(val))
		for _, item := range val {
			ca, err := decodeRecord(item)
			if err != nil {
				return nil, err
			}
			out = append(out, ca)
		}
		return out, nil
	case map[string]any:
		if list, ok := val["actions"].([]any); ok {
			if _, hasAction := val["action"]; !hasAction {
				return DecodeCognitiveActions(list)
			}
		}
		ca, err := decodeRecord(val)
		if err != nil {
			return nil, err
		}
		return []CognitiveAction{ca}, nil
	default:
		return nil, fmt.Errorf("cognitive action: unexpected JSON value of type %T", v)
	}
}

func decodeRecord(v any) (CognitiveAction, error) {
	var ca CognitiveAction
	obj, ok := v.(map[string]any)
	if !ok {
		return ca, fmt.Errorf("cognitive action: record is %T, not an object", v)
	}
	action, ok := obj["action"].(map[string]any)
	if !ok {
		return ca, &MissingKeyError{Key: "action"}
	}
	typ, ok := action["type"]
	if !ok || typ == nil {
		return ca, &MissingKeyError{Key: "action.type"}
	}
	ca.Action = Action{
		Type:    stringify(typ),
		Content: stringify(action["content"]),
		Target:  stringify(action["target"]),
	}
	if cs, ok := obj["cognitive_state"].(map[string]any); ok {
		ca.CognitiveState = CognitiveState{
			Goals:     stringify(cs["goals"]),
			Attention: stringify(cs["attention"]),
			Emotions:  stringify(cs["emotions"]),
		}
	}
	return ca, nil
}

// stringify renders scalars as text and anything structured as JSON.
func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}

var (
	schemaOnce sync.Once
	schemaVal  *jsonschema.Schema
	schemaErr  error
)

// CognitiveActionSchema returns the JSON schema of a CognitiveAction, used
// to request structured output from backends that support it.
func CognitiveActionSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schemaVal, schemaErr = jsonschema.For[CognitiveAction](nil)
	})
	return schemaVal, schemaErr
}
