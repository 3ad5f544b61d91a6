// Package models defines flow definition types shared by the sync channel,
// the cached replica on the watch, and the editor-facing validation helpers.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// DestinationKind selects between the two variants of a Destination.
type DestinationKind string

const (
	// DestinationKindStep continues the walk at another step.
	DestinationKindStep DestinationKind = "step"
	// DestinationKindSubmit terminates the walk and finalizes the response.
	DestinationKindSubmit DestinationKind = "submit"
)

// Destination is where choosing an answer leads: another step in the same
// flow, or submission of the response.
type Destination struct {
	Kind   DestinationKind `json:"kind"`
	StepID int             `json:"step_id,omitempty"`
}

// StepDestination returns a destination continuing at the given step id.
func StepDestination(stepID int) Destination {
	return Destination{Kind: DestinationKindStep, StepID: stepID}
}

// SubmitDestination returns the terminal destination.
func SubmitDestination() Destination {
	return Destination{Kind: DestinationKindSubmit}
}

// UnmarshalJSON validates the destination kind on decode so malformed peer
// payloads are rejected rather than silently treated as submit.
func (d *Destination) UnmarshalJSON(data []byte) error {
	type alias Destination
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	switch a.Kind {
	case DestinationKindStep, DestinationKindSubmit:
	default:
		return fmt.Errorf("invalid destination kind %q", a.Kind)
	}
	*d = Destination(a)
	return nil
}

// FlowAnswer is one selectable answer on a flow step.
type FlowAnswer struct {
	Label           string      `json:"label"`
	Destination     Destination `json:"destination"`
	RecordVoiceNote bool        `json:"record_voice_note,omitempty"`
}

// FlowStep is one prompt in a flow's decision tree. IDs are unique within
// their flow.
type FlowStep struct {
	ID      int          `json:"id"`
	Title   string       `json:"title"`
	Prompt  string       `json:"prompt"`
	Answers []FlowAnswer `json:"answers"`
}

// FlowDefinition is a user-configurable decision tree of check-in prompts.
// The phone is the single source of truth; the watch holds a replica.
type FlowDefinition struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Steps       []FlowStep `json:"steps"`

	// Provenance, set when the flow was adopted from another user.
	SourceUsername string `json:"source_username,omitempty"`
	SourceFlowName string `json:"source_flow_name,omitempty"`

	Visibility string `json:"visibility,omitempty"`
	CreatedAt  int64  `json:"created_at,omitempty"` // epoch milliseconds
}

// Flow validation errors
var (
	ErrEmptyFlowID         = errors.New("flow id cannot be empty")
	ErrEmptyFlowName       = errors.New("flow name cannot be empty")
	ErrNoFlowSteps         = errors.New("flow must contain at least one step")
	ErrDuplicateStepID     = errors.New("duplicate step id in flow")
	ErrDanglingDestination = errors.New("answer destination references a missing step")
	ErrEmptyAnswerLabel    = errors.New("answer label cannot be empty")
)

// Validate checks that step ids are unique and every step destination
// references a step present in the flow.
func (f FlowDefinition) Validate() error {
	if f.ID == "" {
		return ErrEmptyFlowID
	}
	if f.Name == "" {
		return ErrEmptyFlowName
	}
	if len(f.Steps) == 0 {
		return ErrNoFlowSteps
	}
	ids := make(map[int]struct{}, len(f.Steps))
	for _, s := range f.Steps {
		if _, dup := ids[s.ID]; dup {
			return fmt.Errorf("%w: %d", ErrDuplicateStepID, s.ID)
		}
		ids[s.ID] = struct{}{}
	}
	for _, s := range f.Steps {
		for _, a := range s.Answers {
			if a.Label == "" {
				return fmt.Errorf("%w: step %d", ErrEmptyAnswerLabel, s.ID)
			}
			if a.Destination.Kind == DestinationKindStep {
				if _, ok := ids[a.Destination.StepID]; !ok {
					return fmt.Errorf("%w: step %d -> %d", ErrDanglingDestination, s.ID, a.Destination.StepID)
				}
			}
		}
	}
	return nil
}

// StepByID returns the step with the given id, if present.
func (f FlowDefinition) StepByID(id int) (FlowStep, bool) {
	for _, s := range f.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return FlowStep{}, false
}

// RemoveStep deletes the step with the given id and repairs any answer that
// pointed at it by retargeting the destination to submit, so no dangling step
// reference survives the edit. Removing an id not present in the flow is a
// no-op.
func (f *FlowDefinition) RemoveStep(id int) {
	kept := f.Steps[:0]
	for _, s := range f.Steps {
		if s.ID != id {
			kept = append(kept, s)
		}
	}
	f.Steps = kept
	for si := range f.Steps {
		for ai := range f.Steps[si].Answers {
			dst := f.Steps[si].Answers[ai].Destination
			if dst.Kind == DestinationKindStep && dst.StepID == id {
				f.Steps[si].Answers[ai].Destination = SubmitDestination()
			}
		}
	}
}
