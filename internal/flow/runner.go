// Package flow walks a flow definition's decision tree.
//
// The runner feeds prompts to whatever surface is rendering them (watch UI,
// live prompt display) and accumulates the chosen path, which becomes the
// steps recorded on the submitted response.
package flow

import (
	"errors"
	"fmt"

	"github.com/sit-app/sit/internal/models"
)

// Runner errors
var (
	ErrWalkFinished     = errors.New("flow walk already finished")
	ErrNoSuchAnswer     = errors.New("answer index out of range")
	ErrBrokenDefinition = errors.New("flow definition is broken")
)

// Result is the outcome of a completed walk: the path taken and whether the
// final answer asked for a voice note.
type Result struct {
	FlowID          string
	Steps           []models.FlowStepResult
	RecordVoiceNote bool
}

// Runner walks one flow definition from its first step to a submit
// destination. Not safe for concurrent use; one walk per check-in.
type Runner struct {
	flow     models.FlowDefinition
	current  models.FlowStep
	steps    []models.FlowStepResult
	finished bool
	voice    bool
}

// NewRunner starts a walk at the flow's first step. The definition must be
// valid per models.FlowDefinition.Validate.
func NewRunner(def models.FlowDefinition) (*Runner, error) {
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("cannot run flow: %w", err)
	}
	return &Runner{flow: def, current: def.Steps[0]}, nil
}

// Current returns the step being prompted.
func (r *Runner) Current() models.FlowStep {
	return r.current
}

// Finished reports whether the walk reached a submit destination.
func (r *Runner) Finished() bool {
	return r.finished
}

// Answer records the chosen answer on the current step and advances the
// walk. Returns true when the walk finished.
func (r *Runner) Answer(index int) (bool, error) {
	if r.finished {
		return true, ErrWalkFinished
	}
	if index < 0 || index >= len(r.current.Answers) {
		return false, fmt.Errorf("%w: step %d has %d answers, got index %d", ErrNoSuchAnswer, r.current.ID, len(r.current.Answers), index)
	}

	answer := r.current.Answers[index]
	r.steps = append(r.steps, models.FlowStepResult{StepID: r.current.ID, AnswerIndex: index})

	switch answer.Destination.Kind {
	case models.DestinationKindSubmit:
		r.finished = true
		r.voice = answer.RecordVoiceNote
		return true, nil
	case models.DestinationKindStep:
		next, ok := r.flow.StepByID(answer.Destination.StepID)
		if !ok {
			// Validate at construction rules this out unless the definition
			// was mutated mid-walk.
			r.finished = true
			return true, fmt.Errorf("%w: destination step %d missing", ErrBrokenDefinition, answer.Destination.StepID)
		}
		r.current = next
		return false, nil
	default:
		r.finished = true
		return true, fmt.Errorf("%w: unknown destination kind %q", ErrBrokenDefinition, answer.Destination.Kind)
	}
}

// Result returns the completed walk. Only meaningful once Finished.
func (r *Runner) Result() (Result, error) {
	if !r.finished {
		return Result{}, errors.New("flow walk not finished")
	}
	return Result{FlowID: r.flow.ID, Steps: r.steps, RecordVoiceNote: r.voice}, nil
}
