// Package models defines the core data structures for Sit.
//
// It includes the queued response record shared by the durable queue, the
// submission client, and the response coordinator, plus the phone-authoritative
// state replicated to the watch over the sync channel.
package models

import (
	"errors"
	"time"
)

// ResponseKind distinguishes the two record shapes that share the
// prompt-response submission endpoint.
type ResponseKind string

const (
	// ResponseKindFlow records a walk through a flow's decision tree.
	ResponseKindFlow ResponseKind = "flow"
	// ResponseKindTimer records a plain meditation-timer completion.
	ResponseKindTimer ResponseKind = "timer"
)

// Validation constants for queued responses
const (
	// MaxFlowStepsPerResponse bounds the recorded decision-tree path length
	MaxFlowStepsPerResponse = 64
)

// Error variables for better error handling and testability
var (
	ErrEmptyResponseID      = errors.New("response id cannot be empty")
	ErrInvalidResponseKind  = errors.New("invalid response kind")
	ErrMissingRespondedAt   = errors.New("responded_at is required")
	ErrMissingFlowID        = errors.New("flow id is required for flow responses")
	ErrMissingSteps         = errors.New("steps are required for flow responses")
	ErrTooManySteps         = errors.New("steps exceed maximum recorded path length")
	ErrMissingTimerDuration = errors.New("duration is required for timer responses")
	ErrMixedResponseFields  = errors.New("flow and timer fields are mutually exclusive")
)

// IsValidResponseKind checks if the given response kind is supported.
func IsValidResponseKind(k ResponseKind) bool {
	switch k {
	case ResponseKindFlow, ResponseKindTimer:
		return true
	default:
		return false
	}
}

// FlowStepResult records one decision made while walking a flow: which step
// was shown and which answer index was chosen.
type FlowStepResult struct {
	StepID      int `json:"step_id"`
	AnswerIndex int `json:"answer_index"`
}

// QueuedResponse is a durable record of one not-yet-confirmed user response.
// Exactly one of the flow fields (FlowID, Steps) or the timer field
// (DurationSeconds) is populated, according to Kind. The voice-note fields may
// accompany a flow response only.
type QueuedResponse struct {
	ID          string       `json:"id"`
	Kind        ResponseKind `json:"kind"`
	RespondedAt int64        `json:"responded_at"` // client capture time, epoch milliseconds

	FlowID            string           `json:"flow_id,omitempty"`
	Steps             []FlowStepResult `json:"steps,omitempty"`
	VoiceNoteDuration float64          `json:"voice_note_duration,omitempty"` // seconds recorded
	VoiceNoteFile     string           `json:"voice_note_file,omitempty"`     // bare filename in the voice-note store

	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}

// Validate checks structural consistency of a queued response record.
func (r QueuedResponse) Validate() error {
	if r.ID == "" {
		return ErrEmptyResponseID
	}
	if !IsValidResponseKind(r.Kind) {
		return ErrInvalidResponseKind
	}
	if r.RespondedAt <= 0 {
		return ErrMissingRespondedAt
	}
	switch r.Kind {
	case ResponseKindFlow:
		if r.FlowID == "" {
			return ErrMissingFlowID
		}
		if len(r.Steps) == 0 {
			return ErrMissingSteps
		}
		if len(r.Steps) > MaxFlowStepsPerResponse {
			return ErrTooManySteps
		}
		if r.DurationSeconds != 0 {
			return ErrMixedResponseFields
		}
	case ResponseKindTimer:
		if r.DurationSeconds <= 0 {
			return ErrMissingTimerDuration
		}
		if r.FlowID != "" || len(r.Steps) > 0 || r.VoiceNoteFile != "" || r.VoiceNoteDuration != 0 {
			return ErrMixedResponseFields
		}
	}
	return nil
}

// HasVoiceNote reports whether a persisted voice-note blob accompanies the record.
func (r QueuedResponse) HasVoiceNote() bool {
	return r.VoiceNoteFile != ""
}

// Profile is the payload of the profile/config fetch: the caller's
// notification schedule plus the currently selected flow, if any. It is the
// data source for the watch's phone-authoritative cache at login.
type Profile struct {
	NotificationSettings NotificationSettings `json:"notification_settings"`
	Flow                 *FlowDefinition      `json:"flow,omitempty"`
}

// CaptureTimestamp returns the current time as a responded_at value.
func CaptureTimestamp() int64 {
	return time.Now().UnixMilli()
}
