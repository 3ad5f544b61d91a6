// Package responder coordinates response delivery for the watch.
//
// A newly captured response gets exactly one immediate delivery attempt; on
// failure it lands in the durable queue. The queue drains opportunistically
// (process launch, connectivity regained), oldest first, stopping at the
// first failure: one failure almost always means the network is down, and
// retrying every remaining record would burn battery for nothing. Retry
// cadence is entirely event driven; there is no timer and no backoff.
package responder

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sit-app/sit/internal/apiclient"
	"github.com/sit-app/sit/internal/flow"
	"github.com/sit-app/sit/internal/models"
	"github.com/sit-app/sit/internal/store"
)

// Submitter performs a single delivery attempt for one record.
type Submitter interface {
	SubmitResponse(ctx context.Context, rec models.QueuedResponse, voicePath string) apiclient.SubmitResult
}

// VoiceStore persists, resolves and deletes voice-note blobs.
type VoiceStore interface {
	Persist(tempPath string) (string, error)
	Resolve(filename string) string
	Delete(filename string)
}

// Draft is a just-captured response before it is assigned an id and a
// capture timestamp. VoiceTempPath points at the scratch recording, if any.
type Draft struct {
	Kind            models.ResponseKind
	FlowID          string
	Steps           []models.FlowStepResult
	VoiceTempPath   string
	VoiceDuration   float64
	DurationSeconds float64
}

// DraftFromWalk turns a finished flow walk into a flow-kind draft. The walk
// decides whether a voice note was requested; the caller supplies the
// recording it captured (empty when the user declined or none was asked for).
func DraftFromWalk(res flow.Result, voiceTempPath string, voiceDuration float64) Draft {
	d := Draft{
		Kind:   models.ResponseKindFlow,
		FlowID: res.FlowID,
		Steps:  res.Steps,
	}
	if res.RecordVoiceNote && voiceTempPath != "" {
		d.VoiceTempPath = voiceTempPath
		d.VoiceDuration = voiceDuration
	}
	return d
}

// Coordinator owns the queue, the blob store and the submission path.
// Exactly one instance exists per device process; UI code observes the
// pending count through the observer callback, never the queue itself.
type Coordinator struct {
	queue     store.Queue
	voice     VoiceStore
	submitter Submitter
	onPending func(int)

	draining atomic.Bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithPendingObserver registers a callback invoked with the pending count
// after every mutation of the queue.
func WithPendingObserver(fn func(int)) Option {
	return func(c *Coordinator) { c.onPending = fn }
}

// New creates a Coordinator.
func New(queue store.Queue, voice VoiceStore, submitter Submitter, opts ...Option) *Coordinator {
	c := &Coordinator{queue: queue, voice: voice, submitter: submitter}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SubmitNew captures a response and attempts immediate delivery. The voice
// note is persisted before the network attempt so a crash mid-submit cannot
// lose the audio. Returns true when the response was delivered immediately;
// false means it is queued and will sync later ("Saved" vs "Saved Offline").
func (c *Coordinator) SubmitNew(ctx context.Context, draft Draft) bool {
	rec := models.QueuedResponse{
		ID:                uuid.NewString(),
		Kind:              draft.Kind,
		RespondedAt:       models.CaptureTimestamp(),
		FlowID:            draft.FlowID,
		Steps:             draft.Steps,
		VoiceNoteDuration: draft.VoiceDuration,
		DurationSeconds:   draft.DurationSeconds,
	}

	if draft.VoiceTempPath != "" {
		name, err := c.voice.Persist(draft.VoiceTempPath)
		if err != nil {
			// Non-fatal: the response goes out without audio.
			slog.Warn("Coordinator.SubmitNew: voice note persistence failed, submitting without audio", "error", err)
		} else {
			rec.VoiceNoteFile = name
		}
	}

	res := c.submitter.SubmitResponse(ctx, rec, c.resolveVoice(rec))
	if res.Delivered() {
		c.voice.Delete(rec.VoiceNoteFile)
		slog.Debug("Coordinator.SubmitNew: delivered immediately", "id", rec.ID)
		return true
	}

	slog.Info("Coordinator.SubmitNew: delivery failed, queueing", "id", rec.ID, "outcome", res.Outcome, "error", res.Err)
	if err := c.queue.Enqueue(rec); err != nil {
		// The response is lost; nothing else to do but log. The voice blob is
		// kept so a future schema fix could still recover it manually.
		slog.Error("Coordinator.SubmitNew: enqueue failed, response lost", "id", rec.ID, "error", err)
		return false
	}
	if err := c.queue.RecordFailure(rec.ID, string(res.Outcome)); err != nil {
		slog.Warn("Coordinator.SubmitNew: failed to record delivery failure", "id", rec.ID, "error", err)
	}
	c.notifyPending()
	return false
}

// DrainQueue attempts to deliver every queued record in insertion order,
// stopping at the first failure. Guarded by a single-flight flag: a call
// while a drain is in progress is a no-op, so launch and reachability
// triggers firing together cannot double-submit. Returns how many records
// were delivered and how many remain.
func (c *Coordinator) DrainQueue(ctx context.Context) (delivered, remaining int) {
	if !c.draining.CompareAndSwap(false, true) {
		slog.Debug("Coordinator.DrainQueue: drain already in progress")
		return 0, 0
	}
	defer c.draining.Store(false)

	recs, err := c.queue.LoadAll()
	if err != nil {
		slog.Error("Coordinator.DrainQueue: load failed", "error", err)
		return 0, 0
	}
	if len(recs) == 0 {
		return 0, 0
	}
	slog.Info("Coordinator.DrainQueue: draining", "pending", len(recs))

	var confirmed []string
	for _, rec := range recs {
		res := c.submitter.SubmitResponse(ctx, rec, c.resolveVoice(rec))
		if !res.Delivered() {
			slog.Info("Coordinator.DrainQueue: delivery failed, stopping drain", "id", rec.ID, "outcome", res.Outcome, "error", res.Err)
			if err := c.queue.RecordFailure(rec.ID, string(res.Outcome)); err != nil {
				slog.Warn("Coordinator.DrainQueue: failed to record delivery failure", "id", rec.ID, "error", err)
			}
			break
		}
		// Blob removal only after the server confirmed this record.
		c.voice.Delete(rec.VoiceNoteFile)
		confirmed = append(confirmed, rec.ID)
	}

	if len(confirmed) > 0 {
		if err := c.queue.DequeueConfirmed(confirmed); err != nil {
			slog.Error("Coordinator.DrainQueue: dequeue failed", "error", err)
		}
	}
	c.notifyPending()

	delivered = len(confirmed)
	remaining = len(recs) - delivered
	slog.Info("Coordinator.DrainQueue: done", "delivered", delivered, "remaining", remaining)
	return delivered, remaining
}

// PendingCount reports how many responses wait for delivery.
func (c *Coordinator) PendingCount() int {
	n, err := c.queue.PendingCount()
	if err != nil {
		slog.Error("Coordinator.PendingCount: count failed", "error", err)
		return 0
	}
	return n
}

func (c *Coordinator) resolveVoice(rec models.QueuedResponse) string {
	if !rec.HasVoiceNote() {
		return ""
	}
	return c.voice.Resolve(rec.VoiceNoteFile)
}

func (c *Coordinator) notifyPending() {
	if c.onPending == nil {
		return
	}
	n, err := c.queue.PendingCount()
	if err != nil {
		slog.Error("Coordinator.notifyPending: count failed", "error", err)
		return
	}
	c.onPending(n)
}
