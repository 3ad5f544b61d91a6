// Package store provides durable device-local storage for Sit.
//
// It holds the queue of not-yet-confirmed responses and the named slots that
// cache phone-authoritative state (flow definition, auth token, notification
// settings) for offline use. Storage is owned exclusively by the device
// process; UI code observes the pending count, never the queue contents.
package store

import "github.com/sit-app/sit/internal/models"

// CurrentSchemaVersion is stamped onto every persisted queue row. Rows with a
// version this build does not understand are skipped on load instead of
// aborting the whole queue.
const CurrentSchemaVersion = 1

// Well-known state slot names.
const (
	SlotFlow                 = "flow"
	SlotAuthToken            = "auth_token"
	SlotNotificationSettings = "notification_settings"
	SlotSyncOutbox           = "sync_outbox"
)

// Queue is durable storage for queued responses. Insertion order (oldest
// first) is the drain order.
type Queue interface {
	// Enqueue appends a record. The write is a single statement, atomic with
	// respect to process termination.
	Enqueue(rec models.QueuedResponse) error

	// LoadAll returns all queued records oldest-first without mutating.
	LoadAll() ([]models.QueuedResponse, error)

	// DequeueConfirmed removes exactly the records whose ids are listed.
	// Records are never removed on any other path.
	DequeueConfirmed(ids []string) error

	// RecordFailure notes the latest delivery failure on a queued record,
	// for diagnostics only.
	RecordFailure(id string, msg string) error

	// PendingCount reports how many records are waiting for delivery.
	PendingCount() (int, error)
}

// StateCache stores the watch's replica of phone-authoritative state under
// named slots. Payloads are opaque JSON; the sync channel owns their shape.
type StateCache interface {
	PutSlot(name string, payload []byte) error
	// GetSlot returns the payload and whether the slot exists.
	GetSlot(name string) ([]byte, bool, error)
}

// Opts holds configuration options for store construction.
type Opts struct {
	DSN string
}

// Option configures store construction.
type Option func(*Opts)

// WithDSN sets the SQLite database file path.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}
