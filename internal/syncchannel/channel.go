// Package syncchannel replicates phone-authoritative state to the watch.
//
// Three independent topics travel over the channel: the flow definition, the
// auth token, and the notification settings. Each is idempotently applied
// with last-write-wins semantics and cached in local storage so the watch
// operates fully offline from the phone. A fourth, perishable topic carries
// live prompts and is never cached.
//
// Delivery tiers are a sender concern only: reliable sends are persisted
// until the peer link delivers them (coalesced, latest per topic); reachable
// sends are dropped when the peer is absent. Receiving funnels every tier
// into the same handling function.
package syncchannel

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/sit-app/sit/internal/models"
	"github.com/sit-app/sit/internal/store"
)

// Topic identifies one independently-replicated state kind.
type Topic string

const (
	TopicFlow                 Topic = "flow"
	TopicAuthToken            Topic = "auth_token"
	TopicNotificationSettings Topic = "notification_settings"
	TopicLivePrompt           Topic = "live_prompt"
)

// EnvelopeVersion is the wire format version stamped on every message.
const EnvelopeVersion = 1

// ErrPeerUnreachable reports that a reachable-tier send was dropped because
// the peer link is down.
var ErrPeerUnreachable = errors.New("peer not reachable")

// Envelope frames one topic update on the wire.
type Envelope struct {
	V       int             `json:"v"`
	Topic   Topic           `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// TokenPayload carries the opaque bearer token.
type TokenPayload struct {
	Token string `json:"token"`
}

// LivePromptPayload carries a perishable prompt for immediate display.
type LivePromptPayload struct {
	Text string `json:"text"`
}

// Transport moves raw envelopes to the paired device. Implementations decide
// nothing about topics; tier selection happens above them.
type Transport interface {
	// Send delivers data if the peer is currently reachable.
	Send(data []byte) error
	// Reachable reports whether the peer link is up.
	Reachable() bool
}

// Handlers receive applied topic updates. Nil fields are skipped; caching
// happens regardless.
type Handlers struct {
	OnFlow       func(models.FlowDefinition)
	OnToken      func(string)
	OnSettings   func(models.NotificationSettings)
	OnLivePrompt func(string)
}

// Channel is one end of the phone/watch sync link: codec, dispatcher, cache
// applier and tiered sender in one.
type Channel struct {
	cache     store.StateCache
	transport Transport
	handlers  Handlers

	// mu serializes the read-modify-write of the persisted outbox.
	mu sync.Mutex
}

// New creates a Channel over the given cache and transport.
func New(cache store.StateCache, transport Transport, handlers Handlers) *Channel {
	return &Channel{cache: cache, transport: transport, handlers: handlers}
}

// HandleMessage applies one inbound envelope, regardless of which delivery
// tier it arrived on. Malformed envelopes or payloads drop that update and
// keep the previously cached value.
func (ch *Channel) HandleMessage(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		slog.Warn("Channel.HandleMessage: undecodable envelope, dropping", "error", err)
		return
	}
	if env.V != EnvelopeVersion {
		slog.Warn("Channel.HandleMessage: unknown envelope version, dropping", "version", env.V)
		return
	}

	switch env.Topic {
	case TopicFlow:
		var flow models.FlowDefinition
		if err := json.Unmarshal(env.Payload, &flow); err != nil {
			slog.Warn("Channel.HandleMessage: undecodable flow payload, keeping cached flow", "error", err)
			return
		}
		if err := flow.Validate(); err != nil {
			slog.Warn("Channel.HandleMessage: invalid flow payload, keeping cached flow", "error", err)
			return
		}
		ch.putSlot(store.SlotFlow, env.Payload)
		if ch.handlers.OnFlow != nil {
			ch.handlers.OnFlow(flow)
		}
	case TopicAuthToken:
		var p TokenPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.Token == "" {
			slog.Warn("Channel.HandleMessage: undecodable token payload, keeping cached token", "error", err)
			return
		}
		ch.putSlot(store.SlotAuthToken, env.Payload)
		if ch.handlers.OnToken != nil {
			ch.handlers.OnToken(p.Token)
		}
	case TopicNotificationSettings:
		var s models.NotificationSettings
		if err := json.Unmarshal(env.Payload, &s); err != nil {
			slog.Warn("Channel.HandleMessage: undecodable settings payload, keeping cached settings", "error", err)
			return
		}
		if err := s.Validate(); err != nil {
			slog.Warn("Channel.HandleMessage: invalid settings payload, keeping cached settings", "error", err)
			return
		}
		ch.putSlot(store.SlotNotificationSettings, env.Payload)
		if ch.handlers.OnSettings != nil {
			ch.handlers.OnSettings(s)
		}
	case TopicLivePrompt:
		// Perishable: dispatched, never cached.
		var p LivePromptPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			slog.Warn("Channel.HandleMessage: undecodable live prompt, dropping", "error", err)
			return
		}
		if ch.handlers.OnLivePrompt != nil {
			ch.handlers.OnLivePrompt(p.Text)
		}
	default:
		slog.Debug("Channel.HandleMessage: unknown topic, dropping", "topic", env.Topic)
	}
}

// SendIfReachable sends one update only if the peer link is currently up.
// Loss is accepted; the caller may log the returned ErrPeerUnreachable.
func (ch *Channel) SendIfReachable(topic Topic, payload any) error {
	data, err := encodeEnvelope(topic, payload)
	if err != nil {
		return err
	}
	if !ch.transport.Reachable() {
		return ErrPeerUnreachable
	}
	return ch.transport.Send(data)
}

// SendReliable queues one update for delivery, coalescing per topic (only
// the latest payload per topic survives, matching last-write-wins on the
// receiver), and attempts immediate delivery. The queued payload persists
// across restarts until the peer link accepts it.
func (ch *Channel) SendReliable(topic Topic, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload failed: %w", topic, err)
	}

	ch.mu.Lock()
	ob := ch.loadOutbox()
	ob.Entries[topic] = raw
	err = ch.storeOutbox(ob)
	ch.mu.Unlock()
	if err != nil {
		return err
	}

	ch.Flush()
	return nil
}

// Flush attempts delivery of every queued reliable update. Called on
// reachability regained; a no-op while the peer is down.
func (ch *Channel) Flush() {
	if !ch.transport.Reachable() {
		return
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()

	ob := ch.loadOutbox()
	if len(ob.Entries) == 0 {
		return
	}

	topics := make([]Topic, 0, len(ob.Entries))
	for t := range ob.Entries {
		topics = append(topics, t)
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i] < topics[j] })

	changed := false
	for _, topic := range topics {
		data, err := encodeEnvelope(topic, json.RawMessage(ob.Entries[topic]))
		if err != nil {
			slog.Error("Channel.Flush: encode failed, discarding entry", "topic", topic, "error", err)
			delete(ob.Entries, topic)
			changed = true
			continue
		}
		if err := ch.transport.Send(data); err != nil {
			slog.Debug("Channel.Flush: send failed, keeping entry queued", "topic", topic, "error", err)
			break
		}
		delete(ob.Entries, topic)
		changed = true
	}
	if changed {
		if err := ch.storeOutbox(ob); err != nil {
			slog.Error("Channel.Flush: failed to persist outbox", "error", err)
		}
	}
}

// CachedFlow returns the cached flow definition, if one has been received.
func (ch *Channel) CachedFlow() (models.FlowDefinition, bool) {
	payload, ok, err := ch.cache.GetSlot(store.SlotFlow)
	if err != nil || !ok {
		return models.FlowDefinition{}, false
	}
	var flow models.FlowDefinition
	if err := json.Unmarshal(payload, &flow); err != nil {
		slog.Warn("Channel.CachedFlow: cached flow undecodable", "error", err)
		return models.FlowDefinition{}, false
	}
	return flow, true
}

// CachedToken returns the cached bearer token, or "" when none is cached.
// Satisfies apiclient.TokenProvider.
func (ch *Channel) CachedToken() string {
	payload, ok, err := ch.cache.GetSlot(store.SlotAuthToken)
	if err != nil || !ok {
		return ""
	}
	var p TokenPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return ""
	}
	return p.Token
}

// CachedSettings returns the cached notification settings, falling back to
// the defaults when nothing is cached.
func (ch *Channel) CachedSettings() models.NotificationSettings {
	payload, ok, err := ch.cache.GetSlot(store.SlotNotificationSettings)
	if err != nil || !ok {
		return models.DefaultNotificationSettings()
	}
	var s models.NotificationSettings
	if err := json.Unmarshal(payload, &s); err != nil {
		slog.Warn("Channel.CachedSettings: cached settings undecodable, using defaults", "error", err)
		return models.DefaultNotificationSettings()
	}
	return s
}

type outboxFile struct {
	V       int                       `json:"v"`
	Entries map[Topic]json.RawMessage `json:"entries"`
}

func (ch *Channel) loadOutbox() outboxFile {
	ob := outboxFile{V: EnvelopeVersion, Entries: map[Topic]json.RawMessage{}}
	payload, ok, err := ch.cache.GetSlot(store.SlotSyncOutbox)
	if err != nil || !ok {
		return ob
	}
	if err := json.Unmarshal(payload, &ob); err != nil || ob.Entries == nil {
		slog.Warn("Channel.loadOutbox: undecodable outbox, starting empty", "error", err)
		return outboxFile{V: EnvelopeVersion, Entries: map[Topic]json.RawMessage{}}
	}
	return ob
}

func (ch *Channel) storeOutbox(ob outboxFile) error {
	data, err := json.Marshal(ob)
	if err != nil {
		return fmt.Errorf("encode outbox failed: %w", err)
	}
	if err := ch.cache.PutSlot(store.SlotSyncOutbox, data); err != nil {
		return fmt.Errorf("persist outbox failed: %w", err)
	}
	return nil
}

func (ch *Channel) putSlot(name string, payload []byte) {
	if err := ch.cache.PutSlot(name, payload); err != nil {
		slog.Error("Channel.putSlot: cache write failed", "slot", name, "error", err)
	}
}

func encodeEnvelope(topic Topic, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload failed: %w", topic, err)
	}
	data, err := json.Marshal(Envelope{V: EnvelopeVersion, Topic: topic, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope failed: %w", topic, err)
	}
	return data, nil
}
