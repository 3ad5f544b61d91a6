package syncchannel

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/sit-app/sit/internal/models"
	"github.com/sit-app/sit/internal/store"
)

// fakeTransport collects sent envelopes and lets tests toggle reachability.
type fakeTransport struct {
	mu        sync.Mutex
	reachable bool
	sent      [][]byte
	failSends bool
}

func (f *fakeTransport) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.reachable || f.failSends {
		return ErrPeerUnreachable
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.sent = append(f.sent, cp)
	return nil
}

func (f *fakeTransport) Reachable() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reachable
}

func (f *fakeTransport) setReachable(r bool) {
	f.mu.Lock()
	f.reachable = r
	f.mu.Unlock()
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func settingsEnvelope(t *testing.T, s models.NotificationSettings) []byte {
	t.Helper()
	payload, _ := json.Marshal(s)
	data, err := json.Marshal(Envelope{V: EnvelopeVersion, Topic: TopicNotificationSettings, Payload: payload})
	if err != nil {
		t.Fatalf("encode envelope: %v", err)
	}
	return data
}

// Property: last-write-wins means the later-applied update sticks, even if
// it carries "older" values; no ordering metadata travels with the message.
func TestSettingsLastWriteWins(t *testing.T) {
	ch := New(store.NewInMemoryStore(), &fakeTransport{}, Handlers{})

	newer := models.NotificationSettings{PerDay: 6, StartHour: 7, EndHour: 21}
	older := models.NotificationSettings{PerDay: 2, StartHour: 10, EndHour: 18}

	ch.HandleMessage(settingsEnvelope(t, newer))
	ch.HandleMessage(settingsEnvelope(t, older))

	if got := ch.CachedSettings(); got != older {
		t.Errorf("later-applied settings must win, got %+v", got)
	}
}

func TestDecodeFailureKeepsCachedValue(t *testing.T) {
	ch := New(store.NewInMemoryStore(), &fakeTransport{}, Handlers{})
	good := models.NotificationSettings{PerDay: 4, StartHour: 8, EndHour: 20}
	ch.HandleMessage(settingsEnvelope(t, good))

	ch.HandleMessage([]byte(`{"v":1,"topic":"notification_settings","payload":"not json"}`))
	ch.HandleMessage([]byte(`garbage`))
	ch.HandleMessage([]byte(`{"v":99,"topic":"notification_settings","payload":{"per_day":1,"start_hour":1,"end_hour":2}}`))
	// Structurally valid JSON but semantically invalid settings.
	ch.HandleMessage(settingsEnvelope(t, models.NotificationSettings{PerDay: 0, StartHour: 5, EndHour: 2}))

	if got := ch.CachedSettings(); got != good {
		t.Errorf("malformed updates must not disturb the cache, got %+v", got)
	}
}

func TestCachedSettingsDefaultsWhenEmpty(t *testing.T) {
	ch := New(store.NewInMemoryStore(), &fakeTransport{}, Handlers{})
	if got := ch.CachedSettings(); got != models.DefaultNotificationSettings() {
		t.Errorf("expected default settings, got %+v", got)
	}
}

func TestFlowAndTokenApply(t *testing.T) {
	var gotFlow models.FlowDefinition
	var gotToken string
	ch := New(store.NewInMemoryStore(), &fakeTransport{}, Handlers{
		OnFlow:  func(f models.FlowDefinition) { gotFlow = f },
		OnToken: func(tok string) { gotToken = tok },
	})

	flow := models.FlowDefinition{
		ID: "f1", UserID: "u1", Name: "Check-in",
		Steps: []models.FlowStep{{ID: 1, Title: "Mood", Prompt: "?", Answers: []models.FlowAnswer{{Label: "Ok", Destination: models.SubmitDestination()}}}},
	}
	payload, _ := json.Marshal(flow)
	env, _ := json.Marshal(Envelope{V: EnvelopeVersion, Topic: TopicFlow, Payload: payload})
	ch.HandleMessage(env)

	tokenEnv, _ := json.Marshal(Envelope{V: EnvelopeVersion, Topic: TopicAuthToken, Payload: json.RawMessage(`{"token":"tok-1"}`)})
	ch.HandleMessage(tokenEnv)

	if gotFlow.ID != "f1" || gotToken != "tok-1" {
		t.Errorf("handlers not invoked: flow=%+v token=%q", gotFlow, gotToken)
	}
	if cached, ok := ch.CachedFlow(); !ok || cached.Name != "Check-in" {
		t.Errorf("flow not cached: ok=%v %+v", ok, cached)
	}
	if ch.CachedToken() != "tok-1" {
		t.Errorf("token not cached: %q", ch.CachedToken())
	}
}

func TestInvalidFlowPayloadDropped(t *testing.T) {
	ch := New(store.NewInMemoryStore(), &fakeTransport{}, Handlers{})
	// Dangling destination: step 1 points at missing step 9.
	flow := models.FlowDefinition{
		ID: "f1", UserID: "u1", Name: "Broken",
		Steps: []models.FlowStep{{ID: 1, Title: "Mood", Prompt: "?", Answers: []models.FlowAnswer{{Label: "Ok", Destination: models.StepDestination(9)}}}},
	}
	payload, _ := json.Marshal(flow)
	env, _ := json.Marshal(Envelope{V: EnvelopeVersion, Topic: TopicFlow, Payload: payload})
	ch.HandleMessage(env)

	if _, ok := ch.CachedFlow(); ok {
		t.Error("invalid flow must not be cached")
	}
}

func TestSendIfReachableDropsWhenPeerDown(t *testing.T) {
	tr := &fakeTransport{}
	ch := New(store.NewInMemoryStore(), tr, Handlers{})

	if err := ch.SendIfReachable(TopicLivePrompt, LivePromptPayload{Text: "breathe"}); err != ErrPeerUnreachable {
		t.Errorf("expected ErrPeerUnreachable, got %v", err)
	}
	tr.setReachable(true)
	if err := ch.SendIfReachable(TopicLivePrompt, LivePromptPayload{Text: "breathe"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if tr.sentCount() != 1 {
		t.Errorf("expected exactly 1 sent message, got %d", tr.sentCount())
	}
}

// Reliable sends persist until the link comes up, coalescing per topic so
// only the latest payload per topic is delivered.
func TestSendReliableQueuesAndFlushes(t *testing.T) {
	cache := store.NewInMemoryStore()
	tr := &fakeTransport{}
	ch := New(cache, tr, Handlers{})

	if err := ch.SendReliable(TopicAuthToken, TokenPayload{Token: "old"}); err != nil {
		t.Fatalf("send reliable failed: %v", err)
	}
	if err := ch.SendReliable(TopicAuthToken, TokenPayload{Token: "new"}); err != nil {
		t.Fatalf("send reliable failed: %v", err)
	}
	if tr.sentCount() != 0 {
		t.Fatalf("nothing should be sent while unreachable, got %d", tr.sentCount())
	}

	tr.setReachable(true)
	ch.Flush()

	if tr.sentCount() != 1 {
		t.Fatalf("coalescing should deliver exactly 1 message, got %d", tr.sentCount())
	}
	var env Envelope
	if err := json.Unmarshal(tr.sent[0], &env); err != nil {
		t.Fatalf("sent message undecodable: %v", err)
	}
	var p TokenPayload
	json.Unmarshal(env.Payload, &p)
	if env.Topic != TopicAuthToken || p.Token != "new" {
		t.Errorf("latest payload must win: %+v %+v", env, p)
	}

	// Delivered entries leave the outbox; a second flush sends nothing.
	ch.Flush()
	if tr.sentCount() != 1 {
		t.Errorf("flush after delivery must send nothing, got %d", tr.sentCount())
	}
}

// A reliable payload queued by one Channel instance survives into a new
// instance over the same cache, mirroring a process restart.
func TestReliableOutboxSurvivesRestart(t *testing.T) {
	cache := store.NewInMemoryStore()
	tr := &fakeTransport{}
	ch := New(cache, tr, Handlers{})
	if err := ch.SendReliable(TopicFlow, models.FlowDefinition{
		ID: "f1", UserID: "u1", Name: "n",
		Steps: []models.FlowStep{{ID: 1, Title: "t", Prompt: "p", Answers: []models.FlowAnswer{{Label: "Ok", Destination: models.SubmitDestination()}}}},
	}); err != nil {
		t.Fatalf("send reliable failed: %v", err)
	}

	tr2 := &fakeTransport{reachable: true}
	ch2 := New(cache, tr2, Handlers{})
	ch2.Flush()
	if tr2.sentCount() != 1 {
		t.Fatalf("queued payload must survive restart, got %d sends", tr2.sentCount())
	}
}

// Receiving is tier-agnostic: the same bytes give the same result however
// they arrived, so applying twice is idempotent.
func TestHandleMessageIdempotent(t *testing.T) {
	ch := New(store.NewInMemoryStore(), &fakeTransport{}, Handlers{})
	s := models.NotificationSettings{PerDay: 5, StartHour: 9, EndHour: 21}
	msg := settingsEnvelope(t, s)
	ch.HandleMessage(msg)
	ch.HandleMessage(msg)
	if got := ch.CachedSettings(); got != s {
		t.Errorf("idempotent apply broken, got %+v", got)
	}
}
