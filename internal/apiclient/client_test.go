package apiclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sit-app/sit/internal/models"
)

func flowRecord() models.QueuedResponse {
	return models.QueuedResponse{
		ID:                "r1",
		Kind:              models.ResponseKindFlow,
		RespondedAt:       1700000000123,
		FlowID:            "flow-1",
		Steps:             []models.FlowStepResult{{StepID: 1, AnswerIndex: 0}, {StepID: 3, AnswerIndex: 2}},
		VoiceNoteDuration: 4.5,
		VoiceNoteFile:     "x.m4a",
	}
}

func TestSubmitResponseDelivered(t *testing.T) {
	var gotAuth string
	var gotFields map[string]string
	var gotVoice []byte
	var gotVoiceType string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("failed to parse multipart form: %v", err)
		}
		gotFields = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			gotFields[k] = v[0]
		}
		if files := r.MultipartForm.File["voice_note"]; len(files) == 1 {
			gotVoiceType = files[0].Header.Get("Content-Type")
			f, _ := files[0].Open()
			gotVoice, _ = io.ReadAll(f)
			f.Close()
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	voicePath := filepath.Join(t.TempDir(), "x.m4a")
	if err := os.WriteFile(voicePath, []byte("audio"), 0644); err != nil {
		t.Fatalf("failed to write voice file: %v", err)
	}

	c := NewClient(srv.URL, func() string { return "tok-123" })
	res := c.SubmitResponse(context.Background(), flowRecord(), voicePath)
	if !res.Delivered() {
		t.Fatalf("expected delivered, got %+v", res)
	}

	if gotAuth != "Bearer tok-123" {
		t.Errorf("unexpected auth header: %q", gotAuth)
	}
	if gotFields["responded_at"] != "1700000000123" {
		t.Errorf("unexpected responded_at: %q", gotFields["responded_at"])
	}
	if gotFields["flow_id"] != "flow-1" {
		t.Errorf("unexpected flow_id: %q", gotFields["flow_id"])
	}
	if gotFields["steps"] != "[[1,0],[3,2]]" {
		t.Errorf("steps must encode as array of pairs, got %q", gotFields["steps"])
	}
	if gotFields["voice_note_duration_seconds"] != "4.5" {
		t.Errorf("unexpected voice duration: %q", gotFields["voice_note_duration_seconds"])
	}
	if string(gotVoice) != "audio" || gotVoiceType != "audio/m4a" {
		t.Errorf("voice part wrong: content=%q type=%q", gotVoice, gotVoiceType)
	}
}

func TestSubmitTimerResponseFields(t *testing.T) {
	var gotFields map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseMultipartForm(1 << 20)
		gotFields = r.MultipartForm.Value
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rec := models.QueuedResponse{
		ID: "t1", Kind: models.ResponseKindTimer,
		RespondedAt: 1700000000000, DurationSeconds: 600,
	}
	c := NewClient(srv.URL, func() string { return "" })
	if res := c.SubmitResponse(context.Background(), rec, ""); !res.Delivered() {
		t.Fatalf("expected delivered, got %+v", res)
	}
	if gotFields["duration_seconds"][0] != "600" {
		t.Errorf("unexpected duration_seconds: %v", gotFields["duration_seconds"])
	}
	for _, absent := range []string{"flow_id", "steps", "voice_note_duration_seconds"} {
		if _, ok := gotFields[absent]; ok {
			t.Errorf("timer submission must not carry %s", absent)
		}
	}
}

func TestSubmitResponseRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad payload", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	rec := models.QueuedResponse{ID: "t1", Kind: models.ResponseKindTimer, RespondedAt: 1, DurationSeconds: 60}
	c := NewClient(srv.URL, func() string { return "" })
	res := c.SubmitResponse(context.Background(), rec, "")
	if res.Outcome != OutcomeRejected {
		t.Fatalf("expected rejected, got %+v", res)
	}
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("unexpected status: %d", res.StatusCode)
	}
	if res.Delivered() {
		t.Error("rejected must not count as delivered")
	}
}

func TestSubmitResponseUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse all connections

	rec := models.QueuedResponse{ID: "t1", Kind: models.ResponseKindTimer, RespondedAt: 1, DurationSeconds: 60}
	c := NewClient(srv.URL, func() string { return "" })
	res := c.SubmitResponse(context.Background(), rec, "")
	if res.Outcome != OutcomeUnreachable {
		t.Fatalf("expected unreachable, got %+v", res)
	}
}

func TestSubmitResponseTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer func() { close(release); srv.Close() }()

	rec := models.QueuedResponse{ID: "t1", Kind: models.ResponseKindTimer, RespondedAt: 1, DurationSeconds: 60}
	c := NewClient(srv.URL, func() string { return "" }, WithTimeouts(50*time.Millisecond, time.Second))
	res := c.SubmitResponse(context.Background(), rec, "")
	if res.Outcome != OutcomeUnreachable {
		t.Fatalf("expected unreachable on timeout, got %+v", res)
	}
}

func TestFetchProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/me" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"notification_settings":{"per_day":5,"start_hour":8,"end_hour":20},"flow":{"id":"f1","user_id":"u1","name":"Morning","steps":[{"id":1,"title":"Mood","prompt":"?","answers":[{"label":"Ok","destination":{"kind":"submit"}}]}]}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, func() string { return "tok" })
	p, err := c.FetchProfile(context.Background())
	if err != nil {
		t.Fatalf("fetch profile failed: %v", err)
	}
	if p.NotificationSettings.PerDay != 5 || p.Flow == nil || p.Flow.ID != "f1" {
		t.Errorf("unexpected profile: %+v", p)
	}
	if err := p.Flow.Validate(); err != nil {
		t.Errorf("embedded flow should validate: %v", err)
	}
}
