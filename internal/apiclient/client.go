// Package apiclient talks to the Sit backend REST API.
//
// It performs the single multipart upload of one response and the profile
// fetch that seeds the watch's phone-authoritative cache. Outcomes separate
// "the server answered no" from "the server never answered" because the two
// are logged differently, even though the queue treats both as retryable.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sit-app/sit/internal/models"
)

// Timeouts scale with payload: small text bodies should fail fast, audio
// uploads need headroom on weak connections.
const (
	DefaultTextTimeout  = 5 * time.Second
	DefaultVoiceTimeout = 30 * time.Second

	submitPath  = "/api/prompt-responses"
	profilePath = "/api/me"

	maxRejectionBodyBytes = 512
)

// Outcome classifies one submission attempt.
type Outcome string

const (
	// OutcomeDelivered means the server confirmed the response (2xx).
	OutcomeDelivered Outcome = "delivered"
	// OutcomeRejected means the server answered with a non-2xx status.
	OutcomeRejected Outcome = "rejected"
	// OutcomeUnreachable means the request could not complete at all.
	OutcomeUnreachable Outcome = "unreachable"
)

// SubmitResult reports one submission attempt. StatusCode and Body are set
// for rejected outcomes only and exist for logging.
type SubmitResult struct {
	Outcome    Outcome
	StatusCode int
	Body       string
	Err        error
}

// Delivered reports whether the record may be confirmed and removed.
func (r SubmitResult) Delivered() bool { return r.Outcome == OutcomeDelivered }

// TokenProvider returns the currently cached bearer token, or "" when the
// device holds none. Requests without a token are sent unauthenticated.
type TokenProvider func() string

// Client submits responses and fetches profile state over HTTP.
type Client struct {
	baseURL      string
	token        TokenProvider
	httpClient   *http.Client
	textTimeout  time.Duration
	voiceTimeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client (tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeouts overrides the text-only and voice-attached request timeouts.
func WithTimeouts(text, voice time.Duration) Option {
	return func(c *Client) {
		c.textTimeout = text
		c.voiceTimeout = voice
	}
}

// NewClient creates a Client against the given base URL.
func NewClient(baseURL string, token TokenProvider, opts ...Option) *Client {
	c := &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		token:        token,
		httpClient:   &http.Client{},
		textTimeout:  DefaultTextTimeout,
		voiceTimeout: DefaultVoiceTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SubmitResponse uploads one response as a single multipart request.
// voicePath is the resolved blob path, or "" when no audio accompanies the
// record. The request is never retried here; retry cadence belongs to the
// coordinator.
func (c *Client) SubmitResponse(ctx context.Context, rec models.QueuedResponse, voicePath string) SubmitResult {
	timeout := c.textTimeout
	if voicePath != "" {
		timeout = c.voiceTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, contentType, err := encodeSubmission(rec, voicePath)
	if err != nil {
		// A blob that vanished between resolve and read is a local failure;
		// surface it as unreachable so the record stays queued.
		slog.Error("Client.SubmitResponse: failed to encode submission", "id", rec.ID, "error", err)
		return SubmitResult{Outcome: OutcomeUnreachable, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+submitPath, body)
	if err != nil {
		return SubmitResult{Outcome: OutcomeUnreachable, Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	if tok := c.token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return SubmitResult{Outcome: OutcomeUnreachable, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		slog.Debug("Client.SubmitResponse: delivered", "id", rec.ID, "status", resp.StatusCode)
		return SubmitResult{Outcome: OutcomeDelivered, StatusCode: resp.StatusCode}
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxRejectionBodyBytes))
	return SubmitResult{
		Outcome:    OutcomeRejected,
		StatusCode: resp.StatusCode,
		Body:       string(snippet),
		Err:        fmt.Errorf("server rejected submission: status %d", resp.StatusCode),
	}
}

// FetchProfile retrieves notification settings and the current flow.
func (c *Client) FetchProfile(ctx context.Context) (models.Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, c.textTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+profilePath, nil)
	if err != nil {
		return models.Profile{}, err
	}
	if tok := c.token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.Profile{}, fmt.Errorf("profile fetch failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return models.Profile{}, fmt.Errorf("profile fetch failed: status %d", resp.StatusCode)
	}

	var p models.Profile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return models.Profile{}, fmt.Errorf("profile decode failed: %w", err)
	}
	return p, nil
}

// encodeSubmission builds the multipart body. Fields follow the endpoint's
// flattened optional-field shape; steps travel as a JSON array of
// [stepID, answerIndex] pairs.
func encodeSubmission(rec models.QueuedResponse, voicePath string) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("responded_at", strconv.FormatFloat(float64(rec.RespondedAt), 'f', -1, 64)); err != nil {
		return nil, "", err
	}
	if rec.FlowID != "" {
		if err := w.WriteField("flow_id", rec.FlowID); err != nil {
			return nil, "", err
		}
	}
	if len(rec.Steps) > 0 {
		pairs := make([][2]int, len(rec.Steps))
		for i, s := range rec.Steps {
			pairs[i] = [2]int{s.StepID, s.AnswerIndex}
		}
		encoded, err := json.Marshal(pairs)
		if err != nil {
			return nil, "", err
		}
		if err := w.WriteField("steps", string(encoded)); err != nil {
			return nil, "", err
		}
	}
	if rec.VoiceNoteDuration > 0 {
		if err := w.WriteField("voice_note_duration_seconds", strconv.FormatFloat(rec.VoiceNoteDuration, 'f', -1, 64)); err != nil {
			return nil, "", err
		}
	}
	if rec.DurationSeconds > 0 {
		if err := w.WriteField("duration_seconds", strconv.FormatFloat(rec.DurationSeconds, 'f', -1, 64)); err != nil {
			return nil, "", err
		}
	}
	if voicePath != "" {
		if err := writeVoicePart(w, voicePath); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func writeVoicePart(w *multipart.Writer, voicePath string) error {
	f, err := os.Open(voicePath)
	if err != nil {
		return fmt.Errorf("failed to open voice note: %w", err)
	}
	defer f.Close()

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="voice_note"; filename="%s"`, filepath.Base(voicePath)))
	header.Set("Content-Type", "audio/m4a")
	part, err := w.CreatePart(header)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("failed to read voice note: %w", err)
	}
	return nil
}
