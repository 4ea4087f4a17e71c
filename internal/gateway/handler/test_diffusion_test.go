package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"diffgrid/internal/diffusion"
	"diffgrid/internal/inference"
	"diffgrid/internal/orchestrator"
)

type fakeService struct {
	mu        sync.Mutex
	requests  []diffusion.RunInputs
	sigs      []string
	polls     int
	reqResult orchestrator.Result
	reqErr    error
	// pollResults are returned in order; the last one repeats.
	pollResults []orchestrator.Result
	pollErr     error
}

func (f *fakeService) Prompts() []diffusion.Prompt {
	return []diffusion.Prompt{{Text: "castle", Signature: "sig-castle"}}
}

func (f *fakeService) RequestDiffusion(_ context.Context, inputs diffusion.RunInputs, signature string) (orchestrator.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, inputs)
	f.sigs = append(f.sigs, signature)
	return f.reqResult, f.reqErr
}

func (f *fakeService) PollDiffusion(_ context.Context, callID string) (orchestrator.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.pollErr != nil {
		return orchestrator.Result{}, f.pollErr
	}
	i := f.polls - 1
	if i >= len(f.pollResults) {
		i = len(f.pollResults) - 1
	}
	return f.pollResults[i], nil
}

func status(callID, msg string) orchestrator.Result {
	return orchestrator.Result{Status: &diffusion.RunStatus{CallID: callID, Message: msg}}
}

func image() orchestrator.Result {
	return orchestrator.Result{Image: &diffusion.ImageInfo{
		Diffusion:  diffusion.RunOutputs{Image: "png", Trajectory: []diffusion.LatentFrame{{Tensor: "t", Image: "i", Timestep: 3}}},
		Signatures: map[int]string{3: "sig3"},
	}}
}

func newTestMux(svc DiffusionService) *http.ServeMux {
	h := NewDiffusionHandler(svc, slog.New(slog.NewTextHandler(io.Discard, nil)), 10*time.Millisecond)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /prompts", h.HandlePrompts)
	mux.HandleFunc("POST /diffusions", h.HandleRequestDiffusion)
	mux.HandleFunc("GET /diffusions/{callID}", h.HandlePollDiffusion)
	mux.HandleFunc("GET /diffusions/{callID}/watch", h.HandleWatchDiffusion)
	return mux
}

func serve(t *testing.T, mux http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHandlePrompts(t *testing.T) {
	rec := serve(t, newTestMux(&fakeService{}), http.MethodGet, "/prompts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"text":"castle","signature":"sig-castle"}]`, rec.Body.String())
}

func TestHandleRequestDiffusionPassesInputsAndSignature(t *testing.T) {
	svc := &fakeService{reqResult: status("c1", "started")}
	body := `{"prompt":"castle","seed":7,"latents":null,"timestep":null,"trajectory_at":[0,4]}`
	rec := serve(t, newTestMux(svc), http.MethodPost, "/diffusions?signature=abc", body)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"call_id":"c1","message":"started"}`, rec.Body.String())
	require.Len(t, svc.requests, 1)
	assert.Equal(t, "castle", svc.requests[0].Prompt)
	assert.Equal(t, 7, svc.requests[0].Seed)
	assert.Nil(t, svc.requests[0].Latents)
	assert.Equal(t, []int{0, 4}, svc.requests[0].TrajectoryAt)
	assert.Equal(t, "abc", svc.sigs[0])
}

func TestHandleRequestDiffusionDefaultsTrajectory(t *testing.T) {
	svc := &fakeService{reqResult: status("c1", "started")}
	rec := serve(t, newTestMux(svc), http.MethodPost, "/diffusions?signature=abc", `{"prompt":"castle","seed":7}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, svc.requests, 1)
	require.NotNil(t, svc.requests[0].TrajectoryAt)
	raw, err := json.Marshal(svc.requests[0])
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"trajectory_at":[]`)
}

func TestHandleRequestDiffusionCachedImage(t *testing.T) {
	svc := &fakeService{reqResult: image()}
	rec := serve(t, newTestMux(svc), http.MethodPost, "/diffusions?signature=abc", `{"prompt":"castle","seed":1}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Contains(t, got, "diffusion")
	assert.Equal(t, map[string]any{"3": "sig3"}, got["signatures"])
}

func TestHandleRequestDiffusionRejectsBadBodies(t *testing.T) {
	svc := &fakeService{}
	mux := newTestMux(svc)

	rec := serve(t, mux, http.MethodPost, "/diffusions?signature=abc", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, mux, http.MethodPost, "/diffusions?signature=abc", `{"seed":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, svc.requests)
}

func TestHandlerErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		detail string
	}{
		{"signature", &orchestrator.ValidationError{Reason: "signature does not match"}, http.StatusBadRequest, "signature does not match"},
		{"timeout", fmt.Errorf("start run: %w", inference.ErrTimeout), http.StatusGatewayTimeout, "inference backend timed out"},
		{"status", &inference.StatusError{Code: 503, Retryable: true}, http.StatusBadGateway, "inference backend unavailable"},
		{"logical", &inference.LogicalError{Message: "error: oom"}, http.StatusBadGateway, "inference backend error: error: oom"},
		{"malformed", fmt.Errorf("%w: no callID", inference.ErrMalformedResponse), http.StatusBadGateway, "inference backend returned a malformed response"},
		{"cache", fmt.Errorf("cache lookup: %w", io.ErrUnexpectedEOF), http.StatusInternalServerError, "internal error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeService{reqErr: tc.err}
			rec := serve(t, newTestMux(svc), http.MethodPost, "/diffusions?signature=x", `{"prompt":"p","seed":1}`)
			assert.Equal(t, tc.status, rec.Code)
			assert.JSONEq(t, fmt.Sprintf(`{"detail":%q}`, tc.detail), rec.Body.String())
		})
	}
}

func TestHandlePollDiffusion(t *testing.T) {
	svc := &fakeService{pollResults: []orchestrator.Result{status("c1", "timeout; probably running")}}
	rec := serve(t, newTestMux(svc), http.MethodGet, "/diffusions/c1", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"call_id":"c1","message":"timeout; probably running"}`, rec.Body.String())
}

func TestHandleHealthz(t *testing.T) {
	rec := httptest.NewRecorder()
	HandleHealthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
}

func dialWatch(t *testing.T, svc DiffusionService, callID string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(newTestMux(svc))
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/diffusions/" + callID + "/watch"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	return conn
}

func TestWatchStreamsUntilComplete(t *testing.T) {
	svc := &fakeService{pollResults: []orchestrator.Result{
		status("c1", "running"),
		status("c1", "running"),
		image(),
	}}
	conn := dialWatch(t, svc, "c1")

	var messages []map[string]any
	for {
		var msg map[string]any
		err := conn.ReadJSON(&msg)
		if err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
			break
		}
		messages = append(messages, msg)
	}

	require.Len(t, messages, 3)
	assert.Equal(t, "c1", messages[0]["call_id"])
	assert.Contains(t, messages[2], "diffusion")
}

func TestWatchClosesOnPollError(t *testing.T) {
	svc := &fakeService{pollErr: &inference.StatusError{Code: 502, Retryable: true}}
	conn := dialWatch(t, svc, "c1")

	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "error", msg["type"])
	assert.Equal(t, float64(http.StatusBadGateway), msg["status"])

	err := conn.ReadJSON(&msg)
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseInternalServerErr), "unexpected error: %v", err)
}
