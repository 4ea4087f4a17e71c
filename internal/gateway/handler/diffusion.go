package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"diffgrid/internal/diffusion"
	"diffgrid/internal/inference"
	"diffgrid/internal/observability"
	"diffgrid/internal/orchestrator"
)

const maxRequestBytes = 1 << 20

// DiffusionService is the orchestrator surface the HTTP edge needs.
type DiffusionService interface {
	Prompts() []diffusion.Prompt
	RequestDiffusion(ctx context.Context, inputs diffusion.RunInputs, signature string) (orchestrator.Result, error)
	PollDiffusion(ctx context.Context, callID string) (orchestrator.Result, error)
}

type DiffusionHandler struct {
	svc           DiffusionService
	log           *slog.Logger
	watchInterval time.Duration
}

// NewDiffusionHandler builds the handler. A watchInterval of zero uses the
// default of 5s.
func NewDiffusionHandler(svc DiffusionService, logger *slog.Logger, watchInterval time.Duration) *DiffusionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if watchInterval <= 0 {
		watchInterval = defaultWatchInterval
	}
	return &DiffusionHandler{
		svc:           svc,
		log:           logger.With("component", "handler"),
		watchInterval: watchInterval,
	}
}

type runInputsBody struct {
	Prompt       *string `json:"prompt"`
	Seed         *int    `json:"seed"`
	Latents      *string `json:"latents"`
	Timestep     *int    `json:"timestep"`
	TrajectoryAt []int   `json:"trajectory_at"`
}

func (h *DiffusionHandler) HandlePrompts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Prompts())
}

func (h *DiffusionHandler) HandleRequestDiffusion(w http.ResponseWriter, r *http.Request) {
	var body runInputsBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&body); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if body.Prompt == nil || body.Seed == nil {
		writeDetail(w, http.StatusBadRequest, "prompt and seed are required")
		return
	}
	inputs := diffusion.RunInputs{
		Prompt:       *body.Prompt,
		Seed:         *body.Seed,
		Latents:      body.Latents,
		Timestep:     body.Timestep,
		TrajectoryAt: body.TrajectoryAt,
	}.Normalized()

	result, err := h.svc.RequestDiffusion(r.Context(), inputs, r.URL.Query().Get("signature"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *DiffusionHandler) HandlePollDiffusion(w http.ResponseWriter, r *http.Request) {
	callID := strings.TrimSpace(r.PathValue("callID"))
	if callID == "" {
		writeDetail(w, http.StatusBadRequest, "call id is required")
		return
	}
	result, err := h.svc.PollDiffusion(r.Context(), callID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func HandleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *DiffusionHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, detail := errorStatus(err)
	log := observability.FromContext(r.Context(), h.log)
	if status >= http.StatusInternalServerError {
		log.Error("diffusion request failed", "path", r.URL.Path, "status", status, "error", err)
	} else {
		log.Info("diffusion request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	writeDetail(w, status, detail)
}

// errorStatus maps orchestrator and backend failures to a status and a
// client-safe detail.
func errorStatus(err error) (int, string) {
	var validation *orchestrator.ValidationError
	var statusErr *inference.StatusError
	var logicalErr *inference.LogicalError
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, validation.Reason
	case errors.Is(err, inference.ErrTimeout):
		return http.StatusGatewayTimeout, "inference backend timed out"
	case errors.As(err, &statusErr):
		return http.StatusBadGateway, "inference backend unavailable"
	case errors.As(err, &logicalErr):
		return http.StatusBadGateway, "inference backend error: " + logicalErr.Message
	case errors.Is(err, inference.ErrMalformedResponse):
		return http.StatusBadGateway, "inference backend returned a malformed response"
	case errors.Is(err, context.Canceled):
		return 499, "request canceled"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(raw)
}
