// Package orchestrator sequences signature checks, the result cache and the
// inference backend for each diffusion request.
//
// A request moves REQUESTED -> COMPLETE on a cache hit, or
// REQUESTED -> STARTED -> PENDING* -> COMPLETE otherwise. No state is kept
// between calls: the client holds the call ID and polls with it. Backend
// failures are returned to the caller, never stored.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"diffgrid/internal/diffusion"
	"diffgrid/internal/inference"
	"diffgrid/internal/signing"
)

const timeoutMessage = "timeout; probably running"

// Backend starts and checks jobs on the inference service.
type Backend interface {
	Start(ctx context.Context, inputs diffusion.ModelInputs) (message, callID string, err error)
	Check(ctx context.Context, callID string) (message string, outputs *diffusion.ModelOutputs, err error)
}

// Cache stores completed runs by content-derived key.
type Cache interface {
	Key(inputs diffusion.RunInputs) diffusion.CacheKey
	Fetch(ctx context.Context, key diffusion.CacheKey) (*diffusion.ImageInfo, bool, error)
	Store(ctx context.Context, key diffusion.CacheKey, value diffusion.ImageInfo) error
}

type Deps struct {
	Signer  *signing.Signer
	Cache   Cache
	Backend Backend
	// Prompts overrides DefaultPrompts.
	Prompts []string
	Metrics *Metrics
	Logger  *slog.Logger
}

type Orchestrator struct {
	signer  *signing.Signer
	cache   Cache
	backend Backend
	prompts []string
	metrics *Metrics
	log     *slog.Logger
}

func New(deps Deps) (*Orchestrator, error) {
	if deps.Signer == nil || deps.Cache == nil || deps.Backend == nil {
		return nil, fmt.Errorf("signer, cache and backend are required")
	}
	prompts := deps.Prompts
	if len(prompts) == 0 {
		prompts = DefaultPrompts
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		signer:  deps.Signer,
		cache:   deps.Cache,
		backend: deps.Backend,
		prompts: prompts,
		metrics: deps.Metrics,
		log:     logger.With("component", "orchestrator"),
	}, nil
}

// RequestDiffusion accepts inputs only when signature matches their
// prompt/latents pair. It returns a cached image when one exists and
// otherwise starts a job and returns its status.
func (o *Orchestrator) RequestDiffusion(ctx context.Context, inputs diffusion.RunInputs, signature string) (Result, error) {
	inputs = inputs.Normalized()
	expected := o.signer.SignCriticalInputs(inputs.Prompt, inputs.Latents)
	if !signing.Verify(expected, signature) {
		o.metrics.signatureRejected()
		return Result{}, &ValidationError{Reason: "signature does not match"}
	}

	key := o.cache.Key(inputs)
	cached, ok, err := o.cache.Fetch(ctx, key)
	if err != nil {
		return Result{}, fmt.Errorf("cache lookup: %w", err)
	}
	o.metrics.cacheLookup(ok)
	if ok {
		o.log.Debug("cache hit", "cache_key", key)
		return complete(cached), nil
	}

	message, callID, err := o.backend.Start(ctx, diffusion.ModelInputs{CacheKey: key, RunInputs: inputs})
	if err != nil {
		o.metrics.backendCall("start", outcome(err))
		return Result{}, fmt.Errorf("start run: %w", err)
	}
	o.metrics.backendCall("start", "ok")
	o.log.Info("run started", "cache_key", key, "call_id", callID, "message", message)
	return pending(callID, message), nil
}

// PollDiffusion checks a started job. A completed job is signed frame by
// frame, stored under the cache key the backend echoes and returned. A
// check that times out is reported as still running.
func (o *Orchestrator) PollDiffusion(ctx context.Context, callID string) (Result, error) {
	message, outputs, err := o.backend.Check(ctx, callID)
	if errors.Is(err, inference.ErrTimeout) {
		o.metrics.backendCall("check", "timeout")
		o.metrics.pollTimedOut()
		o.log.Warn("check timed out", "call_id", callID)
		return pending(callID, timeoutMessage), nil
	}
	if err != nil {
		o.metrics.backendCall("check", outcome(err))
		return Result{}, fmt.Errorf("check run: %w", err)
	}
	if outputs == nil {
		o.metrics.backendCall("check", "pending")
		return pending(callID, message), nil
	}
	o.metrics.backendCall("check", "ok")

	info := o.signOutputs(*outputs)
	if err := o.cache.Store(ctx, outputs.CacheKey, info); err != nil {
		return Result{}, fmt.Errorf("cache store: %w", err)
	}
	o.log.Info("run complete", "call_id", callID, "cache_key", outputs.CacheKey, "frames", len(info.Signatures))
	return complete(&info), nil
}

// signOutputs signs every trajectory frame so it can be resubmitted as the
// latents of a later run.
func (o *Orchestrator) signOutputs(outputs diffusion.ModelOutputs) diffusion.ImageInfo {
	run := outputs.RunOutputs
	signatures := make(map[int]string, len(run.Trajectory))
	for _, frame := range run.Trajectory {
		tensor := frame.Tensor
		signatures[frame.Timestep] = o.signer.SignCriticalInputs(outputs.Prompt, &tensor)
	}
	return diffusion.ImageInfo{Diffusion: run, Signatures: signatures}
}

func outcome(err error) string {
	var statusErr *inference.StatusError
	var logicalErr *inference.LogicalError
	switch {
	case errors.Is(err, inference.ErrTimeout):
		return "timeout"
	case errors.Is(err, inference.ErrMalformedResponse):
		return "malformed"
	case errors.As(err, &logicalErr):
		return "logical_error"
	case errors.As(err, &statusErr):
		return "status_error"
	default:
		return "error"
	}
}
