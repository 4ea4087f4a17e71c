package diffusion

import "fmt"

// CacheVersion is embedded in every cache key. Bump it to invalidate
// previously stored results without touching the store.
const CacheVersion = 0

// CacheKey addresses one completed run in the result cache.
type CacheKey string

// NewCacheKey formats the literal key layout shared with other consumers
// of the cache bucket.
func NewCacheKey(version int, inputsHash string) CacheKey {
	return CacheKey(fmt.Sprintf("cache_v%d/inputs=%s.json", version, inputsHash))
}

func (k CacheKey) String() string { return string(k) }

// RunInputs identifies one generation request.
type RunInputs struct {
	Prompt       string  `json:"prompt"`
	Seed         int     `json:"seed"`
	Latents      *string `json:"latents"`
	Timestep     *int    `json:"timestep"`
	TrajectoryAt []int   `json:"trajectory_at"`
}

// Normalized returns r with an absent trajectory list made empty, so the
// hashed inputs and the inputs sent to the backend are the same.
func (r RunInputs) Normalized() RunInputs {
	if r.TrajectoryAt == nil {
		r.TrajectoryAt = []int{}
	}
	return r
}

// Fields returns every input by its wire name, for signing.
func (r RunInputs) Fields() map[string]any {
	r = r.Normalized()
	return map[string]any{
		"prompt":        r.Prompt,
		"seed":          r.Seed,
		"latents":       r.Latents,
		"timestep":      r.Timestep,
		"trajectory_at": r.TrajectoryAt,
	}
}

// LatentFrame is one intermediate output of a run.
type LatentFrame struct {
	Tensor   string `json:"tensor"`
	Image    string `json:"image"`
	Timestep int    `json:"timestep"`
}

type RunOutputs struct {
	Image      string        `json:"image"`
	Trajectory []LatentFrame `json:"trajectory"`
}

// ModelInputs is what the inference backend receives on start.
type ModelInputs struct {
	CacheKey  CacheKey  `json:"cache_key"`
	RunInputs RunInputs `json:"run_inputs"`
}

// ModelOutputs is the backend's completion payload. CacheKey is echoed
// back from the start call and is authoritative for storage.
type ModelOutputs struct {
	Prompt     string     `json:"prompt"`
	CacheKey   CacheKey   `json:"cache_key"`
	RunOutputs RunOutputs `json:"run_outputs"`
}

// ImageInfo is the cached, client-facing result of a completed run.
// Signatures holds one entry per trajectory frame, keyed by timestep.
type ImageInfo struct {
	Diffusion  RunOutputs     `json:"diffusion"`
	Signatures map[int]string `json:"signatures"`
}

// RunStatus is a non-terminal poll result. It is never cached.
type RunStatus struct {
	CallID  string `json:"call_id"`
	Message string `json:"message"`
}

// Prompt is a curated prompt together with its critical-input signature.
type Prompt struct {
	Text      string `json:"text"`
	Signature string `json:"signature"`
}
