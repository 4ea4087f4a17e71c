package orchestrator

import (
	"encoding/json"
	"fmt"

	"diffgrid/internal/diffusion"
)

// Result is what a submit or poll yields: either a completed image or the
// status of a job still running. Exactly one field is set.
type Result struct {
	Image  *diffusion.ImageInfo
	Status *diffusion.RunStatus
}

func complete(info *diffusion.ImageInfo) Result { return Result{Image: info} }

func pending(callID, message string) Result {
	return Result{Status: &diffusion.RunStatus{CallID: callID, Message: message}}
}

// Terminal reports whether the run is complete.
func (r Result) Terminal() bool { return r.Image != nil }

// MarshalJSON encodes whichever variant is set, without a wrapper.
func (r Result) MarshalJSON() ([]byte, error) {
	switch {
	case r.Image != nil:
		return json.Marshal(r.Image)
	case r.Status != nil:
		return json.Marshal(r.Status)
	default:
		return nil, fmt.Errorf("empty result")
	}
}
