package orchestrator

import "diffgrid/internal/diffusion"

// DefaultPrompts is the curated list clients may start a run from.
var DefaultPrompts = []string{
	"fantasy wizard, portrait, cartoon illustration, colorful",
	"detailed cityscape, isometric, 3d, pixel art, urbanism, vibrant",
	"80s science fiction spacecraft, artistic, detailed, greebling, john berkey, john harris",
	"forest, trees, butterflies, flowers, small animals, watercolor, beautiful",
	"adventure game, myst, riven, interior, intricate, colorful, blue sky",
	"universe, astronomy, astrophotography, high resolution, hubble telescope, detailed",
	"sailboat at sea, stormclouds, detailed, oil on canvas",
	"landscape photo, sunset, mountains, trees, 35mm film, slr, nikon, canon",
}

// Prompts signs each curated prompt with no latents, so a client can
// submit it as-is.
func (o *Orchestrator) Prompts() []diffusion.Prompt {
	out := make([]diffusion.Prompt, 0, len(o.prompts))
	for _, text := range o.prompts {
		out = append(out, diffusion.Prompt{
			Text:      text,
			Signature: o.signer.SignCriticalInputs(text, nil),
		})
	}
	return out
}
