// Package imagegen defines the image provider abstraction used by the
// generate and edit endpoints.
package imagegen

import (
	"context"
	"errors"
	"fmt"
)

// Provider generates and edits images from text prompts.
//
// Implementations:
// - Gateway: calls the hosted AI gateway
// - mock.Provider: deterministic output for development and tests
type Provider interface {
	// Generate produces an image from a text prompt.
	Generate(ctx context.Context, params GenerateParams) (*Result, error)

	// Edit produces a new image derived from a source image and a prompt
	// describing the requested changes.
	Edit(ctx context.Context, params EditParams) (*Result, error)
}

// GenerateParams contains parameters for image generation.
type GenerateParams struct {
	Prompt string
}

// EditParams contains parameters for image editing.
type EditParams struct {
	Prompt      string
	ImageData   []byte // Source image bytes
	ContentType string // MIME type of the source image
}

// Result is the provider's output. Data is set when the provider returned
// inline image bytes; URL is set when it returned a hosted location.
// At least one is always populated on success.
type Result struct {
	Data        []byte
	ContentType string
	URL         string
}

// Sentinel errors surfaced by providers. Upstream rate limiting and
// credit exhaustion are user-visible conditions, not internal faults.
var (
	ErrRateLimited     = errors.New("imagegen: provider rate limit exceeded")
	ErrPaymentRequired = errors.New("imagegen: provider credits exhausted")
)

// WrapError adds step context to a provider error.
func WrapError(step string, err error) error {
	return fmt.Errorf("imagegen: %s: %w", step, err)
}
