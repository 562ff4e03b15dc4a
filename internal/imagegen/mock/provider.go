package mock

import (
	"context"
	"log/slog"

	"github.com/pixelsmith-app/pixelsmith/internal/imagegen"
)

// tinyPNG is a 1x1 transparent PNG, enough for the gallery and storage
// paths to behave like the real provider.
var tinyPNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0a, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

// Provider is a mock image provider for testing and development.
type Provider struct {
	logger *slog.Logger

	// Configurable responses for testing
	GenerateResponse *imagegen.Result
	GenerateError    error
	EditResponse     *imagegen.Result
	EditError        error

	// Call tracking for testing
	GenerateCalls int
	EditCalls     int
}

// New creates a new mock image provider.
func New(logger *slog.Logger) *Provider {
	return &Provider{
		logger: logger,
	}
}

// Generate returns a canned image.
func (p *Provider) Generate(ctx context.Context, params imagegen.GenerateParams) (*imagegen.Result, error) {
	p.GenerateCalls++

	if p.GenerateError != nil {
		return nil, p.GenerateError
	}
	if p.GenerateResponse != nil {
		return p.GenerateResponse, nil
	}

	p.logger.Debug("mock image generated", "prompt", params.Prompt)
	return &imagegen.Result{Data: tinyPNG, ContentType: "image/png"}, nil
}

// Edit returns a canned image.
func (p *Provider) Edit(ctx context.Context, params imagegen.EditParams) (*imagegen.Result, error) {
	p.EditCalls++

	if p.EditError != nil {
		return nil, p.EditError
	}
	if p.EditResponse != nil {
		return p.EditResponse, nil
	}

	p.logger.Debug("mock image edited", "prompt", params.Prompt)
	return &imagegen.Result{Data: tinyPNG, ContentType: "image/png"}, nil
}
