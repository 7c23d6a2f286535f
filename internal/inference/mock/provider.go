// Package mock provides a canned inference provider for development and tests.
package mock

import (
	"context"

	"github.com/pixelift/pixelift/internal/inference"
)

// tinyPNG is a valid 1x1 white PNG.
var tinyPNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a,
	0x00, 0x00, 0x00, 0x0d, 0x49, 0x48, 0x44, 0x52,
	0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x02, 0x00, 0x00, 0x00, 0x90, 0x77, 0x53,
	0xde, 0x00, 0x00, 0x00, 0x0c, 0x49, 0x44, 0x41,
	0x54, 0x08, 0xd7, 0x63, 0xf8, 0xff, 0xff, 0x3f,
	0x00, 0x05, 0xfe, 0x02, 0xfe, 0xdc, 0xcc, 0x59,
	0xe7, 0x00, 0x00, 0x00, 0x00, 0x49, 0x45, 0x4e,
	0x44, 0xae, 0x42, 0x60, 0x82,
}

// Provider returns a fixed image for every request.
type Provider struct {
	// Err, when set, is returned from every call.
	Err error
}

// New creates a mock provider.
func New() *Provider {
	return &Provider{}
}

func (p *Provider) Enhance(ctx context.Context, params inference.EnhanceParams) (*inference.EnhanceResult, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &inference.EnhanceResult{Data: tinyPNG, ContentType: "image/png"}, nil
}
