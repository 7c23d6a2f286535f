// Package inference defines the interface to the external AI enhancement
// service and shared types for its implementations.
package inference

import (
	"context"
	"errors"
)

// Model selects which enhancement model to run.
type Model string

const (
	ModelUpscale  Model = "upscale"
	ModelRestore  Model = "restore"
	ModelColorize Model = "colorize"
)

// Valid reports whether m is a known model.
func (m Model) Valid() bool {
	switch m {
	case ModelUpscale, ModelRestore, ModelColorize:
		return true
	}
	return false
}

// Label returns the human-readable description stored on the image record.
func (m Model) Label() string {
	switch m {
	case ModelUpscale:
		return "AI upscale"
	case ModelRestore:
		return "AI restoration"
	case ModelColorize:
		return "AI colorization"
	}
	return string(m)
}

// ErrTimeout is returned when the inference job did not finish within the
// bounded polling window. The caller must treat the job as failed, spend no
// credit, and surface a retryable error.
var ErrTimeout = errors.New("inference timed out")

// EnhanceParams describes one inference request. ImageURL must be fetchable
// by the inference service (the stored original's public or presigned URL).
type EnhanceParams struct {
	ImageURL string
	Model    Model
}

// EnhanceResult is the produced artifact, downloaded from the inference
// service so the caller can persist it to its own storage.
type EnhanceResult struct {
	Data        []byte
	ContentType string
}

// Provider runs a model against an image and returns the enhanced artifact.
//
// Implementations block until the job finishes, polling at a fixed interval
// up to a bounded attempt count, and must honor ctx cancellation.
type Provider interface {
	Enhance(ctx context.Context, params EnhanceParams) (*EnhanceResult, error)
}
