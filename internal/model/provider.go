// Package model owns the image classifier: fetching model files, building an
// inference session, and sharing one lazily loaded handle across the process.
package model

import "context"

// Options select a model variant at load time
type Options struct {
	Quantized bool
}

// ClassifyOptions tune a single classification call
type ClassifyOptions struct {
	TopK int
}

// DefaultTopK is the number of labels returned when ClassifyOptions.TopK is unset
const DefaultTopK = 5

// Handle is a loaded classifier. Classify returns the raw ranked output as a
// JSON array of {"label","score"} objects; callers validate it before use.
type Handle interface {
	Classify(ctx context.Context, imageRef string, opts ClassifyOptions) ([]byte, error)
	Close() error
}

// Provider creates handles. Loading may download files and is expensive.
type Provider interface {
	Load(ctx context.Context, modelID string, opts Options) (Handle, error)
}

// Prediction is one ranked label
type Prediction struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}
