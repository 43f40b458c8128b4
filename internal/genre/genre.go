// SPDX-License-Identifier: MIT

// Package genre is the boundary to the external genre classifier. The
// classifier itself is opaque: it maps a 128x128 dB spectrogram tile to a
// class index and a probability vector.
package genre

import (
	"context"
	"errors"
)

// NA is published when no prediction is available.
const NA = "N/A"

// Labels maps class indices to genre names.
var Labels = []string{"Rock", "Folk", "Hip-Hop", "Electric"}

// ErrUnknownClass is returned for a class index outside Labels.
var ErrUnknownClass = errors.New("unknown genre class")

// Label returns the genre name for class, or NA if it is out of range.
func Label(class int) string {
	if class < 0 || class >= len(Labels) {
		return NA
	}
	return Labels[class]
}

// Prediction is the classifier output for one tile.
type Prediction struct {
	Class         int       `json:"class"`
	Probabilities []float64 `json:"probabilities"`
}

// Label returns the genre name of the predicted class.
func (p Prediction) Label() string { return Label(p.Class) }

// Predictor classifies a row-major 128x128 tile. Implementations are used
// from a single goroutine.
type Predictor interface {
	Predict(ctx context.Context, tile []float32) (Prediction, error)
}

// PredictorFunc adapts a function to Predictor.
type PredictorFunc func(ctx context.Context, tile []float32) (Prediction, error)

// Predict calls f.
func (f PredictorFunc) Predict(ctx context.Context, tile []float32) (Prediction, error) {
	return f(ctx, tile)
}

// Factory creates a predictor for one node. A nil Predictor means no
// classifier is configured.
type Factory func() (Predictor, error)
