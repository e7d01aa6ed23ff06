package ml

import (
	"errors"
	"fmt"
)

var (
	ErrModelNotTrained      = errors.New("model not trained")
	ErrUnsupportedModelType = errors.New("unsupported model type")
)

// Predictor maps one ordered feature vector to a label. The label is opaque to
// callers: a class name, a class index, whatever the artifact encodes.
type Predictor interface {
	Predict(features []float64) (any, error)
}

// ModelLoadError reports that the artifact at Path could not be turned into a
// Predictor.
type ModelLoadError struct {
	Path string
	Err  error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("load model %s: %v", e.Path, e.Err)
}

func (e *ModelLoadError) Unwrap() error {
	return e.Err
}
