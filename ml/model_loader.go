package ml

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	ModelTypeAuto         = "auto"
	ModelTypeDecisionTree = decisionTreeType
	ModelTypeONNX         = "onnx"
)

// LoaderOptions carries what a backend needs besides the artifact path.
type LoaderOptions struct {
	ONNXLibrary string
}

// LoadModel deserializes the artifact at path. Every failure is returned as a
// *ModelLoadError.
func LoadModel(modelType, path string, opts LoaderOptions) (Predictor, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, &ModelLoadError{Path: path, Err: err}
	}

	var (
		model Predictor
		err   error
	)
	switch resolveModelType(modelType, path) {
	case ModelTypeDecisionTree:
		tree := &DecisionTree{}
		err = tree.Load(path)
		model = tree
	case ModelTypeONNX:
		model, err = LoadONNXClassifier(path, opts.ONNXLibrary)
	default:
		err = fmt.Errorf("%w: %q", ErrUnsupportedModelType, modelType)
	}
	if err != nil {
		return nil, &ModelLoadError{Path: path, Err: err}
	}
	return model, nil
}

func resolveModelType(modelType, path string) string {
	if modelType != "" && modelType != ModelTypeAuto {
		return modelType
	}
	if strings.EqualFold(filepath.Ext(path), ".onnx") {
		return ModelTypeONNX
	}
	return ModelTypeDecisionTree
}
