package ml

import (
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

const onnxLabelOutput = "output_label"

// ortEnv guards the process-wide ONNX Runtime initialization.
var ortEnv struct {
	once sync.Once
	err  error
}

func initORT(libPath string) error {
	ortEnv.once.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		ortEnv.err = ort.InitializeEnvironment()
	})
	return ortEnv.err
}

// ONNXClassifier runs a scikit-learn classifier exported with skl2onnx: a
// single float32 [batch, n] input and an int64 label output.
type ONNXClassifier struct {
	session      *ort.DynamicAdvancedSession
	featureCount int64
}

func LoadONNXClassifier(modelPath, libPath string) (*ONNXClassifier, error) {
	if err := initORT(libPath); err != nil {
		return nil, fmt.Errorf("onnx: initialize runtime: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("onnx: read model info: %w", err)
	}
	if len(inputs) != 1 {
		return nil, fmt.Errorf("onnx: expected 1 input, got %d", len(inputs))
	}
	input := inputs[0]
	if input.DataType != ort.TensorElementDataTypeFloat {
		return nil, fmt.Errorf("onnx: input %q is %v, want float32", input.Name, input.DataType)
	}
	if len(input.Dimensions) != 2 || input.Dimensions[1] <= 0 {
		return nil, fmt.Errorf("onnx: input %q has shape %v, want [batch, features]", input.Name, input.Dimensions)
	}

	outputName, err := labelOutput(outputs)
	if err != nil {
		return nil, err
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, []string{input.Name}, []string{outputName}, nil)
	if err != nil {
		return nil, fmt.Errorf("onnx: create session: %w", err)
	}
	return &ONNXClassifier{session: session, featureCount: input.Dimensions[1]}, nil
}

// labelOutput prefers skl2onnx's "output_label" and otherwise takes the first
// int64 output.
func labelOutput(outputs []ort.InputOutputInfo) (string, error) {
	var fallback string
	for _, out := range outputs {
		if out.DataType != ort.TensorElementDataTypeInt64 {
			continue
		}
		if out.Name == onnxLabelOutput {
			return out.Name, nil
		}
		if fallback == "" {
			fallback = out.Name
		}
	}
	if fallback == "" {
		return "", errors.New("onnx: model has no int64 label output")
	}
	return fallback, nil
}

func (c *ONNXClassifier) Predict(features []float64) (any, error) {
	if int64(len(features)) != c.featureCount {
		return nil, fmt.Errorf("onnx: model expects %d features, got %d", c.featureCount, len(features))
	}
	data := make([]float32, len(features))
	for i, f := range features {
		data[i] = float32(f)
	}

	in, err := ort.NewTensor(ort.NewShape(1, c.featureCount), data)
	if err != nil {
		return nil, fmt.Errorf("onnx: create input tensor: %w", err)
	}
	defer in.Destroy()

	out, err := ort.NewEmptyTensor[int64](ort.NewShape(1))
	if err != nil {
		return nil, fmt.Errorf("onnx: create output tensor: %w", err)
	}
	defer out.Destroy()

	if err := c.session.Run([]ort.Value{in}, []ort.Value{out}); err != nil {
		return nil, fmt.Errorf("onnx: inference failed: %w", err)
	}
	return out.GetData()[0], nil
}

func (c *ONNXClassifier) Close() error {
	return c.session.Destroy()
}
