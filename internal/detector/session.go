package detector

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MeKo-Tech/bubblenav/internal/onnx"
	"github.com/yalue/onnxruntime_go"
)

// Interpreter is the inference boundary: a fixed-size image tensor in, the model's
// output tensors out. Shapes are known once the model is loaded.
type Interpreter interface {
	Run(input onnx.Tensor) ([]onnx.Tensor, error)
	InputShape() []int64
	OutputShapes() [][]int64
	Close() error
}

// ONNXInterpreter runs a model through ONNX Runtime.
type ONNXInterpreter struct {
	session    *onnxruntime_go.DynamicAdvancedSession
	inputInfo  onnxruntime_go.InputOutputInfo
	outputInfo []onnxruntime_go.InputOutputInfo
	mu         sync.RWMutex
}

// NewONNXInterpreter loads the model at config.ModelPath.
func NewONNXInterpreter(config Config) (*ONNXInterpreter, error) {
	if err := validateModelFile(config.ModelPath); err != nil {
		return nil, err
	}
	if err := onnx.ValidateGPUConfig(config.GPU); err != nil {
		return nil, fmt.Errorf("invalid GPU config: %w", err)
	}
	if err := onnx.InitializeRuntime(config.GPU.UseGPU); err != nil {
		return nil, err
	}

	inputInfo, outputInfo, err := validateModelInfo(config.ModelPath)
	if err != nil {
		return nil, err
	}

	session, err := createSession(config, inputInfo, outputInfo)
	if err != nil {
		return nil, err
	}

	slog.Debug("ONNX interpreter ready",
		"model_path", config.ModelPath,
		"input", inputInfo.Name,
		"input_shape", []int64(inputInfo.Dimensions),
		"outputs", len(outputInfo))

	return &ONNXInterpreter{session: session, inputInfo: inputInfo, outputInfo: outputInfo}, nil
}

// validateModelInfo requires a single rank-4 image input and at least one output.
func validateModelInfo(modelPath string) (onnxruntime_go.InputOutputInfo, []onnxruntime_go.InputOutputInfo, error) {
	inputs, outputs, err := onnxruntime_go.GetInputOutputInfo(modelPath)
	if err != nil {
		return onnxruntime_go.InputOutputInfo{}, nil, fmt.Errorf("failed to get model input/output info: %w", err)
	}
	if len(inputs) != 1 {
		return onnxruntime_go.InputOutputInfo{}, nil, fmt.Errorf("expected 1 input, got %d", len(inputs))
	}
	if len(outputs) == 0 {
		return onnxruntime_go.InputOutputInfo{}, nil, errors.New("model has no outputs")
	}
	if len(inputs[0].Dimensions) != 4 {
		return onnxruntime_go.InputOutputInfo{}, nil,
			fmt.Errorf("expected 4D input tensor, got %dD", len(inputs[0].Dimensions))
	}
	return inputs[0], outputs, nil
}

// createSession creates the ONNX session with every model output bound.
func createSession(config Config, inputInfo onnxruntime_go.InputOutputInfo,
	outputInfo []onnxruntime_go.InputOutputInfo,
) (*onnxruntime_go.DynamicAdvancedSession, error) {
	sessionOptions, err := onnxruntime_go.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer func() {
		if err := sessionOptions.Destroy(); err != nil {
			slog.Warn("Failed to destroy session options", "error", err)
		}
	}()

	if err := onnx.ConfigureSessionForGPU(sessionOptions, config.GPU); err != nil {
		return nil, fmt.Errorf("failed to configure GPU: %w", err)
	}
	if config.NumThreads > 0 {
		if err := sessionOptions.SetIntraOpNumThreads(config.NumThreads); err != nil {
			return nil, fmt.Errorf("failed to set thread count: %w", err)
		}
	}

	outputNames := make([]string, len(outputInfo))
	for i, o := range outputInfo {
		outputNames[i] = o.Name
	}
	session, err := onnxruntime_go.NewDynamicAdvancedSession(config.ModelPath,
		[]string{inputInfo.Name}, outputNames, sessionOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return session, nil
}

// InputShape returns the model input shape; dynamic dimensions are <= 0.
func (s *ONNXInterpreter) InputShape() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	shape := make([]int64, len(s.inputInfo.Dimensions))
	copy(shape, s.inputInfo.Dimensions)
	return shape
}

// OutputShapes returns the declared shape of each output, in session order.
func (s *ONNXInterpreter) OutputShapes() [][]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([][]int64, len(s.outputInfo))
	for i, o := range s.outputInfo {
		shape := make([]int64, len(o.Dimensions))
		copy(shape, o.Dimensions)
		out[i] = shape
	}
	return out
}

// Run performs one inference. Output data is copied out of runtime memory.
func (s *ONNXInterpreter) Run(input onnx.Tensor) ([]onnx.Tensor, error) {
	if err := input.Validate(); err != nil {
		return nil, fmt.Errorf("invalid input tensor: %w", err)
	}

	s.mu.RLock()
	session := s.session
	n := len(s.outputInfo)
	s.mu.RUnlock()
	if session == nil {
		return nil, errors.New("interpreter session is closed")
	}

	inputTensor, err := onnxruntime_go.NewTensor(onnxruntime_go.NewShape(input.Shape...), input.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer func() {
		if err := inputTensor.Destroy(); err != nil {
			slog.Warn("Error destroying input tensor", "error", err)
		}
	}()

	outputs := make([]onnxruntime_go.Value, n)
	if err := session.Run([]onnxruntime_go.Value{inputTensor}, outputs); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	defer func() {
		for _, o := range outputs {
			if o == nil {
				continue
			}
			if err := o.Destroy(); err != nil {
				slog.Warn("Error destroying output tensor", "error", err)
			}
		}
	}()

	result := make([]onnx.Tensor, n)
	for i, o := range outputs {
		t, err := toFloatTensor(o)
		if err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}
		result[i] = t
	}
	return result, nil
}

// toFloatTensor copies a runtime value into an onnx.Tensor. Integer outputs, such as
// class ids or counts, are widened to float32.
func toFloatTensor(v onnxruntime_go.Value) (onnx.Tensor, error) {
	switch t := v.(type) {
	case *onnxruntime_go.Tensor[float32]:
		data := make([]float32, len(t.GetData()))
		copy(data, t.GetData())
		return onnx.Tensor{Data: data, Shape: []int64(t.GetShape().Clone())}, nil
	case *onnxruntime_go.Tensor[int64]:
		return onnx.Tensor{Data: widen(t.GetData()), Shape: []int64(t.GetShape().Clone())}, nil
	case *onnxruntime_go.Tensor[int32]:
		return onnx.Tensor{Data: widen(t.GetData()), Shape: []int64(t.GetShape().Clone())}, nil
	case nil:
		return onnx.Tensor{}, errors.New("missing output value")
	default:
		return onnx.Tensor{}, fmt.Errorf("unsupported output type %T", v)
	}
}

func widen[T int32 | int64](in []T) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}

// Close releases the session. The runtime environment stays initialized for the process.
func (s *ONNXInterpreter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		if err := s.session.Destroy(); err != nil {
			slog.Warn("Failed to destroy interpreter session", "error", err)
		}
		s.session = nil
	}
	return nil
}
