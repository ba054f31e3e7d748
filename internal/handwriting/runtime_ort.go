// runtime_ort.go - ONNX Runtime backed inference for exported handwriting models

package handwriting

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Runtime runs the character model on one preprocessed image and returns
// per-timestep class probabilities as a [T, C] tensor.
type Runtime interface {
	Name() string
	Run(ctx context.Context, input *Tensor) (*Tensor, error)
	Close() error
}

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// initONNXRuntime loads the shared library once per process.
func initONNXRuntime(libPath string) error {
	ortInitOnce.Do(func() {
		if ort.IsInitialized() {
			return
		}
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

type ortRuntime struct {
	session    *ort.DynamicAdvancedSession
	inputName  string
	outputName string
	inputShape []int
}

// newORTRuntime opens an ONNX export of the model. The input named "image"
// and the output named "char_probs" are preferred when present.
func newORTRuntime(modelPath, libPath string) (*ortRuntime, error) {
	if err := initONNXRuntime(libPath); err != nil {
		return nil, fmt.Errorf("initialize onnxruntime: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", modelPath, err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, fmt.Errorf("model %s declares no inputs or outputs", modelPath)
	}

	in := inputs[0]
	for _, info := range inputs {
		if info.Name == imageInputName {
			in = info
			break
		}
	}
	out := outputs[len(outputs)-1]
	for _, info := range outputs {
		if info.Name == charProbsOutput {
			out = info
			break
		}
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, []string{in.Name}, []string{out.Name}, nil)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	var shape []int
	if len(in.Dimensions) > 1 {
		for _, d := range in.Dimensions[1:] {
			shape = append(shape, int(d))
		}
	}
	return &ortRuntime{session: session, inputName: in.Name, outputName: out.Name, inputShape: shape}, nil
}

func (r *ortRuntime) Name() string { return "onnxruntime" }

// Run creates the native tensors for one call and destroys them before
// returning, whatever the outcome.
func (r *ortRuntime) Run(ctx context.Context, input *Tensor) (*Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	arranged, err := arrangeInput(input, r.inputShape)
	if err != nil {
		return nil, err
	}

	dims := make([]int64, 0, arranged.Rank()+1)
	dims = append(dims, 1)
	for _, d := range arranged.Shape {
		dims = append(dims, int64(d))
	}
	inTensor, err := ort.NewTensor(ort.NewShape(dims...), arranged.Data)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	defer inTensor.Destroy()

	outputs := []ort.Value{nil}
	if err := r.session.Run([]ort.Value{inTensor}, outputs); err != nil {
		return nil, fmt.Errorf("run session: %w", err)
	}
	defer func() {
		if outputs[0] != nil {
			outputs[0].Destroy()
		}
	}()

	probs, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("output %s is not a float32 tensor", r.outputName)
	}
	shape := probs.GetShape()
	if len(shape) != 3 || shape[0] != 1 {
		return nil, fmt.Errorf("output %s has shape %v, want [1, T, C]", r.outputName, shape)
	}
	data := probs.GetData()
	return &Tensor{
		Shape: []int{int(shape[1]), int(shape[2])},
		Data:  append([]float32(nil), data...),
	}, nil
}

func (r *ortRuntime) Close() error {
	if r.session == nil {
		return nil
	}
	return r.session.Destroy()
}

// graphRuntime runs the pure-Go executor.
type graphRuntime struct {
	graph      *Graph
	inputShape []int
}

func (r *graphRuntime) Name() string { return "go-executor" }

func (r *graphRuntime) Run(ctx context.Context, input *Tensor) (*Tensor, error) {
	arranged, err := arrangeInput(input, r.inputShape)
	if err != nil {
		return nil, err
	}
	out, err := r.graph.Run(ctx, arranged)
	if err != nil {
		return nil, err
	}
	if out.Rank() != 2 {
		return nil, fmt.Errorf("model output has shape %v, want [T, C]", out.Shape)
	}
	return out, nil
}

func (r *graphRuntime) Close() error { return nil }
