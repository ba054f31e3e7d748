// graph.go - Pure-Go executor for pruned handwriting models

package handwriting

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedModel is returned when the pruned topology contains a layer
// the executor cannot run.
var ErrUnsupportedModel = errors.New("model contains unsupported layers")

var supportedClasses = map[string]bool{
	"InputLayer":         true,
	"Conv2D":             true,
	"MaxPooling2D":       true,
	"BatchNormalization": true,
	"Reshape":            true,
	"Permute":            true,
	"Dense":              true,
	"Dropout":            true,
	"Activation":         true,
	"LSTM":               true,
	"Bidirectional":      true,
	"Concatenate":        true,
	"Add":                true,
}

func layerSupported(l *Layer) bool {
	if !supportedClasses[l.ClassName] {
		return false
	}
	if l.ClassName == "Bidirectional" {
		inner, _ := l.Config["layer"].(map[string]any)
		cls, _ := inner["class_name"].(string)
		return cls == "LSTM"
	}
	return true
}

type layerFunc func(inputs []*Tensor) (*Tensor, error)

type graphNode struct {
	name   string
	class  string
	inputs []string
	run    layerFunc
}

// Graph evaluates a pruned functional model on one image at a time. It is
// immutable after BuildGraph and safe for concurrent use.
type Graph struct {
	input  string
	output string
	nodes  []graphNode
}

// BuildGraph binds weights to the pruned topology. Weights are matched to a
// layer by the "<layer name>/" prefix; the last path segment names the
// parameter (kernel, bias, gamma, ...).
func BuildGraph(cfg *ModelConfig, weights map[string]*Tensor) (*Graph, error) {
	if unsupported := unsupportedLayers(cfg); len(unsupported) > 0 {
		names := make([]string, len(unsupported))
		for i, u := range unsupported {
			names[i] = u.Name + " (" + u.ClassName + ")"
		}
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedModel, strings.Join(names, ", "))
	}
	if len(cfg.Layers) == 0 {
		return nil, fmt.Errorf("model has no layers")
	}

	g := &Graph{}
	if len(cfg.InputLayers) > 0 {
		g.input = cfg.InputLayers[0].Layer
	} else {
		g.input = cfg.Layers[0].Name
	}
	if len(cfg.OutputLayers) > 0 {
		g.output = cfg.OutputLayers[0].Layer
	} else {
		g.output = cfg.Layers[len(cfg.Layers)-1].Name
	}

	prev := ""
	for _, l := range cfg.Layers {
		node := graphNode{name: l.Name, class: l.ClassName}
		if len(l.InboundNodes) > 0 {
			for _, ref := range l.InboundNodes[0] {
				node.inputs = append(node.inputs, ref.Layer)
			}
		} else if l.ClassName != "InputLayer" && prev != "" {
			// sequential models list layers without inbound nodes
			node.inputs = []string{prev}
		}

		run, err := buildLayer(l, layerWeights(weights, l.Name))
		if err != nil {
			return nil, fmt.Errorf("layer %s (%s): %w", l.Name, l.ClassName, err)
		}
		node.run = run
		g.nodes = append(g.nodes, node)
		prev = l.Name
	}
	return g, nil
}

// Run feeds input (without batch dimension) and returns the output tensor.
func (g *Graph) Run(ctx context.Context, input *Tensor) (*Tensor, error) {
	values := make(map[string]*Tensor, len(g.nodes))
	for _, node := range g.nodes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if node.class == "InputLayer" {
			if node.name == g.input {
				values[node.name] = input
			}
			continue
		}

		args := make([]*Tensor, 0, len(node.inputs))
		for _, name := range node.inputs {
			v, ok := values[name]
			if !ok {
				return nil, fmt.Errorf("layer %s: input %s has not been computed", node.name, name)
			}
			args = append(args, v)
		}
		out, err := node.run(args)
		if err != nil {
			return nil, fmt.Errorf("layer %s: %w", node.name, err)
		}
		values[node.name] = out
		if node.name == g.output {
			return out, nil
		}
	}
	if out, ok := values[g.output]; ok {
		return out, nil
	}
	return nil, fmt.Errorf("output layer %s was not produced", g.output)
}

// layerWeights collects the weights under "<layer>/" keyed by the rest of
// the path.
func layerWeights(all map[string]*Tensor, layer string) map[string]*Tensor {
	prefix := layer + "/"
	out := make(map[string]*Tensor)
	for name, t := range all {
		if strings.HasPrefix(name, prefix) {
			out[strings.TrimPrefix(name, prefix)] = t
		}
	}
	return out
}

// weightKind finds a parameter by its last path segment, optionally
// restricted to paths containing scope.
func weightKind(ws map[string]*Tensor, scope, kind string) *Tensor {
	for path, t := range ws {
		if scope != "" && !strings.Contains("/"+path, scope) {
			continue
		}
		if path == kind || strings.HasSuffix(path, "/"+kind) {
			return t
		}
	}
	return nil
}

func single(inputs []*Tensor) (*Tensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("expected one input, got %d", len(inputs))
	}
	return inputs[0], nil
}

func buildLayer(l *Layer, ws map[string]*Tensor) (layerFunc, error) {
	switch l.ClassName {
	case "InputLayer":
		return single, nil

	case "Dropout":
		return single, nil

	case "Activation":
		act, err := activation(l.str("activation", "linear"))
		if err != nil {
			return nil, err
		}
		return func(inputs []*Tensor) (*Tensor, error) {
			in, err := single(inputs)
			if err != nil {
				return nil, err
			}
			out := in.clone()
			act(out.Data, out.Shape[out.Rank()-1])
			return out, nil
		}, nil

	case "Conv2D":
		kernel := weightKind(ws, "", "kernel")
		if kernel == nil {
			return nil, fmt.Errorf("missing kernel weight")
		}
		var bias *Tensor
		if l.boolean("use_bias", true) {
			if bias = weightKind(ws, "", "bias"); bias == nil {
				return nil, fmt.Errorf("missing bias weight")
			}
		}
		act, err := activation(l.str("activation", "linear"))
		if err != nil {
			return nil, err
		}
		strides := l.ints("strides", 2, []int{1, 1})
		same := l.str("padding", "valid") == "same"
		return func(inputs []*Tensor) (*Tensor, error) {
			in, err := single(inputs)
			if err != nil {
				return nil, err
			}
			out, err := conv2D(in, kernel, bias, strides, same)
			if err != nil {
				return nil, err
			}
			act(out.Data, out.Shape[2])
			return out, nil
		}, nil

	case "MaxPooling2D":
		pool := l.ints("pool_size", 2, []int{2, 2})
		strides := l.ints("strides", 2, pool)
		same := l.str("padding", "valid") == "same"
		return func(inputs []*Tensor) (*Tensor, error) {
			in, err := single(inputs)
			if err != nil {
				return nil, err
			}
			return maxPool2D(in, pool, strides, same)
		}, nil

	case "BatchNormalization":
		mean := weightKind(ws, "", "moving_mean")
		variance := weightKind(ws, "", "moving_variance")
		if mean == nil || variance == nil {
			return nil, fmt.Errorf("missing moving statistics")
		}
		var gamma, beta *Tensor
		if l.boolean("scale", true) {
			gamma = weightKind(ws, "", "gamma")
		}
		if l.boolean("center", true) {
			beta = weightKind(ws, "", "beta")
		}
		epsilon := float32(l.num("epsilon", 1e-3))
		return func(inputs []*Tensor) (*Tensor, error) {
			in, err := single(inputs)
			if err != nil {
				return nil, err
			}
			return batchNorm(in, gamma, beta, mean, variance, epsilon)
		}, nil

	case "Reshape":
		target := l.ints("target_shape", 0, nil)
		if len(target) == 0 {
			return nil, fmt.Errorf("missing target_shape")
		}
		return func(inputs []*Tensor) (*Tensor, error) {
			in, err := single(inputs)
			if err != nil {
				return nil, err
			}
			return reshape(in, target)
		}, nil

	case "Permute":
		dims := l.ints("dims", 0, nil)
		return func(inputs []*Tensor) (*Tensor, error) {
			in, err := single(inputs)
			if err != nil {
				return nil, err
			}
			return permute(in, dims)
		}, nil

	case "Dense":
		kernel := weightKind(ws, "", "kernel")
		if kernel == nil {
			return nil, fmt.Errorf("missing kernel weight")
		}
		var bias *Tensor
		if l.boolean("use_bias", true) {
			bias = weightKind(ws, "", "bias")
		}
		act, err := activation(l.str("activation", "linear"))
		if err != nil {
			return nil, err
		}
		return func(inputs []*Tensor) (*Tensor, error) {
			in, err := single(inputs)
			if err != nil {
				return nil, err
			}
			out, err := dense(in, kernel, bias)
			if err != nil {
				return nil, err
			}
			act(out.Data, out.Shape[out.Rank()-1])
			return out, nil
		}, nil

	case "LSTM":
		run, err := buildLSTM(l.Config, ws, "")
		if err != nil {
			return nil, err
		}
		return func(inputs []*Tensor) (*Tensor, error) {
			in, err := single(inputs)
			if err != nil {
				return nil, err
			}
			return run(in)
		}, nil

	case "Bidirectional":
		return buildBidirectional(l, ws)

	case "Concatenate":
		axis := int(l.num("axis", -1))
		return func(inputs []*Tensor) (*Tensor, error) {
			return concatenate(inputs, axis)
		}, nil

	case "Add":
		return add, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedModel, l.ClassName)
}

type sequenceFunc func(in *Tensor) (*Tensor, error)

func buildLSTM(config map[string]any, ws map[string]*Tensor, scope string) (sequenceFunc, error) {
	inner := &Layer{Config: config}
	units := int(inner.num("units", 0))
	if units <= 0 {
		return nil, fmt.Errorf("lstm units missing")
	}
	w := lstmWeights{
		kernel:    weightKind(ws, scope, "kernel"),
		recurrent: weightKind(ws, scope, "recurrent_kernel"),
	}
	if w.kernel == nil || w.recurrent == nil {
		return nil, fmt.Errorf("missing lstm weights for %q", scope)
	}
	if inner.boolean("use_bias", true) {
		w.bias = weightKind(ws, scope, "bias")
	}

	act, err := scalarActivation(inner.str("activation", "tanh"))
	if err != nil {
		return nil, err
	}
	recAct, err := scalarActivation(inner.str("recurrent_activation", "sigmoid"))
	if err != nil {
		return nil, err
	}
	sequences := inner.boolean("return_sequences", false)
	backwards := inner.boolean("go_backwards", false)

	return func(in *Tensor) (*Tensor, error) {
		return lstm(in, w, units, act, recAct, sequences, backwards)
	}, nil
}

func scalarActivation(name string) (func(float32) float32, error) {
	switch name {
	case "tanh":
		return tanh, nil
	case "sigmoid":
		return sigmoid, nil
	case "hard_sigmoid":
		return hardSigmoid, nil
	case "linear":
		return func(x float32) float32 { return x }, nil
	case "relu":
		return func(x float32) float32 {
			if x < 0 {
				return 0
			}
			return x
		}, nil
	}
	return nil, fmt.Errorf("unsupported recurrent activation %q", name)
}

// buildBidirectional wires forward and backward LSTMs. Forward weights live
// under a path containing "/forward_", backward under "/backward_".
func buildBidirectional(l *Layer, ws map[string]*Tensor) (layerFunc, error) {
	innerLayer, _ := l.Config["layer"].(map[string]any)
	innerConfig, _ := innerLayer["config"].(map[string]any)
	if innerConfig == nil {
		return nil, fmt.Errorf("bidirectional layer has no wrapped config")
	}

	forwardCfg := copyConfig(innerConfig)
	forwardCfg["go_backwards"] = false
	backwardCfg := copyConfig(innerConfig)
	backwardCfg["go_backwards"] = true

	forward, err := buildLSTM(forwardCfg, ws, "/forward_")
	if err != nil {
		return nil, fmt.Errorf("forward: %w", err)
	}
	backward, err := buildLSTM(backwardCfg, ws, "/backward_")
	if err != nil {
		return nil, fmt.Errorf("backward: %w", err)
	}
	sequences := (&Layer{Config: innerConfig}).boolean("return_sequences", false)
	mode := l.str("merge_mode", "concat")

	return func(inputs []*Tensor) (*Tensor, error) {
		in, err := single(inputs)
		if err != nil {
			return nil, err
		}
		f, err := forward(in)
		if err != nil {
			return nil, err
		}
		b, err := backward(in)
		if err != nil {
			return nil, err
		}
		if sequences {
			b = reverseSteps(b)
		}
		return mergeDirections(f, b, mode)
	}, nil
}

func mergeDirections(f, b *Tensor, mode string) (*Tensor, error) {
	switch mode {
	case "concat":
		return concatenate([]*Tensor{f, b}, -1)
	case "sum", "mul", "ave":
		out := f.clone()
		for i, v := range b.Data {
			switch mode {
			case "sum":
				out.Data[i] += v
			case "mul":
				out.Data[i] *= v
			case "ave":
				out.Data[i] = (out.Data[i] + v) / 2
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported merge_mode %q", mode)
}

func copyConfig(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
