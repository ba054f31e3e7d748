// topology.go - Typed representation of a layers-model artifact (model.json)
//
// The artifact is a JSON document holding the Keras model config under
// modelTopology plus a weightsManifest listing binary shards. Both the
// legacy Keras 2 inbound node layout and the Keras 3 args/kwargs layout are
// accepted and normalized into InboundRef lists on decode.

package handwriting

import (
	"encoding/json"
	"fmt"
)

// ModelArtifact is a parsed model.json.
type ModelArtifact struct {
	Format          string
	GeneratedBy     string
	ConvertedBy     string
	Topology        *ModelConfig
	WeightsManifest []WeightGroup

	// Extra keeps unknown top-level keys (training_config, signature, ...).
	Extra map[string]json.RawMessage
}

// ModelConfig is the functional (or sequential) graph description.
type ModelConfig struct {
	ClassName    string
	Name         string
	Layers       []*Layer
	InputLayers  []LayerRef
	OutputLayers []LayerRef
}

// Layer is one node of the graph. Config keeps the raw Keras config decoded
// into generic JSON values; typed accessors live on Layer.
type Layer struct {
	ClassName    string
	Name         string
	Config       map[string]any
	InboundNodes [][]InboundRef
}

// InboundRef points at output Tensor of node Node of layer Layer.
type InboundRef struct {
	Layer  string
	Node   int
	Tensor int
	Kwargs map[string]any
}

// LayerRef is an entry of input_layers / output_layers.
type LayerRef struct {
	Layer  string
	Node   int
	Tensor int
}

// WeightGroup is one weightsManifest entry: shards plus the weights they hold.
type WeightGroup struct {
	Paths   []string     `json:"paths"`
	Weights []WeightSpec `json:"weights"`
}

// WeightSpec describes one weight inside the concatenated shard data.
type WeightSpec struct {
	Name  string `json:"name"`
	Shape []int  `json:"shape"`
	DType string `json:"dtype"`
}

// ParseModelArtifact decodes a model.json document.
func ParseModelArtifact(data []byte) (*ModelArtifact, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("decode model artifact: %w", err)
	}

	artifact := &ModelArtifact{Extra: make(map[string]json.RawMessage)}
	for key, raw := range top {
		var err error
		switch key {
		case "format":
			err = json.Unmarshal(raw, &artifact.Format)
		case "generatedBy":
			err = json.Unmarshal(raw, &artifact.GeneratedBy)
		case "convertedBy":
			err = json.Unmarshal(raw, &artifact.ConvertedBy)
		case "weightsManifest":
			err = json.Unmarshal(raw, &artifact.WeightsManifest)
		case "modelTopology":
			artifact.Topology, err = parseTopology(raw)
		default:
			artifact.Extra[key] = raw
		}
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
	}
	if artifact.Topology == nil {
		return nil, fmt.Errorf("model artifact has no modelTopology")
	}
	return artifact, nil
}

// parseTopology accepts {model_config: {class_name, config}} as written by
// the Keras converter and a bare {class_name, config}.
func parseTopology(raw json.RawMessage) (*ModelConfig, error) {
	var wrapper struct {
		ModelConfig *rawModel `json:"model_config"`
		rawModel
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return nil, err
	}
	if wrapper.ModelConfig != nil && wrapper.ModelConfig.Config != nil {
		return wrapper.ModelConfig.toModelConfig()
	}
	if wrapper.Config != nil {
		return wrapper.rawModel.toModelConfig()
	}
	return nil, fmt.Errorf("no model config found")
}

type rawModel struct {
	ClassName string          `json:"class_name"`
	Config    *rawModelConfig `json:"config"`
}

type rawModelConfig struct {
	Name         string          `json:"name"`
	Layers       []rawLayer      `json:"layers"`
	InputLayers  json.RawMessage `json:"input_layers"`
	OutputLayers json.RawMessage `json:"output_layers"`
}

type rawLayer struct {
	ClassName    string            `json:"class_name"`
	Name         string            `json:"name"`
	Config       map[string]any    `json:"config"`
	InboundNodes []json.RawMessage `json:"inbound_nodes"`
}

func (m *rawModel) toModelConfig() (*ModelConfig, error) {
	cfg := &ModelConfig{ClassName: m.ClassName, Name: m.Config.Name}
	for i, rl := range m.Config.Layers {
		layer := &Layer{ClassName: rl.ClassName, Name: rl.Name, Config: rl.Config}
		if layer.Config == nil {
			layer.Config = map[string]any{}
		}
		if layer.Name == "" {
			layer.Name, _ = layer.Config["name"].(string)
		}
		if layer.Name == "" {
			return nil, fmt.Errorf("layer %d (%s) has no name", i, rl.ClassName)
		}
		for _, node := range rl.InboundNodes {
			refs, err := parseInboundNode(node)
			if err != nil {
				return nil, fmt.Errorf("layer %s: %w", layer.Name, err)
			}
			if len(refs) > 0 {
				layer.InboundNodes = append(layer.InboundNodes, refs)
			}
		}
		cfg.Layers = append(cfg.Layers, layer)
	}

	var err error
	if cfg.InputLayers, err = parseLayerRefs(m.Config.InputLayers); err != nil {
		return nil, fmt.Errorf("input_layers: %w", err)
	}
	if cfg.OutputLayers, err = parseLayerRefs(m.Config.OutputLayers); err != nil {
		return nil, fmt.Errorf("output_layers: %w", err)
	}
	return cfg, nil
}

// parseInboundNode handles [[name, node, tensor, kwargs], ...] and
// {"args": [...keras tensors...], "kwargs": {...}}.
func parseInboundNode(raw json.RawMessage) ([]InboundRef, error) {
	var legacy [][]any
	if err := json.Unmarshal(raw, &legacy); err == nil {
		refs := make([]InboundRef, 0, len(legacy))
		for _, entry := range legacy {
			ref, ok := refFromList(entry)
			if !ok {
				return nil, fmt.Errorf("malformed inbound node %v", entry)
			}
			if len(entry) > 3 {
				ref.Kwargs, _ = entry[3].(map[string]any)
			}
			refs = append(refs, ref)
		}
		return refs, nil
	}

	var modern struct {
		Args   []any          `json:"args"`
		Kwargs map[string]any `json:"kwargs"`
	}
	if err := json.Unmarshal(raw, &modern); err != nil {
		return nil, fmt.Errorf("unrecognized inbound node: %w", err)
	}
	var refs []InboundRef
	collectKerasHistory(modern.Args, &refs)
	for i := range refs {
		refs[i].Kwargs = modern.Kwargs
	}
	return refs, nil
}

// collectKerasHistory walks Keras 3 call args, which may nest tensor lists
// (e.g. Concatenate receives one list argument).
func collectKerasHistory(v any, refs *[]InboundRef) {
	switch val := v.(type) {
	case []any:
		for _, item := range val {
			collectKerasHistory(item, refs)
		}
	case map[string]any:
		cfg, _ := val["config"].(map[string]any)
		history, _ := cfg["keras_history"].([]any)
		if ref, ok := refFromList(history); ok {
			*refs = append(*refs, ref)
		}
	}
}

func refFromList(entry []any) (InboundRef, bool) {
	if len(entry) < 3 {
		return InboundRef{}, false
	}
	name, ok := entry[0].(string)
	if !ok {
		return InboundRef{}, false
	}
	node, ok1 := entry[1].(float64)
	tensor, ok2 := entry[2].(float64)
	if !ok1 || !ok2 {
		return InboundRef{}, false
	}
	return InboundRef{Layer: name, Node: int(node), Tensor: int(tensor)}, true
}

// parseLayerRefs accepts [[name, node, tensor], ...] and a single
// [name, node, tensor].
func parseLayerRefs(raw json.RawMessage) ([]LayerRef, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var list [][]any
	if err := json.Unmarshal(raw, &list); err != nil {
		var single []any
		if err2 := json.Unmarshal(raw, &single); err2 != nil {
			return nil, err
		}
		list = [][]any{single}
	}
	refs := make([]LayerRef, 0, len(list))
	for _, entry := range list {
		ref, ok := refFromList(entry)
		if !ok {
			return nil, fmt.Errorf("malformed layer reference %v", entry)
		}
		refs = append(refs, LayerRef{Layer: ref.Layer, Node: ref.Node, Tensor: ref.Tensor})
	}
	return refs, nil
}

// Layer returns the named layer, or nil.
func (m *ModelConfig) Layer(name string) *Layer {
	for _, l := range m.Layers {
		if l.Name == name {
			return l
		}
	}
	return nil
}

func (l *Layer) str(key, def string) string {
	if v, ok := l.Config[key].(string); ok && v != "" {
		return v
	}
	return def
}

func (l *Layer) boolean(key string, def bool) bool {
	if v, ok := l.Config[key].(bool); ok {
		return v
	}
	return def
}

func (l *Layer) num(key string, def float64) float64 {
	if v, ok := l.Config[key].(float64); ok {
		return v
	}
	return def
}

// ints reads an integer tuple; a scalar is repeated n times. null entries
// (unknown dims) become -1.
func (l *Layer) ints(key string, n int, def []int) []int {
	return toInts(l.Config[key], n, def)
}

func toInts(v any, n int, def []int) []int {
	switch val := v.(type) {
	case float64:
		out := make([]int, n)
		for i := range out {
			out[i] = int(val)
		}
		return out
	case []any:
		out := make([]int, len(val))
		for i, item := range val {
			if f, ok := item.(float64); ok {
				out[i] = int(f)
			} else {
				out[i] = -1
			}
		}
		return out
	}
	return def
}
