// prune.go - Reduce a training artifact to its inference graph
//
// Models exported straight from training carry label inputs, a CTC loss layer
// and training metadata. PruneForInference removes them, renames recurrent
// weights to the inference graph convention and leaves char_probs as the only
// output. Layers the executor cannot run are reported, never dropped.

package handwriting

import (
	"sort"
	"strings"
)

// PruneVersion identifies the transformation applied by PruneForInference.
const PruneVersion = "inference-prune/v1"

const (
	imageInputName  = "image"
	charProbsOutput = "char_probs"
)

var trainingOnlyLayers = map[string]bool{
	"label":        true,
	"label_length": true,
	"ctc_loss":     true,
}

var trainingOnlyClasses = map[string]bool{
	"CTCLossLayer": true,
}

var trainingOnlyKeys = []string{
	"training_config",
	"modelInitializer",
	"initializerSignature",
	"signature",
	"inputSignature",
}

// weightPrefixRenames maps training-time LSTM weight prefixes to the names the
// inference graph uses. Longer prefixes come first.
var weightPrefixRenames = []struct{ from, to string }{
	{"forward_lstm/lstm_cell/", "bidirectional/forward_forward_lstm/"},
	{"backward_lstm/lstm_cell/", "bidirectional/backward_forward_lstm/"},
	{"forward_lstm/", "bidirectional/forward_forward_lstm/"},
	{"backward_lstm/", "bidirectional/backward_forward_lstm/"},
}

var batchShapeAliases = []string{"batch_input_shape", "batchInputShape", "batch_shape", "batchShape"}

// UnsupportedLayer is a layer whose class the pure-Go executor cannot run.
type UnsupportedLayer struct {
	Name      string `json:"name"`
	ClassName string `json:"class_name"`
}

// PruneReport describes what PruneForInference changed.
type PruneReport struct {
	Version        string             `json:"version"`
	RemovedLayers  []string           `json:"removed_layers"`
	RemovedKeys    []string           `json:"removed_keys"`
	RenamedWeights map[string]string  `json:"renamed_weights"`
	Inputs         []string           `json:"inputs"`
	Outputs        []string           `json:"outputs"`
	Unsupported    []UnsupportedLayer `json:"unsupported"`
}

// Supported reports whether the executor can run every remaining layer.
func (r PruneReport) Supported() bool {
	return len(r.Unsupported) == 0
}

// PruneForInference rewrites artifact in place and reports the changes. It
// is idempotent.
func PruneForInference(artifact *ModelArtifact) PruneReport {
	report := PruneReport{Version: PruneVersion, RenamedWeights: map[string]string{}}
	cfg := artifact.Topology
	if cfg == nil {
		return report
	}

	removed := make(map[string]bool)
	for _, l := range cfg.Layers {
		if trainingOnlyLayers[l.Name] || trainingOnlyClasses[l.ClassName] {
			removed[l.Name] = true
		}
	}
	// anything fed by a removed layer only exists for training
	for changed := true; changed; {
		changed = false
		for _, l := range cfg.Layers {
			if removed[l.Name] {
				continue
			}
			if consumesAny(l, removed) {
				removed[l.Name] = true
				changed = true
			}
		}
	}

	kept := cfg.Layers[:0]
	for _, l := range cfg.Layers {
		if removed[l.Name] {
			report.RemovedLayers = append(report.RemovedLayers, l.Name)
			continue
		}
		if l.ClassName == "InputLayer" {
			normalizeInputLayer(l)
		}
		kept = append(kept, l)
	}
	cfg.Layers = kept

	cfg.InputLayers = pruneInputs(cfg.InputLayers, removed)
	if cfg.Layer(charProbsOutput) != nil {
		cfg.OutputLayers = []LayerRef{{Layer: charProbsOutput}}
	} else {
		cfg.OutputLayers = filterRefs(cfg.OutputLayers, removed)
	}

	for _, key := range trainingOnlyKeys {
		if _, ok := artifact.Extra[key]; ok {
			delete(artifact.Extra, key)
			report.RemovedKeys = append(report.RemovedKeys, key)
		}
	}

	for gi := range artifact.WeightsManifest {
		weights := artifact.WeightsManifest[gi].Weights
		for wi := range weights {
			if renamed := NormalizeWeightName(weights[wi].Name); renamed != weights[wi].Name {
				report.RenamedWeights[weights[wi].Name] = renamed
				weights[wi].Name = renamed
			}
		}
	}

	for _, ref := range cfg.InputLayers {
		report.Inputs = append(report.Inputs, ref.Layer)
	}
	for _, ref := range cfg.OutputLayers {
		report.Outputs = append(report.Outputs, ref.Layer)
	}
	report.Unsupported = unsupportedLayers(cfg)
	sort.Strings(report.RemovedLayers)
	return report
}

// NormalizeWeightName maps training-time recurrent weight names onto the
// inference graph; other names are returned unchanged.
func NormalizeWeightName(name string) string {
	for _, r := range weightPrefixRenames {
		if strings.HasPrefix(name, r.from) {
			return r.to + strings.TrimPrefix(name, r.from)
		}
	}
	return name
}

func consumesAny(l *Layer, removed map[string]bool) bool {
	for _, node := range l.InboundNodes {
		for _, ref := range node {
			if removed[ref.Layer] {
				return true
			}
		}
	}
	return false
}

// pruneInputs keeps only the image input when the model declares one.
func pruneInputs(refs []LayerRef, removed map[string]bool) []LayerRef {
	for _, ref := range refs {
		if ref.Layer == imageInputName {
			return []LayerRef{ref}
		}
	}
	return filterRefs(refs, removed)
}

func filterRefs(refs []LayerRef, removed map[string]bool) []LayerRef {
	var out []LayerRef
	for _, ref := range refs {
		if !removed[ref.Layer] {
			out = append(out, ref)
		}
	}
	return out
}

// normalizeInputLayer makes batch_input_shape available whichever alias the
// exporter used, and defaults the dtype.
func normalizeInputLayer(l *Layer) {
	var shape any
	for _, alias := range batchShapeAliases {
		if v, ok := l.Config[alias]; ok && v != nil {
			shape = v
			break
		}
	}
	if shape == nil {
		return
	}
	for _, alias := range []string{"batch_input_shape", "batchInputShape"} {
		if _, ok := l.Config[alias]; !ok {
			l.Config[alias] = shape
		}
	}
	if _, ok := l.Config["dtype"]; !ok {
		l.Config["dtype"] = "float32"
	}
}

// InputShape returns the declared image input shape without the batch
// dimension, or nil when unknown.
func (m *ModelConfig) InputShape() []int {
	name := imageInputName
	if len(m.InputLayers) > 0 {
		name = m.InputLayers[0].Layer
	}
	l := m.Layer(name)
	if l == nil {
		return nil
	}
	shape := l.ints("batch_input_shape", 0, nil)
	if len(shape) < 2 {
		return nil
	}
	return shape[1:]
}

func unsupportedLayers(cfg *ModelConfig) []UnsupportedLayer {
	var out []UnsupportedLayer
	for _, l := range cfg.Layers {
		if !layerSupported(l) {
			out = append(out, UnsupportedLayer{Name: l.Name, ClassName: l.ClassName})
		}
	}
	return out
}
