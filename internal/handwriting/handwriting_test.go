package handwriting

import (
	"context"
	"encoding/binary"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const trainingModelJSON = `{
  "format": "layers-model",
  "generatedBy": "keras v3.1.0",
  "convertedBy": "TensorFlow.js Converter v4.17.0",
  "modelTopology": {
    "keras_version": "3.1.0",
    "model_config": {
      "class_name": "Functional",
      "config": {
        "name": "ocr_model",
        "layers": [
          {"class_name": "InputLayer", "name": "image", "config": {"batch_shape": [null, 4, 6, 1], "name": "image"}, "inbound_nodes": []},
          {"class_name": "Permute", "name": "permute", "config": {"dims": [2, 1, 3]},
           "inbound_nodes": [{"args": [{"class_name": "__keras_tensor__", "config": {"shape": [null, 4, 6, 1], "keras_history": ["image", 0, 0]}}], "kwargs": {}}]},
          {"class_name": "Reshape", "name": "reshape", "config": {"target_shape": [6, -1]}, "inbound_nodes": [[["permute", 0, 0, {}]]]},
          {"class_name": "Dense", "name": "char_probs", "config": {"units": 3, "activation": "softmax"}, "inbound_nodes": [[["reshape", 0, 0, {}]]]},
          {"class_name": "InputLayer", "name": "label", "config": {"batch_input_shape": [null, 8]}, "inbound_nodes": []},
          {"class_name": "InputLayer", "name": "label_length", "config": {"batch_input_shape": [null, 1]}, "inbound_nodes": []},
          {"class_name": "CTCLossLayer", "name": "ctc_loss", "config": {}, "inbound_nodes": [[["label", 0, 0, {}], ["char_probs", 0, 0, {}], ["label_length", 0, 0, {}]]]}
        ],
        "input_layers": [["image", 0, 0], ["label", 0, 0], ["label_length", 0, 0]],
        "output_layers": [["ctc_loss", 0, 0]]
      }
    }
  },
  "training_config": {"loss": null},
  "signature": {},
  "weightsManifest": [
    {"paths": ["group1-shard1of2.bin", "group1-shard2of2.bin"], "weights": [
      {"name": "char_probs/kernel", "shape": [4, 3], "dtype": "float32"},
      {"name": "char_probs/bias", "shape": [3], "dtype": "float32"}
    ]},
    {"paths": ["group2-shard1of1.bin"], "weights": [
      {"name": "forward_lstm/lstm_cell/bias", "shape": [1], "dtype": "float32"}
    ]}
  ]
}`

func float32Bytes(values ...float32) []byte {
	out := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

// writeTrainingModel writes the fixture model; char_probs always prefers
// class 1 regardless of the image.
func writeTrainingModel(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	weights := float32Bytes(
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, // kernel
		0, 5, 0, // bias
	)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model.json"), []byte(trainingModelJSON), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "group1-shard1of2.bin"), weights[:40], 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "group1-shard2of2.bin"), weights[40:], 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "group2-shard1of1.bin"), float32Bytes(0.5), 0o644))
	return dir
}

func TestParseModelArtifactAcceptsBothInboundLayouts(t *testing.T) {
	artifact, err := ParseModelArtifact([]byte(trainingModelJSON))
	require.NoError(t, err)

	cfg := artifact.Topology
	require.NotNil(t, cfg)
	assert.Equal(t, "Functional", cfg.ClassName)
	assert.Len(t, cfg.Layers, 7)

	permuteLayer := cfg.Layer("permute")
	require.NotNil(t, permuteLayer)
	require.Len(t, permuteLayer.InboundNodes, 1)
	assert.Equal(t, "image", permuteLayer.InboundNodes[0][0].Layer)

	ctc := cfg.Layer("ctc_loss")
	require.NotNil(t, ctc)
	require.Len(t, ctc.InboundNodes[0], 3)
	assert.Equal(t, "char_probs", ctc.InboundNodes[0][1].Layer)

	assert.Contains(t, artifact.Extra, "training_config")
	require.Len(t, artifact.WeightsManifest, 2)
}

func TestParseModelArtifactRejectsMissingTopology(t *testing.T) {
	_, err := ParseModelArtifact([]byte(`{"format": "layers-model"}`))
	assert.Error(t, err)
	_, err = ParseModelArtifact([]byte(`not json`))
	assert.Error(t, err)
}

func TestPruneForInference(t *testing.T) {
	artifact, err := ParseModelArtifact([]byte(trainingModelJSON))
	require.NoError(t, err)

	report := PruneForInference(artifact)
	assert.Equal(t, PruneVersion, report.Version)
	assert.Equal(t, []string{"ctc_loss", "label", "label_length"}, report.RemovedLayers)
	assert.ElementsMatch(t, []string{"training_config", "signature"}, report.RemovedKeys)
	assert.Equal(t, []string{"image"}, report.Inputs)
	assert.Equal(t, []string{"char_probs"}, report.Outputs)
	assert.Equal(t, map[string]string{
		"forward_lstm/lstm_cell/bias": "bidirectional/forward_forward_lstm/bias",
	}, report.RenamedWeights)
	assert.True(t, report.Supported())

	assert.Nil(t, artifact.Topology.Layer("ctc_loss"))
	assert.Equal(t, []int{4, 6, 1}, artifact.Topology.InputShape())
	assert.Equal(t, "float32", artifact.Topology.Layer("image").Config["dtype"])

	again := PruneForInference(artifact)
	assert.Empty(t, again.RemovedLayers)
	assert.Empty(t, again.RenamedWeights)
	assert.Empty(t, again.RemovedKeys)
}

func TestPruneReportsUnsupportedLayers(t *testing.T) {
	cfg := &ModelConfig{Layers: []*Layer{
		{ClassName: "InputLayer", Name: "image", Config: map[string]any{}},
		{ClassName: "GRU", Name: "gru", Config: map[string]any{}, InboundNodes: [][]InboundRef{{{Layer: "image"}}}},
	}}
	report := PruneForInference(&ModelArtifact{Topology: cfg})
	require.Len(t, report.Unsupported, 1)
	assert.Equal(t, "gru", report.Unsupported[0].Name)
	assert.False(t, report.Supported())

	_, err := BuildGraph(cfg, nil)
	assert.ErrorIs(t, err, ErrUnsupportedModel)
}

func TestNormalizeWeightName(t *testing.T) {
	assert.Equal(t, "bidirectional/forward_forward_lstm/kernel", NormalizeWeightName("forward_lstm/lstm_cell/kernel"))
	assert.Equal(t, "bidirectional/backward_forward_lstm/recurrent_kernel", NormalizeWeightName("backward_lstm/recurrent_kernel"))
	assert.Equal(t, "dense/kernel", NormalizeWeightName("dense/kernel"))
}

func TestLoadWeightsConcatenatesShards(t *testing.T) {
	dir := writeTrainingModel(t)
	artifact, err := LoadArtifact(context.Background(), DirSource{Root: dir}, "model.json")
	require.NoError(t, err)

	weights, err := LoadWeights(context.Background(), DirSource{Root: dir}, artifact.WeightsManifest)
	require.NoError(t, err)
	require.Contains(t, weights, "char_probs/bias")
	assert.Equal(t, []int{3}, weights["char_probs/bias"].Shape)
	assert.Equal(t, []float32{0, 5, 0}, weights["char_probs/bias"].Data)
	assert.Equal(t, []float32{0.5}, weights["forward_lstm/lstm_cell/bias"].Data)

	short := []WeightGroup{{Paths: []string{"group2-shard1of1.bin"}, Weights: []WeightSpec{{Name: "w", Shape: []int{2}}}}}
	_, err = LoadWeights(context.Background(), DirSource{Root: dir}, short)
	assert.Error(t, err)

	missing := []WeightGroup{{Paths: []string{"nope.bin"}}}
	_, err = LoadWeights(context.Background(), DirSource{Root: dir}, missing)
	assert.Error(t, err)
}

func TestBuildSymbolTable(t *testing.T) {
	table := BuildSymbolTable(7)
	assert.Equal(t, []string{"(", ")", "+", ",", "-", ".", ""}, table)

	large := BuildSymbolTable(200)
	require.Len(t, large, 200)
	assert.Equal(t, "", large[199])
	assert.Equal(t, "?", large[198])

	seen := map[string]bool{}
	for _, s := range large[:100] {
		if s == "?" {
			continue
		}
		assert.False(t, seen[s], "duplicate symbol %q", s)
		seen[s] = true
	}
	assert.Equal(t, []string{""}, BuildSymbolTable(1))
	assert.Nil(t, BuildSymbolTable(0))
}

func oneHot(numClasses int, indexes []int, p float32) [][]float32 {
	steps := make([][]float32, len(indexes))
	for i, idx := range indexes {
		row := make([]float32, numClasses)
		rest := (1 - p) / float32(numClasses-1)
		for j := range row {
			row[j] = rest
		}
		row[idx] = p
		steps[i] = row
	}
	return steps
}

func TestGreedyDecodeCollapsesRepeatsAndBlank(t *testing.T) {
	symbols := BuildSymbolTable(7)
	blank := 6
	decoded := GreedyDecode(oneHot(7, []int{2, 2, 5, 5, 5, blank, 5}, 0.9), symbols, nil)

	assert.Equal(t, "+..", decoded.Text)
	assert.Len(t, decoded.CharConfidences, 3)
	assert.InDelta(t, 0.9, decoded.Confidence, 1e-9)
}

func TestGreedyDecodeEmpty(t *testing.T) {
	symbols := BuildSymbolTable(7)
	decoded := GreedyDecode(oneHot(7, []int{6, 6, 6}, 0.8), symbols, nil)
	assert.Equal(t, "", decoded.Text)
	assert.Equal(t, 0.0, decoded.Confidence)
	assert.Empty(t, decoded.CharConfidences)

	decoded = GreedyDecode(nil, symbols, nil)
	assert.Equal(t, 0.0, decoded.Confidence)
}

func TestGreedyDecodeRoundsConfidence(t *testing.T) {
	symbols := BuildSymbolTable(4)
	steps := [][]float32{{0.12345, 0.8, 0.03, 0.04655}, {0.7, 0.1, 0.1, 0.1}}
	decoded := GreedyDecode(steps, symbols, nil)
	assert.Equal(t, ")(", decoded.Text)
	assert.Equal(t, []float64{0.8, 0.7}, decoded.CharConfidences)
	assert.InDelta(t, 0.75, decoded.Confidence, 1e-9)
}

func TestPreprocessInversion(t *testing.T) {
	white := imaging.New(10, 4, color.White)

	auto, inverted := Preprocess(white, 5, 2, InvertAuto)
	assert.True(t, inverted)
	assert.Equal(t, []int{2, 5, 1}, auto.Shape)
	for _, v := range auto.Data {
		assert.InDelta(t, 0.0, v, 1e-6)
	}

	never, inverted := Preprocess(white, 5, 2, InvertNever)
	assert.False(t, inverted)
	assert.InDelta(t, 1.0, never.Data[0], 1e-6)

	black := imaging.New(10, 4, color.Black)
	_, inverted = Preprocess(black, 5, 2, InvertAuto)
	assert.False(t, inverted)
	forced, inverted := Preprocess(black, 5, 2, InvertAlways)
	assert.True(t, inverted)
	assert.InDelta(t, 1.0, forced.Data[0], 1e-6)
}

func TestParseInvertMode(t *testing.T) {
	assert.Equal(t, InvertAlways, ParseInvertMode("1"))
	assert.Equal(t, InvertNever, ParseInvertMode("0"))
	assert.Equal(t, InvertAuto, ParseInvertMode(""))
	assert.Equal(t, InvertAuto, ParseInvertMode("auto"))
	assert.Equal(t, "never", InvertNever.String())
}

func TestConv2DPadding(t *testing.T) {
	in := &Tensor{Shape: []int{3, 3, 1}, Data: []float32{1, 1, 1, 1, 1, 1, 1, 1, 1}}
	kernel := &Tensor{Shape: []int{2, 2, 1, 1}, Data: []float32{1, 1, 1, 1}}

	valid, err := conv2D(in, kernel, nil, []int{1, 1}, false)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 1}, valid.Shape)
	assert.Equal(t, []float32{4, 4, 4, 4}, valid.Data)

	same, err := conv2D(in, kernel, &Tensor{Shape: []int{1}, Data: []float32{1}}, []int{1, 1}, true)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 3, 1}, same.Shape)
	assert.Equal(t, float32(5), same.Data[0])
	assert.Equal(t, float32(2), same.Data[8])
}

func TestMaxPoolPermuteReshape(t *testing.T) {
	in := &Tensor{Shape: []int{2, 4, 1}, Data: []float32{1, 2, 3, 4, 5, 6, 7, 8}}
	pooled, err := maxPool2D(in, []int{2, 2}, []int{2, 2}, false)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 1}, pooled.Shape)
	assert.Equal(t, []float32{6, 8}, pooled.Data)

	m := &Tensor{Shape: []int{2, 3}, Data: []float32{1, 2, 3, 4, 5, 6}}
	transposed, err := permute(m, []int{2, 1})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, transposed.Shape)
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, transposed.Data)

	reshaped, err := reshape(m, []int{-1, 2})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, reshaped.Shape)
	_, err = reshape(m, []int{4, -1})
	assert.Error(t, err)
}

func lstmLayerConfig() map[string]any {
	return map[string]any{"units": float64(1), "return_sequences": true}
}

func lstmTestWeights(prefix string) map[string]*Tensor {
	return map[string]*Tensor{
		prefix + "kernel":           {Shape: []int{1, 4}, Data: []float32{0, 0, 0, 0}},
		prefix + "recurrent_kernel": {Shape: []int{1, 4}, Data: []float32{0, 0, 0, 0}},
		prefix + "bias":             {Shape: []int{4}, Data: []float32{0, 0, 10, 0}},
	}
}

func TestBidirectionalLSTM(t *testing.T) {
	weights := map[string]*Tensor{}
	for k, v := range lstmTestWeights("bidirectional/forward_forward_lstm/") {
		weights[k] = v
	}
	for k, v := range lstmTestWeights("bidirectional/backward_forward_lstm/") {
		weights[k] = v
	}
	cfg := &ModelConfig{
		Layers: []*Layer{
			{ClassName: "InputLayer", Name: "seq", Config: map[string]any{}},
			{ClassName: "Bidirectional", Name: "bidirectional", Config: map[string]any{
				"merge_mode": "concat",
				"layer":      map[string]any{"class_name": "LSTM", "config": lstmLayerConfig()},
			}, InboundNodes: [][]InboundRef{{{Layer: "seq"}}}},
		},
		InputLayers:  []LayerRef{{Layer: "seq"}},
		OutputLayers: []LayerRef{{Layer: "bidirectional"}},
	}
	graph, err := BuildGraph(cfg, weights)
	require.NoError(t, err)

	out, err := graph.Run(context.Background(), &Tensor{Shape: []int{2, 1}, Data: []float32{0, 0}})
	require.NoError(t, err)
	require.Equal(t, []int{2, 2}, out.Shape)

	first := 0.5 * math.Tanh(0.5)
	second := 0.5 * math.Tanh(0.75)
	assert.InDelta(t, first, out.Data[0], 1e-3)
	assert.InDelta(t, second, out.Data[1], 1e-3)
	assert.InDelta(t, second, out.Data[2], 1e-3)
	assert.InDelta(t, first, out.Data[3], 1e-3)
}

func TestGraphMissingWeights(t *testing.T) {
	cfg := &ModelConfig{Layers: []*Layer{
		{ClassName: "InputLayer", Name: "image", Config: map[string]any{}},
		{ClassName: "Dense", Name: "dense", Config: map[string]any{"units": float64(2)}},
	}}
	_, err := BuildGraph(cfg, map[string]*Tensor{})
	assert.Error(t, err)
}

func TestEngineRecognizesWithRebuiltModel(t *testing.T) {
	dir := writeTrainingModel(t)
	imgPath := filepath.Join(t.TempDir(), "line.png")
	require.NoError(t, imaging.Save(imaging.New(30, 20, color.White), imgPath))

	engine := NewEngine(Config{
		ModelPath: filepath.Join(dir, "model.json"),
		Width:     6,
		Height:    4,
		Debug:     true,
	})
	decoded, err := engine.Recognize(context.Background(), imgPath)
	require.NoError(t, err)

	// softmax([0, 5, 0])[1]
	want := math.Exp(5) / (math.Exp(5) + 2)
	assert.Equal(t, ")", decoded.Text)
	assert.InDelta(t, want, decoded.Confidence, 1e-3)
	assert.Len(t, decoded.CharConfidences, 1)
	assert.NoError(t, engine.Close())
}

func TestEngineMissingModelFailsAndRemembers(t *testing.T) {
	engine := NewEngine(Config{ModelPath: filepath.Join(t.TempDir(), "model.json")})
	_, err := engine.Recognize(context.Background(), "whatever.png")
	require.Error(t, err)
	assert.Error(t, engine.Warmup(context.Background()))
}
