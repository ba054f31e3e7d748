// engine.go - Handwriting recognition engine: model loading, inference, decode

package handwriting

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/bosocmputer/prescription_ocr_gemini/internal/common"
	"go.uber.org/zap"
)

const (
	DefaultWidth  = 200
	DefaultHeight = 64
)

// ErrEmptyOutput is returned when the model produced no timesteps.
var ErrEmptyOutput = errors.New("model produced no output")

// Config selects the model artifacts and preprocessing.
type Config struct {
	// ModelPath is the model.json holding topology and weights manifest.
	ModelPath string
	// ONNXPath, when set, is tried first through ONNX Runtime.
	ONNXPath   string
	ORTLibrary string
	Width      int
	Height     int
	Invert     InvertMode
	Debug      bool
	// Source reads the topology and shards; defaults to the directory of
	// ModelPath.
	Source Source
}

// Engine recognizes a single handwritten line per image. The model is loaded
// once on first use and shared by all callers; a failed load is remembered.
type Engine struct {
	cfg     Config
	runtime *common.Lazy[Runtime]
}

// NewEngine creates an engine; nothing is loaded until the first call.
func NewEngine(cfg Config) *Engine {
	if cfg.Width <= 0 {
		cfg.Width = DefaultWidth
	}
	if cfg.Height <= 0 {
		cfg.Height = DefaultHeight
	}
	if cfg.Source == nil {
		cfg.Source = DirSource{Root: filepath.Dir(cfg.ModelPath)}
	}
	e := &Engine{cfg: cfg}
	e.runtime = common.NewLazy(e.loadRuntime)
	return e
}

// Warmup loads the model without running inference.
func (e *Engine) Warmup(ctx context.Context) error {
	_, err := e.runtime.Get(ctx)
	return err
}

// Recognize runs the model on imagePath.
func (e *Engine) Recognize(ctx context.Context, imagePath string) (Decoded, error) {
	rt, err := e.runtime.Get(ctx)
	if err != nil {
		return Decoded{}, err
	}

	input, inverted, err := PreprocessFile(imagePath, e.cfg.Width, e.cfg.Height, e.cfg.Invert)
	if err != nil {
		return Decoded{}, err
	}

	start := time.Now()
	probs, err := rt.Run(ctx, input)
	if err != nil {
		return Decoded{}, fmt.Errorf("%s inference: %w", rt.Name(), err)
	}
	rows, err := probs.Rows()
	if err != nil {
		return Decoded{}, err
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return Decoded{}, ErrEmptyOutput
	}

	var debugLogger *zap.Logger
	if e.cfg.Debug {
		debugLogger = e.logger()
	}
	decoded := GreedyDecode(rows, BuildSymbolTable(len(rows[0])), debugLogger)

	e.logger().Debug("Handwriting inference complete",
		zap.String("runtime", rt.Name()),
		zap.Bool("inverted", inverted),
		zap.Int("timesteps", len(rows)),
		zap.Int("text_length", len(decoded.Text)),
		zap.Float64("confidence", decoded.Confidence),
		zap.Duration("duration", time.Since(start)),
	)
	return decoded, nil
}

// Close releases the native session if one was loaded.
func (e *Engine) Close() error {
	if !e.runtime.Loaded() {
		return nil
	}
	rt, err := e.runtime.Get(context.Background())
	if err != nil || rt == nil {
		return nil
	}
	return rt.Close()
}

func (e *Engine) logger() *zap.Logger {
	return common.Logger().With(zap.String("component", "handwriting"))
}

// loadRuntime prefers ONNX Runtime and falls back to rebuilding the model
// from its weight shards for the pure-Go executor.
func (e *Engine) loadRuntime(ctx context.Context) (Runtime, error) {
	log := e.logger()

	if e.cfg.ONNXPath != "" {
		rt, err := newORTRuntime(e.cfg.ONNXPath, e.cfg.ORTLibrary)
		if err == nil {
			log.Info("✅ Handwriting model loaded", zap.String("runtime", rt.Name()), zap.String("path", e.cfg.ONNXPath))
			return rt, nil
		}
		log.Warn("ONNX Runtime unavailable, rebuilding model from weight shards", zap.Error(err))
	}

	if e.cfg.ModelPath == "" {
		return nil, fmt.Errorf("no handwriting model configured")
	}
	artifact, report, err := InspectModel(ctx, e.cfg.Source, filepath.Base(e.cfg.ModelPath))
	if err != nil {
		return nil, err
	}
	if !report.Supported() {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedModel, report.Unsupported)
	}

	weights, err := LoadWeights(ctx, e.cfg.Source, artifact.WeightsManifest)
	if err != nil {
		return nil, err
	}
	graph, err := BuildGraph(artifact.Topology, weights)
	if err != nil {
		return nil, err
	}

	log.Info("✅ Handwriting model loaded",
		zap.String("runtime", "go-executor"),
		zap.String("prune_version", report.Version),
		zap.Strings("removed_layers", report.RemovedLayers),
		zap.Int("renamed_weights", len(report.RenamedWeights)),
		zap.Int("weights", len(weights)),
	)
	return &graphRuntime{graph: graph, inputShape: artifact.Topology.InputShape()}, nil
}

// InspectModel loads a topology file and prunes it for inference.
func InspectModel(ctx context.Context, src Source, name string) (*ModelArtifact, PruneReport, error) {
	artifact, err := LoadArtifact(ctx, src, name)
	if err != nil {
		return nil, PruneReport{}, err
	}
	return artifact, PruneForInference(artifact), nil
}
