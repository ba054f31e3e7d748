// bootstrap.go - Builds a ready Analyzer from the loaded configuration

package bootstrap

import (
	"context"
	"fmt"
	"io"

	"github.com/bosocmputer/prescription_ocr_gemini/configs"
	"github.com/bosocmputer/prescription_ocr_gemini/internal/ai"
	"github.com/bosocmputer/prescription_ocr_gemini/internal/common"
	"github.com/bosocmputer/prescription_ocr_gemini/internal/handwriting"
	"github.com/bosocmputer/prescription_ocr_gemini/internal/metrics"
	"github.com/bosocmputer/prescription_ocr_gemini/internal/ocr"
	"github.com/bosocmputer/prescription_ocr_gemini/internal/pipeline"
	"github.com/bosocmputer/prescription_ocr_gemini/internal/ratelimit"
	"github.com/bosocmputer/prescription_ocr_gemini/internal/storage"
	"go.uber.org/zap"
)

const (
	CatalogueCSV   = "csv"
	CatalogueMongo = "mongo"
)

// App holds the wired components. Close releases the model runtime and the
// database connection.
type App struct {
	Analyzer   *pipeline.Analyzer
	Catalogue  *storage.CatalogueStore
	Recognizer *ocr.Engine
	Metrics    *metrics.Metrics

	closers []func()
}

// InitLogger replaces the process logger according to LOG_LEVEL and LOG_FORMAT.
func InitLogger() error {
	logger, err := common.NewLogger(configs.LOG_LEVEL, configs.LOG_FORMAT)
	if err != nil {
		return err
	}
	common.SetLogger(logger)
	return nil
}

// New wires configs into an Analyzer. configs.LoadConfig must have run.
func New() (*App, error) {
	if err := InitLogger(); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	ratelimit.Configure(configs.AI_RATE_LIMIT_TOKENS, configs.AI_RATE_LIMIT_REFILL)

	app := &App{Metrics: metrics.New()}

	source, err := app.catalogueSource()
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Catalogue = storage.NewCatalogueStore(source, func(c *storage.Catalogue) {
		app.Metrics.SetCatalogueSize(c.Len())
	})

	backend, err := ocr.CreateRecognizer(RecognitionConfig())
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("create recognizer: %w", err)
	}
	if closer, ok := backend.(io.Closer); ok {
		app.closers = append(app.closers, func() { _ = closer.Close() })
	}
	app.Recognizer = ocr.NewEngine(backend, configs.RECOGNITION_TIMEOUT, app.Metrics)

	primary, secondary, err := ai.CreateNameExtractorWithFallback()
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("create AI fallback provider: %w", err)
	}
	if primary == nil {
		common.Logger().Warn("⚠️  AI fallback disabled: no API key configured", zap.String("provider", configs.FALLBACK_PROVIDER))
	}
	reconciler := ai.NewReconciler(primary, secondary, configs.AI_FALLBACK_TIMEOUT, app.Metrics)

	app.Analyzer = pipeline.NewAnalyzer(app.Recognizer, app.Catalogue, reconciler, pipeline.WithMetrics(app.Metrics))

	common.Logger().Info("✅ Prescription analyzer ready",
		zap.String("recognition_backend", app.Recognizer.Backend()),
		zap.String("catalogue_source", source.Name()),
		zap.Bool("ai_fallback", reconciler.Enabled()),
	)
	return app, nil
}

// Warmup loads the catalogue and, for the handwriting backend, the model.
// Failures are logged; requests then degrade as usual.
func (a *App) Warmup(ctx context.Context) {
	if _, err := a.Catalogue.Get(ctx); err != nil {
		common.Logger().Warn("⚠️  Catalogue warmup failed", zap.Error(err))
	}
	if w, ok := a.Recognizer.Unwrap().(interface{ Warmup(context.Context) error }); ok {
		if err := w.Warmup(ctx); err != nil {
			common.Logger().Warn("⚠️  Recognition model warmup failed", zap.Error(err))
		}
	}
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) catalogueSource() (storage.Source, error) {
	switch configs.CATALOGUE_SOURCE {
	case CatalogueCSV, "":
		return storage.NewCSVSource(configs.CATALOGUE_PATH), nil
	case CatalogueMongo:
		if err := storage.InitMongoDB(); err != nil {
			return nil, err
		}
		a.closers = append(a.closers, storage.CloseMongoDB)
		return storage.NewMongoSource(storage.GetMongoDB().Collection(configs.MONGO_MEDICINE_COLLECTION)), nil
	default:
		return nil, fmt.Errorf("unsupported catalogue source: %s (supported: csv, mongo)", configs.CATALOGUE_SOURCE)
	}
}

// RecognitionConfig maps the recognition settings onto the backend factory.
func RecognitionConfig() ocr.BackendConfig {
	return ocr.BackendConfig{
		Backend: configs.RECOGNITION_BACKEND,
		Tesseract: ocr.TesseractConfig{
			Language:     configs.OCR_LANGUAGE,
			Preprocess:   configs.ENABLE_IMAGE_PREPROCESSING,
			MaxDimension: configs.MAX_IMAGE_DIMENSION,
		},
		Handwriting: HandwritingConfig(),
	}
}

// HandwritingConfig maps the handwriting model settings.
func HandwritingConfig() handwriting.Config {
	return handwriting.Config{
		ModelPath:  configs.HANDWRITING_MODEL_PATH,
		ONNXPath:   configs.HANDWRITING_ONNX_PATH,
		ORTLibrary: configs.ONNXRUNTIME_LIB,
		Width:      configs.HANDWRITING_WIDTH,
		Height:     configs.HANDWRITING_HEIGHT,
		Invert:     handwriting.ParseInvertMode(configs.PRESCRIPTION_INVERT),
		Debug:      configs.PRESCRIPTION_DEBUG,
	}
}
