package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bosocmputer/prescription_ocr_gemini/configs"
	"github.com/bosocmputer/prescription_ocr_gemini/internal/common"
	"github.com/bosocmputer/prescription_ocr_gemini/internal/handwriting"
	"github.com/bosocmputer/prescription_ocr_gemini/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withTestConfig(t *testing.T) {
	t.Helper()
	saved := struct {
		source, path, backend, provider, gemini, mistral, level, format, invert string
		timeout                                                                 time.Duration
	}{
		configs.CATALOGUE_SOURCE, configs.CATALOGUE_PATH, configs.RECOGNITION_BACKEND,
		configs.FALLBACK_PROVIDER, configs.GEMINI_API_KEY, configs.MISTRAL_API_KEY,
		configs.LOG_LEVEL, configs.LOG_FORMAT, configs.PRESCRIPTION_INVERT, configs.RECOGNITION_TIMEOUT,
	}
	t.Cleanup(func() {
		configs.CATALOGUE_SOURCE, configs.CATALOGUE_PATH, configs.RECOGNITION_BACKEND = saved.source, saved.path, saved.backend
		configs.FALLBACK_PROVIDER, configs.GEMINI_API_KEY, configs.MISTRAL_API_KEY = saved.provider, saved.gemini, saved.mistral
		configs.LOG_LEVEL, configs.LOG_FORMAT, configs.PRESCRIPTION_INVERT = saved.level, saved.format, saved.invert
		configs.RECOGNITION_TIMEOUT = saved.timeout
		common.SetLogger(nil)
	})

	dataset := filepath.Join(t.TempDir(), "medicines.csv")
	require.NoError(t, os.WriteFile(dataset, []byte(
		"name,manufacturer,price,substitute0,use0,Chemical Class\n"+
			"Dolo 650,Micro Labs,30.9,Calpol 650,Fever,Anilide\n"+
			"Azithromycin,Cipla,110,Azee 500,Bacterial infections,Macrolides\n"), 0644))

	configs.CATALOGUE_SOURCE = CatalogueCSV
	configs.CATALOGUE_PATH = dataset
	configs.RECOGNITION_BACKEND = "tesseract"
	configs.RECOGNITION_TIMEOUT = time.Second
	configs.FALLBACK_PROVIDER = "gemini"
	configs.GEMINI_API_KEY = ""
	configs.MISTRAL_API_KEY = ""
	configs.LOG_LEVEL = "error"
	configs.LOG_FORMAT = "json"
	configs.PRESCRIPTION_INVERT = "1"
}

func TestNewWiresTextPipeline(t *testing.T) {
	withTestConfig(t)

	app, err := New()
	require.NoError(t, err)
	defer app.Close()

	assert.Equal(t, "tesseract", app.Recognizer.Backend())
	assert.False(t, app.Catalogue.Loaded())

	result := app.Analyzer.AnalyzeText(context.Background(), "Tab. Dolo 650\nAzee 500 1-0-1")
	assert.Equal(t, pipeline.MessageSuccess, result.Message)
	require.NotEmpty(t, result.Medicines)
	assert.Equal(t, "Dolo 650", result.Medicines[0].Name)
	assert.True(t, app.Catalogue.Loaded())
}

func TestNewRejectsUnknownSettings(t *testing.T) {
	withTestConfig(t)

	configs.CATALOGUE_SOURCE = "sqlite"
	_, err := New()
	assert.ErrorContains(t, err, "unsupported catalogue source")

	configs.CATALOGUE_SOURCE = CatalogueCSV
	configs.RECOGNITION_BACKEND = "cuneiform"
	_, err = New()
	assert.ErrorContains(t, err, "unsupported recognition backend")

	configs.RECOGNITION_BACKEND = "tesseract"
	configs.LOG_LEVEL = "loud"
	_, err = New()
	assert.Error(t, err)
}

func TestHandwritingConfig(t *testing.T) {
	withTestConfig(t)
	cfg := HandwritingConfig()
	assert.Equal(t, handwriting.InvertAlways, cfg.Invert)
	assert.Equal(t, "tesseract", RecognitionConfig().Backend)
}
