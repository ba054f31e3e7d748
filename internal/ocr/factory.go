// factory.go - Recognition backend factory

package ocr

import (
	"fmt"
	"os"

	"github.com/bosocmputer/prescription_ocr_gemini/internal/common"
	"github.com/bosocmputer/prescription_ocr_gemini/internal/handwriting"
	"go.uber.org/zap"
)

const (
	BackendTesseract   = "tesseract"
	BackendHandwriting = "handwriting"
	BackendAuto        = "auto"
)

// BackendConfig selects and configures the recognition backend.
type BackendConfig struct {
	Backend     string
	Tesseract   TesseractConfig
	Handwriting handwriting.Config
}

// CreateRecognizer builds the configured backend. "auto" picks the
// handwriting model when its artifacts exist on disk and Tesseract otherwise.
func CreateRecognizer(cfg BackendConfig) (Recognizer, error) {
	backend := cfg.Backend
	if backend == "" || backend == BackendAuto {
		backend = BackendTesseract
		if handwritingConfigured(cfg.Handwriting) {
			backend = BackendHandwriting
		}
		common.Logger().Info("Recognition backend selected", zap.String("backend", backend), zap.String("mode", BackendAuto))
	}

	switch backend {
	case BackendTesseract:
		return NewTesseractRecognizer(cfg.Tesseract), nil
	case BackendHandwriting:
		return NewHandwritingRecognizer(handwriting.NewEngine(cfg.Handwriting)), nil
	default:
		return nil, fmt.Errorf("unsupported recognition backend: %s (supported: tesseract, handwriting, auto)", cfg.Backend)
	}
}

func handwritingConfigured(cfg handwriting.Config) bool {
	for _, path := range []string{cfg.ONNXPath, cfg.ModelPath} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			return true
		}
	}
	return false
}
