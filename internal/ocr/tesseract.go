// tesseract.go - Generic OCR backend using Tesseract

package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/bosocmputer/prescription_ocr_gemini/internal/processor"
	"github.com/otiai10/gosseract/v2"
)

// charWhitelist keeps alphanumerics and the punctuation prescriptions use.
const charWhitelist = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789.,()-/: \n"

// TesseractConfig configures the Tesseract backend.
type TesseractConfig struct {
	Language     string
	Preprocess   bool
	MaxDimension int
}

// TesseractRecognizer runs whole-page OCR with automatic page segmentation.
// A client is created per call; gosseract clients are not safe for
// concurrent use.
type TesseractRecognizer struct {
	cfg TesseractConfig
}

func NewTesseractRecognizer(cfg TesseractConfig) *TesseractRecognizer {
	if cfg.Language == "" {
		cfg.Language = "eng"
	}
	if cfg.MaxDimension <= 0 {
		cfg.MaxDimension = processor.DefaultMaxDimension
	}
	return &TesseractRecognizer{cfg: cfg}
}

func (t *TesseractRecognizer) Name() string { return "tesseract" }

func (t *TesseractRecognizer) Recognize(ctx context.Context, imagePath string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(t.cfg.Language); err != nil {
		return Result{}, fmt.Errorf("failed to set language: %w", err)
	}
	if err := client.SetPageSegMode(gosseract.PSM_AUTO); err != nil {
		return Result{}, fmt.Errorf("failed to set page segmentation mode: %w", err)
	}
	if err := client.SetWhitelist(charWhitelist); err != nil {
		return Result{}, fmt.Errorf("failed to set whitelist: %w", err)
	}
	if err := client.SetVariable("preserve_interword_spaces", "1"); err != nil {
		return Result{}, fmt.Errorf("failed to preserve interword spaces: %w", err)
	}

	if t.cfg.Preprocess {
		prepared, err := processor.PreprocessForOCR(imagePath, t.cfg.MaxDimension)
		if err != nil {
			return Result{}, err
		}
		if err := client.SetImageFromBytes(prepared.PNG); err != nil {
			return Result{}, fmt.Errorf("failed to set image: %w", err)
		}
	} else if err := client.SetImage(imagePath); err != nil {
		return Result{}, fmt.Errorf("failed to set image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return Result{}, fmt.Errorf("OCR extraction failed: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, nil
	}

	return Result{Text: text, Confidence: meanWordConfidence(client)}, nil
}

// meanWordConfidence averages Tesseract's per-word confidence (0-100) on a
// 0-1 scale.
func meanWordConfidence(client *gosseract.Client) float64 {
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return 0
	}
	var total float64
	for _, box := range boxes {
		total += box.Confidence
	}
	return total / float64(len(boxes)) / 100
}
