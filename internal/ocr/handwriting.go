package ocr

import (
	"context"

	"github.com/bosocmputer/prescription_ocr_gemini/internal/handwriting"
)

// HandwritingRecognizer adapts the trained handwriting model to Recognizer.
type HandwritingRecognizer struct {
	engine *handwriting.Engine
}

func NewHandwritingRecognizer(engine *handwriting.Engine) *HandwritingRecognizer {
	return &HandwritingRecognizer{engine: engine}
}

func (h *HandwritingRecognizer) Name() string { return "handwriting" }

func (h *HandwritingRecognizer) Recognize(ctx context.Context, imagePath string) (Result, error) {
	decoded, err := h.engine.Recognize(ctx, imagePath)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Text:            decoded.Text,
		Confidence:      decoded.Confidence,
		CharConfidences: decoded.CharConfidences,
	}, nil
}

// Warmup loads the model ahead of the first request.
func (h *HandwritingRecognizer) Warmup(ctx context.Context) error {
	return h.engine.Warmup(ctx)
}

func (h *HandwritingRecognizer) Close() error {
	return h.engine.Close()
}
