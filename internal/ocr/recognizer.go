// recognizer.go - Text Recognition Engine facade over interchangeable backends

package ocr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bosocmputer/prescription_ocr_gemini/internal/common"
	"github.com/bosocmputer/prescription_ocr_gemini/internal/metrics"
	"go.uber.org/zap"
)

// DefaultTimeout bounds one recognition call when none is configured.
const DefaultTimeout = 45 * time.Second

// Result is the recognized text of one image.
type Result struct {
	Text            string    `json:"text"`
	Confidence      float64   `json:"confidence"`
	CharConfidences []float64 `json:"char_confidences,omitempty"`
}

// Recognizer is a recognition backend. Backends may fail; Engine turns every
// failure into an empty Result.
type Recognizer interface {
	Name() string
	Recognize(ctx context.Context, imagePath string) (Result, error)
}

// Engine wraps a backend with a per-call timeout and the never-fail contract.
type Engine struct {
	backend Recognizer
	timeout time.Duration
	metrics *metrics.Metrics
}

// NewEngine creates an engine around backend. m may be nil.
func NewEngine(backend Recognizer, timeout time.Duration, m *metrics.Metrics) *Engine {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Engine{backend: backend, timeout: timeout, metrics: m}
}

// Backend returns the name of the configured backend.
func (e *Engine) Backend() string {
	if e.backend == nil {
		return "none"
	}
	return e.backend.Name()
}

// Unwrap returns the wrapped backend.
func (e *Engine) Unwrap() Recognizer {
	return e.backend
}

// Recognize never fails: a backend error, panic or timeout yields
// Result{Text: "", Confidence: 0} and is logged.
func (e *Engine) Recognize(ctx context.Context, imagePath string, reqCtx *common.RequestContext) Result {
	if e.backend == nil {
		reqCtx.LogWarning("No recognition backend configured")
		return Result{}
	}
	name := e.backend.Name()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type outcome struct {
		result Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("recognizer panicked: %v", r)}
			}
		}()
		res, err := e.backend.Recognize(ctx, imagePath)
		done <- outcome{result: res, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		out = outcome{err: ctx.Err()}
	}

	if out.err != nil {
		status := "error"
		if errors.Is(out.err, context.DeadlineExceeded) {
			status = "timeout"
		}
		e.metrics.IncRecognition(name, status)
		reqCtx.Log().Warn("Recognition degraded to empty text",
			zap.String("backend", name),
			zap.String("outcome", status),
			zap.Error(out.err),
		)
		return Result{}
	}

	res := out.result
	res.Confidence = clamp01(res.Confidence)
	if res.Text == "" {
		res.Confidence = 0
		e.metrics.IncRecognition(name, "empty")
	} else {
		e.metrics.IncRecognition(name, "success")
	}
	reqCtx.Log().Info("Recognition finished",
		zap.String("backend", name),
		zap.Int("text_length", len(res.Text)),
		zap.Float64("confidence", res.Confidence),
	)
	return res
}

func clamp01(v float64) float64 {
	if v < 0 || v != v {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
