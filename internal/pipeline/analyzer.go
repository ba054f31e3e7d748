// analyzer.go - Prescription analysis pipeline
//
// Start → Recognize → Clean → Extract → Match → (low coverage: Reconcile) →
// Assemble. Recognition, catalogue loading and the AI fallback degrade to
// empty results; anything unexpected is turned into an "Analysis failed"
// result at the boundary.

package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bosocmputer/prescription_ocr_gemini/internal/ai"
	"github.com/bosocmputer/prescription_ocr_gemini/internal/common"
	"github.com/bosocmputer/prescription_ocr_gemini/internal/metrics"
	"github.com/bosocmputer/prescription_ocr_gemini/internal/ocr"
	"github.com/bosocmputer/prescription_ocr_gemini/internal/processor"
	"github.com/bosocmputer/prescription_ocr_gemini/internal/storage"
	"go.uber.org/zap"
)

const (
	// LowCoverage is the matched/candidates ratio below which the AI fallback runs.
	LowCoverage = 0.5

	minDetectedLength = 3
	textConfidence    = 1.0
)

// Recognizer turns an image into text. Implementations never fail: an
// unreadable image yields an empty result.
type Recognizer interface {
	Recognize(ctx context.Context, imagePath string, reqCtx *common.RequestContext) ocr.Result
	Backend() string
}

// CatalogueProvider returns the shared, read-only catalogue.
type CatalogueProvider interface {
	Get(ctx context.Context) (*storage.Catalogue, error)
}

// Reconciler is the AI fallback. It returns only net-new matches.
type Reconciler interface {
	Reconcile(ctx context.Context, rawText string, catalogue *storage.Catalogue, existing []processor.MatchCandidate, reqCtx *common.RequestContext) ai.Outcome
}

// Analyzer runs the pipeline. It holds no per-request state and may be used
// by concurrent requests.
type Analyzer struct {
	recognizer Recognizer
	catalogue  CatalogueProvider
	reconciler Reconciler
	matcher    *processor.Matcher
	metrics    *metrics.Metrics
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithMatcher replaces the default matcher.
func WithMatcher(m *processor.Matcher) Option {
	return func(a *Analyzer) { a.matcher = m }
}

// WithMetrics records stage durations and outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Analyzer) { a.metrics = m }
}

// NewAnalyzer creates an analyzer. reconciler may be nil, which disables the
// AI fallback; recognizer may be nil for text-only use.
func NewAnalyzer(recognizer Recognizer, catalogue CatalogueProvider, reconciler Reconciler, opts ...Option) *Analyzer {
	a := &Analyzer{
		recognizer: recognizer,
		catalogue:  catalogue,
		reconciler: reconciler,
		matcher:    processor.NewMatcher(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze recognizes the image at imagePath and analyzes its text.
func (a *Analyzer) Analyze(ctx context.Context, imagePath string) (result Result) {
	reqCtx := common.NewRequestContext("image")
	defer a.finish(reqCtx, &result)

	reqCtx.StartStep("recognize")
	start := time.Now()
	recognized := a.recognize(ctx, imagePath, reqCtx)
	a.metrics.ObserveStage("recognize", time.Since(start))

	if strings.TrimSpace(recognized.Text) == "" {
		reqCtx.EndStep("degraded", nil, nil)
		reqCtx.LogWarning("No text recognized from image")
		return unreadableResult()
	}
	reqCtx.EndStep("success", nil, nil)
	reqCtx.Log().Info("Text recognition complete",
		zap.Int("text_length", len(recognized.Text)),
		zap.Float64("confidence", recognized.Confidence),
	)

	return a.analyzeText(ctx, recognized.Text, recognized.Confidence, reqCtx)
}

// AnalyzeText runs the pipeline from cleaning onward on supplied text.
func (a *Analyzer) AnalyzeText(ctx context.Context, text string) (result Result) {
	reqCtx := common.NewRequestContext("text")
	defer a.finish(reqCtx, &result)

	if strings.TrimSpace(text) == "" {
		return unreadableResult()
	}
	return a.analyzeText(ctx, text, textConfidence, reqCtx)
}

// finish recovers panics into a failed result and records the outcome.
func (a *Analyzer) finish(reqCtx *common.RequestContext, result *Result) {
	if rec := recover(); rec != nil {
		reqCtx.LogError("Prescription analysis failed: %v", rec)
		*result = failedResult(fmt.Sprint(rec))
	}
	result.RequestID = reqCtx.RequestID
	a.metrics.IncAnalysis(result.outcome)
	reqCtx.GetSummary()
}

func (a *Analyzer) recognize(ctx context.Context, imagePath string, reqCtx *common.RequestContext) ocr.Result {
	if a.recognizer == nil {
		reqCtx.LogWarning("No recognition backend configured")
		return ocr.Result{}
	}
	return a.recognizer.Recognize(ctx, imagePath, reqCtx)
}

func (a *Analyzer) analyzeText(ctx context.Context, text string, recognition float64, reqCtx *common.RequestContext) Result {
	reqCtx.StartStep("clean_text")
	cleaned := processor.CleanOCRText(text)
	reqCtx.EndStep("success", nil, nil)

	reqCtx.StartStep("extract")
	start := time.Now()
	candidates := processor.ExtractFromCleaned(cleaned)
	a.metrics.ObserveStage("extract", time.Since(start))
	reqCtx.EndStep("success", nil, nil)
	reqCtx.Log().Info("Candidate tokens extracted", zap.Int("candidates", len(candidates)))

	if len(candidates) == 0 {
		return noMedicinesResult(text)
	}

	catalogue := a.loadCatalogue(ctx, reqCtx)

	reqCtx.StartStep("match")
	start = time.Now()
	outcome := a.matcher.Match(candidates, catalogue)
	a.metrics.ObserveStage("match", time.Since(start))
	reqCtx.EndStep("success", nil, nil)

	coverage := outcome.Coverage()
	reqCtx.Log().Info("Catalogue matching complete",
		zap.Int("matched", len(outcome.Matches)),
		zap.Int("detected_only", len(outcome.DetectedOnly)),
		zap.Float64("coverage", coverage),
	)

	matches := outcome.Matches
	if coverage < LowCoverage && a.reconciler != nil {
		matches = append(matches, a.reconcile(ctx, text, catalogue, outcome.Matches, reqCtx)...)
	}

	reqCtx.StartStep("assemble")
	medicines := assemble(matches, outcome.DetectedOnly)
	if len(medicines) == 0 {
		reqCtx.EndStep("success", nil, nil)
		return noMedicinesResult(text)
	}

	views := make([]MedicineView, len(medicines))
	withInfo := 0
	for i, m := range medicines {
		views[i] = FormatMedicine(m)
		a.metrics.IncMatch(string(m.Type))
		if !views[i].IsBasicInfo {
			withInfo++
		}
	}
	confidence := processor.CalculateWeightedConfidence(recognition, coverage, medicines, reqCtx)
	reqCtx.EndStep("success", nil, nil)

	reqCtx.Log().Info("Analysis complete",
		zap.Int("medicines", len(views)),
		zap.Int("with_full_info", withInfo),
		zap.Int("detected_only", len(views)-withInfo),
	)

	return Result{
		Explanation:   BuildExplanation(views),
		Medicines:     views,
		ExtractedText: text,
		Message:       MessageSuccess,
		Confidence:    &confidence,
		outcome:       "success",
	}
}

// loadCatalogue degrades to an empty catalogue when the store cannot load;
// every candidate then becomes detected-only.
func (a *Analyzer) loadCatalogue(ctx context.Context, reqCtx *common.RequestContext) *storage.Catalogue {
	reqCtx.StartStep("load_catalogue")
	if a.catalogue == nil {
		reqCtx.EndStep("skipped", nil, nil)
		return storage.NewCatalogue(nil)
	}
	catalogue, err := a.catalogue.Get(ctx)
	if err != nil || catalogue == nil {
		reqCtx.EndStep("degraded", nil, err)
		return storage.NewCatalogue(nil)
	}
	reqCtx.EndStep("success", nil, nil)
	return catalogue
}

func (a *Analyzer) reconcile(ctx context.Context, text string, catalogue *storage.Catalogue, existing []processor.MatchCandidate, reqCtx *common.RequestContext) []processor.MatchCandidate {
	reqCtx.StartStep("reconcile")
	start := time.Now()
	fallback := a.reconciler.Reconcile(ctx, text, catalogue, existing, reqCtx)
	a.metrics.ObserveStage("reconcile", time.Since(start))

	status := "success"
	if fallback.Err != nil {
		status = "degraded"
	}
	reqCtx.EndStep(status, fallback.Tokens, fallback.Err)
	return fallback.Matches
}

// assemble merges catalogue and AI matches with detected-only tokens. Each
// normalized name appears once; matches come first and win over detected-only
// duplicates.
func assemble(matches, detectedOnly []processor.MatchCandidate) []processor.MatchCandidate {
	seen := make(map[string]bool, len(matches)+len(detectedOnly))
	matchedTokens := make(map[string]bool, len(matches))
	out := make([]processor.MatchCandidate, 0, len(matches)+len(detectedOnly))

	for _, m := range matches {
		matchedTokens[storage.NormalizeName(m.Token)] = true
		key := storage.NormalizeName(m.DisplayName())
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, m)
	}

	for _, d := range detectedOnly {
		key := storage.NormalizeName(d.Token)
		if len(key) < minDetectedLength || matchedTokens[key] || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, d)
	}
	return out
}
