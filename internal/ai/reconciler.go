// reconciler.go - AI fallback: ask a model for names, then re-match them

package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/bosocmputer/prescription_ocr_gemini/internal/common"
	"github.com/bosocmputer/prescription_ocr_gemini/internal/metrics"
	"github.com/bosocmputer/prescription_ocr_gemini/internal/processor"
	"github.com/bosocmputer/prescription_ocr_gemini/internal/storage"
	"go.uber.org/zap"
)

const aiSubstituteScore = 0.95

// Outcome is what one reconciliation produced. Err is informational: the
// reconciler never fails, it returns no matches instead.
type Outcome struct {
	Matches  []processor.MatchCandidate
	Names    []string
	Provider string
	Tokens   *common.TokenUsage
	Err      error
}

// Reconciler runs the AI fallback against the catalogue.
type Reconciler struct {
	primary  NameExtractor
	fallback NameExtractor
	timeout  time.Duration
	metrics  *metrics.Metrics
}

// NewReconciler creates a reconciler. primary may be nil, which disables the
// fallback; secondary is tried when primary fails.
func NewReconciler(primary, secondary NameExtractor, timeout time.Duration, m *metrics.Metrics) *Reconciler {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Reconciler{primary: primary, fallback: secondary, timeout: timeout, metrics: m}
}

// Enabled reports whether a provider is configured.
func (r *Reconciler) Enabled() bool {
	return r != nil && r.primary != nil
}

// Reconcile asks the provider for medicine names in rawText and matches them
// against the catalogue. Names whose catalogue entry is already among
// existing are dropped, so only net-new medicines are returned.
func (r *Reconciler) Reconcile(ctx context.Context, rawText string, catalogue *storage.Catalogue, existing []processor.MatchCandidate, reqCtx *common.RequestContext) (out Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			out = Outcome{Err: fmt.Errorf("reconciler panicked: %v", rec)}
			r.metrics.IncAIFallback("error")
			reqCtx.LogError("AI fallback panicked: %v", rec)
		}
	}()

	if !r.Enabled() {
		r.metrics.IncAIFallback("disabled")
		reqCtx.LogWarning("AI fallback requested but no provider is configured")
		return Outcome{}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	names, tokens, provider, err := r.extract(ctx, rawText, reqCtx)
	if err != nil {
		r.metrics.IncAIFallback("error")
		reqCtx.Log().Warn("AI fallback degraded to no matches", zap.String("provider", provider), zap.Error(err))
		return Outcome{Provider: provider, Tokens: tokens, Err: err}
	}

	matches := MatchNames(names, catalogue, existing)
	outcome := "empty"
	if len(matches) > 0 {
		outcome = "matched"
	}
	r.metrics.IncAIFallback(outcome)
	reqCtx.Log().Info("AI fallback finished",
		zap.String("provider", provider),
		zap.Int("names", len(names)),
		zap.Int("new_matches", len(matches)),
	)
	return Outcome{Matches: matches, Names: names, Provider: provider, Tokens: tokens}
}

func (r *Reconciler) extract(ctx context.Context, text string, reqCtx *common.RequestContext) ([]string, *common.TokenUsage, string, error) {
	names, tokens, err := r.primary.ExtractMedicineNames(ctx, text, reqCtx)
	if err == nil || r.fallback == nil || ctx.Err() != nil {
		return names, tokens, r.primary.GetProviderName(), err
	}

	reqCtx.LogWarning("%s failed (%v), trying %s", r.primary.GetProviderName(), err, r.fallback.GetProviderName())
	names, fbTokens, fbErr := r.fallback.ExtractMedicineNames(ctx, text, reqCtx)
	return names, sumTokens(tokens, fbTokens), r.fallback.GetProviderName(), fbErr
}

func sumTokens(a, b *common.TokenUsage) *common.TokenUsage {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return &common.TokenUsage{
		InputTokens:  a.InputTokens + b.InputTokens,
		OutputTokens: a.OutputTokens + b.OutputTokens,
		TotalTokens:  a.TotalTokens + b.TotalTokens,
		CostUSD:      a.CostUSD + b.CostUSD,
	}
}

// MatchNames ties model-suggested names to catalogue entries, skipping
// entries already present in existing and entries matched twice.
func MatchNames(names []string, catalogue *storage.Catalogue, existing []processor.MatchCandidate) []processor.MatchCandidate {
	seen := make(map[string]bool, len(existing))
	for _, m := range existing {
		if m.Entry != nil {
			seen[m.Entry.Key] = true
		}
	}

	var matches []processor.MatchCandidate
	for _, name := range names {
		match, ok := MatchName(name, catalogue)
		if !ok || seen[match.Entry.Key] {
			continue
		}
		seen[match.Entry.Key] = true
		matches = append(matches, match)
	}
	return matches
}

// MatchName searches the whole catalogue in priority order: exact name, then
// exact substitute membership, then the best bigram similarity at or above
// the match threshold.
func MatchName(name string, catalogue *storage.Catalogue) (processor.MatchCandidate, bool) {
	key := storage.NormalizeName(name)
	if key == "" || catalogue.Len() == 0 {
		return processor.MatchCandidate{}, false
	}

	if entry, ok := catalogue.Lookup(key); ok {
		return processor.MatchCandidate{Entry: entry, Score: 1.0, Token: name, Type: processor.MatchAIExact}, true
	}

	entries := catalogue.Entries()
	for i := range entries {
		for _, sub := range entries[i].SubstituteKeys {
			if sub == key {
				return processor.MatchCandidate{Entry: &entries[i], Score: aiSubstituteScore, Token: name, Type: processor.MatchAISubstitute}, true
			}
		}
	}

	var best *storage.CatalogueEntry
	bestScore := 0.0
	for i := range entries {
		if score := processor.Similarity(key, entries[i].Key); score > bestScore {
			best, bestScore = &entries[i], score
		}
	}
	if best == nil || bestScore < processor.MatchThreshold {
		return processor.MatchCandidate{}, false
	}
	return processor.MatchCandidate{Entry: best, Score: bestScore, Token: name, Type: processor.MatchAIFuzzy}, true
}
