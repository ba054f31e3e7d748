// confidence_calculator.go - Weighted confidence score for a prescription analysis
//
// Combines how well the image was read, how many extracted tokens reached the
// catalogue and how strong those matches were into a single reviewable score.

package processor

import (
	"math"

	"github.com/bosocmputer/prescription_ocr_gemini/internal/common"
)

// ConfidenceFactors holds each factor on a 0-100 scale.
type ConfidenceFactors struct {
	Recognition  float64 `json:"recognition"`   // recognition engine confidence
	Coverage     float64 `json:"coverage"`      // matched candidates / candidates
	MatchQuality float64 `json:"match_quality"` // mean score of catalogue matches
}

// ConfidenceWeights must sum to 1.0.
type ConfidenceWeights struct {
	Recognition  float64
	Coverage     float64
	MatchQuality float64
}

var DefaultWeights = ConfidenceWeights{
	Recognition:  0.40,
	Coverage:     0.30,
	MatchQuality: 0.30,
}

// ConfidenceResult is attached to the analysis result.
type ConfidenceResult struct {
	Score          float64           `json:"score"`
	Level          string            `json:"level"`
	RequiresReview bool              `json:"requires_review"`
	Factors        ConfidenceFactors `json:"factors"`
	Breakdown      map[string]string `json:"breakdown"`
}

// CalculateWeightedConfidence scores one analysis. recognition is the engine
// confidence in [0,1] (use 1 for supplied text), coverage the pre-fallback
// coverage and medicines the final merged list.
func CalculateWeightedConfidence(
	recognition float64,
	coverage float64,
	medicines []MatchCandidate,
	reqCtx *common.RequestContext,
) ConfidenceResult {

	factors := ConfidenceFactors{
		Recognition:  roundTenth(clamp01(recognition) * 100),
		Coverage:     roundTenth(clamp01(coverage) * 100),
		MatchQuality: matchQualityScore(medicines),
	}

	score := factors.Recognition*DefaultWeights.Recognition +
		factors.Coverage*DefaultWeights.Coverage +
		factors.MatchQuality*DefaultWeights.MatchQuality
	score = math.Round(score*100) / 100

	level := determineConfidenceLevel(score)
	requiresReview := shouldRequireReview(score, medicines)
	breakdown := generateBreakdown(factors, medicines)

	if reqCtx != nil {
		reqCtx.LogInfo("📊 Confidence Calculation:")
		reqCtx.LogInfo("  ├─ Recognition: %.1f%% (weight: %.0f%%)", factors.Recognition, DefaultWeights.Recognition*100)
		reqCtx.LogInfo("  ├─ Coverage: %.1f%% (weight: %.0f%%)", factors.Coverage, DefaultWeights.Coverage*100)
		reqCtx.LogInfo("  ├─ Match Quality: %.1f%% (weight: %.0f%%)", factors.MatchQuality, DefaultWeights.MatchQuality*100)
		reqCtx.LogInfo("  └─ Overall: %.1f%% (%s) → Review: %v", score, level, requiresReview)
	}

	return ConfidenceResult{
		Score:          score,
		Level:          level,
		RequiresReview: requiresReview,
		Factors:        factors,
		Breakdown:      breakdown,
	}
}

// matchQualityScore averages catalogue-backed matches; detected-only tokens
// count as zero so an unmatched list scores low.
func matchQualityScore(medicines []MatchCandidate) float64 {
	if len(medicines) == 0 {
		return 0.0
	}
	total := 0.0
	for _, m := range medicines {
		if m.Type != MatchDetectedOnly {
			total += m.Score
		}
	}
	return roundTenth(total / float64(len(medicines)) * 100)
}

func determineConfidenceLevel(score float64) string {
	if score >= 95 {
		return "very_high"
	} else if score >= 85 {
		return "high"
	} else if score >= 70 {
		return "medium"
	} else if score >= 50 {
		return "low"
	} else {
		return "very_low"
	}
}

// shouldRequireReview flags low scores, AI-sourced matches and any token that
// could not be tied to the catalogue.
func shouldRequireReview(score float64, medicines []MatchCandidate) bool {
	if score < 85 || len(medicines) == 0 {
		return true
	}
	for _, m := range medicines {
		if m.Type == MatchDetectedOnly || m.Type.IsAI() {
			return true
		}
	}
	return false
}

func generateBreakdown(factors ConfidenceFactors, medicines []MatchCandidate) map[string]string {
	breakdown := make(map[string]string)

	if factors.Recognition >= 85 {
		breakdown["recognition"] = "Text recognized clearly"
	} else if factors.Recognition > 0 {
		breakdown["recognition"] = "Text partially legible"
	} else {
		breakdown["recognition"] = "Recognition confidence unavailable"
	}

	if factors.Coverage >= 50 {
		breakdown["coverage"] = "Most extracted tokens found in catalogue"
	} else {
		breakdown["coverage"] = "Few extracted tokens found in catalogue - AI fallback consulted"
	}

	detectedOnly, aiMatched := 0, 0
	for _, m := range medicines {
		switch {
		case m.Type == MatchDetectedOnly:
			detectedOnly++
		case m.Type.IsAI():
			aiMatched++
		}
	}
	switch {
	case len(medicines) == 0:
		breakdown["match_quality"] = "No medicines identified"
	case detectedOnly > 0:
		breakdown["match_quality"] = "Some medicines are not in the catalogue - verify manually"
	case aiMatched > 0:
		breakdown["match_quality"] = "Some medicines identified by AI fallback - verify"
	case factors.MatchQuality >= 90:
		breakdown["match_quality"] = "All medicines matched the catalogue closely"
	default:
		breakdown["match_quality"] = "Medicines matched with spelling differences"
	}

	return breakdown
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}
