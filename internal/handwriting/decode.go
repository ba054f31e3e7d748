package handwriting

import (
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const (
	baseCharacters     = "()+,-.0123456789ABCDEFGHIKLMNOPRSTVZ_abcdefghiklmnoprstuvxyz"
	fallbackCharacters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789 -/&%$#@!?:;.,'\""
	paddingSymbol      = "?"
)

// BuildSymbolTable maps class index to character for a model with numClasses
// outputs. The training alphabet comes first, extended by a wider fallback
// set and padded with "?"; the last index is the blank ("").
func BuildSymbolTable(numClasses int) []string {
	if numClasses <= 0 {
		return nil
	}
	usable := numClasses - 1

	var roster []string
	seen := make(map[rune]bool)
	for _, r := range baseCharacters + fallbackCharacters {
		if !seen[r] {
			seen[r] = true
			roster = append(roster, string(r))
		}
	}
	for len(roster) < usable {
		roster = append(roster, paddingSymbol)
	}
	return append(roster[:usable:usable], "")
}

// Decoded is the greedy decode of one probability matrix.
type Decoded struct {
	Text            string
	Confidence      float64
	CharConfidences []float64
}

// GreedyDecode collapses per-timestep argmax classes CTC style: a class is
// emitted when it is not the blank (last index) and differs from the class
// chosen at the previous timestep. Confidences are the raw probabilities of
// emitted classes; the overall confidence is their mean, 0 when nothing was
// emitted. logger may be nil; when set, index traces are logged at debug.
func GreedyDecode(steps [][]float32, symbols []string, logger *zap.Logger) Decoded {
	blank := 0
	if len(symbols) > 0 {
		blank = len(symbols) - 1
	}
	last := blank

	var text strings.Builder
	var confidences []float64
	var trace, emitted []string

	for _, probs := range steps {
		if len(probs) == 0 {
			continue
		}
		best, bestValue := 0, float32(math.Inf(-1))
		for i, v := range probs {
			if v > bestValue {
				best, bestValue = i, v
			}
		}
		if logger != nil {
			trace = append(trace, strconv.Itoa(best))
		}

		if best != blank && best != last {
			symbol := paddingSymbol
			if best < len(symbols) {
				symbol = symbols[best]
			}
			text.WriteString(symbol)
			confidences = append(confidences, round3(float64(bestValue)))
			if logger != nil {
				emitted = append(emitted, strconv.Itoa(best)+":"+symbol+":"+strconv.FormatFloat(float64(bestValue), 'f', 3, 64))
			}
		}
		last = best
	}

	var confidence float64
	if len(confidences) > 0 {
		var sum float64
		for _, c := range confidences {
			sum += c
		}
		confidence = round3(sum / float64(len(confidences)))
	}

	if logger != nil {
		logger.Debug("Greedy index trace", zap.String("indexes", strings.Join(trace, ",")))
		logger.Debug("Emitted sequence", zap.String("emitted", strings.Join(emitted, " ")))
	}

	return Decoded{
		Text:            strings.TrimSpace(text.String()),
		Confidence:      confidence,
		CharConfidences: confidences,
	}
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
