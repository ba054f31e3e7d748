// matcher.go - Multi-strategy matching of candidate tokens against the catalogue

package processor

import (
	"regexp"
	"sort"
	"strings"

	"github.com/bosocmputer/prescription_ocr_gemini/internal/storage"
)

// MatchThreshold is the minimum score for a token to count as matched.
const MatchThreshold = 0.60

const (
	minMatchLength   = 3
	minPartialLength = 4
	partialMaxScore  = 0.85
	substituteScore  = 0.90
	minOverlapRatio  = 0.60
)

// MatchType tells how a candidate was tied to a catalogue entry.
type MatchType string

const (
	MatchExact        MatchType = "exact"
	MatchPartial      MatchType = "partial"
	MatchFuzzy        MatchType = "fuzzy"
	MatchSubstitute   MatchType = "substitute"
	MatchAIExact      MatchType = "ai-exact"
	MatchAIFuzzy      MatchType = "ai-fuzzy"
	MatchAISubstitute MatchType = "ai-substitute"
	MatchDetectedOnly MatchType = "detected-only"
)

// IsAI reports whether the match came from the AI fallback.
func (t MatchType) IsAI() bool {
	return strings.HasPrefix(string(t), "ai-")
}

// MatchCandidate is a scored link between a recognized token and a catalogue
// entry. Entry is nil for detected-only tokens.
type MatchCandidate struct {
	Entry *storage.CatalogueEntry
	Score float64
	Token string
	Type  MatchType
}

// DisplayName is the catalogue name for matches and the token otherwise.
func (m MatchCandidate) DisplayName() string {
	if m.Entry != nil {
		return m.Entry.Name
	}
	return m.Token
}

// Scorer rates a normalized token against one catalogue entry. ok is false
// when the strategy does not apply.
type Scorer interface {
	Score(token string, entry *storage.CatalogueEntry) (score float64, ok bool)
	Type() MatchType
}

// ExactScorer matches identical normalized names.
type ExactScorer struct{}

func (ExactScorer) Type() MatchType { return MatchExact }

func (ExactScorer) Score(token string, entry *storage.CatalogueEntry) (float64, bool) {
	if token == entry.Key {
		return 1.0, true
	}
	return 0, false
}

// PartialScorer matches when one name contains the other.
type PartialScorer struct{}

func (PartialScorer) Type() MatchType { return MatchPartial }

func (PartialScorer) Score(token string, entry *storage.CatalogueEntry) (float64, bool) {
	ratio, ok := containmentRatio(token, entry.Key)
	if !ok {
		return 0, false
	}
	return partialMaxScore * ratio, true
}

// FuzzyScorer matches on bigram similarity above the threshold.
type FuzzyScorer struct{}

func (FuzzyScorer) Type() MatchType { return MatchFuzzy }

func (FuzzyScorer) Score(token string, entry *storage.CatalogueEntry) (float64, bool) {
	sim := Similarity(token, entry.Key)
	if sim < MatchThreshold {
		return 0, false
	}
	return sim, true
}

// SubstituteScorer matches a token against the entry's substitute brands.
type SubstituteScorer struct{}

func (SubstituteScorer) Type() MatchType { return MatchSubstitute }

func (SubstituteScorer) Score(token string, entry *storage.CatalogueEntry) (float64, bool) {
	for _, sub := range entry.SubstituteKeys {
		if len(sub) < minMatchLength {
			continue
		}
		if token == sub {
			return substituteScore, true
		}
		if _, ok := containmentRatio(token, sub); ok {
			return substituteScore, true
		}
	}
	return 0, false
}

// containmentRatio returns shorter/longer when one string contains the other,
// both are at least four characters and the overlap ratio is high enough.
func containmentRatio(a, b string) (float64, bool) {
	if len(a) < minPartialLength || len(b) < minPartialLength {
		return 0, false
	}
	if !strings.Contains(a, b) && !strings.Contains(b, a) {
		return 0, false
	}
	shorter, longer := len(a), len(b)
	if shorter > longer {
		shorter, longer = longer, shorter
	}
	ratio := float64(shorter) / float64(longer)
	if ratio < minOverlapRatio {
		return 0, false
	}
	return ratio, true
}

// DefaultScorers is the strategy order used by NewMatcher.
func DefaultScorers() []Scorer {
	return []Scorer{ExactScorer{}, PartialScorer{}, FuzzyScorer{}, SubstituteScorer{}}
}

// Matcher scores candidate tokens against a catalogue with an ordered list of
// scorers. It holds no per-call state and is safe for concurrent use.
type Matcher struct {
	scorers []Scorer
}

// NewMatcher creates a matcher; with no scorers it uses DefaultScorers.
func NewMatcher(scorers ...Scorer) *Matcher {
	if len(scorers) == 0 {
		scorers = DefaultScorers()
	}
	return &Matcher{scorers: scorers}
}

// MatchOutcome is the result of one matching pass.
type MatchOutcome struct {
	// Matches are sorted by descending score.
	Matches []MatchCandidate
	// DetectedOnly holds tokens that matched nothing, in candidate order.
	DetectedOnly []MatchCandidate
	// Candidates is the number of tokens considered.
	Candidates int
}

// Coverage is matched tokens over candidate tokens, 0 when there were none.
func (o MatchOutcome) Coverage() float64 {
	if o.Candidates == 0 {
		return 0
	}
	return float64(len(o.Matches)) / float64(o.Candidates)
}

var (
	dosageFormPrefix = regexp.MustCompile(`(?i)^(tab|cap|syp|inj)\.?\s*`)
	dosageSuffix     = regexp.MustCompile(`\s*\d+.*$`)
)

// tokenVariants lists the spellings tried for a token, most literal first.
func tokenVariants(token string) []string {
	first := token
	if fields := strings.Fields(token); len(fields) > 0 {
		first = fields[0]
	}
	return []string{
		token,
		dosageFormPrefix.ReplaceAllString(token, ""),
		dosageSuffix.ReplaceAllString(token, ""),
		nonAlnum.ReplaceAllString(token, ""),
		first,
	}
}

// Match links each candidate to its best catalogue entry. A normalized
// spelling can only be claimed once: later tokens normalizing to an already
// matched form are not matched again. Tokens that never reach MatchThreshold
// are returned as detected-only when their normalized form has at least three
// characters.
func (m *Matcher) Match(candidates []string, catalogue *storage.Catalogue) MatchOutcome {
	outcome := MatchOutcome{Candidates: len(candidates)}
	claimed := make(map[string]bool)
	matchedTokens := make(map[string]bool)

	for _, token := range candidates {
		for _, variant := range tokenVariants(token) {
			key := storage.NormalizeName(variant)
			if len(key) < minMatchLength || claimed[key] {
				continue
			}
			best, ok := m.bestEntry(key, catalogue)
			if !ok {
				continue
			}
			best.Token = token
			claimed[key] = true
			matchedTokens[storage.NormalizeName(token)] = true
			outcome.Matches = append(outcome.Matches, best)
			break
		}
	}

	sort.SliceStable(outcome.Matches, func(i, j int) bool {
		return outcome.Matches[i].Score > outcome.Matches[j].Score
	})

	for _, token := range candidates {
		key := storage.NormalizeName(token)
		if len(key) < minMatchLength || matchedTokens[key] {
			continue
		}
		outcome.DetectedOnly = append(outcome.DetectedOnly, MatchCandidate{
			Token: token,
			Type:  MatchDetectedOnly,
		})
	}
	return outcome
}

// bestEntry returns the highest scoring entry for a normalized token. Each
// entry scores the maximum over all scorers; ties keep the earlier entry. An
// exact hit ends the scan.
func (m *Matcher) bestEntry(key string, catalogue *storage.Catalogue) (MatchCandidate, bool) {
	var best MatchCandidate
	entries := catalogue.Entries()
	for i := range entries {
		entry := &entries[i]
		if len(entry.Key) < minMatchLength {
			continue
		}
		for _, s := range m.scorers {
			score, ok := s.Score(key, entry)
			if ok && score > best.Score {
				best = MatchCandidate{Entry: entry, Score: score, Type: s.Type()}
			}
		}
		if best.Score >= 1.0 {
			break
		}
	}
	if best.Entry == nil || best.Score < MatchThreshold {
		return MatchCandidate{}, false
	}
	return best, true
}
