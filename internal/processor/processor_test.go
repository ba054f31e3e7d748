package processor

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/bosocmputer/prescription_ocr_gemini/internal/storage"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimilarity(t *testing.T) {
	pairs := [][2]string{
		{"paracetamol", "paracitamol"},
		{"dolo", "dolo650"},
		{"a", "ab"},
		{"", "abc"},
		{"Crocin", "crocin"},
	}
	for _, p := range pairs {
		assert.Equal(t, Similarity(p[0], p[1]), Similarity(p[1], p[0]), "symmetric for %q/%q", p[0], p[1])
	}

	for _, s := range []string{"", "a", "dolo", "Azithromycin"} {
		assert.Equal(t, 1.0, Similarity(s, s))
	}
	assert.Equal(t, 0.0, Similarity("", "a"))
	assert.Equal(t, 0.0, Similarity("a", "b"))
	assert.Equal(t, 1.0, Similarity("CROCIN", "crocin"))
	assert.InDelta(t, 0.8, Similarity("paracitamol", "paracetamol"), 1e-9)
	assert.InDelta(t, 2.0/3.0, Similarity("dolo", "dolo650"), 1e-9)
}

func TestCleanOCRTextRemovesNoise(t *testing.T) {
	text := "City Hospital\nPatient: Ravi Kumar Age 45\nDate 12/03/2024 Ph 9876543210\nPin 560001\nTab. Dolo 650"
	cleaned := CleanOCRText(text)

	assert.NotContains(t, cleaned, "Hospital")
	assert.NotContains(t, cleaned, "12/03/2024")
	assert.NotContains(t, cleaned, "9876543210")
	assert.NotContains(t, cleaned, "560001")
	assert.NotContains(t, cleaned, "Ravi Kumar")
	assert.Contains(t, cleaned, "Tab. Dolo 650")
}

func TestExtractCandidatesPrescriptionLine(t *testing.T) {
	candidates := ExtractCandidates("Tab. Dolo 650\nTake twice daily")
	assert.Equal(t, []string{"Dolo 650", "Dolo"}, candidates)
}

func TestExtractCandidatesSkipsInstructionsAndNumbers(t *testing.T) {
	candidates := ExtractCandidates("Cap. Amoxicillin 500mg 1-0-1\n12 - 10\nafter food twice\nAzithral")

	assert.Contains(t, candidates, "Amoxicillin")
	assert.Contains(t, candidates, "Azithral")
	assert.NotContains(t, candidates, "500mg")
	assert.NotContains(t, candidates, "Amoxicillin 500")
	for _, c := range candidates {
		assert.NotEqual(t, "twice", c)
		assert.NotEqual(t, "food", c)
	}
}

func TestExtractCandidatesIsDeterministic(t *testing.T) {
	text := "Crocin\nBlorvax\nTrendil\nMuxatol"
	first := ExtractCandidates(text)
	assert.Equal(t, []string{"Crocin", "Blorvax", "Trendil", "Muxatol"}, first)
	assert.Equal(t, first, ExtractCandidates(text))
	assert.Empty(t, ExtractCandidates(""))
}

func testCatalogue() *storage.Catalogue {
	return storage.NewCatalogue([]storage.Medicine{
		{Name: "Dolo 650", Manufacturer: "Micro Labs", Substitutes: []string{"Calpol 650"}},
		{Name: "Paracetamol"},
		{Name: "Crocin"},
		{Name: "Azithromycin"},
	})
}

func TestMatchExactAndFuzzy(t *testing.T) {
	outcome := NewMatcher().Match([]string{"Dolo 650", "Dolo"}, testCatalogue())

	require.Len(t, outcome.Matches, 2)
	assert.Equal(t, "Dolo 650", outcome.Matches[0].Entry.Name)
	assert.Equal(t, MatchExact, outcome.Matches[0].Type)
	assert.Equal(t, 1.0, outcome.Matches[0].Score)
	assert.Equal(t, "Dolo 650", outcome.Matches[0].Token)

	assert.Equal(t, MatchFuzzy, outcome.Matches[1].Type)
	assert.Equal(t, "Dolo", outcome.Matches[1].Token)
	assert.Empty(t, outcome.DetectedOnly)
	assert.Equal(t, 1.0, outcome.Coverage())
}

func TestMatchMisspelledName(t *testing.T) {
	outcome := NewMatcher().Match([]string{"Paracitamol"}, testCatalogue())

	require.Len(t, outcome.Matches, 1)
	m := outcome.Matches[0]
	assert.Equal(t, "Paracetamol", m.Entry.Name)
	assert.Equal(t, MatchFuzzy, m.Type)
	assert.GreaterOrEqual(t, m.Score, MatchThreshold)
}

func TestMatchSubstituteAndPrefixVariants(t *testing.T) {
	outcome := NewMatcher().Match([]string{"Calpol 650", "Tab.Crocin"}, testCatalogue())

	require.Len(t, outcome.Matches, 2)
	byToken := map[string]MatchCandidate{}
	for _, m := range outcome.Matches {
		byToken[m.Token] = m
	}
	assert.Equal(t, MatchSubstitute, byToken["Calpol 650"].Type)
	assert.Equal(t, 0.90, byToken["Calpol 650"].Score)
	assert.Equal(t, "Dolo 650", byToken["Calpol 650"].Entry.Name)

	require.NotNil(t, byToken["Tab.Crocin"].Entry)
	assert.Equal(t, "Crocin", byToken["Tab.Crocin"].Entry.Name)
	assert.GreaterOrEqual(t, byToken["Tab.Crocin"].Score, MatchThreshold)
}

func TestMatchClaimsNormalizedFormOnce(t *testing.T) {
	outcome := NewMatcher().Match([]string{"Crocin", "CROCIN!"}, testCatalogue())
	assert.Len(t, outcome.Matches, 1)
	assert.Empty(t, outcome.DetectedOnly)
}

func TestMatchLowCoverage(t *testing.T) {
	candidates := []string{"Crocin", "Blorvax", "Trendil", "Muxatol", "ab"}
	outcome := NewMatcher().Match(candidates, testCatalogue())

	require.Len(t, outcome.Matches, 1)
	assert.InDelta(t, 0.2, outcome.Coverage(), 1e-9)
	require.Len(t, outcome.DetectedOnly, 3)
	for _, d := range outcome.DetectedOnly {
		assert.Nil(t, d.Entry)
		assert.Equal(t, MatchDetectedOnly, d.Type)
	}
}

func TestMatchOutcomeProperties(t *testing.T) {
	candidates := []string{"Dolo 650", "Dolo", "Paracitamol", "Azithro", "Crocine", "Zzzz", "Calpol"}
	m := NewMatcher()
	first := m.Match(candidates, testCatalogue())
	second := m.Match(candidates, testCatalogue())

	assert.Equal(t, first, second)
	for i, match := range first.Matches {
		assert.GreaterOrEqual(t, match.Score, MatchThreshold)
		if i > 0 {
			assert.GreaterOrEqual(t, first.Matches[i-1].Score, match.Score)
		}
	}
}

func TestMatchEmptyCatalogue(t *testing.T) {
	outcome := NewMatcher().Match([]string{"Crocin"}, storage.NewCatalogue(nil))
	assert.Empty(t, outcome.Matches)
	assert.Len(t, outcome.DetectedOnly, 1)
	assert.Equal(t, 0.0, MatchOutcome{}.Coverage())
}

func TestPartialScorer(t *testing.T) {
	entry := &storage.CatalogueEntry{Key: "augmentinduo"}
	score, ok := PartialScorer{}.Score("augmentin", entry)
	require.True(t, ok)
	assert.InDelta(t, 0.85*9.0/12.0, score, 1e-9)

	_, ok = PartialScorer{}.Score("aug", entry)
	assert.False(t, ok)
	_, ok = PartialScorer{}.Score("augm", entry)
	assert.False(t, ok, "overlap below ratio")
}

func TestCustomScorerOrder(t *testing.T) {
	outcome := NewMatcher(ExactScorer{}).Match([]string{"Paracitamol"}, testCatalogue())
	assert.Empty(t, outcome.Matches)
}

func TestCalculateWeightedConfidence(t *testing.T) {
	entry := &storage.CatalogueEntry{Medicine: storage.Medicine{Name: "Crocin"}, Key: "crocin"}
	result := CalculateWeightedConfidence(0.9, 1.0, []MatchCandidate{{Entry: entry, Score: 1, Type: MatchExact}}, nil)
	assert.InDelta(t, 96.0, result.Score, 1e-9)
	assert.Equal(t, "very_high", result.Level)
	assert.False(t, result.RequiresReview)

	result = CalculateWeightedConfidence(0.9, 1.0, []MatchCandidate{
		{Entry: entry, Score: 1, Type: MatchExact},
		{Token: "Blorvax", Type: MatchDetectedOnly},
	}, nil)
	assert.True(t, result.RequiresReview)
	assert.InDelta(t, 50.0, result.Factors.MatchQuality, 1e-9)

	result = CalculateWeightedConfidence(0, 0, nil, nil)
	assert.Equal(t, 0.0, result.Score)
	assert.Equal(t, "very_low", result.Level)
	assert.True(t, result.RequiresReview)
}

func TestPreprocessForOCR(t *testing.T) {
	img := imaging.New(300, 120, color.White)
	for x := 20; x < 280; x++ {
		for y := 50; y < 60; y++ {
			img.Set(x, y, color.Black)
		}
	}
	path := filepath.Join(t.TempDir(), "rx.png")
	require.NoError(t, imaging.Save(img, path))

	result, err := PreprocessForOCR(path, 150)
	require.NoError(t, err)
	assert.NotEmpty(t, result.PNG)
	assert.Equal(t, 150, result.Width)
	assert.Equal(t, 60, result.Height)
	assert.Contains(t, []EnhancementLevel{EnhancementLight, EnhancementStandard, EnhancementAggressive}, result.Level)

	_, err = PreprocessForOCR(filepath.Join(t.TempDir(), "missing.png"), 0)
	assert.Error(t, err)
}

func TestAnalyzeImageQualityEmpty(t *testing.T) {
	assert.Equal(t, 0.0, AnalyzeImageQuality(image.NewGray(image.Rect(0, 0, 0, 0))))
}
