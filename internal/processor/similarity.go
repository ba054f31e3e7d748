// similarity.go - Bigram (Dice) similarity for OCR'd medicine names

package processor

import "strings"

// Similarity returns the Dice coefficient of the character-bigram sets of a
// and b, compared case-insensitively. Identical strings score 1, strings
// shorter than two characters score 0.
func Similarity(a, b string) float64 {
	a = strings.ToLower(a)
	b = strings.ToLower(b)
	if a == b {
		return 1.0
	}

	ra, rb := []rune(a), []rune(b)
	if len(ra) < 2 || len(rb) < 2 {
		return 0.0
	}

	setA := bigrams(ra)
	setB := bigrams(rb)

	intersection := 0
	for bg := range setA {
		if _, ok := setB[bg]; ok {
			intersection++
		}
	}
	return 2.0 * float64(intersection) / float64(len(setA)+len(setB))
}

func bigrams(r []rune) map[[2]rune]struct{} {
	set := make(map[[2]rune]struct{}, len(r)-1)
	for i := 0; i < len(r)-1; i++ {
		set[[2]rune{r[i], r[i+1]}] = struct{}{}
	}
	return set
}
