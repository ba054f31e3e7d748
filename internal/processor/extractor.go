// extractor.go - Candidate medicine token extraction from recognized text
//
// Recognized prescription text is mostly boilerplate: hospital headers,
// patient details, dates and dosing instructions. CleanOCRText blanks the
// known noise, ExtractFromCleaned then proposes candidate tokens using three
// independent strategies whose results are merged in order.

package processor

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var noisePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(hospital|clinic|medical|center|dr\.|doctor|patient|age|date|address|phone|mobile|email)\b`),
	regexp.MustCompile(`(?i)\b(name|address|city|state|pin|code|tel|fax)\s*:?\s*[^\n]*`),
	regexp.MustCompile(`\b\d{1,2}[/-]\d{1,2}[/-]\d{2,4}\b`),
	regexp.MustCompile(`\b\d{10}\b`),
	regexp.MustCompile(`\b\d{6}\b`),
	regexp.MustCompile(`(?i)\b(male|female|m/f|age|yrs?|years?)\b`),
	// two capitalized words in a row are assumed to be a person's name
	regexp.MustCompile(`\b[A-Z][a-z]+ [A-Z][a-z]+\b`),
}

var (
	skipLinePattern = regexp.MustCompile(`(?i)\b(hospital|clinic|patient|doctor|address|phone|date|mobile|email|signature|prescribed|take|times|day|morning|evening|night|after|before|food|meal|breakfast|lunch|dinner)\b`)
	numericLine     = regexp.MustCompile(`^\d+[\s\-/]*\d*[\s\-/]*\d*$`)

	// optional dosage form, the name, optional strength (group 2, unit in
	// group 3), optional frequency like 1-0-1, optional food instruction
	medicineLine = regexp.MustCompile(`(?i)^(?:tab\.?|cap\.?|syp\.?|inj\.?|tablet|capsule|syrup|injection)?\s*([A-Za-z][A-Za-z0-9\s\-]+?)(?:\s+(\d+(?:/\d+)?)(mg|mcg|gm|ml)?)?(?:\s+[\d\-]+)?(?:\s*(?:before|after)\s+food)?$`)
	trailingNumber  = regexp.MustCompile(`\s+\d+$`)

	wordSeparator   = regexp.MustCompile(`[\s,;]+`)
	nonAlnum        = regexp.MustCompile(`[^a-zA-Z0-9]`)
	allDigits       = regexp.MustCompile(`^\d+$`)
	strengthToken   = regexp.MustCompile(`(?i)^\d+(mg|ml|mcg|gm|g|iu)$`)
	capitalizedWord = regexp.MustCompile(`\b[A-Z][a-z]{3,24}\b`)
)

var wordStoplist = map[string]bool{
	"tablet": true, "capsule": true, "syrup": true, "take": true,
	"daily": true, "once": true, "twice": true, "thrice": true,
	"morning": true, "evening": true, "night": true,
	"after": true, "before": true,
}

var capitalizedStoplist = map[string]bool{
	"Hospital": true, "Clinic": true, "Doctor": true, "Patient": true,
	"Date": true, "Name": true, "Address": true, "City": true, "State": true,
	"Phone": true, "Mobile": true, "Email": true,
	"Before": true, "After": true, "Food": true, "Meal": true,
	// dosing vocabulary that survives on instruction lines
	"Take": true, "Once": true, "Twice": true, "Thrice": true, "Daily": true,
	"Morning": true, "Evening": true, "Night": true,
	"Tablet": true, "Capsule": true, "Syrup": true,
}

// CleanOCRText replaces facility boilerplate, dates, phone and pin codes,
// demographic markers and probable patient names with spaces. Line breaks
// are preserved so later stages can still work line by line.
func CleanOCRText(text string) string {
	cleaned := norm.NFKC.String(text)
	for _, p := range noisePatterns {
		cleaned = p.ReplaceAllString(cleaned, " ")
	}
	return cleaned
}

// ExtractCandidates cleans raw recognized text and extracts candidate tokens.
func ExtractCandidates(rawText string) []string {
	return ExtractFromCleaned(CleanOCRText(rawText))
}

// ExtractFromCleaned proposes medicine-like tokens from already cleaned text.
// The result is deduplicated and keeps first-seen order: for each line the
// line-level name and then its words, followed by capitalized words from the
// whole text.
func ExtractFromCleaned(cleaned string) []string {
	var candidates []string
	seen := make(map[string]bool)
	add := func(token string) {
		if token == "" || seen[token] {
			return
		}
		seen[token] = true
		candidates = append(candidates, token)
	}

	for _, line := range strings.Split(cleaned, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || skipLinePattern.MatchString(line) || numericLine.MatchString(line) {
			continue
		}
		for _, n := range lineNames(line) {
			add(n)
		}
		for _, w := range lineWords(line) {
			add(w)
		}
	}
	for _, w := range capitalizedWords(cleaned) {
		add(w)
	}
	return candidates
}

// lineNames matches a whole line against the prescription line shape. A brand
// strength written as a bare number ("Dolo 650") is kept as its own candidate
// ahead of the bare name, since catalogues often list the strength as part of
// the brand.
func lineNames(line string) []string {
	m := medicineLine.FindStringSubmatch(line)
	if m == nil {
		return nil
	}

	name := strings.TrimSpace(trailingNumber.ReplaceAllString(m[1], ""))
	if !validNameLength(name) {
		return nil
	}

	var out []string
	if m[2] != "" && m[3] == "" && !strings.Contains(m[2], "/") {
		if withStrength := name + " " + m[2]; validNameLength(withStrength) {
			out = append(out, withStrength)
		}
	}
	return append(out, name)
}

func validNameLength(name string) bool {
	n := len([]rune(name))
	return n >= 3 && n <= 30
}

func lineWords(line string) []string {
	var out []string
	for _, word := range wordSeparator.Split(line, -1) {
		clean := nonAlnum.ReplaceAllString(word, "")
		if len(clean) < 4 || len(clean) > 25 {
			continue
		}
		if allDigits.MatchString(clean) || strengthToken.MatchString(clean) {
			continue
		}
		if wordStoplist[strings.ToLower(clean)] {
			continue
		}
		out = append(out, word)
	}
	return out
}

func capitalizedWords(text string) []string {
	var out []string
	for _, w := range capitalizedWord.FindAllString(text, -1) {
		if !capitalizedStoplist[w] {
			out = append(out, w)
		}
	}
	return out
}
