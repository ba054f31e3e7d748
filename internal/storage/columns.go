// columns.go - Header detection for medicine dataset files

package storage

import (
	"strings"
	"unicode"
)

// ColumnCandidates lists the accepted header spellings for each dataset field.
// Headers are compared after lowercasing and dropping everything but letters
// and digits, so "Mrp (Rs.)", "mrp_rs" and "MRP Rs" are the same column.
type ColumnCandidates struct {
	Name             []string
	Manufacturer     []string
	Price            []string
	Substitutes      []string
	Uses             []string
	SideEffects      []string
	ChemicalClass    []string
	TherapeuticClass []string
	ActionClass      []string
	HabitForming     []string
	ImageURL         []string
}

func defaultColumnCandidates() ColumnCandidates {
	return ColumnCandidates{
		Name:             []string{"Medicine Name", "name", "drug name", "medicine"},
		Manufacturer:     []string{"Manufacturer", "manufacturer name"},
		Price:            []string{"Mrp (Rs.)", "price", "mrp"},
		Substitutes:      []string{"Substitutes", "substitute"},
		Uses:             []string{"Uses", "use"},
		SideEffects:      []string{"Side_effects", "Side Effects", "side effect", "sideEffects"},
		ChemicalClass:    []string{"Chemical Class"},
		TherapeuticClass: []string{"Therapeutic Class"},
		ActionClass:      []string{"Action Class"},
		HabitForming:     []string{"Habit Forming"},
		ImageURL:         []string{"Image URL", "image"},
	}
}

// columnLayout records where each field lives in a header row. List fields
// may span several numbered columns ("substitute0", "substitute1", ...).
type columnLayout struct {
	name             int
	manufacturer     int
	price            int
	chemicalClass    int
	therapeuticClass int
	actionClass      int
	habitForming     int
	imageURL         int
	substitutes      []int
	uses             []int
	sideEffects      []int
}

func resolveColumns(header []string, candidates ColumnCandidates) columnLayout {
	keys := make([]string, len(header))
	for i, h := range header {
		keys[i] = headerKey(h)
	}
	return columnLayout{
		name:             findColumn(keys, candidates.Name),
		manufacturer:     findColumn(keys, candidates.Manufacturer),
		price:            findColumn(keys, candidates.Price),
		chemicalClass:    findColumn(keys, candidates.ChemicalClass),
		therapeuticClass: findColumn(keys, candidates.TherapeuticClass),
		actionClass:      findColumn(keys, candidates.ActionClass),
		habitForming:     findColumn(keys, candidates.HabitForming),
		imageURL:         findColumn(keys, candidates.ImageURL),
		substitutes:      findListColumns(keys, candidates.Substitutes),
		uses:             findListColumns(keys, candidates.Uses),
		sideEffects:      findListColumns(keys, candidates.SideEffects),
	}
}

func findColumn(keys []string, candidates []string) int {
	for _, cand := range candidates {
		want := headerKey(cand)
		for i, key := range keys {
			if key == want {
				return i
			}
		}
	}
	return -1
}

// findListColumns returns the exact match if there is one, otherwise every
// numbered variant of the first candidate that has any.
func findListColumns(keys []string, candidates []string) []int {
	if idx := findColumn(keys, candidates); idx >= 0 {
		return []int{idx}
	}
	for _, cand := range candidates {
		want := headerKey(cand)
		var found []int
		for i, key := range keys {
			trimmed := strings.TrimRightFunc(key, unicode.IsDigit)
			if trimmed != key && trimmed == want {
				found = append(found, i)
			}
		}
		if len(found) > 0 {
			return found
		}
	}
	return nil
}

func headerKey(h string) string {
	h = strings.TrimPrefix(strings.TrimSpace(h), "\ufeff")
	var b strings.Builder
	for _, r := range strings.ToLower(h) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
