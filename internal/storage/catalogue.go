// catalogue.go - Read-only medicine catalogue

package storage

import (
	"context"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Medicine is one record of the reference drug dataset.
type Medicine struct {
	Name             string   `bson:"name" json:"name"`
	Manufacturer     string   `bson:"manufacturer" json:"manufacturer"`
	Price            string   `bson:"price" json:"price"`
	Substitutes      []string `bson:"substitutes" json:"substitutes"`
	Uses             []string `bson:"uses" json:"uses"`
	SideEffects      []string `bson:"side_effects" json:"side_effects"`
	ChemicalClass    string   `bson:"chemical_class" json:"chemical_class"`
	TherapeuticClass string   `bson:"therapeutic_class" json:"therapeutic_class"`
	ActionClass      string   `bson:"action_class" json:"action_class"`
	HabitForming     string   `bson:"habit_forming" json:"habit_forming"`
	ImageURL         string   `bson:"image_url,omitempty" json:"image_url,omitempty"`
}

// CatalogueEntry is a Medicine with its precomputed match keys.
type CatalogueEntry struct {
	Medicine
	Key            string
	SubstituteKeys []string
}

// Catalogue is immutable once built; callers must not modify returned entries.
type Catalogue struct {
	entries []CatalogueEntry
	byKey   map[string]int
}

// Source loads the raw medicine records backing a Catalogue.
type Source interface {
	Name() string
	Load(ctx context.Context) ([]Medicine, error)
}

// NewCatalogue indexes medicines by normalized name. Records without a
// usable name are dropped; the first record wins for duplicate keys.
func NewCatalogue(medicines []Medicine) *Catalogue {
	c := &Catalogue{
		entries: make([]CatalogueEntry, 0, len(medicines)),
		byKey:   make(map[string]int, len(medicines)),
	}
	for _, med := range medicines {
		med.Name = strings.TrimSpace(med.Name)
		if med.Name == "" {
			continue
		}
		entry := CatalogueEntry{Medicine: med, Key: NormalizeName(med.Name)}
		for _, sub := range med.Substitutes {
			if key := NormalizeName(sub); key != "" {
				entry.SubstituteKeys = append(entry.SubstituteKeys, key)
			}
		}
		if _, exists := c.byKey[entry.Key]; !exists && entry.Key != "" {
			c.byKey[entry.Key] = len(c.entries)
		}
		c.entries = append(c.entries, entry)
	}
	return c
}

// Entries returns every entry in load order.
func (c *Catalogue) Entries() []CatalogueEntry {
	if c == nil {
		return nil
	}
	return c.entries
}

func (c *Catalogue) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

// Lookup finds an entry by exact normalized name.
func (c *Catalogue) Lookup(name string) (*CatalogueEntry, bool) {
	if c == nil {
		return nil, false
	}
	idx, ok := c.byKey[NormalizeName(name)]
	if !ok {
		return nil, false
	}
	return &c.entries[idx], true
}

// NormalizeName lowercases s, folds compatibility forms and accents, and
// keeps only ASCII letters and digits.
func NormalizeName(s string) string {
	decomposed := norm.NFKD.String(s)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		r = unicode.ToLower(r)
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// splitList splits a comma separated dataset cell into trimmed, non-empty items.
func splitList(cell string) []string {
	if strings.TrimSpace(cell) == "" {
		return nil
	}
	parts := strings.Split(cell, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
