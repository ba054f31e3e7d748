package pipeline

import (
	"fmt"
	"strings"
)

const explanationUses = 3

// BuildExplanation writes the numbered, human readable summary of the
// medicines found. Empty fields are left out of an entry.
func BuildExplanation(medicines []MedicineView) string {
	names := make([]string, len(medicines))
	for i, m := range medicines {
		names[i] = m.Name
	}

	var sb strings.Builder
	plural := ""
	if len(medicines) > 1 {
		plural = "s"
	}
	fmt.Fprintf(&sb, "This prescription contains %d medicine%s: %s.\n\n", len(medicines), plural, strings.Join(names, ", "))
	sb.WriteString("Prescription Summary:\n")

	for i, m := range medicines {
		fmt.Fprintf(&sb, "\n%d. %s\n", i+1, m.Name)
		if m.ChemicalClass != "" {
			fmt.Fprintf(&sb, "   - Chemical Class: %s\n", m.ChemicalClass)
		}
		if len(m.Uses) > 0 {
			shown := m.Uses
			if len(shown) > explanationUses {
				shown = shown[:explanationUses]
			}
			fmt.Fprintf(&sb, "   - Prescribed For: %s", strings.Join(shown, ", "))
			if extra := len(m.Uses) - explanationUses; extra > 0 {
				fmt.Fprintf(&sb, " and %d more uses", extra)
			}
			sb.WriteString("\n")
		}
		if m.Manufacturer != "" {
			fmt.Fprintf(&sb, "   - Manufacturer: %s\n", m.Manufacturer)
		}
	}
	return strings.TrimSpace(sb.String())
}
