// result.go - Externally visible analysis result and the formatted medicine view

package pipeline

import (
	"math"

	"github.com/bosocmputer/prescription_ocr_gemini/internal/processor"
)

const (
	notAvailable        = "Not available"
	unknownHabitForming = "Unknown"
)

// Terminal messages returned to the presentation layer.
const (
	MessageUnreadable   = "Unable to read prescription"
	MessageNoMedicines  = "No medicines detected"
	MessageSuccess      = "Prescription analyzed successfully"
	messageFailedPrefix = "Analysis failed: "

	explanationUnreadable  = "No text could be extracted from the image."
	explanationNoMedicines = "No medicines could be identified from the prescription. The handwriting may be unclear or the medicines may not be in our database."
)

// Result is assembled once per analysis and never modified after return.
type Result struct {
	Explanation   string                      `json:"explanation"`
	Medicines     []MedicineView              `json:"medicines"`
	ExtractedText string                      `json:"extractedText"`
	Message       string                      `json:"message"`
	Confidence    *processor.ConfidenceResult `json:"confidence,omitempty"`
	RequestID     string                      `json:"requestId,omitempty"`

	outcome string
}

// Outcome is the metrics label of the run: success, unreadable, no_medicines or failed.
func (r Result) Outcome() string {
	return r.outcome
}

// MedicineView is one medicine as the presentation layer sees it. Missing
// catalogue fields are filled with display defaults.
type MedicineView struct {
	Name             string   `json:"name"`
	Manufacturer     string   `json:"manufacturer"`
	Price            string   `json:"price"`
	Substitutes      []string `json:"substitutes"`
	Uses             []string `json:"uses"`
	SideEffects      []string `json:"side_effects"`
	ChemicalClass    string   `json:"chemical_class"`
	HabitForming     string   `json:"habit_forming"`
	TherapeuticClass string   `json:"therapeutic_class"`
	ActionClass      string   `json:"action_class"`
	MatchScore       int      `json:"matchScore"`
	MatchType        string   `json:"matchType"`
	DetectedAs       string   `json:"detectedAs"`
	IsBasicInfo      bool     `json:"isBasicInfo"`
}

func unreadableResult() Result {
	return Result{
		Explanation: explanationUnreadable,
		Medicines:   []MedicineView{},
		Message:     MessageUnreadable,
		outcome:     "unreadable",
	}
}

func noMedicinesResult(text string) Result {
	return Result{
		Explanation:   explanationNoMedicines,
		Medicines:     []MedicineView{},
		ExtractedText: text,
		Message:       MessageNoMedicines,
		outcome:       "no_medicines",
	}
}

func failedResult(reason string) Result {
	return Result{
		Medicines: []MedicineView{},
		Message:   messageFailedPrefix + reason,
		outcome:   "failed",
	}
}

// FormatMedicine renders a match. Detected-only candidates carry no
// catalogue fields and are flagged as basic info.
func FormatMedicine(m processor.MatchCandidate) MedicineView {
	view := MedicineView{
		Name:        m.DisplayName(),
		Substitutes: []string{},
		Uses:        []string{},
		SideEffects: []string{},
		MatchScore:  int(math.Round(m.Score * 100)),
		MatchType:   string(m.Type),
		DetectedAs:  m.Token,
		IsBasicInfo: m.Entry == nil,
	}
	if m.Entry != nil {
		med := m.Entry.Medicine
		view.Manufacturer = med.Manufacturer
		view.Price = med.Price
		view.ChemicalClass = med.ChemicalClass
		view.HabitForming = med.HabitForming
		view.TherapeuticClass = med.TherapeuticClass
		view.ActionClass = med.ActionClass
		view.Substitutes = orEmpty(med.Substitutes)
		view.Uses = orEmpty(med.Uses)
		view.SideEffects = orEmpty(med.SideEffects)
	}

	view.Manufacturer = orDefault(view.Manufacturer, notAvailable)
	view.Price = orDefault(view.Price, notAvailable)
	view.ChemicalClass = orDefault(view.ChemicalClass, notAvailable)
	view.TherapeuticClass = orDefault(view.TherapeuticClass, notAvailable)
	view.ActionClass = orDefault(view.ActionClass, notAvailable)
	view.HabitForming = orDefault(view.HabitForming, unknownHabitForming)
	return view
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orEmpty(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
