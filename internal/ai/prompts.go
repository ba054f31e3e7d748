// prompts.go - Prompt templates for AI fallback name extraction
package ai

import "strings"

const medicineExtractionTemplate = `Extract ONLY the medicine/drug names from this prescription text. Return a JSON array of medicine names.

Prescription text:
{{TEXT}}

Return format: ["Medicine1", "Medicine2", "Medicine3"]
Return ONLY the JSON array, nothing else.`

// BuildMedicineExtractionPrompt embeds the recognized text in the extraction
// instruction. The model must answer with a bare JSON array of strings.
func BuildMedicineExtractionPrompt(text string) string {
	return strings.Replace(medicineExtractionTemplate, "{{TEXT}}", text, 1)
}
