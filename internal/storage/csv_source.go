// csv_source.go - Medicine dataset loaded from a CSV file

package storage

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// CSVSource reads the bulk medicine dataset from disk.
type CSVSource struct {
	Path       string
	Candidates ColumnCandidates
}

// NewCSVSource creates a CSV source using the default header candidates.
func NewCSVSource(path string) *CSVSource {
	return &CSVSource{Path: path, Candidates: defaultColumnCandidates()}
}

func (s *CSVSource) Name() string { return "csv" }

// Load parses the whole file. Rows without a medicine name are skipped.
func (s *CSVSource) Load(ctx context.Context) ([]Medicine, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath.Base(s.Path), err)
	}
	defer f.Close()

	medicines, err := ParseMedicinesCSV(ctx, f, s.Candidates)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(s.Path), err)
	}
	return medicines, nil
}

// ParseMedicinesCSV decodes a dataset with a header row.
func ParseMedicinesCSV(ctx context.Context, r io.Reader, candidates ColumnCandidates) ([]Medicine, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty file")
		}
		return nil, err
	}
	layout := resolveColumns(header, candidates)
	if layout.name < 0 {
		return nil, fmt.Errorf("no medicine name column in header %v", header)
	}

	var medicines []Medicine
	for line := 2; ; line++ {
		if line%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		med := Medicine{
			Name:             cell(row, layout.name),
			Manufacturer:     cell(row, layout.manufacturer),
			Price:            cell(row, layout.price),
			ChemicalClass:    cell(row, layout.chemicalClass),
			TherapeuticClass: cell(row, layout.therapeuticClass),
			ActionClass:      cell(row, layout.actionClass),
			HabitForming:     cell(row, layout.habitForming),
			ImageURL:         cell(row, layout.imageURL),
			Substitutes:      listCells(row, layout.substitutes),
			Uses:             listCells(row, layout.uses),
			SideEffects:      listCells(row, layout.sideEffects),
		}
		if med.Name == "" {
			continue
		}
		medicines = append(medicines, med)
	}
	return medicines, nil
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func listCells(row []string, indexes []int) []string {
	var out []string
	for _, idx := range indexes {
		out = append(out, splitList(cell(row, idx))...)
	}
	return out
}
