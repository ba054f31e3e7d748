package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "dolo650", NormalizeName("Dolo 650"))
	assert.Equal(t, "paracetamol", NormalizeName("  PARACETAMOL!"))
	assert.Equal(t, "cafe", NormalizeName("Café"))
	assert.Equal(t, "a1", NormalizeName("ａ１"))
	assert.Equal(t, "", NormalizeName("--"))
}

func TestParseMedicinesCSVWithDatasetHeaders(t *testing.T) {
	data := "Medicine Name,Manufacturer,Mrp (Rs.),Substitutes,Uses,Side_effects,Chemical Class,Habit Forming,Therapeutic Class,Action Class\n" +
		"Dolo 650,Micro Labs,30.9,\"Calpol 650, Pacimol 650\",\"Pain relief, Fever\",\"Nausea\",Anilide,No,PAIN ANALGESICS,Analgesic\n" +
		",Nobody,1,,,,,,,\n"

	meds, err := ParseMedicinesCSV(context.Background(), strings.NewReader(data), defaultColumnCandidates())
	require.NoError(t, err)
	require.Len(t, meds, 1)

	dolo := meds[0]
	assert.Equal(t, "Dolo 650", dolo.Name)
	assert.Equal(t, "Micro Labs", dolo.Manufacturer)
	assert.Equal(t, "30.9", dolo.Price)
	assert.Equal(t, []string{"Calpol 650", "Pacimol 650"}, dolo.Substitutes)
	assert.Equal(t, []string{"Pain relief", "Fever"}, dolo.Uses)
	assert.Equal(t, []string{"Nausea"}, dolo.SideEffects)
	assert.Equal(t, "Anilide", dolo.ChemicalClass)
	assert.Equal(t, "No", dolo.HabitForming)
	assert.Equal(t, "PAIN ANALGESICS", dolo.TherapeuticClass)
	assert.Equal(t, "Analgesic", dolo.ActionClass)
}

func TestParseMedicinesCSVWithAlternateHeaders(t *testing.T) {
	data := "name,manufacturer,price,substitute0,substitute1,use0,sideEffect0,sideEffect1\n" +
		"Crocin,GSK,25,Dolo,Calpol,Fever,Rash,Nausea\n"

	meds, err := ParseMedicinesCSV(context.Background(), strings.NewReader(data), defaultColumnCandidates())
	require.NoError(t, err)
	require.Len(t, meds, 1)
	assert.Equal(t, "Crocin", meds[0].Name)
	assert.Equal(t, "25", meds[0].Price)
	assert.Equal(t, []string{"Dolo", "Calpol"}, meds[0].Substitutes)
	assert.Equal(t, []string{"Fever"}, meds[0].Uses)
	assert.Equal(t, []string{"Rash", "Nausea"}, meds[0].SideEffects)
}

func TestParseMedicinesCSVRequiresNameColumn(t *testing.T) {
	_, err := ParseMedicinesCSV(context.Background(), strings.NewReader("foo,bar\n1,2\n"), defaultColumnCandidates())
	assert.Error(t, err)

	_, err = ParseMedicinesCSV(context.Background(), strings.NewReader(""), defaultColumnCandidates())
	assert.Error(t, err)
}

func TestCSVSourceLoadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "medicines.csv")
	require.NoError(t, os.WriteFile(path, []byte("Medicine Name,Uses\nAzithromycin,\"Infection\"\n"), 0o644))

	meds, err := NewCSVSource(path).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, meds, 1)
	assert.Equal(t, "Azithromycin", meds[0].Name)

	_, err = NewCSVSource(filepath.Join(t.TempDir(), "missing.csv")).Load(context.Background())
	assert.Error(t, err)
}

func TestCatalogueIndexesByNormalizedName(t *testing.T) {
	c := NewCatalogue([]Medicine{
		{Name: "Dolo 650", Substitutes: []string{"Calpol 650", " "}},
		{Name: "  "},
		{Name: "DOLO-650", Manufacturer: "duplicate"},
	})

	assert.Equal(t, 2, c.Len())
	entry, ok := c.Lookup("dolo 650")
	require.True(t, ok)
	assert.Equal(t, "Dolo 650", entry.Name)
	assert.Equal(t, "dolo650", entry.Key)
	assert.Equal(t, []string{"calpol650"}, entry.SubstituteKeys)

	_, ok = c.Lookup("crocin")
	assert.False(t, ok)

	var nilCatalogue *Catalogue
	assert.Equal(t, 0, nilCatalogue.Len())
	assert.Nil(t, nilCatalogue.Entries())
}

func TestMedicineDocumentFallsBackToLegacyFields(t *testing.T) {
	med := medicineDocument{
		Name:           "Crocin",
		BrandNames:     []string{"Dolo"},
		SideEffectsAlt: []string{"Rash"},
	}.toMedicine()
	assert.Equal(t, []string{"Dolo"}, med.Substitutes)
	assert.Equal(t, []string{"Rash"}, med.SideEffects)
}

type countingSource struct {
	calls int32
	meds  []Medicine
	err   error
}

func (s *countingSource) Name() string { return "counting" }

func (s *countingSource) Load(context.Context) ([]Medicine, error) {
	atomic.AddInt32(&s.calls, 1)
	return s.meds, s.err
}

func TestCatalogueStoreLoadsOnce(t *testing.T) {
	src := &countingSource{meds: []Medicine{{Name: "Crocin"}}}
	var observed int32
	store := NewCatalogueStore(src, func(c *Catalogue) { atomic.StoreInt32(&observed, int32(c.Len())) })

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := store.Get(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, 1, c.Len())
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&src.calls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&observed))
	assert.True(t, store.Loaded())
}

func TestCatalogueStoreRemembersFailure(t *testing.T) {
	src := &countingSource{err: errors.New("dataset missing")}
	store := NewCatalogueStore(src, nil)

	_, err := store.Get(context.Background())
	require.Error(t, err)
	_, err = store.Get(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&src.calls))
}
