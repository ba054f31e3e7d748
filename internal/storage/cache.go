// cache.go - Process-lifetime cache for the medicine catalogue

package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/bosocmputer/prescription_ocr_gemini/internal/common"
	"go.uber.org/zap"
)

// CatalogueStore loads the catalogue from its Source on first use and keeps
// it for the life of the process. Concurrent first callers share one load.
// A failed load is remembered; restart the process to retry.
type CatalogueStore struct {
	source Source
	lazy   *common.Lazy[*Catalogue]
	loaded func(*Catalogue)
}

// NewCatalogueStore creates a store; onLoad (optional) observes the loaded catalogue.
func NewCatalogueStore(source Source, onLoad func(*Catalogue)) *CatalogueStore {
	s := &CatalogueStore{source: source, loaded: onLoad}
	s.lazy = common.NewLazy(s.load)
	return s
}

// Get returns the shared catalogue.
func (s *CatalogueStore) Get(ctx context.Context) (*Catalogue, error) {
	return s.lazy.Get(ctx)
}

// Loaded reports whether the first load has finished.
func (s *CatalogueStore) Loaded() bool {
	return s.lazy.Loaded()
}

func (s *CatalogueStore) load(ctx context.Context) (*Catalogue, error) {
	start := time.Now()
	medicines, err := s.source.Load(ctx)
	if err != nil {
		common.Logger().Error("❌ Failed to load medicine catalogue", zap.String("source", s.source.Name()), zap.Error(err))
		return nil, fmt.Errorf("load catalogue from %s: %w", s.source.Name(), err)
	}

	catalogue := NewCatalogue(medicines)
	common.Logger().Info("📚 Medicine catalogue loaded",
		zap.String("source", s.source.Name()),
		zap.Int("entries", catalogue.Len()),
		zap.Duration("duration", time.Since(start)),
	)
	if s.loaded != nil {
		s.loaded(catalogue)
	}
	return catalogue, nil
}

// StaticCatalogue serves an already built catalogue.
type StaticCatalogue struct {
	Catalogue *Catalogue
}

func (s StaticCatalogue) Get(context.Context) (*Catalogue, error) {
	return s.Catalogue, nil
}
