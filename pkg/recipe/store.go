package recipe

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// FileError records why one catalog file failed to load. Other files in the
// directory still load.
type FileError struct {
	File   string `json:"file"`
	Reason string `json:"reason"`
}

// CatalogStatus summarizes a catalog (re)load.
type CatalogStatus struct {
	Loaded int         `json:"loaded"`
	Errors []FileError `json:"errors,omitempty"`
}

// Store is the recipe catalog: it loads every recipe document from a
// directory at startup and serves them read-only afterwards. Reload swaps
// the whole catalog atomically, so concurrent readers never see a partial
// load.
type Store struct {
	dir string
	log *zap.Logger

	mu      sync.RWMutex
	recipes map[string]*Recipe
}

// NewStore creates a store over a catalog directory and performs the
// initial load.
func NewStore(dir string, log *zap.Logger) (*Store, CatalogStatus, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{dir: dir, log: log}
	status, err := s.Reload()
	return s, status, err
}

// Reload re-reads the catalog directory. A file that fails validation is
// omitted and reported; it never aborts the rest of the catalog.
func (s *Store) Reload() (CatalogStatus, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return CatalogStatus{}, fmt.Errorf("read catalog dir: %w", err)
	}

	loaded := make(map[string]*Recipe)
	var status CatalogStatus

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		// The schema document lives next to the recipes; skip it by name.
		if strings.TrimSuffix(name, filepath.Ext(name)) == "schema" {
			continue
		}

		path := filepath.Join(s.dir, name)
		rc, errs := ValidateFile(path)
		if HasErrors(errs) {
			reasons := make([]string, 0, len(errs))
			for _, e := range errs {
				if e.Severity == "error" {
					reasons = append(reasons, e.Error())
				}
			}
			status.Errors = append(status.Errors, FileError{File: name, Reason: strings.Join(reasons, "; ")})
			s.log.Warn("recipe rejected", zap.String("file", name), zap.Strings("errors", reasons))
			continue
		}
		for _, e := range errs {
			s.log.Warn("recipe warning", zap.String("file", name), zap.String("warning", e.Error()))
		}

		if prev, dup := loaded[rc.WorkOrderType]; dup {
			status.Errors = append(status.Errors, FileError{
				File:   name,
				Reason: fmt.Sprintf("duplicate work_order_type %q (already loaded)", prev.WorkOrderType),
			})
			s.log.Warn("duplicate recipe type", zap.String("file", name), zap.String("type", rc.WorkOrderType))
			continue
		}
		loaded[rc.WorkOrderType] = rc
		status.Loaded++
	}

	s.mu.Lock()
	s.recipes = loaded
	s.mu.Unlock()

	s.log.Info("catalog loaded",
		zap.String("dir", s.dir),
		zap.Int("recipes", status.Loaded),
		zap.Int("rejected", len(status.Errors)))
	return status, nil
}

// Get returns the recipe for a work-order type.
func (s *Store) Get(workOrderType string) (*Recipe, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rc, ok := s.recipes[workOrderType]
	return rc, ok
}

// ListAll returns every loaded recipe, sorted by work-order type so matcher
// prompts are stable across runs.
func (s *Store) ListAll() []*Recipe {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Recipe, 0, len(s.recipes))
	for _, rc := range s.recipes {
		out = append(out, rc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkOrderType < out[j].WorkOrderType })
	return out
}

// Types returns the loaded work-order types, sorted.
func (s *Store) Types() []string {
	all := s.ListAll()
	types := make([]string, len(all))
	for i, rc := range all {
		types[i] = rc.WorkOrderType
	}
	return types
}
