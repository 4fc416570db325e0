// Package loader provides registry.Loader implementations for modules that
// live in the process: Static serves modules registered by path, and Chain
// tries several loaders in order so built-in modules can shadow or fall
// back to shared libraries.
package loader

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/smnsjas/go-sspi/registry"
	"github.com/smnsjas/go-sspi/ssp"
)

// ErrModuleNotFound is returned by a loader that does not know a path.
// Chain moves on to the next loader only for this error.
var ErrModuleNotFound = errors.New("module not found")

// Static maps module paths to in-process modules.
type Static struct {
	mu      sync.RWMutex
	modules map[string]ssp.Module
}

// NewStatic returns a loader serving the given modules.
func NewStatic(modules map[string]ssp.Module) *Static {
	s := &Static{modules: make(map[string]ssp.Module, len(modules))}
	for path, m := range modules {
		s.modules[filepath.Clean(path)] = m
	}
	return s
}

// Add registers m under path, replacing any earlier module.
func (s *Static) Add(path string, m ssp.Module) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.modules == nil {
		s.modules = make(map[string]ssp.Module)
	}
	s.modules[filepath.Clean(path)] = m
}

// Load implements registry.Loader.
func (s *Static) Load(path string) (ssp.Module, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.modules[filepath.Clean(path)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, path)
	}
	return m, nil
}

// Paths returns the registered module paths in sorted order.
func (s *Static) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.modules))
	for p := range s.modules {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Chain tries each loader in order. The first loader that does not report
// ErrModuleNotFound decides the result.
type Chain []registry.Loader

// Load implements registry.Loader.
func (c Chain) Load(path string) (ssp.Module, error) {
	var errs []error
	for _, l := range c {
		if l == nil {
			continue
		}
		m, err := l.Load(path)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, ErrModuleNotFound) {
			return nil, err
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, path)
	}
	return nil, errors.Join(errs...)
}
