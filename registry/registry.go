// Package registry maps security package names to provider modules.
//
// A Registry is populated with package entries up front (usually from an
// Enumerator) and loads the module behind a package the first time the
// package is looked up. Modules are deduplicated by identity: every package
// exported by one module shares a single Provider.
//
// # Thread Safety
//
// A Registry is safe for concurrent use. Concurrent first lookups of
// packages backed by the same module perform exactly one load; the others
// wait for it and reuse its Provider. The registry lock is not held while a
// module loads, so unrelated packages are never blocked by a slow load.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/smnsjas/go-sspi/internal/metrics"
	"github.com/smnsjas/go-sspi/ssp"
	"github.com/smnsjas/go-sspi/transcode"
)

var (
	// ErrPackageNotFound is returned for names that were never registered.
	ErrPackageNotFound = errors.New("security package not found")

	// ErrNoDispatchTable is the load cause when a module exports neither table.
	ErrNoDispatchTable = errors.New("module exports no dispatch table")

	// ErrDuplicatePackage is returned by Register for a name already present.
	ErrDuplicatePackage = errors.New("security package already registered")
)

// ProviderLoadError reports a failed provider load for a package. The
// package stays registered; a later lookup tries the load again.
type ProviderLoadError struct {
	Name   string
	Module string
	Cause  error
}

func (e *ProviderLoadError) Error() string {
	return fmt.Sprintf("load provider for package %q from %s: %v", e.Name, e.Module, e.Cause)
}

func (e *ProviderLoadError) Unwrap() error { return e.Cause }

// Loader opens a provider module by path.
type Loader interface {
	Load(path string) (ssp.Module, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(path string) (ssp.Module, error)

// Load calls f.
func (f LoaderFunc) Load(path string) (ssp.Module, error) { return f(path) }

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithCodec sets the codec used to synthesize missing tables.
func WithCodec(c *transcode.Codec) Option {
	return func(r *Registry) {
		if c != nil {
			r.codec = c
		}
	}
}

// WithFailureTTL caches a failed module load for d, so lookups within that
// window fail fast with the original cause. Zero (the default) disables
// caching and every lookup of an unloaded package attempts the load.
func WithFailureTTL(d time.Duration) Option {
	return func(r *Registry) { r.failureTTL = d }
}

// WithClock overrides time.Now for failure caching.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

type loadFailure struct {
	err   error
	until time.Time
}

// Registry is the package table. Construct it with New.
type Registry struct {
	loader     Loader
	codec      *transcode.Codec
	logger     *slog.Logger
	failureTTL time.Duration
	now        func() time.Time

	mu        sync.Mutex
	packages  map[string]*Descriptor
	providers map[string]*Provider
	failures  map[string]loadFailure

	loads singleflight.Group
}

// New returns an empty registry that opens modules with loader.
func New(loader Loader, opts ...Option) *Registry {
	r := &Registry{
		loader:    loader,
		codec:     transcode.Default(),
		logger:    slog.Default(),
		now:       time.Now,
		packages:  make(map[string]*Descriptor),
		providers: make(map[string]*Provider),
		failures:  make(map[string]loadFailure),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Codec returns the codec used for synthesized tables.
func (r *Registry) Codec() *transcode.Codec { return r.codec }

func foldName(name string) string { return strings.ToLower(name) }

func moduleIdentity(path string) string {
	id := filepath.Clean(path)
	if foldModulePaths {
		id = strings.ToLower(id)
	}
	return id
}

// foldModulePaths is set where module file names are case-insensitive.
var foldModulePaths = runtime.GOOS == "windows"

// Register adds a package. Names compare case-insensitively.
func (r *Registry) Register(e Entry) (*Descriptor, error) {
	if e.Name == "" {
		return nil, errors.New("package name is required")
	}
	if e.Module == "" {
		return nil, fmt.Errorf("package %q: module path is required", e.Name)
	}

	key := foldName(e.Name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.packages[key]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicatePackage, e.Name)
	}
	d := &Descriptor{entry: e, identity: moduleIdentity(e.Module)}
	r.packages[key] = d
	return d, nil
}

// Populate registers every package the enumerator reports.
func (r *Registry) Populate(en Enumerator) error {
	entries, err := en.Packages()
	if err != nil {
		return fmt.Errorf("enumerate packages: %w", err)
	}
	var errs []error
	for _, e := range entries {
		if _, err := r.Register(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Lookup returns the descriptor for name without loading its provider.
func (r *Registry) Lookup(name string) (*Descriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.packages[foldName(name)]
	return d, ok
}

// FindPackage returns the descriptor for name with its provider bound,
// loading the provider module on first use. Unknown names fail with
// ErrPackageNotFound without consulting the loader; load failures are
// reported as *ProviderLoadError.
func (r *Registry) FindPackage(name string) (*Descriptor, error) {
	d, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPackageNotFound, name)
	}
	if d.Provider() != nil {
		return d, nil
	}
	if _, err := r.LoadProvider(d); err != nil {
		return nil, err
	}
	return d, nil
}

// LoadProvider binds d to the provider for its module, loading the module
// if no package has done so yet.
func (r *Registry) LoadProvider(d *Descriptor) (*Provider, error) {
	if p := d.Provider(); p != nil {
		return p, nil
	}
	id := d.identity

	r.mu.Lock()
	if p, ok := r.providers[id]; ok {
		r.mu.Unlock()
		metrics.ProviderLoadsTotal.WithLabelValues(metrics.OutcomeShared).Inc()
		return d.bind(p), nil
	}
	if f, ok := r.failures[id]; ok {
		if r.now().Before(f.until) {
			r.mu.Unlock()
			metrics.ProviderLoadsTotal.WithLabelValues(metrics.OutcomeCached).Inc()
			return nil, &ProviderLoadError{Name: d.Name(), Module: d.Module(), Cause: f.err}
		}
		delete(r.failures, id)
	}
	r.mu.Unlock()

	v, err, shared := r.loads.Do(id, func() (any, error) {
		// A load that finished between the check above and this call has
		// already published its provider.
		r.mu.Lock()
		if p, ok := r.providers[id]; ok {
			r.mu.Unlock()
			return p, nil
		}
		r.mu.Unlock()

		p, err := r.load(d)

		r.mu.Lock()
		defer r.mu.Unlock()
		if err != nil {
			if r.failureTTL > 0 {
				r.failures[id] = loadFailure{err: err, until: r.now().Add(r.failureTTL)}
			}
			return nil, err
		}
		r.providers[id] = p
		return p, nil
	})
	if err != nil {
		return nil, &ProviderLoadError{Name: d.Name(), Module: d.Module(), Cause: err}
	}
	if shared {
		metrics.ProviderLoadsTotal.WithLabelValues(metrics.OutcomeShared).Inc()
	}
	return d.bind(v.(*Provider)), nil
}

// load opens the module and builds its provider. Panics raised by module
// code are reported as load failures.
func (r *Registry) load(d *Descriptor) (p *Provider, err error) {
	logger := r.logger.With("package", d.Name(), "module", d.Module())
	logger.Debug("loading provider module")

	defer func() {
		if rec := recover(); rec != nil {
			p, err = nil, fmt.Errorf("module panicked during load: %v", rec)
		}
		if err != nil {
			metrics.ProviderLoadsTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
			logger.Warn("provider load failed", "error", err)
		}
	}()

	mod, err := r.loader.Load(d.Module())
	if err != nil {
		return nil, fmt.Errorf("open module: %w", err)
	}
	narrow, wide, err := mod.Tables()
	if err != nil {
		return nil, fmt.Errorf("export dispatch tables: %w", err)
	}
	if narrow == nil && wide == nil {
		return nil, ErrNoDispatchTable
	}

	p = newProvider(d.identity, mod, narrow, wide, r.codec)
	metrics.ProviderLoadsTotal.WithLabelValues(metrics.OutcomeLoaded).Inc()
	logger.Info("provider loaded",
		"nativeNarrow", p.Native(EncodingNarrow),
		"nativeWide", p.Native(EncodingWide))
	return p, nil
}

// Packages returns every registered descriptor sorted by name.
func (r *Registry) Packages() []*Descriptor {
	r.mu.Lock()
	out := make([]*Descriptor, 0, len(r.packages))
	for _, d := range r.packages {
		out = append(out, d)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return foldName(out[i].Name()) < foldName(out[j].Name())
	})
	return out
}

// Providers returns the number of loaded provider modules.
func (r *Registry) Providers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.providers)
}
