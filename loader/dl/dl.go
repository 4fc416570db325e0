// Package dl loads provider modules from shared libraries that export the
// narrow SSPI entry points (AcquireCredentialsHandleA,
// InitializeSecurityContextA and friends), such as the libsspi library
// built from sspi-rs. Libraries are opened with purego, so no C toolchain
// is involved.
//
// A library serves the narrow table only; wide callers reach it through
// the registry's thunk.
package dl

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/smnsjas/go-sspi/loader"
	"github.com/smnsjas/go-sspi/ssp"
)

const (
	// EnvSearchPath lists extra directories, separated by the OS path list
	// separator, that are searched before the defaults.
	EnvSearchPath = "SSPI_MODULE_PATH"

	// EnvLibrary overrides the location of DefaultLibrary.
	EnvLibrary = "SSPI_RS_LIB"

	// DefaultLibrary is the base name of the sspi-rs library.
	DefaultLibrary = "libsspi"
)

// ErrUnsupportedPlatform is returned when shared libraries cannot be
// opened on this system.
var ErrUnsupportedPlatform = errors.New("dl: shared library loading is not supported on " + runtime.GOOS)

// Loader opens shared libraries by name or path. It implements
// registry.Loader and keeps every library it opened until Close.
type Loader struct {
	searchPaths []string
	logger      *slog.Logger

	mu   sync.Mutex
	libs map[string]*module
}

// Option configures a Loader.
type Option func(*Loader)

// WithSearchPaths replaces the default search directories.
func WithSearchPaths(dirs ...string) Option {
	return func(l *Loader) { l.searchPaths = dirs }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

// New returns a Loader searching $SSPI_MODULE_PATH followed by
// ./lib/<goos>_<goarch>, the working directory, /usr/local/lib and /usr/lib.
func New(opts ...Option) *Loader {
	l := &Loader{
		searchPaths: DefaultSearchPaths(),
		logger:      slog.Default(),
		libs:        make(map[string]*module),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// DefaultSearchPaths returns the directories New searches.
func DefaultSearchPaths() []string {
	var dirs []string
	if env := os.Getenv(EnvSearchPath); env != "" {
		for _, d := range filepath.SplitList(env) {
			if d != "" {
				dirs = append(dirs, d)
			}
		}
	}
	return append(dirs,
		filepath.Join(".", "lib", runtime.GOOS+"_"+runtime.GOARCH),
		".",
		"/usr/local/lib",
		"/usr/lib",
	)
}

// Suffix is the platform's shared library extension.
func Suffix() string {
	switch runtime.GOOS {
	case "darwin", "ios":
		return ".dylib"
	case "windows":
		return ".dll"
	default:
		return ".so"
	}
}

// Find resolves name to an absolute library path. A name with a directory
// component is used as given; a bare name is looked up in the search
// directories, with the platform suffix appended when it has none.
// DefaultLibrary also honours $SSPI_RS_LIB. Unknown names wrap
// loader.ErrModuleNotFound so a loader.Chain can fall through.
func (l *Loader) Find(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty module name", loader.ErrModuleNotFound)
	}
	if name == DefaultLibrary || name == DefaultLibrary+Suffix() {
		if env := os.Getenv(EnvLibrary); env != "" && isFile(env) {
			return filepath.Abs(env)
		}
	}

	candidates := []string{name}
	if filepath.Ext(name) == "" {
		candidates = append(candidates, name+Suffix())
	}

	if strings.ContainsRune(name, filepath.Separator) || strings.ContainsRune(name, '/') {
		for _, c := range candidates {
			if isFile(c) {
				return filepath.Abs(c)
			}
		}
		return "", fmt.Errorf("%w: %s", loader.ErrModuleNotFound, name)
	}

	for _, dir := range l.searchPaths {
		for _, c := range candidates {
			p := filepath.Join(dir, c)
			if isFile(p) {
				return filepath.Abs(p)
			}
		}
	}
	return "", fmt.Errorf("%w: %s (searched %s)", loader.ErrModuleNotFound, name, strings.Join(l.searchPaths, string(os.PathListSeparator)))
}

func isFile(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && !fi.IsDir()
}

// Load implements registry.Loader.
func (l *Loader) Load(name string) (ssp.Module, error) {
	path, err := l.Find(name)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if m, ok := l.libs[path]; ok {
		return m, nil
	}
	m, err := open(path)
	if err != nil {
		return nil, err
	}
	l.libs[path] = m
	l.logger.Debug("shared library opened", "module", name, "path", path)
	return m, nil
}

// Close unloads every library. Tables obtained from them must not be used
// afterwards.
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var errs []error
	for path, m := range l.libs {
		if err := m.close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", path, err))
		}
		delete(l.libs, path)
	}
	return errors.Join(errs...)
}
