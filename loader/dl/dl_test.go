package dl

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/smnsjas/go-sspi/loader"
	"github.com/smnsjas/go-sspi/ssp"
	"github.com/smnsjas/go-sspi/transcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("not a library"), 0o644))
	abs, err := filepath.Abs(path)
	require.NoError(t, err)
	return abs
}

func TestFind(t *testing.T) {
	dir := t.TempDir()
	second := filepath.Join(dir, "second")
	want := touch(t, filepath.Join(second, "libexample"+Suffix()))
	exact := touch(t, filepath.Join(dir, "first", "libexact.bin"))

	l := New(WithSearchPaths(filepath.Join(dir, "first"), second))

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "suffix appended", in: "libexample", want: want},
		{name: "suffix given", in: "libexample" + Suffix(), want: want},
		{name: "other extension", in: "libexact.bin", want: exact},
		{name: "explicit path", in: exact, want: exact},
		{name: "explicit path without suffix", in: filepath.Join(second, "libexample"), want: want},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := l.Find(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFind_NotFound(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "libdir"+Suffix()), 0o755))
	l := New(WithSearchPaths(dir))

	for _, name := range []string{"", "libmissing", filepath.Join(dir, "libmissing.so"), "libdir"} {
		_, err := l.Find(name)
		assert.ErrorIs(t, err, loader.ErrModuleNotFound, name)
	}
}

func TestFind_Environment(t *testing.T) {
	dir := t.TempDir()
	lib := touch(t, filepath.Join(dir, "custom", "sspi-build"+Suffix()))
	t.Setenv(EnvLibrary, lib)

	got, err := New(WithSearchPaths()).Find(DefaultLibrary)
	require.NoError(t, err)
	assert.Equal(t, lib, got)

	extra := filepath.Join(dir, "extra")
	inExtra := touch(t, filepath.Join(extra, "libother"+Suffix()))
	t.Setenv(EnvSearchPath, extra+string(os.PathListSeparator)+filepath.Join(dir, "unused"))
	assert.Equal(t, extra, DefaultSearchPaths()[0])
	got, err = New().Find("libother")
	require.NoError(t, err)
	assert.Equal(t, inExtra, got)
}

func TestLoad_ChainFallsThrough(t *testing.T) {
	builtin := ssp.ModuleFunc(func() (ssp.NarrowTable, ssp.WideTable, error) {
		return &ssp.UnsupportedTable[transcode.Narrow]{}, nil, nil
	})
	chain := loader.Chain{New(WithSearchPaths(t.TempDir())), loader.NewStatic(map[string]ssp.Module{"builtin/x": builtin})}

	m, err := chain.Load("builtin/x")
	require.NoError(t, err)
	assert.NotNil(t, m)

	_, err = chain.Load("libmissing")
	assert.ErrorIs(t, err, loader.ErrModuleNotFound)
}
