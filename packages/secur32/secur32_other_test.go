//go:build !windows

package secur32

import (
	"io"
	"log/slog"
	"testing"

	"github.com/smnsjas/go-sspi/loader"
	"github.com/smnsjas/go-sspi/registry"
	"github.com/smnsjas/go-sspi/ssp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTables_UnsupportedPlatform(t *testing.T) {
	n, w, err := New().Tables()
	assert.ErrorIs(t, err, ErrUnsupportedPlatform)
	assert.Nil(t, n)
	assert.Nil(t, w)
}

func TestRegistry_LoadFails(t *testing.T) {
	reg := registry.New(loader.NewStatic(map[string]ssp.Module{ModulePath: New()}),
		registry.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	_, err := reg.Register(registry.Entry{Name: "Negotiate", Module: ModulePath})
	require.NoError(t, err)

	_, err = reg.FindPackage("negotiate")
	var le *registry.ProviderLoadError
	require.ErrorAs(t, err, &le)
	assert.ErrorIs(t, err, ErrUnsupportedPlatform)
}
