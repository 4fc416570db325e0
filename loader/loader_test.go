package loader

import (
	"errors"
	"testing"

	"github.com/smnsjas/go-sspi/registry"
	"github.com/smnsjas/go-sspi/ssp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func emptyModule() ssp.Module {
	return ssp.ModuleFunc(func() (ssp.NarrowTable, ssp.WideTable, error) {
		return nil, nil, nil
	})
}

func TestStatic_Load(t *testing.T) {
	m := emptyModule()
	s := NewStatic(map[string]ssp.Module{"./builtin/loopback": m})

	got, err := s.Load("builtin/loopback")
	require.NoError(t, err)
	assert.NotNil(t, got)

	_, err = s.Load("builtin/other")
	assert.ErrorIs(t, err, ErrModuleNotFound)

	s.Add("builtin/other", emptyModule())
	_, err = s.Load("builtin/other")
	assert.NoError(t, err)
	assert.Equal(t, []string{"builtin/loopback", "builtin/other"}, s.Paths())
}

func TestStatic_ZeroValue(t *testing.T) {
	var s Static
	_, err := s.Load("x")
	assert.ErrorIs(t, err, ErrModuleNotFound)
	s.Add("x", emptyModule())
	_, err = s.Load("x")
	assert.NoError(t, err)
}

func TestChain(t *testing.T) {
	first := NewStatic(map[string]ssp.Module{"a": emptyModule()})
	second := NewStatic(map[string]ssp.Module{"b": emptyModule()})
	broken := registry.LoaderFunc(func(path string) (ssp.Module, error) {
		if path == "c" {
			return nil, errors.New("bad ELF header")
		}
		return nil, ErrModuleNotFound
	})

	c := Chain{first, nil, broken, second}

	_, err := c.Load("a")
	assert.NoError(t, err)
	_, err = c.Load("b")
	assert.NoError(t, err)

	_, err = c.Load("c")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrModuleNotFound)
	assert.Contains(t, err.Error(), "bad ELF header")

	_, err = c.Load("d")
	assert.ErrorIs(t, err, ErrModuleNotFound)

	_, err = Chain{}.Load("a")
	assert.ErrorIs(t, err, ErrModuleNotFound)
}
