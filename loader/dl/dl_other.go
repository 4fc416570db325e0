//go:build !(darwin || freebsd || linux)

package dl

import "github.com/smnsjas/go-sspi/ssp"

type module struct{}

func open(string) (*module, error) { return nil, ErrUnsupportedPlatform }

func (m *module) Tables() (ssp.NarrowTable, ssp.WideTable, error) {
	return nil, nil, ErrUnsupportedPlatform
}

func (m *module) close() error { return nil }
