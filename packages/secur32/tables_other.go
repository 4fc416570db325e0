//go:build !windows

package secur32

import "github.com/smnsjas/go-sspi/ssp"

// Tables implements ssp.Module.
func (m *Module) Tables() (ssp.NarrowTable, ssp.WideTable, error) {
	return nil, nil, ErrUnsupportedPlatform
}
