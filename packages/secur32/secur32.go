// Package secur32 exposes the operating system's security packages as a
// provider module. On Windows every call is forwarded to secur32.dll through
// github.com/alexbrainman/sspi; elsewhere the module fails to produce tables.
//
// The provider's handles are the system handles, so a context created here
// can be handed to other code that speaks SSPI directly.
package secur32

import "errors"

// ModulePath is the path the module is conventionally registered under.
const ModulePath = "system/secur32"

// ErrUnsupportedPlatform is returned by Tables on systems without secur32.
var ErrUnsupportedPlatform = errors.New("secur32: system security packages are only available on windows")

// Module is the system provider module. The zero value is ready to use.
type Module struct{}

// New returns the system provider module.
func New() *Module { return &Module{} }
