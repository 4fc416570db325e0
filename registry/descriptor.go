package registry

import (
	"sync/atomic"

	"github.com/smnsjas/go-sspi/ssp"
)

// Entry is the static description of a package supplied by an Enumerator.
// It is enough to register a package without loading its module.
type Entry struct {
	Name         string         `yaml:"name" toml:"name"`
	Module       string         `yaml:"module" toml:"module"`
	Capabilities ssp.Capability `yaml:"capabilities" toml:"capabilities"`
	MaxToken     uint32         `yaml:"max_token" toml:"max_token"`
	Comment      string         `yaml:"comment" toml:"comment"`
	Version      uint16         `yaml:"version" toml:"version"`
	RPCID        uint16         `yaml:"rpc_id" toml:"rpc_id"`
}

// Enumerator supplies the packages available to a registry.
type Enumerator interface {
	Packages() ([]Entry, error)
}

// EnumeratorFunc adapts a function to the Enumerator interface.
type EnumeratorFunc func() ([]Entry, error)

// Packages calls f.
func (f EnumeratorFunc) Packages() ([]Entry, error) { return f() }

// Descriptor is a registered package. Everything but the provider binding
// is fixed at registration.
type Descriptor struct {
	entry    Entry
	identity string
	provider atomic.Pointer[Provider]
}

// Name returns the registered package name.
func (d *Descriptor) Name() string { return d.entry.Name }

// Module returns the module path the package is loaded from.
func (d *Descriptor) Module() string { return d.entry.Module }

// Capabilities returns the advertised capability flags.
func (d *Descriptor) Capabilities() ssp.Capability { return d.entry.Capabilities }

// MaxToken returns the maximum token size in bytes.
func (d *Descriptor) MaxToken() uint32 { return d.entry.MaxToken }

// Comment returns the human-readable description.
func (d *Descriptor) Comment() string { return d.entry.Comment }

// Entry returns a copy of the registration data.
func (d *Descriptor) Entry() Entry { return d.entry }

// Provider returns the bound provider, or nil before the first load.
func (d *Descriptor) Provider() *Provider { return d.provider.Load() }

// bind sets the provider once; later calls keep the first binding.
func (d *Descriptor) bind(p *Provider) *Provider {
	if d.provider.CompareAndSwap(nil, p) {
		return p
	}
	return d.provider.Load()
}
