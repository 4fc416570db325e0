package registry

import (
	"sync/atomic"

	"github.com/smnsjas/go-sspi/ssp"
	"github.com/smnsjas/go-sspi/transcode"
)

// Encoding names a string encoding of a dispatch table.
type Encoding int

const (
	EncodingNarrow Encoding = iota + 1
	EncodingWide
)

func (e Encoding) String() string {
	switch e {
	case EncodingNarrow:
		return "narrow"
	case EncodingWide:
		return "wide"
	default:
		return "unknown"
	}
}

// Provider is a loaded module and its two dispatch tables. One Provider is
// shared by every package the module exports and by every handle derived
// from those packages.
type Provider struct {
	identity string
	module   ssp.Module

	narrow ssp.NarrowTable
	wide   ssp.WideTable

	nativeNarrow bool
	nativeWide   bool

	refs atomic.Int64
}

// newProvider fills the table the module does not implement with a thunk
// over the one it does.
func newProvider(identity string, module ssp.Module, narrow ssp.NarrowTable, wide ssp.WideTable, codec *transcode.Codec) *Provider {
	p := &Provider{
		identity:     identity,
		module:       module,
		narrow:       narrow,
		wide:         wide,
		nativeNarrow: narrow != nil,
		nativeWide:   wide != nil,
	}
	if p.narrow == nil {
		p.narrow = ssp.NarrowOf(wide, codec)
	}
	if p.wide == nil {
		p.wide = ssp.WideOf(narrow, codec)
	}
	return p
}

// Identity returns the module identity the provider was loaded from.
func (p *Provider) Identity() string { return p.identity }

// Module returns the loaded module.
func (p *Provider) Module() ssp.Module { return p.module }

// Narrow returns the narrow table, native or synthesized.
func (p *Provider) Narrow() ssp.NarrowTable { return p.narrow }

// Wide returns the wide table, native or synthesized.
func (p *Provider) Wide() ssp.WideTable { return p.wide }

// Native reports whether the module implements the table for e itself.
func (p *Provider) Native(e Encoding) bool {
	switch e {
	case EncodingNarrow:
		return p.nativeNarrow
	case EncodingWide:
		return p.nativeWide
	default:
		return false
	}
}

// Retain records one more live handle derived from p.
func (p *Provider) Retain() { p.refs.Add(1) }

// Release drops one handle reference and returns the remaining count.
func (p *Provider) Release() int64 {
	n := p.refs.Add(-1)
	if n < 0 {
		// Unbalanced release; clamp so accounting stays usable.
		p.refs.CompareAndSwap(n, 0)
		return 0
	}
	return n
}

// Refs returns the number of live handles derived from p.
func (p *Provider) Refs() int64 { return p.refs.Load() }
