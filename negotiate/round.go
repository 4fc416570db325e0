package negotiate

import (
	"bytes"
	"errors"
	"time"

	"github.com/smnsjas/go-sspi/ssp"
)

// Round is the outcome of one InitializeContext or AcceptContext call.
// Output buffers marked Allocated belong to the provider; call Free once
// they have been sent to the peer.
type Round struct {
	// Status is the provider's non-failure status: ssp.StatusOK, a continue
	// or complete status, or ssp.StatusIncompleteMessage when the input
	// was short and must be resupplied.
	Status ssp.Status
	Output ssp.BufferSet
	Flags  ssp.ContextFlags
	Expiry time.Time

	free func([]byte) ssp.Status
}

// Continue reports whether the peer must answer before the context can
// be established.
func (r *Round) Continue() bool {
	return r.Status.Continues() || r.Status == ssp.StatusIncompleteMessage
}

// Token returns a copy of the output token, safe to keep after Free.
func (r *Round) Token() []byte {
	if r == nil {
		return nil
	}
	return bytes.Clone(r.Output.Token())
}

// Free returns allocated output buffers to the provider. It is safe to
// call more than once.
func (r *Round) Free() error {
	if r == nil {
		return nil
	}
	err := freeBuffers(r.free, r.Output)
	r.Output = nil
	return err
}

// Exported is a serialized context produced by ExportContext.
type Exported struct {
	Packed []byte
	Token  []byte

	free func([]byte) ssp.Status
}

// Free returns the serialized buffers to the provider.
func (e *Exported) Free() error {
	if e == nil || e.free == nil {
		return nil
	}
	var errs []error
	for _, b := range [][]byte{e.Packed, e.Token} {
		if len(b) == 0 {
			continue
		}
		if s := e.free(b); s.Failed() {
			errs = append(errs, statusError("free buffer", "", s))
		}
	}
	e.Packed, e.Token = nil, nil
	return errors.Join(errs...)
}

func freeBuffers(free func([]byte) ssp.Status, set ssp.BufferSet) error {
	if free == nil {
		return nil
	}
	var errs []error
	for _, b := range set {
		if !b.Allocated || len(b.Data) == 0 {
			continue
		}
		if s := free(b.Data); s.Failed() {
			errs = append(errs, statusError("free buffer", "", s))
		}
	}
	return errors.Join(errs...)
}
