package negotiate

import (
	"errors"
	"fmt"

	"github.com/smnsjas/go-sspi/registry"
	"github.com/smnsjas/go-sspi/ssp"
)

var (
	// ErrPackageNotFound is returned when no package has the requested name.
	ErrPackageNotFound = registry.ErrPackageNotFound

	// ErrInvalidHandle is returned for zero, stale or deleted handles.
	ErrInvalidHandle = errors.New("invalid handle")

	// ErrWrongState is returned when the context's state does not permit
	// the operation, such as any round on a Failed context.
	ErrWrongState = errors.New("operation not valid in current context state")

	// ErrNotYetAvailable is returned for negotiated attributes queried
	// before the context is established.
	ErrNotYetAvailable = errors.New("attribute not available before context is established")

	// ErrContextBusy is returned when another call on the same context is
	// still in flight.
	ErrContextBusy = errors.New("context busy")

	// ErrCompleteNeeded is returned for a round issued before the
	// CompleteAuthToken the previous round asked for.
	ErrCompleteNeeded = errors.New("complete auth token required before next round")

	// ErrCredentialUsage is returned when the credential was not acquired
	// for the direction the operation needs.
	ErrCredentialUsage = errors.New("credential not valid for this direction")

	// ErrCredentialInUse is returned by FreeCredentials while contexts
	// created from the credential are still alive.
	ErrCredentialInUse = errors.New("credential in use by live contexts")

	// ErrConversionFailed is returned when text could not be converted
	// between encodings. The provider was not called.
	ErrConversionFailed = errors.New("string conversion failed")

	// ErrTooManyRounds is returned by Handshake when the exchange does not
	// finish within the round limit.
	ErrTooManyRounds = errors.New("negotiation exceeded round limit")
)

// StatusError carries a failure status returned by a provider.
type StatusError struct {
	Op      string
	Package string
	Status  ssp.Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s (%s): %s", e.Op, e.Package, e.Status)
}

// Is matches ErrConversionFailed for the status a thunk reports when it
// cannot convert an argument. A package's own StatusInvalidParameter is
// not a conversion failure.
func (e *StatusError) Is(target error) bool {
	return target == ErrConversionFailed && e.Status == ssp.StatusConversionFailed
}

func statusError(op, pkg string, s ssp.Status) error {
	return &StatusError{Op: op, Package: pkg, Status: s}
}
