package negotiate

import (
	"errors"
	"fmt"

	"github.com/smnsjas/go-sspi/ssp"
)

// DefaultMaxRounds bounds Handshake when HandshakeOptions.MaxRounds is zero.
// It guards against a peer that never finishes.
const DefaultMaxRounds = 10

// HandshakeOptions configures Handshake.
type HandshakeOptions struct {
	// Flags are requested on both sides.
	Flags ssp.ContextFlags

	// MaxRounds bounds the number of initiator rounds. Default: DefaultMaxRounds.
	MaxRounds int
}

// HandshakeResult holds the two established contexts.
type HandshakeResult struct {
	Client ContextHandle
	Server ContextHandle
	Rounds int
}

// Handshake negotiates a context pair in-process, feeding each side's
// output token to the other until both are Established. The sides may use
// different encodings and engines. On failure every context created so far
// is deleted.
func Handshake[I, A ssp.Text](initiator API[I], acceptor API[A], client, server CredentialHandle, target I, opts HandshakeOptions) (*HandshakeResult, error) {
	maxRounds := opts.MaxRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}

	var (
		res   HandshakeResult
		input []byte
	)
	fail := func(err error) (*HandshakeResult, error) {
		var errs []error
		errs = append(errs, err)
		if !res.Client.IsZero() {
			if derr := initiator.DeleteContext(res.Client); derr != nil && !errors.Is(derr, ErrInvalidHandle) {
				errs = append(errs, derr)
			}
		}
		if !res.Server.IsZero() {
			if derr := acceptor.DeleteContext(res.Server); derr != nil && !errors.Is(derr, ErrInvalidHandle) {
				errs = append(errs, derr)
			}
		}
		return nil, errors.Join(errs...)
	}

	for res.Rounds < maxRounds {
		res.Rounds++

		h, r, err := initiator.InitializeContext(client, res.Client, target, opts.Flags, ssp.TokenBuffers(input))
		res.Client = h
		if err != nil {
			return fail(fmt.Errorf("initialize round %d: %w", res.Rounds, err))
		}
		if r.Status.NeedsCompletion() {
			if err := initiator.CompleteAuthToken(res.Client, r.Output); err != nil {
				_ = r.Free()
				return fail(fmt.Errorf("complete round %d: %w", res.Rounds, err))
			}
		}
		output := r.Token()
		if err := r.Free(); err != nil {
			return fail(err)
		}

		input = nil
		if len(output) > 0 {
			h, r, err := acceptor.AcceptContext(server, res.Server, ssp.TokenBuffers(output), opts.Flags)
			res.Server = h
			if err != nil {
				return fail(fmt.Errorf("accept round %d: %w", res.Rounds, err))
			}
			if r.Status.NeedsCompletion() {
				if err := acceptor.CompleteAuthToken(res.Server, r.Output); err != nil {
					_ = r.Free()
					return fail(fmt.Errorf("complete accept round %d: %w", res.Rounds, err))
				}
			}
			input = r.Token()
			if err := r.Free(); err != nil {
				return fail(err)
			}
		}

		clientDone := initiator.ContextState(res.Client) == StateEstablished
		serverDone := !res.Server.IsZero() && acceptor.ContextState(res.Server) == StateEstablished
		switch {
		case clientDone && serverDone && len(input) == 0:
			return &res, nil
		case len(output) == 0 && len(input) == 0:
			return fail(fmt.Errorf("round %d: negotiation stalled with no token to send", res.Rounds))
		}
	}
	return fail(fmt.Errorf("%w: %d", ErrTooManyRounds, maxRounds))
}
