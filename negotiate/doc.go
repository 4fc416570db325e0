// Package negotiate implements credential acquisition and the multi-round
// security context exchange on top of providers loaded by a registry.
//
// # Overview
//
// An Engine hands out CredentialHandle and ContextHandle values. Both are
// index/generation pairs into engine-owned tables, so a stale or deleted
// handle is detected rather than dereferenced. Engine.Narrow and
// Engine.Wide return the same engine viewed through one string encoding;
// a handle obtained through one view is valid in the other.
//
// # Context Lifecycle
//
// A context moves through these states:
//
//	Fresh -> Pending* -> Established | Failed -> Deleted
//
// The provider's status decides each transition. Continue and complete
// statuses keep the context Pending; ssp.StatusIncompleteMessage leaves
// the state unchanged so the caller can resupply the input. A failure on
// the very first round discards the handle. A later failure leaves the
// context Failed; only DeleteContext is valid afterwards.
//
// # Round Loop
//
// The engine holds no transport state. A typical initiator loop:
//
//	api := engine.Narrow()
//	var ctx negotiate.ContextHandle
//	var in ssp.BufferSet
//	for {
//		var round *negotiate.Round
//		ctx, round, err = api.InitializeContext(cred, ctx, target, flags, in)
//		if err != nil {
//			return err
//		}
//		send(round.Token())
//		round.Free()
//		if !round.Continue() {
//			break
//		}
//		in = ssp.TokenBuffers(receive())
//	}
//
// Handshake runs both sides in-process for tests and diagnostics.
//
// # Thread Safety
//
// An Engine is safe for concurrent use. A credential may seed contexts on
// many goroutines at once. Calls on one context must not overlap; an
// overlapping call returns ErrContextBusy without touching the context.
package negotiate
