package negotiate

import (
	"fmt"
	"time"

	"github.com/smnsjas/go-sspi/internal/metrics"
	"github.com/smnsjas/go-sspi/registry"
	"github.com/smnsjas/go-sspi/ssp"
	"github.com/smnsjas/go-sspi/transcode"
)

// API is the engine's surface in one string encoding. Text arguments are
// passed to the provider's table for S, which is either native or a thunk
// over the other encoding. Handle-only operations are promoted from Engine
// and behave the same in both encodings.
type API[S ssp.Text] struct {
	*Engine
}

// table returns the provider's dispatch table for S.
func (a API[S]) table(p *registry.Provider) ssp.Table[S] {
	var zero S
	if _, ok := any(zero).(transcode.Narrow); ok {
		return any(p.Narrow()).(ssp.Table[S])
	}
	return any(p.Wide()).(ssp.Table[S])
}

// text decodes s for package lookup and logging.
func (a API[S]) text(s S) (string, error) {
	switch v := any(s).(type) {
	case transcode.Narrow:
		return a.reg.Codec().DecodeNarrow(v)
	case transcode.Wide:
		return transcode.DecodeWide(v)
	}
	return "", nil
}

func (a API[S]) resolve(pkg S) (*registry.Descriptor, *registry.Provider, error) {
	name, err := a.text(pkg)
	if err != nil {
		metrics.ConversionFailuresTotal.Inc()
		return nil, nil, fmt.Errorf("%w: package name: %w", ErrConversionFailed, err)
	}
	d, err := a.reg.FindPackage(name)
	if err != nil {
		return nil, nil, err
	}
	return d, d.Provider(), nil
}

// providerError wraps a failure status and counts conversion failures the
// thunk reported.
func providerError(op, pkg string, s ssp.Status) error {
	if s == ssp.StatusConversionFailed {
		metrics.ConversionFailuresTotal.Inc()
	}
	return statusError(op, pkg, s)
}

// AcquireCredentials obtains a credential for the named package. principal
// and identity may be nil to use the package defaults.
func (a API[S]) AcquireCredentials(principal, pkg S, use ssp.CredentialUse, identity *ssp.AuthIdentity[S]) (CredentialHandle, time.Time, error) {
	d, p, err := a.resolve(pkg)
	if err != nil {
		return CredentialHandle{}, time.Time{}, err
	}
	events := NewSecurityLogger(a.events, d.Name(), use.String())

	native, expiry, status := a.table(p).AcquireCredentials(principal, pkg, use, identity)
	if status.Failed() {
		events.LogCredential(SubtypeCredAcquired, OutcomeFailure, SeverityWarning,
			map[string]any{"status": status.String()})
		return CredentialHandle{}, time.Time{}, providerError("acquire credentials", d.Name(), status)
	}

	c := &credential{pkg: d.Name(), provider: p, native: native, expiry: expiry}
	c.use.Store(uint32(use))
	p.Retain()
	idx, gen := a.creds.insert(c)
	metrics.HandlesActive.WithLabelValues("credential").Inc()
	events.LogCredential(SubtypeCredAcquired, OutcomeSuccess, SeverityInfo, nil)
	a.logger.Debug("credentials acquired", "package", d.Name(), "use", use.String())
	return CredentialHandle{index: idx, gen: gen}, expiry, nil
}

// AddCredentials adds a principal to an existing credential and widens its
// usage.
func (a API[S]) AddCredentials(h CredentialHandle, principal, pkg S, use ssp.CredentialUse, identity *ssp.AuthIdentity[S]) (time.Time, error) {
	c, ok := a.creds.get(h.index, h.gen)
	if !ok {
		return time.Time{}, ErrInvalidHandle
	}
	expiry, status := a.table(c.provider).AddCredentials(c.native, principal, pkg, use, identity)
	if status.Failed() {
		return time.Time{}, providerError("add credentials", c.pkg, status)
	}
	for {
		old := c.use.Load()
		if c.use.CompareAndSwap(old, old|uint32(use)) {
			break
		}
	}
	return expiry, nil
}

// QueryCredentialsAttributes reads a credential attribute.
func (a API[S]) QueryCredentialsAttributes(h CredentialHandle, attr ssp.Attribute) (ssp.AttrValue[S], error) {
	c, ok := a.creds.get(h.index, h.gen)
	if !ok {
		return ssp.AttrValue[S]{}, ErrInvalidHandle
	}
	v, status := a.table(c.provider).QueryCredentialsAttributes(c.native, attr)
	if status.Failed() {
		return ssp.AttrValue[S]{}, providerError("query credentials attributes", c.pkg, status)
	}
	return v, nil
}

// SetCredentialsAttributes writes a credential attribute.
func (a API[S]) SetCredentialsAttributes(h CredentialHandle, attr ssp.Attribute, value ssp.AttrValue[S]) error {
	c, ok := a.creds.get(h.index, h.gen)
	if !ok {
		return ErrInvalidHandle
	}
	if status := a.table(c.provider).SetCredentialsAttributes(c.native, attr, value); status.Failed() {
		return providerError("set credentials attributes", c.pkg, status)
	}
	return nil
}

// InitializeContext runs one initiator round. Pass the zero ContextHandle
// to start a negotiation and the returned handle on every later round,
// with the peer's reply as input.
//
// A failure on the first round returns the zero handle; a failure on a
// later round leaves the context Failed, and it must be deleted.
func (a API[S]) InitializeContext(cred CredentialHandle, ctx ContextHandle, target S, req ssp.ContextFlags, input ssp.BufferSet) (ContextHandle, *Round, error) {
	return a.step(SideInitiator, cred, ctx, func(t ssp.Table[S], c *credential, native *ssp.CtxtHandle) (ssp.ContextResult, ssp.Status) {
		return t.InitializeContext(c.native, native, target, req, input)
	})
}

// AcceptContext runs one acceptor round on the token received from the
// initiator.
func (a API[S]) AcceptContext(cred CredentialHandle, ctx ContextHandle, input ssp.BufferSet, req ssp.ContextFlags) (ContextHandle, *Round, error) {
	return a.step(SideAcceptor, cred, ctx, func(t ssp.Table[S], c *credential, native *ssp.CtxtHandle) (ssp.ContextResult, ssp.Status) {
		return t.AcceptContext(c.native, native, input, req)
	})
}

type roundFunc[S ssp.Text] func(t ssp.Table[S], c *credential, native *ssp.CtxtHandle) (ssp.ContextResult, ssp.Status)

func (a API[S]) step(side Side, cred CredentialHandle, h ContextHandle, call roundFunc[S]) (ContextHandle, *Round, error) {
	c, ok := a.creds.get(cred.index, cred.gen)
	if !ok {
		return h, nil, ErrInvalidHandle
	}
	if !c.allows(side.usage()) {
		return h, nil, ErrCredentialUsage
	}

	var sc *secContext
	fresh := h.IsZero()
	if fresh {
		// The new context holds the credential from before the provider
		// call, so FreeCredentials cannot free it mid-round.
		if !c.ref() {
			return h, nil, ErrInvalidHandle
		}
		sc = &secContext{
			pkg:        c.pkg,
			provider:   c.provider,
			side:       side,
			events:     NewSecurityLogger(a.events, c.pkg, side.String()),
			cred:       cred,
			credential: c,
		}
		sc.setState(StateFresh)
	} else {
		var err error
		if sc, err = a.use(h); err != nil {
			return h, nil, err
		}
		defer sc.release()
		switch {
		case sc.side != side, sc.cred != cred:
			return h, nil, ErrWrongState
		case sc.current() != StateFresh && sc.current() != StatePending:
			return h, nil, ErrWrongState
		case sc.completion != 0:
			return h, nil, ErrCompleteNeeded
		}
	}

	var native *ssp.CtxtHandle
	if sc.hasNative {
		native = &sc.native
	}
	t := a.table(sc.provider)
	res, status := call(t, c, native)
	metrics.RoundsTotal.WithLabelValues(sc.pkg, side.String(), status.String()).Inc()
	a.logger.Debug("negotiation round",
		"package", sc.pkg,
		"side", side.String(),
		"round", sc.rounds+1,
		"status", status.String(),
		"outputBytes", len(res.Output.Token()))

	round := &Round{Status: status, Output: res.Output, Flags: res.Flags, Expiry: res.Expiry, free: t.FreeBuffer}

	switch {
	case status == ssp.StatusIncompleteMessage:
		if fresh {
			h = a.register(sc)
		}
		return h, round, nil

	case status.Failed():
		_ = round.Free()
		sc.events.LogAuthentication(SubtypeAuthFailure, outcomeFor(status), SeverityWarning,
			map[string]any{"status": status.String(), "round": sc.rounds + 1})
		err := providerError(opName(side), sc.pkg, status)
		if fresh {
			c.unref()
			return ContextHandle{}, nil, err
		}
		if !sc.hasNative {
			// The provider never created a context; nothing is left to fail.
			a.forget(h, sc)
			return ContextHandle{}, nil, err
		}
		sc.setState(StateFailed)
		return h, nil, err
	}

	sc.apply(status, res)
	if fresh {
		h = a.register(sc)
	}
	if sc.current() == StateEstablished {
		sc.events.LogAuthentication(SubtypeAuthSuccess, OutcomeSuccess, SeverityInfo,
			map[string]any{"rounds": sc.rounds, "flags": uint32(sc.flags)})
	}
	return h, round, nil
}

// register files a new context. A credential reference, if any, was taken
// by the caller.
func (a API[S]) register(sc *secContext) ContextHandle {
	sc.provider.Retain()
	idx, gen := a.contexts.insert(sc)
	metrics.HandlesActive.WithLabelValues("context").Inc()
	return ContextHandle{index: idx, gen: gen}
}

func opName(side Side) string {
	if side == SideAcceptor {
		return "accept context"
	}
	return "initialize context"
}

func outcomeFor(s ssp.Status) string {
	if s == ssp.StatusLogonDenied {
		return OutcomeDenied
	}
	return OutcomeFailure
}

// ImportContext rebuilds an exported context. The imported context is
// Established and is not tied to any credential.
func (a API[S]) ImportContext(pkg S, packed, token []byte) (ContextHandle, error) {
	d, p, err := a.resolve(pkg)
	if err != nil {
		return ContextHandle{}, err
	}
	native, status := a.table(p).ImportContext(pkg, packed, token)
	if status.Failed() {
		return ContextHandle{}, providerError("import context", d.Name(), status)
	}
	sc := &secContext{
		pkg:       d.Name(),
		provider:  p,
		events:    NewSecurityLogger(a.events, d.Name(), ""),
		native:    native,
		hasNative: true,
	}
	sc.setState(StateEstablished)
	h := a.register(sc)
	sc.events.LogContext(SubtypeCtxImported, OutcomeSuccess, SeverityInfo, nil)
	return h, nil
}

// QueryContextAttributes reads a context attribute. Negotiated attributes
// are available only once the context is Established; package and
// negotiation info may be read mid-negotiation.
func (a API[S]) QueryContextAttributes(h ContextHandle, attr ssp.Attribute) (ssp.AttrValue[S], error) {
	sc, err := a.use(h)
	if err != nil {
		return ssp.AttrValue[S]{}, err
	}
	defer sc.release()
	if err := sc.readable(attr); err != nil {
		return ssp.AttrValue[S]{}, err
	}
	v, status := a.table(sc.provider).QueryContextAttributes(sc.native, attr)
	if status.Failed() {
		return ssp.AttrValue[S]{}, providerError("query context attributes", sc.pkg, status)
	}
	return v, nil
}

// SetContextAttributes writes a context attribute.
func (a API[S]) SetContextAttributes(h ContextHandle, attr ssp.Attribute, value ssp.AttrValue[S]) error {
	sc, err := a.use(h)
	if err != nil {
		return err
	}
	defer sc.release()
	switch {
	case sc.current() == StateFailed:
		return ErrWrongState
	case !sc.hasNative:
		return ErrNotYetAvailable
	}
	if status := a.table(sc.provider).SetContextAttributes(sc.native, attr, value); status.Failed() {
		return providerError("set context attributes", sc.pkg, status)
	}
	return nil
}

// readable reports whether attr may be queried in the current state.
func (c *secContext) readable(attr ssp.Attribute) error {
	switch c.current() {
	case StateEstablished:
		return nil
	case StateFailed:
		return ErrWrongState
	}
	if !attr.AvailableBeforeEstablished() || !c.hasNative {
		return ErrNotYetAvailable
	}
	return nil
}
