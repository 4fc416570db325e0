package negotiate

import (
	"log/slog"

	"github.com/smnsjas/go-sspi/internal/metrics"
	"github.com/smnsjas/go-sspi/registry"
	"github.com/smnsjas/go-sspi/ssp"
	"github.com/smnsjas/go-sspi/transcode"
)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the diagnostic logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithSecurityEvents enables NIST-style security events on l. Events are
// off by default.
func WithSecurityEvents(l *slog.Logger) Option {
	return func(e *Engine) { e.events = l }
}

// Engine owns credential and context handles and drives negotiation
// rounds against providers resolved through a registry.
//
// An Engine is safe for concurrent use. A credential may seed any number
// of concurrent contexts. Calls on a single context must not overlap;
// an overlapping call fails with ErrContextBusy.
type Engine struct {
	reg    *registry.Registry
	logger *slog.Logger
	events *slog.Logger

	creds    arena[*credential]
	contexts arena[*secContext]
}

// New returns an engine resolving packages through reg.
func New(reg *registry.Registry, opts ...Option) *Engine {
	e := &Engine{
		reg:    reg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Narrow returns the engine's API for narrow strings.
func (e *Engine) Narrow() API[transcode.Narrow] {
	return API[transcode.Narrow]{Engine: e}
}

// Wide returns the engine's API for UTF-16 strings.
func (e *Engine) Wide() API[transcode.Wide] {
	return API[transcode.Wide]{Engine: e}
}

// Registry returns the registry the engine resolves packages through.
func (e *Engine) Registry() *registry.Registry { return e.reg }

// Live returns the number of live credential and context handles.
func (e *Engine) Live() (creds, contexts int) {
	return e.creds.len(), e.contexts.len()
}

// handleOps is the encoding-independent part of a dispatch table.
type handleOps interface {
	FreeCredentials(cred ssp.CredHandle) ssp.Status
	CompleteAuthToken(ctx ssp.CtxtHandle, token ssp.BufferSet) ssp.Status
	DeleteContext(ctx ssp.CtxtHandle) ssp.Status
	ApplyControlToken(ctx ssp.CtxtHandle, input ssp.BufferSet) ssp.Status
	ExportContext(ctx ssp.CtxtHandle, flags uint32) ([]byte, []byte, ssp.Status)
	MakeSignature(ctx ssp.CtxtHandle, qop uint32, msg ssp.BufferSet, seq uint32) ssp.Status
	VerifySignature(ctx ssp.CtxtHandle, msg ssp.BufferSet, seq uint32) (uint32, ssp.Status)
	EncryptMessage(ctx ssp.CtxtHandle, qop uint32, msg ssp.BufferSet, seq uint32) ssp.Status
	DecryptMessage(ctx ssp.CtxtHandle, msg ssp.BufferSet, seq uint32) (uint32, ssp.Status)
	FreeBuffer(buf []byte) ssp.Status
}

// ops prefers the provider's native table so handle-only calls skip the
// thunk.
func ops(p *registry.Provider) handleOps {
	if p.Native(registry.EncodingWide) {
		return p.Wide()
	}
	return p.Narrow()
}

// ContextState returns the state of h. Unknown and deleted handles report
// StateDeleted.
func (e *Engine) ContextState(h ContextHandle) State {
	c, ok := e.contexts.get(h.index, h.gen)
	if !ok {
		return StateDeleted
	}
	return c.current()
}

// Credential returns the credential context h was negotiated with.
// Imported contexts have none.
func (e *Engine) Credential(h ContextHandle) (CredentialHandle, bool) {
	c, ok := e.contexts.get(h.index, h.gen)
	if !ok || c.credential == nil {
		return CredentialHandle{}, false
	}
	return c.cred, true
}

// Package returns the package name of a context.
func (e *Engine) Package(h ContextHandle) (string, bool) {
	c, ok := e.contexts.get(h.index, h.gen)
	if !ok {
		return "", false
	}
	return c.pkg, true
}

// FreeCredentials releases a credential. It fails with ErrCredentialInUse
// while contexts negotiated with it are alive.
func (e *Engine) FreeCredentials(h CredentialHandle) error {
	c, ok := e.creds.get(h.index, h.gen)
	if !ok {
		return ErrInvalidHandle
	}
	if !c.close() {
		if c.contexts.Load() < 0 {
			return ErrInvalidHandle
		}
		return ErrCredentialInUse
	}
	e.creds.remove(h.index, h.gen)
	status := ops(c.provider).FreeCredentials(c.native)
	c.provider.Release()
	metrics.HandlesActive.WithLabelValues("credential").Dec()
	NewSecurityLogger(e.events, c.pkg, "").LogCredential(SubtypeCredFreed, OutcomeSuccess, SeverityInfo, nil)
	if status.Failed() {
		return statusError("free credentials", c.pkg, status)
	}
	return nil
}

// use resolves h and marks it busy. The returned release must be called.
func (e *Engine) use(h ContextHandle) (*secContext, error) {
	c, ok := e.contexts.get(h.index, h.gen)
	if !ok {
		return nil, ErrInvalidHandle
	}
	if !c.acquire() {
		return nil, ErrContextBusy
	}
	return c, nil
}

// established resolves h and requires the Established state.
func (e *Engine) established(h ContextHandle) (*secContext, error) {
	c, err := e.use(h)
	if err != nil {
		return nil, err
	}
	if c.current() != StateEstablished {
		c.release()
		return nil, ErrWrongState
	}
	return c, nil
}

// forget removes a context from the arena and drops the references it
// holds. The caller holds c busy.
func (e *Engine) forget(h ContextHandle, c *secContext) {
	e.contexts.remove(h.index, h.gen)
	c.setState(StateDeleted)
	c.provider.Release()
	if c.credential != nil {
		c.credential.unref()
	}
	metrics.HandlesActive.WithLabelValues("context").Dec()
}

// DeleteContext deletes a context and releases the provider's state for
// it. Deleting a deleted context fails with ErrInvalidHandle.
func (e *Engine) DeleteContext(h ContextHandle) error {
	c, err := e.use(h)
	if err != nil {
		return err
	}
	defer c.release()

	var status ssp.Status
	if c.hasNative {
		status = ops(c.provider).DeleteContext(c.native)
	}
	prev := c.current()
	e.forget(h, c)
	c.events.LogContext(SubtypeCtxDeleted, OutcomeSuccess, SeverityInfo,
		map[string]any{"state": prev.String(), "rounds": c.rounds})
	if status.Failed() {
		return statusError("delete context", c.pkg, status)
	}
	return nil
}

// CompleteAuthToken finishes a round that returned a complete status.
// A context completed after ssp.StatusCompleteNeeded becomes Established.
func (e *Engine) CompleteAuthToken(h ContextHandle, token ssp.BufferSet) error {
	c, err := e.use(h)
	if err != nil {
		return err
	}
	defer c.release()
	if c.current() != StatePending || c.completion == 0 {
		return ErrWrongState
	}
	status := ops(c.provider).CompleteAuthToken(c.native, token)
	if status.Failed() {
		c.setState(StateFailed)
		c.events.LogAuthentication(SubtypeAuthFailure, OutcomeFailure, SeverityWarning,
			map[string]any{"status": status.String(), "op": "complete"})
		return statusError("complete auth token", c.pkg, status)
	}
	if c.completion == ssp.StatusCompleteNeeded {
		c.setState(StateEstablished)
		c.events.LogAuthentication(SubtypeAuthSuccess, OutcomeSuccess, SeverityInfo,
			map[string]any{"rounds": c.rounds})
	}
	c.completion = 0
	return nil
}

// ApplyControlToken passes a control token to a pending or established
// context.
func (e *Engine) ApplyControlToken(h ContextHandle, input ssp.BufferSet) error {
	c, err := e.use(h)
	if err != nil {
		return err
	}
	defer c.release()
	if c.current() != StatePending && c.current() != StateEstablished {
		return ErrWrongState
	}
	if status := ops(c.provider).ApplyControlToken(c.native, input); status.Failed() {
		return statusError("apply control token", c.pkg, status)
	}
	return nil
}

// ExportContext serializes an established context. With
// ssp.ExportDeleteOld the context is deleted once exported.
func (e *Engine) ExportContext(h ContextHandle, flags uint32) (*Exported, error) {
	c, err := e.established(h)
	if err != nil {
		return nil, err
	}
	defer c.release()

	t := ops(c.provider)
	packed, token, status := t.ExportContext(c.native, flags)
	if status.Failed() {
		return nil, statusError("export context", c.pkg, status)
	}
	if flags&ssp.ExportDeleteOld != 0 {
		e.forget(h, c)
	}
	c.events.LogContext(SubtypeCtxExported, OutcomeSuccess, SeverityInfo,
		map[string]any{"deleted": flags&ssp.ExportDeleteOld != 0})
	return &Exported{Packed: packed, Token: token, free: t.FreeBuffer}, nil
}

// MakeSignature signs the data buffers of msg into its token buffer.
func (e *Engine) MakeSignature(h ContextHandle, qop uint32, msg ssp.BufferSet, seq uint32) error {
	c, err := e.established(h)
	if err != nil {
		return err
	}
	defer c.release()
	if status := ops(c.provider).MakeSignature(c.native, qop, msg, seq); status.Failed() {
		return statusError("make signature", c.pkg, status)
	}
	return nil
}

// VerifySignature checks a signature made by the peer and returns the
// quality of protection applied.
func (e *Engine) VerifySignature(h ContextHandle, msg ssp.BufferSet, seq uint32) (uint32, error) {
	c, err := e.established(h)
	if err != nil {
		return 0, err
	}
	defer c.release()
	qop, status := ops(c.provider).VerifySignature(c.native, msg, seq)
	if status.Failed() {
		return 0, statusError("verify signature", c.pkg, status)
	}
	return qop, nil
}

// EncryptMessage encrypts the data buffers of msg in place.
func (e *Engine) EncryptMessage(h ContextHandle, qop uint32, msg ssp.BufferSet, seq uint32) error {
	c, err := e.established(h)
	if err != nil {
		return err
	}
	defer c.release()
	if status := ops(c.provider).EncryptMessage(c.native, qop, msg, seq); status.Failed() {
		return statusError("encrypt message", c.pkg, status)
	}
	return nil
}

// DecryptMessage decrypts the data buffers of msg in place.
func (e *Engine) DecryptMessage(h ContextHandle, msg ssp.BufferSet, seq uint32) (uint32, error) {
	c, err := e.established(h)
	if err != nil {
		return 0, err
	}
	defer c.release()
	qop, status := ops(c.provider).DecryptMessage(c.native, msg, seq)
	if status.Failed() {
		return 0, statusError("decrypt message", c.pkg, status)
	}
	return qop, nil
}
