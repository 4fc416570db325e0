package ssp

import (
	"time"

	"github.com/smnsjas/go-sspi/transcode"
)

// Adapt returns a Table in encoding S that forwards every entry to a table
// native in encoding N.
//
// Text inputs are converted with in before the native call; if any
// conversion fails the native entry is not called and
// StatusConversionFailed is returned. Text outputs are converted back with
// out. Every intermediate copy produced by in is passed to release once
// the entry returns, on success and failure alike. Handles, flags, buffers
// and timestamps pass through untouched.
func Adapt[S, N Text](native Table[N], in func(S) (N, error), out func(N) (S, error), release func(N)) Table[S] {
	return &adapter[S, N]{native: native, in: in, out: out, release: release}
}

// NarrowOf synthesizes the narrow table of a wide-native provider.
func NarrowOf(wide WideTable, c *transcode.Codec) NarrowTable {
	return Adapt[transcode.Narrow, transcode.Wide](wide, c.ToWide, c.ToNarrow, transcode.ReleaseWide)
}

// WideOf synthesizes the wide table of a narrow-native provider.
func WideOf(narrow NarrowTable, c *transcode.Codec) WideTable {
	return Adapt[transcode.Wide, transcode.Narrow](narrow, c.ToNarrow, c.ToWide, transcode.Release)
}

type adapter[S, N Text] struct {
	native  Table[N]
	in      func(S) (N, error)
	out     func(N) (S, error)
	release func(N)
}

// scope tracks the converted copies of one call.
type scope[S, N Text] struct {
	a    *adapter[S, N]
	held []N
}

func (a *adapter[S, N]) scope() *scope[S, N] {
	return &scope[S, N]{a: a}
}

func (sc *scope[S, N]) conv(s S) (N, error) {
	n, err := sc.a.in(s)
	if err != nil {
		return n, err
	}
	if len(n) > 0 {
		sc.held = append(sc.held, n)
	}
	return n, nil
}

func (sc *scope[S, N]) done() {
	for _, n := range sc.held {
		sc.a.release(n)
	}
	sc.held = nil
}

func (sc *scope[S, N]) identity(id *AuthIdentity[S]) (*AuthIdentity[N], error) {
	if id == nil {
		return nil, nil
	}
	user, err := sc.conv(id.User)
	if err != nil {
		return nil, err
	}
	domain, err := sc.conv(id.Domain)
	if err != nil {
		return nil, err
	}
	password, err := sc.conv(id.Password)
	if err != nil {
		return nil, err
	}
	return &AuthIdentity[N]{User: user, Domain: domain, Password: password}, nil
}

func mapInfo[A, B Text](info PackageInfo[A], f func(A) (B, error)) (PackageInfo[B], error) {
	name, err := f(info.Name)
	if err != nil {
		return PackageInfo[B]{}, err
	}
	comment, err := f(info.Comment)
	if err != nil {
		return PackageInfo[B]{}, err
	}
	return PackageInfo[B]{
		Capabilities: info.Capabilities,
		Version:      info.Version,
		RPCID:        info.RPCID,
		MaxToken:     info.MaxToken,
		Name:         name,
		Comment:      comment,
	}, nil
}

func mapAttr[A, B Text](v AttrValue[A], f func(A) (B, error)) (AttrValue[B], error) {
	out := AttrValue[B]{
		Sizes:            v.Sizes,
		StreamSizes:      v.StreamSizes,
		Lifespan:         v.Lifespan,
		SessionKey:       v.SessionKey,
		Flags:            v.Flags,
		NegotiationState: v.NegotiationState,
	}
	var err error
	if out.Name, err = f(v.Name); err != nil {
		return AttrValue[B]{}, err
	}
	if out.Peer, err = f(v.Peer); err != nil {
		return AttrValue[B]{}, err
	}
	if v.Package != nil {
		info, err := mapInfo(*v.Package, f)
		if err != nil {
			return AttrValue[B]{}, err
		}
		out.Package = &info
	}
	return out, nil
}

func (a *adapter[S, N]) QueryPackageInfo(pkg S) (PackageInfo[S], Status) {
	sc := a.scope()
	defer sc.done()

	npkg, err := sc.conv(pkg)
	if err != nil {
		return PackageInfo[S]{}, StatusConversionFailed
	}
	info, status := a.native.QueryPackageInfo(npkg)
	if status.Failed() {
		return PackageInfo[S]{}, status
	}
	out, err := mapInfo(info, a.out)
	if err != nil {
		return PackageInfo[S]{}, StatusConversionFailed
	}
	return out, status
}

func (a *adapter[S, N]) AcquireCredentials(principal, pkg S, use CredentialUse, identity *AuthIdentity[S]) (CredHandle, time.Time, Status) {
	sc := a.scope()
	defer sc.done()

	nprincipal, err := sc.conv(principal)
	if err != nil {
		return CredHandle{}, time.Time{}, StatusConversionFailed
	}
	npkg, err := sc.conv(pkg)
	if err != nil {
		return CredHandle{}, time.Time{}, StatusConversionFailed
	}
	nid, err := sc.identity(identity)
	if err != nil {
		return CredHandle{}, time.Time{}, StatusConversionFailed
	}
	return a.native.AcquireCredentials(nprincipal, npkg, use, nid)
}

func (a *adapter[S, N]) FreeCredentials(cred CredHandle) Status {
	return a.native.FreeCredentials(cred)
}

func (a *adapter[S, N]) AddCredentials(cred CredHandle, principal, pkg S, use CredentialUse, identity *AuthIdentity[S]) (time.Time, Status) {
	sc := a.scope()
	defer sc.done()

	nprincipal, err := sc.conv(principal)
	if err != nil {
		return time.Time{}, StatusConversionFailed
	}
	npkg, err := sc.conv(pkg)
	if err != nil {
		return time.Time{}, StatusConversionFailed
	}
	nid, err := sc.identity(identity)
	if err != nil {
		return time.Time{}, StatusConversionFailed
	}
	return a.native.AddCredentials(cred, nprincipal, npkg, use, nid)
}

func (a *adapter[S, N]) QueryCredentialsAttributes(cred CredHandle, attr Attribute) (AttrValue[S], Status) {
	v, status := a.native.QueryCredentialsAttributes(cred, attr)
	if status.Failed() {
		return AttrValue[S]{}, status
	}
	out, err := mapAttr(v, a.out)
	if err != nil {
		return AttrValue[S]{}, StatusConversionFailed
	}
	return out, status
}

func (a *adapter[S, N]) SetCredentialsAttributes(cred CredHandle, attr Attribute, value AttrValue[S]) Status {
	sc := a.scope()
	defer sc.done()

	nv, err := mapAttr(value, sc.conv)
	if err != nil {
		return StatusConversionFailed
	}
	return a.native.SetCredentialsAttributes(cred, attr, nv)
}

func (a *adapter[S, N]) InitializeContext(cred CredHandle, ctx *CtxtHandle, target S, req ContextFlags, input BufferSet) (ContextResult, Status) {
	sc := a.scope()
	defer sc.done()

	ntarget, err := sc.conv(target)
	if err != nil {
		return ContextResult{}, StatusConversionFailed
	}
	return a.native.InitializeContext(cred, ctx, ntarget, req, input)
}

func (a *adapter[S, N]) AcceptContext(cred CredHandle, ctx *CtxtHandle, input BufferSet, req ContextFlags) (ContextResult, Status) {
	return a.native.AcceptContext(cred, ctx, input, req)
}

func (a *adapter[S, N]) CompleteAuthToken(ctx CtxtHandle, token BufferSet) Status {
	return a.native.CompleteAuthToken(ctx, token)
}

func (a *adapter[S, N]) DeleteContext(ctx CtxtHandle) Status {
	return a.native.DeleteContext(ctx)
}

func (a *adapter[S, N]) ApplyControlToken(ctx CtxtHandle, input BufferSet) Status {
	return a.native.ApplyControlToken(ctx, input)
}

func (a *adapter[S, N]) ExportContext(ctx CtxtHandle, flags uint32) ([]byte, []byte, Status) {
	return a.native.ExportContext(ctx, flags)
}

func (a *adapter[S, N]) ImportContext(pkg S, packed, token []byte) (CtxtHandle, Status) {
	sc := a.scope()
	defer sc.done()

	npkg, err := sc.conv(pkg)
	if err != nil {
		return CtxtHandle{}, StatusConversionFailed
	}
	return a.native.ImportContext(npkg, packed, token)
}

func (a *adapter[S, N]) QueryContextAttributes(ctx CtxtHandle, attr Attribute) (AttrValue[S], Status) {
	v, status := a.native.QueryContextAttributes(ctx, attr)
	if status.Failed() {
		return AttrValue[S]{}, status
	}
	out, err := mapAttr(v, a.out)
	if err != nil {
		return AttrValue[S]{}, StatusConversionFailed
	}
	return out, status
}

func (a *adapter[S, N]) SetContextAttributes(ctx CtxtHandle, attr Attribute, value AttrValue[S]) Status {
	sc := a.scope()
	defer sc.done()

	nv, err := mapAttr(value, sc.conv)
	if err != nil {
		return StatusConversionFailed
	}
	return a.native.SetContextAttributes(ctx, attr, nv)
}

func (a *adapter[S, N]) MakeSignature(ctx CtxtHandle, qop uint32, msg BufferSet, seq uint32) Status {
	return a.native.MakeSignature(ctx, qop, msg, seq)
}

func (a *adapter[S, N]) VerifySignature(ctx CtxtHandle, msg BufferSet, seq uint32) (uint32, Status) {
	return a.native.VerifySignature(ctx, msg, seq)
}

func (a *adapter[S, N]) EncryptMessage(ctx CtxtHandle, qop uint32, msg BufferSet, seq uint32) Status {
	return a.native.EncryptMessage(ctx, qop, msg, seq)
}

func (a *adapter[S, N]) DecryptMessage(ctx CtxtHandle, msg BufferSet, seq uint32) (uint32, Status) {
	return a.native.DecryptMessage(ctx, msg, seq)
}

func (a *adapter[S, N]) FreeBuffer(buf []byte) Status {
	return a.native.FreeBuffer(buf)
}
