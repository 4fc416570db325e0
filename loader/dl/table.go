//go:build darwin || freebsd || linux

package dl

import (
	"bytes"
	"fmt"
	"math"
	"runtime"
	"time"
	"unsafe"

	"github.com/ebitengine/purego"
	"github.com/smnsjas/go-sspi/ssp"
	"github.com/smnsjas/go-sspi/transcode"
)

// module is one opened shared library.
type module struct {
	path string
	lib  uintptr
	fn   funcs
}

func open(path string) (*module, error) {
	lib, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_LOCAL)
	if err != nil {
		return nil, fmt.Errorf("dlopen %s: %w", path, err)
	}
	m := &module{path: path, lib: lib}
	if err := m.fn.bind(lib); err != nil {
		_ = purego.Dlclose(lib)
		return nil, fmt.Errorf("bind %s: %w", path, err)
	}
	return m, nil
}

// Tables implements ssp.Module. The A entry points take NUL-terminated
// narrow strings.
func (m *module) Tables() (ssp.NarrowTable, ssp.WideTable, error) {
	return &table{fn: &m.fn}, nil, nil
}

func (m *module) close() error {
	return purego.Dlclose(m.lib)
}

type table struct {
	ssp.UnsupportedTable[transcode.Narrow]
	fn *funcs
}

func status(ret int32) ssp.Status { return ssp.Status(uint32(ret)) }

// cstr returns a NUL-terminated copy of n, nil for empty text, and false
// when n embeds a NUL.
func cstr(n transcode.Narrow) (*byte, bool) {
	if len(n) == 0 {
		return nil, true
	}
	if bytes.IndexByte(n, 0) >= 0 {
		return nil, false
	}
	p := make([]byte, len(n)+1)
	copy(p, n)
	return &p[0], true
}

// narrowAt copies the NUL-terminated string at p.
func narrowAt(p *byte) transcode.Narrow {
	if p == nil {
		return nil
	}
	n := 0
	for ptr := unsafe.Pointer(p); *(*byte)(ptr) != 0; ptr = unsafe.Add(ptr, 1) {
		n++
	}
	return bytes.Clone(unsafe.Slice(p, n))
}

func (t *table) free(p unsafe.Pointer) {
	if p != nil {
		t.fn.freeContextBuffer(p)
	}
}

// fileTimeEpoch is 1970-01-01 in 100ns ticks since 1601-01-01.
const fileTimeEpoch = 116444736000000000

// timestamp converts a TimeStamp. The "never expires" sentinel maps to
// the zero time.
func timestamp(ts int64) time.Time {
	if ts == 0 || ts == math.MaxInt64 {
		return time.Time{}
	}
	return time.Unix(0, (ts-fileTimeEpoch)*100)
}

func packageInfo(pi *secPkgInfoA) ssp.PackageInfo[transcode.Narrow] {
	return ssp.PackageInfo[transcode.Narrow]{
		Capabilities: ssp.Capability(pi.capabilities),
		Version:      pi.version,
		RPCID:        pi.rpcID,
		MaxToken:     pi.maxToken,
		Name:         narrowAt(pi.name),
		Comment:      narrowAt(pi.comment),
	}
}

func descOf(set ssp.BufferSet) ([]secBuffer, *secBufferDesc) {
	if len(set) == 0 {
		return nil, nil
	}
	bufs := make([]secBuffer, len(set))
	for i, b := range set {
		bufs[i].kind = uint32(b.Kind)
		if len(b.Data) > 0 {
			bufs[i].size = uint32(len(b.Data))
			bufs[i].data = &b.Data[0]
		}
	}
	return bufs, &secBufferDesc{version: secbufferVersion, count: uint32(len(bufs)), buffers: &bufs[0]}
}

func copyBack(set ssp.BufferSet, bufs []secBuffer) {
	for i := range bufs {
		set[i].Kind = ssp.BufferKind(bufs[i].kind &^ secbufferAttrMask)
		if bufs[i].data == nil || bufs[i].size == 0 {
			set[i].Data = nil
			continue
		}
		set[i].Data = unsafe.Slice(bufs[i].data, bufs[i].size)
	}
}

func (t *table) QueryPackageInfo(pkg transcode.Narrow) (ssp.PackageInfo[transcode.Narrow], ssp.Status) {
	name, ok := cstr(pkg)
	if !ok || name == nil {
		return ssp.PackageInfo[transcode.Narrow]{}, ssp.StatusInvalidParameter
	}
	var pi *secPkgInfoA
	ret := t.fn.querySecurityPackageInfoA(unsafe.Pointer(name), unsafe.Pointer(&pi))
	runtime.KeepAlive(name)
	if ret != 0 {
		return ssp.PackageInfo[transcode.Narrow]{}, status(ret)
	}
	defer t.free(unsafe.Pointer(pi))
	return packageInfo(pi), ssp.StatusOK
}

func (t *table) AcquireCredentials(principal, pkg transcode.Narrow, use ssp.CredentialUse, id *ssp.AuthIdentity[transcode.Narrow]) (ssp.CredHandle, time.Time, ssp.Status) {
	p, ok1 := cstr(principal)
	name, ok2 := cstr(pkg)
	if !ok1 || !ok2 {
		return ssp.CredHandle{}, time.Time{}, ssp.StatusInvalidParameter
	}
	var ai *authIdentityA
	if id != nil {
		user, ok1 := cstr(id.User)
		domain, ok2 := cstr(id.Domain)
		password, ok3 := cstr(id.Password)
		if !ok1 || !ok2 || !ok3 {
			return ssp.CredHandle{}, time.Time{}, ssp.StatusInvalidParameter
		}
		ai = &authIdentityA{
			user:           user,
			userLength:     uint32(len(id.User)),
			domain:         domain,
			domainLength:   uint32(len(id.Domain)),
			password:       password,
			passwordLength: uint32(len(id.Password)),
			flags:          authIdentityANSI,
		}
	}
	var (
		h      ssp.CredHandle
		expiry int64
	)
	ret := t.fn.acquireCredentialsHandleA(unsafe.Pointer(p), unsafe.Pointer(name), uint32(use), nil,
		unsafe.Pointer(ai), 0, 0, unsafe.Pointer(&h), unsafe.Pointer(&expiry))
	runtime.KeepAlive(ai)
	if ret != 0 {
		return ssp.CredHandle{}, time.Time{}, status(ret)
	}
	return h, timestamp(expiry), ssp.StatusOK
}

func (t *table) FreeCredentials(cred ssp.CredHandle) ssp.Status {
	return status(t.fn.freeCredentialsHandle(unsafe.Pointer(&cred)))
}

// contextResult copies the library-allocated output token into Go memory
// and frees the original.
func (t *table) contextResult(ret int32, h ssp.CtxtHandle, out *secBuffer, attrs uint32, expiry int64) (ssp.ContextResult, ssp.Status) {
	var output ssp.BufferSet
	if out.data != nil && out.size > 0 {
		output = ssp.BufferSet{{Kind: ssp.BufferToken, Data: bytes.Clone(unsafe.Slice(out.data, out.size)), Allocated: true}}
	}
	t.free(unsafe.Pointer(out.data))

	st := status(ret)
	if st.Failed() {
		return ssp.ContextResult{}, st
	}
	return ssp.ContextResult{
		Handle: h,
		Output: output,
		Flags:  ssp.ContextFlags(attrs) &^ ssp.FlagAllocateMemory,
		Expiry: timestamp(expiry),
	}, st
}

func (t *table) InitializeContext(cred ssp.CredHandle, ctx *ssp.CtxtHandle, target transcode.Narrow, req ssp.ContextFlags, input ssp.BufferSet) (ssp.ContextResult, ssp.Status) {
	name, ok := cstr(target)
	if !ok {
		return ssp.ContextResult{}, ssp.StatusInvalidParameter
	}
	bufs, in := descOf(input)
	out := secBuffer{kind: uint32(ssp.BufferToken)}
	outDesc := secBufferDesc{version: secbufferVersion, count: 1, buffers: &out}

	var (
		cur    unsafe.Pointer
		next   ssp.CtxtHandle
		attrs  uint32
		expiry int64
	)
	if ctx != nil {
		next = *ctx
		cur = unsafe.Pointer(ctx)
	}
	ret := t.fn.initializeSecurityContextA(unsafe.Pointer(&cred), cur, unsafe.Pointer(name),
		uint32(req|ssp.FlagAllocateMemory), 0, nativeDataRep, unsafe.Pointer(in), 0,
		unsafe.Pointer(&next), unsafe.Pointer(&outDesc), unsafe.Pointer(&attrs), unsafe.Pointer(&expiry))
	runtime.KeepAlive(bufs)
	runtime.KeepAlive(input)
	return t.contextResult(ret, next, &out, attrs, expiry)
}

func (t *table) AcceptContext(cred ssp.CredHandle, ctx *ssp.CtxtHandle, input ssp.BufferSet, req ssp.ContextFlags) (ssp.ContextResult, ssp.Status) {
	bufs, in := descOf(input)
	out := secBuffer{kind: uint32(ssp.BufferToken)}
	outDesc := secBufferDesc{version: secbufferVersion, count: 1, buffers: &out}

	var (
		cur    unsafe.Pointer
		next   ssp.CtxtHandle
		attrs  uint32
		expiry int64
	)
	if ctx != nil {
		next = *ctx
		cur = unsafe.Pointer(ctx)
	}
	ret := t.fn.acceptSecurityContext(unsafe.Pointer(&cred), cur, unsafe.Pointer(in),
		uint32(req|ssp.FlagAllocateMemory), nativeDataRep,
		unsafe.Pointer(&next), unsafe.Pointer(&outDesc), unsafe.Pointer(&attrs), unsafe.Pointer(&expiry))
	runtime.KeepAlive(bufs)
	runtime.KeepAlive(input)
	return t.contextResult(ret, next, &out, attrs, expiry)
}

func (t *table) DeleteContext(ctx ssp.CtxtHandle) ssp.Status {
	return status(t.fn.deleteSecurityContext(unsafe.Pointer(&ctx)))
}

func (t *table) CompleteAuthToken(ctx ssp.CtxtHandle, token ssp.BufferSet) ssp.Status {
	if t.fn.completeAuthToken == nil {
		return ssp.StatusUnsupported
	}
	bufs, desc := descOf(token)
	st := status(t.fn.completeAuthToken(unsafe.Pointer(&ctx), unsafe.Pointer(desc)))
	runtime.KeepAlive(bufs)
	return st
}

func (t *table) ApplyControlToken(ctx ssp.CtxtHandle, input ssp.BufferSet) ssp.Status {
	if t.fn.applyControlToken == nil {
		return ssp.StatusUnsupported
	}
	bufs, desc := descOf(input)
	st := status(t.fn.applyControlToken(unsafe.Pointer(&ctx), unsafe.Pointer(desc)))
	runtime.KeepAlive(bufs)
	return st
}

func (t *table) QueryContextAttributes(ctx ssp.CtxtHandle, attr ssp.Attribute) (ssp.AttrValue[transcode.Narrow], ssp.Status) {
	var v ssp.AttrValue[transcode.Narrow]
	query := func(buf unsafe.Pointer) ssp.Status {
		return status(t.fn.queryContextAttributesA(unsafe.Pointer(&ctx), uint32(attr), buf))
	}

	var st ssp.Status
	switch attr {
	case ssp.AttrSizes:
		st = query(unsafe.Pointer(&v.Sizes))
	case ssp.AttrStreamSizes:
		st = query(unsafe.Pointer(&v.StreamSizes))
	case ssp.AttrNames, ssp.AttrAuthority:
		var names struct{ name *byte }
		if st = query(unsafe.Pointer(&names)); st == ssp.StatusOK {
			v.Name = narrowAt(names.name)
			t.free(unsafe.Pointer(names.name))
		}
	case ssp.AttrNativeNames:
		var names struct{ client, server *byte }
		if st = query(unsafe.Pointer(&names)); st == ssp.StatusOK {
			v.Name, v.Peer = narrowAt(names.client), narrowAt(names.server)
			t.free(unsafe.Pointer(names.client))
			t.free(unsafe.Pointer(names.server))
		}
	case ssp.AttrLifespan:
		var span struct{ start, expiry int64 }
		if st = query(unsafe.Pointer(&span)); st == ssp.StatusOK {
			v.Lifespan = ssp.Lifespan{Start: timestamp(span.start), Expiry: timestamp(span.expiry)}
		}
	case ssp.AttrSessionKey:
		var key struct {
			length uint32
			key    *byte
		}
		if st = query(unsafe.Pointer(&key)); st == ssp.StatusOK {
			if key.key != nil {
				v.SessionKey = bytes.Clone(unsafe.Slice(key.key, key.length))
			}
			t.free(unsafe.Pointer(key.key))
		}
	case ssp.AttrFlags:
		var flags struct{ flags uint32 }
		if st = query(unsafe.Pointer(&flags)); st == ssp.StatusOK {
			v.Flags = ssp.ContextFlags(flags.flags)
		}
	case ssp.AttrPackageInfo:
		var pkg struct{ info *secPkgInfoA }
		if st = query(unsafe.Pointer(&pkg)); st == ssp.StatusOK && pkg.info != nil {
			info := packageInfo(pkg.info)
			v.Package = &info
			t.free(unsafe.Pointer(pkg.info))
		}
	case ssp.AttrNegotiationInfo:
		var neg struct {
			info  *secPkgInfoA
			state uint32
		}
		if st = query(unsafe.Pointer(&neg)); st == ssp.StatusOK {
			if neg.info != nil {
				info := packageInfo(neg.info)
				v.Package = &info
				t.free(unsafe.Pointer(neg.info))
			}
			v.NegotiationState = neg.state
		}
	default:
		return v, ssp.StatusUnsupported
	}
	return v, st
}

func (t *table) MakeSignature(ctx ssp.CtxtHandle, qop uint32, msg ssp.BufferSet, seq uint32) ssp.Status {
	if t.fn.makeSignature == nil {
		return ssp.StatusUnsupported
	}
	bufs, desc := descOf(msg)
	st := status(t.fn.makeSignature(unsafe.Pointer(&ctx), qop, unsafe.Pointer(desc), seq))
	copyBack(msg, bufs)
	return st
}

func (t *table) VerifySignature(ctx ssp.CtxtHandle, msg ssp.BufferSet, seq uint32) (uint32, ssp.Status) {
	if t.fn.verifySignature == nil {
		return 0, ssp.StatusUnsupported
	}
	bufs, desc := descOf(msg)
	var qop uint32
	st := status(t.fn.verifySignature(unsafe.Pointer(&ctx), unsafe.Pointer(desc), seq, unsafe.Pointer(&qop)))
	copyBack(msg, bufs)
	return qop, st
}

func (t *table) EncryptMessage(ctx ssp.CtxtHandle, qop uint32, msg ssp.BufferSet, seq uint32) ssp.Status {
	if t.fn.encryptMessage == nil {
		return ssp.StatusUnsupported
	}
	bufs, desc := descOf(msg)
	st := status(t.fn.encryptMessage(unsafe.Pointer(&ctx), qop, unsafe.Pointer(desc), seq))
	copyBack(msg, bufs)
	return st
}

func (t *table) DecryptMessage(ctx ssp.CtxtHandle, msg ssp.BufferSet, seq uint32) (uint32, ssp.Status) {
	if t.fn.decryptMessage == nil {
		return 0, ssp.StatusUnsupported
	}
	bufs, desc := descOf(msg)
	var qop uint32
	st := status(t.fn.decryptMessage(unsafe.Pointer(&ctx), unsafe.Pointer(desc), seq, unsafe.Pointer(&qop)))
	copyBack(msg, bufs)
	return qop, st
}

// FreeBuffer scrubs an output token. Tokens are copied out of library
// memory when a round returns.
func (t *table) FreeBuffer(buf []byte) ssp.Status {
	clear(buf)
	return ssp.StatusOK
}
