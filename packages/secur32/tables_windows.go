//go:build windows

package secur32

import (
	"bytes"
	"syscall"
	"time"
	"unsafe"

	"github.com/alexbrainman/sspi"
	"github.com/smnsjas/go-sspi/ssp"
	"github.com/smnsjas/go-sspi/transcode"
)

// Tables implements ssp.Module. secur32 speaks UTF-16 natively.
func (m *Module) Tables() (ssp.NarrowTable, ssp.WideTable, error) {
	return nil, &table{}, nil
}

// table forwards to the W entry points. Credential attributes, context
// export and import are not bound by the sspi package and stay unsupported.
type table struct {
	ssp.UnsupportedTable[transcode.Wide]
}

func status(e syscall.Errno) ssp.Status { return ssp.Status(uint32(e)) }

// cstr returns a NUL-terminated copy of w, or nil for empty text.
func cstr(w transcode.Wide) *uint16 {
	if len(w) == 0 {
		return nil
	}
	p := make([]uint16, len(w)+1)
	copy(p, w)
	return &p[0]
}

// wideAt copies the NUL-terminated string at p.
func wideAt(p *uint16) transcode.Wide {
	if p == nil {
		return nil
	}
	n := 0
	for ptr := unsafe.Pointer(p); *(*uint16)(ptr) != 0; ptr = unsafe.Add(ptr, 2) {
		n++
	}
	return append(transcode.Wide(nil), unsafe.Slice(p, n)...)
}

func free(p unsafe.Pointer) {
	if p != nil {
		sspi.FreeContextBuffer((*byte)(p))
	}
}

// timestamp converts an SSPI TimeStamp. The "never expires" sentinel maps
// to the zero time.
func timestamp(ft syscall.Filetime) time.Time {
	if ft == (syscall.Filetime{}) || ft.HighDateTime >= 0x7fffffff {
		return time.Time{}
	}
	return time.Unix(0, ft.Nanoseconds())
}

func packageInfo(pi *sspi.SecPkgInfo) ssp.PackageInfo[transcode.Wide] {
	return ssp.PackageInfo[transcode.Wide]{
		Capabilities: ssp.Capability(pi.Capabilities),
		Version:      pi.Version,
		RPCID:        pi.RPCID,
		MaxToken:     pi.MaxToken,
		Name:         wideAt(pi.Name),
		Comment:      wideAt(pi.Comment),
	}
}

// descOf lays set out as a SecBufferDesc over the caller's memory.
func descOf(set ssp.BufferSet) ([]sspi.SecBuffer, *sspi.SecBufferDesc) {
	if len(set) == 0 {
		return nil, nil
	}
	bufs := make([]sspi.SecBuffer, len(set))
	for i, b := range set {
		bufs[i].Set(uint32(b.Kind), b.Data)
	}
	return bufs, sspi.NewSecBufferDesc(bufs)
}

// copyBack reflects in-place rewrites (decrypted spans, reclassified
// buffers) into set.
func copyBack(set ssp.BufferSet, bufs []sspi.SecBuffer) {
	for i := range bufs {
		set[i].Kind = ssp.BufferKind(bufs[i].BufferType &^ sspi.SECBUFFER_ATTRMASK)
		set[i].Data = bufs[i].Bytes()
	}
}

func (t *table) QueryPackageInfo(pkg transcode.Wide) (ssp.PackageInfo[transcode.Wide], ssp.Status) {
	name := cstr(pkg)
	if name == nil {
		return ssp.PackageInfo[transcode.Wide]{}, ssp.StatusInvalidParameter
	}
	var pi *sspi.SecPkgInfo
	if ret := sspi.QuerySecurityPackageInfo(name, &pi); ret != sspi.SEC_E_OK {
		return ssp.PackageInfo[transcode.Wide]{}, status(ret)
	}
	defer free(unsafe.Pointer(pi))
	return packageInfo(pi), ssp.StatusOK
}

func (t *table) AcquireCredentials(principal, pkg transcode.Wide, use ssp.CredentialUse, id *ssp.AuthIdentity[transcode.Wide]) (ssp.CredHandle, time.Time, ssp.Status) {
	var authdata *byte
	if id != nil {
		ai := &sspi.SEC_WINNT_AUTH_IDENTITY{
			User:           cstr(id.User),
			UserLength:     uint32(len(id.User)),
			Domain:         cstr(id.Domain),
			DomainLength:   uint32(len(id.Domain)),
			Password:       cstr(id.Password),
			PasswordLength: uint32(len(id.Password)),
			Flags:          sspi.SEC_WINNT_AUTH_IDENTITY_UNICODE,
		}
		authdata = (*byte)(unsafe.Pointer(ai))
	}
	var (
		h      sspi.CredHandle
		expiry syscall.Filetime
	)
	ret := sspi.AcquireCredentialsHandle(cstr(principal), cstr(pkg), uint32(use), nil, authdata, 0, 0, &h, &expiry)
	if ret != sspi.SEC_E_OK {
		return ssp.CredHandle{}, time.Time{}, status(ret)
	}
	return ssp.CredHandle(h), timestamp(expiry), ssp.StatusOK
}

func (t *table) FreeCredentials(cred ssp.CredHandle) ssp.Status {
	h := sspi.CredHandle(cred)
	return status(sspi.FreeCredentialsHandle(&h))
}

// contextResult copies the system-allocated output token into Go memory
// and frees the original.
func contextResult(ret syscall.Errno, h sspi.CtxtHandle, out *sspi.SecBuffer, attrs uint32, expiry syscall.Filetime) (ssp.ContextResult, ssp.Status) {
	var output ssp.BufferSet
	if tok := out.Bytes(); len(tok) > 0 {
		output = ssp.BufferSet{{Kind: ssp.BufferToken, Data: bytes.Clone(tok), Allocated: true}}
	}
	out.Free()

	st := status(ret)
	if st.Failed() {
		return ssp.ContextResult{}, st
	}
	return ssp.ContextResult{
		Handle: ssp.CtxtHandle(h),
		Output: output,
		Flags:  ssp.ContextFlags(attrs) &^ ssp.FlagAllocateMemory,
		Expiry: timestamp(expiry),
	}, st
}

func (t *table) InitializeContext(cred ssp.CredHandle, ctx *ssp.CtxtHandle, target transcode.Wide, req ssp.ContextFlags, input ssp.BufferSet) (ssp.ContextResult, ssp.Status) {
	_, in := descOf(input)
	var out [1]sspi.SecBuffer
	out[0].Set(sspi.SECBUFFER_TOKEN, nil)

	var (
		credH  = sspi.CredHandle(cred)
		cur    *sspi.CtxtHandle
		next   sspi.CtxtHandle
		attrs  uint32
		expiry syscall.Filetime
	)
	if ctx != nil {
		c := sspi.CtxtHandle(*ctx)
		cur, next = &c, c
	}
	ret := sspi.InitializeSecurityContext(&credH, cur, cstr(target),
		uint32(req|ssp.FlagAllocateMemory), 0, sspi.SECURITY_NATIVE_DREP,
		in, 0, &next, sspi.NewSecBufferDesc(out[:]), &attrs, &expiry)
	return contextResult(ret, next, &out[0], attrs, expiry)
}

func (t *table) AcceptContext(cred ssp.CredHandle, ctx *ssp.CtxtHandle, input ssp.BufferSet, req ssp.ContextFlags) (ssp.ContextResult, ssp.Status) {
	_, in := descOf(input)
	var out [1]sspi.SecBuffer
	out[0].Set(sspi.SECBUFFER_TOKEN, nil)

	var (
		credH  = sspi.CredHandle(cred)
		cur    *sspi.CtxtHandle
		next   sspi.CtxtHandle
		attrs  uint32
		expiry syscall.Filetime
	)
	if ctx != nil {
		c := sspi.CtxtHandle(*ctx)
		cur, next = &c, c
	}
	ret := sspi.AcceptSecurityContext(&credH, cur, in,
		uint32(req|ssp.FlagAllocateMemory), sspi.SECURITY_NATIVE_DREP,
		&next, sspi.NewSecBufferDesc(out[:]), &attrs, &expiry)
	return contextResult(ret, next, &out[0], attrs, expiry)
}

func (t *table) CompleteAuthToken(ctx ssp.CtxtHandle, token ssp.BufferSet) ssp.Status {
	c := sspi.CtxtHandle(ctx)
	_, desc := descOf(token)
	return status(sspi.CompleteAuthToken(&c, desc))
}

func (t *table) DeleteContext(ctx ssp.CtxtHandle) ssp.Status {
	c := sspi.CtxtHandle(ctx)
	return status(sspi.DeleteSecurityContext(&c))
}

func (t *table) ApplyControlToken(ctx ssp.CtxtHandle, input ssp.BufferSet) ssp.Status {
	c := sspi.CtxtHandle(ctx)
	_, desc := descOf(input)
	return status(sspi.ApplyControlToken(&c, desc))
}

func (t *table) QueryContextAttributes(ctx ssp.CtxtHandle, attr ssp.Attribute) (ssp.AttrValue[transcode.Wide], ssp.Status) {
	var v ssp.AttrValue[transcode.Wide]
	c := sspi.CtxtHandle(ctx)
	query := func(buf unsafe.Pointer) ssp.Status {
		return status(sspi.QueryContextAttributes(&c, uint32(attr), (*byte)(buf)))
	}

	var st ssp.Status
	switch attr {
	case ssp.AttrSizes:
		st = query(unsafe.Pointer(&v.Sizes))
	case ssp.AttrStreamSizes:
		st = query(unsafe.Pointer(&v.StreamSizes))
	case ssp.AttrNames, ssp.AttrAuthority:
		var names struct{ Name *uint16 }
		if st = query(unsafe.Pointer(&names)); st == ssp.StatusOK {
			v.Name = wideAt(names.Name)
			free(unsafe.Pointer(names.Name))
		}
	case ssp.AttrNativeNames:
		var names struct{ Client, Server *uint16 }
		if st = query(unsafe.Pointer(&names)); st == ssp.StatusOK {
			v.Name, v.Peer = wideAt(names.Client), wideAt(names.Server)
			free(unsafe.Pointer(names.Client))
			free(unsafe.Pointer(names.Server))
		}
	case ssp.AttrLifespan:
		var span struct{ Start, Expiry syscall.Filetime }
		if st = query(unsafe.Pointer(&span)); st == ssp.StatusOK {
			v.Lifespan = ssp.Lifespan{Start: timestamp(span.Start), Expiry: timestamp(span.Expiry)}
		}
	case ssp.AttrSessionKey:
		var key struct {
			Length uint32
			Key    *byte
		}
		if st = query(unsafe.Pointer(&key)); st == ssp.StatusOK {
			if key.Key != nil {
				v.SessionKey = bytes.Clone(unsafe.Slice(key.Key, key.Length))
			}
			free(unsafe.Pointer(key.Key))
		}
	case ssp.AttrFlags:
		var flags struct{ Flags uint32 }
		if st = query(unsafe.Pointer(&flags)); st == ssp.StatusOK {
			v.Flags = ssp.ContextFlags(flags.Flags)
		}
	case ssp.AttrPackageInfo:
		var pkg struct{ Info *sspi.SecPkgInfo }
		if st = query(unsafe.Pointer(&pkg)); st == ssp.StatusOK && pkg.Info != nil {
			info := packageInfo(pkg.Info)
			v.Package = &info
			free(unsafe.Pointer(pkg.Info))
		}
	case ssp.AttrNegotiationInfo:
		var neg struct {
			Info  *sspi.SecPkgInfo
			State uint32
		}
		if st = query(unsafe.Pointer(&neg)); st == ssp.StatusOK {
			if neg.Info != nil {
				info := packageInfo(neg.Info)
				v.Package = &info
				free(unsafe.Pointer(neg.Info))
			}
			v.NegotiationState = neg.State
		}
	default:
		return v, ssp.StatusUnsupported
	}
	return v, st
}

func (t *table) MakeSignature(ctx ssp.CtxtHandle, qop uint32, msg ssp.BufferSet, seq uint32) ssp.Status {
	c := sspi.CtxtHandle(ctx)
	bufs, desc := descOf(msg)
	st := status(sspi.MakeSignature(&c, qop, desc, seq))
	copyBack(msg, bufs)
	return st
}

func (t *table) VerifySignature(ctx ssp.CtxtHandle, msg ssp.BufferSet, seq uint32) (uint32, ssp.Status) {
	c := sspi.CtxtHandle(ctx)
	bufs, desc := descOf(msg)
	var qop uint32
	st := status(sspi.VerifySignature(&c, desc, seq, &qop))
	copyBack(msg, bufs)
	return qop, st
}

func (t *table) EncryptMessage(ctx ssp.CtxtHandle, qop uint32, msg ssp.BufferSet, seq uint32) ssp.Status {
	c := sspi.CtxtHandle(ctx)
	bufs, desc := descOf(msg)
	st := status(sspi.EncryptMessage(&c, qop, desc, seq))
	copyBack(msg, bufs)
	return st
}

func (t *table) DecryptMessage(ctx ssp.CtxtHandle, msg ssp.BufferSet, seq uint32) (uint32, ssp.Status) {
	c := sspi.CtxtHandle(ctx)
	bufs, desc := descOf(msg)
	var qop uint32
	st := status(sspi.DecryptMessage(&c, desc, seq, &qop))
	copyBack(msg, bufs)
	return qop, st
}

// FreeBuffer releases an output token. Tokens were copied out of system
// memory when the round returned, so only the copy is scrubbed.
func (t *table) FreeBuffer(buf []byte) ssp.Status {
	clear(buf)
	return ssp.StatusOK
}
