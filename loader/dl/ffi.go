//go:build darwin || freebsd || linux

package dl

import (
	"fmt"
	"unsafe"

	"github.com/ebitengine/purego"
)

// C layouts. Handles are passed as ssp.CredHandle/ssp.CtxtHandle, which
// share the SecHandle layout.

type secBuffer struct {
	size uint32
	kind uint32
	data *byte
}

type secBufferDesc struct {
	version uint32
	count   uint32
	buffers *secBuffer
}

type secPkgInfoA struct {
	capabilities uint32
	version      uint16
	rpcID        uint16
	maxToken     uint32
	name         *byte
	comment      *byte
}

type authIdentityA struct {
	user           *byte
	userLength     uint32
	domain         *byte
	domainLength   uint32
	password       *byte
	passwordLength uint32
	flags          uint32
}

const (
	authIdentityANSI  = 1
	secbufferVersion  = 0
	nativeDataRep     = 0x10
	secbufferAttrMask = 0xf0000000
)

// funcs holds the bound entry points. Optional ones stay nil when the
// library does not export them.
type funcs struct {
	querySecurityPackageInfoA func(name unsafe.Pointer, info unsafe.Pointer) int32
	acquireCredentialsHandleA func(principal, pkg unsafe.Pointer, use uint32, logonID, authData unsafe.Pointer,
		getKeyFn, getKeyArg uintptr, cred, expiry unsafe.Pointer) int32
	freeCredentialsHandle      func(cred unsafe.Pointer) int32
	initializeSecurityContextA func(cred, ctx, target unsafe.Pointer, req, reserved1, dataRep uint32,
		input unsafe.Pointer, reserved2 uint32, newCtx, output, attrs, expiry unsafe.Pointer) int32
	acceptSecurityContext func(cred, ctx, input unsafe.Pointer, req, dataRep uint32,
		newCtx, output, attrs, expiry unsafe.Pointer) int32
	deleteSecurityContext   func(ctx unsafe.Pointer) int32
	queryContextAttributesA func(ctx unsafe.Pointer, attr uint32, buf unsafe.Pointer) int32
	freeContextBuffer       func(buf unsafe.Pointer) int32

	completeAuthToken func(ctx, desc unsafe.Pointer) int32
	applyControlToken func(ctx, desc unsafe.Pointer) int32
	makeSignature     func(ctx unsafe.Pointer, qop uint32, desc unsafe.Pointer, seq uint32) int32
	verifySignature   func(ctx, desc unsafe.Pointer, seq uint32, qop unsafe.Pointer) int32
	encryptMessage    func(ctx unsafe.Pointer, qop uint32, desc unsafe.Pointer, seq uint32) int32
	decryptMessage    func(ctx, desc unsafe.Pointer, seq uint32, qop unsafe.Pointer) int32
}

type symbol struct {
	name     string
	fptr     any
	required bool
}

func (f *funcs) symbols() []symbol {
	return []symbol{
		{"QuerySecurityPackageInfoA", &f.querySecurityPackageInfoA, true},
		{"AcquireCredentialsHandleA", &f.acquireCredentialsHandleA, true},
		{"FreeCredentialsHandle", &f.freeCredentialsHandle, true},
		{"InitializeSecurityContextA", &f.initializeSecurityContextA, true},
		{"AcceptSecurityContext", &f.acceptSecurityContext, true},
		{"DeleteSecurityContext", &f.deleteSecurityContext, true},
		{"QueryContextAttributesA", &f.queryContextAttributesA, true},
		{"FreeContextBuffer", &f.freeContextBuffer, true},
		{"CompleteAuthToken", &f.completeAuthToken, false},
		{"ApplyControlToken", &f.applyControlToken, false},
		{"MakeSignature", &f.makeSignature, false},
		{"VerifySignature", &f.verifySignature, false},
		{"EncryptMessage", &f.encryptMessage, false},
		{"DecryptMessage", &f.decryptMessage, false},
	}
}

// bind resolves every symbol before registering any, so a library missing
// a required entry point is rejected instead of panicking later.
func (f *funcs) bind(lib uintptr) error {
	syms := f.symbols()
	addrs := make([]uintptr, len(syms))
	for i, s := range syms {
		addr, err := purego.Dlsym(lib, s.name)
		if err != nil {
			if s.required {
				return fmt.Errorf("resolve %s: %w", s.name, err)
			}
			continue
		}
		addrs[i] = addr
	}
	for i, s := range syms {
		if addrs[i] != 0 {
			purego.RegisterFunc(s.fptr, addrs[i])
		}
	}
	return nil
}
