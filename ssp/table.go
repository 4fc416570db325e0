// Package ssp defines the security support provider surface: status codes,
// token buffers, attributes and the dispatch table a provider module
// exports, together with the adapter that synthesizes a table for one
// string encoding out of a table native to the other.
//
// # Dispatch Tables
//
// A provider module exports a narrow table, a wide table, or both. The two
// differ only in how text parameters are encoded (transcode.Narrow or
// transcode.Wide), so a single generic Table[S] describes both. Adapt
// builds the missing one.
//
// # Thread Safety
//
// Tables must be safe for concurrent use across distinct handles. Calls on
// one CtxtHandle are never issued concurrently by the engine.
package ssp

import (
	"time"

	"github.com/smnsjas/go-sspi/transcode"
)

// Table is the dispatch table of a provider in one string encoding.
//
// Every entry returns a Status. Failure statuses are passed to the caller
// unchanged; informational statuses (continue, complete) drive the
// handshake. Output buffers a table allocates are marked Allocated and are
// released through FreeBuffer.
type Table[S Text] interface {
	// QueryPackageInfo describes the named package.
	QueryPackageInfo(pkg S) (PackageInfo[S], Status)

	// AcquireCredentials obtains a credential for pkg. principal and
	// identity may be nil.
	AcquireCredentials(principal, pkg S, use CredentialUse, identity *AuthIdentity[S]) (CredHandle, time.Time, Status)

	// FreeCredentials releases a credential.
	FreeCredentials(cred CredHandle) Status

	// AddCredentials attaches another principal to an existing credential.
	AddCredentials(cred CredHandle, principal, pkg S, use CredentialUse, identity *AuthIdentity[S]) (time.Time, Status)

	QueryCredentialsAttributes(cred CredHandle, attr Attribute) (AttrValue[S], Status)
	SetCredentialsAttributes(cred CredHandle, attr Attribute, value AttrValue[S]) Status

	// InitializeContext runs one initiator round. ctx is nil on the first
	// round and the handle returned by the previous round afterwards.
	InitializeContext(cred CredHandle, ctx *CtxtHandle, target S, req ContextFlags, input BufferSet) (ContextResult, Status)

	// AcceptContext runs one acceptor round.
	AcceptContext(cred CredHandle, ctx *CtxtHandle, input BufferSet, req ContextFlags) (ContextResult, Status)

	// CompleteAuthToken finishes a round that returned a complete status.
	CompleteAuthToken(ctx CtxtHandle, token BufferSet) Status

	DeleteContext(ctx CtxtHandle) Status
	ApplyControlToken(ctx CtxtHandle, input BufferSet) Status

	// ExportContext serializes an established context. The returned slices
	// are allocated by the provider.
	ExportContext(ctx CtxtHandle, flags uint32) (packed, token []byte, status Status)

	// ImportContext rebuilds a context exported by ExportContext.
	ImportContext(pkg S, packed, token []byte) (CtxtHandle, Status)

	QueryContextAttributes(ctx CtxtHandle, attr Attribute) (AttrValue[S], Status)
	SetContextAttributes(ctx CtxtHandle, attr Attribute, value AttrValue[S]) Status

	MakeSignature(ctx CtxtHandle, qop uint32, msg BufferSet, seq uint32) Status
	VerifySignature(ctx CtxtHandle, msg BufferSet, seq uint32) (uint32, Status)
	EncryptMessage(ctx CtxtHandle, qop uint32, msg BufferSet, seq uint32) Status
	DecryptMessage(ctx CtxtHandle, msg BufferSet, seq uint32) (uint32, Status)

	// FreeBuffer releases memory the table handed to the caller.
	FreeBuffer(buf []byte) Status
}

type (
	// NarrowTable is a table whose text parameters are narrow strings.
	NarrowTable = Table[transcode.Narrow]

	// WideTable is a table whose text parameters are UTF-16 strings.
	WideTable = Table[transcode.Wide]
)

// Module is a loaded provider module. Tables is the table-export entry
// point: it returns whichever tables the module implements natively and
// nil for the other. At least one must be non-nil.
type Module interface {
	Tables() (NarrowTable, WideTable, error)
}

// ModuleFunc adapts a function to the Module interface.
type ModuleFunc func() (NarrowTable, WideTable, error)

// Tables calls f.
func (f ModuleFunc) Tables() (NarrowTable, WideTable, error) { return f() }
