package ssp

import (
	"time"

	"github.com/smnsjas/go-sspi/transcode"
)

// Text is the set of string encodings a dispatch table can speak.
type Text interface {
	transcode.Narrow | transcode.Wide
}

// CredHandle is a provider-side credential handle. Its contents are
// meaningful only to the provider that produced it.
type CredHandle struct {
	Lower uintptr
	Upper uintptr
}

// CtxtHandle is a provider-side security context handle.
type CtxtHandle struct {
	Lower uintptr
	Upper uintptr
}

// CredentialUse is the direction a credential may be used in.
type CredentialUse uint32

const (
	CredentialInbound  CredentialUse = 1
	CredentialOutbound CredentialUse = 2
	CredentialBoth     CredentialUse = CredentialInbound | CredentialOutbound
)

// Allows reports whether u permits every direction in want.
func (u CredentialUse) Allows(want CredentialUse) bool {
	return u&want == want
}

func (u CredentialUse) String() string {
	switch u {
	case CredentialInbound:
		return "inbound"
	case CredentialOutbound:
		return "outbound"
	case CredentialBoth:
		return "both"
	default:
		return "none"
	}
}

// ContextFlags are requested and negotiated context requirements.
// The values match the ISC_REQ_* bits; the acceptor side reuses them.
type ContextFlags uint32

const (
	FlagDelegate        ContextFlags = 0x00000001
	FlagMutualAuth      ContextFlags = 0x00000002
	FlagReplayDetect    ContextFlags = 0x00000004
	FlagSequenceDetect  ContextFlags = 0x00000008
	FlagConfidentiality ContextFlags = 0x00000010
	FlagUseSessionKey   ContextFlags = 0x00000020
	FlagAllocateMemory  ContextFlags = 0x00000100
	FlagConnection      ContextFlags = 0x00000800
	FlagIntegrity       ContextFlags = 0x00010000
)

// Capability flags advertised by a package.
type Capability uint32

const (
	CapIntegrity     Capability = 0x00000001
	CapPrivacy       Capability = 0x00000002
	CapTokenOnly     Capability = 0x00000004
	CapDatagram      Capability = 0x00000008
	CapConnection    Capability = 0x00000010
	CapMultiRequired Capability = 0x00000020
	CapClientOnly    Capability = 0x00000040
	CapExtendedError Capability = 0x00000080
	CapImpersonation Capability = 0x00000100
	CapAcceptWin32   Capability = 0x00000200
	CapStream        Capability = 0x00000400
	CapNegotiable    Capability = 0x00000800
	CapGSSCompatible Capability = 0x00001000
	CapLogon         Capability = 0x00002000
	CapASCIIBuffers  Capability = 0x00004000
	CapMutualAuth    Capability = 0x00010000
)

// PackageInfo is the provider's description of one package.
type PackageInfo[S Text] struct {
	Capabilities Capability
	Version      uint16
	RPCID        uint16
	MaxToken     uint32
	Name         S
	Comment      S
}

// AuthIdentity carries explicit credentials for AcquireCredentials.
// A nil identity selects the package's default (logged-on) credentials.
type AuthIdentity[S Text] struct {
	User     S
	Domain   S
	Password S
}

// Attribute identifies a context or credential attribute.
type Attribute uint32

const (
	AttrSizes           Attribute = 0
	AttrNames           Attribute = 1
	AttrLifespan        Attribute = 2
	AttrStreamSizes     Attribute = 4
	AttrAuthority       Attribute = 6
	AttrSessionKey      Attribute = 9
	AttrPackageInfo     Attribute = 10
	AttrNegotiationInfo Attribute = 12
	AttrNativeNames     Attribute = 13
	AttrFlags           Attribute = 14
)

// AvailableBeforeEstablished reports whether a context attribute is
// defined while the handshake is still in progress.
func (a Attribute) AvailableBeforeEstablished() bool {
	return a == AttrPackageInfo || a == AttrNegotiationInfo
}

// Sizes mirrors SecPkgContext_Sizes.
type Sizes struct {
	MaxToken        uint32
	MaxSignature    uint32
	BlockSize       uint32
	SecurityTrailer uint32
}

// StreamSizes mirrors SecPkgContext_StreamSizes.
type StreamSizes struct {
	Header         uint32
	Trailer        uint32
	MaximumMessage uint32
	Buffers        uint32
	BlockSize      uint32
}

// Lifespan is the validity window of a context or credential.
type Lifespan struct {
	Start  time.Time
	Expiry time.Time
}

// NegotiationState values reported with AttrNegotiationInfo.
const (
	NegotiationComplete   uint32 = 0
	NegotiationOptimistic uint32 = 1
	NegotiationInProgress uint32 = 2
	NegotiationDirect     uint32 = 3
	NegotiationTryMulti   uint32 = 4
)

// AttrValue holds the value of one attribute. Only the fields relevant to
// the queried Attribute are populated:
//
//	AttrSizes            Sizes
//	AttrStreamSizes      StreamSizes
//	AttrLifespan         Lifespan
//	AttrNames, AttrAuthority, AttrNativeNames   Name (and Peer for native names)
//	AttrSessionKey       SessionKey
//	AttrFlags            Flags
//	AttrPackageInfo      Package
//	AttrNegotiationInfo  Package and NegotiationState
type AttrValue[S Text] struct {
	Sizes            Sizes
	StreamSizes      StreamSizes
	Lifespan         Lifespan
	Name             S
	Peer             S
	SessionKey       []byte
	Flags            ContextFlags
	Package          *PackageInfo[S]
	NegotiationState uint32
}

// ContextResult is the outcome of one InitializeContext/AcceptContext call.
type ContextResult struct {
	// Handle is the provider context, valid once any round succeeded.
	Handle CtxtHandle
	Output BufferSet
	Flags  ContextFlags
	Expiry time.Time
}

// ExportDeleteOld asks ExportContext to delete the exported context.
const ExportDeleteOld uint32 = 0x2
