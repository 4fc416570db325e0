package ssp

import "time"

// UnsupportedTable answers every entry with StatusUnsupported. Packages
// embed it and override the entries they implement.
type UnsupportedTable[S Text] struct{}

func (UnsupportedTable[S]) QueryPackageInfo(S) (PackageInfo[S], Status) {
	return PackageInfo[S]{}, StatusUnsupported
}

func (UnsupportedTable[S]) AcquireCredentials(S, S, CredentialUse, *AuthIdentity[S]) (CredHandle, time.Time, Status) {
	return CredHandle{}, time.Time{}, StatusUnsupported
}

func (UnsupportedTable[S]) FreeCredentials(CredHandle) Status { return StatusUnsupported }

func (UnsupportedTable[S]) AddCredentials(CredHandle, S, S, CredentialUse, *AuthIdentity[S]) (time.Time, Status) {
	return time.Time{}, StatusUnsupported
}

func (UnsupportedTable[S]) QueryCredentialsAttributes(CredHandle, Attribute) (AttrValue[S], Status) {
	return AttrValue[S]{}, StatusUnsupported
}

func (UnsupportedTable[S]) SetCredentialsAttributes(CredHandle, Attribute, AttrValue[S]) Status {
	return StatusUnsupported
}

func (UnsupportedTable[S]) InitializeContext(CredHandle, *CtxtHandle, S, ContextFlags, BufferSet) (ContextResult, Status) {
	return ContextResult{}, StatusUnsupported
}

func (UnsupportedTable[S]) AcceptContext(CredHandle, *CtxtHandle, BufferSet, ContextFlags) (ContextResult, Status) {
	return ContextResult{}, StatusUnsupported
}

func (UnsupportedTable[S]) CompleteAuthToken(CtxtHandle, BufferSet) Status { return StatusUnsupported }

func (UnsupportedTable[S]) DeleteContext(CtxtHandle) Status { return StatusUnsupported }

func (UnsupportedTable[S]) ApplyControlToken(CtxtHandle, BufferSet) Status { return StatusUnsupported }

func (UnsupportedTable[S]) ExportContext(CtxtHandle, uint32) ([]byte, []byte, Status) {
	return nil, nil, StatusUnsupported
}

func (UnsupportedTable[S]) ImportContext(S, []byte, []byte) (CtxtHandle, Status) {
	return CtxtHandle{}, StatusUnsupported
}

func (UnsupportedTable[S]) QueryContextAttributes(CtxtHandle, Attribute) (AttrValue[S], Status) {
	return AttrValue[S]{}, StatusUnsupported
}

func (UnsupportedTable[S]) SetContextAttributes(CtxtHandle, Attribute, AttrValue[S]) Status {
	return StatusUnsupported
}

func (UnsupportedTable[S]) MakeSignature(CtxtHandle, uint32, BufferSet, uint32) Status {
	return StatusUnsupported
}

func (UnsupportedTable[S]) VerifySignature(CtxtHandle, BufferSet, uint32) (uint32, Status) {
	return 0, StatusUnsupported
}

func (UnsupportedTable[S]) EncryptMessage(CtxtHandle, uint32, BufferSet, uint32) Status {
	return StatusUnsupported
}

func (UnsupportedTable[S]) DecryptMessage(CtxtHandle, BufferSet, uint32) (uint32, Status) {
	return 0, StatusUnsupported
}

// FreeBuffer accepts any buffer; Go-allocated output needs no release.
func (UnsupportedTable[S]) FreeBuffer([]byte) Status { return StatusOK }
