package ntlm

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/smnsjas/go-sspi/ssp"
	"github.com/smnsjas/go-sspi/transcode"
)

// table is the narrow dispatch table. Narrow text is UTF-8, which is what
// go-ntlmssp expects.
type table struct {
	ssp.UnsupportedTable[transcode.Narrow]
	m *Module
}

func text(n transcode.Narrow) (string, bool) {
	if !utf8.Valid(n) {
		return "", false
	}
	return string(n), true
}

func (t *table) QueryPackageInfo(pkg transcode.Narrow) (ssp.PackageInfo[transcode.Narrow], ssp.Status) {
	name, ok := text(pkg)
	if !ok {
		return ssp.PackageInfo[transcode.Narrow]{}, ssp.StatusInvalidParameter
	}
	if !strings.EqualFold(name, t.m.cfg.Name) {
		return ssp.PackageInfo[transcode.Narrow]{}, ssp.StatusSecpkgNotFound
	}
	return t.m.info(), ssp.StatusOK
}

func (t *table) AcquireCredentials(principal, pkg transcode.Narrow, use ssp.CredentialUse, id *ssp.AuthIdentity[transcode.Narrow]) (ssp.CredHandle, time.Time, ssp.Status) {
	name, ok := text(pkg)
	if !ok {
		return ssp.CredHandle{}, time.Time{}, ssp.StatusInvalidParameter
	}
	if !strings.EqualFold(name, t.m.cfg.Name) {
		return ssp.CredHandle{}, time.Time{}, ssp.StatusSecpkgNotFound
	}
	if id == nil {
		return t.m.acquire(use, "", "", "", false)
	}
	user, ok1 := text(id.User)
	domain, ok2 := text(id.Domain)
	password, ok3 := text(id.Password)
	if !ok1 || !ok2 || !ok3 {
		return ssp.CredHandle{}, time.Time{}, ssp.StatusInvalidParameter
	}
	return t.m.acquire(use, user, domain, password, true)
}

func (t *table) FreeCredentials(cred ssp.CredHandle) ssp.Status {
	return t.m.freeCredentials(cred)
}

func (t *table) QueryCredentialsAttributes(cred ssp.CredHandle, attr ssp.Attribute) (ssp.AttrValue[transcode.Narrow], ssp.Status) {
	if attr != ssp.AttrNames {
		return ssp.AttrValue[transcode.Narrow]{}, ssp.StatusUnsupported
	}
	name, status := t.m.credentialName(cred)
	if status != ssp.StatusOK {
		return ssp.AttrValue[transcode.Narrow]{}, status
	}
	return ssp.AttrValue[transcode.Narrow]{Name: narrow(name)}, ssp.StatusOK
}

// InitializeContext ignores the target: NTLM does not bind the service
// name into its messages.
func (t *table) InitializeContext(cred ssp.CredHandle, ctx *ssp.CtxtHandle, _ transcode.Narrow, req ssp.ContextFlags, input ssp.BufferSet) (ssp.ContextResult, ssp.Status) {
	return t.m.initialize(cred, ctx, req, input)
}

func (t *table) DeleteContext(ctx ssp.CtxtHandle) ssp.Status {
	return t.m.deleteContext(ctx)
}

func (t *table) QueryContextAttributes(ctx ssp.CtxtHandle, attr ssp.Attribute) (ssp.AttrValue[transcode.Narrow], ssp.Status) {
	return t.m.queryContext(ctx, attr)
}

func (t *table) FreeBuffer(buf []byte) ssp.Status {
	clear(buf)
	return ssp.StatusOK
}
