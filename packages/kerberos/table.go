package kerberos

import (
	"strings"
	"time"

	"github.com/smnsjas/go-sspi/ssp"
	"github.com/smnsjas/go-sspi/transcode"
)

// table is the wide dispatch table.
type table struct {
	ssp.UnsupportedTable[transcode.Wide]
	m *Module
}

func text(w transcode.Wide) (string, bool) {
	s, err := transcode.DecodeWide(w)
	return s, err == nil
}

func wide(s string) transcode.Wide {
	if s == "" {
		return nil
	}
	return transcode.WideString(s)
}

func (t *table) info() ssp.PackageInfo[transcode.Wide] {
	return ssp.PackageInfo[transcode.Wide]{
		Capabilities: t.m.capabilities(),
		Version:      1,
		RPCID:        rpcID,
		MaxToken:     t.m.cfg.MaxToken,
		Name:         wide(t.m.cfg.Name),
		Comment:      wide("Kerberos Security Package"),
	}
}

func (t *table) known(pkg transcode.Wide) ssp.Status {
	name, ok := text(pkg)
	switch {
	case !ok:
		return ssp.StatusInvalidParameter
	case !strings.EqualFold(name, t.m.cfg.Name):
		return ssp.StatusSecpkgNotFound
	}
	return ssp.StatusOK
}

func (t *table) QueryPackageInfo(pkg transcode.Wide) (ssp.PackageInfo[transcode.Wide], ssp.Status) {
	if status := t.known(pkg); status != ssp.StatusOK {
		return ssp.PackageInfo[transcode.Wide]{}, status
	}
	return t.info(), ssp.StatusOK
}

func (t *table) AcquireCredentials(principal, pkg transcode.Wide, use ssp.CredentialUse, id *ssp.AuthIdentity[transcode.Wide]) (ssp.CredHandle, time.Time, ssp.Status) {
	if status := t.known(pkg); status != ssp.StatusOK {
		return ssp.CredHandle{}, time.Time{}, status
	}
	p, ok := text(principal)
	if !ok {
		return ssp.CredHandle{}, time.Time{}, ssp.StatusInvalidParameter
	}
	var decoded *identity
	if id != nil {
		user, ok1 := text(id.User)
		domain, ok2 := text(id.Domain)
		password, ok3 := text(id.Password)
		if !ok1 || !ok2 || !ok3 {
			return ssp.CredHandle{}, time.Time{}, ssp.StatusInvalidParameter
		}
		decoded = &identity{user: user, domain: domain, password: password}
	}
	return t.m.acquire(p, use, decoded)
}

func (t *table) FreeCredentials(cred ssp.CredHandle) ssp.Status {
	return t.m.freeCredentials(cred)
}

func (t *table) QueryCredentialsAttributes(cred ssp.CredHandle, attr ssp.Attribute) (ssp.AttrValue[transcode.Wide], ssp.Status) {
	if attr != ssp.AttrNames {
		return ssp.AttrValue[transcode.Wide]{}, ssp.StatusUnsupported
	}
	c, status := t.m.credential(cred)
	if status != ssp.StatusOK {
		return ssp.AttrValue[transcode.Wide]{}, status
	}
	return ssp.AttrValue[transcode.Wide]{Name: wide(c.name())}, ssp.StatusOK
}

func (t *table) InitializeContext(cred ssp.CredHandle, ctx *ssp.CtxtHandle, target transcode.Wide, req ssp.ContextFlags, _ ssp.BufferSet) (ssp.ContextResult, ssp.Status) {
	spn, ok := text(target)
	if !ok {
		return ssp.ContextResult{}, ssp.StatusInvalidParameter
	}
	return t.m.initialize(cred, ctx, spn, req)
}

func (t *table) AcceptContext(cred ssp.CredHandle, ctx *ssp.CtxtHandle, input ssp.BufferSet, req ssp.ContextFlags) (ssp.ContextResult, ssp.Status) {
	return t.m.accept(cred, ctx, input, req)
}

func (t *table) DeleteContext(ctx ssp.CtxtHandle) ssp.Status {
	return t.m.deleteContext(ctx)
}

func (t *table) QueryContextAttributes(ctx ssp.CtxtHandle, attr ssp.Attribute) (ssp.AttrValue[transcode.Wide], ssp.Status) {
	var v ssp.AttrValue[transcode.Wide]
	sc, status := t.m.lookup(ctx)
	if status != ssp.StatusOK {
		return v, status
	}
	switch attr {
	case ssp.AttrSizes:
		v.Sizes = ssp.Sizes{MaxToken: t.m.cfg.MaxToken}
	case ssp.AttrNames:
		v.Name = wide(sc.client)
	case ssp.AttrNativeNames:
		v.Name, v.Peer = wide(sc.client), wide(sc.target)
	case ssp.AttrLifespan:
		v.Lifespan = ssp.Lifespan{Start: sc.expiry.Add(-t.m.cfg.Lifetime), Expiry: sc.expiry}
	case ssp.AttrFlags:
		v.Flags = sc.flags
	case ssp.AttrPackageInfo:
		info := t.info()
		v.Package = &info
	case ssp.AttrNegotiationInfo:
		info := t.info()
		v.Package = &info
		v.NegotiationState = ssp.NegotiationComplete
	default:
		return v, ssp.StatusUnsupported
	}
	return v, ssp.StatusOK
}

func (t *table) FreeBuffer(buf []byte) ssp.Status {
	clear(buf)
	return ssp.StatusOK
}
