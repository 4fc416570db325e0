package loopback

import (
	"time"
	"unicode/utf8"

	"github.com/smnsjas/go-sspi/ssp"
	"github.com/smnsjas/go-sspi/transcode"
)

// table exposes a Module through one encoding. The module itself works on
// Go strings; dec and enc move between those and S.
type table[S ssp.Text] struct {
	ssp.UnsupportedTable[S]
	m   *Module
	dec func(S) (string, bool)
	enc func(string) S
}

func newNarrowTable(m *Module) ssp.NarrowTable {
	return &table[transcode.Narrow]{
		m: m,
		dec: func(n transcode.Narrow) (string, bool) {
			return string(n), utf8.Valid(n)
		},
		enc: func(s string) transcode.Narrow {
			if s == "" {
				return nil
			}
			return transcode.Narrow(s)
		},
	}
}

func newWideTable(m *Module) ssp.WideTable {
	return &table[transcode.Wide]{
		m: m,
		dec: func(w transcode.Wide) (string, bool) {
			return w.String(), true
		},
		enc: func(s string) transcode.Wide {
			if s == "" {
				return nil
			}
			return transcode.WideString(s)
		},
	}
}

func (t *table[S]) identity(id *ssp.AuthIdentity[S]) (*identity, bool) {
	if id == nil {
		return nil, true
	}
	user, ok1 := t.dec(id.User)
	domain, ok2 := t.dec(id.Domain)
	password, ok3 := t.dec(id.Password)
	return &identity{user: user, domain: domain, password: password}, ok1 && ok2 && ok3
}

func (t *table[S]) info() ssp.PackageInfo[S] {
	caps, version, rpcID, maxToken, comment := t.m.packageInfo()
	return ssp.PackageInfo[S]{
		Capabilities: caps,
		Version:      version,
		RPCID:        rpcID,
		MaxToken:     maxToken,
		Name:         t.enc(t.m.cfg.Name),
		Comment:      t.enc(comment),
	}
}

func (t *table[S]) QueryPackageInfo(pkg S) (ssp.PackageInfo[S], ssp.Status) {
	name, ok := t.dec(pkg)
	if !ok {
		return ssp.PackageInfo[S]{}, ssp.StatusInvalidParameter
	}
	if !t.m.matches(name) {
		return ssp.PackageInfo[S]{}, ssp.StatusSecpkgNotFound
	}
	return t.info(), ssp.StatusOK
}

func (t *table[S]) AcquireCredentials(principal, pkg S, use ssp.CredentialUse, id *ssp.AuthIdentity[S]) (ssp.CredHandle, time.Time, ssp.Status) {
	p, ok1 := t.dec(principal)
	name, ok2 := t.dec(pkg)
	ident, ok3 := t.identity(id)
	if !ok1 || !ok2 || !ok3 {
		return ssp.CredHandle{}, time.Time{}, ssp.StatusInvalidParameter
	}
	return t.m.acquire(p, name, use, ident)
}

func (t *table[S]) FreeCredentials(cred ssp.CredHandle) ssp.Status {
	return t.m.freeCredentials(cred)
}

func (t *table[S]) AddCredentials(cred ssp.CredHandle, principal, pkg S, use ssp.CredentialUse, id *ssp.AuthIdentity[S]) (time.Time, ssp.Status) {
	p, ok1 := t.dec(principal)
	name, ok2 := t.dec(pkg)
	ident, ok3 := t.identity(id)
	if !ok1 || !ok2 || !ok3 {
		return time.Time{}, ssp.StatusInvalidParameter
	}
	return t.m.addCredentials(cred, p, name, use, ident)
}

func (t *table[S]) QueryCredentialsAttributes(cred ssp.CredHandle, attr ssp.Attribute) (ssp.AttrValue[S], ssp.Status) {
	if attr != ssp.AttrNames {
		return ssp.AttrValue[S]{}, ssp.StatusUnsupported
	}
	name, status := t.m.credentialName(cred)
	if status != ssp.StatusOK {
		return ssp.AttrValue[S]{}, status
	}
	return ssp.AttrValue[S]{Name: t.enc(name)}, ssp.StatusOK
}

func (t *table[S]) SetCredentialsAttributes(cred ssp.CredHandle, attr ssp.Attribute, value ssp.AttrValue[S]) ssp.Status {
	if attr != ssp.AttrNames {
		return ssp.StatusUnsupported
	}
	name, ok := t.dec(value.Name)
	if !ok {
		return ssp.StatusInvalidParameter
	}
	return t.m.setCredentialName(cred, name)
}

func (t *table[S]) InitializeContext(cred ssp.CredHandle, ctx *ssp.CtxtHandle, target S, req ssp.ContextFlags, input ssp.BufferSet) (ssp.ContextResult, ssp.Status) {
	name, ok := t.dec(target)
	if !ok {
		return ssp.ContextResult{}, ssp.StatusInvalidParameter
	}
	return t.m.initialize(cred, ctx, name, req, input)
}

func (t *table[S]) AcceptContext(cred ssp.CredHandle, ctx *ssp.CtxtHandle, input ssp.BufferSet, req ssp.ContextFlags) (ssp.ContextResult, ssp.Status) {
	return t.m.accept(cred, ctx, input, req)
}

func (t *table[S]) CompleteAuthToken(ctx ssp.CtxtHandle, _ ssp.BufferSet) ssp.Status {
	return t.m.completeAuthToken(ctx)
}

func (t *table[S]) DeleteContext(ctx ssp.CtxtHandle) ssp.Status {
	return t.m.deleteContext(ctx)
}

func (t *table[S]) ExportContext(ctx ssp.CtxtHandle, flags uint32) ([]byte, []byte, ssp.Status) {
	return t.m.export(ctx, flags)
}

func (t *table[S]) ImportContext(pkg S, packed, _ []byte) (ssp.CtxtHandle, ssp.Status) {
	name, ok := t.dec(pkg)
	if !ok {
		return ssp.CtxtHandle{}, ssp.StatusInvalidParameter
	}
	return t.m.importContext(name, packed)
}

func (t *table[S]) QueryContextAttributes(ctx ssp.CtxtHandle, attr ssp.Attribute) (ssp.AttrValue[S], ssp.Status) {
	v, status := t.m.queryContext(ctx, attr)
	if status != ssp.StatusOK {
		return ssp.AttrValue[S]{}, status
	}
	out := ssp.AttrValue[S]{
		Sizes:            v.sizes,
		StreamSizes:      v.stream,
		Lifespan:         v.life,
		Name:             t.enc(v.name),
		Peer:             t.enc(v.peer),
		SessionKey:       v.key,
		Flags:            v.flags,
		NegotiationState: v.state,
	}
	if v.pkg {
		info := t.info()
		out.Package = &info
	}
	return out, ssp.StatusOK
}

func (t *table[S]) MakeSignature(ctx ssp.CtxtHandle, _ uint32, msg ssp.BufferSet, seq uint32) ssp.Status {
	return t.m.makeSignature(ctx, msg, seq)
}

func (t *table[S]) VerifySignature(ctx ssp.CtxtHandle, msg ssp.BufferSet, seq uint32) (uint32, ssp.Status) {
	return t.m.verifySignature(ctx, msg, seq)
}

func (t *table[S]) EncryptMessage(ctx ssp.CtxtHandle, _ uint32, msg ssp.BufferSet, seq uint32) ssp.Status {
	return t.m.encrypt(ctx, msg, seq)
}

func (t *table[S]) DecryptMessage(ctx ssp.CtxtHandle, msg ssp.BufferSet, seq uint32) (uint32, ssp.Status) {
	return t.m.decrypt(ctx, msg, seq)
}

func (t *table[S]) FreeBuffer(buf []byte) ssp.Status {
	return t.m.freeBuffer(buf)
}
