// Package ntlm provides an NTLM initiator package backed by
// github.com/Azure/go-ntlmssp.
//
// The package is client-only: it produces the NEGOTIATE message on the
// first round and answers the server's CHALLENGE with an NTLMv2
// AUTHENTICATE message on the second, which establishes the context.
// It exports a narrow table only; wide callers reach it through the
// registry's thunk.
//
// A context bound to a TLS channel carries a BufferChannelBindings input
// holding the server certificate (see ChannelBindings). The AUTHENTICATE
// message then includes MsvAvChannelBindings, computed by
// github.com/smnsjas/go-ntlm-cbt, for servers enforcing Extended
// Protection.
package ntlm

import (
	"crypto/x509"
	"sync"
	"time"

	"github.com/Azure/go-ntlmssp"
	ntlmcbt "github.com/smnsjas/go-ntlm-cbt"
	"github.com/smnsjas/go-sspi/ssp"
	"github.com/smnsjas/go-sspi/transcode"
)

const (
	// DefaultName is the package name the module answers to.
	DefaultName = "NTLM"

	// DefaultMaxToken is the largest token the package emits.
	DefaultMaxToken = 2888

	// rpcID is RPC_C_AUTHN_WINNT.
	rpcID = 10

	defaultLifetime = 10 * time.Hour
)

const supportedFlags = ssp.FlagConnection | ssp.FlagIntegrity | ssp.FlagConfidentiality |
	ssp.FlagReplayDetect | ssp.FlagSequenceDetect | ssp.FlagAllocateMemory

// Config configures the module. Zero fields take defaults.
type Config struct {
	// Name is the package name. Default: DefaultName.
	Name string

	// Workstation is sent in the NEGOTIATE message when set.
	Workstation string

	// MaxToken is reported in package info and sizes. Default: DefaultMaxToken.
	MaxToken uint32

	// Lifetime bounds credentials and contexts. Default: 10h.
	Lifetime time.Duration
}

type credential struct {
	user         string
	domain       string
	password     string
	domainNeeded bool
	expiry       time.Time
}

type phase int

const (
	phaseChallenge phase = iota + 1 // NEGOTIATE sent, waiting for CHALLENGE
	phaseDone
)

type secContext struct {
	cred   credential
	phase  phase
	flags  ssp.ContextFlags
	expiry time.Time

	// cbt is set once the caller supplies channel bindings.
	cbt *ntlmcbt.Negotiator
}

// ChannelBindings returns the input buffer binding a context to the TLS
// connection that presented cert, per the RFC 5929 tls-server-end-point
// method.
func ChannelBindings(cert *x509.Certificate) ssp.Buffer {
	return ssp.Buffer{Kind: ssp.BufferChannelBindings, Data: cert.Raw}
}

// channelBindings reads the bindings buffer from input. A set without one
// yields nil; a buffer that is not a certificate is a bad token.
func channelBindings(input ssp.BufferSet) (*ntlmcbt.Negotiator, ssp.Status) {
	i := input.Find(ssp.BufferChannelBindings)
	if i < 0 {
		return nil, ssp.StatusOK
	}
	cert, err := x509.ParseCertificate(input[i].Data)
	if err != nil {
		return nil, ssp.StatusInvalidToken
	}
	return &ntlmcbt.Negotiator{ChannelBindings: ntlmcbt.ComputeTLSServerEndpoint(cert)}, ssp.StatusOK
}

// Module is an NTLM provider module.
type Module struct {
	cfg Config
	now func() time.Time

	mu       sync.Mutex
	next     uintptr
	creds    map[uintptr]*credential
	contexts map[uintptr]*secContext
}

// New returns an NTLM module.
func New(cfg Config) *Module {
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.MaxToken == 0 {
		cfg.MaxToken = DefaultMaxToken
	}
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = defaultLifetime
	}
	return &Module{
		cfg:      cfg,
		now:      time.Now,
		creds:    make(map[uintptr]*credential),
		contexts: make(map[uintptr]*secContext),
	}
}

// Name returns the package name.
func (m *Module) Name() string { return m.cfg.Name }

// Tables implements ssp.Module.
func (m *Module) Tables() (ssp.NarrowTable, ssp.WideTable, error) {
	return &table{m: m}, nil, nil
}

// Live returns the number of live credentials and contexts.
func (m *Module) Live() (creds, contexts int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.creds), len(m.contexts)
}

func (m *Module) info() ssp.PackageInfo[transcode.Narrow] {
	return ssp.PackageInfo[transcode.Narrow]{
		Capabilities: m.capabilities(),
		Version:      1,
		RPCID:        rpcID,
		MaxToken:     m.cfg.MaxToken,
		Name:         transcode.Narrow(m.cfg.Name),
		Comment:      transcode.Narrow("NTLM Security Package"),
	}
}

func (m *Module) capabilities() ssp.Capability {
	return ssp.CapConnection | ssp.CapClientOnly | ssp.CapTokenOnly | ssp.CapAcceptWin32 | ssp.CapNegotiable
}

func (m *Module) allocLocked() uintptr {
	m.next++
	return m.next
}

// acquire parses the identity the way go-ntlmssp's negotiator does: a
// DOMAIN\user name carries its domain, a UPN does not need one.
func (m *Module) acquire(use ssp.CredentialUse, user, domain, password string, explicit bool) (ssp.CredHandle, time.Time, ssp.Status) {
	if use&ssp.CredentialInbound != 0 {
		return ssp.CredHandle{}, time.Time{}, ssp.StatusUnsupported
	}
	if use&ssp.CredentialOutbound == 0 {
		return ssp.CredHandle{}, time.Time{}, ssp.StatusInvalidParameter
	}
	if !explicit || (user == "" && password == "") {
		// There is no logon session to borrow credentials from.
		return ssp.CredHandle{}, time.Time{}, ssp.StatusNoCredentials
	}

	c := &credential{password: password, expiry: m.now().Add(m.cfg.Lifetime)}
	c.user, c.domain, c.domainNeeded = ntlmssp.GetDomain(user)
	if domain != "" {
		c.domain, c.domainNeeded = domain, true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.allocLocked()
	m.creds[h] = c
	return ssp.CredHandle{Lower: h}, c.expiry, ssp.StatusOK
}

func (m *Module) freeCredentials(h ssp.CredHandle) ssp.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[h.Lower]
	if !ok {
		return ssp.StatusInvalidHandle
	}
	c.password = ""
	delete(m.creds, h.Lower)
	return ssp.StatusOK
}

func (m *Module) credentialName(h ssp.CredHandle) (string, ssp.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[h.Lower]
	if !ok {
		return "", ssp.StatusInvalidHandle
	}
	return c.name(), ssp.StatusOK
}

// qualified is the user name in the form go-ntlmssp splits back apart.
func (c *credential) qualified() string {
	if !c.domainNeeded {
		return c.user
	}
	return c.name()
}

func (c *credential) name() string {
	if c.domain == "" {
		return c.user
	}
	return c.domain + `\` + c.user
}

func (m *Module) initialize(cred ssp.CredHandle, h *ssp.CtxtHandle, req ssp.ContextFlags, input ssp.BufferSet) (ssp.ContextResult, ssp.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.creds[cred.Lower]
	if !ok {
		return ssp.ContextResult{}, ssp.StatusInvalidHandle
	}

	cbt, status := channelBindings(input)
	if status != ssp.StatusOK {
		return ssp.ContextResult{}, status
	}

	if h == nil {
		var (
			msg []byte
			err error
		)
		if cbt != nil {
			msg, err = cbt.Negotiate(c.domain, m.cfg.Workstation)
		} else {
			msg, err = ntlmssp.NewNegotiateMessage(c.domain, m.cfg.Workstation)
		}
		if err != nil {
			return ssp.ContextResult{}, ssp.StatusInternalError
		}
		sc := &secContext{
			cred:   *c,
			phase:  phaseChallenge,
			flags:  req & supportedFlags,
			expiry: m.now().Add(m.cfg.Lifetime),
			cbt:    cbt,
		}
		id := m.allocLocked()
		m.contexts[id] = sc
		return sc.result(id, msg), ssp.StatusContinueNeeded
	}

	sc, ok := m.contexts[h.Lower]
	if !ok {
		return ssp.ContextResult{}, ssp.StatusInvalidHandle
	}
	if sc.phase != phaseChallenge {
		return ssp.ContextResult{}, ssp.StatusOutOfSequence
	}
	challenge := input.Token()
	if len(challenge) == 0 {
		return ssp.ContextResult{}, ssp.StatusInvalidToken
	}
	if cbt != nil {
		sc.cbt = cbt
	}
	var (
		auth []byte
		err  error
	)
	if sc.cbt != nil {
		auth, err = sc.cbt.ChallengeResponse(challenge, sc.cred.qualified(), sc.cred.password)
	} else {
		auth, err = ntlmssp.ProcessChallenge(challenge, sc.cred.user, sc.cred.password, sc.cred.domainNeeded)
	}
	if err != nil {
		return ssp.ContextResult{}, ssp.StatusInvalidToken
	}
	sc.phase = phaseDone
	sc.cred.password = ""
	sc.cbt = nil
	return sc.result(h.Lower, auth), ssp.StatusOK
}

func (sc *secContext) result(id uintptr, token []byte) ssp.ContextResult {
	return ssp.ContextResult{
		Handle: ssp.CtxtHandle{Lower: id},
		Output: ssp.BufferSet{{Kind: ssp.BufferToken, Data: token, Allocated: true}},
		Flags:  sc.flags,
		Expiry: sc.expiry,
	}
}

func (m *Module) deleteContext(h ssp.CtxtHandle) ssp.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.contexts[h.Lower]; !ok {
		return ssp.StatusInvalidHandle
	}
	delete(m.contexts, h.Lower)
	return ssp.StatusOK
}

func (m *Module) queryContext(h ssp.CtxtHandle, attr ssp.Attribute) (ssp.AttrValue[transcode.Narrow], ssp.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var v ssp.AttrValue[transcode.Narrow]
	sc, ok := m.contexts[h.Lower]
	if !ok {
		return v, ssp.StatusInvalidHandle
	}
	done := sc.phase == phaseDone
	if !done && !attr.AvailableBeforeEstablished() {
		return v, ssp.StatusInvalidHandle
	}

	switch attr {
	case ssp.AttrSizes:
		v.Sizes = ssp.Sizes{MaxToken: m.cfg.MaxToken}
	case ssp.AttrNames:
		v.Name = narrow(sc.cred.name())
	case ssp.AttrAuthority:
		v.Name = narrow(sc.cred.domain)
	case ssp.AttrLifespan:
		v.Lifespan = ssp.Lifespan{Start: sc.expiry.Add(-m.cfg.Lifetime), Expiry: sc.expiry}
	case ssp.AttrFlags:
		v.Flags = sc.flags
	case ssp.AttrPackageInfo:
		info := m.info()
		v.Package = &info
	case ssp.AttrNegotiationInfo:
		info := m.info()
		v.Package = &info
		v.NegotiationState = ssp.NegotiationInProgress
		if done {
			v.NegotiationState = ssp.NegotiationComplete
		}
	default:
		return ssp.AttrValue[transcode.Narrow]{}, ssp.StatusUnsupported
	}
	return v, ssp.StatusOK
}

func narrow(s string) transcode.Narrow {
	if s == "" {
		return nil
	}
	return transcode.Narrow(s)
}
