// Package kerberos provides a Kerberos package over SPNEGO backed by the
// pure Go github.com/go-krb5/krb5 library.
//
// The initiator obtains a service ticket for the target SPN and emits a
// single SPNEGO NegTokenInit; the context is established after one round.
// Mutual authentication is not negotiated. The acceptor validates the
// initiator's token against a service keytab.
//
// The package speaks UTF-16 natively; narrow callers reach it through the
// registry's thunk.
package kerberos

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-krb5/krb5/client"
	"github.com/go-krb5/krb5/config"
	"github.com/go-krb5/krb5/credentials"
	"github.com/go-krb5/krb5/keytab"
	"github.com/go-krb5/krb5/spnego"
	"github.com/smnsjas/go-sspi/ssp"
)

const (
	// DefaultName is the package name the module answers to.
	DefaultName = "Kerberos"

	// DefaultMaxToken is the largest token the package emits.
	DefaultMaxToken = 48000

	// DefaultKrb5Conf is used when neither Config nor KRB5_CONFIG names a
	// krb5.conf.
	DefaultKrb5Conf = "/etc/krb5.conf"

	// rpcID is RPC_C_AUTHN_GSS_KERBEROS.
	rpcID = 16

	defaultLifetime = 10 * time.Hour
)

const supportedFlags = ssp.FlagConnection | ssp.FlagIntegrity | ssp.FlagConfidentiality |
	ssp.FlagDelegate | ssp.FlagAllocateMemory

// Config configures the module.
type Config struct {
	// Name is the package name. Default: DefaultName.
	Name string

	// Realm is used for password and keytab logons when the identity has
	// no domain.
	Realm string

	// Krb5ConfPath is the krb5.conf to load. Default: $KRB5_CONFIG, then
	// DefaultKrb5Conf.
	Krb5ConfPath string

	// Krb5Conf is krb5.conf content. It takes precedence over Krb5ConfPath.
	Krb5Conf string

	// KeytabPath logs the initiator on from a keytab instead of a password.
	KeytabPath string

	// CCachePath logs the initiator on from a credential cache when no
	// identity is supplied.
	CCachePath string

	// ServiceKeytab holds the acceptor's service keys.
	ServiceKeytab string

	// MaxToken is reported in package info and sizes. Default: DefaultMaxToken.
	MaxToken uint32

	// Lifetime bounds credentials and contexts. Default: 10h.
	Lifetime time.Duration
}

type credential struct {
	use       ssp.CredentialUse
	principal string
	client    *client.Client
	keytab    *keytab.Keytab
	expiry    time.Time
}

type secContext struct {
	target string
	client string
	flags  ssp.ContextFlags
	expiry time.Time
}

// Module is a Kerberos provider module.
type Module struct {
	cfg Config
	now func() time.Time

	confOnce sync.Once
	conf     *config.Config
	confErr  error

	mu       sync.Mutex
	next     uintptr
	creds    map[uintptr]*credential
	contexts map[uintptr]*secContext
}

// New returns a Kerberos module. krb5.conf is loaded on first use.
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
	return nil, &table{m: m}, nil
}

// Live returns the number of live credentials and contexts.
func (m *Module) Live() (creds, contexts int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.creds), len(m.contexts)
}

func (m *Module) capabilities() ssp.Capability {
	return ssp.CapIntegrity | ssp.CapPrivacy | ssp.CapConnection | ssp.CapTokenOnly |
		ssp.CapDatagram | ssp.CapAcceptWin32 | ssp.CapNegotiable | ssp.CapGSSCompatible |
		ssp.CapLogon | ssp.CapImpersonation
}

func (m *Module) krb5conf() (*config.Config, error) {
	m.confOnce.Do(func() {
		if m.cfg.Krb5Conf != "" {
			m.conf, m.confErr = config.NewFromString(m.cfg.Krb5Conf)
			if m.confErr != nil {
				m.confErr = fmt.Errorf("parse krb5.conf: %w", m.confErr)
			}
			return
		}
		path := m.cfg.Krb5ConfPath
		if path == "" {
			path = os.Getenv("KRB5_CONFIG")
			if path == "" {
				path = DefaultKrb5Conf
			}
		}
		m.conf, m.confErr = config.Load(path)
		if m.confErr != nil {
			m.confErr = fmt.Errorf("load krb5.conf from %s: %w", path, m.confErr)
		}
	})
	return m.conf, m.confErr
}

func (m *Module) allocLocked() uintptr {
	m.next++
	return m.next
}

// identity is a decoded AuthIdentity.
type identity struct {
	user     string
	domain   string
	password string
}

var errNoCredentials = errors.New("no credentials provided (keytab, ccache, or password required)")

// newClient picks the logon source: a keytab or password for an explicit
// identity, otherwise the credential cache.
func (m *Module) newClient(id *identity) (*client.Client, error) {
	conf, err := m.krb5conf()
	if err != nil {
		return nil, err
	}
	opts := []func(*client.Settings){client.DisablePAFXFAST(true)}

	realm := m.cfg.Realm
	if id != nil && id.domain != "" {
		realm = id.domain
	}
	switch {
	case m.cfg.KeytabPath != "" && id != nil:
		kt, err := keytab.Load(m.cfg.KeytabPath)
		if err != nil {
			return nil, fmt.Errorf("load keytab from %s: %w", m.cfg.KeytabPath, err)
		}
		return client.NewWithKeytab(id.user, realm, kt, conf, opts...), nil
	case id != nil && id.password != "":
		return client.NewWithPassword(id.user, realm, id.password, conf, opts...), nil
	case m.cfg.CCachePath != "":
		cc, err := credentials.LoadCCache(m.cfg.CCachePath)
		if err != nil {
			return nil, fmt.Errorf("load ccache from %s: %w", m.cfg.CCachePath, err)
		}
		cl, err := client.NewFromCCache(cc, conf, opts...)
		if err != nil {
			return nil, fmt.Errorf("create client from ccache: %w", err)
		}
		return cl, nil
	default:
		return nil, errNoCredentials
	}
}

func (m *Module) acquire(principal string, use ssp.CredentialUse, id *identity) (ssp.CredHandle, time.Time, ssp.Status) {
	if use&ssp.CredentialBoth == 0 {
		return ssp.CredHandle{}, time.Time{}, ssp.StatusInvalidParameter
	}
	c := &credential{use: use, principal: principal, expiry: m.now().Add(m.cfg.Lifetime)}
	if use&ssp.CredentialOutbound != 0 {
		cl, err := m.newClient(id)
		if err != nil {
			return ssp.CredHandle{}, time.Time{}, ssp.StatusNoCredentials
		}
		c.client = cl
	}
	if use&ssp.CredentialInbound != 0 {
		if m.cfg.ServiceKeytab == "" {
			c.release()
			return ssp.CredHandle{}, time.Time{}, ssp.StatusNoCredentials
		}
		kt, err := keytab.Load(m.cfg.ServiceKeytab)
		if err != nil {
			c.release()
			return ssp.CredHandle{}, time.Time{}, ssp.StatusNoCredentials
		}
		c.keytab = kt
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.allocLocked()
	m.creds[h] = c
	return ssp.CredHandle{Lower: h}, c.expiry, ssp.StatusOK
}

func (c *credential) release() {
	if c.client != nil {
		c.client.Destroy()
		c.client = nil
	}
}

func (c *credential) name() string {
	if c.client == nil || c.client.Credentials == nil {
		return c.principal
	}
	return c.client.Credentials.UserName() + "@" + c.client.Credentials.Domain()
}

func (m *Module) credential(h ssp.CredHandle) (*credential, ssp.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[h.Lower]
	if !ok {
		return nil, ssp.StatusInvalidHandle
	}
	return c, ssp.StatusOK
}

func (m *Module) freeCredentials(h ssp.CredHandle) ssp.Status {
	m.mu.Lock()
	c, ok := m.creds[h.Lower]
	delete(m.creds, h.Lower)
	m.mu.Unlock()
	if !ok {
		return ssp.StatusInvalidHandle
	}
	c.release()
	return ssp.StatusOK
}

// initialize runs the single initiator round. The ticket request happens
// outside the module lock.
func (m *Module) initialize(cred ssp.CredHandle, h *ssp.CtxtHandle, target string, req ssp.ContextFlags) (ssp.ContextResult, ssp.Status) {
	c, status := m.credential(cred)
	if status != ssp.StatusOK {
		return ssp.ContextResult{}, status
	}
	if h != nil {
		if _, status := m.lookup(*h); status != ssp.StatusOK {
			return ssp.ContextResult{}, status
		}
		return ssp.ContextResult{}, ssp.StatusOutOfSequence
	}
	if c.client == nil {
		return ssp.ContextResult{}, ssp.StatusNoCredentials
	}
	if target == "" {
		return ssp.ContextResult{}, ssp.StatusTargetUnknown
	}

	if err := c.client.Login(); err != nil {
		return ssp.ContextResult{}, ssp.StatusNoCredentials
	}
	tkn, err := spnego.SPNEGOClient(c.client, target).InitSecContext()
	if err != nil {
		return ssp.ContextResult{}, ssp.StatusTargetUnknown
	}
	token, err := tkn.Marshal()
	if err != nil {
		return ssp.ContextResult{}, ssp.StatusInternalError
	}

	sc := &secContext{
		target: target,
		client: c.name(),
		flags:  req & supportedFlags,
		expiry: m.now().Add(m.cfg.Lifetime),
	}
	m.mu.Lock()
	id := m.allocLocked()
	m.contexts[id] = sc
	m.mu.Unlock()

	return ssp.ContextResult{
		Handle: ssp.CtxtHandle{Lower: id},
		Output: ssp.BufferSet{{Kind: ssp.BufferToken, Data: token, Allocated: true}},
		Flags:  sc.flags,
		Expiry: sc.expiry,
	}, ssp.StatusOK
}

func (m *Module) accept(cred ssp.CredHandle, h *ssp.CtxtHandle, input ssp.BufferSet, req ssp.ContextFlags) (ssp.ContextResult, ssp.Status) {
	c, status := m.credential(cred)
	if status != ssp.StatusOK {
		return ssp.ContextResult{}, status
	}
	if h != nil {
		return ssp.ContextResult{}, ssp.StatusOutOfSequence
	}
	if c.keytab == nil {
		return ssp.ContextResult{}, ssp.StatusNoCredentials
	}
	raw := input.Token()
	if len(raw) == 0 {
		return ssp.ContextResult{}, ssp.StatusInvalidToken
	}

	var tkn spnego.SPNEGOToken
	if err := tkn.Unmarshal(raw); err != nil {
		return ssp.ContextResult{}, ssp.StatusInvalidToken
	}
	ok, _, _ := spnego.SPNEGOService(c.keytab).AcceptSecContext(&tkn)
	if !ok {
		return ssp.ContextResult{}, ssp.StatusLogonDenied
	}

	sc := &secContext{
		target: c.principal,
		flags:  req & supportedFlags,
		expiry: m.now().Add(m.cfg.Lifetime),
	}
	m.mu.Lock()
	id := m.allocLocked()
	m.contexts[id] = sc
	m.mu.Unlock()
	return ssp.ContextResult{Handle: ssp.CtxtHandle{Lower: id}, Flags: sc.flags, Expiry: sc.expiry}, ssp.StatusOK
}

func (m *Module) lookup(h ssp.CtxtHandle) (*secContext, ssp.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.contexts[h.Lower]
	if !ok {
		return nil, ssp.StatusInvalidHandle
	}
	return sc, ssp.StatusOK
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
