// Package loopback is a self-contained security package for exercising the
// negotiation engine without a domain controller. Both sides of a handshake
// run in-process: the initiator sends Rounds request tokens, the acceptor
// answers each and finishes with a mutual-authentication token.
//
// The package performs no real authentication. Tokens carry the target
// name and the client user in the clear and the session key is a hash of
// the two.
package loopback

import (
	"crypto/sha256"
	"strings"
	"sync"
	"time"

	"github.com/smnsjas/go-sspi/ssp"
)

// Native selects which dispatch tables the module exports.
type Native int

const (
	NativeBoth Native = iota
	NativeNarrow
	NativeWide
)

// DefaultName is the package name used when Config.Name is empty.
const DefaultName = "TESTPKG"

// Config shapes the behavior of a loopback module.
type Config struct {
	// Name is the package name. Default: TESTPKG.
	Name string

	// Rounds is the number of request tokens the initiator sends. Default: 2.
	Rounds int

	// OneShot makes a single-round package that establishes the initiator
	// immediately and sends no final token. Rounds is forced to 1.
	OneShot bool

	// CompleteNeeded makes the initiator's last request round report a
	// completion status, requiring CompleteAuthToken before continuing.
	CompleteNeeded bool

	// MaxToken is the advertised maximum token size. Default: 4096.
	MaxToken uint32

	// Native selects the exported tables. Default: both.
	Native Native

	// DenyUsers are refused by the acceptor on the final round.
	DenyUsers []string

	// Lifetime of established contexts. Default: 10h.
	Lifetime time.Duration
}

const supportedFlags = ssp.FlagMutualAuth | ssp.FlagIntegrity | ssp.FlagConfidentiality |
	ssp.FlagReplayDetect | ssp.FlagSequenceDetect | ssp.FlagConnection | ssp.FlagAllocateMemory

const signatureSize = 16

type credential struct {
	use       ssp.CredentialUse
	principal string
	user      string
	domain    string
}

type side int

const (
	sideInitiator side = iota + 1
	sideAcceptor
)

type secContext struct {
	side         side
	round        int
	target       string
	client       string
	flags        ssp.ContextFlags
	established  bool
	needComplete bool
	finalPending bool
	key          []byte
	expiry       time.Time
}

// Module is a loopback provider module. It is safe for concurrent use.
type Module struct {
	cfg Config
	now func() time.Time

	mu          sync.Mutex
	next        uintptr
	creds       map[uintptr]*credential
	contexts    map[uintptr]*secContext
	outstanding int
}

// New returns a module for cfg.
func New(cfg Config) *Module {
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.Rounds <= 0 || cfg.OneShot {
		if cfg.OneShot {
			cfg.Rounds = 1
		} else {
			cfg.Rounds = 2
		}
	}
	if cfg.MaxToken == 0 {
		cfg.MaxToken = 4096
	}
	if cfg.Lifetime == 0 {
		cfg.Lifetime = 10 * time.Hour
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
	switch m.cfg.Native {
	case NativeNarrow:
		return newNarrowTable(m), nil, nil
	case NativeWide:
		return nil, newWideTable(m), nil
	default:
		return newNarrowTable(m), newWideTable(m), nil
	}
}

// Outstanding returns the number of allocated output buffers not yet
// handed back through FreeBuffer.
func (m *Module) Outstanding() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outstanding
}

// Live returns the number of live credentials and contexts.
func (m *Module) Live() (creds, contexts int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.creds), len(m.contexts)
}

func (m *Module) capabilities() ssp.Capability {
	return ssp.CapIntegrity | ssp.CapPrivacy | ssp.CapConnection | ssp.CapMutualAuth |
		ssp.CapMultiRequired | ssp.CapAcceptWin32
}

func (m *Module) matches(pkg string) bool {
	return strings.EqualFold(pkg, m.cfg.Name)
}

func (m *Module) denied(user string) bool {
	for _, u := range m.cfg.DenyUsers {
		if strings.EqualFold(u, user) {
			return true
		}
	}
	return false
}

// handle ids start at 1 so the zero handle is never valid.
func (m *Module) allocLocked() uintptr {
	m.next++
	return m.next
}

func (m *Module) output(t token) ssp.BufferSet {
	m.outstanding++
	return ssp.BufferSet{{Kind: ssp.BufferToken, Data: t.marshal(), Allocated: true}}
}

func sessionKey(target, client string) []byte {
	sum := sha256.Sum256([]byte(target + "\x00" + client))
	return sum[:]
}

func (m *Module) acquire(principal, pkg string, use ssp.CredentialUse, id *identity) (ssp.CredHandle, time.Time, ssp.Status) {
	if !m.matches(pkg) {
		return ssp.CredHandle{}, time.Time{}, ssp.StatusSecpkgNotFound
	}
	if use&ssp.CredentialBoth == 0 {
		return ssp.CredHandle{}, time.Time{}, ssp.StatusInvalidParameter
	}
	c := &credential{use: use, principal: principal}
	if id != nil {
		c.user, c.domain = id.user, id.domain
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.allocLocked()
	m.creds[h] = c
	return ssp.CredHandle{Lower: h}, m.now().Add(m.cfg.Lifetime), ssp.StatusOK
}

func (m *Module) freeCredentials(h ssp.CredHandle) ssp.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.creds[h.Lower]; !ok {
		return ssp.StatusInvalidHandle
	}
	delete(m.creds, h.Lower)
	return ssp.StatusOK
}

func (m *Module) addCredentials(h ssp.CredHandle, principal, pkg string, use ssp.CredentialUse, id *identity) (time.Time, ssp.Status) {
	if !m.matches(pkg) {
		return time.Time{}, ssp.StatusSecpkgNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[h.Lower]
	if !ok {
		return time.Time{}, ssp.StatusInvalidHandle
	}
	c.use |= use
	if principal != "" {
		c.principal = principal
	}
	if id != nil {
		c.user, c.domain = id.user, id.domain
	}
	return m.now().Add(m.cfg.Lifetime), ssp.StatusOK
}

func (m *Module) credentialName(h ssp.CredHandle) (string, ssp.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[h.Lower]
	if !ok {
		return "", ssp.StatusInvalidHandle
	}
	return qualified(c.domain, c.user), ssp.StatusOK
}

func (m *Module) setCredentialName(h ssp.CredHandle, name string) ssp.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[h.Lower]
	if !ok {
		return ssp.StatusInvalidHandle
	}
	c.domain, c.user = split(name)
	return ssp.StatusOK
}

func qualified(domain, user string) string {
	if domain == "" {
		return user
	}
	return domain + `\` + user
}

func split(name string) (domain, user string) {
	if i := strings.IndexByte(name, '\\'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}

type identity struct {
	user     string
	domain   string
	password string
}
