package negotiate

import (
	"sync/atomic"
	"time"

	"github.com/smnsjas/go-sspi/registry"
	"github.com/smnsjas/go-sspi/ssp"
)

// State is the negotiation state of a context.
type State int

const (
	StateFresh State = iota
	StatePending
	StateEstablished
	StateFailed
	StateDeleted
)

func (s State) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StatePending:
		return "pending"
	case StateEstablished:
		return "established"
	case StateFailed:
		return "failed"
	case StateDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Side is the role a context plays in the exchange.
type Side int

const (
	SideInitiator Side = iota + 1
	SideAcceptor
)

func (s Side) String() string {
	switch s {
	case SideInitiator:
		return "initiator"
	case SideAcceptor:
		return "acceptor"
	default:
		return "imported"
	}
}

func (s Side) usage() ssp.CredentialUse {
	if s == SideAcceptor {
		return ssp.CredentialInbound
	}
	return ssp.CredentialOutbound
}

type credential struct {
	pkg      string
	provider *registry.Provider
	native   ssp.CredHandle
	expiry   time.Time

	// use grows through AddCredentials.
	use atomic.Uint32

	// contexts counts live contexts and rounds in flight that will
	// become one. credClosed marks a freed credential.
	contexts atomic.Int64
}

const credClosed = -1

func (c *credential) allows(u ssp.CredentialUse) bool {
	return ssp.CredentialUse(c.use.Load()).Allows(u)
}

// ref takes a context reference. It fails once the credential is closed.
func (c *credential) ref() bool {
	for {
		n := c.contexts.Load()
		if n < 0 {
			return false
		}
		if c.contexts.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (c *credential) unref() { c.contexts.Add(-1) }

// close marks the credential freed if nothing references it.
func (c *credential) close() bool { return c.contexts.CompareAndSwap(0, credClosed) }

// secContext is the engine's record of one negotiation. The fields after
// state are only touched by the goroutine holding busy.
type secContext struct {
	pkg      string
	provider *registry.Provider
	side     Side
	events   *SecurityLogger

	cred       CredentialHandle
	credential *credential

	busy  atomic.Bool
	state atomic.Int32

	native     ssp.CtxtHandle
	hasNative  bool
	completion ssp.Status
	flags      ssp.ContextFlags
	expiry     time.Time
	rounds     int
}

func (c *secContext) current() State   { return State(c.state.Load()) }
func (c *secContext) setState(s State) { c.state.Store(int32(s)) }

func (c *secContext) acquire() bool { return c.busy.CompareAndSwap(false, true) }
func (c *secContext) release()      { c.busy.Store(false) }

// apply moves the context along for a successful or continuing round.
func (c *secContext) apply(status ssp.Status, res ssp.ContextResult) {
	if !c.hasNative {
		c.native = res.Handle
		c.hasNative = true
	}
	c.flags = res.Flags
	if !res.Expiry.IsZero() {
		c.expiry = res.Expiry
	}
	c.rounds++
	switch status {
	case ssp.StatusOK:
		c.setState(StateEstablished)
	case ssp.StatusCompleteNeeded, ssp.StatusCompleteAndContinue:
		c.setState(StatePending)
		c.completion = status
	default:
		c.setState(StatePending)
	}
}
