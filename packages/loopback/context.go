package loopback

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/smnsjas/go-sspi/ssp"
)

func tokenStatus(err error) ssp.Status {
	if errors.Is(err, errIncomplete) {
		return ssp.StatusIncompleteMessage
	}
	return ssp.StatusInvalidToken
}

func (m *Module) initialize(cred ssp.CredHandle, h *ssp.CtxtHandle, target string, req ssp.ContextFlags, input ssp.BufferSet) (ssp.ContextResult, ssp.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.creds[cred.Lower]
	if !ok {
		return ssp.ContextResult{}, ssp.StatusInvalidHandle
	}
	if !c.use.Allows(ssp.CredentialOutbound) {
		return ssp.ContextResult{}, ssp.StatusNoCredentials
	}

	if h == nil {
		if target == "" {
			return ssp.ContextResult{}, ssp.StatusTargetUnknown
		}
		client := qualified(c.domain, c.user)
		sc := &secContext{
			side:   sideInitiator,
			round:  1,
			target: target,
			client: client,
			flags:  req & supportedFlags,
			key:    sessionKey(target, client),
			expiry: m.now().Add(m.cfg.Lifetime),
		}
		out := m.output(token{
			kind:    kindRequest,
			round:   1,
			flags:   uint32(sc.flags),
			payload: []byte(target + "\n" + client),
		})
		id := m.allocLocked()
		m.contexts[id] = sc
		return m.initiatorResult(id, sc, out), m.initiatorStatus(sc)
	}

	sc, ok := m.contexts[h.Lower]
	if !ok || sc.side != sideInitiator {
		return ssp.ContextResult{}, ssp.StatusInvalidHandle
	}
	if sc.needComplete {
		return ssp.ContextResult{}, ssp.StatusOutOfSequence
	}
	if sc.established {
		return ssp.ContextResult{}, ssp.StatusOutOfSequence
	}

	t, err := parseToken(input.Token())
	if err != nil {
		return ssp.ContextResult{}, tokenStatus(err)
	}
	if int(t.round) != sc.round {
		return ssp.ContextResult{}, ssp.StatusOutOfSequence
	}

	switch {
	case t.kind == kindReply && sc.round < m.cfg.Rounds:
		sc.round++
		out := m.output(token{kind: kindRequest, round: byte(sc.round), flags: uint32(sc.flags)})
		return m.initiatorResult(h.Lower, sc, out), m.initiatorStatus(sc)
	case t.kind == kindFinal && sc.round == m.cfg.Rounds:
		if !bytes.Equal(t.payload, proof(sc.key)) {
			return ssp.ContextResult{}, ssp.StatusMessageAltered
		}
		sc.established = true
		sc.flags = ssp.ContextFlags(t.flags) & sc.flags
		return m.initiatorResult(h.Lower, sc, nil), ssp.StatusOK
	default:
		return ssp.ContextResult{}, ssp.StatusInvalidToken
	}
}

// initiatorStatus reports the status of the request just sent and records
// any completion requirement. The caller holds m.mu.
func (m *Module) initiatorStatus(sc *secContext) ssp.Status {
	last := sc.round == m.cfg.Rounds
	if m.cfg.OneShot {
		sc.established = true
		if m.cfg.CompleteNeeded {
			sc.needComplete = true
			return ssp.StatusCompleteNeeded
		}
		return ssp.StatusOK
	}
	if last && m.cfg.CompleteNeeded {
		sc.needComplete = true
		return ssp.StatusCompleteAndContinue
	}
	return ssp.StatusContinueNeeded
}

func (m *Module) initiatorResult(id uintptr, sc *secContext, out ssp.BufferSet) ssp.ContextResult {
	return ssp.ContextResult{
		Handle: ssp.CtxtHandle{Lower: id},
		Output: out,
		Flags:  sc.flags,
		Expiry: sc.expiry,
	}
}

func (m *Module) accept(cred ssp.CredHandle, h *ssp.CtxtHandle, input ssp.BufferSet, req ssp.ContextFlags) (ssp.ContextResult, ssp.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.creds[cred.Lower]
	if !ok {
		return ssp.ContextResult{}, ssp.StatusInvalidHandle
	}
	if !c.use.Allows(ssp.CredentialInbound) {
		return ssp.ContextResult{}, ssp.StatusNoCredentials
	}

	raw := input.Token()
	if len(raw) == 0 {
		return ssp.ContextResult{}, ssp.StatusInvalidToken
	}
	t, err := parseToken(raw)
	if err != nil {
		return ssp.ContextResult{}, tokenStatus(err)
	}
	if t.kind != kindRequest {
		return ssp.ContextResult{}, ssp.StatusInvalidToken
	}

	var (
		id uintptr
		sc *secContext
	)
	if h == nil {
		if t.round != 1 {
			return ssp.ContextResult{}, ssp.StatusOutOfSequence
		}
		target, client, found := strings.Cut(string(t.payload), "\n")
		if !found || target == "" {
			return ssp.ContextResult{}, ssp.StatusInvalidToken
		}
		if c.principal != "" && !strings.EqualFold(c.principal, target) {
			return ssp.ContextResult{}, ssp.StatusTargetUnknown
		}
		sc = &secContext{
			side:   sideAcceptor,
			target: target,
			client: client,
			flags:  ssp.ContextFlags(t.flags) & supportedFlags,
			key:    sessionKey(target, client),
			expiry: m.now().Add(m.cfg.Lifetime),
		}
	} else {
		id = h.Lower
		sc, ok = m.contexts[id]
		if !ok || sc.side != sideAcceptor {
			return ssp.ContextResult{}, ssp.StatusInvalidHandle
		}
		if sc.established || int(t.round) != sc.round+1 {
			return ssp.ContextResult{}, ssp.StatusOutOfSequence
		}
	}

	final := int(t.round) == m.cfg.Rounds
	if final && m.denied(sc.client) {
		return ssp.ContextResult{}, ssp.StatusLogonDenied
	}
	sc.round = int(t.round)
	if req != 0 {
		sc.flags &= req | ssp.FlagAllocateMemory
	}
	if id == 0 {
		id = m.allocLocked()
		m.contexts[id] = sc
	}

	res := ssp.ContextResult{Handle: ssp.CtxtHandle{Lower: id}, Flags: sc.flags, Expiry: sc.expiry}
	if !final {
		res.Output = m.output(token{kind: kindReply, round: t.round, flags: uint32(sc.flags)})
		return res, ssp.StatusContinueNeeded
	}
	sc.established = true
	if !m.cfg.OneShot {
		res.Output = m.output(token{kind: kindFinal, round: t.round, flags: uint32(sc.flags), payload: proof(sc.key)})
	}
	return res, ssp.StatusOK
}

// proof is the mutual-authentication payload of the final token.
func proof(key []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte("acceptor"))
	return mac.Sum(nil)[:8]
}

func (m *Module) completeAuthToken(h ssp.CtxtHandle) ssp.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.contexts[h.Lower]
	if !ok {
		return ssp.StatusInvalidHandle
	}
	sc.needComplete = false
	return ssp.StatusOK
}

func (m *Module) deleteContext(h ssp.CtxtHandle) ssp.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.contexts[h.Lower]
	if !ok {
		return ssp.StatusInvalidHandle
	}
	clear(sc.key)
	delete(m.contexts, h.Lower)
	return ssp.StatusOK
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

// attrValue is a context attribute before its strings are encoded for a
// particular table.
type attrValue struct {
	sizes  ssp.Sizes
	stream ssp.StreamSizes
	life   ssp.Lifespan
	name   string
	peer   string
	key    []byte
	flags  ssp.ContextFlags
	state  uint32
	pkg    bool
}

func (m *Module) queryContext(h ssp.CtxtHandle, attr ssp.Attribute) (attrValue, ssp.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.contexts[h.Lower]
	if !ok {
		return attrValue{}, ssp.StatusInvalidHandle
	}
	if !sc.established && !attr.AvailableBeforeEstablished() {
		return attrValue{}, ssp.StatusInvalidHandle
	}

	var out attrValue
	switch attr {
	case ssp.AttrSizes:
		out.sizes = ssp.Sizes{
			MaxToken:        m.cfg.MaxToken,
			MaxSignature:    signatureSize,
			SecurityTrailer: signatureSize,
		}
	case ssp.AttrStreamSizes:
		out.stream = ssp.StreamSizes{
			Trailer:        signatureSize,
			MaximumMessage: maxPayload,
			Buffers:        2,
			BlockSize:      1,
		}
	case ssp.AttrLifespan:
		out.life = ssp.Lifespan{Start: sc.expiry.Add(-m.cfg.Lifetime), Expiry: sc.expiry}
	case ssp.AttrNames:
		out.name = sc.client
	case ssp.AttrNativeNames:
		out.name, out.peer = sc.client, sc.target
	case ssp.AttrAuthority:
		out.name = "LOOPBACK"
	case ssp.AttrSessionKey:
		out.key = bytes.Clone(sc.key)
	case ssp.AttrFlags:
		out.flags = sc.flags
	case ssp.AttrPackageInfo:
		out.pkg = true
	case ssp.AttrNegotiationInfo:
		out.pkg = true
		out.state = ssp.NegotiationInProgress
		if sc.established {
			out.state = ssp.NegotiationComplete
		}
	default:
		return attrValue{}, ssp.StatusUnsupported
	}
	return out, ssp.StatusOK
}

// signature is HMAC-SHA256 over the sequence number and every data buffer,
// truncated to signatureSize.
func signature(key []byte, seq uint32, msg ssp.BufferSet) []byte {
	mac := hmac.New(sha256.New, key)
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], seq)
	mac.Write(b[:])
	for _, buf := range msg {
		if buf.Kind == ssp.BufferData {
			mac.Write(buf.Data)
		}
	}
	return mac.Sum(nil)[:signatureSize]
}

func (m *Module) established(h ssp.CtxtHandle) (*secContext, ssp.Status) {
	sc, status := m.lookup(h)
	if status != ssp.StatusOK {
		return nil, status
	}
	if !sc.established {
		return nil, ssp.StatusInvalidHandle
	}
	return sc, ssp.StatusOK
}

func signatureBuffer(msg ssp.BufferSet) (int, ssp.Status) {
	i := msg.Find(ssp.BufferToken)
	if i < 0 {
		return -1, ssp.StatusInvalidToken
	}
	if len(msg[i].Data) < signatureSize {
		return -1, ssp.StatusBufferTooSmall
	}
	return i, ssp.StatusOK
}

func (m *Module) makeSignature(h ssp.CtxtHandle, msg ssp.BufferSet, seq uint32) ssp.Status {
	sc, status := m.established(h)
	if status != ssp.StatusOK {
		return status
	}
	i, status := signatureBuffer(msg)
	if status != ssp.StatusOK {
		return status
	}
	copy(msg[i].Data, signature(sc.key, seq, msg))
	msg[i].Data = msg[i].Data[:signatureSize]
	return ssp.StatusOK
}

func (m *Module) verifySignature(h ssp.CtxtHandle, msg ssp.BufferSet, seq uint32) (uint32, ssp.Status) {
	sc, status := m.established(h)
	if status != ssp.StatusOK {
		return 0, status
	}
	i, status := signatureBuffer(msg)
	if status != ssp.StatusOK {
		return 0, status
	}
	if !hmac.Equal(msg[i].Data[:signatureSize], signature(sc.key, seq, msg)) {
		return 0, ssp.StatusMessageAltered
	}
	return 0, ssp.StatusOK
}

// keystream XORs every data buffer with SHA-256 blocks derived from the
// session key and sequence number.
func keystream(key []byte, seq uint32, msg ssp.BufferSet) {
	var (
		block   []byte
		counter uint32
		pos     int
	)
	next := func() {
		var b [8]byte
		binary.LittleEndian.PutUint32(b[:4], seq)
		binary.LittleEndian.PutUint32(b[4:], counter)
		counter++
		sum := sha256.Sum256(append(bytes.Clone(key), b[:]...))
		block, pos = sum[:], 0
	}
	for _, buf := range msg {
		if buf.Kind != ssp.BufferData {
			continue
		}
		for j := range buf.Data {
			if block == nil || pos == len(block) {
				next()
			}
			buf.Data[j] ^= block[pos]
			pos++
		}
	}
}

func (m *Module) encrypt(h ssp.CtxtHandle, msg ssp.BufferSet, seq uint32) ssp.Status {
	sc, status := m.established(h)
	if status != ssp.StatusOK {
		return status
	}
	i, status := signatureBuffer(msg)
	if status != ssp.StatusOK {
		return status
	}
	keystream(sc.key, seq, msg)
	copy(msg[i].Data, signature(sc.key, seq, msg))
	msg[i].Data = msg[i].Data[:signatureSize]
	return ssp.StatusOK
}

func (m *Module) decrypt(h ssp.CtxtHandle, msg ssp.BufferSet, seq uint32) (uint32, ssp.Status) {
	sc, status := m.established(h)
	if status != ssp.StatusOK {
		return 0, status
	}
	i, status := signatureBuffer(msg)
	if status != ssp.StatusOK {
		return 0, status
	}
	if !hmac.Equal(msg[i].Data[:signatureSize], signature(sc.key, seq, msg)) {
		return 0, ssp.StatusMessageAltered
	}
	keystream(sc.key, seq, msg)
	return 0, ssp.StatusOK
}

type exported struct {
	Package     string    `json:"package"`
	Acceptor    bool      `json:"acceptor"`
	Round       int       `json:"round"`
	Target      string    `json:"target"`
	Client      string    `json:"client"`
	Flags       uint32    `json:"flags"`
	Established bool      `json:"established"`
	Key         []byte    `json:"key"`
	Expiry      time.Time `json:"expiry"`
}

func (m *Module) export(h ssp.CtxtHandle, flags uint32) ([]byte, []byte, ssp.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.contexts[h.Lower]
	if !ok {
		return nil, nil, ssp.StatusInvalidHandle
	}
	packed, err := json.Marshal(exported{
		Package:     m.cfg.Name,
		Acceptor:    sc.side == sideAcceptor,
		Round:       sc.round,
		Target:      sc.target,
		Client:      sc.client,
		Flags:       uint32(sc.flags),
		Established: sc.established,
		Key:         sc.key,
		Expiry:      sc.expiry,
	})
	if err != nil {
		return nil, nil, ssp.StatusInternalError
	}
	if flags&ssp.ExportDeleteOld != 0 {
		delete(m.contexts, h.Lower)
	}
	return packed, nil, ssp.StatusOK
}

func (m *Module) importContext(pkg string, packed []byte) (ssp.CtxtHandle, ssp.Status) {
	if !m.matches(pkg) {
		return ssp.CtxtHandle{}, ssp.StatusSecpkgNotFound
	}
	var e exported
	if err := json.Unmarshal(packed, &e); err != nil || !m.matches(e.Package) {
		return ssp.CtxtHandle{}, ssp.StatusInvalidToken
	}
	sc := &secContext{
		side:        sideInitiator,
		round:       e.Round,
		target:      e.Target,
		client:      e.Client,
		flags:       ssp.ContextFlags(e.Flags),
		established: e.Established,
		key:         e.Key,
		expiry:      e.Expiry,
	}
	if e.Acceptor {
		sc.side = sideAcceptor
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.allocLocked()
	m.contexts[id] = sc
	return ssp.CtxtHandle{Lower: id}, ssp.StatusOK
}

func (m *Module) freeBuffer(buf []byte) ssp.Status {
	if len(buf) == 0 {
		return ssp.StatusOK
	}
	clear(buf)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outstanding > 0 {
		m.outstanding--
	}
	return ssp.StatusOK
}

func (m *Module) packageInfo() (caps ssp.Capability, version, rpcID uint16, maxToken uint32, comment string) {
	return m.capabilities(), 1, 0xFFFF, m.cfg.MaxToken, "Loopback test package"
}
