package loopback

import (
	"encoding/binary"
	"errors"
)

// Token layout:
//
//	"LOOP" | kind (1) | round (1) | flags (4, LE) | payload length (2, LE) | payload
const (
	tokenMagic  = "LOOP"
	headerSize  = 12
	maxPayload  = 0xFFFF
	kindRequest = 1
	kindReply   = 2
	kindFinal   = 3
)

var (
	errIncomplete = errors.New("token truncated")
	errMalformed  = errors.New("token malformed")
)

type token struct {
	kind    byte
	round   byte
	flags   uint32
	payload []byte
}

func (t token) marshal() []byte {
	out := make([]byte, headerSize+len(t.payload))
	copy(out, tokenMagic)
	out[4] = t.kind
	out[5] = t.round
	binary.LittleEndian.PutUint32(out[6:10], t.flags)
	binary.LittleEndian.PutUint16(out[10:12], uint16(len(t.payload)))
	copy(out[headerSize:], t.payload)
	return out
}

// parseToken decodes b. A prefix of a valid token yields errIncomplete so
// the caller can ask for the rest of the bytes.
func parseToken(b []byte) (token, error) {
	n := min(len(b), len(tokenMagic))
	if string(b[:n]) != tokenMagic[:n] {
		return token{}, errMalformed
	}
	if len(b) < headerSize {
		return token{}, errIncomplete
	}
	t := token{
		kind:  b[4],
		round: b[5],
		flags: binary.LittleEndian.Uint32(b[6:10]),
	}
	if t.kind < kindRequest || t.kind > kindFinal {
		return token{}, errMalformed
	}
	size := int(binary.LittleEndian.Uint16(b[10:12]))
	switch {
	case len(b) < headerSize+size:
		return token{}, errIncomplete
	case len(b) > headerSize+size:
		return token{}, errMalformed
	}
	t.payload = b[headerSize : headerSize+size]
	return t, nil
}
