package ssp

// BufferKind identifies the role of one region in a BufferSet.
type BufferKind uint32

const (
	BufferEmpty   BufferKind = 0
	BufferData    BufferKind = 1
	BufferToken   BufferKind = 2
	BufferMissing BufferKind = 4
	BufferExtra   BufferKind = 5
	BufferPadding BufferKind = 9
	BufferStream  BufferKind = 10

	// BufferChannelBindings carries the outer channel a context is bound
	// to. Its layout is defined by the package that consumes it.
	BufferChannelBindings BufferKind = 14
)

// Buffer is one typed byte region. Data is a view into memory the caller
// owns unless Allocated is set, in which case the provider produced it and
// the caller must hand it back through the provider's FreeBuffer entry.
type Buffer struct {
	Kind      BufferKind
	Data      []byte
	Allocated bool
}

// Len returns the byte length of the region.
func (b Buffer) Len() int { return len(b.Data) }

// BufferSet is an ordered sequence of buffers. An empty set means "no token".
type BufferSet []Buffer

// TokenBuffers wraps a single token into a BufferSet. A zero-length token
// yields the empty set.
func TokenBuffers(token []byte) BufferSet {
	if len(token) == 0 {
		return nil
	}
	return BufferSet{{Kind: BufferToken, Data: token}}
}

// Find returns the index of the first buffer of kind k, or -1.
func (s BufferSet) Find(k BufferKind) int {
	for i := range s {
		if s[i].Kind == k {
			return i
		}
	}
	return -1
}

// Token returns the bytes of the first token buffer, or nil.
func (s BufferSet) Token() []byte {
	if i := s.Find(BufferToken); i >= 0 {
		return s[i].Data
	}
	return nil
}

// Empty reports whether the set carries no bytes at all.
func (s BufferSet) Empty() bool {
	for i := range s {
		if len(s[i].Data) > 0 {
			return false
		}
	}
	return true
}
