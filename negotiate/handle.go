package negotiate

import (
	"fmt"
	"sync"
)

// CredentialHandle identifies a credential acquired through an Engine. The
// zero value is never valid.
type CredentialHandle struct {
	index uint32
	gen   uint32
}

// IsZero reports whether h is the zero handle.
func (h CredentialHandle) IsZero() bool { return h == CredentialHandle{} }

func (h CredentialHandle) String() string {
	return fmt.Sprintf("cred:%d.%d", h.index, h.gen)
}

// ContextHandle identifies a security context owned by an Engine. The zero
// value means "no context yet" when starting a negotiation.
type ContextHandle struct {
	index uint32
	gen   uint32
}

// IsZero reports whether h is the zero handle.
func (h ContextHandle) IsZero() bool { return h == ContextHandle{} }

func (h ContextHandle) String() string {
	return fmt.Sprintf("ctx:%d.%d", h.index, h.gen)
}

type slot[T any] struct {
	gen  uint32
	live bool
	val  T
}

// arena stores handle targets by index. Removing an entry bumps its slot
// generation, so handles to a removed entry never resolve again even after
// the slot is reused. Generations start at 1.
type arena[T any] struct {
	mu    sync.Mutex
	slots []slot[T]
	free  []uint32
}

func (a *arena[T]) insert(v T) (index, gen uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n := len(a.free); n > 0 {
		index = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.slots = append(a.slots, slot[T]{})
		index = uint32(len(a.slots) - 1)
	}
	s := &a.slots[index]
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	s.live = true
	s.val = v
	return index, s.gen
}

func (a *arena[T]) get(index, gen uint32) (T, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var zero T
	if gen == 0 || int(index) >= len(a.slots) {
		return zero, false
	}
	s := a.slots[index]
	if !s.live || s.gen != gen {
		return zero, false
	}
	return s.val, true
}

func (a *arena[T]) remove(index, gen uint32) (T, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var zero T
	if gen == 0 || int(index) >= len(a.slots) {
		return zero, false
	}
	s := &a.slots[index]
	if !s.live || s.gen != gen {
		return zero, false
	}
	v := s.val
	s.live = false
	s.val = zero
	a.free = append(a.free, index)
	return v, true
}

func (a *arena[T]) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.slots) - len(a.free)
}
