// Package handles provides a thread-safe table of live objects addressed by
// generation-tagged handles.
//
// A handle packs a slot index and the slot's generation. Releasing a slot bumps
// its generation, so a handle kept by the host after the object was freed can
// never resolve again, even once the slot is reused for a new object.
// Lookups are O(1).
package handles

import (
	"sync"
)

// Handle identifies an object in a Table. The zero Handle is never issued.
type Handle uint64

func makeHandle(index, gen uint32) Handle {
	return Handle(uint64(gen)<<32 | uint64(index))
}

// Index returns the slot index encoded in h.
func (h Handle) Index() uint32 {
	return uint32(h)
}

// Generation returns the slot generation encoded in h.
func (h Handle) Generation() uint32 {
	return uint32(h >> 32)
}

type slot struct {
	gen  uint32
	used bool
	val  any
}

// Table maps handles to objects.
type Table struct {
	mu    sync.RWMutex
	slots []slot
	free  []uint32
	count int
}

// New creates an empty table.
func New() *Table {
	return &Table{}
}

// Register stores v and returns its handle.
// The object stays resolvable until Unregister is called.
//
// Thread-safe.
func (t *Table) Register(v any) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	var idx uint32
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		idx = uint32(len(t.slots))
		t.slots = append(t.slots, slot{gen: 1})
	}
	s := &t.slots[idx]
	s.used = true
	s.val = v
	t.count++
	return makeHandle(idx, s.gen)
}

// Lookup returns the object registered under h, or nil if h is stale or was
// never issued.
//
// Thread-safe.
func (t *Table) Lookup(h Handle) any {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.slotLocked(h)
	if !ok {
		return nil
	}
	return s.val
}

// Unregister releases h. It reports whether h was live.
//
// Thread-safe.
func (t *Table) Unregister(h Handle) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.slotLocked(h)
	if !ok {
		return false
	}
	s.used = false
	s.val = nil
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	t.free = append(t.free, h.Index())
	t.count--
	return true
}

// Count returns the number of live handles.
//
// Thread-safe.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.count
}

func (t *Table) slotLocked(h Handle) (*slot, bool) {
	idx := h.Index()
	if h == 0 || int(idx) >= len(t.slots) {
		return nil, false
	}
	s := &t.slots[idx]
	if !s.used || s.gen != h.Generation() {
		return nil, false
	}
	return s, true
}
