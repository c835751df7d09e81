// Package registry provides an insertion-ordered collection of object
// references with identity membership tests.
//
// Removal leaves a hole instead of shifting later entries, so a caller that is
// walking the registry by index keeps valid indices even if the walk itself
// causes entries to be removed (closing a socket while its context is closing
// all of its sockets, for example). Holes are dropped by Compact, which callers
// invoke at a point where no walk is pending.
//
// A Registry is not safe for concurrent use; the owner serialises access.
package registry

// Registry is an ordered list of entries that may contain holes.
type Registry[T comparable] struct {
	owner     any
	elems     []T
	live      int
	destroyed bool
}

// New creates an empty registry tagged with owner.
func New[T comparable](owner any) *Registry[T] {
	return &Registry[T]{owner: owner}
}

// Owner returns the tag given to New.
func (r *Registry[T]) Owner() any {
	return r.owner
}

// Append adds v at the end. The zero value is ignored, as is any append to a
// destroyed registry.
func (r *Registry[T]) Append(v T) {
	var zero T
	if r == nil || r.destroyed || v == zero {
		return
	}
	r.elems = append(r.elems, v)
	r.live++
}

// Find returns the slot index of the first entry identical to v, or -1.
func (r *Registry[T]) Find(v T) int {
	var zero T
	if r == nil || v == zero {
		return -1
	}
	for i, e := range r.elems {
		if e == v {
			return i
		}
	}
	return -1
}

// Remove clears the slot holding v without moving any other entry.
// It reports whether v was present.
func (r *Registry[T]) Remove(v T) bool {
	i := r.Find(v)
	if i < 0 {
		return false
	}
	var zero T
	r.elems[i] = zero
	r.live--
	return true
}

// Compact drops all holes, keeping the relative order of live entries.
func (r *Registry[T]) Compact() {
	if r == nil || r.live == len(r.elems) {
		return
	}
	var zero T
	out := r.elems[:0]
	for _, e := range r.elems {
		if e != zero {
			out = append(out, e)
		}
	}
	// clear the tail so dropped references can be collected
	for i := len(out); i < len(r.elems); i++ {
		r.elems[i] = zero
	}
	r.elems = out
}

// Len returns the number of live entries.
func (r *Registry[T]) Len() int {
	if r == nil {
		return 0
	}
	return r.live
}

// Cap returns the number of slots, holes included. Together with At it allows
// a walk by index that tolerates concurrent Remove calls from the same owner.
func (r *Registry[T]) Cap() int {
	if r == nil {
		return 0
	}
	return len(r.elems)
}

// At returns the entry in slot i, or the zero value for a hole or an out of
// range index.
func (r *Registry[T]) At(i int) T {
	var zero T
	if r == nil || i < 0 || i >= len(r.elems) {
		return zero
	}
	return r.elems[i]
}

// Each calls fn for every live entry in order until fn returns false.
// fn may Remove entries, including the current one.
func (r *Registry[T]) Each(fn func(i int, v T) bool) {
	if r == nil {
		return
	}
	var zero T
	for i := 0; i < len(r.elems); i++ {
		v := r.elems[i]
		if v == zero {
			continue
		}
		if !fn(i, v) {
			return
		}
	}
}

// Snapshot returns the live entries in order.
func (r *Registry[T]) Snapshot() []T {
	if r == nil {
		return nil
	}
	out := make([]T, 0, r.live)
	r.Each(func(_ int, v T) bool {
		out = append(out, v)
		return true
	})
	return out
}

// Destroy releases the storage. Entries themselves are not touched; the owner
// is responsible for anything the registry does not own.
func (r *Registry[T]) Destroy() {
	if r == nil {
		return
	}
	r.elems = nil
	r.live = 0
	r.destroyed = true
}
