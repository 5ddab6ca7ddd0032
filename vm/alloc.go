//go:build linux && amd64

package vm

// idAllocator hands out vCPU ids in call order, starting at zero.
//
// The counter only moves forward: an id consumed by a thread whose
// construction later fails is never reused. Callers serialize access
// through the keep's write lock.
type idAllocator struct {
	next uint32
}

// nextID returns the current id and advances the counter.
func (a *idAllocator) nextID() uint32 {
	id := a.next
	a.next++
	return id
}
