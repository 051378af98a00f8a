// Package idalloc provides stable, span-independent semantic identifiers
// for compiler artifacts: call sites, top-level definitions, and tasks.
// IDs are allocated monotonically in source order during Resolve (and, for
// define-expanded calls, during BuildHir), giving every downstream pass a
// dense integer key that never depends on a source span.
package idalloc

// CallID identifies an actor call site, original or define-expanded.
type CallID uint32

// DefID identifies a top-level const, param, or define declaration.
type DefID uint32

// TaskID identifies a clocked task.
type TaskID uint32

// Allocator hands out monotonically increasing IDs within each family.
type Allocator struct {
	nextCall CallID
	nextDef  DefID
	nextTask TaskID
}

// New returns an allocator with all counters at zero.
func New() *Allocator {
	return &Allocator{}
}

// AllocCall allocates the next CallID.
func (a *Allocator) AllocCall() CallID {
	id := a.nextCall
	a.nextCall++
	return id
}

// AllocDef allocates the next DefID.
func (a *Allocator) AllocDef() DefID {
	id := a.nextDef
	a.nextDef++
	return id
}

// AllocTask allocates the next TaskID.
func (a *Allocator) AllocTask() TaskID {
	id := a.nextTask
	a.nextTask++
	return id
}

// CallCount reports how many CallIDs have been allocated so far.
func (a *Allocator) CallCount() int { return int(a.nextCall) }
