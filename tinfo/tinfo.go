// Package tinfo tracks per-process liveness and kill state, keyed
// explicitly by tid rather than through goroutine-local storage:
// biscuit's original Tnote_t is read via runtime.Gptr(), a hook into
// its own forked Go runtime that looked up "the calling goroutine's"
// note. This port has no forked runtime, so every caller that needs a
// Tnote_t passes its tid and looks it up in the shared registry
// instead.
package tinfo

import "sync"

/// Tnote_t is one process's liveness and kill-request state.
type Tnote_t struct {
	Tid int

	sync.Mutex
	Alive    bool
	Killed   bool
	Isdoomed bool
}

/// Doomed reports whether the process has been marked for termination.
func (t *Tnote_t) Doomed() bool {
	t.Lock()
	defer t.Unlock()
	return t.Isdoomed
}

/// Kill marks the process killed and doomed. It only sets the flags;
/// nothing in this kernel polls Doomed or unwinds the process on it.
func (t *Tnote_t) Kill() {
	t.Lock()
	defer t.Unlock()
	t.Killed = true
	t.Isdoomed = true
}

/// Threadinfo_t is the registry of live processes' notes.
type Threadinfo_t struct {
	mu    sync.Mutex
	notes map[int]*Tnote_t
}

/// Init prepares an empty registry.
func (ti *Threadinfo_t) Init() {
	ti.notes = make(map[int]*Tnote_t)
}

/// Add registers a new note for tid and returns it.
func (ti *Threadinfo_t) Add(tid int) *Tnote_t {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	n := &Tnote_t{Tid: tid, Alive: true}
	ti.notes[tid] = n
	return n
}

/// Get returns tid's note, if it is still registered.
func (ti *Threadinfo_t) Get(tid int) (*Tnote_t, bool) {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	n, ok := ti.notes[tid]
	return n, ok
}

/// Del removes tid's note, called once the process has fully exited.
func (ti *Threadinfo_t) Del(tid int) {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	delete(ti.notes, tid)
}
