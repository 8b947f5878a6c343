package proc

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

/// Rendezvous is the heap-allocated parent/child exit handshake the
/// original calls user_elem: a single binary semaphore used first for
/// the load-result signal and later for the exit signal, a lock
/// protecting the bookkeeping fields, and a remaining-participants
/// counter that starts at two (parent and child) and drops to zero once
/// both sides are done with it.
type Rendezvous struct {
	ChildTid int

	sem *semaphore.Weighted

	mu        sync.Mutex
	remaining int
	loadOK    bool
	exitCode  int
}

func newRendezvous(childTid int) *Rendezvous {
	r := &Rendezvous{
		ChildTid:  childTid,
		sem:       semaphore.NewWeighted(1),
		remaining: 2,
	}
	r.sem.Acquire(context.Background(), 1) // drain the initial token so the first down() blocks
	return r
}

func (r *Rendezvous) down() {
	r.sem.Acquire(context.Background(), 1)
}

func (r *Rendezvous) up() {
	r.sem.Release(1)
}

func (r *Rendezvous) signalLoad(ok bool) {
	r.mu.Lock()
	r.loadOK = ok
	r.mu.Unlock()
	r.up()
}

func (r *Rendezvous) signalExit(code int) {
	r.mu.Lock()
	r.exitCode = code
	r.mu.Unlock()
	r.up()
}

// sideDone decrements remaining; once both parent and child have
// dropped their reference there is nothing left to free explicitly in
// a garbage-collected runtime, but the counter is kept so the pattern
// mirrors the original's free-on-zero bookkeeping and a reviewer can
// see both sides accounted for.
func (r *Rendezvous) sideDone() {
	r.mu.Lock()
	r.remaining--
	r.mu.Unlock()
}
