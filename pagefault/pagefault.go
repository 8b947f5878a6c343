// Package pagefault classifies a user page fault against a process's
// address space and dispatches to the right resolution path: swap-in,
// shared read-only load, lazy load, or stack growth. Grounded in the
// original kernel's userprog/exception.c fault-handling flow, rewritten
// around addrspace.AddressSpace since this port has no hardware trap
// frame to read a fault address and error code out of directly.
package pagefault

import (
	"vmkern/addrspace"
	"vmkern/kerr"
	"vmkern/pmem"
)

/// Outcome reports how a fault was resolved, for callers that need to
/// tell a genuine resolution apart from process termination.
type Outcome int

const (
	/// Resolved means the faulting instruction can be safely retried.
	Resolved Outcome = iota
	/// Kill means the fault is not resolvable and the faulting process
	/// must be terminated with status -1.
	Kill
)

/// Handle classifies and resolves a fault at vaddr in as, given the
/// saved user stack pointer at the time of the fault. It never panics
/// on a bad user address; that is an ordinary Kill outcome, not a
/// kernel bug.
func Handle(as *addrspace.AddressSpace, vaddr, esp uint64) (Outcome, kerr.Err_t) {
	page := vaddr &^ (pmem.PGSIZE - 1)

	if e, ok := as.Pages.Get(page); ok {
		if e.HasFrame() {
			if err := as.Pages.SwapIn(e); err != 0 {
				return Kill, err
			}
			return Resolved, 0
		}
		if e.ReadOnlyExec {
			if err := as.Pages.MaterialiseShared(e); err != 0 {
				return Kill, err
			}
			return Resolved, 0
		}
		if err := as.Pages.MaterialiseLazy(e); err != 0 {
			return Kill, err
		}
		return Resolved, 0
	}

	if as.InStackGrowthRegion(vaddr, esp) {
		if err := as.Pages.AllocateStackPage(page); err != 0 {
			return Kill, err
		}
		return Resolved, 0
	}

	return Kill, kerr.EFAULT
}
