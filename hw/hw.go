// Package hw specifies the hardware page-table primitive contract:
// map/unmap/lookup/is_accessed/set_accessed/is_dirty/clear/
// activate. On real hardware these are 80x86 page-directory
// operations; this kernel is simulated, so SoftMMU stands in for the
// page directory a bare-metal kernel would otherwise mutate directly
// via unsafe.Pointer arithmetic over its own page tables.
package hw

import "sync"

/// Owner identifies one (thread, virtual-address) mapping — the unit a
/// frame's owner set (FrameEntry.owners) tracks.
type Owner struct {
	Tid   int
	Vaddr uint64
}

/// MMU is the hardware page-table primitive contract.
type MMU interface {
	/// Map installs vaddr -> kaddr for owner, writable as given.
	/// Returns false if the mapping could not be installed (e.g. the
	/// process's page directory itself could not be extended).
	Map(owner Owner, kaddr uint64, writable bool) bool
	/// Unmap removes any mapping for owner.Vaddr in owner's address
	/// space.
	Unmap(owner Owner)
	/// Lookup returns the kaddr mapped for owner, if any.
	Lookup(owner Owner) (uint64, bool)
	IsAccessed(owner Owner) bool
	SetAccessed(owner Owner, v bool)
	IsDirty(owner Owner) bool
	/// SetDirty marks owner's mapping dirty. A real CPU sets this bit
	/// itself on every store through the mapping; this simulator has no
	/// CPU executing user stores, so every kernel-mediated write into
	/// user memory (CopyIn, argument-stack construction, mmap content
	/// written by a test) must set it explicitly on the page's behalf.
	SetDirty(owner Owner)
	/// ClearDirty clears the dirty bit for owner without unmapping it.
	ClearDirty(owner Owner)
	/// Activate is a no-op placeholder for "load this process's page
	/// directory into the hardware" — there is no second address space
	/// to switch into in the simulator, kept only so call sites read
	/// the same as a real page-directory-switch call would.
	Activate(tid int)
}

type pte struct {
	kaddr    uint64
	writable bool
	accessed bool
	dirty    bool
}

/// SoftMMU is a software simulation of a per-thread page table,
/// keyed directly by Owner instead of walking a real multi-level page
/// directory.
type SoftMMU struct {
	mu      sync.Mutex
	entries map[Owner]*pte
}

/// NewSoftMMU creates an empty simulated MMU.
func NewSoftMMU() *SoftMMU {
	return &SoftMMU{entries: make(map[Owner]*pte)}
}

func (m *SoftMMU) Map(owner Owner, kaddr uint64, writable bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[owner] = &pte{kaddr: kaddr, writable: writable}
	return true
}

func (m *SoftMMU) Unmap(owner Owner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, owner)
}

func (m *SoftMMU) Lookup(owner Owner) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[owner]
	if !ok {
		return 0, false
	}
	return e.kaddr, true
}

func (m *SoftMMU) IsAccessed(owner Owner) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[owner]
	return ok && e.accessed
}

func (m *SoftMMU) SetAccessed(owner Owner, v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[owner]; ok {
		e.accessed = v
	}
}

func (m *SoftMMU) IsDirty(owner Owner) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[owner]
	return ok && e.dirty
}

func (m *SoftMMU) SetDirty(owner Owner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[owner]; ok {
		e.dirty = true
	}
}

func (m *SoftMMU) ClearDirty(owner Owner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[owner]; ok {
		e.dirty = false
	}
}

func (m *SoftMMU) Activate(tid int) {}

/// MarkAccessed simulates a hardware memory access through owner's
/// mapping: sets the accessed bit and, when write is true, the dirty
/// bit. Test code and the fault resolver's "re-run the faulting
/// instruction" step call this to simulate the CPU's own behaviour on
/// a successful access, since there is no real CPU driving this MMU.
func (m *SoftMMU) MarkAccessed(owner Owner, write bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[owner]
	if !ok {
		return
	}
	e.accessed = true
	if write {
		e.dirty = true
	}
}
