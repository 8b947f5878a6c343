// Package frametable is the global frame table: a registry of
// resident user frames, their owners, and the second-chance eviction
// policy, grounded in the original kernel's vm/frame.c and biscuit's
// mem.Physmem_t refcounting idiom. One lock, the frame-table lock,
// protects the whole table, including eviction; swap-in may be
// invoked recursively from AddOwner and the implementation below
// tolerates that by never re-acquiring its own mutex internally.
package frametable

import (
	"container/list"
	"sync"

	"vmkern/fsref"
	"vmkern/hw"
	"vmkern/kerr"
	"vmkern/oommsg"
	"vmkern/pmem"
	"vmkern/stats"
	"vmkern/swapdev"
)

// notifyOom reports that eviction found no resident frame to evict to
// anyone watching oommsg.OomCh; the send is
// best-effort since the caller already has a definite ENOMEM to return
// and must not block waiting for a listener that may not exist.
func notifyOom(resident int) {
	select {
	case oommsg.OomCh <- oommsg.Oommsg_t{Need: resident}:
	default:
	}
}

/// Handle identifies a FrameEntry independent of whether it is
/// currently resident or swapped out — the stable handle the design
/// notes call for in place of a raw pointer.
type Handle int

/// PageBackref is the frame's non-owning link back to the PageEntry
/// that requested it, used only to decide where to write a page back
/// on eviction. Defined here rather than in
/// pagetable so frametable does not need to import it — pagetable's
/// PageEntry implements this interface instead.
type PageBackref interface {
	FileRef() fsref.File
	Offset() int64
	BytesRead() int
	IsMmap() bool
}

type entry struct {
	frame    pmem.FrameHandle // pmem.NoFrame when swapped
	swapped  bool
	swapID   swapdev.SlotIndex
	writable bool
	owners   map[hw.Owner]struct{}
	meta     PageBackref
	elem     *list.Element // position in the eviction order list; nil while swapped
}

/// Counters exposes instrumentation surfaced by cmd/vmctl's stat
/// subcommand.
type Counters struct {
	Evictions stats.Counter_t
	SwapOuts  stats.Counter_t
	SwapIns   stats.Counter_t
	Writebacks stats.Counter_t
}

/// Table is the global frame table.
type Table struct {
	mu       sync.Mutex
	pool     *pmem.Pool
	swap     *swapdev.Table
	fs       fsref.FS
	mmu      hw.MMU
	entries  map[Handle]*entry
	order    *list.List // in allocation/second-chance order, resident frames only
	next     Handle
	free     []Handle
	Counters Counters
}

/// New creates a frame table over the given frame pool, swap table,
/// filesystem and simulated MMU.
func New(pool *pmem.Pool, swap *swapdev.Table, fs fsref.FS, mmu hw.MMU) *Table {
	return &Table{
		pool:    pool,
		swap:    swap,
		fs:      fs,
		mmu:     mmu,
		entries: make(map[Handle]*entry),
		order:   list.New(),
	}
}

/// FrameSnapshot is a point-in-time description of one table entry,
/// for cmd/vmctl's profile subcommand.
type FrameSnapshot struct {
	Handle   Handle
	Resident bool
	Owners   int
}

/// Snapshot returns a description of every frame the table currently
/// knows about, resident or swapped out.
func (t *Table) Snapshot() []FrameSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]FrameSnapshot, 0, len(t.entries))
	for h, e := range t.entries {
		out = append(out, FrameSnapshot{
			Handle:   h,
			Resident: e.frame != pmem.NoFrame,
			Owners:   len(e.owners),
		})
	}
	return out
}

func (t *Table) alloc() Handle {
	if n := len(t.free); n > 0 {
		h := t.free[n-1]
		t.free = t.free[:n-1]
		return h
	}
	t.next++
	return t.next
}

/// GetUserPage obtains a fresh user-pool frame (evicting if necessary)
/// and registers it in the table with an empty owner set.
func (t *Table) GetUserPage(tid int, zero, writable bool) (Handle, kerr.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.getUserPageLocked(tid, zero, writable)
}

func (t *Table) getUserPageLocked(tid int, zero, writable bool) (Handle, kerr.Err_t) {
	fh, ok := t.pool.Alloc(zero)
	if !ok {
		if err := t.evictOneLocked(tid); err != 0 {
			return 0, err
		}
		fh, ok = t.pool.Alloc(zero)
		if !ok {
			panic("frametable: retry after eviction must succeed")
		}
	}
	h := t.alloc()
	e := &entry{frame: fh, writable: writable, owners: make(map[hw.Owner]struct{})}
	e.elem = t.order.PushBack(h)
	t.entries[h] = e
	return h, 0
}

/// CopyBytesForLoad copies data into h's backing storage. Used right
/// after GetUserPage, before the frame has any owners, to install a
/// freshly-read segment's contents (the share table's first-time rox
/// load, and the page-fault resolver's lazy ELF load).
func (t *Table) CopyBytesForLoad(h Handle, data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entries[h]
	copy(t.pool.Bytes(e.frame), data)
}

/// SetPageMeta attaches the mmap back-reference used for write-back
/// decisions during eviction; called once, right after the page
/// metadata that requested the frame is known.
func (t *Table) SetPageMeta(h Handle, pm PageBackref) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[h].meta = pm
}

/// Writable reports whether h is installed writable in its owners'
/// hardware mappings.
func (t *Table) Writable(h Handle) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entries[h].writable
}

/// AddOwner adds (tid, vaddr) to h's owner set and installs the
/// mapping in the hardware page table, swapping the frame back in
/// first if necessary.
func (t *Table) AddOwner(h Handle, tid int, vaddr uint64) kerr.Err_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entries[h]
	if e.frame == pmem.NoFrame || e.swapped {
		if err := t.swapInLocked(h, tid); err != 0 {
			return err
		}
	}
	owner := hw.Owner{Tid: tid, Vaddr: vaddr}
	e.owners[owner] = struct{}{}
	t.mmu.Map(owner, uint64(e.frame), e.writable)
	return 0
}

/// RemoveOwner removes (tid, vaddr) from h's owner set. It does not
/// unmap the hardware entry; callers that are tearing down the mapping
/// entirely do so themselves (pagetable.Destroy/Remove) so that a
/// shared read-only-exec frame losing one owner does not disturb the
/// others' mappings (RemoveOwner is only ever called alongside an
/// unmap of that same owner's own PTE).
func (t *Table) RemoveOwner(h Handle, tid int, vaddr uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entries[h]
	delete(e.owners, hw.Owner{Tid: tid, Vaddr: vaddr})
}

/// SwapIn brings a swapped frame back into residence, a no-op if it is
/// already resident.
func (t *Table) SwapIn(h Handle, tid int) kerr.Err_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.swapInLocked(h, tid)
}

// swapInLocked assumes t.mu is already held (the caller may be
// AddOwner already holding it, or SwapIn acquiring it fresh) — it
// must never call t.mu.Lock() itself.
func (t *Table) swapInLocked(h Handle, tid int) kerr.Err_t {
	e := t.entries[h]
	if !e.swapped && e.frame != pmem.NoFrame {
		return 0
	}

	fh, ok := t.pool.Alloc(true)
	if !ok {
		if err := t.evictOneLocked(tid); err != 0 {
			return err
		}
		fh, ok = t.pool.Alloc(true)
		if !ok {
			panic("frametable: retry after eviction must succeed")
		}
	}

	buf := t.pool.Bytes(fh)
	if e.meta != nil && e.meta.IsMmap() {
		t.fs.Lock(tid)
		f := e.meta.FileRef()
		f.Seek(e.meta.Offset())
		n, err := f.Read(buf[:e.meta.BytesRead()])
		t.fs.Unlock(tid)
		if err != 0 || n != e.meta.BytesRead() {
			t.pool.Refdown(fh)
			return kerr.EFAULT
		}
	} else {
		if err := t.swap.ReadIn(e.swapID, buf); err != 0 {
			t.pool.Refdown(fh)
			return err
		}
	}
	t.Counters.SwapIns.Inc()

	e.frame = fh
	e.swapped = false
	e.elem = t.order.PushBack(h)

	for owner := range e.owners {
		t.mmu.Map(owner, uint64(e.frame), e.writable)
	}
	return 0
}

/// WithBytes runs fn with h's backing storage, holding the frame-table
/// lock for the duration so eviction cannot steal the frame out from
/// under a concurrent copy. h must already be resident (callers
/// arrange this via AddOwner/SwapIn before calling WithBytes).
func (t *Table) WithBytes(h Handle, fn func([]byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entries[h]
	if e.frame == pmem.NoFrame {
		panic("frametable: WithBytes on non-resident frame")
	}
	fn(t.pool.Bytes(e.frame))
}

/// FlushIfDirty writes h's contents back to its mmap file if any
/// owner's hardware-dirty bit is set, clearing the bit either way. A
/// no-op for non-mmap frames or frames that are currently swapped.
/// Used directly by munmap, which must write back independent
/// of whether eviction ever ran.
func (t *Table) FlushIfDirty(h Handle, tid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entries[h]
	if e.frame == pmem.NoFrame || e.meta == nil || !e.meta.IsMmap() {
		return
	}
	dirty := false
	for owner := range e.owners {
		if t.mmu.IsDirty(owner) {
			dirty = true
		}
		t.mmu.ClearDirty(owner)
	}
	if !dirty {
		return
	}
	t.fs.Lock(tid)
	f := e.meta.FileRef()
	f.Seek(e.meta.Offset())
	f.Write(t.pool.Bytes(e.frame)[:e.meta.BytesRead()])
	t.fs.Unlock(tid)
	t.Counters.Writebacks.Inc()
}

/// Free releases h, which must have exactly one owner (the caller's).
/// If resident, the physical frame is released; if swapped, the swap
/// slot is released.
func (t *Table) Free(h Handle, tid int, vaddr uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entries[h]
	if len(e.owners) != 1 {
		panic("frametable: free of frame with owners != 1")
	}
	delete(e.owners, hw.Owner{Tid: tid, Vaddr: vaddr})

	if e.swapped {
		t.swap.Free(e.swapID)
	} else if e.frame != pmem.NoFrame {
		t.order.Remove(e.elem)
		t.pool.Refdown(e.frame)
	}
	delete(t.entries, h)
	t.free = append(t.free, h)
}

// evictOneLocked assumes t.mu is already held. It runs the
// second-chance scan over the in-order list, then evicts the chosen
// frame: masks it out of every owner's hardware table, writes it back
// (an mmap frame goes to its file if any owner's dirty bit is set and
// is dropped otherwise; any other frame goes to a fresh swap slot),
// and releases the physical frame.
func (t *Table) evictOneLocked(tid int) kerr.Err_t {
	victimEl := t.chooseVictimLocked()
	if victimEl == nil {
		notifyOom(t.order.Len())
		return kerr.ENOMEM
	}
	h := victimEl.Value.(Handle)
	e := t.entries[h]

	dirty := false
	for owner := range e.owners {
		if t.mmu.IsDirty(owner) {
			dirty = true
		}
		t.mmu.ClearDirty(owner)
		t.mmu.Unmap(owner)
	}

	buf := t.pool.Bytes(e.frame)
	if e.meta != nil && e.meta.IsMmap() {
		if dirty {
			t.fs.Lock(tid)
			f := e.meta.FileRef()
			f.Seek(e.meta.Offset())
			f.Write(buf[:e.meta.BytesRead()])
			t.fs.Unlock(tid)
			t.Counters.Writebacks.Inc()
		}
	} else {
		e.swapID = t.swap.WriteOut(buf)
		e.swapped = true
		t.Counters.SwapOuts.Inc()
	}

	t.order.Remove(e.elem)
	e.elem = nil
	t.pool.Refdown(e.frame)
	e.frame = pmem.NoFrame
	t.Counters.Evictions.Inc()
	return 0
}

func (t *Table) chooseVictimLocked() *list.Element {
	if t.order.Len() == 0 {
		return nil
	}
	for i := 0; i < t.order.Len()+1; i++ {
		front := t.order.Front()
		h := front.Value.(Handle)
		e := t.entries[h]

		accessed := false
		for owner := range e.owners {
			if t.mmu.IsAccessed(owner) {
				accessed = true
			}
			t.mmu.SetAccessed(owner, false)
		}
		if !accessed {
			return front
		}
		t.order.MoveToBack(front)
	}
	panic("frametable: second-chance scan did not terminate")
}
