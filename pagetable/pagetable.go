// Package pagetable is the per-process supplemental page table,
// grounded in the original kernel's vm/page.c. It is a plain Go map
// with no lock of its own — it is never touched by any thread but its
// owner — but every operation that affects a
// resident frame goes through frametable/sharetable, which do their
// own locking.
package pagetable

import (
	"vmkern/frametable"
	"vmkern/fsref"
	"vmkern/hw"
	"vmkern/kerr"
	"vmkern/sharetable"
)

/// PageEntry is per-user-virtual-page metadata.
type PageEntry struct {
	Vaddr uint64

	File       fsref.File
	FileOffset int64
	ReadBytes  int
	ZeroBytes  int

	Writable     bool
	ReadOnlyExec bool
	Mmap         bool

	hasFrame bool
	frame    frametable.Handle
	shareKey sharetable.Key // valid iff ReadOnlyExec
}

// FileRef, Offset, BytesRead, IsMmap implement frametable.PageBackref.
func (e *PageEntry) FileRef() fsref.File { return e.File }
func (e *PageEntry) Offset() int64       { return e.FileOffset }
func (e *PageEntry) BytesRead() int      { return e.ReadBytes }
func (e *PageEntry) IsMmap() bool        { return e.Mmap }

/// Table is one process's supplemental page table.
type Table struct {
	Tid     int
	entries map[uint64]*PageEntry
	frames  *frametable.Table
	shares  *sharetable.Table
	mmu     hw.MMU
}

/// New creates an empty supplemental page table for the process
/// identified by tid.
func New(tid int, frames *frametable.Table, shares *sharetable.Table, mmu hw.MMU) *Table {
	return &Table{tid, make(map[uint64]*PageEntry), frames, shares, mmu}
}

/// Insert replaces any existing entry for the same vaddr.
func (t *Table) Insert(e *PageEntry) {
	t.entries[e.Vaddr] = e
}

/// Contains reports whether vaddr has an entry.
func (t *Table) Contains(vaddr uint64) bool {
	_, ok := t.entries[vaddr]
	return ok
}

/// Get returns the entry for vaddr, if any.
func (t *Table) Get(vaddr uint64) (*PageEntry, bool) {
	e, ok := t.entries[vaddr]
	return e, ok
}

/// Frames returns the frame table this page table materialises pages
/// through, so callers outside the package (addrspace's mmap flush and
/// user-buffer copy paths) can act on a specific frame directly.
func (t *Table) Frames() *frametable.Table { return t.frames }

/// Remove frees the underlying frame (via the share table for a
/// read-only-exec entry, the frame table otherwise), removes vaddr
/// from the map, and unmaps it from hardware.
func (t *Table) Remove(vaddr uint64) {
	e, ok := t.entries[vaddr]
	if !ok {
		return
	}
	t.mmu.Unmap(hw.Owner{Tid: t.Tid, Vaddr: vaddr})
	if e.hasFrame {
		if e.ReadOnlyExec {
			t.shares.Release(t.Tid, vaddr, e.shareKey)
		} else {
			t.frames.Free(e.frame, t.Tid, vaddr)
		}
	}
	delete(t.entries, vaddr)
}

/// Destroy tears down every entry: clears the current thread's
/// hardware page table entries and invokes the appropriate
/// frame-freeing path for each, as proc's Exit does on process exit.
func (t *Table) Destroy() {
	for vaddr := range t.entries {
		t.Remove(vaddr)
	}
}

/// AllocateStackPage grows the stack by one page at vaddr (already
/// page-aligned by the caller): it inserts a writable, zeroed, sourceless
/// entry and materialises it immediately, exactly as the original
/// reserved_for_stack path assumes a stack page is resident as soon as
/// it exists.
func (t *Table) AllocateStackPage(vaddr uint64) kerr.Err_t {
	e := &PageEntry{Vaddr: vaddr, Writable: true}
	h, err := t.frames.GetUserPage(t.Tid, true, true)
	if err != 0 {
		return err
	}
	if err := t.frames.AddOwner(h, t.Tid, vaddr); err != 0 {
		return err
	}
	e.hasFrame = true
	e.frame = h
	t.Insert(e)
	return 0
}

/// MaterialiseShared obtains a shared frame for a read-only-executable
/// entry via the share table and records it, used by the page-fault
/// resolver's "present and read_only_exec" branch.
func (t *Table) MaterialiseShared(e *PageEntry) kerr.Err_t {
	key := sharetable.Key{Ino: e.File.Inode(), Pos: e.FileOffset, BytesRead: e.ReadBytes}
	h, err := t.shares.GetFrame(t.Tid, e.Vaddr, sharetable.Request{
		Key:       key,
		File:      e.File,
		Offset:    e.FileOffset,
		BytesRead: e.ReadBytes,
	})
	if err != 0 {
		return err
	}
	e.hasFrame = true
	e.frame = h
	e.shareKey = key
	return 0
}

/// MaterialiseLazy allocates a fresh zeroed frame for a non-shared
/// entry, reads its bytes_read bytes from file at offset, and adds the
/// caller as owner. Returns kerr.EFAULT on a short read ("If the
/// read is short, terminate the process" — the caller maps that to
/// process exit).
func (t *Table) MaterialiseLazy(e *PageEntry) kerr.Err_t {
	h, err := t.frames.GetUserPage(t.Tid, true, e.Writable)
	if err != 0 {
		return err
	}
	if e.File != nil && e.ReadBytes > 0 {
		buf := make([]byte, e.ReadBytes)
		e.File.Seek(e.FileOffset)
		n, rerr := e.File.Read(buf)
		if rerr != 0 || n != e.ReadBytes {
			return kerr.EFAULT
		}
		t.frames.CopyBytesForLoad(h, buf)
	}
	if err := t.frames.AddOwner(h, t.Tid, e.Vaddr); err != 0 {
		return err
	}
	t.frames.SetPageMeta(h, e)
	e.hasFrame = true
	e.frame = h
	return 0
}

/// SwapIn brings a present-and-resident-or-swapped entry's frame back
/// into residence (a no-op if already resident) and adds the caller as
/// an owner if not already one, used by the fault resolver's "present
/// and frame is set" branch.
func (t *Table) SwapIn(e *PageEntry) kerr.Err_t {
	return t.frames.AddOwner(e.frame, t.Tid, e.Vaddr)
}

/// HasFrame reports whether e has ever been materialised.
func (e *PageEntry) HasFrame() bool { return e.hasFrame }

/// FrameHandle returns e's frame handle; only meaningful if HasFrame.
func (e *PageEntry) FrameHandle() frametable.Handle { return e.frame }
