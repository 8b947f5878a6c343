// Package addrspace is one process's user address space: its
// supplemental page table, the stack growth boundary, mmap bookkeeping,
// and the per-page user-memory access path shared by the syscall buffer
// validators and the page-fault resolver. Grounded in the original
// kernel's vm/as.go and vm/userbuf.go, rewritten around pagetable.Table
// instead of direct page-directory manipulation.
package addrspace

import (
	"sync"

	"vmkern/frametable"
	"vmkern/fsref"
	"vmkern/hw"
	"vmkern/kerr"
	"vmkern/pagetable"
	"vmkern/pmem"
	"vmkern/sharetable"
	"vmkern/ustr"
)

const (
	// StackReserveBytes bounds how far below StackTop a faulting address
	// may still be treated as stack growth rather than a bad access.
	StackReserveBytes = 2 * 1024 * 1024
	// PushaSlack covers a PUSHA writing 32 bytes below the current esp
	// before esp itself is adjusted.
	PushaSlack = 32
)

/// MmapRegion records one active mmap mapping so Munmap can find every
/// page it covers and the file handle it must close.
type MmapRegion struct {
	ID   int
	Addr uint64
	File fsref.File
	Size int64
}

/// AddressSpace is one process's user virtual memory: the supplemental
/// page table plus the bookkeeping mmap and stack-growth need on top of
/// it.
type AddressSpace struct {
	Tid      int
	Pages    *pagetable.Table
	mmu      hw.MMU
	StackTop uint64
	UserEsp  uint64

	mu         sync.Mutex
	mmaps      map[int]*MmapRegion
	nextMmapID int
}

/// New creates an address space for tid with the given stack top
/// (simulated PHYS_BASE).
func New(tid int, frames *frametable.Table, shares *sharetable.Table, mmu hw.MMU, stackTop uint64) *AddressSpace {
	return &AddressSpace{
		Tid:      tid,
		Pages:    pagetable.New(tid, frames, shares, mmu),
		mmu:      mmu,
		StackTop: stackTop,
		mmaps:    make(map[int]*MmapRegion),
	}
}

func pageOf(vaddr uint64) uint64 { return vaddr &^ (pmem.PGSIZE - 1) }

/// InStackGrowthRegion reports whether a fault at faultAddr, with the
/// saved user stack pointer esp, should be treated as the stack growing
/// by one page rather than an invalid access.
func (as *AddressSpace) InStackGrowthRegion(faultAddr, esp uint64) bool {
	if faultAddr >= as.StackTop {
		return false
	}
	if as.StackTop-faultAddr > StackReserveBytes {
		return false
	}
	return faultAddr+PushaSlack >= esp
}

/// EnsureResident materialises the page covering vaddr if it is not
/// already resident: swapping it back in, pulling it from the share
/// table, or loading it lazily from file, whichever its PageEntry calls
/// for. It is the single path both the page-fault resolver and the
/// user-buffer copy routines use to make a present-but-absent page
/// usable.
func (as *AddressSpace) EnsureResident(vaddr uint64) kerr.Err_t {
	page := pageOf(vaddr)
	e, ok := as.Pages.Get(page)
	if !ok {
		return kerr.EFAULT
	}
	if e.HasFrame() {
		return as.Pages.SwapIn(e)
	}
	if e.ReadOnlyExec {
		return as.Pages.MaterialiseShared(e)
	}
	return as.Pages.MaterialiseLazy(e)
}

// touchPage ensures vaddr's page is present (growing the stack if it
// falls in the reserved region and has no entry yet) and resident, then
// returns its frame handle.
func (as *AddressSpace) touchPage(vaddr uint64) (frametable.Handle, kerr.Err_t) {
	page := pageOf(vaddr)
	if !as.Pages.Contains(page) {
		if !as.InStackGrowthRegion(vaddr, as.UserEsp) {
			return 0, kerr.EFAULT
		}
		if err := as.Pages.AllocateStackPage(page); err != 0 {
			return 0, err
		}
	}
	if err := as.EnsureResident(page); err != 0 {
		return 0, err
	}
	e, _ := as.Pages.Get(page)
	return e.FrameHandle(), 0
}

/// CopyOut copies len(dst) bytes from the user address uva into dst,
/// one touched page at a time.
func (as *AddressSpace) CopyOut(uva uint64, dst []byte) (int, kerr.Err_t) {
	return as.copy(uva, dst, false)
}

/// CopyIn copies src into the user address uva, one touched page at a
/// time.
func (as *AddressSpace) CopyIn(uva uint64, src []byte) (int, kerr.Err_t) {
	return as.copy(uva, src, true)
}

func (as *AddressSpace) copy(uva uint64, buf []byte, toUser bool) (int, kerr.Err_t) {
	done := 0
	for done < len(buf) {
		cur := uva + uint64(done)
		off := cur & (pmem.PGSIZE - 1)
		n := pmem.PGSIZE - int(off)
		if rem := len(buf) - done; n > rem {
			n = rem
		}

		if _, err := as.touchPage(cur); err != 0 {
			return done, err
		}

		as.withFrameBytes(cur, func(page []byte) {
			if toUser {
				copy(page[off:off+uint64(n)], buf[done:done+n])
			} else {
				copy(buf[done:done+n], page[off:off+uint64(n)])
			}
		})

		owner := hw.Owner{Tid: as.Tid, Vaddr: pageOf(cur)}
		as.mmu.SetAccessed(owner, true)
		if toUser {
			as.mmu.SetDirty(owner)
		}
		done += n
	}
	return done, 0
}

// withFrameBytes locates the frame currently backing vaddr's page and
// runs fn against its bytes without releasing the frame-table lock in
// between, so a concurrent eviction cannot swap the page out mid-copy.
func (as *AddressSpace) withFrameBytes(vaddr uint64, fn func([]byte)) {
	page := pageOf(vaddr)
	e, _ := as.Pages.Get(page)
	as.Pages.Frames().WithBytes(e.FrameHandle(), fn)
}

/// ReadUserString copies a NUL-terminated string starting at uva,
/// refusing to read past maxlen bytes.
func (as *AddressSpace) ReadUserString(uva uint64, maxlen int) (ustr.Ustr, kerr.Err_t) {
	var out ustr.Ustr
	for i := 0; i < maxlen; i++ {
		var b [1]byte
		if _, err := as.CopyOut(uva+uint64(i), b[:]); err != 0 {
			return nil, err
		}
		if b[0] == 0 {
			return out, 0
		}
		out = append(out, b[0])
	}
	return nil, kerr.ENAMETOOLONG
}

/// Mmap maps file's full contents read-write at addr, which must be
/// page-aligned, non-null, and not overlap any existing mapping, the
/// stack reservation, or an already-present page.
func (as *AddressSpace) Mmap(file fsref.File, addr uint64) (int, kerr.Err_t) {
	if addr == 0 || addr%pmem.PGSIZE != 0 {
		return 0, kerr.EINVAL
	}
	size := file.Length()
	if size == 0 {
		return 0, kerr.EINVAL
	}
	npages := (size + pmem.PGSIZE - 1) / pmem.PGSIZE
	if addr+uint64(npages)*pmem.PGSIZE >= as.StackTop-StackReserveBytes {
		return 0, kerr.EINVAL
	}
	for i := int64(0); i < npages; i++ {
		if as.Pages.Contains(addr + uint64(i)*pmem.PGSIZE) {
			return 0, kerr.EINVAL
		}
	}

	rf, err := file.Reopen()
	if err != 0 {
		return 0, err
	}

	remaining := size
	for i := int64(0); i < npages; i++ {
		vaddr := addr + uint64(i)*pmem.PGSIZE
		bytesRead := int64(pmem.PGSIZE)
		if remaining < pmem.PGSIZE {
			bytesRead = remaining
		}
		remaining -= bytesRead
		as.Pages.Insert(&pagetable.PageEntry{
			Vaddr:      vaddr,
			File:       rf,
			FileOffset: int64(i) * pmem.PGSIZE,
			ReadBytes:  int(bytesRead),
			ZeroBytes:  pmem.PGSIZE - int(bytesRead),
			Writable:   true,
			Mmap:       true,
		})
	}

	as.mu.Lock()
	defer as.mu.Unlock()
	as.nextMmapID++
	id := as.nextMmapID
	as.mmaps[id] = &MmapRegion{ID: id, Addr: addr, File: rf, Size: size}
	return id, 0
}

/// ActiveMmapIDs returns the ids of every mapping still open, for exit
/// to unmap them all.
func (as *AddressSpace) ActiveMmapIDs() []int {
	as.mu.Lock()
	defer as.mu.Unlock()
	ids := make([]int, 0, len(as.mmaps))
	for id := range as.mmaps {
		ids = append(ids, id)
	}
	return ids
}

/// Munmap flushes every dirty page of mapping id back to its file and
/// unmaps it.
func (as *AddressSpace) Munmap(id int) kerr.Err_t {
	as.mu.Lock()
	region, ok := as.mmaps[id]
	if ok {
		delete(as.mmaps, id)
	}
	as.mu.Unlock()
	if !ok {
		return kerr.EINVAL
	}

	npages := (region.Size + pmem.PGSIZE - 1) / pmem.PGSIZE
	frames := as.Pages.Frames()
	for i := int64(0); i < npages; i++ {
		vaddr := region.Addr + uint64(i)*pmem.PGSIZE
		if e, ok := as.Pages.Get(vaddr); ok && e.HasFrame() {
			frames.FlushIfDirty(e.FrameHandle(), as.Tid)
		}
		as.Pages.Remove(vaddr)
	}
	region.File.Close()
	return 0
}
