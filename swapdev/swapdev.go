// Package swapdev implements the swap slot allocator, a bitmap
// of page-sized slots over a blockdev.Device. Grounded in the original
// kernel's vm/swap.c, with one deliberate naming fix: that C file's own
// swap_kpage_out actually reads a slot back into a kpage and
// swap_kpage_in actually writes one out — inverted relative to their
// names. This port uses WriteOut/ReadIn/Free, matching what each
// function does rather than repeating the original's confusing names.
package swapdev

import (
	"sync"

	"vmkern/blockdev"
	"vmkern/fatal"
	"vmkern/kerr"
	"vmkern/pmem"
)

/// SectorsPerPage is the number of device sectors a single frame
/// occupies.
const SectorsPerPage = pmem.PGSIZE / blockdev.SectorSize

/// SlotIndex identifies a swap slot.
type SlotIndex int

/// Table is the global swap slot bitmap allocator, one per kernel
/// instance.
type Table struct {
	mu     sync.Mutex
	dev    blockdev.Device
	used   []bool
	nslots int
}

/// New creates a Table over dev, sized to the largest whole number of
/// page-sized slots the device holds.
func New(dev blockdev.Device) *Table {
	n := dev.NumSectors() / SectorsPerPage
	return &Table{dev: dev, used: make([]bool, n), nslots: n}
}

/// NumSlots returns the total number of swap slots.
func (t *Table) NumSlots() int { return t.nslots }

/// WriteOut scans the bitmap for the first free slot, marks it used,
/// and writes kpage's SectorsPerPage sectors to it. Running out of
/// swap is unrecoverable for this subsystem: it is a fatal assertion,
/// not a returned error, since there is no path by which the kernel can
/// make progress without a slot to evict into.
func (t *Table) WriteOut(kpage []byte) SlotIndex {
	if len(kpage) != pmem.PGSIZE {
		panic("swapdev: WriteOut requires a full page")
	}
	t.mu.Lock()
	idx := -1
	for i, u := range t.used {
		if !u {
			idx = i
			t.used[i] = true
			break
		}
	}
	t.mu.Unlock()
	fatal.Check(idx >= 0, "swapdev: out of swap slots")

	for s := 0; s < SectorsPerPage; s++ {
		sector := idx*SectorsPerPage + s
		buf := kpage[s*blockdev.SectorSize : (s+1)*blockdev.SectorSize]
		if err := t.dev.WriteSector(sector, buf); err != 0 {
			panic("swapdev: write failed: " + err.String())
		}
	}
	return SlotIndex(idx)
}

/// ReadIn reads the slot's SectorsPerPage sectors into kpage and marks
/// the slot free.
func (t *Table) ReadIn(index SlotIndex, kpage []byte) kerr.Err_t {
	if len(kpage) != pmem.PGSIZE {
		return kerr.EINVAL
	}
	t.mu.Lock()
	i := int(index)
	fatal.Check(i >= 0 && i < t.nslots && t.used[i], "swapdev: read_in of unused slot %d", i)
	t.used[i] = false
	t.mu.Unlock()

	for s := 0; s < SectorsPerPage; s++ {
		sector := i*SectorsPerPage + s
		buf := kpage[s*blockdev.SectorSize : (s+1)*blockdev.SectorSize]
		if err := t.dev.ReadSector(sector, buf); err != 0 {
			return err
		}
	}
	return 0
}

/// Free marks a slot free without reading its contents, used when the
/// owning PageEntry is destroyed while the frame is still swapped out.
func (t *Table) Free(index SlotIndex) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := int(index)
	fatal.Check(i >= 0 && i < t.nslots && t.used[i], "swapdev: free of unused slot %d", i)
	t.used[i] = false
}
