package frametable

import (
	"bytes"
	"testing"

	"vmkern/blockdev"
	"vmkern/fsref"
	"vmkern/hw"
	"vmkern/kerr"
	"vmkern/pmem"
	"vmkern/stats"
	"vmkern/swapdev"
)

func newTestTable(t *testing.T, capacity int) (*Table, fsref.FS, hw.MMU) {
	t.Helper()
	prev := stats.Enabled
	stats.Enabled = true
	t.Cleanup(func() { stats.Enabled = prev })
	pool := pmem.NewPool(capacity)
	dev := blockdev.NewMemDevice(capacity * swapdev.SectorsPerPage)
	swap := swapdev.New(dev)
	fs := fsref.NewMemFS()
	mmu := hw.NewSoftMMU()
	return New(pool, swap, fs, mmu), fs, mmu
}

func TestGetUserPageAddOwnerInstallsMapping(t *testing.T) {
	tbl, _, mmu := newTestTable(t, 4)
	h, err := tbl.GetUserPage(1, true, true)
	if err != 0 {
		t.Fatalf("GetUserPage: %v", err)
	}
	if err := tbl.AddOwner(h, 1, 0x1000); err != 0 {
		t.Fatalf("AddOwner: %v", err)
	}
	owner := hw.Owner{Tid: 1, Vaddr: 0x1000}
	if _, ok := mmu.Lookup(owner); !ok {
		t.Fatal("AddOwner did not install a hardware mapping")
	}
}

func TestEvictionSwapsOutLRUAndReloadsOnAccess(t *testing.T) {
	tbl, _, mmu := newTestTable(t, 2)

	h1, _ := tbl.GetUserPage(1, true, true)
	tbl.AddOwner(h1, 1, 0x1000)
	tbl.WithBytes(h1, func(b []byte) { b[0] = 0xAA })

	h2, _ := tbl.GetUserPage(1, true, true)
	tbl.AddOwner(h2, 1, 0x2000)
	tbl.WithBytes(h2, func(b []byte) { b[0] = 0xBB })

	// Mark h2 accessed so the second-chance scan spares it and evicts
	// h1, the page with no recent access, when a third allocation
	// forces eviction in a pool of capacity 2.
	mmu.SetAccessed(hw.Owner{Tid: 1, Vaddr: 0x2000}, true)

	h3, err := tbl.GetUserPage(1, true, true)
	if err != 0 {
		t.Fatalf("GetUserPage under pressure: %v", err)
	}
	tbl.AddOwner(h3, 1, 0x3000)

	if tbl.Counters.Evictions.Get() != 1 {
		t.Fatalf("Evictions = %d, want 1", tbl.Counters.Evictions.Get())
	}
	if tbl.Counters.SwapOuts.Get() != 1 {
		t.Fatalf("SwapOuts = %d, want 1", tbl.Counters.SwapOuts.Get())
	}

	// Touching h1 again must swap it back in with its original content.
	if err := tbl.SwapIn(h1, 1); err != 0 {
		t.Fatalf("SwapIn: %v", err)
	}
	if tbl.Counters.SwapIns.Get() != 1 {
		t.Fatalf("SwapIns = %d, want 1", tbl.Counters.SwapIns.Get())
	}
	var got byte
	tbl.WithBytes(h1, func(b []byte) { got = b[0] })
	if got != 0xAA {
		t.Fatalf("swapped-in content = %#x, want 0xaa", got)
	}
}

func TestAllocUnderPressureEvictsAndSucceeds(t *testing.T) {
	tbl, _, _ := newTestTable(t, 1)
	h1, _ := tbl.GetUserPage(1, true, true)
	tbl.AddOwner(h1, 1, 0x1000)

	h2, err := tbl.GetUserPage(1, true, true)
	if err != 0 {
		t.Fatalf("GetUserPage forcing eviction: %v", err)
	}
	tbl.AddOwner(h2, 1, 0x2000)
	if tbl.Counters.Evictions.Get() != 1 {
		t.Fatalf("Evictions = %d, want 1", tbl.Counters.Evictions.Get())
	}
}

func TestEvictionOnEmptyPoolReturnsENOMEM(t *testing.T) {
	tbl, _, _ := newTestTable(t, 0)
	if _, err := tbl.GetUserPage(1, true, true); err != kerr.ENOMEM {
		t.Fatalf("GetUserPage on a zero-capacity pool returned %v, want ENOMEM", err)
	}
}

func TestFreeReleasesFrameBackToPool(t *testing.T) {
	tbl, _, _ := newTestTable(t, 1)
	h, _ := tbl.GetUserPage(1, true, true)
	tbl.AddOwner(h, 1, 0x1000)
	tbl.Free(h, 1, 0x1000)

	h2, err := tbl.GetUserPage(2, true, true)
	if err != 0 {
		t.Fatalf("GetUserPage after Free: %v", err)
	}
	tbl.AddOwner(h2, 2, 0x1000)
	if tbl.Counters.Evictions.Get() != 0 {
		t.Fatalf("Evictions = %d, want 0 — Free should have made room without eviction", tbl.Counters.Evictions.Get())
	}
}

type fakeBackref struct {
	file      fsref.File
	offset    int64
	bytesRead int
	mmap      bool
}

func (b *fakeBackref) FileRef() fsref.File { return b.file }
func (b *fakeBackref) Offset() int64       { return b.offset }
func (b *fakeBackref) BytesRead() int      { return b.bytesRead }
func (b *fakeBackref) IsMmap() bool        { return b.mmap }

func TestFlushIfDirtyWritesBackOnlyWhenDirty(t *testing.T) {
	tbl, fs, mmu := newTestTable(t, 2)
	mfs := fs.(*fsref.MemFS)
	mfs.PutContents("mapped", make([]byte, 16))
	f, _ := fs.Open(1, "mapped")

	h, _ := tbl.GetUserPage(1, true, true)
	tbl.SetPageMeta(h, &fakeBackref{file: f, offset: 0, bytesRead: 16, mmap: true})
	tbl.AddOwner(h, 1, 0x4000)
	tbl.WithBytes(h, func(b []byte) { copy(b, bytes.Repeat([]byte{0x55}, 16)) })

	tbl.FlushIfDirty(h, 1)
	rf, _ := fs.Open(1, "mapped")
	unwritten := make([]byte, 16)
	rf.Read(unwritten)
	if !bytes.Equal(unwritten, make([]byte, 16)) {
		t.Fatal("FlushIfDirty wrote back a page whose dirty bit was never set")
	}

	mmu.SetDirty(hw.Owner{Tid: 1, Vaddr: 0x4000})
	tbl.FlushIfDirty(h, 1)
	rf2, _ := fs.Open(1, "mapped")
	written := make([]byte, 16)
	rf2.Read(written)
	if !bytes.Equal(written, bytes.Repeat([]byte{0x55}, 16)) {
		t.Fatal("FlushIfDirty did not write back a dirty mmap frame")
	}
}

func TestEvictionWritesBackADirtyMmapFrame(t *testing.T) {
	tbl, fs, mmu := newTestTable(t, 2)
	mfs := fs.(*fsref.MemFS)
	mfs.PutContents("mapped", make([]byte, 16))
	f, _ := fs.Open(1, "mapped")

	h1, _ := tbl.GetUserPage(1, true, true)
	tbl.SetPageMeta(h1, &fakeBackref{file: f, offset: 0, bytesRead: 16, mmap: true})
	tbl.AddOwner(h1, 1, 0x1000)
	tbl.WithBytes(h1, func(b []byte) { copy(b, bytes.Repeat([]byte{0x77}, 16)) })
	mmu.SetDirty(hw.Owner{Tid: 1, Vaddr: 0x1000})

	h2, _ := tbl.GetUserPage(1, true, true)
	tbl.AddOwner(h2, 1, 0x2000)
	mmu.SetAccessed(hw.Owner{Tid: 1, Vaddr: 0x2000}, true)

	// Forces eviction of h1 (unaccessed) in a pool of capacity 2; h1's
	// hardware-dirty bit was set before this allocation runs, so
	// eviction must read it before Unmap clears the mapping out from
	// under it.
	h3, err := tbl.GetUserPage(1, true, true)
	if err != 0 {
		t.Fatalf("GetUserPage under pressure: %v", err)
	}
	tbl.AddOwner(h3, 1, 0x3000)

	rf, _ := fs.Open(1, "mapped")
	got := make([]byte, 16)
	rf.Read(got)
	if !bytes.Equal(got, bytes.Repeat([]byte{0x77}, 16)) {
		t.Fatal("eviction discarded a dirty mmap page's writes instead of writing them back")
	}
	if tbl.Counters.Writebacks.Get() != 1 {
		t.Fatalf("Writebacks = %d, want 1", tbl.Counters.Writebacks.Get())
	}
}
