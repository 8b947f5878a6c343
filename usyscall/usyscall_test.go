package usyscall

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"

	"vmkern/addrspace"
	"vmkern/blockdev"
	"vmkern/fsref"
	"vmkern/hw"
	"vmkern/pagetable"
	"vmkern/pmem"
	"vmkern/proc"
	"vmkern/swapdev"
)

// buildELF32 assembles a minimal, valid ELF32 executable with a single
// PT_LOAD segment covering codeBytes at vaddr, entry point vaddr
// itself. Used only by tests: a stand-in for a real compiled binary,
// since this harness never executes the instructions it loads.
func buildELF32(vaddr uint32, codeBytes []byte) []byte {
	const ehsize = 52
	const phsize = 32

	var ident [elf.EI_NIDENT]byte
	copy(ident[:4], "\x7fELF")
	ident[elf.EI_CLASS] = byte(elf.ELFCLASS32)
	ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	hdr := elf.Header32{
		Ident:     ident,
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_386),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     vaddr,
		Phoff:     ehsize,
		Shoff:     0,
		Flags:     0,
		Ehsize:    ehsize,
		Phentsize: phsize,
		Phnum:     1,
		Shentsize: 0,
		Shnum:     0,
		Shstrndx:  0,
	}

	prog := elf.Prog32{
		Type:   uint32(elf.PT_LOAD),
		Off:    ehsize + phsize,
		Vaddr:  vaddr,
		Paddr:  vaddr,
		Filesz: uint32(len(codeBytes)),
		Memsz:  uint32(len(codeBytes)),
		Flags:  uint32(elf.PF_R | elf.PF_X),
		Align:  0x1000,
	}

	buf := &bytes.Buffer{}
	binary.Write(buf, binary.LittleEndian, hdr)
	binary.Write(buf, binary.LittleEndian, prog)
	buf.Write(codeBytes)
	return buf.Bytes()
}

func newTestTable(t *testing.T) (*Table, *proc.Kernel, *fsref.MemFS, *proc.Process) {
	t.Helper()
	pool := pmem.NewPool(64)
	dev := blockdev.NewMemDevice(64 * swapdev.SectorsPerPage)
	swap := swapdev.New(dev)
	fs := fsref.NewMemFS()
	mmu := hw.NewSoftMMU()
	k := proc.NewKernel(pool, swap, fs, mmu)
	tbl := New(k, fs)

	p := proc.NewRootProcess(k)
	// The root process has no loaded image or stack, so back the fixed
	// user buffers these tests use (pathArea through 0x08044000) with
	// writable, zero-filled pages.
	for va := uint64(pathArea); va <= 0x08044000; va += pmem.PGSIZE {
		p.AS.Pages.Insert(&pagetable.PageEntry{Vaddr: va, Writable: true, ZeroBytes: pmem.PGSIZE})
	}
	return tbl, k, fs, p
}

func writeUserCString(t *testing.T, as *addrspace.AddressSpace, uva uint64, s string) {
	t.Helper()
	buf := append([]byte(s), 0)
	if _, err := as.CopyIn(uva, buf); err != 0 {
		t.Fatalf("CopyIn string %q: %v", s, err)
	}
}

const pathArea = 0x08040000

func TestCreateOpenWriteReadClose(t *testing.T) {
	tbl, _, _, p := newTestTable(t)
	writeUserCString(t, p.AS, pathArea, "greeting")

	if rv := tbl.Dispatch(p.Tid, SysCreate, Args{A0: pathArea, A1: 64}); rv != 1 {
		t.Fatalf("create returned %d, want 1", rv)
	}

	fd := tbl.Dispatch(p.Tid, SysOpen, Args{A0: pathArea})
	if fd < 2 {
		t.Fatalf("open returned %d, want a valid fd >= 2", fd)
	}

	const bufArea = 0x08041000
	content := "hello, syscalls"
	writeUserCString(t, p.AS, bufArea, content)

	n := tbl.Dispatch(p.Tid, SysWrite, Args{A0: uint64(fd), A1: bufArea, A2: uint64(len(content))})
	if n != int64(len(content)) {
		t.Fatalf("write returned %d, want %d", n, len(content))
	}

	if rv := tbl.Dispatch(p.Tid, SysSeek, Args{A0: uint64(fd), A1: 0}); rv != 0 {
		t.Fatalf("seek returned %d, want 0", rv)
	}

	const readArea = 0x08042000
	rn := tbl.Dispatch(p.Tid, SysRead, Args{A0: uint64(fd), A1: readArea, A2: uint64(len(content))})
	if rn != int64(len(content)) {
		t.Fatalf("read returned %d, want %d", rn, len(content))
	}
	got := make([]byte, len(content))
	if _, err := p.AS.CopyOut(readArea, got); err != 0 {
		t.Fatalf("CopyOut read result: %v", err)
	}
	if !bytes.Equal(got, []byte(content)) {
		t.Fatalf("read back %q, want %q", got, content)
	}

	if rv := tbl.Dispatch(p.Tid, SysClose, Args{A0: uint64(fd)}); rv != 0 {
		t.Fatalf("close returned %d, want 0", rv)
	}
	if rv := tbl.Dispatch(p.Tid, SysRead, Args{A0: uint64(fd), A1: readArea, A2: 1}); rv != -1 {
		t.Fatalf("read after close returned %d, want -1", rv)
	}
}

func TestRemoveThenOpenFails(t *testing.T) {
	tbl, _, _, p := newTestTable(t)
	writeUserCString(t, p.AS, pathArea, "gone")

	if rv := tbl.Dispatch(p.Tid, SysCreate, Args{A0: pathArea, A1: 16}); rv != 1 {
		t.Fatalf("create returned %d, want 1", rv)
	}
	if rv := tbl.Dispatch(p.Tid, SysRemove, Args{A0: pathArea}); rv != 1 {
		t.Fatalf("remove returned %d, want 1", rv)
	}
	if fd := tbl.Dispatch(p.Tid, SysOpen, Args{A0: pathArea}); fd != -1 {
		t.Fatalf("open of a removed file returned %d, want -1", fd)
	}
}

func TestWriteStdoutPassesThroughWithoutAnFd(t *testing.T) {
	tbl, _, _, p := newTestTable(t)
	const bufArea = 0x08043000
	msg := "to the console"
	writeUserCString(t, p.AS, bufArea, msg)

	if rv := tbl.Dispatch(p.Tid, SysWrite, Args{A0: 1, A1: bufArea, A2: uint64(len(msg))}); rv != int64(len(msg)) {
		t.Fatalf("stdout write returned %d, want %d", rv, len(msg))
	}
}

func TestReadStdinReturnsZero(t *testing.T) {
	tbl, _, _, p := newTestTable(t)
	const bufArea = 0x08044000
	if rv := tbl.Dispatch(p.Tid, SysRead, Args{A0: 0, A1: bufArea, A2: 8}); rv != 0 {
		t.Fatalf("stdin read returned %d, want 0", rv)
	}
}

func TestWriteOrReadOnStdoutStdinFdsRejected(t *testing.T) {
	tbl, _, _, p := newTestTable(t)
	if rv := tbl.Dispatch(p.Tid, SysRead, Args{A0: 1, A2: 8}); rv != -1 {
		t.Fatalf("read(stdout) returned %d, want -1", rv)
	}
	if rv := tbl.Dispatch(p.Tid, SysWrite, Args{A0: 0, A2: 8}); rv != -1 {
		t.Fatalf("write(stdin) returned %d, want -1", rv)
	}
}

func TestMmapThenMunmapWritesBack(t *testing.T) {
	tbl, _, fs, p := newTestTable(t)
	fs.PutContents("mapped", make([]byte, 64))
	writeUserCString(t, p.AS, pathArea, "mapped")

	fd := tbl.Dispatch(p.Tid, SysOpen, Args{A0: pathArea})
	if fd < 2 {
		t.Fatalf("open returned %d", fd)
	}

	const mapAddr = 0x30000000
	id := tbl.Dispatch(p.Tid, SysMmap, Args{A0: uint64(fd), A1: mapAddr})
	if id < 0 {
		t.Fatalf("mmap returned %d", id)
	}

	payload := bytes.Repeat([]byte{0x7a}, 64)
	if _, err := p.AS.CopyIn(mapAddr, payload); err != 0 {
		t.Fatalf("CopyIn into mapping: %v", err)
	}

	if rv := tbl.Dispatch(p.Tid, SysMunmap, Args{A0: uint64(id)}); rv != 0 {
		t.Fatalf("munmap returned %d, want 0", rv)
	}

	rf, err := fs.Open(p.Tid, "mapped")
	if err != 0 {
		t.Fatalf("reopen after munmap: %v", err)
	}
	back := make([]byte, 64)
	if n, rerr := rf.Read(back); rerr != 0 || n != 64 {
		t.Fatalf("read back n=%d err=%v", n, rerr)
	}
	if !bytes.Equal(back, payload) {
		t.Fatal("munmap did not flush the mmap'd write to the file")
	}
}

func TestMmapRejectsStdinStdoutFds(t *testing.T) {
	tbl, _, _, p := newTestTable(t)
	if rv := tbl.Dispatch(p.Tid, SysMmap, Args{A0: 0, A1: 0x30001000}); rv != -1 {
		t.Fatalf("mmap(stdin) returned %d, want -1", rv)
	}
	if rv := tbl.Dispatch(p.Tid, SysMmap, Args{A0: 1, A1: 0x30001000}); rv != -1 {
		t.Fatalf("mmap(stdout) returned %d, want -1", rv)
	}
}

func TestExecWaitExitThroughDispatch(t *testing.T) {
	tbl, _, fs, p := newTestTable(t)
	fs.PutContents("prog", buildELF32(0x08048000, make([]byte, 64)))
	writeUserCString(t, p.AS, pathArea, "prog")

	childTid := tbl.Dispatch(p.Tid, SysExec, Args{A0: pathArea})
	if childTid < 0 {
		t.Fatalf("exec returned %d", childTid)
	}

	tbl.Dispatch(int(childTid), SysExit, Args{A0: 7})

	if rv := tbl.Dispatch(p.Tid, SysWait, Args{A0: uint64(childTid)}); rv != 7 {
		t.Fatalf("wait returned %d, want 7", rv)
	}
}

func TestHaltReturnsZero(t *testing.T) {
	tbl, _, _, p := newTestTable(t)
	if rv := tbl.Dispatch(p.Tid, SysHalt, Args{}); rv != 0 {
		t.Fatalf("halt returned %d, want 0", rv)
	}
}

func TestDispatchOnUnknownCallerFails(t *testing.T) {
	tbl, _, _, _ := newTestTable(t)
	if rv := tbl.Dispatch(999, SysHalt, Args{}); rv != -1 {
		t.Fatalf("dispatch for an unregistered caller returned %d, want -1", rv)
	}
}

func TestExecWithBadPathPointerKillsCaller(t *testing.T) {
	tbl, k, _, p := newTestTable(t)
	if rv := tbl.Dispatch(p.Tid, SysExec, Args{A0: 0}); rv != -1 {
		t.Fatalf("exec with a bad path pointer returned %d, want -1", rv)
	}
	if _, ok := k.Process(p.Tid); ok {
		t.Fatal("a process that passed a bad pointer to exec should have been killed, not left runnable")
	}
}

func TestCreateWithBadPathPointerKillsCaller(t *testing.T) {
	tbl, k, _, p := newTestTable(t)
	if rv := tbl.Dispatch(p.Tid, SysCreate, Args{A0: 0, A1: 64}); rv != -1 {
		t.Fatalf("create with a bad path pointer returned %d, want -1", rv)
	}
	if _, ok := k.Process(p.Tid); ok {
		t.Fatal("a process that passed a bad pointer to create should have been killed")
	}
}

func TestOpenWithBadPathPointerKillsCaller(t *testing.T) {
	tbl, k, _, p := newTestTable(t)
	if rv := tbl.Dispatch(p.Tid, SysOpen, Args{A0: 0}); rv != -1 {
		t.Fatalf("open with a bad path pointer returned %d, want -1", rv)
	}
	if _, ok := k.Process(p.Tid); ok {
		t.Fatal("a process that passed a bad pointer to open should have been killed")
	}
}

func TestWriteWithBadUserBufferKillsCaller(t *testing.T) {
	tbl, k, _, p := newTestTable(t)
	if rv := tbl.Dispatch(p.Tid, SysWrite, Args{A0: 1, A1: 0, A2: 8}); rv != -1 {
		t.Fatalf("write with a bad buffer pointer returned %d, want -1", rv)
	}
	if _, ok := k.Process(p.Tid); ok {
		t.Fatal("a process that passed a bad buffer to write should have been killed, not just given -1")
	}
}

func TestReadWithBadUserBufferKillsCaller(t *testing.T) {
	tbl, _, _, p := newTestTable(t)
	writeUserCString(t, p.AS, pathArea, "f")
	tbl.Dispatch(p.Tid, SysCreate, Args{A0: pathArea, A1: 64})
	fd := tbl.Dispatch(p.Tid, SysOpen, Args{A0: pathArea})
	if fd < 2 {
		t.Fatalf("open returned %d, want a valid fd", fd)
	}

	const bufArea = 0x08041000
	writeUserCString(t, p.AS, bufArea, "payload")
	tbl.Dispatch(p.Tid, SysWrite, Args{A0: uint64(fd), A1: bufArea, A2: 7})
	tbl.Dispatch(p.Tid, SysSeek, Args{A0: uint64(fd), A1: 0})

	k := tbl.Kernel
	if rv := tbl.Dispatch(p.Tid, SysRead, Args{A0: uint64(fd), A1: 0, A2: 7}); rv != -1 {
		t.Fatalf("read into a bad buffer returned %d, want -1", rv)
	}
	if _, ok := k.Process(p.Tid); ok {
		t.Fatal("a process that passed a bad buffer to read should have been killed, not just given -1")
	}
}

func TestMmapWithInvalidAddressKillsCaller(t *testing.T) {
	tbl, k, fs, p := newTestTable(t)
	fs.PutContents("mapme", make([]byte, 64))
	writeUserCString(t, p.AS, pathArea, "mapme")
	fd := tbl.Dispatch(p.Tid, SysOpen, Args{A0: pathArea})
	if fd < 2 {
		t.Fatalf("open returned %d, want a valid fd", fd)
	}

	if rv := tbl.Dispatch(p.Tid, SysMmap, Args{A0: uint64(fd), A1: 0}); rv != -1 {
		t.Fatalf("mmap at address 0 returned %d, want -1", rv)
	}
	if _, ok := k.Process(p.Tid); ok {
		t.Fatal("a process whose mmap address failed validation should have been killed")
	}
}
