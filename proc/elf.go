package proc

import (
	"debug/elf"

	"vmkern/fsref"
	"vmkern/kerr"
	"vmkern/pagetable"
	"vmkern/pmem"
	"vmkern/ustr"
	"vmkern/util"
)

// fileReaderAt adapts an fsref.File (seek+read) to io.ReaderAt, the
// interface debug/elf needs to parse headers and program headers
// out of order. There is no third-party ELF reader in the example
// pack; the standard library's own parser is the idiomatic choice
// here rather than hand-rolling Elf32_Ehdr/Elf32_Phdr decoding.
type fileReaderAt struct{ f fsref.File }

func (r fileReaderAt) ReadAt(p []byte, off int64) (int, error) {
	r.f.Seek(off)
	n, rerr := r.f.Read(p)
	if rerr != 0 {
		return n, errShortRead
	}
	if n < len(p) {
		return n, errShortRead
	}
	return n, nil
}

type shortReadError struct{}

func (shortReadError) Error() string { return "short read" }

var errShortRead = shortReadError{}

// load opens argv[0], validates its ELF32 header, registers every
// PT_LOAD segment lazily in p's supplemental page table, sets up a
// one-page initial stack, and builds the argument block on it. Mirrors
// load()/setup_stack()/user_stack_set_up() in the original.
func (k *Kernel) load(p *Process, argv []ustr.Ustr) (entry, esp uint64, ok bool) {
	k.fs.Lock(p.Tid)
	f, ferr := k.fs.Open(p.Tid, string(argv[0]))
	if ferr != 0 {
		k.fs.Unlock(p.Tid)
		return 0, 0, false
	}

	ef, err := elf.NewFile(fileReaderAt{f})
	if err != nil || ef.Class != elf.ELFCLASS32 || ef.Type != elf.ET_EXEC || ef.Machine != elf.EM_386 {
		f.Close()
		k.fs.Unlock(p.Tid)
		return 0, 0, false
	}

	for _, seg := range ef.Progs {
		if seg.Type != elf.PT_LOAD {
			continue
		}
		if err := installLazySegment(p, f, seg); err != 0 {
			f.Close()
			k.fs.Unlock(p.Tid)
			return 0, 0, false
		}
	}

	if err := p.AS.Pages.AllocateStackPage(StackTop - pmem.PGSIZE); err != 0 {
		f.Close()
		k.fs.Unlock(p.Tid)
		return 0, 0, false
	}
	f.DenyWrite()
	p.execFile = f
	k.fs.Unlock(p.Tid)

	esp, ok = setupArgStack(p, argv)
	if !ok {
		return 0, 0, false
	}
	return ef.Entry, esp, true
}

func installLazySegment(p *Process, f fsref.File, seg *elf.Prog) kerr.Err_t {
	writable := seg.Flags&elf.PF_W != 0

	memPage := uint64(seg.Vaddr) &^ (pmem.PGSIZE - 1)
	pageOffset := uint64(seg.Vaddr) & (pmem.PGSIZE - 1)
	fileStart := int64(seg.Off) - int64(pageOffset)

	var readBytes, zeroBytes uint64
	if seg.Filesz > 0 {
		readBytes = pageOffset + seg.Filesz
		zeroBytes = util.Roundup(pageOffset+seg.Memsz, uint64(pmem.PGSIZE)) - readBytes
	} else {
		zeroBytes = util.Roundup(pageOffset+seg.Memsz, uint64(pmem.PGSIZE))
	}

	npages := (readBytes + zeroBytes) / pmem.PGSIZE
	remaining := readBytes
	fileOff := fileStart
	for i := uint64(0); i < npages; i++ {
		vaddr := memPage + i*pmem.PGSIZE
		br := uint64(pmem.PGSIZE)
		if remaining < uint64(pmem.PGSIZE) {
			br = remaining
		}
		remaining -= br

		if p.AS.Pages.Contains(vaddr) {
			return kerr.EINVAL
		}
		p.AS.Pages.Insert(&pagetable.PageEntry{
			Vaddr:        vaddr,
			File:         f,
			FileOffset:   fileOff,
			ReadBytes:    int(br),
			ZeroBytes:    pmem.PGSIZE - int(br),
			Writable:     writable,
			ReadOnlyExec: !writable,
		})
		fileOff += int64(br)
	}
	return 0
}

// setupArgStack copies each argv string onto the one-page stack
// top-down, then pushes pointers to each (reverse order, so the array
// reads argv[0..argc-1] ascending), a trailing NULL, the argv pointer,
// argc, and a zero fake return address. Every stack slot is 8 bytes:
// this port's vaddr space is simulated as 64-bit throughout rather than
// the original's 32-bit x86, so pointers and ints share one word size
// instead of the original's 4-byte int / 4-byte pointer split.
func setupArgStack(p *Process, argv []ustr.Ustr) (uint64, bool) {
	const word = 8
	esp := StackTop

	ptrs := make([]uint64, len(argv))
	for i := len(argv) - 1; i >= 0; i-- {
		s := argv[i]
		n := uint64(len(s) + 1)
		esp -= n
		buf := make([]byte, n)
		copy(buf, s)
		if _, err := p.AS.CopyIn(esp, buf); err != 0 {
			return 0, false
		}
		ptrs[i] = esp
	}

	esp -= esp % word

	writeWord := func(v uint64) bool {
		esp -= word
		buf := make([]byte, word)
		util.Writen(buf, word, 0, int(v))
		_, err := p.AS.CopyIn(esp, buf)
		return err == 0
	}

	if !writeWord(0) { // NULL sentinel
		return 0, false
	}
	for i := len(argv) - 1; i >= 0; i-- {
		if !writeWord(ptrs[i]) {
			return 0, false
		}
	}
	argvAddr := esp
	if !writeWord(argvAddr) { // argv
		return 0, false
	}
	if !writeWord(uint64(len(argv))) { // argc
		return 0, false
	}
	if !writeWord(0) { // fake return address
		return 0, false
	}

	if StackTop-esp > pmem.PGSIZE {
		return 0, false
	}
	return esp, true
}
