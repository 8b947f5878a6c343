package proc

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
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
