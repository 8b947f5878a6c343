package main

import (
	"debug/elf"
	"fmt"
	"log"
	"os"

	"golang.org/x/arch/x86/x86asm"
)

// disassemble prints every instruction in path's first executable
// PT_LOAD segment, GNU-syntax, one per line prefixed with its load
// address — a quick way to eyeball what a fixture binary's text
// segment actually contains without reaching for objdump.
func disassemble(path string) {
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("vmctl disasm: %v", err)
	}
	defer f.Close()

	ef, err := elf.NewFile(f)
	if err != nil {
		log.Fatalf("vmctl disasm: %v", err)
	}

	var text *elf.Prog
	for _, seg := range ef.Progs {
		if seg.Type == elf.PT_LOAD && seg.Flags&elf.PF_X != 0 {
			text = seg
			break
		}
	}
	if text == nil {
		log.Fatal("vmctl disasm: no executable PT_LOAD segment found")
	}

	code := make([]byte, text.Filesz)
	if _, err := text.ReadAt(code, 0); err != nil {
		log.Fatalf("vmctl disasm: %v", err)
	}

	mode := 32
	if ef.Machine == elf.EM_X86_64 {
		mode = 64
	}

	pc := text.Vaddr
	for off := 0; off < len(code); {
		inst, derr := x86asm.Decode(code[off:], mode)
		if derr != nil {
			fmt.Printf("%#x:\t(bad)\n", pc)
			off++
			pc++
			continue
		}
		fmt.Printf("%#x:\t%s\n", pc, x86asm.GNUSyntax(inst, pc, nil))
		off += inst.Len
		pc += uint64(inst.Len)
	}
}
