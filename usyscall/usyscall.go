// Package usyscall is the system-call surface this memory subsystem
// exposes to user code: the fixed 15-entry dispatch table, pointer and
// buffer validation against a process's address space, and the
// mmap/munmap calls that tie the page table to the filesystem.
// Grounded in the original kernel's userprog/syscall.c dispatch
// convention and biscuit's Userdmap8_inner/Userstr/userbuf.go buffer
// validators, rewritten around addrspace.AddressSpace instead of a raw
// page directory. Named usyscall, not syscall, to avoid shadowing the
// standard library package of that name.
package usyscall

import (
	"vmkern/addrspace"
	"vmkern/fsref"
	"vmkern/kerr"
	"vmkern/proc"
	"vmkern/ustr"
)

// Number identifies one of the fifteen calls, in the order the
// original places them at the top of the user stack.
type Number int

const (
	SysHalt Number = iota
	SysExit
	SysExec
	SysWait
	SysCreate
	SysRemove
	SysOpen
	SysFilesize
	SysRead
	SysWrite
	SysSeek
	SysTell
	SysClose
	SysMmap
	SysMunmap
)

const maxPathLen = 512

// Args is the decoded argument block for one call: the caller reads
// its own argument words off the simulated user stack (this harness
// has no real trap frame to pull them from) and passes the already
// widened values through here, since every real register width in
// this port is uint64.
type Args struct {
	A0, A1, A2 uint64
}

// Table dispatches calls against one kernel's process set.
type Table struct {
	Kernel *proc.Kernel
	FS     fsref.FS
}

func New(k *proc.Kernel, fs fsref.FS) *Table {
	return &Table{Kernel: k, FS: fs}
}

// Dispatch routes one call from process callerTid and returns its
// return value (or -1 on any validation failure), the same contract
// every wrapper in lib/user/syscall.c relies on.
func (t *Table) Dispatch(callerTid int, num Number, args Args) int64 {
	p, ok := t.Kernel.Process(callerTid)
	if !ok {
		return -1
	}

	switch num {
	case SysHalt:
		return 0

	case SysExit:
		t.Kernel.Exit(callerTid, int(int32(args.A0)))
		return 0

	case SysExec:
		cmdline, err := t.readUserString(p.AS, args.A0, maxPathLen)
		if err != 0 {
			t.Kernel.Exit(callerTid, -1)
			return -1
		}
		return int64(t.Kernel.Exec(callerTid, cmdline))

	case SysWait:
		return int64(t.Kernel.Wait(callerTid, int(int32(args.A0))))

	case SysCreate:
		name, err := t.readUserString(p.AS, args.A0, maxPathLen)
		if err != 0 {
			t.Kernel.Exit(callerTid, -1)
			return -1
		}
		t.FS.Lock(callerTid)
		cerr := t.FS.Create(callerTid, string(name), int(args.A1))
		t.FS.Unlock(callerTid)
		if cerr != 0 {
			return 0
		}
		return 1

	case SysRemove:
		name, err := t.readUserString(p.AS, args.A0, maxPathLen)
		if err != 0 {
			t.Kernel.Exit(callerTid, -1)
			return -1
		}
		t.FS.Lock(callerTid)
		rerr := t.FS.Remove(callerTid, string(name))
		t.FS.Unlock(callerTid)
		if rerr != 0 {
			return 0
		}
		return 1

	case SysOpen:
		name, err := t.readUserString(p.AS, args.A0, maxPathLen)
		if err != 0 {
			t.Kernel.Exit(callerTid, -1)
			return -1
		}
		t.FS.Lock(callerTid)
		f, oerr := t.FS.Open(callerTid, string(name))
		t.FS.Unlock(callerTid)
		if oerr != 0 {
			return -1
		}
		fd, aerr := p.AllocFd(f)
		if aerr != 0 {
			f.Close()
			return -1
		}
		return int64(fd)

	case SysFilesize:
		f, ok := p.Fd(int(args.A0))
		if !ok {
			return -1
		}
		return f.Length()

	case SysRead:
		return int64(t.sysRead(callerTid, p, args))

	case SysWrite:
		return int64(t.sysWrite(callerTid, p, args))

	case SysSeek:
		f, ok := p.Fd(int(args.A0))
		if !ok {
			return -1
		}
		f.Seek(int64(args.A1))
		return 0

	case SysTell:
		f, ok := p.Fd(int(args.A0))
		if !ok {
			return -1
		}
		return f.Tell()

	case SysClose:
		if err := p.CloseFd(int(args.A0)); err != 0 {
			return -1
		}
		return 0

	case SysMmap:
		return int64(t.sysMmap(callerTid, p, args))

	case SysMunmap:
		if err := p.AS.Munmap(int(args.A0)); err != 0 {
			return -1
		}
		return 0
	}

	return -1
}

const (
	stdinFd  = 0
	stdoutFd = 1
)

func (t *Table) sysRead(callerTid int, p *proc.Process, args Args) int {
	fd := int(args.A0)
	buf := int(args.A2)
	if fd == stdoutFd || buf < 0 {
		return -1
	}
	if fd == stdinFd {
		return 0 // no console input source in this harness
	}
	f, ok := p.Fd(fd)
	if !ok {
		return -1
	}
	data := make([]byte, buf)
	n, rerr := f.Read(data)
	if rerr != 0 {
		return -1
	}
	if n == 0 {
		return 0
	}
	if _, cerr := p.AS.CopyIn(args.A1, data[:n]); cerr != 0 {
		t.Kernel.Exit(callerTid, -1)
		return -1
	}
	return n
}

func (t *Table) sysWrite(callerTid int, p *proc.Process, args Args) int {
	fd := int(args.A0)
	n := int(args.A2)
	if fd == stdinFd || n < 0 {
		return -1
	}
	data := make([]byte, n)
	if _, cerr := p.AS.CopyOut(args.A1, data); cerr != 0 {
		t.Kernel.Exit(callerTid, -1)
		return -1
	}
	if fd == stdoutFd {
		return n // console output is out of scope; the length contract still holds
	}
	f, ok := p.Fd(fd)
	if !ok {
		return -1
	}
	written, werr := f.Write(data)
	if werr != 0 {
		return -1
	}
	return written
}

func (t *Table) sysMmap(callerTid int, p *proc.Process, args Args) int {
	fd := int(args.A0)
	if fd == stdinFd || fd == stdoutFd {
		return -1
	}
	f, ok := p.Fd(fd)
	if !ok {
		return -1
	}
	id, err := p.AS.Mmap(f, args.A1)
	if err != 0 {
		t.Kernel.Exit(callerTid, -1)
		return -1
	}
	return id
}

// readUserString reads and validates a NUL-terminated string out of
// the caller's address space, refusing anything longer than maxlen
// bytes — the validation every string-accepting wrapper
// (exec/create/remove/open) performs before touching the name.
func (t *Table) readUserString(as *addrspace.AddressSpace, uva uint64, maxlen int) (ustr.Ustr, kerr.Err_t) {
	if uva == 0 {
		return nil, kerr.EFAULT
	}
	return as.ReadUserString(uva, maxlen)
}
