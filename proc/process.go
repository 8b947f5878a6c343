package proc

import (
	"sync"

	"vmkern/accnt"
	"vmkern/addrspace"
	"vmkern/fsref"
	"vmkern/kerr"
	"vmkern/pmem"
	"vmkern/tinfo"
	"vmkern/ustr"
)

/// Process is one running user process: its address space, file
/// descriptor table, accounting record, and the rendezvous objects
/// linking it to its parent and children.
type Process struct {
	Tid    int
	Kernel *Kernel
	AS     *addrspace.AddressSpace
	Note   *tinfo.Tnote_t
	Accnt  accnt.Accnt_t

	// EntryPoint is the user-mode instruction pointer load() resolved
	// from the ELF header. This simulator has no hardware trap frame to
	// jump into, so the value is only recorded here.
	EntryPoint uint64

	mu       sync.Mutex
	fds      map[int]fsref.File
	nextFd   int
	execFile fsref.File
	children map[int]*Rendezvous
	self     *Rendezvous // the rendezvous the parent's Exec created for this process
}

/// Exec tokenises cmdline, spawns a new process running it, and blocks
/// the calling process until the child reports whether it loaded
/// successfully. Returns the new tid, or -1 (TID_ERROR) on any
/// allocation failure, an oversized command line, or a load failure.
func (k *Kernel) Exec(callerTid int, cmdline ustr.Ustr) int {
	caller, ok := k.Process(callerTid)
	if !ok {
		return -1
	}
	if len(cmdline) > pmem.PGSIZE {
		return -1
	}
	argv := ustr.TokenizeArgs(cmdline)
	if len(argv) == 0 {
		return -1
	}
	if !reserveProcessSlot() {
		return -1
	}

	childTid := k.allocTid()
	r := newRendezvous(childTid)

	caller.mu.Lock()
	caller.children[childTid] = r
	caller.mu.Unlock()

	go k.startProcess(childTid, argv, r)

	r.down()
	r.mu.Lock()
	ok = r.loadOK
	r.mu.Unlock()
	if !ok {
		return -1
	}
	return childTid
}

func (k *Kernel) startProcess(tid int, argv []ustr.Ustr, r *Rendezvous) {
	note := k.threads.Add(tid)
	as := addrspace.New(tid, k.frames, k.shares, k.mmu, StackTop)
	p := &Process{
		Tid:      tid,
		Kernel:   k,
		AS:       as,
		Note:     note,
		fds:      make(map[int]fsref.File),
		nextFd:   2,
		children: make(map[int]*Rendezvous),
		self:     r,
	}
	k.addProcess(p)

	entry, esp, ok := k.load(p, argv)
	if ok {
		p.EntryPoint = entry
		p.AS.UserEsp = esp
	}
	r.signalLoad(ok)
	if !ok {
		k.Exit(tid, -1)
	}
}

/// Wait searches callerTid's children for childTid's rendezvous,
/// blocks for its exit signal, and returns the exit code. Returns -1
/// immediately if childTid is not (or is no longer) a waitable child.
func (k *Kernel) Wait(callerTid, childTid int) int {
	caller, ok := k.Process(callerTid)
	if !ok {
		return -1
	}
	caller.mu.Lock()
	r, ok := caller.children[childTid]
	if ok {
		delete(caller.children, childTid)
	}
	caller.mu.Unlock()
	if !ok {
		return -1
	}

	r.down()
	r.mu.Lock()
	code := r.exitCode
	r.mu.Unlock()
	r.sideDone()
	return code
}

/// Exit tears down tid's process: signals its own rendezvous with
/// status, releases every child rendezvous's slot, closes open file
/// descriptors, unmaps and flushes every mmap region, destroys the
/// supplemental page table, and closes the executable.
func (k *Kernel) Exit(tid int, status int) {
	p, ok := k.Process(tid)
	if !ok {
		return
	}

	p.mu.Lock()
	children := p.children
	p.children = nil
	fds := p.fds
	p.fds = nil
	execFile := p.execFile
	p.execFile = nil
	p.mu.Unlock()

	if p.self != nil {
		p.self.signalExit(status)
		p.self.sideDone()
	}
	for _, cr := range children {
		cr.sideDone()
	}

	k.fs.Lock(tid)
	for _, f := range fds {
		f.Close()
	}
	k.fs.Unlock(tid)

	for _, id := range p.AS.ActiveMmapIDs() {
		p.AS.Munmap(id)
	}
	p.AS.Pages.Destroy()

	if execFile != nil {
		k.fs.Lock(tid)
		execFile.Close()
		k.fs.Unlock(tid)
	}

	k.threads.Del(tid)
	k.removeProcess(tid)
	releaseProcessSlot()
}

/// AllocFd reserves the next free descriptor number for f. It does not
/// consult the system-wide file descriptor limit.
func (p *Process) AllocFd(f fsref.File) (int, kerr.Err_t) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fds == nil {
		return 0, kerr.EBADF
	}
	fd := p.nextFd
	p.nextFd++
	p.fds[fd] = f
	return fd, 0
}

/// Fd returns the file registered under fd, if any.
func (p *Process) Fd(fd int) (fsref.File, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fds == nil {
		return nil, false
	}
	f, ok := p.fds[fd]
	return f, ok
}

/// CloseFd removes fd from the table and closes the underlying file.
func (p *Process) CloseFd(fd int) kerr.Err_t {
	p.mu.Lock()
	f, ok := p.fds[fd]
	if ok {
		delete(p.fds, fd)
	}
	p.mu.Unlock()
	if !ok {
		return kerr.EBADF
	}
	f.Close()
	return 0
}
