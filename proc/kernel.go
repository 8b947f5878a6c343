// Package proc is the process lifecycle surface: exec, wait, exit, the
// lazy ELF32 loader, and the argument stack builder, grounded in the
// original kernel's userprog/process.c. Rendezvous between parent and
// child is a golang.org/x/sync/semaphore.Weighted binary semaphore
// standing in for the original's sema_t, reused sequentially first for
// the load-result handshake and later for the exit handshake, exactly
// as the original's single user_elem.s is.
package proc

import (
	"sync"

	"vmkern/addrspace"
	"vmkern/fsref"
	"vmkern/frametable"
	"vmkern/hw"
	"vmkern/limits"
	"vmkern/pmem"
	"vmkern/sharetable"
	"vmkern/swapdev"
	"vmkern/tinfo"
)

/// StackTop is the simulated top of every process's user stack, the
/// analogue of PHYS_BASE.
const StackTop uint64 = 0xC0000000

/// Kernel is the shared state every process in the system is spawned
/// against: the frame, share and swap tables, the filesystem, the
/// simulated MMU, and the process/thread registries.
type Kernel struct {
	frames *frametable.Table
	shares *sharetable.Table
	swap   *swapdev.Table
	pool   *pmem.Pool
	fs     fsref.FS
	mmu    hw.MMU

	threads tinfo.Threadinfo_t

	mu      sync.Mutex
	procs   map[int]*Process
	nextTid int
}

/// NewKernel wires up a frame table and share table over pool/swap/fs/mmu
/// and returns an empty process registry ready to Exec into.
func NewKernel(pool *pmem.Pool, swap *swapdev.Table, fs fsref.FS, mmu hw.MMU) *Kernel {
	frames := frametable.New(pool, swap, fs, mmu)
	k := &Kernel{
		frames: frames,
		shares: sharetable.New(frames),
		swap:   swap,
		pool:   pool,
		fs:     fs,
		mmu:    mmu,
		procs:  make(map[int]*Process),
	}
	k.threads.Init()
	return k
}

func (k *Kernel) allocTid() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.nextTid++
	return k.nextTid
}

func (k *Kernel) addProcess(p *Process) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.procs[p.Tid] = p
}

func (k *Kernel) removeProcess(tid int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.procs, tid)
}

/// Process returns the live process registered under tid, if any.
func (k *Kernel) Process(tid int) (*Process, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	p, ok := k.procs[tid]
	return p, ok
}

/// Frames exposes the shared frame table, for cmd/vmctl's stat command.
func (k *Kernel) Frames() *frametable.Table { return k.frames }

/// Pool exposes the underlying physical-frame pool, for cmd/vmctl's
/// stat command to report raw capacity/free counts alongside the
/// frame table's resident/swapped breakdown.
func (k *Kernel) Pool() *pmem.Pool { return k.pool }

/// NewRootProcess installs and returns tid 0's bootstrap process: a
/// bare address space with no loaded executable, the process every
/// kernel needs before its first Exec can spawn anything.
func NewRootProcess(k *Kernel) *Process {
	note := k.threads.Add(0)
	p := &Process{
		Tid:      0,
		Kernel:   k,
		AS:       addrspace.New(0, k.frames, k.shares, k.mmu, StackTop),
		Note:     note,
		fds:      make(map[int]fsref.File),
		nextFd:   2,
		children: make(map[int]*Rendezvous),
	}
	k.addProcess(p)
	return p
}

/// reserveProcessSlot reserves one slot of the system-wide process count,
/// returning false (and leaving Exec to fail) if none remain.
func reserveProcessSlot() bool { return limits.Syslimit.Sysprocs.Take() }

func releaseProcessSlot() { limits.Syslimit.Sysprocs.Give() }
