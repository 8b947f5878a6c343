// Package fsref specifies the filesystem contract this subsystem
// treats as an opaque collaborator: a single global lock, file identity
// via an inode value, and a cursor-bearing File handle with
// open/create/remove/close/read/write/seek/tell/length/reopen/
// deny_write. The lock is reentrant because the frame table's eviction
// path may call into the filesystem while the calling thread already
// holds it.
//
// biscuit's own fs/ufs/mkfs tree implements a real on-disk filesystem,
// out of scope here, so this contract is written as a standalone
// interface rather than adapted from a teacher file. Two reference
// implementations are provided: MemFS (in-memory, used by tests) and
// DirFS (backed by a real host directory, for interactive use).
package fsref

import (
	"sync"

	"vmkern/kerr"
)

/// Inode identifies a file independent of any particular open handle;
/// two Files opened on the same underlying file report the same Inode.
type Inode uint64

/// File is a single open file handle: an inode identity plus a mutable
/// cursor.
type File interface {
	Read(buf []byte) (int, kerr.Err_t)
	Write(buf []byte) (int, kerr.Err_t)
	Seek(pos int64)
	Tell() int64
	Length() int64
	Close()
	/// Reopen returns a fresh handle on the same underlying file with
	/// its own independent cursor, used by mmap ("the file is
	/// reopened (fresh cursor, not shared with the fd)").
	Reopen() (File, kerr.Err_t)
	DenyWrite()
	Inode() Inode
}

/// FS is the external filesystem contract. Every method takes an owner
/// token identifying the calling thread so Lock/Unlock can be
/// reentrant without relying on goroutine-local state: a thread that
/// already holds the lock may call Lock again (and must call Unlock an
/// equal number of times).
type FS interface {
	Open(owner int, name string) (File, kerr.Err_t)
	Create(owner int, name string, size int) kerr.Err_t
	Remove(owner int, name string) kerr.Err_t
	Lock(owner int)
	Unlock(owner int)
}

/// reentrantLock is a mutex that may be re-acquired by the same owner
/// token without blocking, counting depth so Unlock only releases when
/// the count returns to zero.
type reentrantLock struct {
	sem   chan struct{}
	bk    sync.Mutex
	owner int
	depth int
	held  bool
}

func newReentrantLock() *reentrantLock {
	return &reentrantLock{sem: make(chan struct{}, 1), owner: -1}
}

func (l *reentrantLock) Lock(owner int) {
	l.bk.Lock()
	if l.held && l.owner == owner {
		l.depth++
		l.bk.Unlock()
		return
	}
	l.bk.Unlock()

	l.sem <- struct{}{}

	l.bk.Lock()
	l.owner = owner
	l.held = true
	l.depth = 1
	l.bk.Unlock()
}

func (l *reentrantLock) Unlock(owner int) {
	l.bk.Lock()
	defer l.bk.Unlock()
	if !l.held || l.owner != owner {
		panic("fsref: unlock by non-owner")
	}
	l.depth--
	if l.depth > 0 {
		return
	}
	l.held = false
	l.owner = -1
	<-l.sem
}
