// Package sharetable deduplicates resident frames backing identical
// read-only executable segments across processes, grounded in
// the original kernel's vm/share.c. The table's own lock spans both
// the lookup and the first-time frame creation so two concurrent
// loaders of the same binary never each allocate a frame for the same
// segment; nesting order is
// share -> frame -> filesystem.
package sharetable

import (
	"sync"

	"vmkern/frametable"
	"vmkern/fsref"
	"vmkern/hashtable"
	"vmkern/kerr"
)

/// Key identifies a shareable segment by (inode, file position,
/// bytes read) (ShareEntry key).
type Key struct {
	Ino       fsref.Inode
	Pos       int64
	BytesRead int
}

/// KeyHash and KeyEqual let Key plug into hashtable.Hashtable_t as a
/// composite key (see hashtable.Hashable).
func (k Key) KeyHash() uint32 {
	h := uint32(2166136261)
	mix := func(v uint64) {
		for i := 0; i < 8; i++ {
			h ^= uint32(v) & 0xff
			h *= 16777619
			v >>= 8
		}
	}
	mix(uint64(k.Ino))
	mix(uint64(k.Pos))
	mix(uint64(k.BytesRead))
	return h
}

func (k Key) KeyEqual(other interface{}) bool {
	o, ok := other.(Key)
	return ok && o == k
}

type shareVal struct {
	frame    frametable.Handle
	refcount int
}

/// Request is what a caller supplies to obtain a shared frame: the
/// identity of the segment and enough information to load it the
/// first time.
type Request struct {
	Key       Key
	File      fsref.File // positioned so Offset()/Seek() make sense; only read on first load
	Offset    int64
	BytesRead int
}

/// Table is the global share table.
type Table struct {
	mu     sync.Mutex
	ht     *hashtable.Hashtable_t
	frames *frametable.Table
}

/// New creates an empty share table over the given frame table.
func New(frames *frametable.Table) *Table {
	return &Table{ht: hashtable.MkHash(64), frames: frames}
}

/// GetFrame returns the shared frame for req.Key, creating it on first
/// request by reading req.BytesRead bytes from req.File at req.Offset.
/// The caller becomes an owner of the returned frame.
func (t *Table) GetFrame(tid int, vaddr uint64, req Request) (frametable.Handle, kerr.Err_t) {
	// hashtable.Hashtable_t's Get is lock-free and Set only holds its
	// bucket lock for the call itself, neither of which protects
	// shareVal.refcount or serialises the whole get-or-create sequence
	// against a concurrent Release. t.mu is the real share-table lock:
	// it spans the lookup, the first-time frame creation, and every
	// refcount mutation.
	t.mu.Lock()
	defer t.mu.Unlock()

	if v, ok := t.ht.Get(req.Key); ok {
		sv := v.(*shareVal)
		if err := t.frames.AddOwner(sv.frame, tid, vaddr); err != 0 {
			return 0, err
		}
		sv.refcount++
		return sv.frame, 0
	}

	h, err := t.frames.GetUserPage(tid, true, false)
	if err != 0 {
		return 0, err
	}
	buf := make([]byte, req.BytesRead)
	req.File.Seek(req.Offset)
	n, rerr := req.File.Read(buf)
	if rerr != 0 || n != req.BytesRead {
		return 0, kerr.EFAULT
	}
	t.frames.CopyBytesForLoad(h, buf)

	sv := &shareVal{frame: h, refcount: 0}
	if _, inserted := t.ht.Set(req.Key, sv); !inserted {
		// Unreachable while t.mu is held for the whole get-or-create
		// sequence: the Get above already established no entry exists
		// for req.Key, and no other caller can race in between under
		// the same lock.
		panic("sharetable: key inserted between Get miss and Set under the table lock")
	}

	if err := t.frames.AddOwner(h, tid, vaddr); err != 0 {
		return 0, err
	}
	sv.refcount = 1
	return h, 0
}

/// Release decrements the refcount for key, removing the table entry
/// and freeing the frame when it reaches zero; otherwise it just
/// removes the caller from the frame's owners.
func (t *Table) Release(tid int, vaddr uint64, key Key) {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.ht.Get(key)
	if !ok {
		panic("sharetable: release of unknown key")
	}
	sv := v.(*shareVal)
	sv.refcount--
	if sv.refcount == 0 {
		t.ht.Del(key)
		t.frames.Free(sv.frame, tid, vaddr)
		return
	}
	t.frames.RemoveOwner(sv.frame, tid, vaddr)
}
