package fsref

import (
	"sync"

	"vmkern/kerr"
)

type memInode struct {
	mu         sync.Mutex
	id         Inode
	data       []byte
	denyWrite  bool
	openCount  int
	removed    bool
}

/// MemFS is an in-memory FS implementation, used by tests; cmd/vmctl
/// always runs over a host directory through DirFS.
type MemFS struct {
	lock  *reentrantLock
	mu    sync.Mutex
	files map[string]*memInode
	nextI Inode
}

/// NewMemFS creates an empty in-memory filesystem.
func NewMemFS() *MemFS {
	return &MemFS{
		lock:  newReentrantLock(),
		files: make(map[string]*memInode),
		nextI: 1,
	}
}

func (fs *MemFS) Lock(owner int)   { fs.lock.Lock(owner) }
func (fs *MemFS) Unlock(owner int) { fs.lock.Unlock(owner) }

func (fs *MemFS) Create(owner int, name string, size int) kerr.Err_t {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.files[name]; ok {
		return kerr.EINVAL
	}
	ino := &memInode{id: fs.nextI, data: make([]byte, size)}
	fs.nextI++
	fs.files[name] = ino
	return 0
}

func (fs *MemFS) Remove(owner int, name string) kerr.Err_t {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	ino, ok := fs.files[name]
	if !ok {
		return kerr.ENOENT
	}
	delete(fs.files, name)
	ino.mu.Lock()
	ino.removed = true
	ino.mu.Unlock()
	return 0
}

func (fs *MemFS) Open(owner int, name string) (File, kerr.Err_t) {
	fs.mu.Lock()
	ino, ok := fs.files[name]
	fs.mu.Unlock()
	if !ok {
		return nil, kerr.ENOENT
	}
	ino.mu.Lock()
	ino.openCount++
	ino.mu.Unlock()
	return &memFile{ino: ino}, 0
}

/// PutContents is a test/operator convenience, not part of the FS
/// contract: it installs name with the given bytes, creating it if
/// absent.
func (fs *MemFS) PutContents(name string, data []byte) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	ino, ok := fs.files[name]
	if !ok {
		ino = &memInode{id: fs.nextI}
		fs.nextI++
		fs.files[name] = ino
	}
	ino.mu.Lock()
	ino.data = append([]byte(nil), data...)
	ino.mu.Unlock()
}

type memFile struct {
	ino       *memInode
	pos       int64
	denyWrite bool
}

func (f *memFile) Read(buf []byte) (int, kerr.Err_t) {
	f.ino.mu.Lock()
	defer f.ino.mu.Unlock()
	if f.pos >= int64(len(f.ino.data)) {
		return 0, 0
	}
	n := copy(buf, f.ino.data[f.pos:])
	f.pos += int64(n)
	return n, 0
}

func (f *memFile) Write(buf []byte) (int, kerr.Err_t) {
	f.ino.mu.Lock()
	defer f.ino.mu.Unlock()
	if f.denyWrite {
		return 0, kerr.EINVAL
	}
	end := f.pos + int64(len(buf))
	if end > int64(len(f.ino.data)) {
		grown := make([]byte, end)
		copy(grown, f.ino.data)
		f.ino.data = grown
	}
	n := copy(f.ino.data[f.pos:end], buf)
	f.pos += int64(n)
	return n, 0
}

func (f *memFile) Seek(pos int64) { f.pos = pos }
func (f *memFile) Tell() int64    { return f.pos }

func (f *memFile) Length() int64 {
	f.ino.mu.Lock()
	defer f.ino.mu.Unlock()
	return int64(len(f.ino.data))
}

func (f *memFile) Close() {
	f.ino.mu.Lock()
	f.ino.openCount--
	f.ino.mu.Unlock()
}

func (f *memFile) Reopen() (File, kerr.Err_t) {
	f.ino.mu.Lock()
	f.ino.openCount++
	f.ino.mu.Unlock()
	return &memFile{ino: f.ino}, 0
}

func (f *memFile) DenyWrite() { f.denyWrite = true }
func (f *memFile) Inode() Inode {
	return f.ino.id
}
