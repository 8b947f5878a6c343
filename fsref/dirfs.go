package fsref

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"vmkern/kerr"
)

/// DirFS is an FS implementation backed by a real host directory,
/// meant for interactive/manual testing of cmd/vmctl against actual
/// binaries and data files. It watches the directory with fsnotify so
/// that an external rewrite of a mapped file (someone editing the test
/// fixture while vmctl is running) invalidates the cached inode
/// mapping instead of DirFS silently serving stale identity for a
/// path whose underlying content changed.
type DirFS struct {
	lock    *reentrantLock
	root    string
	mu      sync.Mutex
	ino     map[string]Inode
	nextI   Inode
	watcher *fsnotify.Watcher
}

/// NewDirFS opens root as a filesystem backing store, starting a
/// background fsnotify watch on it. Callers should call Close when
/// done to stop the watch goroutine.
func NewDirFS(root string) (*DirFS, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(root); err != nil {
		w.Close()
		return nil, err
	}
	fs := &DirFS{
		lock:    newReentrantLock(),
		root:    root,
		ino:     make(map[string]Inode),
		nextI:   1,
		watcher: w,
	}
	go fs.watch()
	return fs, nil
}

func (fs *DirFS) watch() {
	for ev := range fs.watcher.Events {
		if ev.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
			fs.mu.Lock()
			delete(fs.ino, filepath.Base(ev.Name))
			fs.mu.Unlock()
		}
	}
}

/// Close stops the background watch.
func (fs *DirFS) Close() error {
	return fs.watcher.Close()
}

func (fs *DirFS) Lock(owner int)   { fs.lock.Lock(owner) }
func (fs *DirFS) Unlock(owner int) { fs.lock.Unlock(owner) }

func (fs *DirFS) path(name string) string {
	return filepath.Join(fs.root, name)
}

func (fs *DirFS) inodeFor(name string) Inode {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if id, ok := fs.ino[name]; ok {
		return id
	}
	id := fs.nextI
	fs.nextI++
	fs.ino[name] = id
	return id
}

func (fs *DirFS) Create(owner int, name string, size int) kerr.Err_t {
	f, err := os.OpenFile(fs.path(name), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return kerr.EINVAL
	}
	defer f.Close()
	if err := f.Truncate(int64(size)); err != nil {
		return kerr.EINVAL
	}
	return 0
}

func (fs *DirFS) Remove(owner int, name string) kerr.Err_t {
	if err := os.Remove(fs.path(name)); err != nil {
		return kerr.ENOENT
	}
	fs.mu.Lock()
	delete(fs.ino, name)
	fs.mu.Unlock()
	return 0
}

func (fs *DirFS) Open(owner int, name string) (File, kerr.Err_t) {
	f, err := os.OpenFile(fs.path(name), os.O_RDWR, 0)
	if err != nil {
		f, err = os.Open(fs.path(name))
		if err != nil {
			return nil, kerr.ENOENT
		}
	}
	return &dirFile{fs: fs, name: name, f: f}, 0
}

type dirFile struct {
	fs        *DirFS
	name      string
	f         *os.File
	denyWrite bool
}

func (f *dirFile) Read(buf []byte) (int, kerr.Err_t) {
	n, err := f.f.Read(buf)
	if err != nil && n == 0 {
		return 0, 0
	}
	return n, 0
}

func (f *dirFile) Write(buf []byte) (int, kerr.Err_t) {
	if f.denyWrite {
		return 0, kerr.EINVAL
	}
	n, err := f.f.Write(buf)
	if err != nil {
		return n, kerr.EFAULT
	}
	return n, 0
}

func (f *dirFile) Seek(pos int64) { f.f.Seek(pos, 0) }

func (f *dirFile) Tell() int64 {
	p, _ := f.f.Seek(0, 1)
	return p
}

func (f *dirFile) Length() int64 {
	st, err := f.f.Stat()
	if err != nil {
		return 0
	}
	return st.Size()
}

func (f *dirFile) Close() { f.f.Close() }

func (f *dirFile) Reopen() (File, kerr.Err_t) {
	nf, err := os.OpenFile(f.f.Name(), os.O_RDWR, 0)
	if err != nil {
		return nil, kerr.ENOENT
	}
	return &dirFile{fs: f.fs, name: f.name, f: nf}, 0
}

func (f *dirFile) DenyWrite() { f.denyWrite = true }

func (f *dirFile) Inode() Inode {
	return f.fs.inodeFor(f.name)
}
