//go:build unix

package blockdev

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"vmkern/kerr"
)

/// FileDevice is a Device backed by a real host file instead of the
/// in-memory stand-in; cmd/vmctl does not use it. It takes an advisory exclusive flock
/// for its lifetime, modelling "at most one kernel instance has this
/// swap device open" the way a real kernel would claim a swap
/// partition exclusively.
type FileDevice struct {
	f        *os.File
	nsectors int
}

/// NewFileDevice opens (creating if absent) path, truncates it to
/// nsectors*SectorSize bytes, and takes an exclusive non-blocking
/// flock. Returns an error if another process already holds the lock.
func NewFileDevice(path string, nsectors int) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("blockdev: %s is already locked by another kernel instance: %w", path, err)
	}
	if err := f.Truncate(int64(nsectors) * SectorSize); err != nil {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		return nil, err
	}
	return &FileDevice{f: f, nsectors: nsectors}, nil
}

func (d *FileDevice) NumSectors() int { return d.nsectors }

func (d *FileDevice) ReadSector(sector int, buf []byte) kerr.Err_t {
	if sector < 0 || sector >= d.nsectors || len(buf) != SectorSize {
		return kerr.EINVAL
	}
	if _, err := d.f.ReadAt(buf, int64(sector)*SectorSize); err != nil {
		return kerr.EFAULT
	}
	return 0
}

func (d *FileDevice) WriteSector(sector int, buf []byte) kerr.Err_t {
	if sector < 0 || sector >= d.nsectors || len(buf) != SectorSize {
		return kerr.EINVAL
	}
	if _, err := d.f.WriteAt(buf, int64(sector)*SectorSize); err != nil {
		return kerr.EFAULT
	}
	return 0
}

/// Close releases the flock and closes the backing file.
func (d *FileDevice) Close() error {
	unix.Flock(int(d.f.Fd()), unix.LOCK_UN)
	return d.f.Close()
}
