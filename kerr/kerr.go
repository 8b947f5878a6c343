// Package kerr defines the negative-errno error representation used
// throughout the kernel's memory subsystem: a plain int, zero for
// success, negative for failure, compared with == rather than
// wrapped/unwrapped.
package kerr

/// Err_t is a kernel error code: 0 means success, negative values name
/// a specific failure.
type Err_t int

const (
	/// EFAULT: a user pointer did not resolve to a valid, accessible page.
	EFAULT Err_t = -1 - iota
	/// ENOMEM: a kernel allocation (frame, swap slot, metadata) failed.
	ENOMEM
	/// ENOHEAP: same as ENOMEM, kept distinct because resource-accounting
	/// call sites want to report it separately from a frame/slot miss.
	ENOHEAP
	/// ENAMETOOLONG: a path or argument string exceeded the kernel's limit.
	ENAMETOOLONG
	/// EINVAL: an argument was syntactically invalid (bad syscall number,
	/// misaligned address, negative length).
	EINVAL
	/// EBADF: a file descriptor did not name an open file.
	EBADF
	/// ENOENT: a named file does not exist.
	ENOENT
	/// EMFILE: the process's open-file or mapping table is full.
	EMFILE
	/// ENOSWAP: the swap device has no free slots. The caller in this
	/// kernel never actually returns this to userspace; it is fatal
	/// (see fatal.Check call sites in swapdev), kept here only so the
	/// value has a name.
	ENOSWAP
)

/// String renders err as its symbolic name, falling back to the raw
/// integer for 0 or unknown values.
func (e Err_t) String() string {
	switch e {
	case 0:
		return "success"
	case EFAULT:
		return "EFAULT"
	case ENOMEM:
		return "ENOMEM"
	case ENOHEAP:
		return "ENOHEAP"
	case ENAMETOOLONG:
		return "ENAMETOOLONG"
	case EINVAL:
		return "EINVAL"
	case EBADF:
		return "EBADF"
	case ENOENT:
		return "ENOENT"
	case EMFILE:
		return "EMFILE"
	case ENOSWAP:
		return "ENOSWAP"
	default:
		return "errno(" + itoa(int(e)) + ")"
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
