// Package fatal holds the kernel's invariant-violation helper: an
// assertion that dumps the call chain before panicking rather than
// just panicking blind. Used by
// swapdev for the "fatal assertion" error kind
// (double free, out-of-swap) that the error-handling
// design reserves for invariant violations rather than user-fault errors.
package fatal

import (
	"fmt"
	"runtime"
)

/// Check panics with msg, preceded by a dump of the calling stack, if
/// cond is false. Used at the fatal assertions of the swap allocator so
/// a violated invariant is diagnosable instead of surfacing as a
/// nil-pointer panic three frames away.
func Check(cond bool, msg string, args ...interface{}) {
	if cond {
		return
	}
	callerdump(2)
	panic(fmt.Sprintf(msg, args...))
}

/// Unreachable panics unconditionally with msg, for switch defaults and
/// other code paths the invariants say cannot be reached.
func Unreachable(msg string, args ...interface{}) {
	callerdump(2)
	panic(fmt.Sprintf(msg, args...))
}

func callerdump(start int) {
	i := start
	s := ""
	for {
		_, f, l, ok := runtime.Caller(i)
		if !ok {
			break
		}
		i++
		if s == "" {
			s = fmt.Sprintf("%s:%d\n", f, l)
		} else {
			s += fmt.Sprintf("\t<-%s:%d\n", f, l)
		}
	}
	fmt.Printf("%s", s)
}
