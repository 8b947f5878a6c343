// Package stats provides togglable counters, used by the frame table's
// eviction and swap instrumentation. Cycle-accurate timing (an Rdtsc hook
// into a forked Go runtime) has no portable equivalent here, so timing
// is limited to event counts rather than cycle counts.
package stats

import (
	"reflect"
	"strconv"
	"strings"
	"sync/atomic"
)

/// Enabled toggles whether Counter_t.Inc does any work. Off by default,
/// so instrumentation costs nothing on the hot fault path unless an
/// operator turns it on (cmd/vmctl enables it before running a
/// workload it wants to report on).
var Enabled = false

/// Counter_t is a statistical counter, atomically incremented.
type Counter_t int64

/// Inc increments the counter when stats collection is enabled.
func (c *Counter_t) Inc() {
	if Enabled {
		atomic.AddInt64((*int64)(c), 1)
	}
}

/// Add adds n to the counter when stats collection is enabled.
func (c *Counter_t) Add(n int64) {
	if Enabled {
		atomic.AddInt64((*int64)(c), n)
	}
}

/// Get reads the counter's current value regardless of Enabled, so a
/// caller can distinguish "never happened" from "not counted".
func (c *Counter_t) Get() int64 {
	return atomic.LoadInt64((*int64)(c))
}

/// ToString renders every Counter_t field of st as "name: value" lines
/// by reflecting over its fields.
func ToString(st interface{}) string {
	v := reflect.ValueOf(st)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	s := ""
	for i := 0; i < v.NumField(); i++ {
		t := v.Field(i).Type().String()
		if strings.HasSuffix(t, "Counter_t") {
			n := v.Field(i).Interface().(Counter_t)
			s += v.Type().Field(i).Name + ": " + strconv.FormatInt(int64(n), 10) + "\n"
		}
	}
	return s
}
