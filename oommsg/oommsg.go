// Package oommsg carries a best-effort notification from the frame
// table to any interested observer (cmd/vmctl's stat/run loop) when
// eviction cannot find a victim because no frame is resident. Adapted from biscuit's OomCh/Oommsg_t reclaim-daemon
// handshake; this subsystem has no background reclaimer to resume, so
// unlike the original the send carries no resume channel and is never
// waited on by the sender.
package oommsg

/// OomCh is notified when the frame table's eviction scan finds no
/// victim. Sends are non-blocking; a send with no listener is simply
/// dropped.
var OomCh chan Oommsg_t = make(chan Oommsg_t, 1)

/// Oommsg_t is sent on OomCh. Need is the number of resident frames at
/// the time eviction failed, for diagnostics.
type Oommsg_t struct {
	Need int
}
