package main

import (
	"log"
	"os"

	"github.com/google/pprof/profile"

	"vmkern/pmem"
	"vmkern/proc"
)

// writeProfile snapshots k's frame table as a pprof heap-style profile
// (one sample for resident frames, one for swapped-out frames, each
// valued in frame count and bytes) and writes it to out, so the
// occupancy of a run can be inspected with `pprof -http` the same way
// a Go heap profile would be.
func writeProfile(k *proc.Kernel, out string) {
	residentFn := &profile.Function{ID: 1, Name: "resident"}
	swappedFn := &profile.Function{ID: 2, Name: "swapped"}
	residentLoc := &profile.Location{ID: 1, Line: []profile.Line{{Function: residentFn}}}
	swappedLoc := &profile.Location{ID: 2, Line: []profile.Line{{Function: swappedFn}}}

	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "frames", Unit: "count"},
			{Type: "bytes", Unit: "bytes"},
		},
		Function: []*profile.Function{residentFn, swappedFn},
		Location: []*profile.Location{residentLoc, swappedLoc},
	}

	var resident, swapped int64
	for _, f := range k.Frames().Snapshot() {
		if f.Resident {
			resident++
		} else {
			swapped++
		}
	}
	if resident > 0 {
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{residentLoc},
			Value:    []int64{resident, resident * pmem.PGSIZE},
		})
	}
	if swapped > 0 {
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{swappedLoc},
			Value:    []int64{swapped, swapped * pmem.PGSIZE},
		})
	}

	f, err := os.Create(out)
	if err != nil {
		log.Fatalf("vmctl profile: %v", err)
	}
	defer f.Close()
	if err := p.Write(f); err != nil {
		log.Fatalf("vmctl profile: %v", err)
	}
	log.Printf("vmctl profile: wrote %s (%d resident, %d swapped frames)", out, resident, swapped)
}
