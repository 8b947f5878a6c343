package main

import (
	"vmkern/proc"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// printStat reports k's frame-table counters through a locale-aware
// printer, so large counts come out with the reader's digit grouping
// instead of a bare run of digits.
func printStat(k *proc.Kernel) {
	p := message.NewPrinter(language.English)
	c := k.Frames().Counters
	snap := k.Frames().Snapshot()

	var resident, swapped int
	for _, f := range snap {
		if f.Resident {
			resident++
		} else {
			swapped++
		}
	}

	p.Printf("pool capacity:   %d\n", k.Pool().Capacity())
	p.Printf("pool free:       %d\n", k.Pool().Free())
	p.Printf("frames resident: %d\n", resident)
	p.Printf("frames swapped:  %d\n", swapped)
	p.Printf("evictions:       %d\n", c.Evictions.Get())
	p.Printf("swap outs:       %d\n", c.SwapOuts.Get())
	p.Printf("swap ins:        %d\n", c.SwapIns.Get())
	p.Printf("writebacks:      %d\n", c.Writebacks.Get())
}
