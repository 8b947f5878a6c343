// Command vmctl is an operator tool for driving this module's virtual
// memory subsystem outside of any test: it bootstraps a kernel over a
// real host directory, execs a binary through to process teardown, and
// reports on the resulting frame and swap state. There is
// no CPU behind it — loading and tearing down a process exercises the
// same lazy-fault and eviction machinery a real trap handler would
// drive, but the loaded program's own instructions are never executed.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"vmkern/blockdev"
	"vmkern/fsref"
	"vmkern/hw"
	"vmkern/pmem"
	"vmkern/proc"
	"vmkern/stats"
	"vmkern/swapdev"
	"vmkern/ustr"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: vmctl <run|stat|disasm|profile> [flags]")
	fmt.Fprintln(os.Stderr, "  run     -dir DIR [-frames N] <binary> [args...]")
	fmt.Fprintln(os.Stderr, "  stat    -dir DIR [-frames N] [-run BINARY]")
	fmt.Fprintln(os.Stderr, "  disasm  -file ELF")
	fmt.Fprintln(os.Stderr, "  profile -dir DIR [-frames N] [-run BINARY] [-out FILE]")
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	switch os.Args[1] {
	case "run":
		cmdRun(os.Args[2:])
	case "stat":
		cmdStat(os.Args[2:])
	case "disasm":
		cmdDisasm(os.Args[2:])
	case "profile":
		cmdProfile(os.Args[2:])
	case "-h", "-help", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "vmctl: unknown subcommand %q\n", os.Args[1])
		usage()
	}
}

// bootstrap wires a fresh kernel instance over dir (a real host
// directory backing its filesystem) and a capacity-frames physical
// pool, with an in-memory swap device — a vmctl invocation is a single
// short-lived diagnostic run, not a long-lived daemon, so there is no
// need for a host-backed swap file the way a real deployment would use
// blockdev.FileDevice.
func bootstrap(dir string, capacity int) (*proc.Kernel, *fsref.DirFS) {
	fs, err := fsref.NewDirFS(dir)
	if err != nil {
		log.Fatalf("vmctl: open %s: %v", dir, err)
	}
	pool := pmem.NewPool(capacity)
	dev := blockdev.NewMemDevice(capacity * swapdev.SectorsPerPage)
	swap := swapdev.New(dev)
	mmu := hw.NewSoftMMU()
	return proc.NewKernel(pool, swap, fs, mmu), fs
}

// runToCompletion execs prog under root's kernel and, since nothing in
// this harness ever traps back in to call the exit syscall itself,
// immediately exits the child with status 0 on a successful load — the
// load/run/wait lifecycle a real trap handler would drive, minus the
// CPU in the middle. Returns the exit status and whether the exec
// itself succeeded.
func runToCompletion(k *proc.Kernel, root *proc.Process, prog string) (status int, loaded bool) {
	childTid := k.Exec(root.Tid, ustr.Ustr(prog))
	if childTid < 0 {
		return 0, false
	}
	k.Exit(childTid, 0)
	return k.Wait(root.Tid, childTid), true
}

func cmdRun(args []string) {
	fset := flag.NewFlagSet("run", flag.ExitOnError)
	dir := fset.String("dir", ".", "host directory backing the process's filesystem")
	frames := fset.Int("frames", 256, "physical frame pool capacity")
	fset.Parse(args)
	if fset.NArg() < 1 {
		log.Fatal("vmctl run: need a binary name, e.g. vmctl run -dir . hello")
	}
	prog := fset.Arg(0)
	cmdline := strings.Join(fset.Args(), " ")

	k, fs := bootstrap(*dir, *frames)
	defer fs.Close()
	root := proc.NewRootProcess(k)

	status, loaded := runToCompletion(k, root, cmdline)
	if !loaded {
		log.Fatalf("vmctl run: %s failed to load", prog)
	}
	fmt.Printf("%s: exit status %d\n", prog, status)
}

func cmdDisasm(args []string) {
	fset := flag.NewFlagSet("disasm", flag.ExitOnError)
	path := fset.String("file", "", "ELF binary to disassemble")
	fset.Parse(args)
	if *path == "" {
		log.Fatal("vmctl disasm: -file is required")
	}
	disassemble(*path)
}

func cmdStat(args []string) {
	fset := flag.NewFlagSet("stat", flag.ExitOnError)
	dir := fset.String("dir", ".", "host directory backing the process's filesystem")
	frames := fset.Int("frames", 256, "physical frame pool capacity")
	run := fset.String("run", "", "exec this binary before reporting, instead of reporting an idle kernel")
	fset.Parse(args)

	stats.Enabled = true
	k, fs := bootstrap(*dir, *frames)
	defer fs.Close()
	root := proc.NewRootProcess(k)

	if *run != "" {
		if _, loaded := runToCompletion(k, root, *run); !loaded {
			log.Fatalf("vmctl stat: %s failed to load", *run)
		}
	}
	printStat(k)
}

func cmdProfile(args []string) {
	fset := flag.NewFlagSet("profile", flag.ExitOnError)
	dir := fset.String("dir", ".", "host directory backing the process's filesystem")
	frames := fset.Int("frames", 256, "physical frame pool capacity")
	run := fset.String("run", "", "exec this binary before snapshotting, instead of profiling an idle kernel")
	out := fset.String("out", "vmkern.pb.gz", "output pprof profile path")
	fset.Parse(args)

	stats.Enabled = true
	k, fs := bootstrap(*dir, *frames)
	defer fs.Close()
	root := proc.NewRootProcess(k)

	if *run != "" {
		if _, loaded := runToCompletion(k, root, *run); !loaded {
			log.Fatalf("vmctl profile: %s failed to load", *run)
		}
	}
	writeProfile(k, *out)
}
