// Command coripper reads a Linux kernel core dump and writes an augmented
// copy to stdout: the input's PT_NOTE segment followed by synthetic PT_LOAD
// segments carrying the dynamic linker's .dynamic section, r_debug,
// the link_map chain (with names), and per-thread stacks, so an
// out-of-band debugger can reconstruct the loaded shared-object list
// without the original binaries.
package main

import (
	"flag"
	"fmt"
	"os"

	env "github.com/xyproto/env/v2"

	"github.com/OpenVZ/coripper/internal/coreerr"
	"github.com/OpenVZ/coripper/internal/corefile"
	"github.com/OpenVZ/coripper/internal/reconstruct"
	"github.com/OpenVZ/coripper/internal/writer"
)

var VerboseMode bool

func main() {
	var verbose = flag.Bool("v", false, "verbose mode (trace each reconstruction stage to stderr)")
	var verboseLong = flag.Bool("verbose", false, "verbose mode (trace each reconstruction stage to stderr)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: coripper [-v] <input-core-path>\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	VerboseMode = *verbose || *verboseLong || env.Bool("COREDUMP_VERBOSE", false)

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}
	inputPath := flag.Arg(0)

	if err := run(inputPath, os.Stdout); err != nil {
		reportAndExit(err)
	}
}

func run(inputPath string, out *os.File) error {
	if VerboseMode {
		fmt.Fprintf(os.Stderr, "coripper: opening %s\n", inputPath)
	}

	cf, err := corefile.Open(inputPath)
	if err != nil {
		return err
	}
	defer cf.Close()

	r := reconstruct.New(cf)
	stages := []struct {
		name string
		run  func() error
	}{
		{"note", r.ReadNote},
		{"dynamic", r.ReadDynamic},
		{"rdebug", r.ReadRDebug},
		{"linkmaps", r.ReadLinkmaps},
		{"stacks", r.ReadStacks},
	}
	for _, s := range stages {
		if VerboseMode {
			fmt.Fprintf(os.Stderr, "coripper: stage %s\n", s.name)
		}
		if err := s.run(); err != nil {
			return err
		}
	}

	ehdr, segs, err := r.Result()
	if err != nil {
		return err
	}
	if VerboseMode {
		fmt.Fprintf(os.Stderr, "coripper: writing %d segments\n", len(segs))
	}

	return writer.Write(out, ehdr, segs)
}

// reportAndExit prints a stage-qualified diagnostic to stderr and exits
// with a nonzero status. Every error produced by the internal packages is
// a *coreerr.Error, so a single type switch covers the whole pipeline.
func reportAndExit(err error) {
	if ce, ok := coreerr.As(err); ok {
		fmt.Fprintf(os.Stderr, "coripper: %s: %v\n", ce.Stage, ce.Err)
	} else {
		fmt.Fprintf(os.Stderr, "coripper: %v\n", err)
	}
	os.Exit(1)
}
