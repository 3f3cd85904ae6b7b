package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"presale/internal/sample"
)

// run is the testable entrypoint for this command.
//
// It copies the header line plus as many whole data lines of -in as fit in
// -max_bytes to -out, and prints what it kept.
//
// Exit codes:
//   - 0 on success
//   - 1 on operational errors (missing input, header over budget, I/O)
//   - 2 on invalid CLI usage (bad flags)
func run(args []string, stdout, stderr io.Writer) int {
	var (
		in       string
		out      string
		maxBytes int64
	)

	fs := flag.NewFlagSet("sample", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&in, "in", "", "path to the source file")
	fs.StringVar(&out, "out", "", "path to the sample file to write")
	fs.Int64Var(&maxBytes, "max_bytes", 1<<20, "maximum sample size in bytes (the header line always counts)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if in == "" {
		fmt.Fprintln(stderr, "missing required -in <file>")
		return 2
	}
	if out == "" {
		fmt.Fprintln(stderr, "missing required -out <file>")
		return 2
	}
	if maxBytes <= 0 {
		fmt.Fprintln(stderr, "-max_bytes must be > 0")
		return 2
	}

	stats, err := sample.Copy(in, out, maxBytes)
	if err != nil {
		fmt.Fprintf(stderr, "sample: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "sampled %s -> %s: %d lines, %d bytes\n", in, out, stats.Lines, stats.Bytes)
	return 0
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}
