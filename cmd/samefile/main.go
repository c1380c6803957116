package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ivoronin/samefile/internal/types"
)

var (
	version = "dev"
	commit  = "none"
)

// Exit codes.
const (
	exitOK       = 0
	exitUsage    = 1
	exitInternal = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)

	err := root.Execute()
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, types.ErrInvariant):
		_, _ = fmt.Fprintf(stderr, "internal error: %v\n", err)
		return exitInternal
	default:
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}
}
