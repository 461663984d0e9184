// Command odsql compiles OData-style requests into SQL and optionally runs them.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"odata-sql/internal/planerr"
)

var (
	// Version is set at build time via -ldflags "-X main.Version=...".
	Version = "dev"
	Commit  = "none"
)

const (
	exitError        = 1
	exitCompileError = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	cmd := newRootCommand()
	cmd.SetArgs(args)
	cmd.SetIn(stdin)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	err := cmd.Execute()
	if err == nil {
		return 0
	}

	var compileErr *planerr.Error
	if errors.As(err, &compileErr) {
		fmt.Fprintf(stderr, "error [%s]: %v\n", planerr.Label(err), err)
		return exitCompileError
	}
	fmt.Fprintf(stderr, "error: %v\n", err)
	return exitError
}
