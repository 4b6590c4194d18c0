// ABOUTME: CLI entrypoint for viewclone: API server, clone/promote/publish workflows, and run inspection.
// ABOUTME: Each subcommand parses its own flag set; workflows run in-process against VIEWCLONE_HOME.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

var version = "dev"

func main() {
	loadDotEnvAuto()
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// command is one CLI subcommand. It returns a process exit code.
type command func(ctx context.Context, args []string, stdout, stderr io.Writer) int

var commands = map[string]command{
	"serve":   runServe,
	"clone":   runClone,
	"promote": runPromote,
	"publish": runPublish,
	"resume":  runResume,
	"status":  runStatus,
	"watch":   runWatch,
	"import":  runImport,
}

// run dispatches args to a subcommand.
func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printHelp(stderr, version)
		return 2
	}

	switch args[0] {
	case "help", "-h", "-help", "--help":
		printHelp(stdout, version)
		return 0
	case "version", "-version", "--version":
		fmt.Fprintf(stdout, "viewclone %s\n", version)
		return 0
	}

	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "error: unknown command %q\n\n", args[0])
		printHelp(stderr, version)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return cmd(ctx, args[1:], stdout, stderr)
}

// parseFlags parses a subcommand's flags and checks the positional argument count.
func parseFlags(fs *flag.FlagSet, args []string, positional int, usage string, stderr io.Writer) ([]string, int, bool) {
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: viewclone %s\n", usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, 0, false
		}
		return nil, 2, false
	}
	if fs.NArg() != positional {
		fs.Usage()
		return nil, 2, false
	}
	return fs.Args(), 0, true
}
