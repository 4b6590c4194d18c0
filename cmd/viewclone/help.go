// ABOUTME: Help display for the viewclone CLI with commands, flags, and environment status.
// ABOUTME: Environment status shows which VIEWCLONE_* settings are present without printing secrets.
package main

import (
	"fmt"
	"io"
	"os"
)

func printHelp(w io.Writer, ver string) {
	fmt.Fprintf(w, "viewclone %s: clone, promote, and publish puppet environments\n", ver)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  viewclone serve                                   Start the HTTP API server")
	fmt.Fprintln(w, "  viewclone clone -env <env id> <version id>        Clone a version's content into an environment")
	fmt.Fprintln(w, "  viewclone clone -new-version <id> <version id>    Clone a version's content into a new version's archive")
	fmt.Fprintln(w, "  viewclone promote <version id> <env id>           Promote a version into an environment")
	fmt.Fprintln(w, "  viewclone publish <content view id>               Publish the next version of a content view")
	fmt.Fprintln(w, "  viewclone resume <run id>                         Resume a failed or interrupted run")
	fmt.Fprintln(w, "  viewclone status [-json] <run id>                 Show a run from the local run store")
	fmt.Fprintln(w, "  viewclone watch [-server url] <run id>            Follow a run on a running server")
	fmt.Fprintln(w, "  viewclone import <fixtures.yaml>                  Load content views and environments")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Run Flags (clone, promote, publish, resume):")
	fmt.Fprintln(w, "  -tui       Follow the run with the interactive terminal UI")
	fmt.Fprintln(w, "  -json      Print the final run record as JSON")
	fmt.Fprintln(w, "  -verbose   Log to stderr instead of $VIEWCLONE_HOME/viewclone.log")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Environment:")
	for _, key := range []string{
		"VIEWCLONE_HOME", "VIEWCLONE_CONFIG", "VIEWCLONE_BIND",
		"VIEWCLONE_CONTENT_URL", "VIEWCLONE_INDEX_URL",
	} {
		fmt.Fprintf(w, "  %-24s %s\n", key, envValue(key))
	}
	for _, key := range []string{"VIEWCLONE_AUTH_TOKEN", "VIEWCLONE_CONTENT_TOKEN", "VIEWCLONE_INDEX_TOKEN"} {
		fmt.Fprintf(w, "  %-24s %s\n", key, envStatus(key))
	}
}

func envValue(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return "(default)"
}

// envStatus reports whether a secret is set without revealing it.
func envStatus(key string) string {
	if os.Getenv(key) != "" {
		return "set"
	}
	return "not set"
}
