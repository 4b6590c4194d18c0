// ABOUTME: Subcommand implementations: serve, workflow starters, resume, status, and watch.
// ABOUTME: Workflow commands follow the run to completion and exit non-zero when it fails.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/2389-research/viewclone/engine"
	"github.com/2389-research/viewclone/plan"
	"github.com/2389-research/viewclone/planner"
	"github.com/2389-research/viewclone/publish"
	"github.com/2389-research/viewclone/server"
	"github.com/2389-research/viewclone/tui"
)

// followFlags are shared by commands that start or resume a run.
type followFlags struct {
	tui     bool
	json    bool
	verbose bool
}

func (f *followFlags) register(fs *flag.FlagSet) {
	fs.BoolVar(&f.tui, "tui", false, "Follow the run with the interactive terminal UI")
	fs.BoolVar(&f.json, "json", false, "Print the final run record as JSON")
	fs.BoolVar(&f.verbose, "verbose", false, "Log to stderr instead of the home log file")
}

func runServe(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	verbose := fs.Bool("verbose", true, "Log to stderr instead of the home log file")
	if _, code, ok := parseFlags(fs, args, 0, "serve [-verbose]", stderr); !ok {
		return code
	}

	a, err := openApp(*verbose, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	defer a.close()

	recovered, err := a.exec.RecoverInterrupted(ctx)
	if err != nil {
		a.logger.Printf("component=cli action=recover err=%v", err)
	}
	if len(recovered) > 0 {
		fmt.Fprintf(stdout, "resumed %d interrupted run(s)\n", len(recovered))
	}

	// Runs abandoned by a crashed CLI process become recoverable once their
	// lease expires.
	loopCtx, stopLoop := context.WithCancel(ctx)
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		recoverLoop(loopCtx, a, engine.DefaultLeaseTTL)
	}()
	defer func() {
		stopLoop()
		<-loopDone
	}()

	srv := server.New(a.svc, a.exec, server.Options{
		Addr:      a.cfg.Bind,
		AuthToken: a.cfg.AuthToken,
		Logger:    a.logger,
	})
	fmt.Fprintf(stdout, "viewclone %s listening on http://%s\n", version, a.cfg.Bind)
	if err := srv.ListenAndServe(ctx); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func recoverLoop(ctx context.Context, a *app, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.exec.RecoverInterrupted(ctx); err != nil {
				a.logger.Printf("component=cli action=recover err=%v", err)
			}
		}
	}
}

func runClone(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("clone", flag.ContinueOnError)
	var opts planner.Options
	var follow followFlags
	fs.StringVar(&opts.EnvironmentID, "env", "", "Clone into this environment")
	fs.StringVar(&opts.NewVersionID, "new-version", "", "Clone into the archive of this new version")
	follow.register(fs)
	pos, code, ok := parseFlags(fs, args, 1, "clone (-env <environment id> | -new-version <version id>) <from version id>", stderr)
	if !ok {
		return code
	}
	return startWorkflow(ctx, follow, stdout, stderr, func(svc *publish.Service) (*publish.Result, error) {
		return svc.Clone(ctx, pos[0], opts)
	})
}

func runPromote(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("promote", flag.ContinueOnError)
	var follow followFlags
	follow.register(fs)
	pos, code, ok := parseFlags(fs, args, 2, "promote <version id> <environment id>", stderr)
	if !ok {
		return code
	}
	return startWorkflow(ctx, follow, stdout, stderr, func(svc *publish.Service) (*publish.Result, error) {
		return svc.Promote(ctx, pos[0], pos[1])
	})
}

func runPublish(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("publish", flag.ContinueOnError)
	var follow followFlags
	follow.register(fs)
	pos, code, ok := parseFlags(fs, args, 1, "publish <content view id>", stderr)
	if !ok {
		return code
	}
	return startWorkflow(ctx, follow, stdout, stderr, func(svc *publish.Service) (*publish.Result, error) {
		return svc.Publish(ctx, pos[0])
	})
}

func runResume(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("resume", flag.ContinueOnError)
	var follow followFlags
	follow.register(fs)
	pos, code, ok := parseFlags(fs, args, 1, "resume <run id>", stderr)
	if !ok {
		return code
	}

	a, err := openApp(follow.verbose, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	defer a.close()

	h, err := a.exec.Resume(ctx, pos[0])
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return followRun(ctx, a, h, follow, stdout, stderr)
}

func startWorkflow(ctx context.Context, follow followFlags, stdout, stderr io.Writer, start func(*publish.Service) (*publish.Result, error)) int {
	a, err := openApp(follow.verbose, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	defer a.close()

	res, err := start(a.svc)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	if !follow.json {
		fmt.Fprintf(stdout, "run %s started: %s\n", res.Run.ID, res.Plan.Describe())
		if res.Version != nil {
			fmt.Fprintf(stdout, "created version %d (%s)\n", res.Version.Number, res.Version.ID)
		}
	}
	return followRun(ctx, a, res.Run, follow, stdout, stderr)
}

// followRun waits for the run to finish and prints it. Interrupting only stops
// following; the run stays persisted and can be resumed.
func followRun(ctx context.Context, a *app, h *engine.RunHandle, follow followFlags, stdout, stderr io.Writer) int {
	if follow.tui {
		model := tui.NewWatchModel(ctx, tui.ExecutorFetcher(a.exec), h.ID, 200*time.Millisecond)
		if _, err := tea.NewProgram(model, tea.WithContext(ctx)).Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			fmt.Fprintf(stderr, "error: tui: %v\n", err)
		}
	}

	run, err := h.Wait(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "interrupted; resume with: viewclone resume %s\n", h.ID)
		return 130
	}
	return printRun(run, follow.json, stdout, stderr)
}

func printRun(run *engine.Run, asJSON bool, stdout, stderr io.Writer) int {
	if asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(run); err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return 1
		}
	} else {
		fmt.Fprint(stdout, tui.RenderRun(run, ""))
	}
	if run.Status == plan.StatusFailed {
		return 1
	}
	return 0
}

func runStatus(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	asJSON := fs.Bool("json", false, "Print the run record as JSON")
	pos, code, ok := parseFlags(fs, args, 1, "status [-json] <run id>", stderr)
	if !ok {
		return code
	}

	a, err := openApp(false, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	defer a.close()

	run, err := a.exec.Status(pos[0])
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return printRun(run, *asJSON, stdout, stderr)
}

func runWatch(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	serverURL := fs.String("server", "", "Server base URL (default: http://$VIEWCLONE_BIND)")
	token := fs.String("token", os.Getenv("VIEWCLONE_AUTH_TOKEN"), "Bearer token for the server")
	interval := fs.Duration("interval", 500*time.Millisecond, "Poll interval")
	pos, code, ok := parseFlags(fs, args, 1, "watch [-server url] [-token t] <run id>", stderr)
	if !ok {
		return code
	}

	base := *serverURL
	if base == "" {
		bind := os.Getenv("VIEWCLONE_BIND")
		if bind == "" {
			bind = "127.0.0.1:7780"
		}
		base = "http://" + bind
	}

	model := tui.NewWatchModel(ctx, tui.HTTPFetcher(base, *token, nil), pos[0], *interval)
	final, err := tea.NewProgram(model, tea.WithContext(ctx)).Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	m, ok := final.(tui.WatchModel)
	if !ok {
		return 1
	}
	if m.Err() != nil {
		fmt.Fprintf(stderr, "error: %v\n", m.Err())
		return 1
	}
	if run := m.Run(); run != nil && run.Status == plan.StatusFailed {
		return 1
	}
	return 0
}
