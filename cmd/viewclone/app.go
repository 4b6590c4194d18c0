// ABOUTME: Wires configuration into the content store, run store, remote clients, and executor.
// ABOUTME: Shared by every subcommand that touches local state.
package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/2389-research/viewclone/content"
	"github.com/2389-research/viewclone/engine"
	"github.com/2389-research/viewclone/planner"
	"github.com/2389-research/viewclone/publish"
	"github.com/2389-research/viewclone/remote"
	"github.com/2389-research/viewclone/server"
)

type app struct {
	cfg     *server.Config
	logger  *log.Logger
	store   *content.SQLiteStore
	runs    *engine.FSRunStore
	exec    *engine.Executor
	svc     *publish.Service
	logFile *os.File
}

// openApp loads configuration and opens local state. Logs go to stderr when
// verbose, otherwise to viewclone.log under the home directory.
func openApp(verbose bool, stderr io.Writer) (*app, error) {
	cfg, err := server.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Home, 0o755); err != nil {
		return nil, fmt.Errorf("create home %s: %w", cfg.Home, err)
	}

	a := &app{cfg: cfg}
	if verbose {
		a.logger = log.New(stderr, "", log.LstdFlags)
	} else {
		f, err := os.OpenFile(filepath.Join(cfg.Home, "viewclone.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		a.logFile = f
		a.logger = log.New(f, "", log.LstdFlags)
	}

	a.store, err = content.OpenSQLite(cfg.DatabasePath())
	if err != nil {
		a.close()
		return nil, err
	}
	a.runs, err = engine.NewFSRunStore(cfg.RunsDir())
	if err != nil {
		a.close()
		return nil, err
	}

	contentTasks := remote.NewTaskClient(cfg.ContentURL, cfg.ContentToken)
	contentTasks.PollInterval = cfg.PollInterval
	contentTasks.Logger = a.logger
	indexTasks := remote.NewTaskClient(cfg.IndexURL, cfg.IndexToken)
	indexTasks.PollInterval = cfg.PollInterval
	indexTasks.Logger = a.logger

	a.exec, err = engine.NewExecutor(engine.Config{
		Store: a.runs,
		Runner: &engine.Steps{
			Content: remote.NewContentClient(contentTasks),
			Index:   remote.NewIndexClient(indexTasks),
		},
		Entities:    a.store,
		Leases:      a.store,
		Logger:      a.logger,
		MaxParallel: cfg.MaxParallel,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	a.svc = publish.NewService(a.store, planner.New(a.store, a.logger), a.exec, a.logger)
	return a, nil
}

// close waits for in-flight runs and releases local state.
func (a *app) close() {
	if a.exec != nil {
		a.exec.Wait()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
}
