package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/fluxhive/squads/internal/config"
	"github.com/fluxhive/squads/internal/runstate"
	"github.com/fluxhive/squads/internal/storeclient"
)

// runRunCommand dispatches the "run" subcommand's single action, "status".
func runRunCommand(ctx context.Context, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: squadsd run status <runId>")
		return 2
	}

	switch args[0] {
	case "status":
		return runRunStatusCommand(ctx, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown run subcommand %q\n", args[0])
		return 2
	}
}

// runRunStatusCommand fetches a run's stored baseline state and its event
// log, folds the log onto the baseline with runstate.Reduce, and prints the
// resulting RunState as JSON.
func runRunStatusCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("run status", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: squadsd run status <runId>")
		return 2
	}
	runID := fs.Arg(0)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		return 1
	}
	store := storeclient.New(storeclient.Config{BaseURL: cfg.StoreURL, Token: cfg.StoreToken})

	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	initial, err := store.GetRun(reqCtx, runID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "get run %s: %v\n", runID, err)
		return 1
	}
	events, err := store.ListRunEvents(reqCtx, runID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list run events %s: %v\n", runID, err)
		return 1
	}

	final := runstate.Reduce(initial, events)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(final); err != nil {
		fmt.Fprintf(os.Stderr, "encode run state: %v\n", err)
		return 1
	}
	return 0
}
