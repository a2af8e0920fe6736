package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/fluxhive/squads/internal/config"
	"github.com/fluxhive/squads/internal/storeclient"
)

// runStatusCommand has no local port to probe (the daemon is an agent of
// the store, not a server the way the gateway is) — status instead checks
// freshness of the supervisorHeartbeat admin marker the running daemon's
// supervisor writes every heartbeat tick.
func runStatusCommand(ctx context.Context, args []string) int {
	if len(args) != 0 {
		fmt.Fprintln(os.Stderr, "usage: squadsd status")
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		return 1
	}

	store := storeclient.New(storeclient.Config{BaseURL: cfg.StoreURL, Token: cfg.StoreToken})

	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	value, found, err := store.GetAdminValue(reqCtx, "supervisorHeartbeat")
	if err != nil {
		fmt.Printf("status: unreachable (%v)\n", err)
		return 1
	}
	if !found {
		fmt.Println("status: no heartbeat recorded yet")
		return 1
	}

	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		fmt.Printf("status: malformed heartbeat value %q\n", value)
		return 1
	}
	age := time.Since(time.UnixMilli(ms))
	fmt.Printf("status: last heartbeat %s ago\n", age.Round(time.Second))

	const staleAfter = 3 * time.Minute
	if age > staleAfter {
		fmt.Printf("status: heartbeat stale (>%s)\n", staleAfter)
		return 1
	}
	return 0
}
