package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/fluxhive/squads/internal/config"
	"github.com/fluxhive/squads/internal/gateway"
	"github.com/fluxhive/squads/internal/storeclient"
	"github.com/fluxhive/squads/internal/types"
)

const (
	defaultCreateTaskTimeout      = 5 * time.Minute
	defaultCreateTaskPollInterval = 2 * time.Second
)

// runCreateTaskCommand drives the tasks.createAndAwait capability through
// the gateway: the gateway itself creates the task and polls it to a
// terminal status using timeoutMs/pollIntervalMs, so this command's own
// context deadline only needs enough slack over timeout for the gateway's
// last poll round-trip. If the gateway is not configured, it falls back to
// driving the same create-then-poll loop directly against the store.
func runCreateTaskCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("create-task", flag.ContinueOnError)
	streamID := fs.String("stream", "", "stream id the task belongs to")
	taskType := fs.String("type", "", "task type (required)")
	input := fs.String("input", "", "task input payload (required)")
	threadID := fs.String("thread", "", "originating thread id")
	timeout := fs.Duration("timeout", defaultCreateTaskTimeout, "max time to wait for a terminal status")
	pollInterval := fs.Duration("poll-interval", defaultCreateTaskPollInterval, "interval between polls")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *taskType == "" || *input == "" {
		fmt.Fprintln(os.Stderr, "usage: squadsd create-task -type <type> -input <input> [-stream <id>] [-thread <id>] [-timeout <dur>] [-poll-interval <dur>]")
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		return 1
	}

	if cfg.GatewayURL != "" {
		return runCreateTaskViaGateway(ctx, cfg, *streamID, *taskType, *input, *threadID, *timeout, *pollInterval)
	}
	return runCreateTaskViaStore(ctx, cfg, *streamID, *taskType, *input, *threadID, *timeout, *pollInterval)
}

func runCreateTaskViaGateway(ctx context.Context, cfg config.Config, streamID, taskType, input, threadID string, timeout, pollInterval time.Duration) int {
	client := gateway.New(cfg.GatewayURL, cfg.GatewayToken)

	gwCtx, cancel := context.WithTimeout(ctx, timeout+30*time.Second)
	defer cancel()

	result, err := client.Invoke(gwCtx, "tasks.createAndAwait", map[string]any{
		"streamId":      streamID,
		"type":          taskType,
		"input":         input,
		"threadId":      threadID,
		"timeoutMs":     timeout.Milliseconds(),
		"pollIntervalMs": pollInterval.Milliseconds(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "gateway createAndAwait: %v\n", err)
		return 1
	}

	fmt.Println(result.Content)
	return 0
}

func runCreateTaskViaStore(ctx context.Context, cfg config.Config, streamID, taskType, input, threadID string, timeout, pollInterval time.Duration) int {
	store := storeclient.New(storeclient.Config{BaseURL: cfg.StoreURL, Token: cfg.StoreToken})

	createCtx, cancelCreate := context.WithTimeout(ctx, 30*time.Second)
	defer cancelCreate()

	taskID, err := store.CreateTask(createCtx, storeclient.CreateTaskArgs{
		StreamID: streamID,
		Type:     taskType,
		Input:    input,
		ThreadID: threadID,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "create task: %v\n", err)
		return 1
	}
	fmt.Printf("created task %s, awaiting terminal status (timeout %s)\n", taskID, timeout)

	task, err := awaitTerminalTask(ctx, store, taskID, timeout, pollInterval)
	if err != nil {
		fmt.Fprintf(os.Stderr, "await task %s: %v\n", taskID, err)
		return 1
	}

	fmt.Printf("task %s finished with status %s\n", task.ID, task.Status)
	if task.Status == types.TaskStatusFailed {
		return 1
	}
	return 0
}

func isTerminalTaskStatus(status types.TaskStatus) bool {
	switch status {
	case types.TaskStatusDone, types.TaskStatusFailed, types.TaskStatusCancelled:
		return true
	default:
		return false
	}
}

func awaitTerminalTask(ctx context.Context, store *storeclient.Client, taskID string, timeout, pollInterval time.Duration) (types.Task, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		task, err := store.GetTask(ctx, taskID)
		if err != nil {
			return types.Task{}, err
		}
		if isTerminalTaskStatus(task.Status) {
			return task, nil
		}
		if time.Now().After(deadline) {
			return types.Task{}, fmt.Errorf("timed out after %s, last status %s", timeout, task.Status)
		}

		select {
		case <-ctx.Done():
			return types.Task{}, ctx.Err()
		case <-ticker.C:
		}
	}
}
