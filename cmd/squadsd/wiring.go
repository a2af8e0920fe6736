package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/fluxhive/squads/internal/backend"
	"github.com/fluxhive/squads/internal/bus"
	"github.com/fluxhive/squads/internal/cadence"
	"github.com/fluxhive/squads/internal/cadenceloop"
	"github.com/fluxhive/squads/internal/executor"
	"github.com/fluxhive/squads/internal/feedback"
	"github.com/fluxhive/squads/internal/intake"
	otelpkg "github.com/fluxhive/squads/internal/otel"
	"github.com/fluxhive/squads/internal/storeclient"
	"github.com/fluxhive/squads/internal/supervisor"
	"github.com/fluxhive/squads/internal/types"

	"go.opentelemetry.io/otel/metric"
)

// feedbackStore adapts *storeclient.Client to feedback.Client, bridging the
// few shapes that differ between the store's wire types and the worker's
// decoupled ones.
type feedbackStore struct {
	store *storeclient.Client
}

func (s feedbackStore) ListPendingFeedback(ctx context.Context, limit int) ([]types.FeedbackEvent, error) {
	return s.store.ListPendingFeedback(ctx, limit)
}

func (s feedbackStore) GetIntegration(ctx context.Context, id string) (types.Integration, error) {
	return s.store.GetIntegration(ctx, id)
}

func (s feedbackStore) GetExecutionRepoContext(ctx context.Context, taskID string) (feedback.RepoRef, error) {
	rc, err := s.store.GetExecutionRepoContext(ctx, taskID)
	return feedback.RepoRef{Owner: rc.Owner, Repo: rc.Repo}, err
}

// GetTaskInput has no dedicated store endpoint; it is a narrowed view of
// tasks.get.
func (s feedbackStore) GetTaskInput(ctx context.Context, taskID string) (string, error) {
	task, err := s.store.GetTask(ctx, taskID)
	return task.Input, err
}

func (s feedbackStore) ProcessFeedbackByID(ctx context.Context, eventID string) error {
	return s.store.ProcessFeedbackByID(ctx, eventID)
}

func (s feedbackStore) MarkDeliveryFailure(ctx context.Context, eventID, errMsg string) (types.FeedbackDeliveryStatus, error) {
	result, err := s.store.MarkDeliveryFailure(ctx, eventID, errMsg)
	return result.Status, err
}

// instrumentedFeedbackClient wraps feedback.Client, publishing bus events
// and metrics around the two terminal calls the worker makes per event.
type instrumentedFeedbackClient struct {
	feedback.Client
	bus     *bus.Bus
	metrics *otelpkg.Metrics
}

func (c instrumentedFeedbackClient) ProcessFeedbackByID(ctx context.Context, eventID string) error {
	err := c.Client.ProcessFeedbackByID(ctx, eventID)
	if err == nil {
		c.metrics.FeedbackDeliveries.Add(ctx, 1)
		c.bus.Publish(bus.TopicFeedbackDelivered, bus.FeedbackDeliveredEvent{EventID: eventID})
	}
	return err
}

func (c instrumentedFeedbackClient) MarkDeliveryFailure(ctx context.Context, eventID, errMsg string) (types.FeedbackDeliveryStatus, error) {
	status, err := c.Client.MarkDeliveryFailure(ctx, eventID, errMsg)
	c.metrics.FeedbackDeliveryErrors.Add(ctx, 1)
	c.bus.Publish(bus.TopicFeedbackDeliveryFailed, bus.FeedbackDeliveryFailedEvent{EventID: eventID, Err: errMsg})
	return status, err
}

// intakeStore adapts *storeclient.Client to intake.Client.
type intakeStore struct {
	store *storeclient.Client
	bus   *bus.Bus
	metrics *otelpkg.Metrics
}

func (s intakeStore) ListIntegrations(ctx context.Context) ([]types.Integration, error) {
	return s.store.ListIntegrations(ctx)
}

func (s intakeStore) IngestIntakeEvent(ctx context.Context, args intake.IngestArgs) (string, error) {
	return s.store.IngestIntakeEvent(ctx, storeclient.IngestIntakeEventArgs{
		IntegrationID: args.IntegrationID,
		ResourceType:  args.ResourceType,
		ResourceID:    args.ResourceID,
		Payload:       args.Payload,
		AutoRoute:     args.AutoRoute,
	})
}

func (s intakeStore) RouteAgentic(ctx context.Context, eventID string) error {
	return s.store.RouteAgentic(ctx, eventID)
}

func (s intakeStore) UpdateIntegration(ctx context.Context, id string, intakeCursor, lastError *string) error {
	err := s.store.UpdateIntegration(ctx, storeclient.UpdateIntegrationArgs{
		ID:           id,
		IntakeCursor: intakeCursor,
		LastError:    lastError,
	})
	if lastError != nil {
		s.metrics.IntakePollFailures.Add(ctx, 1)
		s.bus.Publish(bus.TopicIntakePollFailed, bus.IntakePollFailedEvent{IntegrationID: id, Err: *lastError})
	}
	return err
}

// countByStatus adapts storeclient.TaskCounts (a named type) to the bare
// map type supervisor.Config.CountByStatus expects.
func countByStatus(store *storeclient.Client) func(context.Context) (map[types.TaskStatus]int, error) {
	return func(ctx context.Context) (map[types.TaskStatus]int, error) {
		counts, err := store.CountByStatus(ctx)
		return map[types.TaskStatus]int(counts), err
	}
}

// runCreator adapts storeclient.CreateRun's (runID, error) return to
// cadence.RunCreator's bare error, publishing a cadence-fired event on
// success so the run id isn't simply discarded.
func runCreator(store *storeclient.Client, b *bus.Bus, metrics *otelpkg.Metrics, logger *slog.Logger) cadence.RunCreator {
	return func(ctx context.Context, playbookSlug, streamID, threadID, paramsJSON string) error {
		runID, err := store.CreateRun(ctx, storeclient.CreateRunArgs{
			PlaybookSlug: playbookSlug,
			StreamID:     streamID,
			ThreadID:     threadID,
			ParamsJSON:   paramsJSON,
		})
		if err != nil {
			return err
		}
		logger.Info("cadence fired", "playbook_slug", playbookSlug, "stream_id", streamID, "run_id", runID)
		metrics.CadenceFires.Add(ctx, 1)
		b.Publish(bus.TopicCadenceFired, bus.CadenceFiredEvent{StreamID: streamID, Name: playbookSlug, ThreadID: threadID})
		return nil
	}
}

// subscribeReadyTasks opens the store's live ready-tasks subscription and
// republishes every pushed snapshot on a channel, reconnecting with
// backoff on transport failure. This is the channel half of the
// onUpdate("ready-tasks", ...) relationship the supervisor models as a
// single-reader-goroutine channel (spec §9 design note).
func subscribeReadyTasks(ctx context.Context, store *storeclient.Client, logger *slog.Logger) <-chan []types.Task {
	out := make(chan []types.Task, 1)
	go func() {
		defer close(out)
		backoff := time.Second
		for ctx.Err() == nil {
			sub, err := store.Subscribe(ctx, "tasks.getReady", nil)
			if err != nil {
				logger.Error("ready-tasks subscribe failed", "error", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoff):
				}
				if backoff < 30*time.Second {
					backoff *= 2
				}
				continue
			}
			backoff = time.Second

			for {
				var snapshot []types.Task
				if err := sub.Next(ctx, &snapshot); err != nil {
					sub.Close()
					if ctx.Err() != nil {
						return
					}
					logger.Warn("ready-tasks subscription read failed, reconnecting", "error", err)
					break
				}
				select {
				case out <- snapshot:
				case <-ctx.Done():
					sub.Close()
					return
				}
			}
		}
	}()
	return out
}

// runExecution drives one execution against exec, wiring the live
// CLIExecutor path (Run/Abort/Classify, spec §4.8) when the registry
// handed back a *executor.CLIExecutor, and falling back to the bare
// backend.Executor interface plus a manual Classify otherwise.
func runExecution(ctx context.Context, exec backend.Executor, prompt, workDir, model string, allowedTools []string) executor.Outcome {
	if cli, ok := exec.(*executor.CLIExecutor); ok {
		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-ctx.Done():
				cli.Abort()
			case <-done:
			}
		}()
		return cli.Run(ctx, prompt, workDir, model, allowedTools)
	}

	result, err := exec.Execute(ctx, prompt, workDir)
	if err != nil && ctx.Err() == nil {
		return executor.Outcome{Status: executor.StatusFailed, Err: err}
	}
	return executor.Classify(result, ctx.Err() != nil)
}

// outcomeToReport maps an executor.Outcome to the store write and the
// new task status it implies, per the allowed Doing->{Review,Failed,
// Cancelled} transitions (internal/types/task.go).
func outcomeToReport(taskID string, outcome executor.Outcome) (storeclient.ReportTaskOutcomeArgs, types.TaskStatus) {
	args := storeclient.ReportTaskOutcomeArgs{TaskID: taskID}
	var status types.TaskStatus
	switch outcome.Status {
	case executor.StatusDone:
		status = types.TaskStatusReview
		args.Output = outcome.Output
	case executor.StatusCancelled:
		status = types.TaskStatusCancelled
		args.Error = outcome.Output
	default:
		status = types.TaskStatusFailed
		if outcome.Err != nil {
			args.Error = outcome.Err.Error()
		}
	}
	args.Status = string(status)
	return args, status
}

// publishOutcome fires the completion-side bus event for a task's
// terminal status, task.completed for review/done and task.failed for
// failed/cancelled.
func publishOutcome(eventBus *bus.Bus, taskID string, oldStatus string, newStatus types.TaskStatus) {
	topic := bus.TopicTaskCompleted
	if newStatus == types.TaskStatusFailed || newStatus == types.TaskStatusCancelled {
		topic = bus.TopicTaskFailed
	}
	eventBus.Publish(topic, bus.TaskStateChangedEvent{TaskID: taskID, OldStatus: oldStatus, NewStatus: string(newStatus)})
}

// buildDispatch resolves a task's backend from its opaque input packet,
// runs it through the matching executor, and reports the terminal
// outcome back to the store, satisfying supervisor.Config.Dispatch.
func buildDispatch(store *storeclient.Client, registry *backend.Registry, runnerDefaultBackend, workspaceRoot string, metrics *otelpkg.Metrics, eventBus *bus.Bus) func(ctx context.Context, task types.Task) <-chan supervisor.DispatchResult {
	return func(ctx context.Context, task types.Task) <-chan supervisor.DispatchResult {
		resultCh := make(chan supervisor.DispatchResult, 1)
		go func() {
			var packet executor.Packet
			if task.Input != "" {
				_ = json.Unmarshal([]byte(task.Input), &packet)
			}

			backendID := backend.Resolve(packet.Execution.Backend, packet.Prompt.Backend, runnerDefaultBackend)
			exec, ok := registry.Get(backendID)
			if !ok {
				resultCh <- supervisor.DispatchResult{TaskID: task.ID, OK: false, Err: fmt.Errorf("no executor registered for backend %q", backendID)}
				return
			}

			prompt := executor.MaterializePrompt(packet, "")
			workDir := packet.Execution.WorkDir
			if workDir == "" {
				workDir = workspaceRoot
			}

			eventBus.Publish(bus.TopicTaskStateChanged, bus.TaskStateChangedEvent{
				TaskID: task.ID, OldStatus: string(task.Status), NewStatus: string(types.TaskStatusDoing),
			})

			backendAttr := metric.WithAttributes(otelpkg.AttrBackendID.String(backendID))
			start := time.Now()
			outcome := runExecution(ctx, exec, prompt, workDir, packet.Execution.Model, packet.Execution.AllowedTools)
			metrics.BackendCallDuration.Record(ctx, time.Since(start).Seconds(), backendAttr)

			ok = outcome.Status == executor.StatusDone
			if !ok {
				metrics.BackendCallErrors.Add(ctx, 1, backendAttr)
			}

			args, newStatus := outcomeToReport(task.ID, outcome)
			dispatchErr := store.ReportTaskOutcome(ctx, args)
			if dispatchErr == nil && !ok {
				dispatchErr = outcome.Err
			}
			publishOutcome(eventBus, task.ID, string(types.TaskStatusDoing), newStatus)

			resultCh <- supervisor.DispatchResult{TaskID: task.ID, OK: ok, Err: dispatchErr}
		}()
		return resultCh
	}
}

// listTodoPackets adapts storeclient.ListTodoPackets to cadenceloop.PageLister.
func listTodoPackets(store *storeclient.Client) cadenceloop.PageLister {
	return func(ctx context.Context, filter cadenceloop.Filter, limit int) ([]cadenceloop.Packet, error) {
		packets, err := store.ListTodoPackets(ctx, storeclient.ListTodoPacketsArgs{
			StreamID:  filter.StreamID,
			Backend:   filter.Backend,
			CostClass: filter.CostClass,
			Limit:     limit,
		})
		if err != nil {
			return nil, err
		}
		out := make([]cadenceloop.Packet, len(packets))
		for i, p := range packets {
			out[i] = cadenceloop.Packet{TaskID: p.TaskID}
		}
		return out, nil
	}
}

// claimAndExecuteFromPacket adapts the cadence loop's claim step to a full
// fetch-materialize-execute-report cycle against the store, satisfying
// cadenceloop.Claimer.
func claimAndExecuteFromPacket(store *storeclient.Client, registry *backend.Registry, runnerDefaultBackend, workspaceRoot string, eventBus *bus.Bus, logger *slog.Logger) cadenceloop.Claimer {
	return func(ctx context.Context, p cadenceloop.Packet) error {
		packets, err := store.ListTodoPackets(ctx, storeclient.ListTodoPacketsArgs{Limit: 1})
		if err != nil {
			return fmt.Errorf("refetch packet %s: %w", p.TaskID, err)
		}
		var tp *storeclient.TaskPacket
		for i := range packets {
			if packets[i].TaskID == p.TaskID {
				tp = &packets[i]
				break
			}
		}
		if tp == nil {
			logger.Warn("cadence loop: packet already claimed by another runner", "task_id", p.TaskID)
			return nil
		}

		backendID := backend.Resolve(tp.Execution.Backend, tp.Prompt.Backend, runnerDefaultBackend)
		exec, ok := registry.Get(backendID)
		if !ok {
			return fmt.Errorf("no executor registered for backend %q", backendID)
		}

		var packet executor.Packet
		packet.Prompt = tp.Prompt
		packet.Execution = tp.Execution
		prompt := executor.MaterializePrompt(packet, "")
		workDir := tp.Execution.WorkDir
		if workDir == "" {
			workDir = workspaceRoot
		}

		outcome := runExecution(ctx, exec, prompt, workDir, tp.Execution.Model, tp.Execution.AllowedTools)
		args, newStatus := outcomeToReport(p.TaskID, outcome)
		if err := store.ReportTaskOutcome(ctx, args); err != nil {
			return err
		}
		publishOutcome(eventBus, p.TaskID, string(types.TaskStatusDoing), newStatus)
		return nil
	}
}
