package storeclient

import (
	"context"
	"encoding/json"

	"github.com/fluxhive/squads/internal/types"
)

// TaskCounts is the result of tasks.countByStatus, keyed by TaskStatus.
type TaskCounts map[types.TaskStatus]int

// GetReadyTasks calls tasks.getReady: tasks eligible for dispatch right now.
func (c *Client) GetReadyTasks(ctx context.Context) ([]types.Task, error) {
	var out []types.Task
	err := c.Query(ctx, "tasks.getReady", nil, &out)
	return out, err
}

// CountByStatus calls tasks.countByStatus.
func (c *Client) CountByStatus(ctx context.Context) (TaskCounts, error) {
	var out TaskCounts
	err := c.Query(ctx, "tasks.countByStatus", nil, &out)
	return out, err
}

// GetTask calls tasks.get.
func (c *Client) GetTask(ctx context.Context, taskID string) (types.Task, error) {
	var out types.Task
	err := c.Query(ctx, "tasks.get", map[string]string{"taskId": taskID}, &out)
	return out, err
}

// CreateTaskArgs is the payload for tasks.create.
type CreateTaskArgs struct {
	StreamID string `json:"streamId,omitempty"`
	Type     string `json:"type"`
	Input    string `json:"input"`
	ThreadID string `json:"threadId,omitempty"`
}

// CreateTask calls tasks.create, returning the new task id.
func (c *Client) CreateTask(ctx context.Context, args CreateTaskArgs) (string, error) {
	var out struct {
		TaskID string `json:"taskId"`
	}
	err := c.Mutation(ctx, "tasks.create", args, &out)
	return out.TaskID, err
}

// ExecutionRepoContext describes the repository a task's execution is
// scoped to, used by the feedback worker's golden-path gate.
type ExecutionRepoContext struct {
	Owner string `json:"owner"`
	Repo  string `json:"repo"`
}

// GetExecutionRepoContext calls tasks.getExecutionRepoContext.
func (c *Client) GetExecutionRepoContext(ctx context.Context, taskID string) (ExecutionRepoContext, error) {
	var out ExecutionRepoContext
	err := c.Query(ctx, "tasks.getExecutionRepoContext", map[string]string{"taskId": taskID}, &out)
	return out, err
}

// ListStreams calls streams.list, returning active and inactive streams.
func (c *Client) ListStreams(ctx context.Context) ([]types.Stream, error) {
	var out []types.Stream
	err := c.Query(ctx, "streams.list", nil, &out)
	return out, err
}

// GetPlaybookBySlug calls playbooks.getBySlug, preferring a stream-scoped
// playbook and falling back to a global one (empty streamID).
func (c *Client) GetPlaybookBySlug(ctx context.Context, slug, streamID string) (types.Playbook, error) {
	var out types.Playbook
	err := c.Query(ctx, "playbooks.getBySlug", map[string]string{"slug": slug, "streamId": streamID}, &out)
	return out, err
}

// GetEnabledCronTriggers calls playbook_triggers.getEnabledCrons.
func (c *Client) GetEnabledCronTriggers(ctx context.Context) ([]types.PlaybookTrigger, error) {
	var out []types.PlaybookTrigger
	err := c.Query(ctx, "playbook_triggers.getEnabledCrons", nil, &out)
	return out, err
}

// CreateRunArgs is the payload for runs.create.
type CreateRunArgs struct {
	PlaybookSlug string `json:"playbookSlug"`
	StreamID     string `json:"streamId,omitempty"`
	ThreadID     string `json:"threadId"`
	ParamsJSON   string `json:"paramsJson"`
}

// CreateRun calls runs.create, returning the new run id.
func (c *Client) CreateRun(ctx context.Context, args CreateRunArgs) (string, error) {
	var out struct {
		RunID string `json:"runId"`
	}
	err := c.Mutation(ctx, "runs.create", args, &out)
	return out.RunID, err
}

// memoryKVScope identifies a scoped key namespace, matching spec §3's
// CadenceMarker key shape `scope=stream, namespace=_cadence, key="..."`.
type memoryKVScope struct {
	Scope     string `json:"scope"`
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
}

// GetMemoryKV calls memory_kv.get, returning ("", false) when absent.
func (c *Client) GetMemoryKV(ctx context.Context, scope, namespace, key string) (string, bool, error) {
	var out struct {
		Value string `json:"value"`
		Found bool   `json:"found"`
	}
	err := c.Query(ctx, "memory_kv.get", memoryKVScope{Scope: scope, Namespace: namespace, Key: key}, &out)
	return out.Value, out.Found, err
}

// UpsertMemoryKV calls memory_kv.upsert.
func (c *Client) UpsertMemoryKV(ctx context.Context, scope, namespace, key, value string) error {
	args := struct {
		memoryKVScope
		Value string `json:"value"`
	}{memoryKVScope{Scope: scope, Namespace: namespace, Key: key}, value}
	return c.Mutation(ctx, "memory_kv.upsert", args, nil)
}

// GetAdminValue calls admin.getValue for a top-level admin key such as
// "supervisorHeartbeat" or "last_playbook_trigger_run:<triggerId>".
func (c *Client) GetAdminValue(ctx context.Context, key string) (string, bool, error) {
	var out struct {
		Value string `json:"value"`
		Found bool   `json:"found"`
	}
	err := c.Query(ctx, "admin.getValue", map[string]string{"key": key}, &out)
	return out.Value, out.Found, err
}

// SetAdminValue calls admin.setValue.
func (c *Client) SetAdminValue(ctx context.Context, key, value string) error {
	return c.Mutation(ctx, "admin.setValue", map[string]string{"key": key, "value": value}, nil)
}

// ListIntegrations calls integrations.list.
func (c *Client) ListIntegrations(ctx context.Context) ([]types.Integration, error) {
	var out []types.Integration
	err := c.Query(ctx, "integrations.list", nil, &out)
	return out, err
}

// GetIntegration calls integrations.get.
func (c *Client) GetIntegration(ctx context.Context, id string) (types.Integration, error) {
	var out types.Integration
	err := c.Query(ctx, "integrations.get", map[string]string{"id": id}, &out)
	return out, err
}

// UpdateIntegrationArgs is the payload for integrations.update; zero-value
// fields are left untouched by the store's partial-update semantics.
type UpdateIntegrationArgs struct {
	ID           string  `json:"id"`
	IntakeCursor *string `json:"intakeCursor,omitempty"`
	LastError    *string `json:"lastError,omitempty"`
}

// UpdateIntegration calls integrations.update.
func (c *Client) UpdateIntegration(ctx context.Context, args UpdateIntegrationArgs) error {
	return c.Mutation(ctx, "integrations.update", args, nil)
}

// IngestIntakeEventArgs is the payload for intake_events.ingest.
type IngestIntakeEventArgs struct {
	IntegrationID string `json:"integrationId"`
	ResourceType  string `json:"resourceType"`
	ResourceID    string `json:"resourceId"`
	Payload       string `json:"payload"`
	AutoRoute     bool   `json:"autoRoute"`
}

// IngestIntakeEvent calls intake_events.ingest, returning the new event id.
func (c *Client) IngestIntakeEvent(ctx context.Context, args IngestIntakeEventArgs) (string, error) {
	var out struct {
		EventID string `json:"eventId"`
	}
	err := c.Mutation(ctx, "intake_events.ingest", args, &out)
	return out.EventID, err
}

// RouteAgentic calls intake_events.routeAgentic.
func (c *Client) RouteAgentic(ctx context.Context, eventID string) error {
	return c.Mutation(ctx, "intake_events.routeAgentic", map[string]string{"eventId": eventID}, nil)
}

// ListPendingFeedback calls integration_feedback.listPending.
func (c *Client) ListPendingFeedback(ctx context.Context, limit int) ([]types.FeedbackEvent, error) {
	var out []types.FeedbackEvent
	err := c.Query(ctx, "integration_feedback.listPending", map[string]int{"limit": limit}, &out)
	return out, err
}

// ProcessFeedbackByID calls integration_feedback.processById, marking the
// event sent.
func (c *Client) ProcessFeedbackByID(ctx context.Context, eventID string) error {
	return c.Mutation(ctx, "integration_feedback.processById", map[string]string{"eventId": eventID}, nil)
}

// MarkDeliveryFailureResult is the outcome of calling
// integration_feedback.markDeliveryFailure: the store decides, based on the
// event's attempt budget, whether the next state is "failed" (retryable) or
// "dead_letter" (budget exhausted).
type MarkDeliveryFailureResult struct {
	Status types.FeedbackDeliveryStatus `json:"status"`
}

// MarkDeliveryFailure calls integration_feedback.markDeliveryFailure.
func (c *Client) MarkDeliveryFailure(ctx context.Context, eventID, errMsg string) (MarkDeliveryFailureResult, error) {
	var out MarkDeliveryFailureResult
	err := c.Mutation(ctx, "integration_feedback.markDeliveryFailure",
		map[string]string{"eventId": eventID, "error": errMsg}, &out)
	return out, err
}

// GetSkillByName calls skills.getByName.
func (c *Client) GetSkillByName(ctx context.Context, name string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.Query(ctx, "skills.getByName", map[string]string{"name": name}, &out)
	return out, err
}

// ListAgents calls agents.list.
func (c *Client) ListAgents(ctx context.Context) ([]string, error) {
	var out []string
	err := c.Query(ctx, "agents.list", nil, &out)
	return out, err
}

// HandshakeResult is the response to the startup handshake: push connection
// config and cadence-loop batch-size hints.
type HandshakeResult struct {
	WSURL            string `json:"wsUrl"`
	CadenceLoopMs    int    `json:"cadenceLoopMs"`
	CadenceLoopLimit int    `json:"cadenceLoopLimit"`
}

// Handshake calls daemon.handshake, performed once at startup.
func (c *Client) Handshake(ctx context.Context) (HandshakeResult, error) {
	var out HandshakeResult
	err := c.Query(ctx, "daemon.handshake", nil, &out)
	return out, err
}

// MintPushTicket calls push.mintTicket, minting a short-lived ticket for the
// push client's websocket handshake.
func (c *Client) MintPushTicket(ctx context.Context) (string, error) {
	var out struct {
		Ticket string `json:"ticket"`
	}
	err := c.Mutation(ctx, "push.mintTicket", nil, &out)
	return out.Ticket, err
}

// TaskPacket is the compact/packet-format payload of tasks.listTodoPackets:
// enough to materialize a prompt and execute a task without a second round
// trip to the store.
type TaskPacket struct {
	TaskID string `json:"taskId"`
	Prompt struct {
		Rendered string `json:"rendered"`
		Template string `json:"template"`
		Vars     string `json:"vars"`
		Context  string `json:"context"`
		Backend  string `json:"backend"`
	} `json:"prompt"`
	Execution struct {
		Backend      string   `json:"backend"`
		Model        string   `json:"model"`
		AllowedTools []string `json:"allowedTools"`
		WorkDir      string   `json:"workDir"`
	} `json:"execution"`
}

// ListTodoPacketsArgs is the payload for tasks.listTodoPackets.
type ListTodoPacketsArgs struct {
	StreamID  string `json:"streamId,omitempty"`
	Backend   string `json:"backend,omitempty"`
	CostClass string `json:"costClass,omitempty"`
	Limit     int    `json:"limit"`
}

// ListTodoPackets calls tasks.listTodoPackets, the cadence loop's page
// source (spec §4.6: "list up to limit todo tasks in compact/packet
// format, filtered by streamId/backend/costClass").
func (c *Client) ListTodoPackets(ctx context.Context, args ListTodoPacketsArgs) ([]TaskPacket, error) {
	var out []TaskPacket
	err := c.Query(ctx, "tasks.listTodoPackets", args, &out)
	return out, err
}

// ReportTaskOutcomeArgs is the payload for tasks.reportOutcome.
type ReportTaskOutcomeArgs struct {
	TaskID string `json:"taskId"`
	Status string `json:"status"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ReportTaskOutcome calls tasks.reportOutcome: the terminal write back to
// the store once claimAndExecuteFromPacket resolves.
func (c *Client) ReportTaskOutcome(ctx context.Context, args ReportTaskOutcomeArgs) error {
	return c.Mutation(ctx, "tasks.reportOutcome", args, nil)
}

// GetRun calls runs.get, the initial RunState a run's event log is folded
// onto by internal/runstate.Reduce.
func (c *Client) GetRun(ctx context.Context, runID string) (types.RunState, error) {
	var out types.RunState
	err := c.Query(ctx, "runs.get", map[string]string{"runId": runID}, &out)
	return out, err
}

// ListRunEvents calls runs.listEvents, the ordered event log a run's
// current state is reconstructed from.
func (c *Client) ListRunEvents(ctx context.Context, runID string) ([]types.RunEvent, error) {
	var out []types.RunEvent
	err := c.Query(ctx, "runs.listEvents", map[string]string{"runId": runID}, &out)
	return out, err
}
