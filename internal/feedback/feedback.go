// Package feedback implements the feedback worker: it drains pending
// FeedbackEvents and, for GitHub-integration task-status transitions
// opted into status comments via golden-path.yaml, posts a fixed-format
// comment back to the originating issue.
package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fluxhive/squads/internal/goldenpath"
	"github.com/fluxhive/squads/internal/types"
)

const maxOutputChars = 1500

// RepoRef identifies a GitHub repository.
type RepoRef struct {
	Owner string
	Repo  string
}

// EventPayload is the decoded shape of FeedbackEvent.PayloadJSON for a
// task-status-change event.
type EventPayload struct {
	ResourceID  string `json:"resourceId"`
	IssueNumber int    `json:"issueNumber"`
	FromStatus  string `json:"fromStatus"`
	ToStatus    string `json:"toStatus"`
	Goal        string `json:"goal"`
	Output      string `json:"output"`
}

// Client is the subset of the store the feedback worker needs.
type Client interface {
	ListPendingFeedback(ctx context.Context, limit int) ([]types.FeedbackEvent, error)
	GetIntegration(ctx context.Context, id string) (types.Integration, error)
	GetExecutionRepoContext(ctx context.Context, taskID string) (RepoRef, error)
	GetTaskInput(ctx context.Context, taskID string) (string, error)
	ProcessFeedbackByID(ctx context.Context, eventID string) error
	MarkDeliveryFailure(ctx context.Context, eventID, errMsg string) (types.FeedbackDeliveryStatus, error)
}

// GoldenPathFetcher reads a repo's .flux/golden-path.yaml.
type GoldenPathFetcher func(ctx context.Context, repo RepoRef) (goldenpath.Config, error)

// CommentPoster posts a comment to a GitHub issue.
type CommentPoster func(ctx context.Context, repo RepoRef, issueNumber int, body string) error

// Config configures a Worker.
type Config struct {
	Store       Client
	GoldenPath  GoldenPathFetcher
	PostComment CommentPoster
	PollEveryMs int
	BatchLimit  int
	Logger      *slog.Logger
}

// Worker is the feedback worker of spec §4.4.
type Worker struct {
	cfg    Config
	logger *slog.Logger
}

// New builds a Worker, defaulting pollEveryMs=30000 and batchLimit=25.
func New(cfg Config) *Worker {
	if cfg.PollEveryMs <= 0 {
		cfg.PollEveryMs = 30_000
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 25
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{cfg: cfg, logger: logger}
}

// Run loops forever on PollEveryMs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(w.cfg.PollEveryMs) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.PollOnce(ctx)
		}
	}
}

// PollOnce fetches and attempts delivery of up to BatchLimit pending
// events. A single event's failure never aborts the batch.
func (w *Worker) PollOnce(ctx context.Context) {
	events, err := w.cfg.Store.ListPendingFeedback(ctx, w.cfg.BatchLimit)
	if err != nil {
		w.logger.Error("feedback: list pending failed", "error", err)
		return
	}
	for _, ev := range events {
		if err := w.deliver(ctx, ev); err != nil {
			w.logger.Error("feedback: delivery failed", "event_id", ev.ID, "error", err)
		}
	}
}

func (w *Worker) deliver(ctx context.Context, ev types.FeedbackEvent) error {
	integ, err := w.cfg.Store.GetIntegration(ctx, ev.IntegrationID)
	if err != nil {
		return fmt.Errorf("get integration: %w", err)
	}
	if !integ.Enabled || integ.Type != "github" {
		return nil
	}
	if ev.Topic != types.FeedbackTopicTask {
		return nil
	}

	var payload EventPayload
	if err := json.Unmarshal([]byte(ev.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	repo, issueNumber, err := w.resolveRepoAndIssue(ctx, ev, payload, integ)
	if err != nil {
		return fmt.Errorf("resolve repo/issue: %w", err)
	}

	// The golden-path gate is read from the task's execution repo (spec
	// §4.4 step 2), which may differ from the issue's own repo.
	execRepo := repo
	if ev.TaskID != "" {
		if r, err := w.cfg.Store.GetExecutionRepoContext(ctx, ev.TaskID); err == nil && r.Owner != "" {
			execRepo = r
		}
	}

	gp, err := w.cfg.GoldenPath(ctx, execRepo)
	if err != nil {
		return w.fail(ctx, ev.ID, fmt.Errorf("golden path fetch: %w", err))
	}
	if !gp.PostTaskStatusComments() {
		return w.markSent(ctx, ev.ID)
	}
	if payload.ToStatus == "doing" {
		return w.markSent(ctx, ev.ID)
	}

	body := CommentBody(payload.Goal, ev.TaskID, payload.FromStatus, payload.ToStatus, ev.ID, payload.Output)
	if err := w.cfg.PostComment(ctx, repo, issueNumber, body); err != nil {
		return w.fail(ctx, ev.ID, err)
	}
	return w.markSent(ctx, ev.ID)
}

// resolveRepoAndIssue implements spec §4.4 step 1's three-way fallback:
// payload resourceId+issueNumber, then the task's intake.resourceId, then
// the integration's configured owner/repo with the payload issue number.
func (w *Worker) resolveRepoAndIssue(ctx context.Context, ev types.FeedbackEvent, payload EventPayload, integ types.Integration) (RepoRef, int, error) {
	if payload.ResourceID != "" && payload.IssueNumber != 0 {
		if repo, ok := parseOwnerRepo(payload.ResourceID); ok {
			return repo, payload.IssueNumber, nil
		}
	}

	if ev.TaskID != "" {
		if input, err := w.cfg.Store.GetTaskInput(ctx, ev.TaskID); err == nil {
			var parsed struct {
				Intake struct {
					ResourceID string `json:"resourceId"`
				} `json:"intake"`
			}
			if json.Unmarshal([]byte(input), &parsed) == nil && parsed.Intake.ResourceID != "" {
				if repo, ok := parseOwnerRepo(parsed.Intake.ResourceID); ok {
					return repo, payload.IssueNumber, nil
				}
			}
		}
	}

	var cfg struct {
		Owner string `json:"owner"`
		Repo  string `json:"repo"`
	}
	if err := json.Unmarshal([]byte(integ.Config), &cfg); err == nil && cfg.Owner != "" && cfg.Repo != "" {
		return RepoRef{Owner: cfg.Owner, Repo: cfg.Repo}, payload.IssueNumber, nil
	}

	return RepoRef{}, 0, fmt.Errorf("could not resolve owner/repo/issue")
}

func parseOwnerRepo(resourceID string) (RepoRef, bool) {
	parts := strings.SplitN(resourceID, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return RepoRef{}, false
	}
	return RepoRef{Owner: parts[0], Repo: parts[1]}, true
}

func (w *Worker) markSent(ctx context.Context, eventID string) error {
	return w.cfg.Store.ProcessFeedbackByID(ctx, eventID)
}

func (w *Worker) fail(ctx context.Context, eventID string, cause error) error {
	if _, err := w.cfg.Store.MarkDeliveryFailure(ctx, eventID, cause.Error()); err != nil {
		return fmt.Errorf("mark delivery failure: %w (original: %v)", err, cause)
	}
	return cause
}

// CommentBody renders the bit-exact comment template of spec §6. The
// trailing Output block is emitted only when output is non-empty.
func CommentBody(goal, taskID, fromStatus, toStatus, eventID, output string) string {
	task := goal
	if task == "" {
		task = taskID
	}
	from := fromStatus
	if from == "" {
		from = "unknown"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Squads status update\n")
	fmt.Fprintf(&b, "- Task: %s\n", task)
	fmt.Fprintf(&b, "- Transition: %s -> %s\n", from, toStatus)
	fmt.Fprintf(&b, "- Feedback event: %s", eventID)

	trimmed := strings.TrimSpace(output)
	if trimmed != "" {
		if len(trimmed) > maxOutputChars {
			trimmed = trimmed[:maxOutputChars] + "..."
		}
		b.WriteString("\n\nOutput:\n```text\n")
		b.WriteString(trimmed)
		b.WriteString("\n```")
	}
	return b.String()
}
