package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	bhotel "github.com/buildhive/buildhive/internal/adapter/otel"
	"github.com/buildhive/buildhive/internal/agent"
	"github.com/buildhive/buildhive/internal/config"
	"github.com/buildhive/buildhive/internal/domain"
	"github.com/buildhive/buildhive/internal/domain/credit"
	"github.com/buildhive/buildhive/internal/domain/job"
	"github.com/buildhive/buildhive/internal/domain/project"
	"github.com/buildhive/buildhive/internal/domain/task"
	"github.com/buildhive/buildhive/internal/domain/user"
	"github.com/buildhive/buildhive/internal/port/broadcast"
	"github.com/buildhive/buildhive/internal/port/database"
	"github.com/buildhive/buildhive/internal/port/llm"
	"github.com/buildhive/buildhive/internal/port/messagequeue"
)

const (
	// maxOutputSummaryLen bounds the per-task summary carried to later tasks.
	maxOutputSummaryLen = 500
	// maxOutputPreviewLen bounds the output preview attached to progress events.
	maxOutputPreviewLen = 200

	defaultJobListLimit = 20
)

// OrchestratorService drives jobs through their lifecycle: planning, approval,
// sequential task execution with pause/resume, and completion. Every state
// mutation is persisted before the corresponding progress event is emitted, so
// a crash between the two loses an event but never the state.
type OrchestratorService struct {
	store    database.Store
	credits  *CreditService
	registry *agent.Registry
	gen      llm.Generator
	hub      broadcast.Broadcaster
	queue    messagequeue.Queue
	cfg      *config.Jobs
	metrics  *bhotel.Metrics
}

// SetMetrics attaches metric instruments. Nil metrics disable recording.
func (s *OrchestratorService) SetMetrics(m *bhotel.Metrics) {
	s.metrics = m
}

// NewOrchestratorService creates an OrchestratorService. hub and queue may be
// nil when the corresponding transport is disabled.
func NewOrchestratorService(
	store database.Store,
	credits *CreditService,
	registry *agent.Registry,
	gen llm.Generator,
	hub broadcast.Broadcaster,
	queue messagequeue.Queue,
	cfg *config.Jobs,
) *OrchestratorService {
	return &OrchestratorService{
		store:    store,
		credits:  credits,
		registry: registry,
		gen:      gen,
		hub:      hub,
		queue:    queue,
		cfg:      cfg,
	}
}

// CreateJob persists a new job, runs the planner over the prompt, and leaves
// the job awaiting approval with its priced task list. Planner failure marks
// the job failed and returns it; it is not a service error.
func (s *OrchestratorService) CreateJob(ctx context.Context, u *user.User, p *project.Project, prompt string, multiAgent bool) (*job.Job, error) {
	now := time.Now().UTC()
	j := &job.Job{
		ID:               uuid.NewString(),
		ProjectID:        p.ID,
		UserID:           u.ID,
		Prompt:           prompt,
		Status:           job.StatusAnalyzing,
		MultiAgentMode:   multiAgent,
		Tasks:            []task.Task{},
		CurrentTaskIndex: -1,
		MaxErrors:        s.cfg.MaxErrors,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.CreateJob(ctx, j); err != nil {
		return nil, fmt.Errorf("store job: %w", err)
	}

	if s.metrics != nil {
		s.metrics.JobsCreated.Add(ctx, 1)
	}

	planner := s.registry.New(task.AgentPlanner, s.gen, projectContext(p))
	pctx, cancel := context.WithTimeout(ctx, s.cfg.TaskTimeout)
	defer cancel()
	pctx, planSpan := bhotel.StartPlanSpan(pctx, j.ID)
	res := planner.Execute(pctx, prompt, nil)
	planSpan.End()

	if !res.Success || len(res.TasksGenerated) == 0 {
		reason := "Failed to analyze requirements"
		if err := s.store.UpdateJobStatus(ctx, j.ID, job.StatusFailed, reason); err != nil {
			return nil, fmt.Errorf("mark job failed: %w", err)
		}
		j.Status = job.StatusFailed
		j.Error = reason
		slog.Warn("job planning failed", "job_id", j.ID, "errors", strings.Join(res.Errors, "; "))
		return j, nil
	}

	tasks, est, err := s.credits.EstimateJob(ctx, res.TasksGenerated, u)
	if err != nil {
		return nil, fmt.Errorf("estimate job: %w", err)
	}
	if err := s.store.MarkJobPlanned(ctx, j.ID, tasks, est.TotalCredits, res.Content, res.Metadata); err != nil {
		return nil, fmt.Errorf("mark job planned: %w", err)
	}

	j.Status = job.StatusAwaitingApproval
	j.Tasks = tasks
	j.TotalEstimatedCredits = est.TotalCredits
	j.PlannerOutput = res.Content
	j.PlannerMetadata = res.Metadata

	slog.Info("job planned", "job_id", j.ID, "tasks", len(tasks), "estimated_credits", est.TotalCredits)
	return j, nil
}

// ApproveJob re-prices the (possibly user-modified) task list against the
// current balance and moves the job to approved with the cursor at the first
// task. Jobs outside an approvable status are rejected, including jobs that
// were already approved.
func (s *OrchestratorService) ApproveJob(ctx context.Context, jobID string, u *user.User, modifiedTasks []task.Task) (*job.Job, error) {
	j, err := s.store.GetUserJob(ctx, jobID, u.ID)
	if err != nil {
		return nil, err
	}
	if !j.Status.Approvable() {
		return nil, fmt.Errorf("job %s is %s: %w", jobID, j.Status, domain.ErrInvalidState)
	}

	tasks := j.Tasks
	if len(modifiedTasks) > 0 {
		tasks = modifiedTasks
	}

	tasks, est, err := s.credits.EstimateJob(ctx, tasks, u)
	if err != nil {
		return nil, fmt.Errorf("estimate job: %w", err)
	}
	if !est.FreeUsage && !est.Sufficient {
		return nil, &credit.InsufficientError{Required: est.TotalCredits, Available: u.Credits}
	}

	if err := s.store.MarkJobApproved(ctx, jobID, tasks, est.TotalCredits); err != nil {
		return nil, fmt.Errorf("mark job approved: %w", err)
	}

	j.Status = job.StatusApproved
	j.Tasks = tasks
	j.TotalEstimatedCredits = est.TotalCredits
	j.CreditsApproved = est.TotalCredits
	j.CurrentTaskIndex = 0

	slog.Info("job approved", "job_id", jobID, "tasks", len(tasks), "approved_credits", est.TotalCredits)
	return j, nil
}

// ContinueJob resolves a job paused for credits: declined jobs are cancelled,
// accepted jobs are re-checked against the remaining-work cost and moved back
// to approved with the cursor untouched, so execution resumes where it paused.
func (s *OrchestratorService) ContinueJob(ctx context.Context, jobID string, u *user.User, approved bool) (*job.Job, error) {
	j, err := s.store.GetUserJob(ctx, jobID, u.ID)
	if err != nil {
		return nil, err
	}
	if j.Status != job.StatusNeedsMoreCredits {
		return nil, fmt.Errorf("job %s is %s: %w", jobID, j.Status, domain.ErrInvalidState)
	}

	if !approved {
		if err := s.store.UpdateJobStatus(ctx, jobID, job.StatusCancelled, ""); err != nil {
			return nil, fmt.Errorf("cancel job: %w", err)
		}
		j.Status = job.StatusCancelled
		slog.Info("job cancelled", "job_id", jobID)
		return j, nil
	}

	charge, err := s.credits.ShouldCharge(ctx, u)
	if err != nil {
		return nil, err
	}
	if charge {
		cursor := j.CurrentTaskIndex
		if cursor < 0 {
			cursor = 0
		}
		remaining, err := s.credits.RemainingCost(ctx, j.Tasks[cursor:])
		if err != nil {
			return nil, fmt.Errorf("estimate remaining cost: %w", err)
		}
		balance, err := s.store.UserCredits(ctx, u.ID)
		if err != nil {
			return nil, fmt.Errorf("check balance: %w", err)
		}
		if balance < remaining {
			return nil, &credit.InsufficientError{Required: remaining, Available: balance}
		}
	}

	if err := s.store.UpdateJobStatus(ctx, jobID, job.StatusApproved, ""); err != nil {
		return nil, fmt.Errorf("resume job: %w", err)
	}
	j.Status = job.StatusApproved

	slog.Info("job resumed", "job_id", jobID, "cursor", j.CurrentTaskIndex)
	return j, nil
}

// GetJob returns the job if it belongs to the user.
func (s *OrchestratorService) GetJob(ctx context.Context, jobID, userID string) (*job.Job, error) {
	return s.store.GetUserJob(ctx, jobID, userID)
}

// ListJobs returns the user's most recent jobs.
func (s *OrchestratorService) ListJobs(ctx context.Context, userID string, limit int) ([]job.Job, error) {
	if limit <= 0 {
		limit = defaultJobListLimit
	}
	return s.store.ListJobsByUser(ctx, userID, limit)
}

// ExecuteJob runs an approved job's tasks sequentially and streams progress
// events on the returned channel. The channel is closed when the run ends for
// any reason. Cancelling ctx stops the run after the in-flight persistence
// step; because every mutation lands before its event, an abandoned run is
// resumable from the stored cursor.
func (s *OrchestratorService) ExecuteJob(ctx context.Context, jobID string, u *user.User) <-chan job.Event {
	ch := make(chan job.Event, 16)
	go func() {
		defer close(ch)
		s.run(ctx, ch, jobID, u)
	}()
	return ch
}

// run is the body of a single execution pass over a job.
func (s *OrchestratorService) run(ctx context.Context, ch chan<- job.Event, jobID string, u *user.User) {
	j, err := s.store.GetUserJob(ctx, jobID, u.ID)
	if err != nil {
		s.emit(ctx, ch, jobID, job.Event{Type: job.EventError, Payload: job.ErrorPayload{Message: "Job not found"}})
		return
	}

	ctx, jobSpan := bhotel.StartJobSpan(ctx, jobID, j.ProjectID)
	defer jobSpan.End()

	if !j.Status.Executable() {
		s.emit(ctx, ch, jobID, job.Event{
			Type:    job.EventError,
			Payload: job.ErrorPayload{Message: fmt.Sprintf("Job cannot be executed in status %s", j.Status)},
		})
		return
	}

	p, err := s.store.GetProject(ctx, j.ProjectID)
	if err != nil {
		s.emit(ctx, ch, jobID, job.Event{Type: job.EventError, Payload: job.ErrorPayload{Message: "Project not found"}})
		return
	}

	if err := s.store.MarkJobStarted(ctx, jobID); err != nil {
		s.emit(ctx, ch, jobID, job.Event{Type: job.EventError, Payload: job.ErrorPayload{Message: "Failed to start job"}})
		return
	}
	if !s.emit(ctx, ch, jobID, job.Event{
		Type:    job.EventJobStarted,
		Payload: job.JobStartedPayload{JobID: jobID, TotalTasks: len(j.Tasks)},
	}) {
		return
	}

	cursor := j.CurrentTaskIndex
	if cursor < 0 {
		cursor = 0
	}
	errorCount := j.ErrorCount
	maxErrors := j.MaxErrors
	if maxErrors <= 0 {
		maxErrors = job.DefaultMaxErrors
	}
	// credits_used is only written at completion; on resume the running total
	// is rebuilt from the per-task actuals persisted in earlier passes.
	totalUsed := 0.0
	for i := 0; i < cursor && i < len(j.Tasks); i++ {
		totalUsed += j.Tasks[i].ActualCredits
	}

	existing := s.loadProjectFiles(ctx, j.ProjectID)
	previous := completedOutputs(j.Tasks[:cursor])

	for i := cursor; i < len(j.Tasks); i++ {
		t := &j.Tasks[i]

		charge, err := s.credits.ShouldCharge(ctx, u)
		if err != nil {
			slog.Error("charge check failed, assuming billable", "job_id", jobID, "error", err)
			charge = true
		}
		if charge {
			balance, err := s.store.UserCredits(ctx, u.ID)
			if err == nil && balance < t.EstimatedCredits {
				s.pauseForCredits(ctx, ch, j, i, balance)
				return
			}
		}

		t.Status = task.StatusRunning
		if err := s.store.UpdateJobTask(ctx, jobID, i, *t); err != nil {
			slog.Error("persist task start", "job_id", jobID, "task_index", i, "error", err)
		}
		if !s.emit(ctx, ch, jobID, job.Event{
			Type:    job.EventTaskStarted,
			Payload: job.TaskStartedPayload{TaskIndex: i, TaskID: t.ID, Title: t.Title, Agent: string(t.AgentType)},
		}) {
			return
		}

		taskStart := time.Now()
		tctx, taskSpan := bhotel.StartTaskSpan(ctx, t.ID, string(t.AgentType), i)
		res, execErr := s.executeTask(tctx, t, p, previous, existing, j.Prompt)
		taskSpan.End()
		if s.metrics != nil {
			s.metrics.TasksExecuted.Add(ctx, 1, metric.WithAttributes(
				attribute.String("agent", string(t.AgentType)),
				attribute.Bool("success", execErr == nil && res.Success),
			))
			s.metrics.TaskDuration.Record(ctx, time.Since(taskStart).Seconds())
		}
		if execErr != nil {
			t.Status = task.StatusFailed
			t.Error = execErr.Error()
			if err := s.store.UpdateJobTask(ctx, jobID, i, *t); err != nil {
				slog.Error("persist task crash", "job_id", jobID, "task_index", i, "error", err)
			}
			if !s.emit(ctx, ch, jobID, job.Event{
				Type:    job.EventTaskError,
				Payload: job.TaskErrorPayload{TaskIndex: i, TaskID: t.ID, Error: execErr.Error()},
			}) {
				return
			}
			errorCount++
			s.recordErrorCount(ctx, jobID, errorCount)
			if errorCount >= maxErrors {
				s.failJob(ctx, ch, jobID, "Too many errors during execution")
				return
			}
			continue
		}

		t.Output = res.Content
		t.ActualTokens = res.TokensUsed
		if actual, err := s.credits.Calculate(ctx, res.TokensUsed, credit.TierProject); err == nil {
			t.ActualCredits = actual
		}
		if res.Success {
			t.Status = task.StatusCompleted
		} else {
			t.Status = task.StatusFailed
		}
		if len(res.Errors) > 0 {
			t.Error = strings.Join(res.Errors, "; ")
		}

		t.FilesCreated = s.persistFiles(ctx, j.ProjectID, res.FilesCreated, &existing)

		if charge && t.ActualCredits > 0 {
			if _, err := s.credits.Deduct(ctx, u.ID, t.ActualCredits, "Task: "+t.Title, "job_task", t.ID); err != nil {
				slog.Error("task deduction failed", "job_id", jobID, "task_id", t.ID, "error", err)
			} else {
				totalUsed += t.ActualCredits
				if s.metrics != nil {
					s.metrics.CreditsCharged.Add(ctx, t.ActualCredits)
				}
			}
		}

		if err := s.store.UpdateJobTask(ctx, jobID, i, *t); err != nil {
			slog.Error("persist task result", "job_id", jobID, "task_index", i, "error", err)
		}

		previous = append(previous, agent.OutputRef{
			Agent:   string(t.AgentType),
			Summary: truncateRunes(res.Content, maxOutputSummaryLen),
		})

		if !s.emit(ctx, ch, jobID, job.Event{
			Type: job.EventTaskDone,
			Payload: job.TaskDonePayload{
				TaskIndex:     i,
				TaskID:        t.ID,
				Success:       res.Success,
				FilesCreated:  t.FilesCreated,
				CreditsUsed:   t.ActualCredits,
				OutputPreview: truncateRunes(res.Content, maxOutputPreviewLen),
			},
		}) {
			return
		}

		if !res.Success {
			errorCount++
			s.recordErrorCount(ctx, jobID, errorCount)
			if errorCount >= maxErrors {
				s.failJob(ctx, ch, jobID, "Too many errors during execution")
				return
			}
			if len(res.Errors) > 0 {
				if !s.attemptAutoFix(ctx, ch, j, t, res.Errors, p, &existing) {
					return
				}
			}
		}
	}

	if err := s.store.MarkJobCompleted(ctx, jobID, totalUsed); err != nil {
		slog.Error("mark job completed", "job_id", jobID, "error", err)
	}
	if s.metrics != nil {
		s.metrics.JobsCompleted.Add(ctx, 1)
	}
	filesTotal := 0
	for i := range j.Tasks {
		filesTotal += len(j.Tasks[i].FilesCreated)
	}
	s.emit(ctx, ch, jobID, job.Event{
		Type:    job.EventJobCompleted,
		Payload: job.JobCompletedPayload{JobID: jobID, TotalCreditsUsed: totalUsed, FilesCreated: filesTotal},
	})
	slog.Info("job completed", "job_id", jobID, "credits_used", totalUsed, "files", filesTotal)
}

// executeTask dispatches one task to its agent. A panicking agent is contained
// here and surfaces as an error instead of killing the run.
func (s *OrchestratorService) executeTask(
	ctx context.Context,
	t *task.Task,
	p *project.Project,
	previous []agent.OutputRef,
	existing []agent.File,
	requirements string,
) (res *agent.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task execution panic: %v", r)
		}
	}()

	ag := s.registry.New(t.AgentType, s.gen, projectContext(p))

	desc := t.Description
	if desc == "" {
		desc = t.Title
	}

	tctx, cancel := context.WithTimeout(ctx, s.cfg.TaskTimeout)
	defer cancel()

	return ag.Execute(tctx, desc, &agent.Context{
		PreviousOutputs:      previous,
		ExistingFiles:        existing,
		OriginalRequirements: requirements,
	}), nil
}

// attemptAutoFix runs a single debugger pass over the failed task's errors.
// One attempt per failure; the fix outcome is not itself retried. Returns
// false when the consumer is gone and the run should stop.
func (s *OrchestratorService) attemptAutoFix(
	ctx context.Context,
	ch chan<- job.Event,
	j *job.Job,
	t *task.Task,
	taskErrors []string,
	p *project.Project,
	existing *[]agent.File,
) bool {
	fixer := s.registry.New(task.AgentDebugger, s.gen, projectContext(p))

	desc := fmt.Sprintf("Fix the following errors from task %q:\n%s", t.Title, strings.Join(taskErrors, "\n"))
	tctx, cancel := context.WithTimeout(ctx, s.cfg.TaskTimeout)
	defer cancel()

	res := func() (res *agent.Result) {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("auto-fix panic", "job_id", j.ID, "task_id", t.ID, "panic", r)
				res = nil
			}
		}()
		return fixer.Execute(tctx, desc, &agent.Context{
			ExistingFiles: *existing,
			Errors:        taskErrors,
		})
	}()
	if res == nil || !res.Success || len(res.FilesCreated) == 0 {
		return true
	}

	s.persistFiles(ctx, j.ProjectID, res.FilesCreated, existing)

	slog.Info("auto-fix applied", "job_id", j.ID, "task_id", t.ID, "files", len(res.FilesCreated))
	return s.emit(ctx, ch, j.ID, job.Event{
		Type:    job.EventAutoFix,
		Payload: job.AutoFixPayload{TaskID: t.ID, FixDescription: "Applied automatic fixes"},
	})
}

// pauseForCredits parks the job at the current cursor and tells the consumer
// how many credits are needed to finish.
func (s *OrchestratorService) pauseForCredits(ctx context.Context, ch chan<- job.Event, j *job.Job, cursor int, balance float64) {
	remaining, err := s.credits.RemainingCost(ctx, j.Tasks[cursor:])
	if err != nil {
		slog.Error("estimate remaining cost", "job_id", j.ID, "error", err)
	}
	if err := s.store.MarkJobPaused(ctx, j.ID, cursor, remaining); err != nil {
		slog.Error("pause job", "job_id", j.ID, "error", err)
	}

	s.emit(ctx, ch, j.ID, job.Event{
		Type: job.EventNeedsCredits,
		Payload: job.NeedsCreditsPayload{
			Message:        "Insufficient credits to continue",
			CreditsNeeded:  remaining,
			CurrentCredits: balance,
			CompletedTasks: cursor,
			RemainingTasks: len(j.Tasks) - cursor,
		},
	})
	slog.Info("job paused for credits", "job_id", j.ID, "cursor", cursor, "needed", remaining, "balance", balance)
}

func (s *OrchestratorService) failJob(ctx context.Context, ch chan<- job.Event, jobID, reason string) {
	if err := s.store.UpdateJobStatus(ctx, jobID, job.StatusFailed, reason); err != nil {
		slog.Error("mark job failed", "job_id", jobID, "error", err)
	}
	if s.metrics != nil {
		s.metrics.JobsFailed.Add(ctx, 1)
	}
	s.emit(ctx, ch, jobID, job.Event{Type: job.EventJobFailed, Payload: job.JobFailedPayload{Reason: reason}})
	slog.Warn("job failed", "job_id", jobID, "reason", reason)
}

func (s *OrchestratorService) recordErrorCount(ctx context.Context, jobID string, count int) {
	if err := s.store.UpdateJobErrorCount(ctx, jobID, count); err != nil {
		slog.Error("persist error count", "job_id", jobID, "error", err)
	}
}

// persistFiles upserts generated files and folds them into the in-memory file
// context, returning the written paths.
func (s *OrchestratorService) persistFiles(ctx context.Context, projectID string, files []agent.File, existing *[]agent.File) []string {
	paths := make([]string, 0, len(files))
	for _, f := range files {
		if err := s.store.UpsertProjectFile(ctx, projectID, f.Path, f.Content); err != nil {
			slog.Error("upsert project file", "project_id", projectID, "path", f.Path, "error", err)
			continue
		}
		paths = append(paths, f.Path)

		replaced := false
		for i := range *existing {
			if (*existing)[i].Path == f.Path {
				(*existing)[i].Content = f.Content
				replaced = true
				break
			}
		}
		if !replaced {
			*existing = append(*existing, f)
		}
	}
	return paths
}

func (s *OrchestratorService) loadProjectFiles(ctx context.Context, projectID string) []agent.File {
	files, err := s.store.ListProjectFiles(ctx, projectID, s.cfg.FileContextLimit)
	if err != nil {
		slog.Error("load project files", "project_id", projectID, "error", err)
		return nil
	}
	out := make([]agent.File, 0, len(files))
	for _, f := range files {
		out = append(out, agent.File{Path: f.Path, Content: f.Content})
	}
	return out
}

// emit delivers an event to the stream consumer, then mirrors it to the
// websocket hub and the message queue. It returns false when the consumer's
// context is done, which aborts the run; state is already persisted at every
// emit site, so the job resumes cleanly.
func (s *OrchestratorService) emit(ctx context.Context, ch chan<- job.Event, jobID string, ev job.Event) bool {
	select {
	case ch <- ev:
	case <-ctx.Done():
		slog.Info("event stream consumer gone", "job_id", jobID, "event", ev.Type)
		return false
	}

	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, string(ev.Type), ev)
	}
	if s.queue != nil {
		if data, err := json.Marshal(ev); err == nil {
			if err := s.queue.Publish(ctx, "jobs."+jobID+"."+string(ev.Type), data); err != nil {
				slog.Warn("publish job event", "job_id", jobID, "event", ev.Type, "error", err)
			}
		}
	}
	return true
}

// completedOutputs rebuilds the prior-output context from tasks finished in an
// earlier execution pass, so resumed jobs keep their context chain.
func completedOutputs(done []task.Task) []agent.OutputRef {
	var refs []agent.OutputRef
	for i := range done {
		if done[i].Status != task.StatusCompleted || done[i].Output == "" {
			continue
		}
		refs = append(refs, agent.OutputRef{
			Agent:   string(done[i].AgentType),
			Summary: truncateRunes(done[i].Output, maxOutputSummaryLen),
		})
	}
	return refs
}

func projectContext(p *project.Project) agent.ProjectContext {
	return agent.ProjectContext{Name: p.Name, Language: p.Language, Description: p.Description}
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
