package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/buildhive/buildhive/internal/domain/job"
	"github.com/buildhive/buildhive/internal/domain/task"
)

const jobColumns = `id, project_id, user_id, prompt, status, multi_agent_mode, tasks,
	total_estimated_credits, credits_used, credits_approved, credits_needed,
	current_task_index, error_count, max_errors, error, planner_output,
	planner_metadata, created_at, started_at, completed_at, updated_at`

// CreateJob inserts a new job with its embedded task document.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	tasksJSON, err := json.Marshal(j.Tasks)
	if err != nil {
		return fmt.Errorf("marshal tasks: %w", err)
	}
	metaJSON, err := json.Marshal(j.PlannerMetadata)
	if err != nil {
		return fmt.Errorf("marshal planner metadata: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO jobs (id, project_id, user_id, prompt, status, multi_agent_mode, tasks,
			total_estimated_credits, credits_used, credits_approved, credits_needed,
			current_task_index, error_count, max_errors, error, planner_output,
			planner_metadata, created_at, started_at, completed_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		j.ID, j.ProjectID, j.UserID, j.Prompt, j.Status, j.MultiAgentMode, tasksJSON,
		j.TotalEstimatedCredits, j.CreditsUsed, j.CreditsApproved, j.CreditsNeeded,
		j.CurrentTaskIndex, j.ErrorCount, j.MaxErrors, j.Error, j.PlannerOutput,
		metaJSON, j.CreatedAt, nullTime(j.StartedAt), nullTime(j.CompletedAt), j.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// GetJob returns a job by ID.
func (s *Store) GetJob(ctx context.Context, id string) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if err != nil {
		return nil, notFoundWrap(err, "get job %s", id)
	}
	return j, nil
}

// GetUserJob returns a job by ID scoped to its owner.
func (s *Store) GetUserJob(ctx context.Context, id, userID string) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1 AND user_id = $2`, id, userID)
	j, err := scanJob(row)
	if err != nil {
		return nil, notFoundWrap(err, "get job %s", id)
	}
	return j, nil
}

// ListJobsByUser returns the user's most recent jobs, newest first.
func (s *Store) ListJobsByUser(ctx context.Context, userID string, limit int) ([]job.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// MarkJobPlanned stores the planner result and moves the job to awaiting_approval.
func (s *Store) MarkJobPlanned(ctx context.Context, id string, tasks []task.Task, totalEstimated float64, plannerOutput string, plannerMeta map[string]any) error {
	tasksJSON, err := json.Marshal(tasks)
	if err != nil {
		return fmt.Errorf("marshal tasks: %w", err)
	}
	metaJSON, err := json.Marshal(plannerMeta)
	if err != nil {
		return fmt.Errorf("marshal planner metadata: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $2, tasks = $3, total_estimated_credits = $4,
			planner_output = $5, planner_metadata = $6, updated_at = NOW()
		 WHERE id = $1`,
		id, job.StatusAwaitingApproval, tasksJSON, totalEstimated, plannerOutput, metaJSON)
	return execExpectOne(tag, err, "mark job %s planned", id)
}

// MarkJobApproved stores the approved task list, records the approved budget,
// and resets the cursor to the first task.
func (s *Store) MarkJobApproved(ctx context.Context, id string, tasks []task.Task, totalEstimated float64) error {
	tasksJSON, err := json.Marshal(tasks)
	if err != nil {
		return fmt.Errorf("marshal tasks: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $2, tasks = $3, total_estimated_credits = $4,
			credits_approved = $4, current_task_index = 0, updated_at = NOW()
		 WHERE id = $1`,
		id, job.StatusApproved, tasksJSON, totalEstimated)
	return execExpectOne(tag, err, "mark job %s approved", id)
}

// MarkJobStarted moves the job to in_progress and stamps started_at once.
func (s *Store) MarkJobStarted(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $2, started_at = COALESCE(started_at, NOW()), updated_at = NOW()
		 WHERE id = $1`,
		id, job.StatusInProgress)
	return execExpectOne(tag, err, "mark job %s started", id)
}

// MarkJobPaused parks the job waiting for credits at the given cursor.
func (s *Store) MarkJobPaused(ctx context.Context, id string, cursor int, creditsNeeded float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $2, current_task_index = $3, credits_needed = $4, updated_at = NOW()
		 WHERE id = $1`,
		id, job.StatusNeedsMoreCredits, cursor, creditsNeeded)
	return execExpectOne(tag, err, "mark job %s paused", id)
}

// MarkJobCompleted finalizes the job with its total credit consumption.
func (s *Store) MarkJobCompleted(ctx context.Context, id string, creditsUsed float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $2, credits_used = $3, completed_at = NOW(), updated_at = NOW()
		 WHERE id = $1`,
		id, job.StatusCompleted, creditsUsed)
	return execExpectOne(tag, err, "mark job %s completed", id)
}

// UpdateJobStatus sets the job status and optional error message.
func (s *Store) UpdateJobStatus(ctx context.Context, id string, status job.Status, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $2, error = $3,
			completed_at = CASE WHEN $4 THEN NOW() ELSE completed_at END,
			updated_at = NOW()
		 WHERE id = $1`,
		id, status, errMsg, status.Terminal())
	return execExpectOne(tag, err, "update job %s status", id)
}

// UpdateJobTask writes one task in place within the embedded document. When
// the task has reached a terminal status the cursor advances past it, so a
// run interrupted mid-task resumes on the same task.
func (s *Store) UpdateJobTask(ctx context.Context, id string, index int, t task.Task) error {
	taskJSON, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	advance := t.Status == task.StatusCompleted || t.Status == task.StatusFailed

	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET tasks = jsonb_set(tasks, ARRAY[$2::text], $3::jsonb),
			current_task_index = CASE WHEN $4 THEN GREATEST(current_task_index, $5) ELSE current_task_index END,
			updated_at = NOW()
		 WHERE id = $1`,
		id, strconv.Itoa(index), taskJSON, advance, index+1)
	return execExpectOne(tag, err, "update job %s task %d", id, index)
}

// UpdateJobErrorCount persists the accumulated error count.
func (s *Store) UpdateJobErrorCount(ctx context.Context, id string, count int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET error_count = $2, updated_at = NOW() WHERE id = $1`,
		id, count)
	return execExpectOne(tag, err, "update job %s error count", id)
}

func scanJob(row scannable) (*job.Job, error) {
	var (
		j         job.Job
		tasksJSON []byte
		metaJSON  []byte
	)
	err := row.Scan(&j.ID, &j.ProjectID, &j.UserID, &j.Prompt, &j.Status, &j.MultiAgentMode,
		&tasksJSON, &j.TotalEstimatedCredits, &j.CreditsUsed, &j.CreditsApproved,
		&j.CreditsNeeded, &j.CurrentTaskIndex, &j.ErrorCount, &j.MaxErrors, &j.Error,
		&j.PlannerOutput, &metaJSON, &j.CreatedAt, &j.StartedAt, &j.CompletedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if len(tasksJSON) > 0 {
		if err := json.Unmarshal(tasksJSON, &j.Tasks); err != nil {
			return nil, fmt.Errorf("unmarshal tasks: %w", err)
		}
	}
	if j.Tasks == nil {
		j.Tasks = []task.Task{}
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &j.PlannerMetadata); err != nil {
			return nil, fmt.Errorf("unmarshal planner metadata: %w", err)
		}
	}
	return &j, nil
}
