// Package database defines the persistence gateway port (interface).
// The orchestrator and credit ledger depend only on this shape, not on a
// specific database engine.
package database

import (
	"context"

	"github.com/buildhive/buildhive/internal/domain/credit"
	"github.com/buildhive/buildhive/internal/domain/job"
	"github.com/buildhive/buildhive/internal/domain/project"
	"github.com/buildhive/buildhive/internal/domain/settings"
	"github.com/buildhive/buildhive/internal/domain/task"
	"github.com/buildhive/buildhive/internal/domain/user"
)

// Store is the port interface for all persistence operations.
type Store interface {
	// Jobs. Tasks are embedded in the job document; UpdateJobTask writes one
	// task in place and, once the task reaches a terminal status, advances
	// the cursor past it so finished tasks are never re-run.
	CreateJob(ctx context.Context, j *job.Job) error
	GetJob(ctx context.Context, id string) (*job.Job, error)
	GetUserJob(ctx context.Context, id, userID string) (*job.Job, error)
	ListJobsByUser(ctx context.Context, userID string, limit int) ([]job.Job, error)
	MarkJobPlanned(ctx context.Context, id string, tasks []task.Task, totalEstimated float64, plannerOutput string, plannerMeta map[string]any) error
	MarkJobApproved(ctx context.Context, id string, tasks []task.Task, totalEstimated float64) error
	MarkJobStarted(ctx context.Context, id string) error
	MarkJobPaused(ctx context.Context, id string, cursor int, creditsNeeded float64) error
	MarkJobCompleted(ctx context.Context, id string, creditsUsed float64) error
	UpdateJobStatus(ctx context.Context, id string, status job.Status, errMsg string) error
	UpdateJobTask(ctx context.Context, id string, index int, t task.Task) error
	UpdateJobErrorCount(ctx context.Context, id string, count int) error

	// Users. DeductUserCredits must perform the balance check and decrement
	// as one atomic unit relative to concurrent deductions for the same user;
	// it returns credit.ErrInsufficient when the balance would go negative.
	GetUser(ctx context.Context, id string) (*user.User, error)
	UserCredits(ctx context.Context, id string) (float64, error)
	DeductUserCredits(ctx context.Context, id string, amount float64) (float64, error)
	AddUserCredits(ctx context.Context, id string, amount float64) (float64, error)
	HasActiveProviderKey(ctx context.Context, userID string) (bool, error)

	// Projects and generated files. Files are upserted by (project, path).
	GetProject(ctx context.Context, id string) (*project.Project, error)
	ListProjectFiles(ctx context.Context, projectID string, limit int) ([]project.File, error)
	UpsertProjectFile(ctx context.Context, projectID, path, content string) error

	// Credit ledger (append-only).
	AppendLedgerEntry(ctx context.Context, e *credit.LedgerEntry) error
	ListLedgerEntries(ctx context.Context, userID string, limit int) ([]credit.LedgerEntry, error)

	// System settings.
	ListSettings(ctx context.Context) ([]settings.Setting, error)
}
