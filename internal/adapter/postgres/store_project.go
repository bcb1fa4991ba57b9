package postgres

import (
	"context"
	"fmt"

	"github.com/buildhive/buildhive/internal/domain/project"
)

// GetProject returns a project by ID.
func (s *Store) GetProject(ctx context.Context, id string) (*project.Project, error) {
	var p project.Project
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, name, language, description, created_at, updated_at
		 FROM projects WHERE id = $1`, id).
		Scan(&p.ID, &p.UserID, &p.Name, &p.Language, &p.Description, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFoundWrap(err, "get project %s", id)
	}
	return &p, nil
}

// ListProjectFiles returns the project's generated files, ordered by path.
func (s *Store) ListProjectFiles(ctx context.Context, projectID string, limit int) ([]project.File, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, project_id, path, content, updated_at
		 FROM project_files WHERE project_id = $1 ORDER BY path LIMIT $2`,
		projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("list project files: %w", err)
	}
	defer rows.Close()

	var files []project.File
	for rows.Next() {
		var f project.File
		if err := rows.Scan(&f.ID, &f.ProjectID, &f.Path, &f.Content, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan project file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// UpsertProjectFile creates or overwrites a generated file keyed by
// (project, path).
func (s *Store) UpsertProjectFile(ctx context.Context, projectID, path, content string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO project_files (project_id, path, content, updated_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (project_id, path) DO UPDATE SET content = EXCLUDED.content, updated_at = NOW()`,
		projectID, path, content)
	if err != nil {
		return fmt.Errorf("upsert project file %s: %w", path, err)
	}
	return nil
}
