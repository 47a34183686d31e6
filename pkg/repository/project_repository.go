package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/codeready-toolchain/forge/pkg/models"
)

// ProjectRepository persists project records.
type ProjectRepository struct {
	db *sql.DB
}

// NewProjectRepository creates a repository over the given connection pool.
func NewProjectRepository(db *sql.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

const projectColumns = `id, user_id, name, domain, tech_stack, status, auto_created,
	creation_source, original_prompt, latest_version, active_generation_id,
	created_at, updated_at`

// Create inserts a new project record.
func (r *ProjectRepository) Create(ctx context.Context, p *models.Project) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO projects
			(id, user_id, name, domain, tech_stack, status, auto_created,
			 creation_source, original_prompt, latest_version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())`,
		p.ID, p.UserID, p.Name, p.Domain, p.TechStack, string(p.Status),
		p.AutoCreated, p.CreationSource, models.TruncatePrompt(p.OriginalPrompt),
		p.LatestVersion)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

// GetByID loads a project by id.
func (r *ProjectRepository) GetByID(ctx context.Context, id string) (*models.Project, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = $1`, id)
	return scanProject(row)
}

// FindRecentAutoProject returns the newest auto-created project of the user
// with the given name created within the window. Used by auto-project
// deduplication.
func (r *ProjectRepository) FindRecentAutoProject(ctx context.Context, userID, name string, window time.Duration) (*models.Project, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+projectColumns+` FROM projects
		WHERE user_id = $1
		  AND auto_created = TRUE
		  AND name = $2
		  AND created_at >= now() - $3::interval
		ORDER BY created_at DESC
		LIMIT 1`,
		userID, name, fmt.Sprintf("%d seconds", int(window.Seconds())))
	return scanProject(row)
}

// SetActiveGeneration points the project at its current completed
// generation.
func (r *ProjectRepository) SetActiveGeneration(ctx context.Context, projectID, generationID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE projects
		SET active_generation_id = $2, status = 'active', updated_at = now()
		WHERE id = $1`, projectID, generationID)
	if err != nil {
		return fmt.Errorf("failed to set active generation: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetStatus updates a project's lifecycle status.
func (r *ProjectRepository) SetStatus(ctx context.Context, projectID string, status models.ProjectStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE projects SET status = $2, updated_at = now() WHERE id = $1`,
		projectID, string(status))
	if err != nil {
		return fmt.Errorf("failed to set project status: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListIDs returns all project ids. Used by the retention loop.
func (r *ProjectRepository) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM projects ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list project ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanProject(row scanner) (*models.Project, error) {
	var (
		p      models.Project
		status string
	)
	err := row.Scan(
		&p.ID, &p.UserID, &p.Name, &p.Domain, &p.TechStack, &status, &p.AutoCreated,
		&p.CreationSource, &p.OriginalPrompt, &p.LatestVersion, &p.ActiveGenerationID,
		&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan project: %w", err)
	}
	p.Status = models.ProjectStatus(status)
	return &p, nil
}
