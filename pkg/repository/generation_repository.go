package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/codeready-toolchain/forge/pkg/models"
)

// GenerationRepository persists generation records and their status
// transitions.
type GenerationRepository struct {
	db *sql.DB
}

// NewGenerationRepository creates a repository over the given connection pool.
func NewGenerationRepository(db *sql.DB) *GenerationRepository {
	return &GenerationRepository{db: db}
}

const generationColumns = `id, project_id, user_id, version, prompt, context, status,
	is_iteration, parent_generation_id, storage_path, file_count, total_size_bytes,
	output_files, diff_from_previous, changes_summary, quality_score, error_message,
	claimed_by, last_heartbeat, created_at, started_at, completed_at, updated_at`

// Create inserts a new generation record in pending status.
func (r *GenerationRepository) Create(ctx context.Context, gen *models.Generation) error {
	contextJSON, err := marshalNullable(gen.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal context: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO generations
			(id, project_id, user_id, version, prompt, context, status, is_iteration,
			 parent_generation_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())`,
		gen.ID, gen.ProjectID, gen.UserID, gen.Version, gen.Prompt, contextJSON,
		string(gen.Status), gen.IsIteration, gen.ParentGenerationID)
	if err != nil {
		return fmt.Errorf("failed to create generation: %w", err)
	}
	return nil
}

// GetByID loads a generation by id.
func (r *GenerationRepository) GetByID(ctx context.Context, id string) (*models.Generation, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+generationColumns+` FROM generations WHERE id = $1`, id)
	return scanGeneration(row)
}

// ListByProject returns a project's generations ordered by version.
func (r *GenerationRepository) ListByProject(ctx context.Context, projectID string) ([]*models.Generation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+generationColumns+` FROM generations WHERE project_id = $1 ORDER BY version`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list generations: %w", err)
	}
	defer rows.Close()

	var gens []*models.Generation
	for rows.Next() {
		gen, err := scanGeneration(rows)
		if err != nil {
			return nil, err
		}
		gens = append(gens, gen)
	}
	return gens, rows.Err()
}

// GetByProjectVersion loads one generation by (project, version).
func (r *GenerationRepository) GetByProjectVersion(ctx context.Context, projectID string, version int) (*models.Generation, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+generationColumns+` FROM generations WHERE project_id = $1 AND version = $2`,
		projectID, version)
	return scanGeneration(row)
}

// UpdateStatus transitions a generation's status. Terminal statuses are
// sticky: updating an already-terminal record is a no-op, so repeating a
// completed transition is safe.
func (r *GenerationRepository) UpdateStatus(ctx context.Context, id string, status models.GenerationStatus, errorMessage string) error {
	var completedAt sql.NullTime
	if status.IsTerminal() {
		completedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE generations
		SET status = $2,
		    error_message = $3,
		    completed_at = COALESCE($4::timestamptz, completed_at),
		    updated_at = now()
		WHERE id = $1 AND status NOT IN ('completed', 'failed')`,
		id, string(status), errorMessage, completedAt)
	if err != nil {
		return fmt.Errorf("failed to update generation status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		// Either missing or already terminal. Missing is an error; a
		// repeated terminal write is not.
		var existing string
		err := r.db.QueryRowContext(ctx, `SELECT status FROM generations WHERE id = $1`, id).Scan(&existing)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to check generation status: %w", err)
		}
	}
	return nil
}

// RecordOutputs stores the persisted result of a completed generation.
// OutputFiles may be nil when the file map was offloaded to the artifact
// store.
func (r *GenerationRepository) RecordOutputs(ctx context.Context, id string, out models.GenerationOutputs) error {
	filesJSON, err := marshalNullable(out.OutputFiles)
	if err != nil {
		return fmt.Errorf("failed to marshal output files: %w", err)
	}
	summaryJSON, err := marshalNullable(out.ChangesSummary)
	if err != nil {
		return fmt.Errorf("failed to marshal changes summary: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE generations
		SET storage_path = $2,
		    file_count = $3,
		    total_size_bytes = $4,
		    output_files = $5,
		    diff_from_previous = $6,
		    changes_summary = $7,
		    quality_score = $8,
		    updated_at = now()
		WHERE id = $1`,
		id, out.StoragePath, out.FileCount, out.TotalSizeBytes, filesJSON,
		out.DiffFromPrevious, summaryJSON, out.QualityScore)
	if err != nil {
		return fmt.Errorf("failed to record generation outputs: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

// NextVersion atomically increments the project's latest_version and
// returns the new value. This is the serialization point for version
// assignment within a project.
func (r *GenerationRepository) NextVersion(ctx context.Context, projectID string) (int, error) {
	var version int
	err := r.db.QueryRowContext(ctx, `
		UPDATE projects
		SET latest_version = latest_version + 1, updated_at = now()
		WHERE id = $1
		RETURNING latest_version`, projectID).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to allocate next version: %w", err)
	}
	return version, nil
}

// ClaimNextPending atomically claims the oldest pending generation using
// FOR UPDATE SKIP LOCKED and transitions it to processing. Returns
// ErrNoPending when the queue is empty.
func (r *GenerationRepository) ClaimNextPending(ctx context.Context, podID string) (*models.Generation, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM generations
		WHERE status = 'pending'
		ORDER BY created_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoPending
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query pending generation: %w", err)
	}

	row := tx.QueryRowContext(ctx, `
		UPDATE generations
		SET status = 'processing',
		    claimed_by = $2,
		    started_at = now(),
		    last_heartbeat = now(),
		    updated_at = now()
		WHERE id = $1
		RETURNING `+generationColumns, id, podID)
	gen, err := scanGeneration(row)
	if err != nil {
		return nil, fmt.Errorf("failed to claim generation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return gen, nil
}

// Heartbeat refreshes the claim heartbeat on a processing generation.
func (r *GenerationRepository) Heartbeat(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE generations SET last_heartbeat = now() WHERE id = $1 AND status = 'processing'`, id)
	return err
}

// CountProcessing returns the number of generations currently being
// processed across all pods.
func (r *GenerationRepository) CountProcessing(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM generations WHERE status = 'processing'`).Scan(&count)
	return count, err
}

// CountPending returns the current queue depth.
func (r *GenerationRepository) CountPending(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM generations WHERE status = 'pending'`).Scan(&count)
	return count, err
}

// CountProcessingByPod returns the number of generations claimed by one pod.
func (r *GenerationRepository) CountProcessingByPod(ctx context.Context, podID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM generations WHERE status = 'processing' AND claimed_by = $1`, podID).Scan(&count)
	return count, err
}

// FailStartupOrphans marks this pod's processing generations as failed.
// Called once at startup: anything still claimed by this pod was abandoned
// by a previous crash.
func (r *GenerationRepository) FailStartupOrphans(ctx context.Context, podID string) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE generations
		SET status = 'failed',
		    error_message = 'Orphaned: pod ' || $1 || ' restarted while generation was in progress',
		    completed_at = now(),
		    updated_at = now()
		WHERE status = 'processing' AND claimed_by = $1`, podID)
	if err != nil {
		return 0, fmt.Errorf("failed to fail startup orphans: %w", err)
	}
	affected, err := res.RowsAffected()
	return int(affected), err
}

// FailStaleProcessing marks processing generations with stale heartbeats as
// failed and returns their ids. All pods run this independently; the update
// is idempotent.
func (r *GenerationRepository) FailStaleProcessing(ctx context.Context, threshold time.Duration) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE generations
		SET status = 'failed',
		    error_message = 'Orphaned: no heartbeat from pod ' || COALESCE(claimed_by, 'unknown')
		        || ' since ' || COALESCE(to_char(last_heartbeat, 'YYYY-MM-DD"T"HH24:MI:SSOF'), 'unknown'),
		    completed_at = now(),
		    updated_at = now()
		WHERE status = 'processing'
		  AND last_heartbeat IS NOT NULL
		  AND last_heartbeat < now() - $1::interval
		RETURNING id`, fmt.Sprintf("%d seconds", int(threshold.Seconds())))
	if err != nil {
		return nil, fmt.Errorf("failed to fail stale generations: %w", err)
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

// scanner abstracts *sql.Row and *sql.Rows for scanGeneration.
type scanner interface {
	Scan(dest ...any) error
}

func scanGeneration(row scanner) (*models.Generation, error) {
	var (
		gen          models.Generation
		contextJSON  []byte
		filesJSON    []byte
		summaryJSON  []byte
		status       string
		errorMessage sql.NullString
	)

	err := row.Scan(
		&gen.ID, &gen.ProjectID, &gen.UserID, &gen.Version, &gen.Prompt, &contextJSON,
		&status, &gen.IsIteration, &gen.ParentGenerationID, &gen.StoragePath,
		&gen.FileCount, &gen.TotalSizeBytes, &filesJSON, &gen.DiffFromPrevious,
		&summaryJSON, &gen.QualityScore, &errorMessage, &gen.ClaimedBy,
		&gen.LastHeartbeat, &gen.CreatedAt, &gen.StartedAt, &gen.CompletedAt, &gen.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan generation: %w", err)
	}

	gen.Status = models.GenerationStatus(status)
	gen.ErrorMessage = errorMessage.String
	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &gen.Context); err != nil {
			return nil, fmt.Errorf("failed to unmarshal context: %w", err)
		}
	}
	if len(filesJSON) > 0 {
		if err := json.Unmarshal(filesJSON, &gen.OutputFiles); err != nil {
			return nil, fmt.Errorf("failed to unmarshal output files: %w", err)
		}
	}
	if len(summaryJSON) > 0 {
		gen.ChangesSummary = &models.ChangesSummary{}
		if err := json.Unmarshal(summaryJSON, gen.ChangesSummary); err != nil {
			return nil, fmt.Errorf("failed to unmarshal changes summary: %w", err)
		}
	}
	return &gen, nil
}

// marshalNullable encodes v as JSON, mapping nil to SQL NULL.
func marshalNullable(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		if t == nil {
			return nil, nil
		}
	case models.FileMap:
		if t == nil {
			return nil, nil
		}
	case *models.ChangesSummary:
		if t == nil {
			return nil, nil
		}
	default:
		if v == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}
