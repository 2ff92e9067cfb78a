package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

var (
	ErrRunNotFound = errors.New("run not found")
)

const runColumns = `id, script_hash, script_size, transcript_size, line_count,
	applied_count, dir_count, executed_at, expires_at, deletion_token_hash, created_at`

// Repository provides CRUD operations for runs.
type Repository struct {
	db *DB
}

func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

func scanRun(row pgx.Row) (*Run, error) {
	run := &Run{}
	err := row.Scan(
		&run.ID,
		&run.ScriptHash,
		&run.ScriptSize,
		&run.TranscriptSize,
		&run.LineCount,
		&run.AppliedCount,
		&run.DirCount,
		&run.ExecutedAt,
		&run.ExpiresAt,
		&run.DeletionTokenHash,
		&run.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// Create inserts a new run record.
func (r *Repository) Create(ctx context.Context, run *Run) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO runs (`+runColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		run.ID,
		run.ScriptHash,
		run.ScriptSize,
		run.TranscriptSize,
		run.LineCount,
		run.AppliedCount,
		run.DirCount,
		run.ExecutedAt,
		run.ExpiresAt,
		run.DeletionTokenHash,
		run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// GetByID retrieves a run by its ID.
func (r *Repository) GetByID(ctx context.Context, id string) (*Run, error) {
	run, err := scanRun(r.db.Pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// GetByHash returns the newest live run of an identical script, or nil.
func (r *Repository) GetByHash(ctx context.Context, hash string) (*Run, error) {
	run, err := scanRun(r.db.Pool.QueryRow(ctx, `
		SELECT `+runColumns+` FROM runs
		WHERE script_hash = $1 AND expires_at > NOW()
		ORDER BY executed_at DESC
		LIMIT 1
	`, hash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query by hash: %w", err)
	}
	return run, nil
}

// Delete removes a run record by ID.
func (r *Repository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Pool.Exec(ctx, "DELETE FROM runs WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

// GetExpired returns all runs past their retention.
func (r *Repository) GetExpired(ctx context.Context) ([]*Run, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+runColumns+` FROM runs WHERE expires_at < NOW()`)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expired run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetStats returns aggregate server statistics.
func (r *Repository) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	err := r.db.Pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE expires_at > NOW()),
			COALESCE(SUM(line_count), 0),
			COALESCE(SUM(transcript_size) FILTER (WHERE expires_at > NOW()), 0)
		FROM runs
	`).Scan(
		&stats.TotalRuns,
		&stats.ActiveRuns,
		&stats.TotalLines,
		&stats.TranscriptBytes,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return stats, nil
}
