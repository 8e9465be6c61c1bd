package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rebase-inc/knowledge-scanner/internal/domain"
)

// ScanProgressRepo implements domain.ScanProgressRepository against a
// scan_progress table, one row per ScanJob, per spec.md §6's scan-progress
// reporting supplement.
type ScanProgressRepo struct {
	pool *pgxpool.Pool
}

// NewScanProgressRepo returns a ScanProgressRepo backed by pool.
func NewScanProgressRepo(pool *pgxpool.Pool) *ScanProgressRepo {
	return &ScanProgressRepo{pool: pool}
}

var _ domain.ScanProgressRepository = (*ScanProgressRepo)(nil)

func (r *ScanProgressRepo) Upsert(ctx domain.Context, p domain.ScanProgress) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO scan_progress (job_id, repos_total, repos_done, commits_total, commits_done, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (job_id) DO UPDATE SET
			repos_total = EXCLUDED.repos_total,
			repos_done = EXCLUDED.repos_done,
			commits_total = EXCLUDED.commits_total,
			commits_done = EXCLUDED.commits_done,
			updated_at = now()
	`, p.JobID, p.ReposTotal, p.ReposDone, p.CommitsTotal, p.CommitsDone)
	if err != nil {
		return fmt.Errorf("postgres: upsert scan progress: %w", err)
	}
	return nil
}

func (r *ScanProgressRepo) Get(ctx domain.Context, jobID string) (domain.ScanProgress, error) {
	var p domain.ScanProgress
	err := r.pool.QueryRow(ctx, `
		SELECT job_id, repos_total, repos_done, commits_total, commits_done, updated_at
		FROM scan_progress WHERE job_id = $1
	`, jobID).Scan(&p.JobID, &p.ReposTotal, &p.ReposDone, &p.CommitsTotal, &p.CommitsDone, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ScanProgress{}, fmt.Errorf("%w: scan progress for job %s", domain.ErrNotFound, jobID)
	}
	if err != nil {
		return domain.ScanProgress{}, fmt.Errorf("postgres: get scan progress: %w", err)
	}
	return p, nil
}
