package postgres

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rebase-inc/knowledge-scanner/internal/domain"
)

// ScanJobRepo implements domain.ScanJobRepository against a scan_jobs table.
type ScanJobRepo struct {
	pool *pgxpool.Pool
}

// NewScanJobRepo returns a ScanJobRepo backed by pool.
func NewScanJobRepo(pool *pgxpool.Pool) *ScanJobRepo {
	return &ScanJobRepo{pool: pool}
}

var _ domain.ScanJobRepository = (*ScanJobRepo)(nil)

func (r *ScanJobRepo) Create(ctx domain.Context, j domain.ScanJob) (string, error) {
	id := j.ID
	if id == "" {
		id = uuid.NewString()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO scan_jobs (id, username, status, force_overwrite, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
	`, id, j.Username, string(j.Status), j.ForceOverwrite)
	if err != nil {
		return "", fmt.Errorf("postgres: create scan job: %w", err)
	}
	return id, nil
}

func (r *ScanJobRepo) UpdateStatus(ctx domain.Context, id string, status domain.ScanStatus, errMsg *string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE scan_jobs SET status = $1, error = $2, updated_at = now() WHERE id = $3
	`, string(status), errMsg, id)
	if err != nil {
		return fmt.Errorf("postgres: update scan job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: scan job %s", domain.ErrNotFound, id)
	}
	return nil
}

func (r *ScanJobRepo) Get(ctx domain.Context, id string) (domain.ScanJob, error) {
	var j domain.ScanJob
	var status string
	var errMsg *string
	err := r.pool.QueryRow(ctx, `
		SELECT id, username, status, error, force_overwrite, created_at, updated_at
		FROM scan_jobs WHERE id = $1
	`, id).Scan(&j.ID, &j.Username, &status, &errMsg, &j.ForceOverwrite, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ScanJob{}, fmt.Errorf("%w: scan job %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return domain.ScanJob{}, fmt.Errorf("postgres: get scan job: %w", err)
	}
	j.Status = domain.ScanStatus(status)
	if errMsg != nil {
		j.Error = *errMsg
	}
	return j, nil
}
