package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rebase-inc/knowledge-scanner/internal/domain"
)

// RelationalRepo implements domain.RelationalStore against the same schema
// the teacher's adapters query: github_user → github_account → role
// (type='contractor') → skill_set, per spec.md §6.
type RelationalRepo struct {
	pool *pgxpool.Pool
}

// NewRelationalRepo returns a RelationalRepo backed by pool.
func NewRelationalRepo(pool *pgxpool.Pool) *RelationalRepo {
	return &RelationalRepo{pool: pool}
}

var _ domain.RelationalStore = (*RelationalRepo)(nil)

func (r *RelationalRepo) GithubUserID(ctx domain.Context, login string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `SELECT id FROM github_user WHERE login = $1`, login).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: github_user %s", domain.ErrNotFound, login)
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: github user lookup: %w", err)
	}
	return id, nil
}

func (r *RelationalRepo) AccountUserID(ctx domain.Context, githubUserID int64) (int64, error) {
	var userID int64
	err := r.pool.QueryRow(ctx, `SELECT user_id FROM github_account WHERE github_user_id = $1`, githubUserID).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: github_account for github_user %d", domain.ErrNotFound, githubUserID)
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: github account lookup: %w", err)
	}
	return userID, nil
}

func (r *RelationalRepo) ContractorRoleID(ctx domain.Context, userID int64) (int64, error) {
	var roleID int64
	err := r.pool.QueryRow(ctx, `SELECT id FROM role WHERE user_id = $1 AND type = 'contractor'`, userID).Scan(&roleID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: contractor role for user %d", domain.ErrNotFound, userID)
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: contractor role lookup: %w", err)
	}
	return roleID, nil
}

func (r *RelationalRepo) UpdateSkills(ctx domain.Context, skillSetID int64, skills []byte) error {
	tag, err := r.pool.Exec(ctx, `UPDATE skill_set SET skills = $1 WHERE id = $2`, skills, skillSetID)
	if err != nil {
		return fmt.Errorf("postgres: update skill_set: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: skill_set %d", domain.ErrNotFound, skillSetID)
	}
	return nil
}
