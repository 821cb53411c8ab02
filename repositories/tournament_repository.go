package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fightstack/bracket-sync/models"
	"github.com/lib/pq"
)

var (
	ErrTournamentNotFound     = errors.New("tournament not found")
	ErrTournamentSlugConflict = errors.New("tournament slug conflict")
)

type TournamentRepository interface {
	Upsert(ctx context.Context, exec SQLExecutor, t *models.Tournament) error
	GetByID(ctx context.Context, id int) (*models.Tournament, error)
	GetBySlug(ctx context.Context, slug string) (*models.Tournament, error)
	ListPollable(ctx context.Context) ([]*models.Tournament, error)
	UpdateSyncState(ctx context.Context, exec SQLExecutor, id int, state models.TournamentState, polledAt time.Time, intervalMs int) error
}

type postgresTournamentRepository struct {
	db *sql.DB
}

func NewPostgresTournamentRepository(db *sql.DB) TournamentRepository {
	return &postgresTournamentRepository{db: db}
}

func (r *postgresTournamentRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

// Upsert creates the tournament on first observation and refreshes the
// remote state on every later one, keyed by external id.
func (r *postgresTournamentRepository) Upsert(ctx context.Context, exec SQLExecutor, t *models.Tournament) error {
	query := `
		INSERT INTO tournaments (external_id, slug, state, poll_interval_ms)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (external_id) DO UPDATE
			SET slug = EXCLUDED.slug, state = EXCLUDED.state
		RETURNING id, created_at`

	err := r.getExecutor(exec).QueryRowContext(ctx, query,
		t.ExternalID, t.Slug, t.State, t.PollIntervalMs,
	).Scan(&t.ID, &t.CreatedAt)

	return r.handleTournamentError(err)
}

func (r *postgresTournamentRepository) GetByID(ctx context.Context, id int) (*models.Tournament, error) {
	return r.getOne(ctx, `WHERE id = $1`, id)
}

func (r *postgresTournamentRepository) GetBySlug(ctx context.Context, slug string) (*models.Tournament, error) {
	return r.getOne(ctx, `WHERE slug = $1`, slug)
}

func (r *postgresTournamentRepository) getOne(ctx context.Context, where string, arg interface{}) (*models.Tournament, error) {
	query := `
		SELECT id, external_id, slug, state, last_polled_at, poll_interval_ms, created_at
		FROM tournaments ` + where

	t := &models.Tournament{}
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&t.ID, &t.ExternalID, &t.Slug, &t.State, &t.LastPolledAt, &t.PollIntervalMs, &t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTournamentNotFound
		}
		return nil, fmt.Errorf("failed to scan tournament: %w", err)
	}
	return t, nil
}

func (r *postgresTournamentRepository) ListPollable(ctx context.Context) ([]*models.Tournament, error) {
	query := `
		SELECT id, external_id, slug, state, last_polled_at, poll_interval_ms, created_at
		FROM tournaments
		WHERE state NOT IN ($1, $2)
		ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, models.TournamentCompleted, models.TournamentCancelled)
	if err != nil {
		return nil, fmt.Errorf("failed to query pollable tournaments: %w", err)
	}
	defer rows.Close()

	tournaments := make([]*models.Tournament, 0)
	for rows.Next() {
		t := &models.Tournament{}
		if err := rows.Scan(&t.ID, &t.ExternalID, &t.Slug, &t.State, &t.LastPolledAt, &t.PollIntervalMs, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tournament row: %w", err)
		}
		tournaments = append(tournaments, t)
	}
	return tournaments, rows.Err()
}

func (r *postgresTournamentRepository) UpdateSyncState(ctx context.Context, exec SQLExecutor, id int, state models.TournamentState, polledAt time.Time, intervalMs int) error {
	query := `
		UPDATE tournaments
		SET state = $2, last_polled_at = $3, poll_interval_ms = $4
		WHERE id = $1`

	result, err := r.getExecutor(exec).ExecContext(ctx, query, id, state, polledAt, intervalMs)
	if err != nil {
		return fmt.Errorf("failed to update tournament %d sync state: %w", id, err)
	}
	return checkAffectedRows(result, ErrTournamentNotFound)
}

func (r *postgresTournamentRepository) handleTournamentError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" { // unique_violation
		return ErrTournamentSlugConflict
	}
	return fmt.Errorf("tournament repository: %w", err)
}
