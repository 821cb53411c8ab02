package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fightstack/bracket-sync/models"
)

var ErrEventNotFound = errors.New("event not found")

type EventRepository interface {
	Upsert(ctx context.Context, exec SQLExecutor, e *models.Event) error
	ListByTournament(ctx context.Context, tournamentID int) ([]*models.Event, error)
}

type postgresEventRepository struct {
	db *sql.DB
}

func NewPostgresEventRepository(db *sql.DB) EventRepository {
	return &postgresEventRepository{db: db}
}

func (r *postgresEventRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

func (r *postgresEventRepository) Upsert(ctx context.Context, exec SQLExecutor, e *models.Event) error {
	query := `
		INSERT INTO events (tournament_id, external_id, name, num_entrants, remote_state)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (external_id) DO UPDATE
			SET name = EXCLUDED.name,
			    num_entrants = EXCLUDED.num_entrants,
			    remote_state = EXCLUDED.remote_state
		RETURNING id, created_at`

	err := r.getExecutor(exec).QueryRowContext(ctx, query,
		e.TournamentID, e.ExternalID, e.Name, e.NumEntrants, e.RemoteState,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert event %s: %w", e.ExternalID, err)
	}
	return nil
}

func (r *postgresEventRepository) ListByTournament(ctx context.Context, tournamentID int) ([]*models.Event, error) {
	query := `
		SELECT id, tournament_id, external_id, name, num_entrants, remote_state, created_at
		FROM events
		WHERE tournament_id = $1
		ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events for tournament %d: %w", tournamentID, err)
	}
	defer rows.Close()

	events := make([]*models.Event, 0)
	for rows.Next() {
		e := &models.Event{}
		if err := rows.Scan(&e.ID, &e.TournamentID, &e.ExternalID, &e.Name, &e.NumEntrants, &e.RemoteState, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
