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
	ErrMatchNotFound    = errors.New("match not found")
	ErrMatchSetConflict = errors.New("match external set id conflict")
)

type MatchRepository interface {
	Create(ctx context.Context, exec SQLExecutor, m *models.Match) error
	GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Match, error)
	// GetDetail loads the match, both players, and the owning tournament id.
	GetDetail(ctx context.Context, exec SQLExecutor, id int) (*models.MatchDetail, error)
	// ListByTournament loads every match of every event of the tournament in
	// a single query. Callers key the result by external set id for O(1)
	// reconciliation lookups.
	ListByTournament(ctx context.Context, tournamentID int) ([]*models.Match, error)
	UpdateLabels(ctx context.Context, exec SQLExecutor, id int, identifier string, round int) error

	// ClaimCall atomically sets thread_ref, check_in_deadline, and the called
	// state, guarded on the match still being not_started. The bool reports
	// whether this caller won the claim.
	ClaimCall(ctx context.Context, exec SQLExecutor, id int, threadRef string, deadline time.Time) (bool, error)
	// TransitionState performs a guarded state change and reports whether any
	// row was affected.
	TransitionState(ctx context.Context, exec SQLExecutor, id int, from, to models.MatchState) (bool, error)
	// Disqualify moves the match to dq from any non-terminal state.
	Disqualify(ctx context.Context, exec SQLExecutor, id int) (bool, error)
	SetReporterSlot(ctx context.Context, exec SQLExecutor, id int, slot *int) error
}

type postgresMatchRepository struct {
	db *sql.DB
}

func NewPostgresMatchRepository(db *sql.DB) MatchRepository {
	return &postgresMatchRepository{db: db}
}

func (r *postgresMatchRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

const matchColumns = `id, event_id, external_set_id, identifier, round, state, thread_ref, check_in_deadline, reporter_slot, created_at`

func scanMatch(row interface{ Scan(...interface{}) error }, m *models.Match) error {
	return row.Scan(
		&m.ID, &m.EventID, &m.ExternalSetID, &m.Identifier, &m.Round,
		&m.State, &m.ThreadRef, &m.CheckInDeadline, &m.ReporterSlot, &m.CreatedAt,
	)
}

func (r *postgresMatchRepository) Create(ctx context.Context, exec SQLExecutor, m *models.Match) error {
	query := `
		INSERT INTO matches (event_id, external_set_id, identifier, round, state)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	err := r.getExecutor(exec).QueryRowContext(ctx, query,
		m.EventID, m.ExternalSetID, m.Identifier, m.Round, m.State,
	).Scan(&m.ID, &m.CreatedAt)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrMatchSetConflict
		}
		return fmt.Errorf("failed to create match for set %s: %w", m.ExternalSetID, err)
	}
	return nil
}

func (r *postgresMatchRepository) GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE id = $1`

	m := &models.Match{}
	err := scanMatch(r.getExecutor(exec).QueryRowContext(ctx, query, id), m)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMatchNotFound
		}
		return nil, fmt.Errorf("failed to scan match %d: %w", id, err)
	}
	return m, nil
}

func (r *postgresMatchRepository) GetDetail(ctx context.Context, exec SQLExecutor, id int) (*models.MatchDetail, error) {
	executor := r.getExecutor(exec)

	query := `
		SELECT m.id, m.event_id, m.external_set_id, m.identifier, m.round, m.state,
		       m.thread_ref, m.check_in_deadline, m.reporter_slot, m.created_at,
		       e.tournament_id
		FROM matches m
		JOIN events e ON e.id = m.event_id
		WHERE m.id = $1`

	detail := &models.MatchDetail{}
	m := &detail.Match
	err := executor.QueryRowContext(ctx, query, id).Scan(
		&m.ID, &m.EventID, &m.ExternalSetID, &m.Identifier, &m.Round,
		&m.State, &m.ThreadRef, &m.CheckInDeadline, &m.ReporterSlot, &m.CreatedAt,
		&detail.TournamentID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMatchNotFound
		}
		return nil, fmt.Errorf("failed to scan match detail %d: %w", id, err)
	}

	playersQuery := `
		SELECT id, match_id, slot, external_entrant_id, display_name, chat_user_id,
		       is_checked_in, checked_in_at, reported_score, is_winner
		FROM match_players
		WHERE match_id = $1
		ORDER BY slot`

	rows, err := executor.QueryContext(ctx, playersQuery, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query players for match %d: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var p models.MatchPlayer
		if err := rows.Scan(
			&p.ID, &p.MatchID, &p.Slot, &p.ExternalEntrantID, &p.DisplayName, &p.ChatUserID,
			&p.IsCheckedIn, &p.CheckedInAt, &p.ReportedScore, &p.IsWinner,
		); err != nil {
			return nil, fmt.Errorf("failed to scan player row: %w", err)
		}
		detail.Players = append(detail.Players, p)
	}
	return detail, rows.Err()
}

func (r *postgresMatchRepository) ListByTournament(ctx context.Context, tournamentID int) ([]*models.Match, error) {
	query := `
		SELECT m.id, m.event_id, m.external_set_id, m.identifier, m.round, m.state,
		       m.thread_ref, m.check_in_deadline, m.reporter_slot, m.created_at
		FROM matches m
		JOIN events e ON e.id = m.event_id
		WHERE e.tournament_id = $1`

	rows, err := r.db.QueryContext(ctx, query, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query matches for tournament %d: %w", tournamentID, err)
	}
	defer rows.Close()

	matches := make([]*models.Match, 0)
	for rows.Next() {
		m := &models.Match{}
		if err := scanMatch(rows, m); err != nil {
			return nil, fmt.Errorf("failed to scan match row: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (r *postgresMatchRepository) UpdateLabels(ctx context.Context, exec SQLExecutor, id int, identifier string, round int) error {
	query := `UPDATE matches SET identifier = $2, round = $3 WHERE id = $1`
	result, err := r.getExecutor(exec).ExecContext(ctx, query, id, identifier, round)
	if err != nil {
		return fmt.Errorf("failed to update labels for match %d: %w", id, err)
	}
	return checkAffectedRows(result, ErrMatchNotFound)
}

func (r *postgresMatchRepository) ClaimCall(ctx context.Context, exec SQLExecutor, id int, threadRef string, deadline time.Time) (bool, error) {
	query := `
		UPDATE matches
		SET state = $2, thread_ref = $3, check_in_deadline = $4
		WHERE id = $1 AND state = $5 AND thread_ref IS NULL`

	result, err := r.getExecutor(exec).ExecContext(ctx, query,
		id, models.MatchCalled, threadRef, deadline, models.MatchNotStarted,
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim call for match %d: %w", id, err)
	}
	return affectedAny(result)
}

func (r *postgresMatchRepository) TransitionState(ctx context.Context, exec SQLExecutor, id int, from, to models.MatchState) (bool, error) {
	query := `UPDATE matches SET state = $3 WHERE id = $1 AND state = $2`
	result, err := r.getExecutor(exec).ExecContext(ctx, query, id, from, to)
	if err != nil {
		return false, fmt.Errorf("failed to transition match %d from %s to %s: %w", id, from, to, err)
	}
	return affectedAny(result)
}

func (r *postgresMatchRepository) Disqualify(ctx context.Context, exec SQLExecutor, id int) (bool, error) {
	query := `UPDATE matches SET state = $2 WHERE id = $1 AND state NOT IN ($3, $4)`
	result, err := r.getExecutor(exec).ExecContext(ctx, query,
		id, models.MatchDQ, models.MatchCompleted, models.MatchDQ,
	)
	if err != nil {
		return false, fmt.Errorf("failed to disqualify match %d: %w", id, err)
	}
	return affectedAny(result)
}

func (r *postgresMatchRepository) SetReporterSlot(ctx context.Context, exec SQLExecutor, id int, slot *int) error {
	query := `UPDATE matches SET reporter_slot = $2 WHERE id = $1`
	result, err := r.getExecutor(exec).ExecContext(ctx, query, id, slot)
	if err != nil {
		return fmt.Errorf("failed to set reporter slot for match %d: %w", id, err)
	}
	return checkAffectedRows(result, ErrMatchNotFound)
}
