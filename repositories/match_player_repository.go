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

var ErrMatchPlayerNotFound = errors.New("match player not found")

type MatchPlayerRepository interface {
	// Upsert creates the player row on first observation of the entrant and
	// refreshes its identity fields afterwards, keyed by (match, slot).
	Upsert(ctx context.Context, exec SQLExecutor, p *models.MatchPlayer) error
	ListByMatch(ctx context.Context, exec SQLExecutor, matchID int) ([]*models.MatchPlayer, error)

	// CheckIn flips is_checked_in, guarded on it still being false. The bool
	// reports whether this call performed the flip; false means the player
	// was already checked in.
	CheckIn(ctx context.Context, exec SQLExecutor, playerID int, at time.Time) (bool, error)
	CountCheckedIn(ctx context.Context, exec SQLExecutor, matchID int) (int, error)

	SetClaim(ctx context.Context, exec SQLExecutor, playerID int, isWinner bool, score *string) error
	ClearClaims(ctx context.Context, exec SQLExecutor, matchID int) error
	// SetWinners finalizes both rows: the winner slot gets true, the other false.
	SetWinners(ctx context.Context, exec SQLExecutor, matchID int, winnerSlot int) error
	// MarkLosers sets is_winner=false for the given slots (disqualification).
	MarkLosers(ctx context.Context, exec SQLExecutor, matchID int, slots []int) error
}

type postgresMatchPlayerRepository struct {
	db *sql.DB
}

func NewPostgresMatchPlayerRepository(db *sql.DB) MatchPlayerRepository {
	return &postgresMatchPlayerRepository{db: db}
}

func (r *postgresMatchPlayerRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

func (r *postgresMatchPlayerRepository) Upsert(ctx context.Context, exec SQLExecutor, p *models.MatchPlayer) error {
	query := `
		INSERT INTO match_players (match_id, slot, external_entrant_id, display_name, chat_user_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (match_id, slot) DO UPDATE
			SET external_entrant_id = EXCLUDED.external_entrant_id,
			    display_name = EXCLUDED.display_name
		RETURNING id`

	err := r.getExecutor(exec).QueryRowContext(ctx, query,
		p.MatchID, p.Slot, p.ExternalEntrantID, p.DisplayName, p.ChatUserID,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert player slot %d for match %d: %w", p.Slot, p.MatchID, err)
	}
	return nil
}

func (r *postgresMatchPlayerRepository) ListByMatch(ctx context.Context, exec SQLExecutor, matchID int) ([]*models.MatchPlayer, error) {
	query := `
		SELECT id, match_id, slot, external_entrant_id, display_name, chat_user_id,
		       is_checked_in, checked_in_at, reported_score, is_winner
		FROM match_players
		WHERE match_id = $1
		ORDER BY slot`

	rows, err := r.getExecutor(exec).QueryContext(ctx, query, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query players for match %d: %w", matchID, err)
	}
	defer rows.Close()

	players := make([]*models.MatchPlayer, 0, 2)
	for rows.Next() {
		p := &models.MatchPlayer{}
		if err := rows.Scan(
			&p.ID, &p.MatchID, &p.Slot, &p.ExternalEntrantID, &p.DisplayName, &p.ChatUserID,
			&p.IsCheckedIn, &p.CheckedInAt, &p.ReportedScore, &p.IsWinner,
		); err != nil {
			return nil, fmt.Errorf("failed to scan player row: %w", err)
		}
		players = append(players, p)
	}
	return players, rows.Err()
}

func (r *postgresMatchPlayerRepository) CheckIn(ctx context.Context, exec SQLExecutor, playerID int, at time.Time) (bool, error) {
	query := `
		UPDATE match_players
		SET is_checked_in = TRUE, checked_in_at = $2
		WHERE id = $1 AND is_checked_in = FALSE`

	result, err := r.getExecutor(exec).ExecContext(ctx, query, playerID, at)
	if err != nil {
		return false, fmt.Errorf("failed to check in player %d: %w", playerID, err)
	}
	return affectedAny(result)
}

func (r *postgresMatchPlayerRepository) CountCheckedIn(ctx context.Context, exec SQLExecutor, matchID int) (int, error) {
	query := `SELECT COUNT(*) FROM match_players WHERE match_id = $1 AND is_checked_in = TRUE`

	var count int
	if err := r.getExecutor(exec).QueryRowContext(ctx, query, matchID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count checked-in players for match %d: %w", matchID, err)
	}
	return count, nil
}

func (r *postgresMatchPlayerRepository) SetClaim(ctx context.Context, exec SQLExecutor, playerID int, isWinner bool, score *string) error {
	query := `UPDATE match_players SET is_winner = $2, reported_score = $3 WHERE id = $1`
	result, err := r.getExecutor(exec).ExecContext(ctx, query, playerID, isWinner, score)
	if err != nil {
		return fmt.Errorf("failed to set claim for player %d: %w", playerID, err)
	}
	return checkAffectedRows(result, ErrMatchPlayerNotFound)
}

func (r *postgresMatchPlayerRepository) ClearClaims(ctx context.Context, exec SQLExecutor, matchID int) error {
	query := `UPDATE match_players SET is_winner = NULL, reported_score = NULL WHERE match_id = $1`
	if _, err := r.getExecutor(exec).ExecContext(ctx, query, matchID); err != nil {
		return fmt.Errorf("failed to clear claims for match %d: %w", matchID, err)
	}
	return nil
}

func (r *postgresMatchPlayerRepository) SetWinners(ctx context.Context, exec SQLExecutor, matchID int, winnerSlot int) error {
	query := `UPDATE match_players SET is_winner = (slot = $2) WHERE match_id = $1`
	if _, err := r.getExecutor(exec).ExecContext(ctx, query, matchID, winnerSlot); err != nil {
		return fmt.Errorf("failed to set winners for match %d: %w", matchID, err)
	}
	return nil
}

func (r *postgresMatchPlayerRepository) MarkLosers(ctx context.Context, exec SQLExecutor, matchID int, slots []int) error {
	if len(slots) == 0 {
		return nil
	}
	query := `UPDATE match_players SET is_winner = FALSE WHERE match_id = $1 AND slot = ANY($2)`
	if _, err := r.getExecutor(exec).ExecContext(ctx, query, matchID, pq.Array(slots)); err != nil {
		return fmt.Errorf("failed to mark losers for match %d: %w", matchID, err)
	}
	// Если дисквалифицирована одна сторона, вторая объявляется победителем.
	if len(slots) == 1 {
		other := 1
		if slots[0] == 1 {
			other = 2
		}
		winQuery := `UPDATE match_players SET is_winner = TRUE WHERE match_id = $1 AND slot = $2`
		if _, err := r.getExecutor(exec).ExecContext(ctx, winQuery, matchID, other); err != nil {
			return fmt.Errorf("failed to mark remaining winner for match %d: %w", matchID, err)
		}
	}
	return nil
}
