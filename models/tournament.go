package models

import "time"

// TournamentState повторяет жизненный цикл турнира во внешнем сервисе.
type TournamentState string

const (
	TournamentCreated            TournamentState = "created"
	TournamentRegistrationOpen   TournamentState = "registration_open"
	TournamentRegistrationClosed TournamentState = "registration_closed"
	TournamentInProgress         TournamentState = "in_progress"
	TournamentCompleted          TournamentState = "completed"
	TournamentCancelled          TournamentState = "cancelled"
)

// Pollable reports whether the tournament still needs reconciliation runs.
// Completed and cancelled tournaments are never polled again.
func (s TournamentState) Pollable() bool {
	return s != TournamentCompleted && s != TournamentCancelled
}

// Tournament — локальное зеркало турнира внешнего сервиса.
type Tournament struct {
	ID             int             `json:"id" db:"id"`
	ExternalID     string          `json:"external_id" db:"external_id"`
	Slug           string          `json:"slug" db:"slug"`
	State          TournamentState `json:"state" db:"state"`
	LastPolledAt   *time.Time      `json:"last_polled_at,omitempty" db:"last_polled_at"`
	PollIntervalMs int             `json:"poll_interval_ms" db:"poll_interval_ms"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`

	// Связанные сущности (не мапятся напрямую).
	Events []Event `json:"events,omitempty" db:"-"`
}
