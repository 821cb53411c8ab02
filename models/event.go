package models

import "time"

// Event представляет одну дисциплину турнира (external "event").
type Event struct {
	ID           int       `json:"id" db:"id"`
	TournamentID int       `json:"tournament_id" db:"tournament_id"`
	ExternalID   string    `json:"external_id" db:"external_id"`
	Name         string    `json:"name" db:"name"`
	NumEntrants  int       `json:"num_entrants" db:"num_entrants"`
	RemoteState  string    `json:"remote_state" db:"remote_state"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
