package models

import "time"

// MatchState соответствует ENUM match_state в БД.
type MatchState string

const (
	MatchNotStarted          MatchState = "not_started"
	MatchCalled              MatchState = "called"
	MatchCheckedIn           MatchState = "checked_in"
	MatchInProgress          MatchState = "in_progress"
	MatchPendingConfirmation MatchState = "pending_confirmation"
	MatchCompleted           MatchState = "completed"
	MatchDisputed            MatchState = "disputed"
	MatchDQ                  MatchState = "dq"
)

// Terminal reports whether no further transitions are possible.
func (s MatchState) Terminal() bool {
	return s == MatchCompleted || s == MatchDQ
}

// Reportable reports whether a player may file a score claim from this state.
func (s MatchState) Reportable() bool {
	return s == MatchCheckedIn || s == MatchInProgress
}

// Match — один сет сетки. ExternalSetID уникален и служит ключом сверки.
type Match struct {
	ID              int        `json:"id" db:"id"`
	EventID         int        `json:"event_id" db:"event_id"`
	ExternalSetID   string     `json:"external_set_id" db:"external_set_id"`
	Identifier      string     `json:"identifier" db:"identifier"`
	Round           int        `json:"round" db:"round"`
	State           MatchState `json:"state" db:"state"`
	ThreadRef       *string    `json:"thread_ref,omitempty" db:"thread_ref"`
	CheckInDeadline *time.Time `json:"check_in_deadline,omitempty" db:"check_in_deadline"`
	// ReporterSlot: слот игрока, подавшего открытый репорт (nil — репорта нет).
	ReporterSlot *int      `json:"reporter_slot,omitempty" db:"reporter_slot"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// MatchPlayer — одна из двух сторон матча.
type MatchPlayer struct {
	ID                int        `json:"id" db:"id"`
	MatchID           int        `json:"match_id" db:"match_id"`
	Slot              int        `json:"slot" db:"slot"` // 1 или 2
	ExternalEntrantID string     `json:"external_entrant_id" db:"external_entrant_id"`
	DisplayName       string     `json:"display_name" db:"display_name"`
	ChatUserID        *string    `json:"chat_user_id,omitempty" db:"chat_user_id"`
	IsCheckedIn       bool       `json:"is_checked_in" db:"is_checked_in"`
	CheckedInAt       *time.Time `json:"checked_in_at,omitempty" db:"checked_in_at"`
	ReportedScore     *string    `json:"reported_score,omitempty" db:"reported_score"`
	// IsWinner: nil — не определён, true/false — заявленный или финальный исход.
	IsWinner *bool `json:"is_winner,omitempty" db:"is_winner"`
}

// HasClaim reports whether the player has an open self-report.
func (p *MatchPlayer) HasClaim() bool {
	return p.IsWinner != nil
}

// MatchDetail — матч вместе с обоими игроками и принадлежностью к турниру.
type MatchDetail struct {
	Match        Match         `json:"match"`
	Players      []MatchPlayer `json:"players"`
	TournamentID int           `json:"tournament_id"`
}

// PlayerBySlot returns the player occupying the given slot, or nil.
func (d *MatchDetail) PlayerBySlot(slot int) *MatchPlayer {
	for i := range d.Players {
		if d.Players[i].Slot == slot {
			return &d.Players[i]
		}
	}
	return nil
}

// PlayerByChatUser resolves an inbound actor to one of the match sides.
func (d *MatchDetail) PlayerByChatUser(chatUserID string) *MatchPlayer {
	for i := range d.Players {
		p := &d.Players[i]
		if p.ChatUserID != nil && *p.ChatUserID == chatUserID {
			return p
		}
	}
	return nil
}

// DeclaredWinnerSlot converts a player's claim into the slot number they
// declared as winner. A player claiming isWinner=false declares the other
// slot; opposite flags on the two sides therefore agree.
func DeclaredWinnerSlot(p *MatchPlayer) int {
	if p.IsWinner == nil {
		return 0
	}
	if *p.IsWinner {
		return p.Slot
	}
	return otherSlot(p.Slot)
}

func otherSlot(slot int) int {
	if slot == 1 {
		return 2
	}
	return 1
}
