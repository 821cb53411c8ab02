// Package bracketapi wraps the external bracket service's GraphQL API with
// rate limiting, retry-with-backoff on rate-limited responses, and a bounded
// response cache. It is the leaf dependency of the synchronizer, the
// scheduler, and the lifecycle service.
package bracketapi

// Tournament is the remote tournament payload, including its events.
type Tournament struct {
	ID     string  `json:"id"`
	Slug   string  `json:"slug"`
	Name   string  `json:"name"`
	State  string  `json:"state"`
	Events []Event `json:"events"`
}

type Event struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	NumEntrants int    `json:"numEntrants"`
	State       string `json:"state"`
}

// Set is the remote term for a single match between two entrants.
type Set struct {
	ID         string    `json:"id"`
	Identifier string    `json:"identifier"`
	Round      int       `json:"round"`
	State      string    `json:"state"`
	Slots      []SetSlot `json:"slots"`
}

type SetSlot struct {
	EntrantID   *string `json:"entrantId"`
	EntrantName string  `json:"entrantName"`
}

// Ready reports whether both entrants of the set are determined, i.e. the
// set is eligible to be called.
func (s Set) Ready() bool {
	if len(s.Slots) != 2 {
		return false
	}
	return s.Slots[0].EntrantID != nil && s.Slots[1].EntrantID != nil
}

type Entrant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SetPage is one page of an event's set listing.
type SetPage struct {
	Total      int   `json:"total"`
	TotalPages int   `json:"totalPages"`
	Sets       []Set `json:"sets"`
}

// EntrantPage is one page of an event's entrant listing.
type EntrantPage struct {
	Total      int       `json:"total"`
	TotalPages int       `json:"totalPages"`
	Entrants   []Entrant `json:"entrants"`
}

// ReportedOutcome is the write-back payload for a finished set.
type ReportedOutcome struct {
	WinnerEntrantID string  `json:"winnerEntrantId"`
	Score           *string `json:"score,omitempty"`
	DQ              bool    `json:"dq,omitempty"`
}
