package handlers

import (
	"errors"
	"net/http"

	"github.com/fightstack/bracket-sync/services"
)

type MatchHandler struct {
	matchQuery services.MatchQueryService
}

func NewMatchHandler(matchQuery services.MatchQueryService) *MatchHandler {
	return &MatchHandler{matchQuery: matchQuery}
}

func (h *MatchHandler) ListTournamentMatches(w http.ResponseWriter, r *http.Request) {
	tournamentID := idParam(r, "tournamentID")
	if tournamentID == 0 {
		badRequestResponse(w, r, errors.New("invalid tournament id"))
		return
	}

	matches, err := h.matchQuery.ListTournamentMatches(r.Context(), tournamentID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{"matches": matches}, nil)
}

func (h *MatchHandler) GetMatch(w http.ResponseWriter, r *http.Request) {
	matchID := idParam(r, "matchID")
	if matchID == 0 {
		badRequestResponse(w, r, errors.New("invalid match id"))
		return
	}

	detail, err := h.matchQuery.GetMatch(r.Context(), matchID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail, nil)
}
