package handlers

import (
	"errors"
	"net/http"

	"github.com/fightstack/bracket-sync/services"
)

type PollHandler struct {
	scheduler *services.PollScheduler
}

func NewPollHandler(scheduler *services.PollScheduler) *PollHandler {
	return &PollHandler{scheduler: scheduler}
}

func (h *PollHandler) GetPollStatus(w http.ResponseWriter, r *http.Request) {
	tournamentID := idParam(r, "tournamentID")
	if tournamentID == 0 {
		badRequestResponse(w, r, errors.New("invalid tournament id"))
		return
	}

	status, ok := h.scheduler.GetPollStatus(r.Context(), tournamentID)
	if !ok {
		notFoundResponse(w, r)
		return
	}
	writeJSON(w, http.StatusOK, status, nil)
}

func (h *PollHandler) TriggerPoll(w http.ResponseWriter, r *http.Request) {
	tournamentID := idParam(r, "tournamentID")
	if tournamentID == 0 {
		badRequestResponse(w, r, errors.New("invalid tournament id"))
		return
	}

	if err := h.scheduler.TriggerImmediatePoll(r.Context(), tournamentID); err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jsonResponse{"status": "poll scheduled"}, nil)
}
