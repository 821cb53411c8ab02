package handlers

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/fightstack/bracket-sync/chat"
	"github.com/fightstack/bracket-sync/services"
)

// InteractionHandler binds chat button presses to match lifecycle
// operations. Every reply goes back to the pressing user only.
type InteractionHandler struct {
	lifecycle services.MatchLifecycleService
	logger    *slog.Logger
}

func NewInteractionHandler(lifecycle services.MatchLifecycleService, logger *slog.Logger) *InteractionHandler {
	return &InteractionHandler{lifecycle: lifecycle, logger: logger}
}

// RegisterRoutes wires every supported action into the chat router.
func (h *InteractionHandler) RegisterRoutes(router *chat.Router) {
	router.Register("checkin", 0, 0, h.checkIn)
	router.Register("report", 1, 2, h.report)
	router.Register("confirm", 0, 0, h.confirm)
	router.Register("dispute", 0, 0, h.dispute)
	router.Register("reopen", 0, 0, h.reopen)
	router.Register("dq", 1, 2, h.disqualify)
}

func (h *InteractionHandler) checkIn(ctx context.Context, act chat.Action) chat.Reply {
	out, err := h.lifecycle.CheckIn(ctx, act.MatchID, act.Actor.UserID)
	return h.reply(act, out, err)
}

func (h *InteractionHandler) report(ctx context.Context, act chat.Action) chat.Reply {
	winnerSlot, err := strconv.Atoi(act.Args[0])
	if err != nil || (winnerSlot != 1 && winnerSlot != 2) {
		return chat.Reply{Message: "winner slot must be 1 or 2"}
	}

	var score *string
	if len(act.Args) == 2 && act.Args[1] != "" {
		score = &act.Args[1]
	}

	out, svcErr := h.lifecycle.ReportScore(ctx, act.MatchID, act.Actor.UserID, winnerSlot, score)
	return h.reply(act, out, svcErr)
}

func (h *InteractionHandler) confirm(ctx context.Context, act chat.Action) chat.Reply {
	out, err := h.lifecycle.ConfirmReport(ctx, act.MatchID, act.Actor.UserID)
	return h.reply(act, out, err)
}

func (h *InteractionHandler) dispute(ctx context.Context, act chat.Action) chat.Reply {
	out, err := h.lifecycle.DisputeReport(ctx, act.MatchID, act.Actor.UserID)
	return h.reply(act, out, err)
}

func (h *InteractionHandler) reopen(ctx context.Context, act chat.Action) chat.Reply {
	if !act.Actor.IsAdmin {
		return chat.Reply{Message: "only tournament staff can reopen a match"}
	}
	out, err := h.lifecycle.ReopenMatch(ctx, act.MatchID)
	return h.reply(act, out, err)
}

func (h *InteractionHandler) disqualify(ctx context.Context, act chat.Action) chat.Reply {
	if !act.Actor.IsAdmin {
		return chat.Reply{Message: "only tournament staff can disqualify"}
	}

	slots := make([]int, 0, len(act.Args))
	for _, arg := range act.Args {
		slot, err := strconv.Atoi(arg)
		if err != nil || (slot != 1 && slot != 2) {
			return chat.Reply{Message: "dq slot must be 1 or 2"}
		}
		slots = append(slots, slot)
	}

	out, err := h.lifecycle.Disqualify(ctx, act.MatchID, slots)
	return h.reply(act, out, err)
}

func (h *InteractionHandler) reply(act chat.Action, out *services.Outcome, err error) chat.Reply {
	if errors.Is(err, services.ErrMatchNotFound) {
		return chat.Reply{Message: "match not found"}
	}
	if err != nil {
		h.logger.Error("interaction failed",
			slog.String("action", act.Name),
			slog.Int("match_id", act.MatchID),
			slog.String("user_id", act.Actor.UserID),
			slog.Any("error", err))
		return chat.Reply{Message: "something went wrong, try again in a moment"}
	}
	return chat.Reply{OK: out.Success, Message: out.Message}
}
