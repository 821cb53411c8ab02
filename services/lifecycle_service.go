package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fightstack/bracket-sync/bracketapi"
	"github.com/fightstack/bracket-sync/chat"
	"github.com/fightstack/bracket-sync/live"
	"github.com/fightstack/bracket-sync/models"
	"github.com/fightstack/bracket-sync/repositories"
)

// Outcome is the structured result of every lifecycle operation. Expected
// business-rule rejections are reported here, not as errors; the error
// channel is reserved for infrastructure failures.
type Outcome struct {
	Success bool                `json:"success"`
	Done    bool                `json:"already_done,omitempty"` // the requested transition had already happened
	Message string              `json:"message"`
	Match   *models.MatchDetail `json:"match,omitempty"`
}

func rejected(message string) *Outcome {
	return &Outcome{Message: message}
}

func alreadyDone(message string, detail *models.MatchDetail) *Outcome {
	return &Outcome{Done: true, Message: message, Match: detail}
}

func succeeded(message string, detail *models.MatchDetail) *Outcome {
	return &Outcome{Success: true, Message: message, Match: detail}
}

// Broadcaster pushes match snapshots to dashboard subscribers.
type Broadcaster interface {
	BroadcastToRoom(roomID int, msgType string, payload interface{})
}

// ResultReporter is the write-back half of the bracket API client.
type ResultReporter interface {
	ReportResult(ctx context.Context, setID string, outcome bracketapi.ReportedOutcome) error
}

type MatchLifecycleService interface {
	// CallMatch provisions the match thread: idempotent, and self-cleaning
	// when the guarded claim loses its race.
	CallMatch(ctx context.Context, matchID int) (*Outcome, error)
	CheckIn(ctx context.Context, matchID int, chatUserID string) (*Outcome, error)
	ReportScore(ctx context.Context, matchID int, chatUserID string, winnerSlot int, score *string) (*Outcome, error)
	ConfirmReport(ctx context.Context, matchID int, chatUserID string) (*Outcome, error)
	DisputeReport(ctx context.Context, matchID int, chatUserID string) (*Outcome, error)
	// ReopenMatch resets a disputed match to checked_in for re-reporting.
	ReopenMatch(ctx context.Context, matchID int) (*Outcome, error)
	// Disqualify is the admin-only jump to dq from any non-terminal state.
	Disqualify(ctx context.Context, matchID int, slots []int) (*Outcome, error)
}

type matchLifecycleService struct {
	tx            repositories.TxRunner
	matches       repositories.MatchRepository
	players       repositories.MatchPlayerRepository
	chat          chat.Client
	reporter      ResultReporter
	hub           Broadcaster
	logger        *slog.Logger
	channelID     string
	checkInWindow time.Duration
}

func NewMatchLifecycleService(
	tx repositories.TxRunner,
	matches repositories.MatchRepository,
	players repositories.MatchPlayerRepository,
	chatClient chat.Client,
	reporter ResultReporter,
	hub Broadcaster,
	logger *slog.Logger,
	channelID string,
	checkInWindow time.Duration,
) MatchLifecycleService {
	return &matchLifecycleService{
		tx:            tx,
		matches:       matches,
		players:       players,
		chat:          chatClient,
		reporter:      reporter,
		hub:           hub,
		logger:        logger,
		channelID:     channelID,
		checkInWindow: checkInWindow,
	}
}

func (s *matchLifecycleService) CallMatch(ctx context.Context, matchID int) (*Outcome, error) {
	detail, err := s.loadDetail(ctx, nil, matchID)
	if err != nil {
		return nil, err
	}

	// Идемпотентность: тред уже создан — возвращаем его без внешних вызовов.
	if detail.Match.ThreadRef != nil {
		return alreadyDone("match thread already provisioned", detail), nil
	}
	if detail.Match.State != models.MatchNotStarted {
		return rejected("match is no longer awaiting a call"), nil
	}
	if len(detail.Players) != 2 {
		return rejected("match does not have both players yet"), nil
	}

	title := fmt.Sprintf("Match %s: %s vs %s",
		detail.Match.Identifier, detail.Players[0].DisplayName, detail.Players[1].DisplayName)

	threadRef, err := s.chat.CreateThread(ctx, s.channelID, title)
	if err != nil {
		return nil, fmt.Errorf("create match thread: %w", err)
	}

	deadline := time.Now().Add(s.checkInWindow)
	won, err := s.matches.ClaimCall(ctx, nil, matchID, threadRef, deadline)
	if err != nil {
		// The datastore half failed after the external half succeeded:
		// remove the thread so it does not leak.
		s.cleanupThread(ctx, threadRef)
		return nil, fmt.Errorf("claim call for match %d: %w", matchID, err)
	}
	if !won {
		// A concurrent caller already transitioned the match; our thread is
		// an orphan and must go.
		s.cleanupThread(ctx, threadRef)
		fresh, loadErr := s.loadDetail(ctx, nil, matchID)
		if loadErr != nil {
			return nil, loadErr
		}
		return alreadyDone("match was already called", fresh), nil
	}

	s.addPlayersToThread(ctx, threadRef, detail.Players)

	intro := fmt.Sprintf("%s vs %s — check in before %s.",
		detail.Players[0].DisplayName, detail.Players[1].DisplayName,
		deadline.Format(time.Kitchen))
	if err := s.chat.SendMessage(ctx, threadRef, intro, matchButtons(matchID, detail.Players)); err != nil {
		// Intro message is best-effort; players can still interact later.
		s.logger.Warn("failed to send match intro message",
			slog.Int("match_id", matchID), slog.Any("error", err))
	}

	fresh, err := s.loadDetail(ctx, nil, matchID)
	if err != nil {
		return nil, err
	}
	s.broadcast(fresh)
	return succeeded("match called", fresh), nil
}

func (s *matchLifecycleService) CheckIn(ctx context.Context, matchID int, chatUserID string) (*Outcome, error) {
	var out *Outcome
	err := s.tx.RunInTx(ctx, func(exec repositories.SQLExecutor) error {
		detail, err := s.loadDetail(ctx, exec, matchID)
		if err != nil {
			return err
		}

		if detail.Match.State != models.MatchCalled && detail.Match.State != models.MatchCheckedIn {
			out = rejected("check-in is not open for this match")
			return nil
		}

		player := detail.PlayerByChatUser(chatUserID)
		if player == nil {
			out = rejected("you are not a player in this match")
			return nil
		}

		flipped, err := s.players.CheckIn(ctx, exec, player.ID, time.Now())
		if err != nil {
			return err
		}
		if !flipped {
			out = alreadyDone("you are already checked in", detail)
			return nil
		}

		// Счётчик читается в той же транзакции, что и флип — иначе можно
		// увидеть состояние, которое параллельная транзакция меняет.
		count, err := s.players.CountCheckedIn(ctx, exec, matchID)
		if err != nil {
			return err
		}
		if count == len(detail.Players) {
			// Zero affected rows means a concurrent check-in already moved
			// the match forward; that is not an error.
			if _, err := s.matches.TransitionState(ctx, exec, matchID, models.MatchCalled, models.MatchCheckedIn); err != nil {
				return err
			}
		}

		fresh, err := s.loadDetail(ctx, exec, matchID)
		if err != nil {
			return err
		}
		out = succeeded("checked in", fresh)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out.Success {
		s.broadcast(out.Match)
	}
	return out, nil
}

func (s *matchLifecycleService) ReportScore(ctx context.Context, matchID int, chatUserID string, winnerSlot int, score *string) (*Outcome, error) {
	if winnerSlot != 1 && winnerSlot != 2 {
		return nil, ErrInvalidSlot
	}

	var out *Outcome
	var completed *models.MatchDetail
	err := s.tx.RunInTx(ctx, func(exec repositories.SQLExecutor) error {
		detail, err := s.loadDetail(ctx, exec, matchID)
		if err != nil {
			return err
		}

		state := detail.Match.State
		if !state.Reportable() && state != models.MatchPendingConfirmation {
			out = rejected("match is not accepting score reports")
			return nil
		}

		reporter := detail.PlayerByChatUser(chatUserID)
		if reporter == nil {
			out = rejected("you are not a player in this match")
			return nil
		}

		if reporter.HasClaim() {
			if models.DeclaredWinnerSlot(reporter) != winnerSlot {
				out = rejected("you already reported a different result; dispute resolution is required")
				return nil
			}
			out = alreadyDone("your report is already on file", detail)
			return nil
		}

		opponent := detail.PlayerBySlot(otherSlot(reporter.Slot))
		if err := s.players.SetClaim(ctx, exec, reporter.ID, winnerSlot == reporter.Slot, score); err != nil {
			return err
		}

		if !opponent.HasClaim() {
			moved, err := s.matches.TransitionState(ctx, exec, matchID, state, models.MatchPendingConfirmation)
			if err != nil {
				return err
			}
			if moved {
				slot := reporter.Slot
				if err := s.matches.SetReporterSlot(ctx, exec, matchID, &slot); err != nil {
					return err
				}
				fresh, err := s.loadDetail(ctx, exec, matchID)
				if err != nil {
					return err
				}
				out = succeeded("result reported, awaiting opponent", fresh)
				return nil
			}
			// Переход проиграл гонку: соперник успел отчитаться первым.
			// Перечитываем матч и сравниваем заявки как второй репорт.
			detail, err = s.loadDetail(ctx, exec, matchID)
			if err != nil {
				return err
			}
			state = detail.Match.State
			if !state.Reportable() && state != models.MatchPendingConfirmation {
				out = rejected("match result was already resolved")
				return nil
			}
			opponent = detail.PlayerBySlot(otherSlot(reporter.Slot))
			if opponent == nil || !opponent.HasClaim() {
				out = rejected("match result was already resolved")
				return nil
			}
		}

		// Обе стороны отчитались: сравниваем заявленных победителей.
		if models.DeclaredWinnerSlot(opponent) == winnerSlot {
			if err := s.finalizeCompletion(ctx, exec, detail, winnerSlot, state); err != nil {
				if errors.Is(err, errTransitionLost) {
					out = rejected("match result was already resolved")
					return nil
				}
				return err
			}
			fresh, err := s.loadDetail(ctx, exec, matchID)
			if err != nil {
				return err
			}
			completed = fresh
			out = succeeded("both reports agree, match completed", fresh)
			return nil
		}

		// Разногласие: матч в спор, обе заявки очищаются для повторного репорта.
		moved, err := s.matches.TransitionState(ctx, exec, matchID, state, models.MatchDisputed)
		if err != nil {
			return err
		}
		if !moved {
			out = rejected("match result was already resolved")
			return nil
		}
		if err := s.players.ClearClaims(ctx, exec, matchID); err != nil {
			return err
		}
		if err := s.matches.SetReporterSlot(ctx, exec, matchID, nil); err != nil {
			return err
		}
		fresh, err := s.loadDetail(ctx, exec, matchID)
		if err != nil {
			return err
		}
		out = succeeded("reports conflict, match is now disputed", fresh)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if completed != nil {
		s.reportUpstream(completed)
	}
	if out.Success {
		s.broadcast(out.Match)
	}
	return out, nil
}

func (s *matchLifecycleService) ConfirmReport(ctx context.Context, matchID int, chatUserID string) (*Outcome, error) {
	var out *Outcome
	var completed *models.MatchDetail
	err := s.tx.RunInTx(ctx, func(exec repositories.SQLExecutor) error {
		detail, err := s.loadDetail(ctx, exec, matchID)
		if err != nil {
			return err
		}

		if detail.Match.State != models.MatchPendingConfirmation {
			out = rejected("no report is awaiting confirmation")
			return nil
		}
		confirmer := detail.PlayerByChatUser(chatUserID)
		if confirmer == nil {
			out = rejected("you are not a player in this match")
			return nil
		}
		reporterSlot := detail.Match.ReporterSlot
		if reporterSlot == nil {
			return fmt.Errorf("match %d pending confirmation without reporter slot", matchID)
		}
		if *reporterSlot == confirmer.Slot {
			out = rejected("you cannot confirm your own report")
			return nil
		}

		reporter := detail.PlayerBySlot(*reporterSlot)
		winnerSlot := models.DeclaredWinnerSlot(reporter)
		if winnerSlot == 0 {
			return fmt.Errorf("match %d reporter has no claim on file", matchID)
		}

		if err := s.finalizeCompletion(ctx, exec, detail, winnerSlot, models.MatchPendingConfirmation); err != nil {
			if errors.Is(err, errTransitionLost) {
				out = rejected("match result was already resolved")
				return nil
			}
			return err
		}

		fresh, err := s.loadDetail(ctx, exec, matchID)
		if err != nil {
			return err
		}
		completed = fresh
		out = succeeded("result confirmed, match completed", fresh)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if completed != nil {
		s.reportUpstream(completed)
	}
	if out.Success {
		s.broadcast(out.Match)
	}
	return out, nil
}

func (s *matchLifecycleService) DisputeReport(ctx context.Context, matchID int, chatUserID string) (*Outcome, error) {
	var out *Outcome
	err := s.tx.RunInTx(ctx, func(exec repositories.SQLExecutor) error {
		detail, err := s.loadDetail(ctx, exec, matchID)
		if err != nil {
			return err
		}

		if detail.Match.State != models.MatchPendingConfirmation {
			out = rejected("no report is open for dispute")
			return nil
		}
		disputer := detail.PlayerByChatUser(chatUserID)
		if disputer == nil {
			out = rejected("you are not a player in this match")
			return nil
		}
		if detail.Match.ReporterSlot != nil && *detail.Match.ReporterSlot == disputer.Slot {
			out = rejected("you cannot dispute your own report")
			return nil
		}

		moved, err := s.matches.TransitionState(ctx, exec, matchID, models.MatchPendingConfirmation, models.MatchDisputed)
		if err != nil {
			return err
		}
		if !moved {
			out = rejected("match result was already resolved")
			return nil
		}
		if err := s.players.ClearClaims(ctx, exec, matchID); err != nil {
			return err
		}
		if err := s.matches.SetReporterSlot(ctx, exec, matchID, nil); err != nil {
			return err
		}

		fresh, err := s.loadDetail(ctx, exec, matchID)
		if err != nil {
			return err
		}
		out = succeeded("report disputed, scores cleared", fresh)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out.Success {
		s.broadcast(out.Match)
	}
	return out, nil
}

func (s *matchLifecycleService) ReopenMatch(ctx context.Context, matchID int) (*Outcome, error) {
	var out *Outcome
	err := s.tx.RunInTx(ctx, func(exec repositories.SQLExecutor) error {
		moved, err := s.matches.TransitionState(ctx, exec, matchID, models.MatchDisputed, models.MatchCheckedIn)
		if err != nil {
			return err
		}
		if !moved {
			out = rejected("match is not disputed")
			return nil
		}
		if err := s.players.ClearClaims(ctx, exec, matchID); err != nil {
			return err
		}

		fresh, err := s.loadDetail(ctx, exec, matchID)
		if err != nil {
			return err
		}
		out = succeeded("match reopened for re-reporting", fresh)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out.Success {
		s.broadcast(out.Match)
	}
	return out, nil
}

func (s *matchLifecycleService) Disqualify(ctx context.Context, matchID int, slots []int) (*Outcome, error) {
	if len(slots) == 0 || len(slots) > 2 {
		return nil, ErrInvalidSlot
	}
	seen := map[int]bool{}
	for _, slot := range slots {
		if slot != 1 && slot != 2 {
			return nil, ErrInvalidSlot
		}
		if seen[slot] {
			return nil, ErrInvalidSlot
		}
		seen[slot] = true
	}

	var out *Outcome
	var finished *models.MatchDetail
	err := s.tx.RunInTx(ctx, func(exec repositories.SQLExecutor) error {
		moved, err := s.matches.Disqualify(ctx, exec, matchID)
		if err != nil {
			return err
		}
		if !moved {
			out = rejected("match is already resolved")
			return nil
		}
		if err := s.players.MarkLosers(ctx, exec, matchID, slots); err != nil {
			return err
		}
		if err := s.matches.SetReporterSlot(ctx, exec, matchID, nil); err != nil {
			return err
		}

		fresh, err := s.loadDetail(ctx, exec, matchID)
		if err != nil {
			return err
		}
		finished = fresh
		out = succeeded("player disqualified", fresh)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if finished != nil {
		// Обе стороны дисквалифицированы — победителя для отчёта нет.
		if len(slots) == 1 {
			s.reportUpstream(finished)
		}
		s.broadcast(finished)
	}
	return out, nil
}

var errTransitionLost = errors.New("guarded transition affected no rows")

// finalizeCompletion flips both winner flags and the guarded state change to
// completed inside the caller's transaction.
func (s *matchLifecycleService) finalizeCompletion(ctx context.Context, exec repositories.SQLExecutor, detail *models.MatchDetail, winnerSlot int, from models.MatchState) error {
	moved, err := s.matches.TransitionState(ctx, exec, detail.Match.ID, from, models.MatchCompleted)
	if err != nil {
		return err
	}
	if !moved {
		return errTransitionLost
	}
	if err := s.players.SetWinners(ctx, exec, detail.Match.ID, winnerSlot); err != nil {
		return err
	}
	return s.matches.SetReporterSlot(ctx, exec, detail.Match.ID, nil)
}

func (s *matchLifecycleService) loadDetail(ctx context.Context, exec repositories.SQLExecutor, matchID int) (*models.MatchDetail, error) {
	detail, err := s.matches.GetDetail(ctx, exec, matchID)
	if err != nil {
		if errors.Is(err, repositories.ErrMatchNotFound) {
			return nil, ErrMatchNotFound
		}
		return nil, err
	}
	return detail, nil
}

// cleanupThread removes an orphaned thread. Its own failure is only a
// warning: the primary operation has already failed or lost independently.
func (s *matchLifecycleService) cleanupThread(ctx context.Context, threadRef string) {
	if err := s.chat.DeleteThread(ctx, threadRef); err != nil {
		s.logger.Warn("failed to delete orphaned match thread",
			slog.String("thread_ref", threadRef), slog.Any("error", err))
	}
}

// addPlayersToThread fans out member adds and completes even when some fail;
// partial failures are logged per player.
func (s *matchLifecycleService) addPlayersToThread(ctx context.Context, threadRef string, players []models.MatchPlayer) {
	var wg sync.WaitGroup
	for i := range players {
		p := players[i]
		if p.ChatUserID == nil {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.chat.AddThreadMember(ctx, threadRef, *p.ChatUserID); err != nil {
				s.logger.Warn("failed to add player to match thread",
					slog.String("thread_ref", threadRef),
					slog.String("player", p.DisplayName),
					slog.Any("error", err))
			}
		}()
	}
	wg.Wait()
}

func (s *matchLifecycleService) reportUpstream(detail *models.MatchDetail) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		var winner *models.MatchPlayer
		for i := range detail.Players {
			p := &detail.Players[i]
			if p.IsWinner != nil && *p.IsWinner {
				winner = p
				break
			}
		}
		if winner == nil {
			s.logger.Error("completed match has no winner to report",
				slog.Int("match_id", detail.Match.ID))
			return
		}

		outcome := bracketapi.ReportedOutcome{
			WinnerEntrantID: winner.ExternalEntrantID,
			Score:           winner.ReportedScore,
			DQ:              detail.Match.State == models.MatchDQ,
		}
		if err := s.reporter.ReportResult(ctx, detail.Match.ExternalSetID, outcome); err != nil {
			s.logger.Error("failed to report result upstream",
				slog.Int("match_id", detail.Match.ID),
				slog.String("set_id", detail.Match.ExternalSetID),
				slog.Any("error", err))
		}
	}()
}

func (s *matchLifecycleService) broadcast(detail *models.MatchDetail) {
	if s.hub == nil || detail == nil {
		return
	}
	s.hub.BroadcastToRoom(detail.TournamentID, live.MessageMatchUpdated, detail)
}

func matchButtons(matchID int, players []models.MatchPlayer) []chat.Button {
	return []chat.Button{
		{Label: "Check in", CustomID: fmt.Sprintf("checkin:%d", matchID), Primary: true},
		{Label: players[0].DisplayName + " won", CustomID: fmt.Sprintf("report:%d:1", matchID)},
		{Label: players[1].DisplayName + " won", CustomID: fmt.Sprintf("report:%d:2", matchID)},
		{Label: "Confirm", CustomID: fmt.Sprintf("confirm:%d", matchID)},
		{Label: "Dispute", CustomID: fmt.Sprintf("dispute:%d", matchID)},
	}
}

func otherSlot(slot int) int {
	if slot == 1 {
		return 2
	}
	return 1
}
