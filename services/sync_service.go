package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fightstack/bracket-sync/bracketapi"
	"github.com/fightstack/bracket-sync/models"
	"github.com/fightstack/bracket-sync/repositories"
)

const setsPerPage = 50

// BracketClient is the read side of the bracket API client.
type BracketClient interface {
	GetTournament(ctx context.Context, slug string) (*bracketapi.Tournament, error)
	GetEventSets(ctx context.Context, eventID string, page, perPage int) (*bracketapi.SetPage, error)
	GetEventEntrants(ctx context.Context, eventID string, page, perPage int) (*bracketapi.EntrantPage, error)
}

// MatchCaller is the slice of the lifecycle service the synchronizer fires
// for newly-playable matches.
type MatchCaller interface {
	CallMatch(ctx context.Context, matchID int) (*Outcome, error)
}

// SyncResult aggregates one reconciliation run over all events.
type SyncResult struct {
	TournamentID  int           `json:"tournament_id"`
	Events        int           `json:"events"`
	Created       int           `json:"created"`
	Updated       int           `json:"updated"`
	NewlyPlayable []int         `json:"newly_playable"`
	Duration      time.Duration `json:"duration"`
}

type SyncService interface {
	// SyncTournament reconciles the remote bracket state of one tournament
	// into the local store and provisions threads for matches that became
	// playable, without waiting for the provisioning to finish.
	SyncTournament(ctx context.Context, tournamentID int) (*SyncResult, error)
}

type syncService struct {
	tx          repositories.TxRunner
	tournaments repositories.TournamentRepository
	events      repositories.EventRepository
	matches     repositories.MatchRepository
	players     repositories.MatchPlayerRepository
	bracket     BracketClient
	caller      MatchCaller
	logger      *slog.Logger
}

func NewSyncService(
	tx repositories.TxRunner,
	tournaments repositories.TournamentRepository,
	events repositories.EventRepository,
	matches repositories.MatchRepository,
	players repositories.MatchPlayerRepository,
	bracket BracketClient,
	caller MatchCaller,
	logger *slog.Logger,
) SyncService {
	return &syncService{
		tx:          tx,
		tournaments: tournaments,
		events:      events,
		matches:     matches,
		players:     players,
		bracket:     bracket,
		caller:      caller,
		logger:      logger,
	}
}

// eventFetch carries everything pulled remotely for one event.
type eventFetch struct {
	event        *models.Event
	sets         []bracketapi.Set
	entrantNames map[string]string
}

func (s *syncService) SyncTournament(ctx context.Context, tournamentID int) (*SyncResult, error) {
	start := time.Now()

	t, err := s.tournaments.GetByID(ctx, tournamentID)
	if err != nil {
		if errors.Is(err, repositories.ErrTournamentNotFound) {
			return nil, ErrTournamentNotFound
		}
		return nil, err
	}

	remote, err := s.bracket.GetTournament(ctx, t.Slug)
	if err != nil {
		return nil, fmt.Errorf("fetch tournament %s: %w", t.Slug, err)
	}
	if remote == nil {
		return nil, ErrRemoteTournamentGone
	}
	state := mapRemoteState(remote.State, t.State)

	localEvents := make([]*models.Event, 0, len(remote.Events))
	for _, re := range remote.Events {
		e := &models.Event{
			TournamentID: t.ID,
			ExternalID:   re.ID,
			Name:         re.Name,
			NumEntrants:  re.NumEntrants,
			RemoteState:  re.State,
		}
		if err := s.events.Upsert(ctx, nil, e); err != nil {
			return nil, err
		}
		localEvents = append(localEvents, e)
	}

	// Одна выборка всех локальных матчей турнира; дальше все сверки O(1).
	existingList, err := s.matches.ListByTournament(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	existing := make(map[string]*models.Match, len(existingList))
	for _, m := range existingList {
		existing[m.ExternalSetID] = m
	}

	fetches, err := s.fetchEvents(ctx, localEvents)
	if err != nil {
		return nil, fmt.Errorf("fetch remote event state: %w", err)
	}

	result := &SyncResult{TournamentID: t.ID, Events: len(localEvents)}
	for _, f := range fetches {
		for _, set := range f.sets {
			local, ok := existing[set.ID]
			if !ok {
				created, err := s.createMatch(ctx, f, set)
				if err != nil {
					return nil, err
				}
				result.Created++
				if set.Ready() {
					result.NewlyPlayable = append(result.NewlyPlayable, created.ID)
				}
				continue
			}

			if local.Identifier != set.Identifier || local.Round != set.Round {
				if err := s.matches.UpdateLabels(ctx, nil, local.ID, set.Identifier, set.Round); err != nil {
					return nil, err
				}
				result.Updated++
			}

			// Сет стал играбельным, а локально матч ещё не вызван.
			if set.Ready() && local.State == models.MatchNotStarted {
				if err := s.upsertPlayers(ctx, nil, local.ID, f, set); err != nil {
					return nil, err
				}
				result.NewlyPlayable = append(result.NewlyPlayable, local.ID)
			}
		}
	}

	// Thread provisioning is fire-and-forget: a failure must not stall or
	// fail the poll cycle. CallMatch is idempotent, so a retried poll simply
	// re-triggers any match whose provisioning failed.
	for _, matchID := range result.NewlyPlayable {
		go s.callMatch(context.WithoutCancel(ctx), matchID)
	}

	intervalMs := 0
	if interval, ok := IntervalForState(state); ok {
		intervalMs = int(interval / time.Millisecond)
	}
	if err := s.tournaments.UpdateSyncState(ctx, nil, t.ID, state, time.Now(), intervalMs); err != nil {
		return nil, err
	}

	result.Duration = time.Since(start)
	return result, nil
}

// fetchEvents pulls the set list and entrant list of every event, with the
// two listings of each event fetched concurrently.
func (s *syncService) fetchEvents(ctx context.Context, events []*models.Event) ([]*eventFetch, error) {
	fetches := make([]*eventFetch, len(events))
	g, gCtx := errgroup.WithContext(ctx)

	for i, e := range events {
		i, e := i, e
		g.Go(func() error {
			f := &eventFetch{event: e, entrantNames: make(map[string]string)}
			inner, ictx := errgroup.WithContext(gCtx)

			inner.Go(func() error {
				page := 1
				for {
					p, err := s.bracket.GetEventSets(ictx, e.ExternalID, page, setsPerPage)
					if err != nil {
						return fmt.Errorf("event %s sets page %d: %w", e.ExternalID, page, err)
					}
					f.sets = append(f.sets, p.Sets...)
					if page >= p.TotalPages {
						return nil
					}
					page++
				}
			})

			inner.Go(func() error {
				page := 1
				for {
					p, err := s.bracket.GetEventEntrants(ictx, e.ExternalID, page, setsPerPage)
					if err != nil {
						return fmt.Errorf("event %s entrants page %d: %w", e.ExternalID, page, err)
					}
					for _, entrant := range p.Entrants {
						f.entrantNames[entrant.ID] = entrant.Name
					}
					if page >= p.TotalPages {
						return nil
					}
					page++
				}
			})

			if err := inner.Wait(); err != nil {
				return err
			}
			fetches[i] = f
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return fetches, nil
}

// createMatch inserts the match and any determined player slots atomically.
func (s *syncService) createMatch(ctx context.Context, f *eventFetch, set bracketapi.Set) (*models.Match, error) {
	m := &models.Match{
		EventID:       f.event.ID,
		ExternalSetID: set.ID,
		Identifier:    set.Identifier,
		Round:         set.Round,
		State:         models.MatchNotStarted,
	}
	err := s.tx.RunInTx(ctx, func(exec repositories.SQLExecutor) error {
		if err := s.matches.Create(ctx, exec, m); err != nil {
			return err
		}
		return s.upsertPlayers(ctx, exec, m.ID, f, set)
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *syncService) upsertPlayers(ctx context.Context, exec repositories.SQLExecutor, matchID int, f *eventFetch, set bracketapi.Set) error {
	for i, slot := range set.Slots {
		if slot.EntrantID == nil {
			continue
		}
		name := slot.EntrantName
		if name == "" {
			name = f.entrantNames[*slot.EntrantID]
		}
		p := &models.MatchPlayer{
			MatchID:           matchID,
			Slot:              i + 1,
			ExternalEntrantID: *slot.EntrantID,
			DisplayName:       name,
		}
		if err := s.players.Upsert(ctx, exec, p); err != nil {
			return err
		}
	}
	return nil
}

func (s *syncService) callMatch(ctx context.Context, matchID int) {
	callCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	if _, err := s.caller.CallMatch(callCtx, matchID); err != nil {
		s.logger.Error("thread provisioning failed",
			slog.Int("match_id", matchID), slog.Any("error", err))
	}
}

// mapRemoteState translates the remote lifecycle string, keeping the current
// local state when the remote value is unknown.
func mapRemoteState(remote string, fallback models.TournamentState) models.TournamentState {
	switch s := models.TournamentState(remote); s {
	case models.TournamentCreated, models.TournamentRegistrationOpen,
		models.TournamentRegistrationClosed, models.TournamentInProgress,
		models.TournamentCompleted, models.TournamentCancelled:
		return s
	default:
		return fallback
	}
}
