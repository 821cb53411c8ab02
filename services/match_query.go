package services

import (
	"context"
	"errors"

	"github.com/fightstack/bracket-sync/models"
	"github.com/fightstack/bracket-sync/repositories"
)

// MatchQueryService serves read-only match views for the HTTP surface.
type MatchQueryService interface {
	GetMatch(ctx context.Context, matchID int) (*models.MatchDetail, error)
	ListTournamentMatches(ctx context.Context, tournamentID int) ([]*models.Match, error)
}

type matchQueryService struct {
	tournaments repositories.TournamentRepository
	matches     repositories.MatchRepository
}

func NewMatchQueryService(tournaments repositories.TournamentRepository, matches repositories.MatchRepository) MatchQueryService {
	return &matchQueryService{tournaments: tournaments, matches: matches}
}

func (s *matchQueryService) GetMatch(ctx context.Context, matchID int) (*models.MatchDetail, error) {
	detail, err := s.matches.GetDetail(ctx, nil, matchID)
	if err != nil {
		if errors.Is(err, repositories.ErrMatchNotFound) {
			return nil, ErrMatchNotFound
		}
		return nil, err
	}
	return detail, nil
}

func (s *matchQueryService) ListTournamentMatches(ctx context.Context, tournamentID int) ([]*models.Match, error) {
	if _, err := s.tournaments.GetByID(ctx, tournamentID); err != nil {
		if errors.Is(err, repositories.ErrTournamentNotFound) {
			return nil, ErrTournamentNotFound
		}
		return nil, err
	}
	return s.matches.ListByTournament(ctx, tournamentID)
}
