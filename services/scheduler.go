package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"github.com/fightstack/bracket-sync/models"
	"github.com/fightstack/bracket-sync/repositories"
)

const pollTimeout = 2 * time.Minute

// IntervalForState derives the next-poll interval from the tournament's
// lifecycle state. The second return is false for states that are never
// polled again.
func IntervalForState(state models.TournamentState) (time.Duration, bool) {
	switch state {
	case models.TournamentInProgress:
		return 15 * time.Second, true
	case models.TournamentRegistrationOpen:
		return time.Minute, true
	case models.TournamentCompleted, models.TournamentCancelled:
		return 0, false
	default:
		// created, registration_closed, unknown
		return 5 * time.Minute, true
	}
}

// PollStatus is the read-only view of one tournament's polling schedule.
type PollStatus struct {
	TournamentID int           `json:"tournament_id"`
	Interval     time.Duration `json:"interval"`
	LastPolledAt *time.Time    `json:"last_polled_at,omitempty"`
	NextPollAt   *time.Time    `json:"next_poll_at,omitempty"`
}

// PollScheduler runs one independent recurring job per tournament so a slow
// or failing sync never blocks another tournament's cadence.
type PollScheduler struct {
	sched       gocron.Scheduler
	sync        SyncService
	tournaments repositories.TournamentRepository
	logger      *slog.Logger

	mu   sync.Mutex
	jobs map[int]*pollEntry
}

type pollEntry struct {
	jobID    uuid.UUID
	job      gocron.Job
	interval time.Duration
	lastRun  *time.Time
}

func NewPollScheduler(syncSvc SyncService, tournaments repositories.TournamentRepository, logger *slog.Logger) (*PollScheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &PollScheduler{
		sched:       sched,
		sync:        syncSvc,
		tournaments: tournaments,
		logger:      logger,
		jobs:        make(map[int]*pollEntry),
	}, nil
}

// Start schedules every pollable tournament and begins executing jobs.
func (p *PollScheduler) Start(ctx context.Context) error {
	tournaments, err := p.tournaments.ListPollable(ctx)
	if err != nil {
		return fmt.Errorf("list pollable tournaments: %w", err)
	}
	for _, t := range tournaments {
		if err := p.EnsureTournament(t); err != nil {
			return err
		}
	}
	p.sched.Start()
	p.logger.Info("poll scheduler started", slog.Int("tournaments", len(tournaments)))
	return nil
}

func (p *PollScheduler) Shutdown() error {
	return p.sched.Shutdown()
}

// EnsureTournament creates or retunes the tournament's recurring job to the
// interval its current state dictates, and removes the job when the
// tournament left the pollable states.
func (p *PollScheduler) EnsureTournament(t *models.Tournament) error {
	interval, pollable := IntervalForState(t.State)

	p.mu.Lock()
	defer p.mu.Unlock()

	entry, exists := p.jobs[t.ID]
	if !pollable {
		if exists {
			if err := p.sched.RemoveJob(entry.jobID); err != nil {
				p.logger.Warn("failed to remove poll job",
					slog.Int("tournament_id", t.ID), slog.Any("error", err))
			}
			delete(p.jobs, t.ID)
		}
		return nil
	}

	if exists {
		if entry.interval == interval {
			return nil
		}
		job, err := p.sched.Update(entry.jobID,
			gocron.DurationJob(interval),
			gocron.NewTask(p.runPoll, t.ID),
		)
		if err != nil {
			return fmt.Errorf("retune poll job for tournament %d: %w", t.ID, err)
		}
		entry.jobID = job.ID()
		entry.job = job
		entry.interval = interval
		return nil
	}

	job, err := p.sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(p.runPoll, t.ID),
		gocron.WithName(fmt.Sprintf("poll-tournament-%d", t.ID)),
	)
	if err != nil {
		return fmt.Errorf("schedule poll job for tournament %d: %w", t.ID, err)
	}
	p.jobs[t.ID] = &pollEntry{jobID: job.ID(), job: job, interval: interval}
	return nil
}

// runPoll executes one reconciliation. Failures are logged and the job keeps
// its cadence; they never escalate out of the scheduler.
func (p *PollScheduler) runPoll(tournamentID int) {
	ctx, cancel := context.WithTimeout(context.Background(), pollTimeout)
	defer cancel()

	now := time.Now()
	p.mu.Lock()
	if entry, ok := p.jobs[tournamentID]; ok {
		entry.lastRun = &now
	}
	p.mu.Unlock()

	result, err := p.sync.SyncTournament(ctx, tournamentID)
	if err != nil {
		p.logger.Error("poll cycle failed",
			slog.Int("tournament_id", tournamentID), slog.Any("error", err))
		return
	}

	p.logger.Info("poll cycle complete",
		slog.Int("tournament_id", tournamentID),
		slog.Int("created", result.Created),
		slog.Int("updated", result.Updated),
		slog.Int("newly_playable", len(result.NewlyPlayable)),
		slog.Duration("duration", result.Duration))

	// Состояние турнира могло измениться — подстраиваем каденс.
	t, err := p.tournaments.GetByID(context.Background(), tournamentID)
	if err != nil {
		p.logger.Warn("failed to reload tournament after poll",
			slog.Int("tournament_id", tournamentID), slog.Any("error", err))
		return
	}
	if err := p.EnsureTournament(t); err != nil {
		p.logger.Warn("failed to retune poll job",
			slog.Int("tournament_id", tournamentID), slog.Any("error", err))
	}
}

// GetPollStatus is safe to call concurrently with a running poll.
func (p *PollScheduler) GetPollStatus(ctx context.Context, tournamentID int) (*PollStatus, bool) {
	p.mu.Lock()
	entry, ok := p.jobs[tournamentID]
	if !ok {
		p.mu.Unlock()
		return nil, false
	}

	status := &PollStatus{
		TournamentID: tournamentID,
		Interval:     entry.interval,
		LastPolledAt: entry.lastRun,
	}
	if next, err := entry.job.NextRun(); err == nil {
		status.NextPollAt = &next
	}
	p.mu.Unlock()

	// Джоба ещё не бегала в этом процессе: берём время последнего опроса
	// из базы.
	if status.LastPolledAt == nil {
		if t, err := p.tournaments.GetByID(ctx, tournamentID); err == nil {
			status.LastPolledAt = t.LastPolledAt
		}
	}
	return status, true
}

// TriggerImmediatePoll schedules a one-shot run with zero delay. It is a
// no-op returning an error for tournaments that are not in a pollable state.
func (p *PollScheduler) TriggerImmediatePoll(ctx context.Context, tournamentID int) error {
	t, err := p.tournaments.GetByID(ctx, tournamentID)
	if err != nil {
		if errors.Is(err, repositories.ErrTournamentNotFound) {
			return ErrTournamentNotFound
		}
		return err
	}
	if !t.State.Pollable() {
		return ErrTournamentNotPollable
	}

	_, err = p.sched.NewJob(
		gocron.OneTimeJob(gocron.OneTimeJobStartImmediately()),
		gocron.NewTask(p.runPoll, tournamentID),
		gocron.WithName(fmt.Sprintf("poll-now-%d", tournamentID)),
		gocron.WithEventListeners(
			// Одноразовая джоба снимается из планировщика после запуска.
			gocron.AfterJobRuns(func(jobID uuid.UUID, jobName string) {
				if err := p.sched.RemoveJob(jobID); err != nil {
					p.logger.Warn("failed to remove one-shot poll job",
						slog.String("job", jobName), slog.Any("error", err))
				}
			}),
		),
	)
	if err != nil {
		return fmt.Errorf("schedule immediate poll for tournament %d: %w", tournamentID, err)
	}
	return nil
}
