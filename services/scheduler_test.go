package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/fightstack/bracket-sync/models"
)

func TestIntervalForState(t *testing.T) {
	cases := []struct {
		state    models.TournamentState
		interval time.Duration
		pollable bool
	}{
		{models.TournamentInProgress, 15 * time.Second, true},
		{models.TournamentRegistrationOpen, time.Minute, true},
		{models.TournamentCreated, 5 * time.Minute, true},
		{models.TournamentRegistrationClosed, 5 * time.Minute, true},
		{models.TournamentCompleted, 0, false},
		{models.TournamentCancelled, 0, false},
	}
	for _, tc := range cases {
		interval, ok := IntervalForState(tc.state)
		if ok != tc.pollable || interval != tc.interval {
			t.Fatalf("%s: got (%v, %v), want (%v, %v)",
				tc.state, interval, ok, tc.interval, tc.pollable)
		}
	}
}

func newSchedulerFixture(t *testing.T) (*PollScheduler, *memStore) {
	t.Helper()

	store := newMemStore()
	store.tournaments[1] = &models.Tournament{ID: 1, Slug: "weekly-42", State: models.TournamentInProgress}
	store.tournaments[2] = &models.Tournament{ID: 2, Slug: "old-one", State: models.TournamentCompleted}

	f := newSyncFixture(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	scheduler, err := NewPollScheduler(f.svc, &fakeTournamentRepo{s: store}, logger)
	if err != nil {
		t.Fatalf("NewPollScheduler: %v", err)
	}
	t.Cleanup(func() { scheduler.Shutdown() })
	return scheduler, store
}

func TestEnsureTournamentSchedulesPollableOnly(t *testing.T) {
	scheduler, store := newSchedulerFixture(t)

	if err := scheduler.EnsureTournament(store.tournaments[1]); err != nil {
		t.Fatalf("EnsureTournament: %v", err)
	}
	status, ok := scheduler.GetPollStatus(context.Background(), 1)
	if !ok {
		t.Fatal("expected poll status for scheduled tournament")
	}
	if status.Interval != 15*time.Second {
		t.Fatalf("interval = %v, want 15s", status.Interval)
	}

	if err := scheduler.EnsureTournament(store.tournaments[2]); err != nil {
		t.Fatalf("EnsureTournament completed: %v", err)
	}
	if _, ok := scheduler.GetPollStatus(context.Background(), 2); ok {
		t.Fatal("completed tournament must not be scheduled")
	}
}

func TestEnsureTournamentRetunesInterval(t *testing.T) {
	scheduler, store := newSchedulerFixture(t)

	if err := scheduler.EnsureTournament(store.tournaments[1]); err != nil {
		t.Fatalf("EnsureTournament: %v", err)
	}

	store.tournaments[1].State = models.TournamentRegistrationOpen
	if err := scheduler.EnsureTournament(store.tournaments[1]); err != nil {
		t.Fatalf("EnsureTournament retune: %v", err)
	}
	status, ok := scheduler.GetPollStatus(context.Background(), 1)
	if !ok || status.Interval != time.Minute {
		t.Fatalf("interval after retune = %+v ok=%v, want 1m", status, ok)
	}

	// Турнир завершился: джоба снимается.
	store.tournaments[1].State = models.TournamentCompleted
	if err := scheduler.EnsureTournament(store.tournaments[1]); err != nil {
		t.Fatalf("EnsureTournament after completion: %v", err)
	}
	if _, ok := scheduler.GetPollStatus(context.Background(), 1); ok {
		t.Fatal("completed tournament must be unscheduled")
	}
}

func TestGetPollStatusFallsBackToPersistedLastPoll(t *testing.T) {
	scheduler, store := newSchedulerFixture(t)

	polled := time.Now().Add(-3 * time.Minute).Truncate(time.Second)
	store.tournaments[1].LastPolledAt = &polled

	if err := scheduler.EnsureTournament(store.tournaments[1]); err != nil {
		t.Fatalf("EnsureTournament: %v", err)
	}

	// Джоба ещё не запускалась: статус отдаёт сохранённое время опроса.
	status, ok := scheduler.GetPollStatus(context.Background(), 1)
	if !ok {
		t.Fatal("expected poll status for scheduled tournament")
	}
	if status.LastPolledAt == nil || !status.LastPolledAt.Equal(polled) {
		t.Fatalf("last_polled_at = %v, want %v", status.LastPolledAt, polled)
	}
}

func TestTriggerImmediatePollRemovesOneShotJob(t *testing.T) {
	scheduler, _ := newSchedulerFixture(t)
	scheduler.sched.Start()

	if err := scheduler.TriggerImmediatePoll(context.Background(), 1); err != nil {
		t.Fatalf("TriggerImmediatePoll: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		leftover := false
		for _, job := range scheduler.sched.Jobs() {
			if strings.HasPrefix(job.Name(), "poll-now-") {
				leftover = true
			}
		}
		if !leftover {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("one-shot poll job was not removed after it ran")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestTriggerImmediatePollRejectsNonPollable(t *testing.T) {
	scheduler, _ := newSchedulerFixture(t)

	err := scheduler.TriggerImmediatePoll(context.Background(), 2)
	if !errors.Is(err, ErrTournamentNotPollable) {
		t.Fatalf("expected ErrTournamentNotPollable, got %v", err)
	}

	err = scheduler.TriggerImmediatePoll(context.Background(), 99)
	if !errors.Is(err, ErrTournamentNotFound) {
		t.Fatalf("expected ErrTournamentNotFound, got %v", err)
	}
}
