package services

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fightstack/bracket-sync/bracketapi"
	"github.com/fightstack/bracket-sync/chat"
	"github.com/fightstack/bracket-sync/models"
	"github.com/fightstack/bracket-sync/repositories"
)

// memStore is an in-memory stand-in for the postgres layer. The fake
// transaction runner holds the store lock for the whole callback, so guarded
// updates behave like serialized transactions.
type memStore struct {
	mu sync.Mutex

	tournaments map[int]*models.Tournament
	events      map[int]*models.Event
	matches     map[int]*models.Match
	players     map[int]*models.MatchPlayer

	nextEventID  int
	nextMatchID  int
	nextPlayerID int

	matchListCalls int
	lastSyncState  models.TournamentState
	lastIntervalMs int
}

func newMemStore() *memStore {
	return &memStore{
		tournaments:  make(map[int]*models.Tournament),
		events:       make(map[int]*models.Event),
		matches:      make(map[int]*models.Match),
		players:      make(map[int]*models.MatchPlayer),
		nextEventID:  1,
		nextMatchID:  1,
		nextPlayerID: 1,
	}
}

// acquire locks the store unless the caller already holds the lock through
// the fake transaction runner.
func (s *memStore) acquire(exec repositories.SQLExecutor) func() {
	if exec != nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// txExec marks "inside a transaction" for the fakes. Its methods are never
// invoked.
type txExec struct{}

func (txExec) ExecContext(context.Context, string, ...interface{}) (sql.Result, error) {
	return nil, nil
}
func (txExec) QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error) {
	return nil, nil
}
func (txExec) QueryRowContext(context.Context, string, ...interface{}) *sql.Row {
	return nil
}

type fakeTxRunner struct{ s *memStore }

func (r *fakeTxRunner) RunInTx(ctx context.Context, fn func(exec repositories.SQLExecutor) error) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return fn(txExec{})
}

type fakeTournamentRepo struct{ s *memStore }

func (r *fakeTournamentRepo) Upsert(ctx context.Context, exec repositories.SQLExecutor, t *models.Tournament) error {
	defer r.s.acquire(exec)()
	cp := *t
	r.s.tournaments[t.ID] = &cp
	return nil
}

func (r *fakeTournamentRepo) GetByID(ctx context.Context, id int) (*models.Tournament, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tournaments[id]
	if !ok {
		return nil, repositories.ErrTournamentNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *fakeTournamentRepo) GetBySlug(ctx context.Context, slug string) (*models.Tournament, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.tournaments {
		if t.Slug == slug {
			cp := *t
			return &cp, nil
		}
	}
	return nil, repositories.ErrTournamentNotFound
}

func (r *fakeTournamentRepo) ListPollable(ctx context.Context) ([]*models.Tournament, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Tournament
	for _, t := range r.s.tournaments {
		if t.State.Pollable() {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeTournamentRepo) UpdateSyncState(ctx context.Context, exec repositories.SQLExecutor, id int, state models.TournamentState, polledAt time.Time, intervalMs int) error {
	defer r.s.acquire(exec)()
	t, ok := r.s.tournaments[id]
	if !ok {
		return repositories.ErrTournamentNotFound
	}
	t.State = state
	t.LastPolledAt = &polledAt
	t.PollIntervalMs = intervalMs
	r.s.lastSyncState = state
	r.s.lastIntervalMs = intervalMs
	return nil
}

type fakeEventRepo struct{ s *memStore }

func (r *fakeEventRepo) Upsert(ctx context.Context, exec repositories.SQLExecutor, e *models.Event) error {
	defer r.s.acquire(exec)()
	for _, existing := range r.s.events {
		if existing.ExternalID == e.ExternalID {
			existing.Name = e.Name
			existing.NumEntrants = e.NumEntrants
			existing.RemoteState = e.RemoteState
			e.ID = existing.ID
			return nil
		}
	}
	e.ID = r.s.nextEventID
	r.s.nextEventID++
	cp := *e
	r.s.events[e.ID] = &cp
	return nil
}

func (r *fakeEventRepo) ListByTournament(ctx context.Context, tournamentID int) ([]*models.Event, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Event
	for _, e := range r.s.events {
		if e.TournamentID == tournamentID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fakeMatchRepo struct{ s *memStore }

func (r *fakeMatchRepo) Create(ctx context.Context, exec repositories.SQLExecutor, m *models.Match) error {
	defer r.s.acquire(exec)()
	m.ID = r.s.nextMatchID
	r.s.nextMatchID++
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	cp := *m
	r.s.matches[m.ID] = &cp
	return nil
}

func (r *fakeMatchRepo) GetByID(ctx context.Context, exec repositories.SQLExecutor, id int) (*models.Match, error) {
	defer r.s.acquire(exec)()
	m, ok := r.s.matches[id]
	if !ok {
		return nil, repositories.ErrMatchNotFound
	}
	cp := *m
	return &cp, nil
}

func (r *fakeMatchRepo) GetDetail(ctx context.Context, exec repositories.SQLExecutor, id int) (*models.MatchDetail, error) {
	defer r.s.acquire(exec)()
	m, ok := r.s.matches[id]
	if !ok {
		return nil, repositories.ErrMatchNotFound
	}
	detail := &models.MatchDetail{Match: *m}
	if e, ok := r.s.events[m.EventID]; ok {
		detail.TournamentID = e.TournamentID
	}
	for _, p := range r.s.players {
		if p.MatchID == id {
			detail.Players = append(detail.Players, *p)
		}
	}
	sort.Slice(detail.Players, func(i, j int) bool {
		return detail.Players[i].Slot < detail.Players[j].Slot
	})
	return detail, nil
}

func (r *fakeMatchRepo) ListByTournament(ctx context.Context, tournamentID int) ([]*models.Match, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.matchListCalls++
	var out []*models.Match
	for _, m := range r.s.matches {
		e, ok := r.s.events[m.EventID]
		if ok && e.TournamentID == tournamentID {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeMatchRepo) UpdateLabels(ctx context.Context, exec repositories.SQLExecutor, id int, identifier string, round int) error {
	defer r.s.acquire(exec)()
	m, ok := r.s.matches[id]
	if !ok {
		return repositories.ErrMatchNotFound
	}
	m.Identifier = identifier
	m.Round = round
	return nil
}

func (r *fakeMatchRepo) ClaimCall(ctx context.Context, exec repositories.SQLExecutor, id int, threadRef string, deadline time.Time) (bool, error) {
	defer r.s.acquire(exec)()
	m, ok := r.s.matches[id]
	if !ok {
		return false, nil
	}
	if m.State != models.MatchNotStarted || m.ThreadRef != nil {
		return false, nil
	}
	ref := threadRef
	dl := deadline
	m.ThreadRef = &ref
	m.CheckInDeadline = &dl
	m.State = models.MatchCalled
	return true, nil
}

func (r *fakeMatchRepo) TransitionState(ctx context.Context, exec repositories.SQLExecutor, id int, from, to models.MatchState) (bool, error) {
	defer r.s.acquire(exec)()
	m, ok := r.s.matches[id]
	if !ok || m.State != from {
		return false, nil
	}
	m.State = to
	return true, nil
}

func (r *fakeMatchRepo) Disqualify(ctx context.Context, exec repositories.SQLExecutor, id int) (bool, error) {
	defer r.s.acquire(exec)()
	m, ok := r.s.matches[id]
	if !ok || m.State.Terminal() {
		return false, nil
	}
	m.State = models.MatchDQ
	return true, nil
}

func (r *fakeMatchRepo) SetReporterSlot(ctx context.Context, exec repositories.SQLExecutor, id int, slot *int) error {
	defer r.s.acquire(exec)()
	m, ok := r.s.matches[id]
	if !ok {
		return repositories.ErrMatchNotFound
	}
	if slot == nil {
		m.ReporterSlot = nil
	} else {
		v := *slot
		m.ReporterSlot = &v
	}
	return nil
}

// racingMatchRepo loses the first transition into pending_confirmation: the
// rival callback mutates the store the way a concurrently committed report
// would, and the guarded update reports zero affected rows.
type racingMatchRepo struct {
	*fakeMatchRepo
	rival func()
	once  sync.Once
}

func (r *racingMatchRepo) TransitionState(ctx context.Context, exec repositories.SQLExecutor, id int, from, to models.MatchState) (bool, error) {
	lost := false
	if to == models.MatchPendingConfirmation {
		r.once.Do(func() {
			lost = true
			r.rival()
		})
	}
	if lost {
		return false, nil
	}
	return r.fakeMatchRepo.TransitionState(ctx, exec, id, from, to)
}

type fakePlayerRepo struct{ s *memStore }

func (r *fakePlayerRepo) Upsert(ctx context.Context, exec repositories.SQLExecutor, p *models.MatchPlayer) error {
	defer r.s.acquire(exec)()
	for _, existing := range r.s.players {
		if existing.MatchID == p.MatchID && existing.Slot == p.Slot {
			existing.ExternalEntrantID = p.ExternalEntrantID
			existing.DisplayName = p.DisplayName
			p.ID = existing.ID
			return nil
		}
	}
	p.ID = r.s.nextPlayerID
	r.s.nextPlayerID++
	cp := *p
	r.s.players[p.ID] = &cp
	return nil
}

func (r *fakePlayerRepo) ListByMatch(ctx context.Context, exec repositories.SQLExecutor, matchID int) ([]*models.MatchPlayer, error) {
	defer r.s.acquire(exec)()
	var out []*models.MatchPlayer
	for _, p := range r.s.players {
		if p.MatchID == matchID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out, nil
}

func (r *fakePlayerRepo) CheckIn(ctx context.Context, exec repositories.SQLExecutor, playerID int, at time.Time) (bool, error) {
	defer r.s.acquire(exec)()
	p, ok := r.s.players[playerID]
	if !ok || p.IsCheckedIn {
		return false, nil
	}
	p.IsCheckedIn = true
	t := at
	p.CheckedInAt = &t
	return true, nil
}

func (r *fakePlayerRepo) CountCheckedIn(ctx context.Context, exec repositories.SQLExecutor, matchID int) (int, error) {
	defer r.s.acquire(exec)()
	count := 0
	for _, p := range r.s.players {
		if p.MatchID == matchID && p.IsCheckedIn {
			count++
		}
	}
	return count, nil
}

func (r *fakePlayerRepo) SetClaim(ctx context.Context, exec repositories.SQLExecutor, playerID int, isWinner bool, score *string) error {
	defer r.s.acquire(exec)()
	p, ok := r.s.players[playerID]
	if !ok {
		return repositories.ErrMatchPlayerNotFound
	}
	w := isWinner
	p.IsWinner = &w
	p.ReportedScore = score
	return nil
}

func (r *fakePlayerRepo) ClearClaims(ctx context.Context, exec repositories.SQLExecutor, matchID int) error {
	defer r.s.acquire(exec)()
	for _, p := range r.s.players {
		if p.MatchID == matchID {
			p.IsWinner = nil
			p.ReportedScore = nil
		}
	}
	return nil
}

func (r *fakePlayerRepo) SetWinners(ctx context.Context, exec repositories.SQLExecutor, matchID int, winnerSlot int) error {
	defer r.s.acquire(exec)()
	for _, p := range r.s.players {
		if p.MatchID == matchID {
			w := p.Slot == winnerSlot
			p.IsWinner = &w
		}
	}
	return nil
}

func (r *fakePlayerRepo) MarkLosers(ctx context.Context, exec repositories.SQLExecutor, matchID int, slots []int) error {
	defer r.s.acquire(exec)()
	lost := map[int]bool{}
	for _, slot := range slots {
		lost[slot] = true
	}
	for _, p := range r.s.players {
		if p.MatchID != matchID {
			continue
		}
		if lost[p.Slot] {
			f := false
			p.IsWinner = &f
		} else if len(slots) == 1 {
			w := true
			p.IsWinner = &w
		}
	}
	return nil
}

// fakeChat records thread activity and can inject failures or side effects.
type fakeChat struct {
	mu             sync.Mutex
	threadsCreated int
	deleted        []string
	members        map[string][]string
	messages       []string
	createErr      error
	onCreate       func()
}

func newFakeChat() *fakeChat {
	return &fakeChat{members: make(map[string][]string)}
}

func (c *fakeChat) CreateThread(ctx context.Context, channelID, title string) (string, error) {
	c.mu.Lock()
	if c.createErr != nil {
		defer c.mu.Unlock()
		return "", c.createErr
	}
	c.threadsCreated++
	ref := fmt.Sprintf("thread-%d", c.threadsCreated)
	hook := c.onCreate
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	return ref, nil
}

func (c *fakeChat) DeleteThread(ctx context.Context, threadID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, threadID)
	return nil
}

func (c *fakeChat) AddThreadMember(ctx context.Context, threadID, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.members[threadID] = append(c.members[threadID], userID)
	return nil
}

func (c *fakeChat) SendMessage(ctx context.Context, threadID, content string, buttons []chat.Button) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, content)
	return nil
}

type reportCall struct {
	setID   string
	outcome bracketapi.ReportedOutcome
}

// fakeReporter delivers upstream write-backs over a channel so tests can wait
// for the fire-and-forget goroutine.
type fakeReporter struct {
	calls chan reportCall
}

func newFakeReporter() *fakeReporter {
	return &fakeReporter{calls: make(chan reportCall, 4)}
}

func (r *fakeReporter) ReportResult(ctx context.Context, setID string, outcome bracketapi.ReportedOutcome) error {
	r.calls <- reportCall{setID: setID, outcome: outcome}
	return nil
}

func (r *fakeReporter) wait(timeout time.Duration) (reportCall, bool) {
	select {
	case call := <-r.calls:
		return call, true
	case <-time.After(timeout):
		return reportCall{}, false
	}
}

type fakeHub struct {
	mu     sync.Mutex
	rooms  []int
	events []string
}

func (h *fakeHub) BroadcastToRoom(roomID int, msgType string, payload interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rooms = append(h.rooms, roomID)
	h.events = append(h.events, msgType)
}

func (h *fakeHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}
