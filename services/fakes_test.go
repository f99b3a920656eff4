package services

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bracketlab/bracket-engine/models"
	"github.com/bracketlab/bracket-engine/notify"
	"github.com/bracketlab/bracket-engine/remote"
	"github.com/bracketlab/bracket-engine/repositories"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// passTxRunner runs the function without a real transaction. The fakes hold
// their own locks, so the conditional-update semantics still apply.
type passTxRunner struct{}

func (passTxRunner) RunInTx(_ context.Context, fn func(exec repositories.SQLExecutor) error) error {
	return fn(nil)
}

// stubExecutor satisfies SQLExecutor for fakes that only care about which
// transaction a write belongs to, not about real SQL.
type stubExecutor struct{}

func (stubExecutor) ExecContext(context.Context, string, ...interface{}) (sql.Result, error) {
	return nil, nil
}

func (stubExecutor) QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error) {
	return nil, nil
}

func (stubExecutor) QueryRowContext(context.Context, string, ...interface{}) *sql.Row {
	return nil
}

type capturingPublisher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (p *capturingPublisher) Publish(event notify.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *capturingPublisher) byType(eventType notify.EventType) []notify.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []notify.Event
	for _, e := range p.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// fakeMatchRepo is an in-memory MatchRepository with the same conditional
// semantics as the postgres implementation.
type fakeMatchRepo struct {
	mu       sync.Mutex
	nextID   int
	matches  map[int]*models.Match
	mapCalls int
}

func newFakeMatchRepo() *fakeMatchRepo {
	return &fakeMatchRepo{matches: make(map[int]*models.Match)}
}

func (r *fakeMatchRepo) seed(match *models.Match) *models.Match {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	match.ID = r.nextID
	for i := range match.Players {
		match.Players[i].MatchID = match.ID
	}
	r.matches[match.ID] = match
	return match
}

func copyMatch(m *models.Match) *models.Match {
	cp := *m
	cp.Players = append([]models.MatchPlayer(nil), m.Players...)
	return &cp
}

func (r *fakeMatchRepo) Create(_ context.Context, _ repositories.SQLExecutor, match *models.Match) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(match.Players) != 2 {
		return fmt.Errorf("match must have exactly two players, got %d", len(match.Players))
	}
	for _, existing := range r.matches {
		if existing.EventID == match.EventID && existing.RemoteSetID == match.RemoteSetID {
			return repositories.ErrMatchConflict
		}
	}
	r.nextID++
	match.ID = r.nextID
	for i := range match.Players {
		match.Players[i].MatchID = match.ID
	}
	r.matches[match.ID] = copyMatch(match)
	return nil
}

func (r *fakeMatchRepo) GetByID(_ context.Context, id int) (*models.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matches[id]
	if !ok {
		return nil, repositories.ErrMatchNotFound
	}
	return copyMatch(m), nil
}

func (r *fakeMatchRepo) MapByRemoteSetID(_ context.Context, eventID int) (map[string]*models.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mapCalls++
	out := make(map[string]*models.Match)
	for _, m := range r.matches {
		if m.EventID == eventID {
			out[m.RemoteSetID] = copyMatch(m)
		}
	}
	return out, nil
}

func (r *fakeMatchRepo) UpdateStateIf(_ context.Context, _ repositories.SQLExecutor, matchID int, from []models.MatchState, to models.MatchState) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matches[matchID]
	if !ok {
		return false, nil
	}
	for _, s := range from {
		if m.State == s {
			m.State = to
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeMatchRepo) SetCallDetails(_ context.Context, _ repositories.SQLExecutor, matchID int, threadRef string, deadline time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matches[matchID]
	if !ok {
		return repositories.ErrMatchNotFound
	}
	m.ThreadRef = &threadRef
	m.CheckInDeadline = &deadline
	return nil
}

func (r *fakeMatchRepo) SetSyncPending(_ context.Context, _ repositories.SQLExecutor, matchID int, pending bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matches[matchID]
	if !ok {
		return repositories.ErrMatchNotFound
	}
	m.SyncPending = pending
	return nil
}

func (r *fakeMatchRepo) CheckInPlayer(_ context.Context, _ repositories.SQLExecutor, matchID, slot int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matches[matchID]
	if !ok {
		return false, nil
	}
	for i := range m.Players {
		if m.Players[i].Slot == slot && !m.Players[i].CheckedIn {
			now := time.Now()
			m.Players[i].CheckedIn = true
			m.Players[i].CheckedInAt = &now
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeMatchRepo) CountCheckedIn(_ context.Context, _ repositories.SQLExecutor, matchID int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	if m, ok := r.matches[matchID]; ok {
		for _, p := range m.Players {
			if p.CheckedIn {
				count++
			}
		}
	}
	return count, nil
}

func (r *fakeMatchRepo) SetPlayerWinner(_ context.Context, _ repositories.SQLExecutor, matchID, slot int, winner *bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matches[matchID]
	if !ok {
		return repositories.ErrMatchPlayerNotFound
	}
	for i := range m.Players {
		if m.Players[i].Slot == slot {
			m.Players[i].Winner = winner
			return nil
		}
	}
	return repositories.ErrMatchPlayerNotFound
}

func (r *fakeMatchRepo) SetPlayerScore(_ context.Context, _ repositories.SQLExecutor, matchID, slot int, score *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matches[matchID]
	if !ok {
		return repositories.ErrMatchPlayerNotFound
	}
	for i := range m.Players {
		if m.Players[i].Slot == slot {
			m.Players[i].Score = score
			return nil
		}
	}
	return repositories.ErrMatchPlayerNotFound
}

func (r *fakeMatchRepo) ClearWinners(_ context.Context, _ repositories.SQLExecutor, matchID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matches[matchID]
	if !ok {
		return repositories.ErrMatchPlayerNotFound
	}
	for i := range m.Players {
		m.Players[i].Winner = nil
	}
	return nil
}

func (r *fakeMatchRepo) MarkPlayerDisqualified(_ context.Context, _ repositories.SQLExecutor, matchID, slot int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matches[matchID]
	if !ok {
		return repositories.ErrMatchPlayerNotFound
	}
	for i := range m.Players {
		if m.Players[i].Slot == slot {
			m.Players[i].Disqualified = true
			return nil
		}
	}
	return repositories.ErrMatchPlayerNotFound
}

type fakeEventRepo struct {
	mu     sync.Mutex
	nextID int
	events map[int]*models.Event
}

func newFakeEventRepo() *fakeEventRepo {
	return &fakeEventRepo{events: make(map[int]*models.Event)}
}

func (r *fakeEventRepo) seed(event *models.Event) *models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	event.ID = r.nextID
	r.events[event.ID] = event
	return event
}

func (r *fakeEventRepo) GetByID(_ context.Context, id int) (*models.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[id]
	if !ok {
		return nil, repositories.ErrEventNotFound
	}
	cp := *e
	return &cp, nil
}

func (r *fakeEventRepo) ListByTournament(_ context.Context, tournamentID int) ([]*models.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Event
	for _, e := range r.events {
		if e.TournamentID == tournamentID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeEventRepo) UpsertRemote(_ context.Context, tournamentID int, remoteEventID int64, name string, phase models.EventPhase) (*models.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.TournamentID == tournamentID && e.RemoteEventID == remoteEventID {
			e.Name = name
			e.Phase = phase
			cp := *e
			return &cp, nil
		}
	}
	r.nextID++
	e := &models.Event{ID: r.nextID, TournamentID: tournamentID, RemoteEventID: remoteEventID, Name: name, Phase: phase}
	r.events[e.ID] = e
	cp := *e
	return &cp, nil
}

type fakePushRepo struct {
	mu     sync.Mutex
	nextID int
	pushes []*models.ResultPush
}

func (r *fakePushRepo) Enqueue(_ context.Context, _ repositories.SQLExecutor, push *models.ResultPush) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	push.ID = r.nextID
	push.Status = models.ResultPushPending
	cp := *push
	r.pushes = append(r.pushes, &cp)
	return nil
}

func (r *fakePushRepo) ListDue(_ context.Context, now time.Time, limit int) ([]*models.ResultPush, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []*models.ResultPush
	for _, p := range r.pushes {
		if p.Status == models.ResultPushPending && !p.NextAttemptAt.After(now) {
			cp := *p
			due = append(due, &cp)
			if len(due) == limit {
				break
			}
		}
	}
	return due, nil
}

func (r *fakePushRepo) find(id int) *models.ResultPush {
	for _, p := range r.pushes {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (r *fakePushRepo) MarkSent(_ context.Context, _ repositories.SQLExecutor, id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.find(id)
	if p == nil {
		return repositories.ErrResultPushNotFound
	}
	p.Status = models.ResultPushSent
	p.Attempts++
	return nil
}

func (r *fakePushRepo) MarkRetry(_ context.Context, _ repositories.SQLExecutor, id int, nextAttemptAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.find(id)
	if p == nil {
		return repositories.ErrResultPushNotFound
	}
	p.Attempts++
	p.NextAttemptAt = nextAttemptAt
	return nil
}

func (r *fakePushRepo) MarkFailed(_ context.Context, _ repositories.SQLExecutor, id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.find(id)
	if p == nil {
		return repositories.ErrResultPushNotFound
	}
	p.Status = models.ResultPushFailed
	p.Attempts++
	return nil
}

type fakeRegistrationRepo struct {
	mu            sync.Mutex
	nextID        int
	registrations []*models.Registration
}

func (r *fakeRegistrationRepo) seed(reg *models.Registration) *models.Registration {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	reg.ID = r.nextID
	r.registrations = append(r.registrations, reg)
	return reg
}

func (r *fakeRegistrationRepo) all() []*models.Registration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Registration, len(r.registrations))
	for i, reg := range r.registrations {
		cp := *reg
		out[i] = &cp
	}
	return out
}

func (r *fakeRegistrationRepo) FindByEventAndEntrant(_ context.Context, _ repositories.SQLExecutor, eventID int, remoteEntrantID int64) (*models.Registration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, reg := range r.registrations {
		if reg.EventID == eventID && reg.RemoteEntrantID != nil && *reg.RemoteEntrantID == remoteEntrantID {
			cp := *reg
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeRegistrationRepo) FindByEventAndUser(_ context.Context, _ repositories.SQLExecutor, eventID, userID int) (*models.Registration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, reg := range r.registrations {
		if reg.EventID == eventID && reg.UserID != nil && *reg.UserID == userID {
			cp := *reg
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeRegistrationRepo) Create(_ context.Context, _ repositories.SQLExecutor, reg *models.Registration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.registrations {
		if existing.EventID != reg.EventID {
			continue
		}
		if reg.RemoteEntrantID != nil && existing.RemoteEntrantID != nil && *existing.RemoteEntrantID == *reg.RemoteEntrantID {
			return repositories.ErrRegistrationConflict
		}
		if reg.UserID != nil && existing.UserID != nil && *existing.UserID == *reg.UserID {
			return repositories.ErrRegistrationConflict
		}
	}
	r.nextID++
	reg.ID = r.nextID
	cp := *reg
	r.registrations = append(r.registrations, &cp)
	return nil
}

func (r *fakeRegistrationRepo) LinkRemoteEntrant(_ context.Context, _ repositories.SQLExecutor, registrationID int, remoteEntrantID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, reg := range r.registrations {
		if reg.ID == registrationID {
			if reg.RemoteEntrantID != nil {
				return repositories.ErrRegistrationNotFound
			}
			reg.RemoteEntrantID = &remoteEntrantID
			return nil
		}
	}
	return repositories.ErrRegistrationNotFound
}

func (r *fakeRegistrationRepo) UpdateStatus(_ context.Context, _ repositories.SQLExecutor, registrationID int, status models.RegistrationStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, reg := range r.registrations {
		if reg.ID == registrationID {
			reg.Status = status
			return nil
		}
	}
	return repositories.ErrRegistrationNotFound
}

func (r *fakeRegistrationRepo) CountByEvent(_ context.Context, eventID int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, reg := range r.registrations {
		if reg.EventID == eventID {
			count++
		}
	}
	return count, nil
}

func (r *fakeRegistrationRepo) MapUserIDsByEntrants(_ context.Context, eventID int, remoteEntrantIDs []int64) (map[int64]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wanted := make(map[int64]bool, len(remoteEntrantIDs))
	for _, id := range remoteEntrantIDs {
		wanted[id] = true
	}
	out := make(map[int64]int)
	for _, reg := range r.registrations {
		if reg.EventID == eventID && reg.RemoteEntrantID != nil && reg.UserID != nil && wanted[*reg.RemoteEntrantID] {
			out[*reg.RemoteEntrantID] = *reg.UserID
		}
	}
	return out, nil
}

type fakeUserRepo struct {
	users []*models.User
}

func (r *fakeUserRepo) GetByID(_ context.Context, id int) (*models.User, error) {
	for _, u := range r.users {
		if u.ID == id {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repositories.ErrUserNotFound
}

func (r *fakeUserRepo) FindByRemoteUserIDs(_ context.Context, remoteUserIDs []string) ([]*models.User, error) {
	wanted := make(map[string]bool, len(remoteUserIDs))
	for _, id := range remoteUserIDs {
		wanted[id] = true
	}
	var out []*models.User
	for _, u := range r.users {
		if u.RemoteUserID != nil && wanted[*u.RemoteUserID] {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeUserRepo) FindByTags(_ context.Context, tags []string) ([]*models.User, error) {
	wanted := make(map[string]bool, len(tags))
	for _, tag := range tags {
		wanted[tag] = true
	}
	var out []*models.User
	for _, u := range r.users {
		if wanted[strings.ToLower(u.Tag)] {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

type reportedResult struct {
	RemoteSetID     string
	WinnerEntrantID int64
}

type fakeGateway struct {
	mu              sync.Mutex
	tournament      *remote.Tournament
	setsByEvent     map[int64][]remote.Set
	entrantsByEvent map[int64][]remote.Entrant
	reported        []reportedResult
	reportErr       error
}

func (g *fakeGateway) GetTournament(context.Context, string, string) (*remote.Tournament, error) {
	return g.tournament, nil
}

func (g *fakeGateway) ListEventSets(_ context.Context, _ string, remoteEventID int64) ([]remote.Set, error) {
	return g.setsByEvent[remoteEventID], nil
}

func (g *fakeGateway) ListEventEntrants(_ context.Context, _ string, remoteEventID int64) ([]remote.Entrant, error) {
	return g.entrantsByEvent[remoteEventID], nil
}

func (g *fakeGateway) ReportSetResult(_ context.Context, _ string, remoteSetID string, winnerEntrantID int64, _ *string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.reportErr != nil {
		return g.reportErr
	}
	g.reported = append(g.reported, reportedResult{RemoteSetID: remoteSetID, WinnerEntrantID: winnerEntrantID})
	return nil
}
