package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bracketlab/bracket-engine/models"
	"github.com/bracketlab/bracket-engine/notify"
	"github.com/bracketlab/bracket-engine/remote"
)

type matchSyncFixture struct {
	service   MatchSyncService
	gateway   *fakeGateway
	matchRepo *fakeMatchRepo
	regRepo   *fakeRegistrationRepo
	eventRepo *fakeEventRepo
	publisher *capturingPublisher
}

func newMatchSyncFixture(t *testing.T) *matchSyncFixture {
	t.Helper()
	gateway := &fakeGateway{setsByEvent: make(map[int64][]remote.Set)}
	matchRepo := newFakeMatchRepo()
	regRepo := &fakeRegistrationRepo{}
	eventRepo := newFakeEventRepo()
	publisher := &capturingPublisher{}

	service := NewMatchSyncService(gateway, matchRepo, regRepo, passTxRunner{}, publisher, testLogger())
	return &matchSyncFixture{
		service:   service,
		gateway:   gateway,
		matchRepo: matchRepo,
		regRepo:   regRepo,
		eventRepo: eventRepo,
		publisher: publisher,
	}
}

func readySet(id string, entrantA, entrantB int64) remote.Set {
	return remote.Set{
		ID:    id,
		Round: "Round 1",
		State: remote.SetStateReady,
		Slots: []remote.SetSlot{
			{EntrantID: entrantA, Name: fmt.Sprintf("entrant-%d", entrantA)},
			{EntrantID: entrantB, Name: fmt.Sprintf("entrant-%d", entrantB)},
		},
	}
}

func TestSyncCreatesMatchesForReadySets(t *testing.T) {
	t.Parallel()

	f := newMatchSyncFixture(t)
	event := f.eventRepo.seed(&models.Event{TournamentID: 1, RemoteEventID: 900})

	userID := 7
	entrantID := int64(101)
	f.regRepo.seed(&models.Registration{EventID: event.ID, UserID: &userID, RemoteEntrantID: &entrantID, Status: models.RegistrationConfirmed})

	f.gateway.setsByEvent[900] = []remote.Set{
		readySet("s1", 101, 102),
		readySet("s2", 103, 104),
		{ID: "s3", Round: "Round 1", State: remote.SetStatePending, Slots: []remote.SetSlot{{EntrantID: 105}}},
	}

	stats, err := f.service.SyncEventMatches(context.Background(), "token", event)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Created)
	assert.Equal(t, 0, stats.Updated)

	matches, err := f.matchRepo.MapByRemoteSetID(context.Background(), event.ID)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	_, ok := matches["s3"]
	assert.False(t, ok, "pending sets must not become matches")

	// The known local user is linked; unknown entrants stay unlinked.
	created := matches["s1"]
	require.NotNil(t, created.PlayerBySlot(1).UserID)
	assert.Equal(t, 7, *created.PlayerBySlot(1).UserID)
	assert.Nil(t, created.PlayerBySlot(2).UserID)

	assert.Len(t, f.publisher.byType(notify.EventMatchReady), 2)
}

func TestSyncIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newMatchSyncFixture(t)
	event := f.eventRepo.seed(&models.Event{TournamentID: 1, RemoteEventID: 900})

	sets := make([]remote.Set, 0, 10)
	for i := 0; i < 10; i++ {
		sets = append(sets, readySet(fmt.Sprintf("s%d", i), int64(200+2*i), int64(201+2*i)))
	}
	f.gateway.setsByEvent[900] = sets

	stats, err := f.service.SyncEventMatches(context.Background(), "token", event)
	require.NoError(t, err)
	require.Equal(t, 10, stats.Created)

	stats, err = f.service.SyncEventMatches(context.Background(), "token", event)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Created, "a second run with no remote changes must create nothing")
	assert.Equal(t, 0, stats.Updated)

	matches, err := f.matchRepo.MapByRemoteSetID(context.Background(), event.ID)
	require.NoError(t, err)
	assert.Len(t, matches, 10)
}

func TestSyncBatchQueriesStayPerEvent(t *testing.T) {
	t.Parallel()

	f := newMatchSyncFixture(t)
	eventA := f.eventRepo.seed(&models.Event{TournamentID: 1, RemoteEventID: 900})
	eventB := f.eventRepo.seed(&models.Event{TournamentID: 1, RemoteEventID: 901})

	for i := 0; i < 10; i++ {
		f.gateway.setsByEvent[900] = append(f.gateway.setsByEvent[900], readySet(fmt.Sprintf("a%d", i), int64(300+2*i), int64(301+2*i)))
		f.gateway.setsByEvent[901] = append(f.gateway.setsByEvent[901], readySet(fmt.Sprintf("b%d", i), int64(400+2*i), int64(401+2*i)))
	}

	_, err := f.service.SyncEventMatches(context.Background(), "token", eventA)
	require.NoError(t, err)
	_, err = f.service.SyncEventMatches(context.Background(), "token", eventB)
	require.NoError(t, err)

	// One batch load per event, regardless of the number of sets.
	assert.Equal(t, 2, f.matchRepo.mapCalls)
}

func TestSyncAppliesRemoteCompletion(t *testing.T) {
	t.Parallel()

	f := newMatchSyncFixture(t)
	event := f.eventRepo.seed(&models.Event{TournamentID: 1, RemoteEventID: 900})

	f.matchRepo.seed(&models.Match{
		EventID:     event.ID,
		RemoteSetID: "s1",
		State:       models.MatchStateInProgress,
		Players: []models.MatchPlayer{
			{Slot: 1, RemoteEntrantID: 101},
			{Slot: 2, RemoteEntrantID: 102},
		},
	})

	winner := int64(102)
	score := "1-2"
	f.gateway.setsByEvent[900] = []remote.Set{{
		ID:              "s1",
		State:           remote.SetStateCompleted,
		Slots:           []remote.SetSlot{{EntrantID: 101}, {EntrantID: 102}},
		WinnerEntrantID: &winner,
		DisplayScore:    &score,
	}}

	stats, err := f.service.SyncEventMatches(context.Background(), "token", event)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Updated)

	matches, err := f.matchRepo.MapByRemoteSetID(context.Background(), event.ID)
	require.NoError(t, err)
	match := matches["s1"]
	assert.Equal(t, models.MatchStateCompleted, match.State)
	require.NotNil(t, match.PlayerBySlot(2).Winner)
	assert.True(t, *match.PlayerBySlot(2).Winner)
	require.NotNil(t, match.PlayerBySlot(1).Winner)
	assert.False(t, *match.PlayerBySlot(1).Winner)
}

func TestSyncLeavesLocallyCompletedMatchAlone(t *testing.T) {
	t.Parallel()

	f := newMatchSyncFixture(t)
	event := f.eventRepo.seed(&models.Event{TournamentID: 1, RemoteEventID: 900})

	winnerTrue := true
	f.matchRepo.seed(&models.Match{
		EventID:     event.ID,
		RemoteSetID: "s1",
		State:       models.MatchStateCompleted,
		Players: []models.MatchPlayer{
			{Slot: 1, RemoteEntrantID: 101, Winner: &winnerTrue},
			{Slot: 2, RemoteEntrantID: 102},
		},
	})

	winner := int64(102)
	f.gateway.setsByEvent[900] = []remote.Set{{
		ID:              "s1",
		State:           remote.SetStateCompleted,
		Slots:           []remote.SetSlot{{EntrantID: 101}, {EntrantID: 102}},
		WinnerEntrantID: &winner,
	}}

	stats, err := f.service.SyncEventMatches(context.Background(), "token", event)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Updated, "a terminal local match is authoritative")
}
