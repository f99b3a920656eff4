package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bracketlab/bracket-engine/models"
	"github.com/bracketlab/bracket-engine/remote"
)

type regSyncFixture struct {
	service   RegistrationSyncService
	gateway   *fakeGateway
	regRepo   *fakeRegistrationRepo
	userRepo  *fakeUserRepo
	eventRepo *fakeEventRepo
}

func newRegSyncFixture(t *testing.T) *regSyncFixture {
	t.Helper()
	gateway := &fakeGateway{entrantsByEvent: make(map[int64][]remote.Entrant)}
	regRepo := &fakeRegistrationRepo{}
	userRepo := &fakeUserRepo{}
	eventRepo := newFakeEventRepo()

	service := NewRegistrationSyncService(gateway, regRepo, userRepo, passTxRunner{}, &capturingPublisher{}, 50, testLogger())
	return &regSyncFixture{
		service:   service,
		gateway:   gateway,
		regRepo:   regRepo,
		userRepo:  userRepo,
		eventRepo: eventRepo,
	}
}

func strPtr(s string) *string { return &s }

func TestRegistrationSyncMatchesByRemoteAccountID(t *testing.T) {
	t.Parallel()

	f := newRegSyncFixture(t)
	event := f.eventRepo.seed(&models.Event{TournamentID: 1, RemoteEventID: 900})
	f.userRepo.users = []*models.User{{ID: 1, Tag: "SomeoneElse", RemoteUserID: strPtr("acct-9")}}

	f.gateway.entrantsByEvent[900] = []remote.Entrant{{
		ID:   101,
		Name: "TotallyDifferentName",
		Participants: []remote.Participant{
			{RemoteUserID: strPtr("acct-9"), GamerTag: "whatever"},
		},
	}}

	stats, err := f.service.SyncEventRegistrations(context.Background(), "token", event)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Created)

	regs := f.regRepo.all()
	require.Len(t, regs, 1)
	require.NotNil(t, regs[0].UserID)
	assert.Equal(t, 1, *regs[0].UserID)
	require.NotNil(t, regs[0].RemoteEntrantID)
	assert.Equal(t, int64(101), *regs[0].RemoteEntrantID)
}

func TestRegistrationSyncMatchesTagCaseInsensitively(t *testing.T) {
	t.Parallel()

	f := newRegSyncFixture(t)
	event := f.eventRepo.seed(&models.Event{TournamentID: 1, RemoteEventID: 900})
	f.userRepo.users = []*models.User{{ID: 2, Tag: "Foo"}}

	f.gateway.entrantsByEvent[900] = []remote.Entrant{{ID: 102, Name: "foo"}}

	stats, err := f.service.SyncEventRegistrations(context.Background(), "token", event)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Created)

	regs := f.regRepo.all()
	require.Len(t, regs, 1)
	require.NotNil(t, regs[0].UserID)
	assert.Equal(t, 2, *regs[0].UserID)
}

func TestRegistrationSyncCreatesGhostForUnknownEntrant(t *testing.T) {
	t.Parallel()

	f := newRegSyncFixture(t)
	event := f.eventRepo.seed(&models.Event{TournamentID: 1, RemoteEventID: 900})

	f.gateway.entrantsByEvent[900] = []remote.Entrant{{ID: 103, Name: "Mystery"}}

	stats, err := f.service.SyncEventRegistrations(context.Background(), "token", event)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Created)

	regs := f.regRepo.all()
	require.Len(t, regs, 1)
	assert.True(t, regs[0].Ghost(), "unknown entrants become ghost registrations")
	assert.Equal(t, models.RegistrationConfirmed, regs[0].Status)
	assert.Equal(t, "Mystery", regs[0].DisplayName)
}

func TestRegistrationSyncLinksLocalRegistration(t *testing.T) {
	t.Parallel()

	f := newRegSyncFixture(t)
	event := f.eventRepo.seed(&models.Event{TournamentID: 1, RemoteEventID: 900})
	f.userRepo.users = []*models.User{{ID: 3, Tag: "Early"}}

	// Registered locally before showing up on the remote side.
	userID := 3
	f.regRepo.seed(&models.Registration{EventID: event.ID, UserID: &userID, DisplayName: "Early", Status: models.RegistrationPending})

	f.gateway.entrantsByEvent[900] = []remote.Entrant{{ID: 104, Name: "Early"}}

	stats, err := f.service.SyncEventRegistrations(context.Background(), "token", event)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Linked)
	assert.Equal(t, 0, stats.Created, "linking must not create a duplicate row")

	regs := f.regRepo.all()
	require.Len(t, regs, 1)
	require.NotNil(t, regs[0].RemoteEntrantID)
	assert.Equal(t, int64(104), *regs[0].RemoteEntrantID)
	assert.Equal(t, models.RegistrationConfirmed, regs[0].Status)
}

func TestRegistrationSyncIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newRegSyncFixture(t)
	event := f.eventRepo.seed(&models.Event{TournamentID: 1, RemoteEventID: 900})
	f.userRepo.users = []*models.User{{ID: 4, Tag: "Stable", RemoteUserID: strPtr("acct-4")}}

	f.gateway.entrantsByEvent[900] = []remote.Entrant{
		{ID: 105, Name: "Stable", Participants: []remote.Participant{{RemoteUserID: strPtr("acct-4"), GamerTag: "Stable"}}},
		{ID: 106, Name: "GhostGuy"},
	}

	stats, err := f.service.SyncEventRegistrations(context.Background(), "token", event)
	require.NoError(t, err)
	require.Equal(t, 2, stats.Created)

	stats, err = f.service.SyncEventRegistrations(context.Background(), "token", event)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Created, "a second run must not duplicate registrations")
	assert.Equal(t, 0, stats.Linked)
	assert.Equal(t, 0, stats.Updated)

	assert.Len(t, f.regRepo.all(), 2)
}

func TestRegistrationSyncAppliesDisqualification(t *testing.T) {
	t.Parallel()

	f := newRegSyncFixture(t)
	event := f.eventRepo.seed(&models.Event{TournamentID: 1, RemoteEventID: 900})

	entrantID := int64(107)
	f.regRepo.seed(&models.Registration{EventID: event.ID, RemoteEntrantID: &entrantID, DisplayName: "Banned", Status: models.RegistrationConfirmed})

	f.gateway.entrantsByEvent[900] = []remote.Entrant{{ID: 107, Name: "Banned", Disqualified: true}}

	stats, err := f.service.SyncEventRegistrations(context.Background(), "token", event)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Updated)

	regs := f.regRepo.all()
	require.Len(t, regs, 1)
	assert.Equal(t, models.RegistrationDisqualified, regs[0].Status)
}
