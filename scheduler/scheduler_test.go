package scheduler

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bracketlab/bracket-engine/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Intervals are deliberately huge so only explicit triggers fire during tests.
var testIntervals = Intervals{Short: time.Hour, Long: 6 * time.Hour}

func noopPoll(ctx context.Context, tournamentID int) (models.TournamentPhase, error) {
	return models.PhaseInProgress, nil
}

func TestIntervalForPhase(t *testing.T) {
	t.Parallel()

	s, err := New(noopPoll, 2, testIntervals, testLogger())
	require.NoError(t, err)
	defer s.Shutdown()

	assert.Equal(t, testIntervals.Long, s.IntervalFor(models.PhaseCreated))
	assert.Equal(t, testIntervals.Short, s.IntervalFor(models.PhaseRegistrationOpen))
	assert.Equal(t, testIntervals.Long, s.IntervalFor(models.PhaseRegistrationClosed))
	assert.Equal(t, testIntervals.Short, s.IntervalFor(models.PhaseInProgress))
	assert.Equal(t, time.Duration(0), s.IntervalFor(models.PhaseCompleted))
	assert.Equal(t, time.Duration(0), s.IntervalFor(models.PhaseCancelled))
}

func TestScheduleIsIdempotentPerInterval(t *testing.T) {
	t.Parallel()

	s, err := New(noopPoll, 2, testIntervals, testLogger())
	require.NoError(t, err)
	defer s.Shutdown()

	require.NoError(t, s.Schedule(1, models.PhaseInProgress))
	first := s.Status(1)
	require.True(t, first.Scheduled)
	assert.Equal(t, testIntervals.Short, first.Interval)

	// Same phase again: nothing changes.
	require.NoError(t, s.Schedule(1, models.PhaseInProgress))
	assert.Equal(t, first.Interval, s.Status(1).Interval)

	// Phase change moves the job to the long interval.
	require.NoError(t, s.Schedule(1, models.PhaseRegistrationClosed))
	assert.Equal(t, testIntervals.Long, s.Status(1).Interval)
}

func TestScheduleTerminalPhaseRemovesJob(t *testing.T) {
	t.Parallel()

	s, err := New(noopPoll, 2, testIntervals, testLogger())
	require.NoError(t, err)
	defer s.Shutdown()

	require.NoError(t, s.Schedule(1, models.PhaseInProgress))
	require.True(t, s.Status(1).Scheduled)

	require.NoError(t, s.Schedule(1, models.PhaseCompleted))
	assert.False(t, s.Status(1).Scheduled)

	// Removing again is harmless.
	require.NoError(t, s.Schedule(1, models.PhaseCancelled))
}

func TestTriggerImmediateUnscheduled(t *testing.T) {
	t.Parallel()

	s, err := New(noopPoll, 2, testIntervals, testLogger())
	require.NoError(t, err)
	defer s.Shutdown()

	err = s.TriggerImmediate(99)
	assert.ErrorIs(t, err, ErrNotScheduled)
}

func TestTriggerImmediateRunsPoll(t *testing.T) {
	t.Parallel()

	polled := make(chan int, 1)
	poll := func(ctx context.Context, tournamentID int) (models.TournamentPhase, error) {
		polled <- tournamentID
		return models.PhaseInProgress, nil
	}

	s, err := New(poll, 2, testIntervals, testLogger())
	require.NoError(t, err)
	defer s.Shutdown()

	require.NoError(t, s.Schedule(7, models.PhaseInProgress))
	s.Start()

	require.NoError(t, s.TriggerImmediate(7))

	select {
	case id := <-polled:
		assert.Equal(t, 7, id)
	case <-time.After(5 * time.Second):
		t.Fatal("poll did not run after immediate trigger")
	}
}

func TestPollDrivenPhaseChangeAdjustsInterval(t *testing.T) {
	t.Parallel()

	polled := make(chan struct{}, 1)
	poll := func(ctx context.Context, tournamentID int) (models.TournamentPhase, error) {
		defer func() { polled <- struct{}{} }()
		return models.PhaseRegistrationClosed, nil
	}

	s, err := New(poll, 2, testIntervals, testLogger())
	require.NoError(t, err)
	defer s.Shutdown()

	require.NoError(t, s.Schedule(3, models.PhaseInProgress))
	require.Equal(t, testIntervals.Short, s.Status(3).Interval)
	s.Start()

	require.NoError(t, s.TriggerImmediate(3))

	select {
	case <-polled:
	case <-time.After(5 * time.Second):
		t.Fatal("poll did not run after immediate trigger")
	}

	// The reschedule happens right after the poll returns.
	assert.Eventually(t, func() bool {
		return s.Status(3).Interval == testIntervals.Long
	}, 5*time.Second, 10*time.Millisecond)
}
