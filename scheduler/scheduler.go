package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/bracketlab/bracket-engine/models"
	"github.com/bracketlab/bracket-engine/remote"
)

var ErrNotScheduled = errors.New("tournament is not scheduled")

// PollFunc runs one poll cycle and returns the tournament's resulting phase.
type PollFunc func(ctx context.Context, tournamentID int) (models.TournamentPhase, error)

type Intervals struct {
	// Short drives registration and in-progress phases; Long the rest.
	Short time.Duration
	Long  time.Duration
}

// Status describes one tournament's place in the schedule.
type Status struct {
	Scheduled  bool          `json:"scheduled"`
	Interval   time.Duration `json:"interval,omitempty"`
	NextPollAt *time.Time    `json:"next_poll_at,omitempty"`
}

// Scheduler owns the periodic poll jobs, one per tournament. A job never
// overlaps itself (singleton mode) and jobs for different tournaments run
// concurrently up to the worker-pool bound. After each poll the job's
// interval is re-derived from the tournament's phase.
type Scheduler struct {
	sched     gocron.Scheduler
	poll      PollFunc
	intervals Intervals
	logger    *slog.Logger

	mu        sync.Mutex
	jobs      map[int]gocron.Job
	jobPeriod map[int]time.Duration
}

func New(poll PollFunc, workerPoolSize int, intervals Intervals, logger *slog.Logger) (*Scheduler, error) {
	if workerPoolSize <= 0 {
		workerPoolSize = 4
	}
	sched, err := gocron.NewScheduler(
		gocron.WithLimitConcurrentJobs(uint(workerPoolSize), gocron.LimitModeWait),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return &Scheduler{
		sched:     sched,
		poll:      poll,
		intervals: intervals,
		logger:    logger,
		jobs:      make(map[int]gocron.Job),
		jobPeriod: make(map[int]time.Duration),
	}, nil
}

func (s *Scheduler) Start() {
	s.sched.Start()
}

func (s *Scheduler) Shutdown() error {
	return s.sched.Shutdown()
}

// IntervalFor maps a tournament phase to its poll interval. Zero means stop.
func (s *Scheduler) IntervalFor(phase models.TournamentPhase) time.Duration {
	switch {
	case phase.Terminal():
		return 0
	case phase.Active():
		return s.intervals.Short
	default:
		return s.intervals.Long
	}
}

// Schedule ensures the tournament has exactly one poll job at the interval
// its phase calls for. Scheduling an already-scheduled tournament at the
// same interval is a no-op; a terminal phase removes the job.
func (s *Scheduler) Schedule(tournamentID int, phase models.TournamentPhase) error {
	interval := s.IntervalFor(phase)

	s.mu.Lock()
	defer s.mu.Unlock()

	if interval == 0 {
		s.removeLocked(tournamentID)
		return nil
	}

	if job, ok := s.jobs[tournamentID]; ok {
		if s.jobPeriod[tournamentID] == interval {
			return nil
		}
		updated, err := s.sched.Update(job.ID(), gocron.DurationJob(interval), s.task(tournamentID),
			gocron.WithSingletonMode(gocron.LimitModeReschedule))
		if err != nil {
			return fmt.Errorf("failed to reschedule tournament %d: %w", tournamentID, err)
		}
		s.jobs[tournamentID] = updated
		s.jobPeriod[tournamentID] = interval
		s.logger.Info("poll interval changed",
			slog.Int("tournament_id", tournamentID), slog.Duration("interval", interval))
		return nil
	}

	job, err := s.sched.NewJob(gocron.DurationJob(interval), s.task(tournamentID),
		gocron.WithSingletonMode(gocron.LimitModeReschedule))
	if err != nil {
		return fmt.Errorf("failed to schedule tournament %d: %w", tournamentID, err)
	}
	s.jobs[tournamentID] = job
	s.jobPeriod[tournamentID] = interval
	s.logger.Info("tournament scheduled",
		slog.Int("tournament_id", tournamentID), slog.Duration("interval", interval))
	return nil
}

// TriggerImmediate runs the tournament's poll job now, outside its cadence.
func (s *Scheduler) TriggerImmediate(tournamentID int) error {
	s.mu.Lock()
	job, ok := s.jobs[tournamentID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("tournament %d: %w", tournamentID, ErrNotScheduled)
	}
	if err := job.RunNow(); err != nil {
		return fmt.Errorf("failed to trigger poll for tournament %d: %w", tournamentID, err)
	}
	return nil
}

func (s *Scheduler) Status(tournamentID int) Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[tournamentID]
	if !ok {
		return Status{}
	}
	status := Status{Scheduled: true, Interval: s.jobPeriod[tournamentID]}
	if next, err := job.NextRun(); err == nil {
		status.NextPollAt = &next
	}
	return status
}

func (s *Scheduler) Remove(tournamentID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(tournamentID)
}

func (s *Scheduler) removeLocked(tournamentID int) {
	job, ok := s.jobs[tournamentID]
	if !ok {
		return
	}
	if err := s.sched.RemoveJob(job.ID()); err != nil {
		s.logger.Warn("failed to remove poll job",
			slog.Int("tournament_id", tournamentID), slog.Any("error", err))
	}
	delete(s.jobs, tournamentID)
	delete(s.jobPeriod, tournamentID)
	s.logger.Info("tournament unscheduled", slog.Int("tournament_id", tournamentID))
}

func (s *Scheduler) task(tournamentID int) gocron.Task {
	return gocron.NewTask(s.runPoll, tournamentID)
}

func (s *Scheduler) runPoll(tournamentID int) {
	phase, err := s.poll(context.Background(), tournamentID)
	if err != nil {
		// A bad credential is bad for every subsequent poll too: pause this
		// tournament until the credential is refreshed and it is rescheduled.
		if remote.IsAuthError(err) {
			s.logger.Error("credential rejected, pausing polling",
				slog.Int("tournament_id", tournamentID), slog.Any("error", err))
			s.Remove(tournamentID)
			return
		}
		s.logger.Error("poll failed", slog.Int("tournament_id", tournamentID), slog.Any("error", err))
		return
	}

	if err := s.Schedule(tournamentID, phase); err != nil {
		s.logger.Error("failed to adjust schedule",
			slog.Int("tournament_id", tournamentID), slog.Any("error", err))
	}
}
