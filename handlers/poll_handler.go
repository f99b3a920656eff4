package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/bracketlab/bracket-engine/repositories"
	"github.com/bracketlab/bracket-engine/scheduler"
	"github.com/bracketlab/bracket-engine/services"
)

// PollHandler exposes the scheduler's view of a tournament: its poll status
// and a way to trigger a poll outside the regular cadence.
type PollHandler struct {
	poll   services.PollService
	sched  *scheduler.Scheduler
	logger *slog.Logger
}

func NewPollHandler(poll services.PollService, sched *scheduler.Scheduler, logger *slog.Logger) *PollHandler {
	return &PollHandler{poll: poll, sched: sched, logger: logger}
}

func (h *PollHandler) GetPollStatus(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := tournamentIDParam(r)
	if err != nil {
		badRequestResponse(w, h.logger, err)
		return
	}

	status, err := h.poll.PollStatus(r.Context(), tournamentID)
	if err != nil {
		if errors.Is(err, repositories.ErrTournamentNotFound) {
			errorResponse(w, h.logger, http.StatusNotFound, "tournament not found")
			return
		}
		serverErrorResponse(w, h.logger, err)
		return
	}

	schedStatus := h.sched.Status(tournamentID)
	status.NextPollAt = schedStatus.NextPollAt

	if err := writeJSON(w, http.StatusOK, status); err != nil {
		h.logger.Error("failed to write poll status", slog.Any("error", err))
	}
}

func (h *PollHandler) TriggerPoll(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := tournamentIDParam(r)
	if err != nil {
		badRequestResponse(w, h.logger, err)
		return
	}

	if err := h.sched.TriggerImmediate(tournamentID); err != nil {
		if errors.Is(err, scheduler.ErrNotScheduled) {
			errorResponse(w, h.logger, http.StatusConflict, "tournament is not being polled")
			return
		}
		serverErrorResponse(w, h.logger, err)
		return
	}

	if err := writeJSON(w, http.StatusAccepted, jsonResponse{"status": "poll triggered"}); err != nil {
		h.logger.Error("failed to write poll trigger response", slog.Any("error", err))
	}
}

func tournamentIDParam(r *http.Request) (int, error) {
	return strconv.Atoi(chi.URLParam(r, "tournamentID"))
}
