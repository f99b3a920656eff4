package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/bracketlab/bracket-engine/middleware"
	"github.com/bracketlab/bracket-engine/services"
)

// LifecycleHandler is a thin HTTP adapter over the match state machine.
// Chat-platform button handlers call the same service methods.
type LifecycleHandler struct {
	lifecycle services.LifecycleService
	logger    *slog.Logger
}

func NewLifecycleHandler(lifecycle services.LifecycleService, logger *slog.Logger) *LifecycleHandler {
	return &LifecycleHandler{lifecycle: lifecycle, logger: logger}
}

func (h *LifecycleHandler) GetMatch(w http.ResponseWriter, r *http.Request) {
	matchID, err := matchIDParam(r)
	if err != nil {
		badRequestResponse(w, h.logger, err)
		return
	}

	result, err := h.lifecycle.GetMatchStatus(r.Context(), matchID)
	if err != nil {
		serverErrorResponse(w, h.logger, err)
		return
	}
	h.writeResult(w, result)
}

func (h *LifecycleHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	matchID, err := matchIDParam(r)
	if err != nil {
		badRequestResponse(w, h.logger, err)
		return
	}
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		errorResponse(w, h.logger, http.StatusUnauthorized, "authentication required")
		return
	}

	result, err := h.lifecycle.CheckIn(r.Context(), matchID, actor)
	if err != nil {
		serverErrorResponse(w, h.logger, err)
		return
	}
	h.writeResult(w, result)
}

func (h *LifecycleHandler) ReportScore(w http.ResponseWriter, r *http.Request) {
	matchID, err := matchIDParam(r)
	if err != nil {
		badRequestResponse(w, h.logger, err)
		return
	}
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		errorResponse(w, h.logger, http.StatusUnauthorized, "authentication required")
		return
	}

	var input struct {
		WinnerSlot int     `json:"winner_slot"`
		Score      *string `json:"score"`
	}
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, h.logger, err)
		return
	}
	if input.WinnerSlot != 1 && input.WinnerSlot != 2 {
		errorResponse(w, h.logger, http.StatusBadRequest, "winner_slot must be 1 or 2")
		return
	}

	result, err := h.lifecycle.ReportScore(r.Context(), matchID, actor, input.WinnerSlot, input.Score)
	if err != nil {
		serverErrorResponse(w, h.logger, err)
		return
	}
	h.writeResult(w, result)
}

func (h *LifecycleHandler) ConfirmResult(w http.ResponseWriter, r *http.Request) {
	matchID, err := matchIDParam(r)
	if err != nil {
		badRequestResponse(w, h.logger, err)
		return
	}
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		errorResponse(w, h.logger, http.StatusUnauthorized, "authentication required")
		return
	}

	var input struct {
		Accept bool `json:"accept"`
	}
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, h.logger, err)
		return
	}

	result, err := h.lifecycle.ConfirmResult(r.Context(), matchID, actor, input.Accept)
	if err != nil {
		serverErrorResponse(w, h.logger, err)
		return
	}
	h.writeResult(w, result)
}

func (h *LifecycleHandler) Disqualify(w http.ResponseWriter, r *http.Request) {
	matchID, err := matchIDParam(r)
	if err != nil {
		badRequestResponse(w, h.logger, err)
		return
	}
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		errorResponse(w, h.logger, http.StatusUnauthorized, "authentication required")
		return
	}

	var input struct {
		TargetSlot int `json:"target_slot"`
	}
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, h.logger, err)
		return
	}
	if input.TargetSlot != 1 && input.TargetSlot != 2 {
		errorResponse(w, h.logger, http.StatusBadRequest, "target_slot must be 1 or 2")
		return
	}

	result, err := h.lifecycle.Disqualify(r.Context(), matchID, actor, input.TargetSlot)
	if err != nil {
		serverErrorResponse(w, h.logger, err)
		return
	}
	h.writeResult(w, result)
}

func (h *LifecycleHandler) writeResult(w http.ResponseWriter, result *services.LifecycleResult) {
	if err := writeJSON(w, statusForReason(result.Code), result); err != nil {
		h.logger.Error("failed to write lifecycle response", slog.Any("error", err))
	}
}

func matchIDParam(r *http.Request) (int, error) {
	return strconv.Atoi(chi.URLParam(r, "matchID"))
}
