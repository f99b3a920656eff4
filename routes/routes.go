package routes

import (
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/bracketlab/bracket-engine/handlers"
	"github.com/bracketlab/bracket-engine/middleware"
)

func SetupRoutes(
	router *chi.Mux,
	auth *middleware.Authenticator,
	lifecycleHandler *handlers.LifecycleHandler,
	pollHandler *handlers.PollHandler,
	webSocketHandler *handlers.WebSocketHandler,
) {
	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	router.Route("/matches/{matchID}", func(r chi.Router) {
		r.Get("/", lifecycleHandler.GetMatch)

		r.Group(func(r chi.Router) {
			r.Use(auth.Authenticate)
			r.Post("/check-in", lifecycleHandler.CheckIn)
			r.Post("/report", lifecycleHandler.ReportScore)
			r.Post("/confirm", lifecycleHandler.ConfirmResult)
			r.Post("/disqualify", lifecycleHandler.Disqualify)
		})
	})

	router.Route("/tournaments/{tournamentID}", func(r chi.Router) {
		r.Get("/poll-status", pollHandler.GetPollStatus)

		r.Group(func(r chi.Router) {
			r.Use(auth.Authenticate)
			r.Post("/poll", pollHandler.TriggerPoll)
		})
	})

	router.Get("/ws/tournaments/{tournamentID}", webSocketHandler.ServeWs)
}
