package routes

import (
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/fightstack/bracket-sync/handlers"
)

func SetupRoutes(
	router *chi.Mux,
	healthHandler *handlers.HealthHandler,
	pollHandler *handlers.PollHandler,
	matchHandler *handlers.MatchHandler,
	webSocketHandler *handlers.WebSocketHandler,
) {
	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(chiMiddleware.Recoverer)

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	router.Get("/healthz", healthHandler.Healthz)

	router.Route("/tournaments/{tournamentID}", func(r chi.Router) {
		r.Get("/poll", pollHandler.GetPollStatus)
		r.Post("/poll", pollHandler.TriggerPoll)
		r.Get("/matches", matchHandler.ListTournamentMatches)
	})

	router.Get("/matches/{matchID}", matchHandler.GetMatch)

	router.Get("/ws/tournaments/{tournamentID}", webSocketHandler.ServeWs)
}
