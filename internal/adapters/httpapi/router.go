// Package httpapi exposes the tutoring engine over HTTP. Streaming routes
// answer with newline-delimited JSON records.
package httpapi

import (
	"context"
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/bnema/whiteboard-tutor/internal/adapters/auth"
	"github.com/bnema/whiteboard-tutor/internal/application"
	"github.com/bnema/whiteboard-tutor/internal/ports"
)

// HealthChecker is implemented by the room store.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Chat          *application.ChatService
	Sessions      *application.PhaseController
	Queries       *application.Queries
	Authenticator ports.Authenticator
	Login         auth.LoginConfig
	Health        HealthChecker
	Logger        *slog.Logger
}

// NewRouter creates the chi router with all routes and middleware.
func NewRouter(deps Deps) *chi.Mux {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(CORS)
	r.Use(RequestID)
	r.Use(Logger(logger))
	r.Use(Recovery(logger))

	h := &handler{deps: deps, logger: logger}

	r.Get("/health", h.health)
	r.Get("/auth/login", h.login)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Authenticator, logger))

		r.Get("/quota", h.quota)

		r.Route("/rooms/{roomID}", func(r chi.Router) {
			r.Get("/board", h.board)
			r.Get("/messages", h.messages)
			r.Post("/chat", h.chat)

			r.Route("/session", func(r chi.Router) {
				r.Get("/", h.sessionState)
				r.Post("/messages", h.sessionMessage)
				r.Post("/advance", h.advance)
				r.Post("/rewind", h.rewind)
				r.Post("/evaluate", h.evaluate)
				r.Post("/importance", h.toggleImportance)
				r.Put("/roadmap", h.replaceRoadmap)
			})
		})
	})

	return r
}

type handler struct {
	deps   Deps
	logger *slog.Logger
}
