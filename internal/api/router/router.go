package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/instabids/messaging-guard/internal/http/handlers"
	httpmiddleware "github.com/instabids/messaging-guard/internal/http/middleware"
	"github.com/instabids/messaging-guard/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger               *logging.Logger
	MessagesHandler      *handlers.MessagesHandler
	ConversationsHandler *handlers.ConversationsHandler
	MetricsHandler       http.Handler
	AdminAuthSecret      string
	CORSAllowedOrigins   []string
}

// New creates a Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Group(func(public chi.Router) {
		public.Get("/healthz", cfg.ConversationsHandler.HealthCheck)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	r.Route("/v1", func(v1 chi.Router) {
		v1.Post("/messages", cfg.MessagesHandler.ProcessMessage)
		v1.Route("/conversations/{conversationID}", func(conv chi.Router) {
			conv.Post("/confirm", cfg.ConversationsHandler.Confirm)
			conv.Post("/archive", cfg.ConversationsHandler.Archive)
			// Decision history exposes raw threat rationale; moderators only.
			conv.With(httpmiddleware.AdminJWT(cfg.AdminAuthSecret)).Get("/decisions", cfg.ConversationsHandler.ListDecisions)
		})
	})

	return r
}
