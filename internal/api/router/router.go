// Package router assembles the HTTP surface of the booking engine.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/buildappswith/booking-engine/internal/bookings"
	"github.com/buildappswith/booking-engine/internal/http/handlers"
	httpmiddleware "github.com/buildappswith/booking-engine/internal/http/middleware"
	"github.com/buildappswith/booking-engine/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	BookingsHandler    *handlers.BookingsHandler
	AdminHandler       *handlers.AdminHandler
	StripeWebhook      *bookings.StripeWebhookHandler
	CalendlyWebhook    *bookings.CalendlyWebhookHandler
	AdminAuthSecret    string
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
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

	// Public endpoints (webhooks, health checks)
	r.Group(func(public chi.Router) {
		public.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		if cfg.StripeWebhook != nil {
			public.Post("/webhooks/stripe", cfg.StripeWebhook.Handle)
		}
		if cfg.CalendlyWebhook != nil {
			public.Post("/webhooks/calendly", cfg.CalendlyWebhook.Handle)
		}
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// Booking API
	if cfg.BookingsHandler != nil {
		r.Route("/api/bookings", func(api chi.Router) {
			api.Post("/", cfg.BookingsHandler.Create)
			api.Get("/recover", cfg.BookingsHandler.Recover)
			api.Route("/{bookingID}", func(b chi.Router) {
				b.Get("/", cfg.BookingsHandler.Get)
				b.Post("/transition", cfg.BookingsHandler.Transition)
				b.Get("/transitions", cfg.BookingsHandler.AllowedTransitions)
				b.Get("/history", cfg.BookingsHandler.History)
			})
		})
	}

	// Admin API (JWT-guarded)
	if cfg.AdminHandler != nil {
		r.Route("/api/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			admin.Get("/bookings", cfg.AdminHandler.ListByState)
			admin.Delete("/bookings/{bookingID}", cfg.AdminHandler.Delete)
		})
	}

	return r
}
