package http

import (
	"net/http"

	"github.com/clinic-notify/internal/config"
	"github.com/clinic-notify/internal/transport/http/handler"
	appmiddleware "github.com/clinic-notify/internal/transport/http/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// NewRouter builds and returns the application router.
func NewRouter(cfg *config.Config, deps *Deps) http.Handler {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(appmiddleware.AccessLog(log, "/metrics", "/v1/health-check/ping"))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	eventsRL := appmiddleware.NewRateLimiter(rate.Limit(cfg.EventsRateLimit), cfg.EventsRateBurst)

	healthH := handler.NewHealthHandler()
	templateH := handler.NewTemplateHandler(deps.Templates)
	notifH := handler.NewNotificationHandler(deps.Notifications, deps.Stats)
	campaignH := handler.NewCampaignHandler(deps.Campaigns)
	statsH := handler.NewStatsHandler(deps.Stats)
	eventH := handler.NewEventHandler(deps.Events)
	inboxH := handler.NewInboxHandler(deps.Notifications)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health-check/{action}", healthH.Ping)

		r.Route("/templates", func(r chi.Router) {
			r.Post("/", templateH.Create)
			r.Get("/", templateH.List)
			r.Get("/{id}", templateH.Get)
			r.Put("/{id}", templateH.Update)
			r.Delete("/{id}", templateH.Delete)
			r.Post("/{id}/duplicate", templateH.Duplicate)
			r.Post("/{id}/preview", templateH.Preview)
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Post("/", notifH.Create)
			r.Get("/", notifH.List)
			r.Get("/{id}", notifH.Get)
			r.Get("/{id}/events", notifH.Events)
			r.Post("/{id}/cancel", notifH.Cancel)
			r.Post("/{id}/retry", notifH.Retry)
			r.Post("/{id}/resend", notifH.Resend)
		})

		r.Route("/campaigns", func(r chi.Router) {
			r.Post("/", campaignH.Create)
			r.Get("/", campaignH.List)
			r.Get("/{id}", campaignH.Get)
			r.Put("/{id}", campaignH.Update)
			r.Delete("/{id}", campaignH.Delete)
			r.Post("/{id}/schedule", campaignH.Schedule)
			r.Post("/{id}/start", campaignH.Start)
			r.Post("/{id}/pause", campaignH.Pause)
			r.Post("/{id}/resume", campaignH.Resume)
			r.Post("/{id}/stop", campaignH.Stop)
			r.Get("/{id}/stats", campaignH.Stats)
		})

		r.Get("/stats/templates/{id}", statsH.Template)
		r.Get("/stats/channels", statsH.Channels)

		r.With(eventsRL.Limit).Post("/delivery-events", eventH.Ingest)

		r.Get("/inbox/{recipientId}", inboxH.List)
		r.Post("/inbox/{recipientId}/{notificationId}/read", inboxH.MarkRead)
	})

	return r
}
