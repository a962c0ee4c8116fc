package httpapi

import (
	"net/http"
	"time"

	"github.com/dmitrijs2005/keepsake/internal/logging"
	"github.com/dmitrijs2005/keepsake/internal/server/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	JWTSecret          []byte
	RateLimitPerSecond float64
	RateLimitBurst     int
	Metrics            *metrics.Metrics
	Logger             logging.Logger
}

func NewRouter(svc Services, opts RouterOptions) http.Handler {
	logger := opts.Logger.With("module", "http")
	h := &handler{svc: svc, logger: logger}
	limiter := newIPRateLimiter(opts.RateLimitPerSecond, opts.RateLimitBurst)

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(opts.Metrics.Instrument(routePattern))

	r.Get("/healthz", h.health)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(ownerAuth(opts.JWTSecret, logger))

			r.Post("/vault", h.createVault)
			r.Get("/vault/beneficiaries", h.listBeneficiaries)
			r.Post("/vault/beneficiaries", h.addBeneficiary)
			r.Put("/vault/trusted-person", h.setTrustedPerson)
			r.Get("/vault/notification-config", h.getNotificationConfig)
			r.Put("/vault/notification-config", h.putNotificationConfig)

			r.Route("/keepsakes", func(r chi.Router) {
				r.Post("/", h.createKeepsake)
				r.Get("/", h.listKeepsakes)
				r.Get("/{id}", h.getKeepsake)
				r.Patch("/{id}", h.updateKeepsake)
				r.Delete("/{id}", h.deleteKeepsake)
				r.Post("/{id}/schedule", h.keepsakeAction(h.scheduleKeepsake))
				r.Post("/{id}/unschedule", h.keepsakeAction(h.unscheduleKeepsake))
				r.Post("/{id}/deliver", h.keepsakeAction(h.deliverKeepsake))
			})

			r.Post("/invitations/{id}/resend", h.invitationAction(h.resendInvitation))
			r.Post("/invitations/{id}/cancel", h.invitationAction(h.cancelInvitation))
		})

		r.Group(func(r chi.Router) {
			r.Use(limiter.middleware)

			r.Post("/vaults/{vaultID}/death", h.declareDeath)
			r.Get("/invitations/by-token/{token}", h.tokenInvitation(h.viewInvitation))
			r.Post("/invitations/by-token/{token}/accept", h.tokenInvitation(h.acceptInvitation))
			r.Get("/portal/keepsakes", h.portalKeepsakes)
		})
	})

	return r
}

// routePattern labels metrics with the matched chi pattern, not the raw path.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
