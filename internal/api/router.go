package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterOptions configures the ambient middleware
type RouterOptions struct {
	CORSOrigins []string
	Limiter     *RateLimiter     // nil disables rate limiting
	Health      func() error     // nil reports healthy
	Extra       func(chi.Router) // unauthenticated routes added by the binary
	TrustProxy  bool             // take the client address from X-Forwarded-For / X-Real-IP
}

// NewRouter wires every API route
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()
	if opts.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)
	r.Use(Instrument)

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if opts.Health != nil {
			if err := opts.Health(); err != nil {
				writeError(w, http.StatusServiceUnavailable, err.Error())
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	if opts.Extra != nil {
		opts.Extra(r)
	}

	r.Group(func(r chi.Router) {
		if opts.Limiter != nil {
			r.Use(opts.Limiter.Middleware)
		}

		// Public endpoints
		r.Post("/auth/register", h.Register)
		r.Post("/auth/login", h.Login)
		r.Get("/currencies", h.Currencies)

		// Protected endpoints (require JWT)
		r.Group(func(r chi.Router) {
			r.Use(h.JWTAuthMiddleware)

			r.Put("/admin/administrator", h.SetAdministrator)
			r.Get("/admin/oracles", h.ListOracles)
			r.Post("/admin/oracles", h.RegisterOracles)
			r.Delete("/admin/oracles/{id}", h.UnregisterOracle)

			r.Post("/offers", h.CreateOffer)
			r.Get("/offers", h.ListOffers)
			r.Get("/offers/{id}", h.GetOffer)
			r.Post("/swaps", h.RequestSwap)
			r.Get("/swaps/{id}", h.GetSwap)

			r.Post("/settlements", h.ApplySettlements)
			r.Post("/trim", h.Trim)

			r.Get("/archive/offers/{id}", h.GetArchivedOffer)
			r.Get("/archive/swaps/{id}", h.GetArchivedSwap)
			r.Get("/payouts", h.GetPayouts)
		})
	})
	return r
}
