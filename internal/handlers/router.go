package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/ukydev/freight-ledger/internal/access"
	"github.com/ukydev/freight-ledger/internal/middleware"
)

// RouterConfig carries everything the HTTP surface is built from.
type RouterConfig struct {
	Auth    *AuthHandler
	Trips   *TripHandler
	Reports *ReportHandler
	Health  Pinger

	AuthMiddleware *middleware.AuthMiddleware
	RateLimiter    *middleware.RateLimitMiddleware

	CORSOrigins    []string
	LoginRateLimit int
}

// NewRouter assembles the API routes.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimw.Recoverer)

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", Health(cfg.Health))

	rateLimiter := cfg.RateLimiter
	if rateLimiter == nil {
		rateLimiter = middleware.NewRateLimitMiddleware()
	}
	authMW := cfg.AuthMiddleware

	r.Route("/api", func(r chi.Router) {
		r.Use(authMW.Authenticate)

		r.Route("/auth", func(r chi.Router) {
			r.With(rateLimiter.RateLimit(cfg.LoginRateLimit, time.Minute)).Post("/register", cfg.Auth.Register)
			r.With(rateLimiter.RateLimit(cfg.LoginRateLimit, time.Minute)).Post("/login", cfg.Auth.Login)
			r.Get("/me", cfg.Auth.Me)
		})

		r.Route("/trips", func(r chi.Router) {
			r.Get("/", cfg.Trips.List)
			r.With(authMW.RequireAction(access.ActionCreateTrip)).Post("/", cfg.Trips.Create)
			r.Route("/{tripID}", func(r chi.Router) {
				r.Get("/", cfg.Trips.Get)
				r.With(authMW.RequireAction(access.ActionUpdateTrip)).Put("/", cfg.Trips.Update)
				r.With(authMW.RequireAction(access.ActionDeleteTrip)).Delete("/", cfg.Trips.Delete)
				r.With(authMW.RequireAction(access.ActionAttachPOD)).Post("/pod", cfg.Trips.UploadPOD)
				r.Get("/pod", cfg.Trips.DownloadPOD)
			})
		})

		r.Route("/analytics", func(r chi.Router) {
			r.Use(authMW.RequireAction(access.ActionViewAnalytics))
			r.Get("/parties", cfg.Reports.Parties)
			r.Get("/motor-owners", cfg.Reports.MotorOwners)
		})

		r.With(authMW.RequireAction(access.ActionExportTrips)).Get("/export/trips", cfg.Reports.ExportTrips)
	})

	return r
}
