package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/handlers"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/auth"
	"github.com/hackgods/clinic-appointment-scheduling/internal/directory"
)

// RouterConfig wires the HTTP surface. PgPool and Redis are optional; a nil
// dependency is reported as disabled by the readiness check.
type RouterConfig struct {
	Appointments  *appointment.Service
	Directory     *directory.Service
	Tokens        *auth.Tokens
	Logger        zerolog.Logger
	Location      *time.Location
	PgPool        *pgxpool.Pool
	Redis         *redis.Client
	Env           string
	Version       string
	AuthRateRPS   float64
	AuthRateBurst int
	CORSOrigins   []string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(RecoveryMiddleware(cfg.Logger))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	limiter := NewRateLimiter(cfg.AuthRateRPS, cfg.AuthRateBurst)
	r.With(RateLimitMiddleware(limiter)).Post("/register", registerHandler(cfg.Directory, cfg.Tokens))
	r.With(RateLimitMiddleware(limiter)).Post("/login", loginHandler(cfg.Directory, cfg.Tokens))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Tokens))

		r.Get("/account", accountHandler(cfg.Directory))
		r.Get("/doctors", listDoctorsHandler(cfg.Directory))

		r.Get("/appointments", listAppointmentsHandler(cfg.Appointments, cfg.Directory))
		r.Get("/appointments/calendar.ics", calendarHandler(cfg.Appointments, cfg.Directory, cfg.Location))
		r.Get("/appointments/{id}", getAppointmentHandler(cfg.Appointments, cfg.Directory))

		r.Group(func(r chi.Router) {
			r.Use(RequireRole(directory.RolePatient))

			r.Post("/appointments", createAppointmentHandler(cfg.Appointments, cfg.Directory))
			r.Patch("/appointments/{id}", updateAppointmentHandler(cfg.Appointments, cfg.Directory))
			r.Delete("/appointments/{id}", cancelAppointmentHandler(cfg.Appointments))
		})
	})

	if len(cfg.CORSOrigins) == 0 {
		return r
	}

	return handlers.CORS(
		handlers.AllowedOrigins(cfg.CORSOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type", "X-Request-ID"}),
		handlers.ExposedHeaders([]string{"X-Request-ID"}),
	)(r)
}
