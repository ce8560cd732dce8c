package router

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"referral_service/internal/auth"
	"referral_service/internal/http_server/handlers/login"
	"referral_service/internal/http_server/handlers/logout"
	"referral_service/internal/http_server/handlers/me"
	"referral_service/internal/http_server/handlers/referral/byemail"
	"referral_service/internal/http_server/handlers/referral/create"
	"referral_service/internal/http_server/handlers/referral/referrals"
	"referral_service/internal/http_server/handlers/referral/remove"
	"referral_service/internal/http_server/handlers/referral/show"
	"referral_service/internal/http_server/handlers/register"
	"referral_service/internal/http_server/handlers/token"
	resp "referral_service/internal/lib/api/response"
	sl "referral_service/internal/lib/logger"
	"referral_service/internal/middleware/authn"
	"referral_service/internal/middleware/metrics"
	"referral_service/internal/middleware/ratelimit"
	"referral_service/internal/referral"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger is a dependency checked by /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Auth     *auth.Auth
	Referral *referral.Referral
	TokenTTL time.Duration
	Metrics  http.Handler
	Health   map[string]Pinger
}

// * New собирает chi роутер со всеми маршрутами сервиса
func New(log *slog.Logger, deps Deps) *chi.Mux {
	validate := validator.New()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.New(log))

	metricsHandler := deps.Metrics
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	r.Method(http.MethodGet, "/metrics", metricsHandler)
	r.Get("/healthz", healthz(log, deps.Health))

	requireUser := authn.New(log, deps.Auth)

	r.Route("/auth", func(r chi.Router) {
		r.With(ratelimit.Register()).Post("/register",
			register.New(log, validate, deps.Auth, deps.TokenTTL),
		)
		r.With(ratelimit.Login()).Post("/login",
			login.New(log, validate, deps.Auth, deps.TokenTTL),
		)
		r.With(ratelimit.Login()).Post("/token",
			token.New(log, validate, deps.Auth, deps.TokenTTL),
		)
		r.With(ratelimit.Logout()).Post("/logout",
			logout.New(log),
		)
		r.With(requireUser).Get("/me",
			me.New(),
		)
	})

	r.Route("/referral", func(r chi.Router) {
		r.With(requireUser, ratelimit.CreateCode()).Post("/create-link",
			create.New(log, validate, deps.Referral),
		)
		r.With(requireUser).Get("/show_my_link",
			show.New(log, deps.Referral),
		)
		r.With(requireUser).Delete("/delete-link",
			remove.New(log, deps.Referral),
		)
		r.With(ratelimit.LookupByEmail()).Get("/get-code-by-email",
			byemail.New(log, validate, deps.Referral),
		)
		r.Get("/{"+referrals.URLParam+"}",
			referrals.New(log, deps.Referral),
		)
	})

	return r
}

func healthz(log *slog.Logger, deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		for name, dep := range deps {
			if err := dep.Ping(ctx); err != nil {
				log.Error("health check failed", slog.String("dependency", name), sl.Err(err))

				render.Status(r, http.StatusServiceUnavailable)
				render.JSON(w, r, resp.Error(name+" is unavailable"))

				return
			}
		}

		render.JSON(w, r, resp.OK())
	}
}
