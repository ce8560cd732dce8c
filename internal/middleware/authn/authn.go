package authn

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"referral_service/internal/auth"
	resp "referral_service/internal/lib/api/response"
	sl "referral_service/internal/lib/logger"
	"referral_service/internal/models"
	"referral_service/internal/storage"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

// CookieName is the cookie that carries the session token to browsers.
const CookieName = "user_access_token"

type ctxKey struct{}

type UserResolver interface {
	UserByToken(ctx context.Context, token string) (models.User, error)
}

// * New пропускает запрос дальше только с валидным токеном и кладет пользователя в контекст
func New(log *slog.Logger, resolver UserResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middleware.authn"

			log := log.With(
				slog.String("op", op),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)

			token := TokenFromRequest(r)
			if token == "" {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, resp.Error("Not authenticated"))

				return
			}

			user, err := resolver.UserByToken(r.Context(), token)
			if err != nil {
				switch {
				case errors.Is(err, auth.ErrInvalidCredentials):
					render.Status(r, http.StatusUnauthorized)
					render.JSON(w, r, resp.Error("Not authenticated"))
				case errors.Is(err, storage.ErrUnavailable):
					log.Error("failed to resolve user", sl.Err(err))

					render.Status(r, http.StatusServiceUnavailable)
					render.JSON(w, r, resp.Error("Service temporarily unavailable"))
				default:
					log.Error("failed to resolve user", sl.Err(err))

					render.Status(r, http.StatusInternalServerError)
					render.JSON(w, r, resp.Error("Internal error"))
				}

				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// TokenFromRequest reads the session token from the Authorization header, falling back to the cookie.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}

	if c, err := r.Cookie(CookieName); err == nil {
		return c.Value
	}

	return ""
}

func WithUser(ctx context.Context, user models.User) context.Context {
	return context.WithValue(ctx, ctxKey{}, user)
}

func UserFromContext(ctx context.Context) (models.User, bool) {
	user, ok := ctx.Value(ctxKey{}).(models.User)
	return user, ok
}

// SetCookie hands the session token to the client as an HttpOnly cookie living as long as the token.
func SetCookie(w http.ResponseWriter, token string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie tells the client to drop its session cookie. The token itself stays valid until it expires.
func ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
