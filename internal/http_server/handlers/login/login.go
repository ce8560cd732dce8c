package login

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"referral_service/internal/auth"
	resp "referral_service/internal/lib/api/response"
	sl "referral_service/internal/lib/logger"
	"referral_service/internal/middleware/authn"
	"referral_service/internal/storage"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

type Request struct {
	Email string `json:"email" validate:"required,email"`
	Pass  string `json:"password" validate:"required"`
}

type Response struct {
	resp.Response
	AccessToken string `json:"access_token"`
}

type Authenticator interface {
	Login(ctx context.Context, email, password string) (string, error)
}

func New(
	log *slog.Logger,
	validate *validator.Validate,
	authenticator Authenticator,
	tokenTTL time.Duration,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.login.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var req Request

		err := render.DecodeJSON(r.Body, &req)
		if err != nil {
			log.Error("Failed to decode request body", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("Failed to decode request"))

			return
		}

		if err := validate.Struct(req); err != nil {
			validateErr := err.(validator.ValidationErrors)

			log.Error("Invalid request", sl.Err(err))

			render.Status(r, http.StatusUnprocessableEntity)
			render.JSON(w, r, resp.ValidationError(validateErr))

			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		token, err := authenticator.Login(ctx, req.Email, req.Pass)
		if err != nil {
			WriteError(w, r, log, err)
			return
		}

		log.Info("User logged in successfully")

		authn.SetCookie(w, token, tokenTTL)

		ResponseOK(w, r, token)
	}
}

// WriteError maps a Login failure to its response. Shared with the OAuth2 token endpoint.
func WriteError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, resp.Error("Invalid email or password"))
	case errors.Is(err, storage.ErrUnavailable):
		log.Error("failed to login user", sl.Err(err))

		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, resp.Error("Service temporarily unavailable"))
	default:
		log.Error("failed to login user", sl.Err(err))

		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, resp.Error("Internal error"))
	}
}

func ResponseOK(w http.ResponseWriter, r *http.Request, token string) {
	render.JSON(w, r, Response{
		Response:    resp.OK(),
		AccessToken: token,
	})
}
