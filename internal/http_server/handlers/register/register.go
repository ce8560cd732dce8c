package register

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
	Email        string `json:"email" validate:"required,email,max=255"`
	Pass         string `json:"password" validate:"required,max=72"`
	ReferralCode string `json:"referral_code,omitempty" validate:"omitempty,max=64"`
}

type Response struct {
	resp.Response
	UserID      int64  `json:"user_id"`
	AccessToken string `json:"access_token"`
}

type Registrar interface {
	Register(ctx context.Context, email, pass, referralCode string) (int64, string, error)
}

func New(
	log *slog.Logger,
	validate *validator.Validate,
	registrar Registrar,
	tokenTTL time.Duration,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.register.New"

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

		log.Info("Request body decoded")

		if err := validate.Struct(req); err != nil {
			validateErr := err.(validator.ValidationErrors)

			log.Error("Invalid request", sl.Err(err))

			render.Status(r, http.StatusUnprocessableEntity)
			render.JSON(w, r, resp.ValidationError(validateErr))

			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		userID, token, err := registrar.Register(ctx, req.Email, req.Pass, req.ReferralCode)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrUserExists):
				render.Status(r, http.StatusConflict)
				render.JSON(w, r, resp.Error("User already exists"))
			case errors.Is(err, auth.ErrInvalidReferral):
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, resp.Error("Referral code is invalid or expired"))
			case errors.Is(err, storage.ErrUnavailable):
				log.Error("failed to register user", sl.Err(err))

				render.Status(r, http.StatusServiceUnavailable)
				render.JSON(w, r, resp.Error("Service temporarily unavailable"))
			default:
				log.Error("failed to register user", sl.Err(err))

				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, resp.Error("Internal error"))
			}

			return
		}

		log.Info("User registered", slog.Int64("id", userID))

		authn.SetCookie(w, token, tokenTTL)

		ResponseOK(w, r, userID, token)
	}
}

func ResponseOK(w http.ResponseWriter, r *http.Request, userID int64, token string) {
	render.JSON(w, r, Response{
		Response:    resp.OK(),
		UserID:      userID,
		AccessToken: token,
	})
}
