package create

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	resp "referral_service/internal/lib/api/response"
	sl "referral_service/internal/lib/logger"
	"referral_service/internal/middleware/authn"
	"referral_service/internal/models"
	"referral_service/internal/referral"
	"referral_service/internal/storage"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

type Request struct {
	// lifetime of the code in days
	ExpirationDate *int `json:"expiration_date" validate:"required"`
}

type Response struct {
	resp.Response
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

type CodeCreator interface {
	CreateCode(ctx context.Context, owner models.User, ttlDays int) (models.ReferralCode, error)
}

func New(
	log *slog.Logger,
	validate *validator.Validate,
	creator CodeCreator,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.referral.create.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		owner, ok := authn.UserFromContext(r.Context())
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, resp.Error("Not authenticated"))

			return
		}

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

		rc, err := creator.CreateCode(ctx, owner, *req.ExpirationDate)
		if err != nil {
			switch {
			case errors.Is(err, referral.ErrAlreadyActive):
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, resp.Error("You already have an active referral code"))
			case errors.Is(err, referral.ErrInvalidDuration):
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, resp.Error("Referral code lifetime must be between 1 and 30 days"))
			case errors.Is(err, storage.ErrUnavailable):
				log.Error("failed to create referral code", sl.Err(err))

				render.Status(r, http.StatusServiceUnavailable)
				render.JSON(w, r, resp.Error("Service temporarily unavailable"))
			default:
				log.Error("failed to create referral code", sl.Err(err))

				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, resp.Error("Internal error"))
			}

			return
		}

		render.JSON(w, r, Response{
			Response:  resp.OK(),
			ID:        rc.ID,
			Code:      rc.Code,
			ExpiresAt: rc.ExpiresAt,
		})
	}
}
