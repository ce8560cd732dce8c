package byemail

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	resp "referral_service/internal/lib/api/response"
	sl "referral_service/internal/lib/logger"
	"referral_service/internal/models"
	"referral_service/internal/referral"
	"referral_service/internal/storage"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

type Request struct {
	Email string `validate:"required,email"`
}

type Response struct {
	resp.Response
	Code string `json:"code"`
}

type CodeFinder interface {
	CodeByOwnerEmail(ctx context.Context, email string) (models.ReferralCode, error)
}

func New(
	log *slog.Logger,
	validate *validator.Validate,
	finder CodeFinder,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.referral.byemail.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		req := Request{Email: r.URL.Query().Get("email")}

		if err := validate.Struct(req); err != nil {
			validateErr := err.(validator.ValidationErrors)

			log.Error("Invalid request", sl.Err(err))

			render.Status(r, http.StatusUnprocessableEntity)
			render.JSON(w, r, resp.ValidationError(validateErr))

			return
		}

		rc, err := finder.CodeByOwnerEmail(r.Context(), req.Email)
		if err != nil {
			switch {
			case errors.Is(err, referral.ErrCodeNotFound):
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, resp.Error("No active referral code for this email"))
			case errors.Is(err, storage.ErrUnavailable):
				log.Error("failed to find referral code", sl.Err(err))

				render.Status(r, http.StatusServiceUnavailable)
				render.JSON(w, r, resp.Error("Service temporarily unavailable"))
			default:
				log.Error("failed to find referral code", sl.Err(err))

				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, resp.Error("Internal error"))
			}

			return
		}

		render.JSON(w, r, Response{
			Response: resp.OK(),
			Code:     rc.Code,
		})
	}
}
