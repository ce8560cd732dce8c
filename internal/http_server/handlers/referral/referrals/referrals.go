package referrals

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	resp "referral_service/internal/lib/api/response"
	sl "referral_service/internal/lib/logger"
	"referral_service/internal/models"
	"referral_service/internal/referral"
	"referral_service/internal/storage"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

// URLParam is the route parameter holding the referral code id.
const URLParam = "referral_link_id"

type Response struct {
	resp.Response
	Referrals []models.Referral `json:"referrals"`
}

type ReferralLister interface {
	Referrals(ctx context.Context, codeID int64) ([]models.Referral, error)
}

// * New возвращает всех пользователей, зарегистрированных по коду с указанным id
func New(log *slog.Logger, lister ReferralLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.referral.referrals.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		codeID, err := strconv.ParseInt(chi.URLParam(r, URLParam), 10, 64)
		if err != nil {
			render.Status(r, http.StatusUnprocessableEntity)
			render.JSON(w, r, resp.Error("field referral_link_id must be an integer"))

			return
		}

		list, err := lister.Referrals(r.Context(), codeID)
		if err != nil {
			switch {
			case errors.Is(err, referral.ErrCodeNotFound):
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, resp.Error("Referral code not found"))
			case errors.Is(err, storage.ErrUnavailable):
				log.Error("failed to list referrals", sl.Err(err))

				render.Status(r, http.StatusServiceUnavailable)
				render.JSON(w, r, resp.Error("Service temporarily unavailable"))
			default:
				log.Error("failed to list referrals", sl.Err(err))

				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, resp.Error("Internal error"))
			}

			return
		}

		render.JSON(w, r, Response{
			Response:  resp.OK(),
			Referrals: list,
		})
	}
}
