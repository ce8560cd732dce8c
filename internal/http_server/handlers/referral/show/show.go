package show

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
)

type Response struct {
	resp.Response
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

type CodeProvider interface {
	MyCode(ctx context.Context, owner models.User) (models.ReferralCode, error)
}

func New(log *slog.Logger, provider CodeProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.referral.show.New"

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

		rc, err := provider.MyCode(r.Context(), owner)
		if err != nil {
			switch {
			case errors.Is(err, referral.ErrCodeNotFound):
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, resp.Error("You have no active referral code"))
			case errors.Is(err, storage.ErrUnavailable):
				log.Error("failed to get referral code", sl.Err(err))

				render.Status(r, http.StatusServiceUnavailable)
				render.JSON(w, r, resp.Error("Service temporarily unavailable"))
			default:
				log.Error("failed to get referral code", sl.Err(err))

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
