package logout

import (
	"log/slog"
	"net/http"

	resp "referral_service/internal/lib/api/response"
	"referral_service/internal/middleware/authn"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

type Response struct {
	resp.Response
}

// New drops the session cookie. Tokens are not revoked server side and stay valid until they expire.
func New(log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.logout.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		authn.ClearCookie(w)

		log.Info("user logged out")

		render.JSON(w, r, Response{
			Response: resp.OK(),
		})
	}
}
