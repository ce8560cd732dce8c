package me

import (
	"net/http"

	resp "referral_service/internal/lib/api/response"
	"referral_service/internal/middleware/authn"
	"referral_service/internal/models"

	"github.com/go-chi/render"
)

type Response struct {
	resp.Response
	User models.User `json:"user"`
}

// New returns the caller resolved by the authn middleware.
func New() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := authn.UserFromContext(r.Context())
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, resp.Error("Not authenticated"))

			return
		}

		render.JSON(w, r, Response{
			Response: resp.OK(),
			User:     user,
		})
	}
}
