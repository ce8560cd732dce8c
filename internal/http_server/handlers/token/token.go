package token

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"referral_service/internal/http_server/handlers/login"
	resp "referral_service/internal/lib/api/response"
	sl "referral_service/internal/lib/logger"
	"referral_service/internal/middleware/authn"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

const tokenType = "bearer"

// Request is the OAuth2 password grant form. The username field carries the email.
type Request struct {
	GrantType string `validate:"omitempty,eq=password"`
	Username  string `validate:"required,email"`
	Password  string `validate:"required"`
}

type Response struct {
	resp.Response
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// * New обрабатывает форму OAuth2 password flow и выдает bearer токен
func New(
	log *slog.Logger,
	validate *validator.Validate,
	authenticator login.Authenticator,
	tokenTTL time.Duration,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.token.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		if err := r.ParseForm(); err != nil {
			log.Error("Failed to parse form", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("Failed to decode request"))

			return
		}

		req := Request{
			GrantType: r.PostForm.Get("grant_type"),
			Username:  r.PostForm.Get("username"),
			Password:  r.PostForm.Get("password"),
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

		token, err := authenticator.Login(ctx, req.Username, req.Password)
		if err != nil {
			login.WriteError(w, r, log, err)
			return
		}

		authn.SetCookie(w, token, tokenTTL)

		render.JSON(w, r, Response{
			Response:    resp.OK(),
			AccessToken: token,
			TokenType:   tokenType,
		})
	}
}
