package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"referral_service/internal/lib/hasher"
	"referral_service/internal/lib/jwt"
	sl "referral_service/internal/lib/logger"
	"referral_service/internal/models"
	"referral_service/internal/observability/metrics"
	"referral_service/internal/storage"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidReferral    = errors.New("referral code is invalid or expired")
)

type Auth struct {
	log          *slog.Logger
	usrSaver     UserSaver
	usrProvider  UserProvider
	codeProvider CodeProvider
	hasher       *hasher.Hasher
	tokens       *jwt.Manager
	publisher    Publisher
	now          func() time.Time

	// verified against when the email is unknown, so both login failures cost the same
	dummyHash []byte
}

type UserSaver interface {
	SaveUser(ctx context.Context, email string, passHash []byte, codeID *int64) (uid int64, err error)
}

type UserProvider interface {
	User(ctx context.Context, email string) (models.User, error)
	UserByID(ctx context.Context, id int64) (models.User, error)
}

type CodeProvider interface {
	CodeByValue(ctx context.Context, code string) (models.ReferralCode, error)
}

// Publisher delivers notifications. A nil Publisher disables them.
type Publisher interface {
	SendMessage(ctx context.Context, msg models.Message) error
}

func New(
	log *slog.Logger,
	userSaver UserSaver,
	userProvider UserProvider,
	codeProvider CodeProvider,
	hasher *hasher.Hasher,
	tokens *jwt.Manager,
	publisher Publisher,
) *Auth {
	dummyHash, err := hasher.Hash("dummy-password")
	if err != nil {
		log.Warn("failed to prepare dummy hash", sl.Err(err))
	}

	return &Auth{
		log:          log,
		usrSaver:     userSaver,
		usrProvider:  userProvider,
		codeProvider: codeProvider,
		hasher:       hasher,
		tokens:       tokens,
		publisher:    publisher,
		now:          time.Now,
		dummyHash:    dummyHash,
	}
}

// * Register создает пользователя, при наличии реферального кода привязывает его и выдает токен
func (a *Auth) Register(
	ctx context.Context,
	email string,
	pass string,
	referralCode string,
) (int64, string, error) {
	const op = "auth.Register"

	log := a.log.With(
		slog.String("op", op),
	)

	log.Info("Registering new user")

	uid, token, owner, err := a.register(ctx, email, pass, referralCode)
	if err != nil {
		switch {
		case errors.Is(err, ErrUserExists):
			log.Warn("User already exists")
			metrics.AuthRegistrationsTotal.WithLabelValues(metrics.ResultFailure).Inc()
		case errors.Is(err, ErrInvalidReferral):
			log.Warn("Invalid referral code")
			metrics.AuthRegistrationsTotal.WithLabelValues(metrics.ResultFailure).Inc()
		default:
			log.Error("Failed to register user", sl.Err(err))
			metrics.AuthRegistrationsTotal.WithLabelValues(metrics.ResultError).Inc()
		}

		return 0, "", fmt.Errorf("%s: %w", op, err)
	}

	metrics.AuthRegistrationsTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	log.Info("User registered", slog.Int64("uid", uid))

	if owner != 0 {
		a.notifyOwner(ctx, log, owner, email)
	}

	return uid, token, nil
}

func (a *Auth) register(ctx context.Context, email, pass, referralCode string) (int64, string, int64, error) {
	_, err := a.usrProvider.User(ctx, email)
	if err == nil {
		return 0, "", 0, ErrUserExists
	}
	if !errors.Is(err, storage.ErrUserNotFound) {
		return 0, "", 0, err
	}

	var (
		codeID  *int64
		ownerID int64
	)

	if referralCode != "" {
		rc, err := a.codeProvider.CodeByValue(ctx, referralCode)
		if err != nil {
			if errors.Is(err, storage.ErrCodeNotFound) {
				return 0, "", 0, ErrInvalidReferral
			}
			return 0, "", 0, err
		}

		if !rc.IsActive(a.now()) {
			return 0, "", 0, ErrInvalidReferral
		}

		codeID = &rc.ID
		ownerID = rc.OwnerID
	}

	passHash, err := a.hasher.Hash(pass)
	if err != nil {
		return 0, "", 0, err
	}

	uid, err := a.usrSaver.SaveUser(ctx, email, passHash, codeID)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrUserExists):
			return 0, "", 0, ErrUserExists
		case errors.Is(err, storage.ErrCodeNotFound):
			return 0, "", 0, ErrInvalidReferral
		}
		return 0, "", 0, err
	}

	token, err := a.tokens.NewToken(uid)
	if err != nil {
		return 0, "", 0, err
	}

	return uid, token, ownerID, nil
}

// notifyOwner tells the code owner that someone joined with their code. Failures are only logged.
func (a *Auth) notifyOwner(ctx context.Context, log *slog.Logger, ownerID int64, referralEmail string) {
	if a.publisher == nil {
		return
	}

	owner, err := a.usrProvider.UserByID(ctx, ownerID)
	if err != nil {
		log.Warn("failed to load referral owner", slog.Int64("owner_id", ownerID), sl.Err(err))
		return
	}

	msg := models.Message{
		Email:   owner.Email,
		Subject: "New referral",
		Body:    fmt.Sprintf("%s signed up with your referral code", referralEmail),
		Purpose: models.PurposeReferralRedeemed,
	}

	if err := a.publisher.SendMessage(ctx, msg); err != nil {
		log.Warn("failed to publish referral notification", sl.Err(err))
	}
}

// * Login проверяет учетные данные и возвращает токен доступа
func (a *Auth) Login(
	ctx context.Context,
	email, password string,
) (string, error) {
	const op = "auth.Login"

	log := a.log.With(slog.String("op", op))

	user, err := a.usrProvider.User(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			a.hasher.Verify(password, a.dummyHash)

			log.Info("invalid credentials")
			metrics.AuthLoginsTotal.WithLabelValues(metrics.ResultFailure).Inc()

			return "", fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}

		log.Error("failed to get user", sl.Err(err))
		metrics.AuthLoginsTotal.WithLabelValues(metrics.ResultError).Inc()

		return "", fmt.Errorf("%s: %w", op, err)
	}

	if !a.hasher.Verify(password, user.PassHash) {
		log.Info("invalid credentials")
		metrics.AuthLoginsTotal.WithLabelValues(metrics.ResultFailure).Inc()

		return "", fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	token, err := a.tokens.NewToken(user.ID)
	if err != nil {
		log.Error("failed to generate access token", sl.Err(err))
		metrics.AuthLoginsTotal.WithLabelValues(metrics.ResultError).Inc()

		return "", fmt.Errorf("%s: %w", op, err)
	}

	metrics.AuthLoginsTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	log.Info("user logged in successfully", slog.Int64("uid", user.ID))

	return token, nil
}

// UserByToken resolves the caller behind a session token. Every token or lookup failure
// is reported as ErrInvalidCredentials, except storage outages which pass through.
func (a *Auth) UserByToken(ctx context.Context, token string) (models.User, error) {
	const op = "auth.UserByToken"

	log := a.log.With(slog.String("op", op))

	uid, err := a.tokens.ParseToken(token)
	if err != nil {
		log.Debug("token rejected", sl.Err(err))

		return models.User{}, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	user, err := a.usrProvider.UserByID(ctx, uid)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Info("token subject no longer exists", slog.Int64("uid", uid))

			return models.User{}, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}

		log.Error("failed to load user", sl.Err(err))

		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}
