package referral

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"referral_service/internal/config"
	sl "referral_service/internal/lib/logger"
	"referral_service/internal/lib/random"
	"referral_service/internal/models"
	"referral_service/internal/observability/metrics"
	"referral_service/internal/storage"
)

var (
	ErrAlreadyActive   = errors.New("user already has an active referral code")
	ErrInvalidDuration = errors.New("referral code lifetime is out of range")
	ErrCodeNotFound    = errors.New("referral code not found")
	ErrCodeGeneration  = errors.New("failed to generate a unique referral code")
)

const day = 24 * time.Hour

type CodeSaver interface {
	SaveCode(ctx context.Context, ownerID int64, code string, expiresAt, now time.Time) (models.ReferralCode, error)
	DeleteCode(ctx context.Context, id int64) error
}

type CodeProvider interface {
	ActiveCodeByOwner(ctx context.Context, ownerID int64, now time.Time) (models.ReferralCode, error)
	CodeByID(ctx context.Context, id int64) (models.ReferralCode, error)
}

type UserProvider interface {
	User(ctx context.Context, email string) (models.User, error)
	UsersByCode(ctx context.Context, codeID int64) ([]models.Referral, error)
}

// Cache holds owner-email lookups. A nil Cache disables caching.
type Cache interface {
	Get(ctx context.Context, email string) (models.ReferralCode, bool, error)
	Set(ctx context.Context, email string, rc models.ReferralCode, now time.Time) error
	Invalidate(ctx context.Context, email string) error
}

type Referral struct {
	log          *slog.Logger
	codeSaver    CodeSaver
	codeProvider CodeProvider
	usrProvider  UserProvider
	cache        Cache

	codeLength  int
	minTTLDays  int
	maxTTLDays  int
	maxAttempts int

	now      func() time.Time
	generate func(length int) (string, error)
}

func New(
	log *slog.Logger,
	cfg config.Referral,
	codeSaver CodeSaver,
	codeProvider CodeProvider,
	userProvider UserProvider,
	cache Cache,
) *Referral {
	return &Referral{
		log:          log,
		codeSaver:    codeSaver,
		codeProvider: codeProvider,
		usrProvider:  userProvider,
		cache:        cache,
		codeLength:   cfg.CodeLength,
		minTTLDays:   cfg.MinTTLDays,
		maxTTLDays:   cfg.MaxTTLDays,
		maxAttempts:  cfg.MaxGenerateAttempts,
		now:          time.Now,
		generate:     random.NewCode,
	}
}

// * CreateCode выпускает новый код владельцу, если у него нет активного, на ttlDays дней
func (s *Referral) CreateCode(ctx context.Context, owner models.User, ttlDays int) (models.ReferralCode, error) {
	const op = "referral.CreateCode"

	log := s.log.With(
		slog.String("op", op),
		slog.Int64("owner_id", owner.ID),
	)

	rc, err := s.createCode(ctx, log, owner, ttlDays)
	if err != nil {
		switch {
		case errors.Is(err, ErrAlreadyActive), errors.Is(err, ErrInvalidDuration):
			log.Info("referral code rejected", sl.Err(err))
			metrics.CodesCreatedTotal.WithLabelValues(metrics.ResultFailure).Inc()
		default:
			log.Error("failed to create referral code", sl.Err(err))
			metrics.CodesCreatedTotal.WithLabelValues(metrics.ResultError).Inc()
		}

		return models.ReferralCode{}, fmt.Errorf("%s: %w", op, err)
	}

	metrics.CodesCreatedTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	log.Info("referral code created", slog.Int64("code_id", rc.ID))

	if s.cache != nil {
		if err := s.cacheCode(ctx, log, owner.Email, rc, s.now()); err != nil {
			log.Warn("referral code vanished before it was cached", sl.Err(err))
		}
	}

	return rc, nil
}

func (s *Referral) createCode(ctx context.Context, log *slog.Logger, owner models.User, ttlDays int) (models.ReferralCode, error) {
	now := s.now().UTC()

	_, err := s.codeProvider.ActiveCodeByOwner(ctx, owner.ID, now)
	if err == nil {
		return models.ReferralCode{}, ErrAlreadyActive
	}
	if !errors.Is(err, storage.ErrCodeNotFound) {
		return models.ReferralCode{}, err
	}

	if ttlDays < s.minTTLDays || ttlDays > s.maxTTLDays {
		return models.ReferralCode{}, ErrInvalidDuration
	}

	expiresAt := now.Add(time.Duration(ttlDays) * day)

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		code, err := s.generate(s.codeLength)
		if err != nil {
			return models.ReferralCode{}, err
		}

		rc, err := s.codeSaver.SaveCode(ctx, owner.ID, code, expiresAt, now)
		if err == nil {
			return rc, nil
		}

		switch {
		case errors.Is(err, storage.ErrCodeExists):
			log.Warn("referral code collision, retrying", slog.Int("attempt", attempt))
			continue
		case errors.Is(err, storage.ErrActiveCodeExists):
			return models.ReferralCode{}, ErrAlreadyActive
		}

		return models.ReferralCode{}, err
	}

	return models.ReferralCode{}, ErrCodeGeneration
}

func (s *Referral) MyCode(ctx context.Context, owner models.User) (models.ReferralCode, error) {
	const op = "referral.MyCode"

	rc, err := s.activeCode(ctx, owner.ID)
	if err != nil {
		return models.ReferralCode{}, fmt.Errorf("%s: %w", op, err)
	}

	return rc, nil
}

// * DeleteMyCode удаляет активный код владельца и отвязывает всех, кто по нему зарегистрировался
func (s *Referral) DeleteMyCode(ctx context.Context, owner models.User) error {
	const op = "referral.DeleteMyCode"

	log := s.log.With(
		slog.String("op", op),
		slog.Int64("owner_id", owner.ID),
	)

	rc, err := s.activeCode(ctx, owner.ID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := s.codeSaver.DeleteCode(ctx, rc.ID); err != nil {
		if errors.Is(err, storage.ErrCodeNotFound) {
			return fmt.Errorf("%s: %w", op, ErrCodeNotFound)
		}

		log.Error("failed to delete referral code", sl.Err(err))

		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("referral code deleted", slog.Int64("code_id", rc.ID))

	s.invalidate(ctx, log, owner.Email)

	return nil
}

// CodeByOwnerEmail returns the active code of the user with the given email.
func (s *Referral) CodeByOwnerEmail(ctx context.Context, email string) (models.ReferralCode, error) {
	const op = "referral.CodeByOwnerEmail"

	log := s.log.With(slog.String("op", op))

	now := s.now()

	if s.cache != nil {
		rc, found, err := s.cache.Get(ctx, email)
		if err != nil {
			log.Warn("referral cache read failed", sl.Err(err))
		}
		if found && rc.IsActive(now) {
			return rc, nil
		}
	}

	owner, err := s.usrProvider.User(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return models.ReferralCode{}, fmt.Errorf("%s: %w", op, ErrCodeNotFound)
		}

		return models.ReferralCode{}, fmt.Errorf("%s: %w", op, err)
	}

	rc, err := s.activeCode(ctx, owner.ID)
	if err != nil {
		return models.ReferralCode{}, fmt.Errorf("%s: %w", op, err)
	}

	if s.cache == nil {
		return rc, nil
	}

	if err := s.cacheCode(ctx, log, email, rc, now); err != nil {
		if errors.Is(err, storage.ErrCodeNotFound) {
			return models.ReferralCode{}, fmt.Errorf("%s: %w", op, ErrCodeNotFound)
		}

		return models.ReferralCode{}, fmt.Errorf("%s: %w", op, err)
	}

	return rc, nil
}

// Referrals lists everyone who registered with the code, whether or not it is still active.
func (s *Referral) Referrals(ctx context.Context, codeID int64) ([]models.Referral, error) {
	const op = "referral.Referrals"

	if _, err := s.codeProvider.CodeByID(ctx, codeID); err != nil {
		if errors.Is(err, storage.ErrCodeNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrCodeNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	referrals, err := s.usrProvider.UsersByCode(ctx, codeID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return referrals, nil
}

func (s *Referral) activeCode(ctx context.Context, ownerID int64) (models.ReferralCode, error) {
	rc, err := s.codeProvider.ActiveCodeByOwner(ctx, ownerID, s.now().UTC())
	if err != nil {
		if errors.Is(err, storage.ErrCodeNotFound) {
			return models.ReferralCode{}, ErrCodeNotFound
		}

		return models.ReferralCode{}, err
	}

	return rc, nil
}

// cacheCode writes rc under email and then confirms the code still exists.
// A delete that commits between the read and the write has already run its
// invalidation, so the entry is dropped again when the code is gone.
func (s *Referral) cacheCode(ctx context.Context, log *slog.Logger, email string, rc models.ReferralCode, now time.Time) error {
	if err := s.cache.Set(ctx, email, rc, now); err != nil {
		log.Warn("referral cache write failed", sl.Err(err))
		s.invalidate(ctx, log, email)

		return nil
	}

	if _, err := s.codeProvider.CodeByID(ctx, rc.ID); err != nil {
		s.invalidate(ctx, log, email)

		return err
	}

	return nil
}

func (s *Referral) invalidate(ctx context.Context, log *slog.Logger, email string) {
	if s.cache == nil {
		return
	}

	if err := s.cache.Invalidate(ctx, email); err != nil {
		log.Warn("referral cache invalidation failed", sl.Err(err))
	}
}
