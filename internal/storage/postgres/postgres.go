package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"referral_service/internal/config"
	"referral_service/internal/models"
	"referral_service/internal/storage"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the subset of *pgxpool.Pool used by Storage.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

type Storage struct {
	db      DB
	timeout time.Duration
}

func New(ctx context.Context, cfg *config.Config) (*Storage, error) {
	const op = "storage.postgres.New"

	poolConfig, err := pgxpool.ParseConfig(dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse config: %w", op, err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = time.Minute * 30

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create pool: %w", op, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: failed to ping database: %w", op, err)
	}

	return NewWithDB(pool, cfg.Postgres.QueryTimeout), nil
}

// NewWithDB wraps an existing pool. A non-positive timeout leaves the caller's deadline untouched.
func NewWithDB(db DB, queryTimeout time.Duration) *Storage {
	return &Storage{db: db, timeout: queryTimeout}
}

func (s *Storage) Close() {
	s.db.Close()
}

func (s *Storage) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.db.Ping(ctx); err != nil {
		return unavailable("storage.postgres.Ping", err)
	}

	return nil
}

func (s *Storage) SaveUser(ctx context.Context, email string, passHash []byte, codeID *int64) (int64, error) {
	const op = "storage.postgres.SaveUser"

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO users (email, password_hash, code_id)
		VALUES ($1, $2, $3)
		RETURNING id;
	`

	var id int64

	err := s.db.QueryRow(ctx, query, email, string(passHash), codeID).Scan(&id)
	if err != nil {
		switch pgCode(err) {
		case pgerrcode.UniqueViolation:
			return 0, fmt.Errorf("%s: %w", op, storage.ErrUserExists)
		case pgerrcode.ForeignKeyViolation:
			// code was deleted between lookup and insert
			return 0, fmt.Errorf("%s: %w", op, storage.ErrCodeNotFound)
		}

		return 0, unavailable(op, err)
	}

	return id, nil
}

func (s *Storage) User(ctx context.Context, email string) (models.User, error) {
	const op = "storage.postgres.User"

	query := `
		SELECT id, email, password_hash, code_id
		FROM users
		WHERE email = $1;
	`

	return s.queryUser(ctx, op, query, email)
}

func (s *Storage) UserByID(ctx context.Context, id int64) (models.User, error) {
	const op = "storage.postgres.UserByID"

	query := `
		SELECT id, email, password_hash, code_id
		FROM users
		WHERE id = $1;
	`

	return s.queryUser(ctx, op, query, id)
}

func (s *Storage) queryUser(ctx context.Context, op, query string, arg any) (models.User, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var u models.User

	err := s.db.QueryRow(ctx, query, arg).Scan(
		&u.ID,
		&u.Email,
		&u.PassHash,
		&u.CodeID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
		}

		return models.User{}, unavailable(op, err)
	}

	return u, nil
}

func (s *Storage) UsersByCode(ctx context.Context, codeID int64) ([]models.Referral, error) {
	const op = "storage.postgres.UsersByCode"

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, email
		FROM users
		WHERE code_id = $1
		ORDER BY id;
	`

	rows, err := s.db.Query(ctx, query, codeID)
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer rows.Close()

	referrals := make([]models.Referral, 0)

	for rows.Next() {
		var r models.Referral

		if err := rows.Scan(&r.ID, &r.Email); err != nil {
			return nil, unavailable(op, err)
		}

		referrals = append(referrals, r)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(op, err)
	}

	return referrals, nil
}

// * SaveCode сохраняет новый код в транзакции: блокирует строку владельца,
// * повторно проверяет отсутствие активного кода и вставляет запись
func (s *Storage) SaveCode(
	ctx context.Context,
	ownerID int64,
	code string,
	expiresAt time.Time,
	now time.Time,
) (models.ReferralCode, error) {
	const op = "storage.postgres.SaveCode"

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rc := models.ReferralCode{
		Code:      code,
		OwnerID:   ownerID,
		ExpiresAt: expiresAt.UTC(),
	}

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var lockedID int64

		err := tx.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, ownerID).Scan(&lockedID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return storage.ErrUserNotFound
			}
			return err
		}

		var active bool

		err = tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM referral_codes
				WHERE owner_id = $1 AND expires_at > $2
			);
		`, ownerID, now.UTC()).Scan(&active)
		if err != nil {
			return err
		}
		if active {
			return storage.ErrActiveCodeExists
		}

		return tx.QueryRow(ctx, `
			INSERT INTO referral_codes (code, owner_id, expires_at)
			VALUES ($1, $2, $3)
			RETURNING id;
		`, rc.Code, rc.OwnerID, rc.ExpiresAt).Scan(&rc.ID)
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrUserNotFound), errors.Is(err, storage.ErrActiveCodeExists):
			return models.ReferralCode{}, fmt.Errorf("%s: %w", op, err)
		case pgCode(err) == pgerrcode.UniqueViolation:
			return models.ReferralCode{}, fmt.Errorf("%s: %w", op, storage.ErrCodeExists)
		}

		return models.ReferralCode{}, unavailable(op, err)
	}

	return rc, nil
}

func (s *Storage) CodeByValue(ctx context.Context, code string) (models.ReferralCode, error) {
	const op = "storage.postgres.CodeByValue"

	query := `
		SELECT id, code, owner_id, expires_at
		FROM referral_codes
		WHERE code = $1;
	`

	return s.queryCode(ctx, op, query, code)
}

func (s *Storage) CodeByID(ctx context.Context, id int64) (models.ReferralCode, error) {
	const op = "storage.postgres.CodeByID"

	query := `
		SELECT id, code, owner_id, expires_at
		FROM referral_codes
		WHERE id = $1;
	`

	return s.queryCode(ctx, op, query, id)
}

func (s *Storage) ActiveCodeByOwner(ctx context.Context, ownerID int64, now time.Time) (models.ReferralCode, error) {
	const op = "storage.postgres.ActiveCodeByOwner"

	query := `
		SELECT id, code, owner_id, expires_at
		FROM referral_codes
		WHERE owner_id = $1 AND expires_at > $2
		ORDER BY expires_at DESC
		LIMIT 1;
	`

	return s.queryCode(ctx, op, query, ownerID, now.UTC())
}

func (s *Storage) queryCode(ctx context.Context, op, query string, args ...any) (models.ReferralCode, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var rc models.ReferralCode

	err := s.db.QueryRow(ctx, query, args...).Scan(
		&rc.ID,
		&rc.Code,
		&rc.OwnerID,
		&rc.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ReferralCode{}, fmt.Errorf("%s: %w", op, storage.ErrCodeNotFound)
		}

		return models.ReferralCode{}, unavailable(op, err)
	}

	rc.ExpiresAt = rc.ExpiresAt.UTC()

	return rc, nil
}

// DeleteCode clears every users.code_id that references the code and removes it, atomically.
func (s *Storage) DeleteCode(ctx context.Context, id int64) error {
	const op = "storage.postgres.DeleteCode"

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE users SET code_id = NULL WHERE code_id = $1`, id); err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, `DELETE FROM referral_codes WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return storage.ErrCodeNotFound
		}

		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrCodeNotFound) {
			return fmt.Errorf("%s: %w", op, err)
		}

		return unavailable(op, err)
	}

	return nil
}

func (s *Storage) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, s.timeout)
}

// withTx commits when fn succeeds and rolls back on error or panic.
func (s *Storage) withTx(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		err = tx.Commit(ctx)
	}()

	return fn(tx)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, storage.ErrUnavailable, err)
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}

	return ""
}

// * dsn формирует конфигурацию базы данных.
func dsn(cfg *config.Config) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s database=%s sslmode=%s",
		cfg.Postgres.Host,
		cfg.Postgres.Port,
		cfg.Postgres.User,
		cfg.Postgres.Password,
		cfg.Postgres.DBName,
		cfg.Postgres.SSLMode,
	)
}
