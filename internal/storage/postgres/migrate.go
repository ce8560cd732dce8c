package postgres

import (
	"embed"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"referral_service/internal/config"

	"github.com/golang-migrate/migrate/v4"
	// Register pgx/v5 database driver for golang-migrate.
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies all pending schema migrations.
func Migrate(cfg *config.Config) error {
	const op = "storage.postgres.Migrate"

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("%s: failed to open migrations: %w", op, err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, migrateURL(cfg))
	if err != nil {
		_ = source.Close()
		return fmt.Errorf("%s: failed to init migrator: %w", op, err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// migrateURL builds the pgx5:// url golang-migrate expects from the same settings as dsn.
func migrateURL(cfg *config.Config) string {
	u := url.URL{
		Scheme: "pgx5",
		User:   url.UserPassword(cfg.Postgres.User, cfg.Postgres.Password),
		Host:   cfg.Postgres.Host + ":" + strconv.Itoa(cfg.Postgres.Port),
		Path:   "/" + cfg.Postgres.DBName,
	}

	if cfg.Postgres.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": []string{cfg.Postgres.SSLMode}}.Encode()
	}

	return u.String()
}
