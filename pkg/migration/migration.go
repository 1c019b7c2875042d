// Package migration применяет встроенные SQL-миграции через golang-migrate.
package migration

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog/log"
)

// Config содержит настройки для миграций
type Config struct {
	// MigrationsPath - каталог внутри MigrationsFS, "." для корня.
	MigrationsPath string
	MigrationsFS   fs.FS
	// MigrationsTable по умолчанию schema_migrations.
	MigrationsTable string
	LockTimeout     time.Duration
}

// Migrator выполняет миграции базы данных
type Migrator struct {
	config Config
	pool   *pgxpool.Pool
}

// NewMigrator создает новый экземпляр Migrator
func NewMigrator(config Config, pool *pgxpool.Pool) *Migrator {
	if config.MigrationsPath == "" {
		config.MigrationsPath = "."
	}
	if config.MigrationsTable == "" {
		config.MigrationsTable = "schema_migrations"
	}
	if config.LockTimeout <= 0 {
		config.LockTimeout = 30 * time.Second
	}
	return &Migrator{
		config: config,
		pool:   pool,
	}
}

// Up применяет все доступные миграции
func (m *Migrator) Up(ctx context.Context) error {
	return m.run(ctx, "up", func(mg *migrate.Migrate) error { return mg.Up() })
}

// Down откатывает все миграции
func (m *Migrator) Down(ctx context.Context) error {
	return m.run(ctx, "down", func(mg *migrate.Migrate) error { return mg.Down() })
}

// Version возвращает текущую версию схемы и признак dirty. Пустая база - версия 0.
func (m *Migrator) Version(ctx context.Context) (uint, bool, error) {
	mg, err := m.open(ctx)
	if err != nil {
		return 0, false, err
	}
	defer closeMigrator(mg)

	version, dirty, err := mg.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, dirty, nil
}

func (m *Migrator) run(ctx context.Context, direction string, step func(*migrate.Migrate) error) error {
	mg, err := m.open(ctx)
	if err != nil {
		return err
	}
	defer closeMigrator(mg)

	started := time.Now()
	if err := step(mg); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info().Str("direction", direction).Msg("database schema is up to date")
			return nil
		}
		return fmt.Errorf("failed to migrate %s: %w", direction, err)
	}
	log.Info().
		Str("direction", direction).
		Dur("took", time.Since(started)).
		Msg("database migrations applied successfully")
	return nil
}

func (m *Migrator) open(ctx context.Context) (*migrate.Migrate, error) {
	if err := m.pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("database is not reachable: %w", err)
	}
	db := stdlib.OpenDBFromPool(m.pool)
	driver, err := postgres.WithInstance(db, &postgres.Config{
		MigrationsTable:       m.config.MigrationsTable,
		MigrationsTableQuoted: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}
	source, err := iofs.New(m.config.MigrationsFS, m.config.MigrationsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create source driver: %w", err)
	}
	mg, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	mg.LockTimeout = m.config.LockTimeout
	return mg, nil
}

func closeMigrator(mg *migrate.Migrate) {
	srcErr, dbErr := mg.Close()
	if srcErr != nil || dbErr != nil {
		log.Warn().AnErr("source_error", srcErr).AnErr("db_error", dbErr).Msg("failed to close migrator")
	}
}
