package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"ventapos/pkg/logger"
)

type migration struct {
	version string
	up      string
}

var migrations = []migration{
	{
		version: "001_create_series",
		up: `
			CREATE TABLE IF NOT EXISTS sys_series (
				business_id UUID NOT NULL,
				branch_id UUID NOT NULL,
				document_type VARCHAR(30) NOT NULL,
				label VARCHAR(10) NOT NULL,
				last_number BIGINT NOT NULL DEFAULT 0,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				PRIMARY KEY (business_id, branch_id, document_type)
			);

			CREATE INDEX IF NOT EXISTS idx_sys_series_business ON sys_series(business_id);
		`,
	},
	{
		version: "002_create_documents",
		up: `
			CREATE TABLE IF NOT EXISTS documents (
				id UUID PRIMARY KEY,
				business_id UUID NOT NULL,
				branch_id UUID,
				document_type VARCHAR(30) NOT NULL,
				label VARCHAR(10) NOT NULL,
				number BIGINT NOT NULL,
				local_id UUID,
				payload JSONB NOT NULL,
				status VARCHAR(20) NOT NULL DEFAULT 'issued',
				issued_at TIMESTAMPTZ NOT NULL,
				CONSTRAINT uq_documents_number UNIQUE (business_id, label, number),
				CONSTRAINT uq_documents_local UNIQUE (business_id, local_id)
			);

			CREATE INDEX IF NOT EXISTS idx_documents_business ON documents(business_id);
			CREATE INDEX IF NOT EXISTS idx_documents_issued_at ON documents(business_id, issued_at);
			CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(business_id, status);
		`,
	},
}

// RunMigrations applies pending schema migrations in order. Each migration
// runs in its own transaction and is recorded in the migrations table.
func RunMigrations(ctx context.Context, pool *Pool) error {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS migrations (
			version VARCHAR(100) PRIMARY KEY,
			executed_at TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	last, err := lastMigration(ctx, conn)
	if err != nil {
		return fmt.Errorf("read last migration: %w", err)
	}

	for _, m := range migrations {
		if m.version <= last {
			continue
		}

		logger.Info(ctx, "applying migration", "version", m.version)

		tx, err := conn.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", m.version, err)
		}

		if _, err := tx.Exec(ctx, m.up); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("apply migration %s: %w", m.version, err)
		}

		_, err = tx.Exec(ctx,
			"INSERT INTO migrations (version, executed_at) VALUES ($1, $2)",
			m.version, time.Now())
		if err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("record migration %s: %w", m.version, err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit migration %s: %w", m.version, err)
		}
	}

	return nil
}

func lastMigration(ctx context.Context, conn interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}) (string, error) {
	var version string
	err := conn.QueryRow(ctx,
		"SELECT version FROM migrations ORDER BY version DESC LIMIT 1").Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return version, nil
}
