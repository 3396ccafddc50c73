// Package migrations embeds the payroll schema so it can be applied by the
// service at startup and by the store integration tests.
package migrations

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed 0001_payroll_core.sql
var Core string

// Apply runs every embedded migration on a single connection. The statements
// are idempotent, so Apply is safe to call on an already migrated database.
func Apply(ctx context.Context, pool *pgxpool.Pool) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire conn: %w", err)
	}
	defer conn.Release()

	sql := strings.TrimSpace(Core)
	if sql == "" {
		return fmt.Errorf("no migrations to apply")
	}
	if _, err := conn.Conn().PgConn().Exec(ctx, sql).ReadAll(); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
