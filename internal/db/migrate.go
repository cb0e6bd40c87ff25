package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

var tableNameRegex = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// RunMigrations applies the embedded scripts for the credential table
// named table. Each script is recorded per table so that several tables
// can share one database.
func RunMigrations(ctx context.Context, database *sql.DB, table string) error {
	if !tableNameRegex.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}

	if _, err := database.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	versions, err := migrationVersions()
	if err != nil {
		return err
	}

	for _, version := range versions {
		recorded := table + "/" + version

		var exists bool
		if err := database.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`, recorded).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", recorded, err)
		}
		if exists {
			continue
		}

		script, err := renderMigration(version, table)
		if err != nil {
			return err
		}

		tx, err := database.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", recorded, err)
		}

		if _, err := tx.ExecContext(ctx, script); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("execute migration %s: %w", recorded, err)
		}

		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, recorded); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", recorded, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", recorded, err)
		}
	}

	return nil
}

func migrationVersions() ([]string, error) {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("read migration files: %w", err)
	}

	versions := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(entry.Name(), ".sql") {
			versions = append(versions, entry.Name())
		}
	}
	sort.Strings(versions)

	return versions, nil
}

// renderMigration fills the {{table}} and {{prefix}} placeholders.
func renderMigration(version, table string) (string, error) {
	script, err := migrationFiles.ReadFile("migrations/" + version)
	if err != nil {
		return "", fmt.Errorf("read migration %s: %w", version, err)
	}

	replacer := strings.NewReplacer(
		"{{table}}", pgx.Identifier{table}.Sanitize(),
		"{{prefix}}", table,
	)
	return replacer.Replace(string(script)), nil
}
