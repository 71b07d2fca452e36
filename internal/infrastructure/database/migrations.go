package database

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
	"time"
)

// MigrationsFS holds the schema migrations. The migrations package sets it
// from init so the SQL ships inside the binary.
var MigrationsFS fs.FS

// MigrationsDir is the directory within MigrationsFS holding the files.
var MigrationsDir = "."

// Migration is one forward schema change, loaded from a file named
// YYYYMMDD_HHMMSS_description.up.sql. The matching .down.sql files are kept
// beside them for manual rollback with the sqlite3 shell; they are not
// applied by the controller.
type Migration struct {
	// Version is the YYYYMMDD_HHMMSS prefix of the filename.
	Version string
	Name    string
	SQL     string
}

// SchemaStatus describes which migrations the database has.
type SchemaStatus struct {
	// Applied lists applied versions, oldest first.
	Applied []string
	Pending []Migration
}

// Current returns the newest applied version, or "" for an empty database.
func (s SchemaStatus) Current() string {
	if len(s.Applied) == 0 {
		return ""
	}
	return s.Applied[len(s.Applied)-1]
}

// Migrate applies every pending migration in version order.
//
// Each migration commits on its own. When one fails, the ones before it stay
// applied and the next Migrate resumes from the failed one.
func (db *DB) Migrate(ctx context.Context) error {
	status, err := db.SchemaStatus(ctx)
	if err != nil {
		return err
	}

	for _, m := range status.Pending {
		if err := db.apply(ctx, m); err != nil {
			return fmt.Errorf("applying migration %s (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}

// SchemaStatus compares the schema_migrations table with MigrationsFS.
func (db *DB) SchemaStatus(ctx context.Context) (SchemaStatus, error) {
	applied, err := db.appliedVersions(ctx)
	if err != nil {
		return SchemaStatus{}, fmt.Errorf("reading applied migrations: %w", err)
	}

	migrations, err := loadMigrations(MigrationsFS, MigrationsDir)
	if err != nil {
		return SchemaStatus{}, fmt.Errorf("loading migrations: %w", err)
	}

	status := SchemaStatus{Applied: applied}
	for _, m := range migrations {
		if !slices.Contains(applied, m.Version) {
			status.Pending = append(status.Pending, m)
		}
	}
	return status, nil
}

func (db *DB) appliedVersions(ctx context.Context) ([]string, error) {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`); err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("querying schema_migrations: %w", err)
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scanning schema_migrations: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (db *DB) apply(ctx context.Context, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("executing SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
		m.Version, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}
	return tx.Commit()
}

// loadMigrations reads the up files in dir, oldest first. A nil fsys or a
// missing dir yields no migrations.
func loadMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	if fsys == nil {
		return nil, nil
	}

	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, nil //nolint:nilerr // nothing to apply
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version, name, ok := parseUpFilename(entry.Name())
		if !ok {
			continue
		}

		body, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", entry.Name(), err)
		}
		migrations = append(migrations, Migration{Version: version, Name: name, SQL: string(body)})
	}

	slices.SortFunc(migrations, func(a, b Migration) int {
		return strings.Compare(a.Version, b.Version)
	})
	for i := 1; i < len(migrations); i++ {
		if migrations[i].Version == migrations[i-1].Version {
			return nil, fmt.Errorf("duplicate migration version %s", migrations[i].Version)
		}
	}
	return migrations, nil
}

// parseUpFilename splits "20260301_090000_audit_logs.up.sql" into
// "20260301_090000" and "audit_logs". Down files and anything else report
// false.
func parseUpFilename(filename string) (version, name string, ok bool) {
	base, ok := strings.CutSuffix(filename, ".up.sql")
	if !ok {
		return "", "", false
	}

	date, rest, ok := strings.Cut(base, "_")
	if !ok || len(date) != 8 {
		return "", "", false
	}
	clock, name, ok := strings.Cut(rest, "_")
	if !ok || len(clock) != 6 || name == "" {
		return "", "", false
	}
	if strings.Trim(date+clock, "0123456789") != "" {
		return "", "", false
	}
	return date + "_" + clock, name, true
}
