package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
)

// Migration is one numbered schema step loaded from disk
type Migration struct {
	Version     int
	Description string
	SQL         string
	Filename    string
}

// Migrator applies numbered .sql files in ascending order, recording
// progress in schema_version. It runs over database/sql so cmd/migrate
// works against a database the pgx pool has not been configured for.
type Migrator struct {
	db  *sql.DB
	dir string
}

// NewMigrator opens a database/sql handle for the migration run. Close
// it when done.
func NewMigrator(databaseURL, dir string) (*Migrator, error) {
	handle, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return &Migrator{db: handle, dir: dir}, nil
}

// Close releases the underlying handle
func (m *Migrator) Close() error {
	return m.db.Close()
}

func (m *Migrator) ensureVersionTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ DEFAULT NOW(),
			description TEXT
		)`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}
	return nil
}

func (m *Migrator) currentVersion(ctx context.Context) (int, error) {
	var version int
	err := m.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

// loadMigrations reads NNN_description.sql files from the directory,
// sorted by version. Files ending in _down.sql are skipped.
func loadMigrations(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}

	var migrations []Migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") || strings.HasSuffix(name, "_down.sql") {
			continue
		}

		version, description, err := parseMigrationName(name)
		if err != nil {
			return nil, err
		}

		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}

		migrations = append(migrations, Migration{
			Version:     version,
			Description: description,
			SQL:         string(content),
			Filename:    name,
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	for i := 1; i < len(migrations); i++ {
		if migrations[i].Version == migrations[i-1].Version {
			return nil, fmt.Errorf("duplicate migration version %d (%s and %s)",
				migrations[i].Version, migrations[i-1].Filename, migrations[i].Filename)
		}
	}
	return migrations, nil
}

// parseMigrationName splits "001_create_audit_log.sql" into version 1
// and description "create audit log".
func parseMigrationName(name string) (int, string, error) {
	base := strings.TrimSuffix(name, ".sql")
	idx := strings.Index(base, "_")
	if idx <= 0 {
		return 0, "", fmt.Errorf("migration %s: want NNN_description.sql", name)
	}
	version, err := strconv.Atoi(base[:idx])
	if err != nil {
		return 0, "", fmt.Errorf("migration %s: bad version prefix: %w", name, err)
	}
	description := strings.ReplaceAll(base[idx+1:], "_", " ")
	return version, description, nil
}

// Migrate applies every pending migration inside its own transaction
func (m *Migrator) Migrate(ctx context.Context) error {
	if err := m.ensureVersionTable(ctx); err != nil {
		return err
	}
	current, err := m.currentVersion(ctx)
	if err != nil {
		return err
	}
	migrations, err := loadMigrations(m.dir)
	if err != nil {
		return err
	}

	applied := 0
	for _, migration := range migrations {
		if migration.Version <= current {
			continue
		}
		if err := m.apply(ctx, migration); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", migration.Version, migration.Filename, err)
		}
		applied++
	}

	if applied == 0 {
		fmt.Printf("database is up to date (version %d)\n", current)
		return nil
	}
	final, err := m.currentVersion(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("applied %d migration(s), now at version %d\n", applied, final)
	return nil
}

func (m *Migrator) apply(ctx context.Context, migration Migration) error {
	fmt.Printf("applying %03d: %s\n", migration.Version, migration.Description)

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_version (version, description) VALUES ($1, $2)",
		migration.Version, migration.Description,
	); err != nil {
		return fmt.Errorf("record version: %w", err)
	}
	return tx.Commit()
}

// Status prints the applied/pending state of every migration on disk
func (m *Migrator) Status(ctx context.Context) error {
	if err := m.ensureVersionTable(ctx); err != nil {
		return err
	}
	current, err := m.currentVersion(ctx)
	if err != nil {
		return err
	}
	migrations, err := loadMigrations(m.dir)
	if err != nil {
		return err
	}

	fmt.Printf("schema version: %d\n\n", current)
	fmt.Println("VERSION | STATUS  | DESCRIPTION")
	for _, migration := range migrations {
		status := "pending"
		if migration.Version <= current {
			status = "applied"
		}
		fmt.Printf("%7d | %-7s | %s\n", migration.Version, status, migration.Description)
	}
	return nil
}
