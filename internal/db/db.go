package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"

	_ "github.com/lib/pq"

	"neuromate-client/internal/logger"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// containsIgnoreCase returns true if s contains substr (case-insensitive)
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// DB wraps the database connection
type DB struct {
	*sql.DB
	log *logger.Logger
}

// New creates a new database connection from the provided connection string
func New(ctx context.Context, connectionString string, log *logger.Logger) (*DB, error) {
	if connectionString == "" {
		return nil, fmt.Errorf("database connection string is required")
	}
	if log == nil {
		log = logger.Nop()
	}

	sqlDB, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		// Local postgres usually runs without TLS; retry once with it off
		// unless the caller chose a mode explicitly.
		if containsIgnoreCase(connectionString, "sslmode") {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		log.Warn("retrying database connection with SSL disabled", "error", err)
		sqlDB.Close()
		sep := "?"
		if strings.Contains(connectionString, "?") {
			sep = "&"
		}
		sqlDB, err = sql.Open("postgres", connectionString+sep+"sslmode=disable")
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)

	return &DB{DB: sqlDB, log: log}, nil
}

// HealthCheck verifies the database connection is healthy
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.PingContext(ctx)
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

// Migrate applies the migrations shipped with the binary.
func (db *DB) Migrate(ctx context.Context) error {
	sub, err := fs.Sub(embeddedMigrations, "migrations")
	if err != nil {
		return err
	}
	return db.RunMigrations(ctx, sub)
}

// RunMigrations executes every NNN_name.sql file in fsys that has not been
// recorded in schema_migrations yet, each in its own transaction.
func (db *DB) RunMigrations(ctx context.Context, fsys fs.FS) error {
	migrations, err := readMigrations(fsys)
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	if len(migrations) == 0 {
		db.log.Info("no migrations found")
		return nil
	}

	if err := db.createMigrationTable(ctx); err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}

	for _, migration := range migrations {
		applied, err := db.isMigrationApplied(ctx, migration.Number)
		if err != nil {
			return fmt.Errorf("failed to check migration status: %w", err)
		}
		if applied {
			db.log.Debug("migration already applied", "version", migration.Number)
			continue
		}

		db.log.Info("applying migration", "version", migration.Number, "name", migration.Name)

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Number, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, name) VALUES ($1, $2)",
			migration.Number,
			migration.Name,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration: %w", err)
		}
	}

	return nil
}

// Migration represents a single migration file
type Migration struct {
	Number int
	Name   string
	SQL    string
}

// readMigrations reads all migration files, sorted by number. Files whose
// name does not start with a number are ignored.
func readMigrations(fsys fs.FS) ([]Migration, error) {
	var migrations []Migration

	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, ".sql") {
			return nil
		}

		filename := path.Base(p)
		parts := strings.Split(filename, "_")
		if len(parts) < 2 {
			return nil
		}
		number, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil
		}

		sqlBytes, err := fs.ReadFile(fsys, p)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", filename, err)
		}

		migrations = append(migrations, Migration{
			Number: number,
			Name:   strings.TrimSuffix(strings.Join(parts[1:], "_"), ".sql"),
			SQL:    string(sqlBytes),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Number < migrations[j].Number
	})

	return migrations, nil
}

func (db *DB) createMigrationTable(ctx context.Context) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP DEFAULT NOW()
		)
	`)
	return err
}

func (db *DB) isMigrationApplied(ctx context.Context, number int) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM schema_migrations WHERE version = $1",
		number,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
