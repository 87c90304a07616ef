package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"neuromate-client/internal/db"
)

// DatabaseStore keeps scoped values in PostgreSQL (client_session_values).
type DatabaseStore struct {
	db *db.DB
}

// NewDatabaseStore creates a new database store. The schema is expected to be
// migrated already (db.Migrate).
func NewDatabaseStore(database *db.DB) *DatabaseStore {
	return &DatabaseStore{db: database}
}

func (ds *DatabaseStore) Save(ctx context.Context, scope, key, value string) error {
	if err := validate(scope, key); err != nil {
		return err
	}

	query := `
		INSERT INTO client_session_values (scope, key, value, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (scope, key)
		DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = NOW()
	`
	if _, err := ds.db.ExecContext(ctx, query, scope, key, value); err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}

func (ds *DatabaseStore) Load(ctx context.Context, scope, key string) (string, bool, error) {
	if err := validate(scope, key); err != nil {
		return "", false, err
	}

	var value string
	err := ds.db.QueryRowContext(ctx,
		`SELECT value FROM client_session_values WHERE scope = $1 AND key = $2`,
		scope, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to load %s: %w", key, err)
	}
	return value, true, nil
}
