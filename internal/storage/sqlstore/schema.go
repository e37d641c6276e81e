package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
)

const currentSchemaVersion = 2

// Initialize creates all tables if they don't exist and sets the schema version.
func Initialize(ctx context.Context, s *Store) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range s.dialect.schema {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("creating schema: %w", err)
			}
		}
		// Set schema version only if not already set.
		_, err := tx.ExecContext(ctx,
			s.dialect.insertIgnore+` INTO meta (meta_key, meta_value) VALUES ('schema_version', ?)`,
			strconv.Itoa(currentSchemaVersion),
		)
		if err != nil {
			return fmt.Errorf("setting schema version: %w", err)
		}
		return nil
	})
}

// SchemaVersion returns the current schema version from the meta table.
func SchemaVersion(ctx context.Context, s *Store) (int, error) {
	var val string
	err := s.queryRowContext(ctx, func(row *sql.Row) error {
		return row.Scan(&val)
	}, `SELECT meta_value FROM meta WHERE meta_key = 'schema_version'`)
	if err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	v, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("parsing schema version %q: %w", val, err)
	}
	return v, nil
}

// Migrate applies pending migrations sequentially. It is a no-op when the
// schema is already at the latest version.
func Migrate(ctx context.Context, s *Store) error {
	version, err := SchemaVersion(ctx, s)
	if err != nil {
		return err
	}
	for v := version + 1; v <= currentSchemaVersion; v++ {
		stmt, ok := s.dialect.migrations[v]
		if !ok {
			return fmt.Errorf("missing migration for version %d", v)
		}
		err := s.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("applying migration %d: %w", v, err)
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE meta SET meta_value = ? WHERE meta_key = 'schema_version'`,
				strconv.Itoa(v),
			); err != nil {
				return fmt.Errorf("updating schema version to %d: %w", v, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
