package rules

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

// ConfigDAO persists the rule config as a singleton JSONB row.
type ConfigDAO interface {
	// Load returns the persisted raw config, or nil when none exists.
	Load(ctx context.Context) ([]byte, error)
	// Save replaces the persisted config.
	Save(ctx context.Context, raw []byte) error
}

type configSQL struct {
	db *sql.DB
}

func newConfigSQL(db *sql.DB) *configSQL {
	return &configSQL{db: db}
}

func (d *configSQL) ensureTable(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS alerts_config (
			id smallint PRIMARY KEY DEFAULT 1 CHECK (id = 1),
			config jsonb NOT NULL,
			updated_at timestamptz NOT NULL DEFAULT now()
		)`)
	return errors.Wrap(err, "create alerts_config table")
}

func (d *configSQL) Load(ctx context.Context) ([]byte, error) {
	var raw []byte
	err := d.db.QueryRowContext(ctx, `SELECT config FROM alerts_config WHERE id = 1`).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "load persisted config")
	}
	return raw, nil
}

func (d *configSQL) Save(ctx context.Context, raw []byte) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO alerts_config (id, config, updated_at) VALUES (1, $1, now())
		ON CONFLICT (id) DO UPDATE SET config = EXCLUDED.config, updated_at = now()`,
		raw)
	return errors.Wrap(err, "save persisted config")
}
