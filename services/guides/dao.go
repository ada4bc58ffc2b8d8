package guides

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

// ErrNoGuideExists is returned when a guide does not exist.
var ErrNoGuideExists = errors.New("no guide exists")

// Guide is a troubleshooting document attached to a rule name.
type Guide struct {
	RuleName  string    `json:"alertType"`
	Content   string    `json:"content"`
	UpdatedBy string    `json:"updatedBy,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type DAO interface {
	Get(ctx context.Context, ruleName string) (Guide, error)
	All(ctx context.Context) ([]Guide, error)
	Put(ctx context.Context, g Guide) error
}

type guideSQL struct {
	db *sql.DB
}

func newGuideSQL(db *sql.DB) *guideSQL {
	return &guideSQL{db: db}
}

func (d *guideSQL) ensureTable(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS troubleshooting_guides (
			rule_name text PRIMARY KEY,
			content text NOT NULL,
			updated_by text NOT NULL DEFAULT '',
			updated_at timestamptz NOT NULL DEFAULT now()
		)`)
	return errors.Wrap(err, "create troubleshooting_guides table")
}

func (d *guideSQL) Get(ctx context.Context, ruleName string) (Guide, error) {
	var g Guide
	err := d.db.QueryRowContext(ctx, `
		SELECT rule_name, content, updated_by, updated_at
		FROM troubleshooting_guides WHERE rule_name = $1`, ruleName).
		Scan(&g.RuleName, &g.Content, &g.UpdatedBy, &g.UpdatedAt)
	if err == sql.ErrNoRows {
		return Guide{}, ErrNoGuideExists
	}
	if err != nil {
		return Guide{}, errors.Wrap(err, "get guide")
	}
	return g, nil
}

func (d *guideSQL) All(ctx context.Context) ([]Guide, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT rule_name, content, updated_by, updated_at
		FROM troubleshooting_guides ORDER BY rule_name`)
	if err != nil {
		return nil, errors.Wrap(err, "list guides")
	}
	defer rows.Close()

	var out []Guide
	for rows.Next() {
		var g Guide
		if err := rows.Scan(&g.RuleName, &g.Content, &g.UpdatedBy, &g.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "scan guide")
		}
		out = append(out, g)
	}
	return out, errors.Wrap(rows.Err(), "list guides")
}

func (d *guideSQL) Put(ctx context.Context, g Guide) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO troubleshooting_guides (rule_name, content, updated_by, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (rule_name) DO UPDATE
		SET content = EXCLUDED.content, updated_by = EXCLUDED.updated_by, updated_at = now()`,
		g.RuleName, g.Content, g.UpdatedBy)
	return errors.Wrap(err, "put guide")
}
