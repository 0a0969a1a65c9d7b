package alerts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// PostgresStore persists alerts in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the alerts table if it does not exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS alerts (
			id           TEXT PRIMARY KEY,
			kind         TEXT NOT NULL,
			severity     TEXT NOT NULL,
			message      TEXT NOT NULL,
			job_id       TEXT,
			details      JSONB,
			acknowledged BOOLEAN NOT NULL DEFAULT FALSE,
			acked_by     TEXT,
			acked_at     TIMESTAMPTZ,
			created_at   TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_alerts_open ON alerts(created_at DESC) WHERE NOT acknowledged;
	`)
	return err
}

func (p *PostgresStore) Create(ctx context.Context, a *Alert) error {
	var details []byte
	if len(a.Details) > 0 {
		var err error
		details, err = json.Marshal(a.Details)
		if err != nil {
			return err
		}
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO alerts (id, kind, severity, message, job_id, details, acknowledged, acked_by, acked_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.Kind, string(a.Severity), a.Message, nullString(a.JobID),
		details, a.Acknowledged, nullString(a.AckedBy), a.AckedAt, a.CreatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Alert, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, kind, severity, message, job_id, details, acknowledged, acked_by, acked_at, created_at
		FROM alerts WHERE id = $1`, id)
	return scanAlert(row)
}

func (p *PostgresStore) List(ctx context.Context, unackedOnly bool, limit int) ([]*Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, kind, severity, message, job_id, details, acknowledged, acked_by, acked_at, created_at
		FROM alerts`
	if unackedOnly {
		query += ` WHERE NOT acknowledged`
	}
	query += ` ORDER BY created_at DESC LIMIT $1`

	rows, err := p.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Ack(ctx context.Context, id, ackedBy string, at time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE alerts SET acknowledged = TRUE, acked_by = $1, acked_at = $2 WHERE id = $3`,
		ackedBy, at, id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAlertNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAlert(row scanner) (*Alert, error) {
	var a Alert
	var severity string
	var jobID, ackedBy sql.NullString
	var details []byte
	var ackedAt sql.NullTime
	err := row.Scan(&a.ID, &a.Kind, &severity, &a.Message, &jobID, &details,
		&a.Acknowledged, &ackedBy, &ackedAt, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAlertNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Severity = Severity(severity)
	a.JobID = jobID.String
	a.AckedBy = ackedBy.String
	if ackedAt.Valid {
		t := ackedAt.Time
		a.AckedAt = &t
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &a.Details); err != nil {
			return nil, err
		}
	}
	return &a, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
