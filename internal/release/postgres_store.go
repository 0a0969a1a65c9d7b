package release

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists transfer records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the transfers table if it does not exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS transfers (
			id                     TEXT PRIMARY KEY,
			job_id                 TEXT NOT NULL,
			role                   TEXT NOT NULL,
			destination_account_id TEXT NOT NULL,
			processor_transfer_id  TEXT NOT NULL,
			amount_cents           BIGINT NOT NULL,
			currency               TEXT NOT NULL,
			status                 TEXT NOT NULL,
			reversal_id            TEXT,
			created_at             TIMESTAMPTZ NOT NULL,
			reversed_at            TIMESTAMPTZ,
			UNIQUE (job_id, role)
		);
		CREATE INDEX IF NOT EXISTS idx_transfers_job ON transfers(job_id);
	`)
	return err
}

const transferColumns = `id, job_id, role, destination_account_id, processor_transfer_id,
		amount_cents, currency, status, reversal_id, created_at, reversed_at`

func (p *PostgresStore) Create(ctx context.Context, t *Transfer) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO transfers (`+transferColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.ID, t.JobID, t.Role, t.DestinationAccountID, t.ProcessorTransferID,
		t.AmountCents, t.Currency, string(t.Status), nullString(t.ReversalID),
		t.CreatedAt, t.ReversedAt,
	)
	return err
}

func (p *PostgresStore) ListByJob(ctx context.Context, jobID string) ([]*Transfer, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+transferColumns+` FROM transfers WHERE job_id = $1 ORDER BY created_at`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Transfer
	for rows.Next() {
		var t Transfer
		var status string
		var reversalID sql.NullString
		var reversedAt sql.NullTime
		if err := rows.Scan(&t.ID, &t.JobID, &t.Role, &t.DestinationAccountID,
			&t.ProcessorTransferID, &t.AmountCents, &t.Currency, &status,
			&reversalID, &t.CreatedAt, &reversedAt); err != nil {
			return nil, err
		}
		t.Status = TransferStatus(status)
		t.ReversalID = reversalID.String
		if reversedAt.Valid {
			at := reversedAt.Time
			t.ReversedAt = &at
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (p *PostgresStore) MarkReversed(ctx context.Context, id, reversalID string, at time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE transfers SET status = $1, reversal_id = $2, reversed_at = $3 WHERE id = $4`,
		string(TransferReversed), reversalID, at, id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTransferNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
