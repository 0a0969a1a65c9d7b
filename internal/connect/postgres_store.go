package connect

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// PostgresStore persists payout accounts in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the payout_accounts table if it does not exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS payout_accounts (
			id                   TEXT PRIMARY KEY,
			provider_id          TEXT NOT NULL UNIQUE,
			processor_account_id TEXT NOT NULL UNIQUE,
			email                TEXT NOT NULL,
			display_name         TEXT,
			details_submitted    BOOLEAN NOT NULL DEFAULT FALSE,
			charges_enabled      BOOLEAN NOT NULL DEFAULT FALSE,
			payouts_enabled      BOOLEAN NOT NULL DEFAULT FALSE,
			requirements_due     TEXT[] NOT NULL DEFAULT '{}',
			created_at           TIMESTAMPTZ NOT NULL,
			updated_at           TIMESTAMPTZ NOT NULL
		);
	`)
	return err
}

const accountColumns = `id, provider_id, processor_account_id, email, display_name,
		details_submitted, charges_enabled, payouts_enabled, requirements_due,
		created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, a *Account) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO payout_accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, a.ProviderID, a.ProcessorAccountID, a.Email, nullString(a.DisplayName),
		a.DetailsSubmitted, a.ChargesEnabled, a.PayoutsEnabled,
		pq.Array(a.RequirementsDue), a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return ErrAccountExists
		}
		return err
	}
	return nil
}

func (p *PostgresStore) GetByProvider(ctx context.Context, providerID string) (*Account, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+` FROM payout_accounts WHERE provider_id = $1`, providerID)
	return scanAccount(row)
}

func (p *PostgresStore) GetByProcessorID(ctx context.Context, processorAccountID string) (*Account, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+` FROM payout_accounts WHERE processor_account_id = $1`, processorAccountID)
	return scanAccount(row)
}

func (p *PostgresStore) Update(ctx context.Context, a *Account) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE payout_accounts SET
			email = $1, display_name = $2, details_submitted = $3,
			charges_enabled = $4, payouts_enabled = $5, requirements_due = $6,
			updated_at = $7
		WHERE provider_id = $8`,
		a.Email, nullString(a.DisplayName), a.DetailsSubmitted,
		a.ChargesEnabled, a.PayoutsEnabled, pq.Array(a.RequirementsDue),
		a.UpdatedAt, a.ProviderID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func scanAccount(row *sql.Row) (*Account, error) {
	var a Account
	var displayName sql.NullString
	var due pq.StringArray
	err := row.Scan(
		&a.ID, &a.ProviderID, &a.ProcessorAccountID, &a.Email, &displayName,
		&a.DetailsSubmitted, &a.ChargesEnabled, &a.PayoutsEnabled, &due,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	a.DisplayName = displayName.String
	a.RequirementsDue = []string(due)
	return &a, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
