package job

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists job data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed job store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the jobs table if it does not exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS jobs (
			id                 TEXT PRIMARY KEY,
			customer_id        TEXT NOT NULL,
			provider_id        TEXT,
			service_type       TEXT NOT NULL,
			description        TEXT,
			location           TEXT,
			service_fee_cents  BIGINT NOT NULL,
			platform_fee_cents BIGINT NOT NULL,
			currency           TEXT NOT NULL,
			status             TEXT NOT NULL,
			intent_id          TEXT,
			confirm_by         TIMESTAMPTZ,
			completed_at       TIMESTAMPTZ,
			completed_by       TEXT,
			cancel_reason      TEXT,
			created_at         TIMESTAMPTZ NOT NULL,
			updated_at         TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_jobs_customer ON jobs(customer_id);
		CREATE INDEX IF NOT EXISTS idx_jobs_provider ON jobs(provider_id);
		CREATE INDEX IF NOT EXISTS idx_jobs_status_confirm_by ON jobs(status, confirm_by);
	`)
	return err
}

const jobColumns = `id, customer_id, provider_id, service_type, description, location,
		service_fee_cents, platform_fee_cents, currency, status, intent_id,
		confirm_by, completed_at, completed_by, cancel_reason, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, j *Job) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		j.ID, j.CustomerID, nullString(j.ProviderID), j.ServiceType,
		nullString(j.Description), nullString(j.Location),
		j.ServiceFeeCents, j.PlatformFeeCents, j.Currency, string(j.Status),
		nullString(j.IntentID), nullTime(j.ConfirmBy), nullTime(j.CompletedAt),
		nullString(j.CompletedBy), nullString(j.CancelReason),
		j.CreatedAt, j.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Job, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)

	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	return j, err
}

// Update persists j only if the stored status still equals expect.
func (p *PostgresStore) Update(ctx context.Context, j *Job, expect Status) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE jobs SET
			provider_id = $1, status = $2, intent_id = $3, confirm_by = $4,
			completed_at = $5, completed_by = $6, cancel_reason = $7, updated_at = $8
		WHERE id = $9 AND status = $10`,
		nullString(j.ProviderID), string(j.Status), nullString(j.IntentID),
		nullTime(j.ConfirmBy), nullTime(j.CompletedAt), nullString(j.CompletedBy),
		nullString(j.CancelReason), j.UpdatedAt,
		j.ID, string(expect),
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Distinguish a missing job from a concurrent status change.
		if _, getErr := p.Get(ctx, j.ID); getErr != nil {
			return getErr
		}
		return ErrStatusConflict
	}
	return nil
}

// Claim is the first-claim-wins conditional update: the row moves to
// in_progress only if it is still pending.
func (p *PostgresStore) Claim(ctx context.Context, id, providerID string, now time.Time) (*Job, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE jobs
		SET status = $1, provider_id = $2, updated_at = $3
		WHERE id = $4 AND status = $5
		RETURNING `+jobColumns,
		string(StatusInProgress), providerID, now, id, string(StatusPending),
	)

	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		if _, getErr := p.Get(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrJobAlreadyClaimed
	}
	return j, err
}

func (p *PostgresStore) ListByCustomer(ctx context.Context, customerID string, limit int) ([]*Job, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE customer_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, customerID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanJobs(rows)
}

func (p *PostgresStore) ListByProvider(ctx context.Context, providerID string, limit int) ([]*Job, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE provider_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, providerID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanJobs(rows)
}

func (p *PostgresStore) ListConfirmationDue(ctx context.Context, before time.Time, limit int) ([]*Job, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = $1 AND confirm_by < $2
		LIMIT $3`, string(StatusPendingConfirmation), before, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanJobs(rows)
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(s scanner) (*Job, error) {
	j := &Job{}
	var (
		providerID   sql.NullString
		description  sql.NullString
		location     sql.NullString
		status       string
		intentID     sql.NullString
		confirmBy    sql.NullTime
		completedAt  sql.NullTime
		completedBy  sql.NullString
		cancelReason sql.NullString
	)

	err := s.Scan(
		&j.ID, &j.CustomerID, &providerID, &j.ServiceType, &description, &location,
		&j.ServiceFeeCents, &j.PlatformFeeCents, &j.Currency, &status, &intentID,
		&confirmBy, &completedAt, &completedBy, &cancelReason,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Status = Status(status)
	j.ProviderID = providerID.String
	j.Description = description.String
	j.Location = location.String
	j.IntentID = intentID.String
	j.CompletedBy = completedBy.String
	j.CancelReason = cancelReason.String
	if confirmBy.Valid {
		j.ConfirmBy = &confirmBy.Time
	}
	if completedAt.Valid {
		j.CompletedAt = &completedAt.Time
	}

	return j, nil
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	var result []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, j)
	}
	return result, rows.Err()
}

// nullString converts an empty Go string to sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullTime converts a *time.Time to sql.NullTime.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
