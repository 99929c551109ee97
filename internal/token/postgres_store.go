package token

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists address tokens in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed token store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, t *AddressToken) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO address_tokens (
			id, address, purpose, policy_type, policy_ttl_seconds, policy_max_usage,
			status, usage_count, created_at, expires_at, expired_at, expiry_reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		t.ID, t.Address, string(t.Purpose),
		string(t.Policy.Type), int64(t.Policy.TTL/time.Second), t.Policy.MaxUsage,
		string(t.Status), t.UsageCount, t.CreatedAt,
		nullTime(t.ExpiresAt), nullTime(t.ExpiredAt), string(t.ExpiryReason),
	)
	return err
}

const tokenColumns = `id, address, purpose, policy_type, policy_ttl_seconds, policy_max_usage,
		       status, usage_count, created_at, expires_at, expired_at, expiry_reason`

func (p *PostgresStore) Get(ctx context.Context, id string) (*AddressToken, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+tokenColumns+` FROM address_tokens WHERE id = $1`, id)

	t, err := scanToken(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return t, err
}

func (p *PostgresStore) GetByAddress(ctx context.Context, address string) (*AddressToken, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+tokenColumns+` FROM address_tokens WHERE address = $1`, address)

	t, err := scanToken(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return t, err
}

func (p *PostgresStore) RecordUsage(ctx context.Context, id string, usageCount int) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE address_tokens SET usage_count = $1 WHERE id = $2`,
		usageCount, id,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkExpired flips an active token to expired. The WHERE clause on status
// makes concurrent expirers elect exactly one winner.
func (p *PostgresStore) MarkExpired(ctx context.Context, id string, reason ExpiryReason, at time.Time) (bool, error) {
	result, err := p.db.ExecContext(ctx, `
		UPDATE address_tokens
		SET status = 'expired', expired_at = $1, expiry_reason = $2
		WHERE id = $3 AND status = 'active'`,
		at, string(reason), id,
	)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (p *PostgresStore) ListExpiredBy(ctx context.Context, now time.Time, limit int) ([]*AddressToken, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+tokenColumns+`
		FROM address_tokens
		WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at <= $1
		ORDER BY expires_at ASC
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*AddressToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (p *PostgresStore) CountActive(ctx context.Context) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM address_tokens WHERE status = 'active'`,
	).Scan(&count)
	return count, err
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanToken(s scanner) (*AddressToken, error) {
	t := &AddressToken{}
	var (
		purpose      string
		policyType   string
		ttlSeconds   int64
		status       string
		expiresAt    sql.NullTime
		expiredAt    sql.NullTime
		expiryReason sql.NullString
	)

	err := s.Scan(
		&t.ID, &t.Address, &purpose, &policyType, &ttlSeconds, &t.Policy.MaxUsage,
		&status, &t.UsageCount, &t.CreatedAt, &expiresAt, &expiredAt, &expiryReason,
	)
	if err != nil {
		return nil, err
	}

	t.Purpose = Purpose(purpose)
	t.Policy.Type = PolicyType(policyType)
	t.Policy.TTL = time.Duration(ttlSeconds) * time.Second
	t.Status = Status(status)
	t.ExpiryReason = ExpiryReason(expiryReason.String)
	if expiresAt.Valid {
		t.ExpiresAt = &expiresAt.Time
	}
	if expiredAt.Valid {
		t.ExpiredAt = &expiredAt.Time
	}

	return t, nil
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
