package scheduler

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists scheduled payments and batches in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed scheduler store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) CreatePayment(ctx context.Context, sp *ScheduledPayment) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO scheduled_payments (
			id, address, amount_sats, policy, status, scheduled_for,
			batch_id, retry_count, tx_id, created_at, executed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		sp.ID, sp.Address, sp.Amount, string(sp.Policy), string(sp.Status), sp.ScheduledFor,
		nullString(sp.BatchID), sp.RetryCount, nullString(sp.TxID), sp.CreatedAt, nullTime(sp.ExecutedAt),
	)
	return err
}

const paymentColumns = `id, address, amount_sats, policy, status, scheduled_for,
		       batch_id, retry_count, tx_id, created_at, executed_at`

func (p *PostgresStore) GetPayment(ctx context.Context, id string) (*ScheduledPayment, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM scheduled_payments WHERE id = $1`, id)

	sp, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return sp, err
}

func (p *PostgresStore) UpdatePayment(ctx context.Context, sp *ScheduledPayment) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE scheduled_payments SET
			status = $1, scheduled_for = $2, batch_id = $3,
			retry_count = $4, tx_id = $5, executed_at = $6
		WHERE id = $7`,
		string(sp.Status), sp.ScheduledFor, nullString(sp.BatchID),
		sp.RetryCount, nullString(sp.TxID), nullTime(sp.ExecutedAt), sp.ID,
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

// ListQueued returns queued payments in insertion order, regardless of
// their scheduled time.
func (p *PostgresStore) ListQueued(ctx context.Context, limit int) ([]*ScheduledPayment, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM scheduled_payments
		WHERE status = 'queued'
		ORDER BY created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanPayments(rows)
}

// ClaimForBatch stamps queued payments with the batch ID. The status guard
// in the WHERE clause makes the claim atomic: a payment already grabbed by a
// concurrent batcher is silently skipped.
func (p *PostgresStore) ClaimForBatch(ctx context.Context, paymentIDs []string, batchID string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		UPDATE scheduled_payments
		SET status = 'processing', batch_id = $1
		WHERE id = ANY($2) AND status = 'queued'
		RETURNING id`,
		batchID, pq.Array(paymentIDs))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var claimed []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		claimed = append(claimed, id)
	}
	return claimed, rows.Err()
}

func (p *PostgresStore) CreateBatch(ctx context.Context, b *PaymentBatch) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO payment_batches (id, payment_ids, window_start, window_end, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		b.ID, pq.Array(b.PaymentIDs), b.Window.Start, b.Window.End, string(b.Status), b.CreatedAt,
	)
	return err
}

func (p *PostgresStore) GetBatch(ctx context.Context, id string) (*PaymentBatch, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, payment_ids, window_start, window_end, status, created_at
		FROM payment_batches WHERE id = $1`, id)

	b, err := scanBatch(row)
	if err == sql.ErrNoRows {
		return nil, ErrBatchNotFound
	}
	return b, err
}

func (p *PostgresStore) UpdateBatch(ctx context.Context, b *PaymentBatch) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE payment_batches SET status = $1 WHERE id = $2`,
		string(b.Status), b.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrBatchNotFound
	}
	return nil
}

func (p *PostgresStore) ListBatchesByStatus(ctx context.Context, status BatchStatus, limit int) ([]*PaymentBatch, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, payment_ids, window_start, window_end, status, created_at
		FROM payment_batches
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*PaymentBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPayment(s scanner) (*ScheduledPayment, error) {
	sp := &ScheduledPayment{}
	var (
		policy     string
		status     string
		batchID    sql.NullString
		txID       sql.NullString
		executedAt sql.NullTime
	)

	err := s.Scan(
		&sp.ID, &sp.Address, &sp.Amount, &policy, &status, &sp.ScheduledFor,
		&batchID, &sp.RetryCount, &txID, &sp.CreatedAt, &executedAt,
	)
	if err != nil {
		return nil, err
	}

	sp.Policy = PolicyType(policy)
	sp.Status = PaymentStatus(status)
	sp.BatchID = batchID.String
	sp.TxID = txID.String
	if executedAt.Valid {
		sp.ExecutedAt = &executedAt.Time
	}

	return sp, nil
}

func scanPayments(rows *sql.Rows) ([]*ScheduledPayment, error) {
	var result []*ScheduledPayment
	for rows.Next() {
		sp, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sp)
	}
	return result, rows.Err()
}

func scanBatch(s scanner) (*PaymentBatch, error) {
	b := &PaymentBatch{}
	var (
		status                 string
		windowStart, windowEnd time.Time
	)
	if err := s.Scan(&b.ID, pq.Array(&b.PaymentIDs), &windowStart, &windowEnd, &status, &b.CreatedAt); err != nil {
		return nil, err
	}
	b.Window = NewTimeWindow(windowStart, windowEnd)
	b.Status = BatchStatus(status)
	return b, nil
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
