package pool

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore persists the reserve and its obligations in PostgreSQL.
// Reserve mutations are version-guarded so two processes sharing the database
// cannot both commit from the same snapshot.
type PostgresStore struct {
	db       *sql.DB
	currency string
}

// NewPostgresStore creates a PostgreSQL-backed pool store for one currency.
func NewPostgresStore(db *sql.DB, currency string) *PostgresStore {
	return &PostgresStore{db: db, currency: currency}
}

// EnsureReserve seeds the reserve row if it does not exist yet. Existing rows
// are left untouched so restarts never reset the ledger.
func (p *PostgresStore) EnsureReserve(ctx context.Context, initial Reserve) error {
	if initial.Version == 0 {
		initial.Version = 1
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO pool_reserves (currency, total_sats, available_sats, reserved_sats, version, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (currency) DO NOTHING`,
		p.currency, initial.TotalAmount, initial.AvailableAmount, initial.ReservedAmount, initial.Version,
	)
	return err
}

func (p *PostgresStore) GetReserve(ctx context.Context) (Reserve, error) {
	var r Reserve
	err := p.db.QueryRowContext(ctx, `
		SELECT total_sats, available_sats, reserved_sats, currency, version
		FROM pool_reserves
		WHERE currency = $1`, p.currency,
	).Scan(&r.TotalAmount, &r.AvailableAmount, &r.ReservedAmount, &r.Currency, &r.Version)
	if err == sql.ErrNoRows {
		return Reserve{}, fmt.Errorf("reserve row missing for %s: %w", p.currency, err)
	}
	return r, err
}

func (p *PostgresStore) ApplyReservation(ctx context.Context, r Reserve, ob *Obligation) error {
	return p.withTx(ctx, func(tx *sql.Tx) error {
		if err := p.updateReserve(ctx, tx, r); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO pool_obligations (id, amount_sats, status, created_at, resolved_at)
			VALUES ($1, $2, $3, $4, $5)`,
			ob.ID, ob.Amount, string(ob.Status), ob.CreatedAt, nullTime(ob.ResolvedAt),
		)
		return err
	})
}

func (p *PostgresStore) ApplyRelease(ctx context.Context, r Reserve, ob *Obligation) error {
	return p.withTx(ctx, func(tx *sql.Tx) error {
		if err := p.updateReserve(ctx, tx, r); err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, `
			UPDATE pool_obligations
			SET status = $1, resolved_at = $2
			WHERE id = $3`,
			string(ob.Status), nullTime(ob.ResolvedAt), ob.ID,
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
	})
}

// updateReserve commits a reserve snapshot only if the stored version is the
// snapshot's direct predecessor.
func (p *PostgresStore) updateReserve(ctx context.Context, tx *sql.Tx, r Reserve) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE pool_reserves
		SET total_sats = $1, available_sats = $2, reserved_sats = $3, version = $4, updated_at = NOW()
		WHERE currency = $5 AND version = $6`,
		r.TotalAmount, r.AvailableAmount, r.ReservedAmount, r.Version, p.currency, r.Version-1,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (p *PostgresStore) FindObligation(ctx context.Context, id string) (*Obligation, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, amount_sats, status, created_at, resolved_at
		FROM pool_obligations
		WHERE id = $1`, id)

	ob, err := scanObligation(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return ob, err
}

func (p *PostgresStore) CountPending(ctx context.Context) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM pool_obligations WHERE status = 'pending'`,
	).Scan(&count)
	return count, err
}

func (p *PostgresStore) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Obligation, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, amount_sats, status, created_at, resolved_at
		FROM pool_obligations
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Obligation
	for rows.Next() {
		ob, err := scanObligation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, ob)
	}
	return result, rows.Err()
}

func (p *PostgresStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanObligation(s scanner) (*Obligation, error) {
	ob := &Obligation{}
	var (
		status     string
		resolvedAt sql.NullTime
	)
	if err := s.Scan(&ob.ID, &ob.Amount, &status, &ob.CreatedAt, &resolvedAt); err != nil {
		return nil, err
	}
	ob.Status = ObligationStatus(status)
	if resolvedAt.Valid {
		ob.ResolvedAt = &resolvedAt.Time
	}
	return ob, nil
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
