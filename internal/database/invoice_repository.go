package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrInvoiceNotFound is returned when an invoice is not found in the database.
var ErrInvoiceNotFound = errors.New("invoice not found")

// InvoiceRepository handles all database operations for Lightning invoices.
type InvoiceRepository struct {
	db *pgxpool.Pool
}

// NewInvoiceRepository creates a new invoice repository instance.
func NewInvoiceRepository(db *DB) *InvoiceRepository {
	return &InvoiceRepository{db: db.pool}
}

// Create inserts a new invoice row. It runs on the connection pool, not
// inside a caller's transaction, so the row commits on its own, separately
// from the session or deposit it pays for.
func (r *InvoiceRepository) Create(ctx context.Context, inv *Invoice) error {
	query := `INSERT INTO invoices (payment_hash, bolt11, amount_sats, purpose, related_id, status, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.Exec(ctx, query,
		inv.PaymentHash, inv.Bolt11, inv.AmountSats, inv.Purpose, inv.RelatedID, inv.Status, inv.ExpiresAt, inv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create invoice: %w", err)
	}
	return nil
}

// GetByPaymentHash retrieves an invoice by payment hash.
func (r *InvoiceRepository) GetByPaymentHash(ctx context.Context, paymentHash string) (*Invoice, error) {
	query := `SELECT payment_hash, bolt11, amount_sats, purpose, related_id, status, expires_at, created_at, settled_at
		FROM invoices WHERE payment_hash = $1`

	var inv Invoice
	var purposeStr, statusStr string

	err := r.db.QueryRow(ctx, query, paymentHash).Scan(
		&inv.PaymentHash, &inv.Bolt11, &inv.AmountSats, &purposeStr, &inv.RelatedID, &statusStr,
		&inv.ExpiresAt, &inv.CreatedAt, &inv.SettledAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}

	purpose, err := ParseInvoicePurpose(purposeStr)
	if err != nil {
		return nil, err
	}
	inv.Purpose = purpose

	status, err := ParseInvoiceStatus(statusStr)
	if err != nil {
		return nil, err
	}
	inv.Status = status

	return &inv, nil
}

// MarkPaid settles an invoice, guarded so it can be called repeatedly
// (the Scheduler's poll loop and a push-triggered check can race) without
// double-applying settlement: the second call simply affects zero rows.
func (r *InvoiceRepository) MarkPaid(ctx context.Context, paymentHash string, settledAt time.Time) (bool, error) {
	query := `UPDATE invoices SET status = 'paid', settled_at = $2
		WHERE payment_hash = $1 AND status = 'pending'`

	tag, err := r.db.Exec(ctx, query, paymentHash, settledAt)
	if err != nil {
		return false, fmt.Errorf("failed to mark invoice paid: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkExpired marks a pending invoice expired.
func (r *InvoiceRepository) MarkExpired(ctx context.Context, paymentHash string) error {
	_, err := r.db.Exec(ctx, `UPDATE invoices SET status = 'expired' WHERE payment_hash = $1 AND status = 'pending'`, paymentHash)
	if err != nil {
		return fmt.Errorf("failed to mark invoice expired: %w", err)
	}
	return nil
}

// ListPendingByPurpose returns every pending invoice of one purpose
// (deposit or session), for the Scheduler's invoice poll loop.
func (r *InvoiceRepository) ListPendingByPurpose(ctx context.Context, purpose InvoicePurpose) ([]*Invoice, error) {
	query := `SELECT payment_hash, bolt11, amount_sats, purpose, related_id, status, expires_at, created_at, settled_at
		FROM invoices WHERE purpose = $1 AND status = 'pending'`

	rows, err := r.db.Query(ctx, query, purpose)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending invoices: %w", err)
	}
	defer rows.Close()

	var invoices []*Invoice
	for rows.Next() {
		var inv Invoice
		var purposeStr, statusStr string
		if err := rows.Scan(
			&inv.PaymentHash, &inv.Bolt11, &inv.AmountSats, &purposeStr, &inv.RelatedID, &statusStr,
			&inv.ExpiresAt, &inv.CreatedAt, &inv.SettledAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan invoice row: %w", err)
		}

		p, err := ParseInvoicePurpose(purposeStr)
		if err != nil {
			return nil, err
		}
		inv.Purpose = p

		s, err := ParseInvoiceStatus(statusStr)
		if err != nil {
			return nil, err
		}
		inv.Status = s

		invoices = append(invoices, &inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return invoices, nil
}
