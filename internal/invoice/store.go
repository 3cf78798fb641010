package invoice

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ms-orders/internal/models"

	"github.com/uptrace/bun"
)

var ErrInvoiceNotFound = errors.New("invoice not found")

type Store struct {
	Bun *bun.DB
}

func NewStore(bunDB *bun.DB) *Store {
	return &Store{Bun: bunDB}
}

func (s *Store) GetByID(ctx context.Context, invoiceID string) (*models.Invoice, error) {
	var inv models.Invoice
	err := s.Bun.NewSelect().
		Model(&inv).
		Where("invoice_id = ?", invoiceID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvoiceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *Store) GetByOrderID(ctx context.Context, orderID string) (*models.Invoice, error) {
	var inv models.Invoice
	err := s.Bun.NewSelect().
		Model(&inv).
		Where("order_id = ?", orderID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvoiceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// CreateWithSequence allocates the next number of the invoice's year and
// inserts the invoice in the same transaction. The allocation is an atomic
// upsert, so concurrent invoicing cannot hand out the same number, and a
// failed insert rolls the allocation back, so the numbering stays gapless.
func (s *Store) CreateWithSequence(ctx context.Context, inv *models.Invoice) error {
	return s.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		seq := models.InvoiceSequence{Year: inv.Year, LastValue: 1}
		err := tx.NewInsert().
			Model(&seq).
			On("CONFLICT (year) DO UPDATE").
			Set("last_value = ?TableName.last_value + 1").
			Returning("last_value").
			Scan(ctx, &seq.LastValue)
		if err != nil {
			return fmt.Errorf("allocate invoice sequence: %w", err)
		}

		inv.Seq = seq.LastValue
		inv.Number = models.InvoiceNumber(inv.Year, inv.Seq)

		if _, err := tx.NewInsert().Model(inv).Exec(ctx); err != nil {
			return fmt.Errorf("insert invoice: %w", err)
		}
		return nil
	})
}

// SetPDFURL backfills the rendered document's location. The invoice itself
// is immutable; only this column is ever updated.
func (s *Store) SetPDFURL(ctx context.Context, invoiceID, url string) error {
	_, err := s.Bun.NewUpdate().
		Model((*models.Invoice)(nil)).
		Set("pdf_url = ?", url).
		Where("invoice_id = ?", invoiceID).
		Exec(ctx)
	return err
}
