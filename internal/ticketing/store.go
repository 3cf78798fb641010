package ticketing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ms-orders/internal/models"

	"github.com/uptrace/bun"
)

var ErrNoCapacity = errors.New("no capacity left to confirm ticket sale")

// Store creates and voids the downstream state of ticket fulfillment:
// TicketOrder rows, their QR codes, and the sold counter.
type Store struct {
	Bun *bun.DB
}

func New(bunDB *bun.DB) *Store {
	return &Store{Bun: bunDB}
}

// GetTicketOrderByItem returns nil, nil when the item has not been fulfilled
// yet. The unique order_item_id column is the fulfillment existence check.
func (s *Store) GetTicketOrderByItem(ctx context.Context, orderItemID string) (*models.TicketOrder, error) {
	var to models.TicketOrder
	err := s.Bun.NewSelect().
		Model(&to).
		Where("order_item_id = ?", orderItemID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &to, nil
}

func (s *Store) GetTicketOrdersByOrder(ctx context.Context, orderID string) ([]models.TicketOrder, error) {
	var tos []models.TicketOrder
	err := s.Bun.NewSelect().
		Model(&tos).
		Where("order_id = ?", orderID).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return tos, nil
}

func (s *Store) GetCodesByTicketOrder(ctx context.Context, ticketOrderID string) ([]models.TicketQRCode, error) {
	var codes []models.TicketQRCode
	err := s.Bun.NewSelect().
		Model(&codes).
		Where("ticket_order_id = ?", ticketOrderID).
		Order("issued_at").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return codes, nil
}

// IssueTicketOrder writes the ticket order, its QR codes and the counter move
// in one transaction, so a crash cannot leave tickets issued without the sold
// counter reflecting them.
//
// The counter move prefers confirming the checkout-time reservation
// (reserved -> sold). When the reservation is gone, e.g. the hold expired
// before the payment event arrived, it falls back to selling directly from
// the open capacity; if that is gone too the whole issuance rolls back.
func (s *Store) IssueTicketOrder(ctx context.Context, to models.TicketOrder, codes []models.TicketQRCode) error {
	return s.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(&to).Exec(ctx); err != nil {
			return fmt.Errorf("insert ticket order: %w", err)
		}
		for i := range codes {
			if _, err := tx.NewInsert().Model(&codes[i]).Exec(ctx); err != nil {
				return fmt.Errorf("insert qr code: %w", err)
			}
		}

		res, err := tx.NewUpdate().
			Model((*models.TicketType)(nil)).
			Set("sold = sold + ?", to.Quantity).
			Set("reserved = reserved - ?", to.Quantity).
			Where("ticket_type_id = ?", to.TicketTypeID).
			Where("reserved >= ?", to.Quantity).
			Exec(ctx)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}

		res, err = tx.NewUpdate().
			Model((*models.TicketType)(nil)).
			Set("sold = sold + ?", to.Quantity).
			Where("ticket_type_id = ?", to.TicketTypeID).
			Where("capacity - sold - reserved >= ?", to.Quantity).
			Exec(ctx)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNoCapacity
		}
		return nil
	})
}

// VoidCodes marks every still-valid code of a ticket order as void. Used and
// already-void codes are left as they are, so the call is idempotent.
func (s *Store) VoidCodes(ctx context.Context, ticketOrderID string) (int, error) {
	res, err := s.Bun.NewUpdate().
		Model((*models.TicketQRCode)(nil)).
		Set("status = ?", models.QRVoid).
		Where("ticket_order_id = ?", ticketOrderID).
		Where("status = ?", models.QRValid).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
