package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"ms-orders/internal/models"

	"github.com/uptrace/bun"
)

var ErrOrderNotFound = errors.New("order not found")

// DB is the authoritative store of orders and order items. Status transitions
// are conditional updates that only move forward, so duplicated or reordered
// webhook deliveries cannot move an order backwards.
type DB struct {
	Bun *bun.DB
}

func New(bunDB *bun.DB) *DB {
	return &DB{Bun: bunDB}
}

// CreateOrderWithItems inserts the order and all of its items in one
// transaction. Orders are created pending and never deleted.
func (d *DB) CreateOrderWithItems(ctx context.Context, order models.Order, items []models.OrderItem) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(&order).Exec(ctx); err != nil {
			return err
		}
		for i := range items {
			if _, err := tx.NewInsert().Model(&items[i]).Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *DB) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := d.Bun.NewSelect().
		Model(&order).
		Where("order_id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByProviderRef resolves an order from the provider's transaction id.
// Refund events do not always carry the order id in metadata.
func (d *DB) GetOrderByProviderRef(ctx context.Context, providerRef string) (*models.Order, error) {
	var order models.Order
	err := d.Bun.NewSelect().
		Model(&order).
		Where("provider_ref = ?", providerRef).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (d *DB) GetItemsByOrder(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := d.Bun.NewSelect().
		Model(&items).
		Where("order_id = ?", orderID).
		Order("order_item_id").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (d *DB) GetOrderWithItems(ctx context.Context, id string) (*models.OrderWithItems, error) {
	order, err := d.GetOrderByID(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := d.GetItemsByOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.OrderWithItems{Order: *order, Items: items}, nil
}

func (d *DB) GetOrdersByBuyer(ctx context.Context, buyerID string) ([]models.Order, error) {
	var orders []models.Order
	err := d.Bun.NewSelect().
		Model(&orders).
		Where("buyer_id = ?", buyerID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// SetProviderSession stores the hosted checkout session reference once the
// provider accepted the session request.
func (d *DB) SetProviderSession(ctx context.Context, orderID, sessionID, sessionURL string) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("provider_session_id = ?", sessionID).
		Set("session_url = ?", sessionURL).
		Where("order_id = ?", orderID).
		Exec(ctx)
	return err
}

// MarkPaid transitions pending -> paid. Returns false when the order was not
// pending, which covers both duplicate deliveries and out-of-order events.
func (d *DB) MarkPaid(ctx context.Context, orderID, providerRef string, paidAt time.Time) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("status = ?", models.OrderPaid).
		Set("provider_ref = ?", providerRef).
		Set("paid_at = ?", paidAt).
		Where("order_id = ? AND status = ?", orderID, models.OrderPending).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	return rowsAffected(res), nil
}

// MarkFailed transitions pending -> failed. A paid order is left untouched,
// the paid state wins over a late failure event.
func (d *DB) MarkFailed(ctx context.Context, orderID string) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("status = ?", models.OrderFailed).
		Where("order_id = ? AND status = ?", orderID, models.OrderPending).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	return rowsAffected(res), nil
}

// MarkRefunded transitions paid -> refunded.
func (d *DB) MarkRefunded(ctx context.Context, orderID string) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("status = ?", models.OrderRefunded).
		Where("order_id = ? AND status = ?", orderID, models.OrderPaid).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	return rowsAffected(res), nil
}

// InsertWebhookEvent records a provider event id. Returns false when the id
// was already recorded, i.e. this delivery is a duplicate.
func (d *DB) InsertWebhookEvent(ctx context.Context, ev models.WebhookEvent) (bool, error) {
	res, err := d.Bun.NewInsert().
		Model(&ev).
		On("CONFLICT (event_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	return rowsAffected(res), nil
}

// DeleteWebhookEvent removes an event record so the provider's redelivery is
// processed again. Used when handling failed midway.
func (d *DB) DeleteWebhookEvent(ctx context.Context, eventID string) error {
	_, err := d.Bun.NewDelete().
		Model((*models.WebhookEvent)(nil)).
		Where("event_id = ?", eventID).
		Exec(ctx)
	return err
}

func rowsAffected(res sql.Result) bool {
	n, err := res.RowsAffected()
	return err == nil && n > 0
}
