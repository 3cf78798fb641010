package ledger

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"ms-orders/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:?cache=shared")
	require.NoError(t, err)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	ctx := context.Background()
	require.NoError(t, bunDB.ResetModel(ctx, (*models.Order)(nil)))
	require.NoError(t, bunDB.ResetModel(ctx, (*models.OrderItem)(nil)))
	require.NoError(t, bunDB.ResetModel(ctx, (*models.WebhookEvent)(nil)))

	t.Cleanup(func() { bunDB.Close() })
	return New(bunDB)
}

func sampleOrder(id string) models.Order {
	return models.Order{
		OrderID:   id,
		BuyerID:   "buyer-1",
		Subtotal:  1000,
		Tax:       200,
		Total:     1200,
		Currency:  "eur",
		Status:    models.OrderPending,
		Provider:  "stripe",
		CreatedAt: time.Now().UTC().Round(time.Second),
	}
}

func TestCreateOrderWithItemsAndGet(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	meta, err := models.EncodeMeta(models.ListingPlanMeta{PlanID: "plan-1", PlanName: "Featured 15", DurationDays: 15})
	require.NoError(t, err)

	order := sampleOrder("order-1")
	items := []models.OrderItem{{
		OrderItemID: "item-1",
		Type:        models.ItemListingPlan,
		TargetID:    "listing-1",
		Quantity:    1,
		UnitPrice:   1000,
		Total:       1000,
		Meta:        meta,
	}}

	require.NoError(t, db.CreateOrderWithItems(ctx, order, items))

	got, err := db.GetOrderWithItems(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, got.Status)
	assert.Equal(t, int64(1200), got.Total)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "order-1", got.Items[0].OrderID)

	planMeta, err := got.Items[0].ListingPlanMeta()
	require.NoError(t, err)
	assert.Equal(t, 15, planMeta.DurationDays)
}

func TestGetOrderNotFound(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.GetOrderByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestMarkPaidOnlyOnce(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.CreateOrderWithItems(ctx, sampleOrder("order-1"), nil))

	paidAt := time.Now().UTC().Round(time.Second)
	moved, err := db.MarkPaid(ctx, "order-1", "pi_123", paidAt)
	require.NoError(t, err)
	assert.True(t, moved)

	// Second delivery of the same payment event is a no-op.
	moved, err = db.MarkPaid(ctx, "order-1", "pi_123", paidAt)
	require.NoError(t, err)
	assert.False(t, moved)

	got, err := db.GetOrderByID(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaid, got.Status)
	assert.Equal(t, "pi_123", got.ProviderRef)
}

func TestLateFailureDoesNotOverridePaid(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.CreateOrderWithItems(ctx, sampleOrder("order-1"), nil))

	moved, err := db.MarkPaid(ctx, "order-1", "pi_123", time.Now().UTC())
	require.NoError(t, err)
	require.True(t, moved)

	moved, err = db.MarkFailed(ctx, "order-1")
	require.NoError(t, err)
	assert.False(t, moved)

	got, err := db.GetOrderByID(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaid, got.Status)
}

func TestMarkRefundedRequiresPaid(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.CreateOrderWithItems(ctx, sampleOrder("order-1"), nil))

	moved, err := db.MarkRefunded(ctx, "order-1")
	require.NoError(t, err)
	assert.False(t, moved)

	_, err = db.MarkPaid(ctx, "order-1", "pi_123", time.Now().UTC())
	require.NoError(t, err)

	moved, err = db.MarkRefunded(ctx, "order-1")
	require.NoError(t, err)
	assert.True(t, moved)

	got, err := db.GetOrderByID(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderRefunded, got.Status)
}

func TestGetOrderByProviderRef(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.CreateOrderWithItems(ctx, sampleOrder("order-1"), nil))
	_, err := db.MarkPaid(ctx, "order-1", "pi_999", time.Now().UTC())
	require.NoError(t, err)

	got, err := db.GetOrderByProviderRef(ctx, "pi_999")
	require.NoError(t, err)
	assert.Equal(t, "order-1", got.OrderID)

	_, err = db.GetOrderByProviderRef(ctx, "pi_unknown")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestWebhookEventDeduplication(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	ev := models.WebhookEvent{
		EventID:    "evt_1",
		Provider:   "stripe",
		Type:       "checkout.session.completed",
		OrderID:    "order-1",
		ReceivedAt: time.Now().UTC(),
	}

	fresh, err := db.InsertWebhookEvent(ctx, ev)
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = db.InsertWebhookEvent(ctx, ev)
	require.NoError(t, err)
	assert.False(t, fresh)

	// After a processing failure the record is removed so the redelivery
	// gets a fresh attempt.
	require.NoError(t, db.DeleteWebhookEvent(ctx, "evt_1"))

	fresh, err = db.InsertWebhookEvent(ctx, ev)
	require.NoError(t, err)
	assert.True(t, fresh)
}
