package inventory

import (
	"context"
	"database/sql"
	"testing"

	"ms-orders/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func setupStore(t *testing.T) *Store {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:?cache=shared")
	require.NoError(t, err)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	require.NoError(t, bunDB.ResetModel(context.Background(), (*models.TicketType)(nil)))

	t.Cleanup(func() { bunDB.Close() })
	return New(bunDB)
}

func seedTicketType(t *testing.T, s *Store, id string, capacity, sold, reserved int) {
	t.Helper()
	tt := models.TicketType{
		TicketTypeID: id,
		EventID:      "event-1",
		Name:         "Standard",
		Price:        2500,
		Capacity:     capacity,
		Sold:         sold,
		Reserved:     reserved,
	}
	_, err := s.Bun.NewInsert().Model(&tt).Exec(context.Background())
	require.NoError(t, err)
}

func TestReserveUntilSoldOut(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	seedTicketType(t, s, "tt-1", 10, 4, 0)

	require.NoError(t, s.Reserve(ctx, "tt-1", 4))
	require.NoError(t, s.Reserve(ctx, "tt-1", 2))

	// 10 capacity, 4 sold, 6 reserved: nothing left.
	err := s.Reserve(ctx, "tt-1", 1)
	assert.ErrorIs(t, err, ErrInsufficientInventory)

	tt, err := s.GetTicketType(ctx, "tt-1")
	require.NoError(t, err)
	assert.Equal(t, 6, tt.Reserved)
	assert.Equal(t, 4, tt.Sold)
	assert.Equal(t, 0, tt.Remaining())
}

func TestReserveUnknownTicketType(t *testing.T) {
	s := setupStore(t)

	err := s.Reserve(context.Background(), "missing", 1)
	assert.ErrorIs(t, err, ErrTicketTypeNotFound)
}

func TestReserveNeverOversells(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	seedTicketType(t, s, "tt-1", 5, 0, 0)

	// More requests than capacity: exactly 5 units can be granted no matter
	// how the requests interleave, everything beyond fails.
	granted := 0
	for i := 0; i < 12; i++ {
		if err := s.Reserve(ctx, "tt-1", 1); err == nil {
			granted++
		} else {
			assert.ErrorIs(t, err, ErrInsufficientInventory)
		}
	}
	assert.Equal(t, 5, granted)

	tt, err := s.GetTicketType(ctx, "tt-1")
	require.NoError(t, err)
	assert.Equal(t, 5, tt.Reserved)
	assert.LessOrEqual(t, tt.Sold+tt.Reserved, tt.Capacity)
}

func TestReleaseGuardsAgainstDoubleRelease(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	seedTicketType(t, s, "tt-1", 10, 0, 2)

	require.NoError(t, s.Release(ctx, "tt-1", 2))
	// Second release of the same reservation must not drive the counter
	// negative.
	require.NoError(t, s.Release(ctx, "tt-1", 2))

	tt, err := s.GetTicketType(ctx, "tt-1")
	require.NoError(t, err)
	assert.Equal(t, 0, tt.Reserved)
}

func TestReturnSold(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	seedTicketType(t, s, "tt-1", 10, 3, 0)

	require.NoError(t, s.ReturnSold(ctx, "tt-1", 2))

	tt, err := s.GetTicketType(ctx, "tt-1")
	require.NoError(t, err)
	assert.Equal(t, 1, tt.Sold)
	assert.Equal(t, 9, tt.Remaining())
}

func TestReleaseItemsSkipsNonTicketItems(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	seedTicketType(t, s, "tt-1", 10, 0, 3)

	ticketMeta, err := models.EncodeMeta(models.TicketMeta{EventID: "event-1", TicketTypeID: "tt-1", TicketName: "Standard", UnitPrice: 2500})
	require.NoError(t, err)
	planMeta, err := models.EncodeMeta(models.ListingPlanMeta{PlanID: "plan-1", PlanName: "Featured", DurationDays: 7})
	require.NoError(t, err)

	items := []models.OrderItem{
		{OrderItemID: "item-1", Type: models.ItemListingPlan, TargetID: "listing-1", Quantity: 1, Meta: planMeta},
		{OrderItemID: "item-2", Type: models.ItemTicket, TargetID: "tt-1", Quantity: 3, Meta: ticketMeta},
	}
	require.NoError(t, s.ReleaseItems(ctx, items))

	tt, err := s.GetTicketType(ctx, "tt-1")
	require.NoError(t, err)
	assert.Equal(t, 0, tt.Reserved)
}
