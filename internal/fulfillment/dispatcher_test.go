package fulfillment

import (
	"context"
	"testing"
	"time"

	"ms-orders/internal/fulfillment/qr"
	"ms-orders/internal/logger"
	"ms-orders/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Mock implementations for testing

type promotion struct {
	status      models.ListingStatus
	publishedAt time.Time
	expiresAt   time.Time
}

type mockCatalog struct {
	promotions map[string]promotion
	stickies   map[string]time.Time
}

func newMockCatalog() *mockCatalog {
	return &mockCatalog{
		promotions: make(map[string]promotion),
		stickies:   make(map[string]time.Time),
	}
}

func (m *mockCatalog) PromoteListing(ctx context.Context, listingID string, status models.ListingStatus, publishedAt, expiresAt time.Time) error {
	m.promotions[listingID] = promotion{status: status, publishedAt: publishedAt, expiresAt: expiresAt}
	return nil
}

func (m *mockCatalog) StickTopic(ctx context.Context, topicID string, until time.Time) error {
	m.stickies[topicID] = until
	return nil
}

type mockTicketing struct {
	ticketOrders map[string]*models.TicketOrder
	issued       int
}

func newMockTicketing() *mockTicketing {
	return &mockTicketing{ticketOrders: make(map[string]*models.TicketOrder)}
}

func (m *mockTicketing) GetTicketOrderByItem(ctx context.Context, orderItemID string) (*models.TicketOrder, error) {
	return m.ticketOrders[orderItemID], nil
}

func (m *mockTicketing) IssueTicketOrder(ctx context.Context, to models.TicketOrder, codes []models.TicketQRCode) error {
	m.ticketOrders[to.OrderItemID] = &to
	m.issued++
	return nil
}

func newDispatcher(cat *mockCatalog, tk *mockTicketing) *Dispatcher {
	return NewDispatcher(cat, tk, qr.NewGenerator("test-secret"), logger.NewLogger())
}

func paidOrder(paidAt time.Time) *models.Order {
	return &models.Order{
		OrderID: "order-1",
		BuyerID: "buyer-1",
		Status:  models.OrderPaid,
		PaidAt:  paidAt,
	}
}

func TestListingPromotionWindowDerivesFromPaidAt(t *testing.T) {
	cat := newMockCatalog()
	d := newDispatcher(cat, newMockTicketing())

	paidAt := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	meta, err := models.EncodeMeta(models.ListingPlanMeta{PlanID: "plan-1", PlanName: "Featured 15", DurationDays: 15, AutoApprove: true})
	require.NoError(t, err)

	items := []models.OrderItem{{OrderItemID: "item-1", Type: models.ItemListingPlan, TargetID: "listing-1", Quantity: 1, Meta: meta}}
	require.NoError(t, d.Dispatch(context.Background(), paidOrder(paidAt), items))

	promo := cat.promotions["listing-1"]
	assert.Equal(t, models.ListingActive, promo.status)
	assert.Equal(t, paidAt, promo.publishedAt)
	assert.Equal(t, paidAt.AddDate(0, 0, 15), promo.expiresAt)
}

func TestListingWithoutAutoApproveGoesToReview(t *testing.T) {
	cat := newMockCatalog()
	d := newDispatcher(cat, newMockTicketing())

	meta, err := models.EncodeMeta(models.ListingPlanMeta{PlanID: "plan-1", PlanName: "Basic", DurationDays: 30, AutoApprove: false})
	require.NoError(t, err)

	items := []models.OrderItem{{OrderItemID: "item-1", Type: models.ItemListingPlan, TargetID: "listing-1", Quantity: 1, Meta: meta}}
	require.NoError(t, d.Dispatch(context.Background(), paidOrder(time.Now().UTC()), items))

	assert.Equal(t, models.ListingPendingReview, cat.promotions["listing-1"].status)
}

func TestRedispatchWritesIdenticalPromotion(t *testing.T) {
	cat := newMockCatalog()
	d := newDispatcher(cat, newMockTicketing())

	paidAt := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
	meta, err := models.EncodeMeta(models.ListingPlanMeta{PlanID: "plan-1", PlanName: "Featured 15", DurationDays: 15, AutoApprove: true})
	require.NoError(t, err)
	items := []models.OrderItem{{OrderItemID: "item-1", Type: models.ItemListingPlan, TargetID: "listing-1", Quantity: 1, Meta: meta}}

	require.NoError(t, d.Dispatch(context.Background(), paidOrder(paidAt), items))
	first := cat.promotions["listing-1"]

	// A redelivered payment event dispatches again; the window must not
	// shift because it is anchored on paid_at, not on the wall clock.
	require.NoError(t, d.Dispatch(context.Background(), paidOrder(paidAt), items))
	assert.Equal(t, first, cat.promotions["listing-1"])
}

func TestForumStickyFulfillment(t *testing.T) {
	cat := newMockCatalog()
	d := newDispatcher(cat, newMockTicketing())

	paidAt := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	meta, err := models.EncodeMeta(models.ForumStickyMeta{PlanID: "plan-f", PlanName: "Pinned 7", DurationDays: 7})
	require.NoError(t, err)

	items := []models.OrderItem{{OrderItemID: "item-1", Type: models.ItemForumSticky, TargetID: "topic-1", Quantity: 1, Meta: meta}}
	require.NoError(t, d.Dispatch(context.Background(), paidOrder(paidAt), items))

	assert.Equal(t, paidAt.AddDate(0, 0, 7), cat.stickies["topic-1"])
}

func TestTicketFulfillmentIssuesOnce(t *testing.T) {
	tk := newMockTicketing()
	d := newDispatcher(newMockCatalog(), tk)

	meta, err := models.EncodeMeta(models.TicketMeta{EventID: "event-1", TicketTypeID: "tt-1", TicketName: "Standard", UnitPrice: 2500})
	require.NoError(t, err)
	items := []models.OrderItem{{OrderItemID: "item-1", Type: models.ItemTicket, TargetID: "tt-1", Quantity: 2, Meta: meta}}

	require.NoError(t, d.Dispatch(context.Background(), paidOrder(time.Now().UTC()), items))
	require.NoError(t, d.Dispatch(context.Background(), paidOrder(time.Now().UTC()), items))

	// The existing ticket order stops the second issuance.
	assert.Equal(t, 1, tk.issued)
	assert.Equal(t, 2, tk.ticketOrders["item-1"].Quantity)
}

func TestUnknownItemTypeFailsLoudly(t *testing.T) {
	d := newDispatcher(newMockCatalog(), newMockTicketing())

	items := []models.OrderItem{{OrderItemID: "item-1", Type: models.ItemType("gift_card"), Quantity: 1}}
	err := d.Dispatch(context.Background(), paidOrder(time.Now().UTC()), items)
	assert.Error(t, err)
}

func TestDispatchAttemptsEveryItem(t *testing.T) {
	cat := newMockCatalog()
	d := newDispatcher(cat, newMockTicketing())

	stickyMeta, err := models.EncodeMeta(models.ForumStickyMeta{PlanID: "plan-f", PlanName: "Pinned 7", DurationDays: 7})
	require.NoError(t, err)

	items := []models.OrderItem{
		{OrderItemID: "item-bad", Type: models.ItemType("gift_card"), Quantity: 1},
		{OrderItemID: "item-2", Type: models.ItemForumSticky, TargetID: "topic-1", Quantity: 1, Meta: stickyMeta},
	}
	err = d.Dispatch(context.Background(), paidOrder(time.Now().UTC()), items)
	require.Error(t, err)

	// The bad item did not stop the good one.
	assert.Contains(t, cat.stickies, "topic-1")
}
