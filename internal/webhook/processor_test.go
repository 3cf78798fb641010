package webhook

import (
	"context"
	"errors"
	"testing"
	"time"

	"ms-orders/internal/ledger"
	"ms-orders/internal/logger"
	"ms-orders/internal/models"
	"ms-orders/internal/payment"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Mock implementations for testing

type mockVerifier struct {
	event payment.Event
	err   error
}

func (m *mockVerifier) VerifyEvent(payload []byte, sigHeader string) (payment.Event, error) {
	if m.err != nil {
		return payment.Event{}, m.err
	}
	return m.event, nil
}

type mockLedger struct {
	orders     map[string]*models.Order
	items      map[string][]models.OrderItem
	events     map[string]bool
	failDelete bool
}

func newMockLedger() *mockLedger {
	return &mockLedger{
		orders: make(map[string]*models.Order),
		items:  make(map[string][]models.OrderItem),
		events: make(map[string]bool),
	}
}

func (m *mockLedger) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	if o, ok := m.orders[id]; ok {
		cp := *o
		return &cp, nil
	}
	return nil, ledger.ErrOrderNotFound
}

func (m *mockLedger) GetOrderByProviderRef(ctx context.Context, ref string) (*models.Order, error) {
	for _, o := range m.orders {
		if o.ProviderRef == ref {
			cp := *o
			return &cp, nil
		}
	}
	return nil, ledger.ErrOrderNotFound
}

func (m *mockLedger) GetItemsByOrder(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	return m.items[orderID], nil
}

func (m *mockLedger) MarkPaid(ctx context.Context, orderID, providerRef string, paidAt time.Time) (bool, error) {
	o, ok := m.orders[orderID]
	if !ok || o.Status != models.OrderPending {
		return false, nil
	}
	o.Status = models.OrderPaid
	o.ProviderRef = providerRef
	o.PaidAt = paidAt
	return true, nil
}

func (m *mockLedger) MarkFailed(ctx context.Context, orderID string) (bool, error) {
	o, ok := m.orders[orderID]
	if !ok || o.Status != models.OrderPending {
		return false, nil
	}
	o.Status = models.OrderFailed
	return true, nil
}

func (m *mockLedger) MarkRefunded(ctx context.Context, orderID string) (bool, error) {
	o, ok := m.orders[orderID]
	if !ok || o.Status != models.OrderPaid {
		return false, nil
	}
	o.Status = models.OrderRefunded
	return true, nil
}

func (m *mockLedger) InsertWebhookEvent(ctx context.Context, ev models.WebhookEvent) (bool, error) {
	if m.events[ev.EventID] {
		return false, nil
	}
	m.events[ev.EventID] = true
	return true, nil
}

func (m *mockLedger) DeleteWebhookEvent(ctx context.Context, eventID string) error {
	if m.failDelete {
		return errors.New("delete failed")
	}
	delete(m.events, eventID)
	return nil
}

type mockInventory struct {
	releases int
}

func (m *mockInventory) ReleaseItems(ctx context.Context, items []models.OrderItem) error {
	m.releases++
	return nil
}

type mockHolds struct {
	cleared []string
}

func (m *mockHolds) ClearHold(ctx context.Context, orderID string) error {
	m.cleared = append(m.cleared, orderID)
	return nil
}

type mockFulfillment struct {
	dispatches int
	err        error
}

func (m *mockFulfillment) Dispatch(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	m.dispatches++
	return m.err
}

type mockInvoices struct {
	ensured int
}

func (m *mockInvoices) EnsureInvoice(ctx context.Context, order *models.Order) (*models.Invoice, error) {
	m.ensured++
	return &models.Invoice{InvoiceID: "inv-1", OrderID: order.OrderID}, nil
}

type mockCompensator struct {
	compensations  int
	refundPayments int
	refundErr      error
}

func (m *mockCompensator) Compensate(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	m.compensations++
	return nil
}

func (m *mockCompensator) RefundPayment(ctx context.Context, providerRef string, amount int64, reason string) error {
	if m.refundErr != nil {
		return m.refundErr
	}
	m.refundPayments++
	return nil
}

type mockPublisher struct {
	paid, failed, refunded int
}

func (m *mockPublisher) PublishOrderPaid(ctx context.Context, order *models.Order) error {
	m.paid++
	return nil
}

func (m *mockPublisher) PublishOrderFailed(ctx context.Context, order *models.Order) error {
	m.failed++
	return nil
}

func (m *mockPublisher) PublishOrderRefunded(ctx context.Context, order *models.Order) error {
	m.refunded++
	return nil
}

type fixture struct {
	processor   *Processor
	verifier    *mockVerifier
	ledger      *mockLedger
	inventory   *mockInventory
	holds       *mockHolds
	fulfillment *mockFulfillment
	invoices    *mockInvoices
	refunds     *mockCompensator
	publisher   *mockPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		verifier:    &mockVerifier{},
		ledger:      newMockLedger(),
		inventory:   &mockInventory{},
		holds:       &mockHolds{},
		fulfillment: &mockFulfillment{},
		invoices:    &mockInvoices{},
		refunds:     &mockCompensator{},
		publisher:   &mockPublisher{},
	}
	f.processor = &Processor{
		Verifier:    f.verifier,
		Ledger:      f.ledger,
		Inventory:   f.inventory,
		Holds:       f.holds,
		Fulfillment: f.fulfillment,
		Invoices:    f.invoices,
		Refunds:     f.refunds,
		Publisher:   f.publisher,
		Logger:      logger.NewLogger(),
	}
	return f
}

func (f *fixture) seedOrder(status models.OrderStatus) {
	f.ledger.orders["order-1"] = &models.Order{
		OrderID:  "order-1",
		BuyerID:  "buyer-1",
		Total:    1200,
		Currency: "eur",
		Status:   status,
	}
}

func TestInvalidSignatureRejectsWithoutStateChange(t *testing.T) {
	f := newFixture(t)
	f.verifier.err = payment.ErrSignatureInvalid
	f.seedOrder(models.OrderPending)

	err := f.processor.Process(context.Background(), []byte("{}"), "bad-sig")

	var procErr *ProcessingError
	require.ErrorAs(t, err, &procErr)
	assert.Equal(t, 400, procErr.StatusCode)
	assert.Equal(t, models.OrderPending, f.ledger.orders["order-1"].Status)
	assert.Zero(t, f.fulfillment.dispatches)
	assert.Empty(t, f.ledger.events)
}

func TestUnknownEventTypeIsAcknowledged(t *testing.T) {
	f := newFixture(t)
	f.verifier.event = payment.Event{ID: "evt_1", Kind: payment.EventUnknown, RawType: "customer.created"}

	err := f.processor.Process(context.Background(), []byte("{}"), "sig")
	require.NoError(t, err)
	assert.Zero(t, f.fulfillment.dispatches)
}

func TestCompletedEventPaysAndFulfills(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(models.OrderPending)
	f.verifier.event = payment.Event{
		ID: "evt_1", Kind: payment.EventCheckoutCompleted,
		RawType: "checkout.session.completed", OrderID: "order-1", ProviderRef: "pi_1",
	}

	require.NoError(t, f.processor.Process(context.Background(), []byte("{}"), "sig"))

	assert.Equal(t, models.OrderPaid, f.ledger.orders["order-1"].Status)
	assert.Equal(t, 1, f.fulfillment.dispatches)
	assert.Equal(t, 1, f.invoices.ensured)
	assert.Equal(t, 1, f.publisher.paid)
	assert.Equal(t, []string{"order-1"}, f.holds.cleared)
}

func TestDuplicateDeliveryFulfillsOnce(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(models.OrderPending)
	f.verifier.event = payment.Event{
		ID: "evt_1", Kind: payment.EventCheckoutCompleted,
		RawType: "checkout.session.completed", OrderID: "order-1", ProviderRef: "pi_1",
	}

	require.NoError(t, f.processor.Process(context.Background(), []byte("{}"), "sig"))
	require.NoError(t, f.processor.Process(context.Background(), []byte("{}"), "sig"))

	assert.Equal(t, 1, f.fulfillment.dispatches)
	assert.Equal(t, 1, f.invoices.ensured)
	assert.Equal(t, 1, f.publisher.paid)
}

func TestProcessingFailureAllowsRedelivery(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(models.OrderPending)
	f.verifier.event = payment.Event{
		ID: "evt_1", Kind: payment.EventCheckoutCompleted,
		RawType: "checkout.session.completed", OrderID: "order-1", ProviderRef: "pi_1",
	}

	f.fulfillment.err = errors.New("qr generation blew up")
	err := f.processor.Process(context.Background(), []byte("{}"), "sig")
	require.Error(t, err)

	// The event record was removed, so the redelivery is processed again
	// and the idempotent fulfillment converges.
	f.fulfillment.err = nil
	require.NoError(t, f.processor.Process(context.Background(), []byte("{}"), "sig"))
	assert.Equal(t, 2, f.fulfillment.dispatches)
	assert.Equal(t, models.OrderPaid, f.ledger.orders["order-1"].Status)
}

func TestFailedEventReleasesInventory(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(models.OrderPending)
	f.verifier.event = payment.Event{
		ID: "evt_1", Kind: payment.EventPaymentFailed,
		RawType: "payment_intent.payment_failed", OrderID: "order-1",
	}

	require.NoError(t, f.processor.Process(context.Background(), []byte("{}"), "sig"))

	assert.Equal(t, models.OrderFailed, f.ledger.orders["order-1"].Status)
	assert.Equal(t, 1, f.inventory.releases)
	assert.Equal(t, 1, f.publisher.failed)
}

func TestLateFailureAfterPaidIsNoOp(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(models.OrderPaid)
	f.verifier.event = payment.Event{
		ID: "evt_2", Kind: payment.EventPaymentFailed,
		RawType: "payment_intent.payment_failed", OrderID: "order-1",
	}

	require.NoError(t, f.processor.Process(context.Background(), []byte("{}"), "sig"))

	assert.Equal(t, models.OrderPaid, f.ledger.orders["order-1"].Status)
	assert.Zero(t, f.inventory.releases)
	assert.Zero(t, f.publisher.failed)
}

func TestExpiredSessionFailsPendingOrder(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(models.OrderPending)
	f.verifier.event = payment.Event{
		ID: "evt_3", Kind: payment.EventCheckoutExpired,
		RawType: "checkout.session.expired", OrderID: "order-1",
	}

	require.NoError(t, f.processor.Process(context.Background(), []byte("{}"), "sig"))

	assert.Equal(t, models.OrderFailed, f.ledger.orders["order-1"].Status)
	assert.Equal(t, 1, f.inventory.releases)
	assert.Equal(t, []string{"order-1"}, f.holds.cleared)
}

func TestPaymentAfterHoldExpiryIsRefunded(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(models.OrderFailed)
	f.verifier.event = payment.Event{
		ID: "evt_6", Kind: payment.EventCheckoutCompleted,
		RawType: "checkout.session.completed", OrderID: "order-1", ProviderRef: "pi_1",
	}

	require.NoError(t, f.processor.Process(context.Background(), []byte("{}"), "sig"))

	// Money goes back, nothing is delivered, the order stays failed.
	assert.Equal(t, 1, f.refunds.refundPayments)
	assert.Zero(t, f.fulfillment.dispatches)
	assert.Zero(t, f.invoices.ensured)
	assert.Equal(t, models.OrderFailed, f.ledger.orders["order-1"].Status)
}

func TestPaymentAfterHoldExpiryRetriesRefundOnRedelivery(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(models.OrderFailed)
	f.verifier.event = payment.Event{
		ID: "evt_6", Kind: payment.EventCheckoutCompleted,
		RawType: "checkout.session.completed", OrderID: "order-1", ProviderRef: "pi_1",
	}

	f.refunds.refundErr = payment.ErrProviderUnavailable
	err := f.processor.Process(context.Background(), []byte("{}"), "sig")
	require.Error(t, err)

	f.refunds.refundErr = nil
	require.NoError(t, f.processor.Process(context.Background(), []byte("{}"), "sig"))
	assert.Equal(t, 1, f.refunds.refundPayments)
}

func TestRefundEventResolvesOrderByProviderRef(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(models.OrderPaid)
	f.ledger.orders["order-1"].ProviderRef = "pi_1"
	f.verifier.event = payment.Event{
		ID: "evt_4", Kind: payment.EventChargeRefunded,
		RawType: "charge.refunded", ProviderRef: "pi_1",
	}

	require.NoError(t, f.processor.Process(context.Background(), []byte("{}"), "sig"))

	assert.Equal(t, models.OrderRefunded, f.ledger.orders["order-1"].Status)
	assert.Equal(t, 1, f.refunds.compensations)
	assert.Equal(t, 1, f.publisher.refunded)
}

func TestRefundEventAfterAPIRefundIsNoOp(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(models.OrderRefunded)
	f.verifier.event = payment.Event{
		ID: "evt_5", Kind: payment.EventChargeRefunded,
		RawType: "charge.refunded", OrderID: "order-1",
	}

	require.NoError(t, f.processor.Process(context.Background(), []byte("{}"), "sig"))
	assert.Zero(t, f.refunds.compensations)
}
