package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"ms-orders/internal/ledger"
	"ms-orders/internal/logger"
	"ms-orders/internal/models"
	"ms-orders/internal/payment"
)

// ProcessingError carries both the safe public message and the detailed
// internal one, plus the HTTP status the handler should answer with.
type ProcessingError struct {
	Category      string // "validation", "processing", "configuration"
	StatusCode    int    // HTTP status code
	PublicError   string // Safe to expose to clients
	InternalError string // Detailed error for logs only
	OriginalErr   error  // Underlying error
}

func (e *ProcessingError) Error() string {
	return e.InternalError
}

func (e *ProcessingError) Unwrap() error {
	return e.OriginalErr
}

type Ledger interface {
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	GetOrderByProviderRef(ctx context.Context, providerRef string) (*models.Order, error)
	GetItemsByOrder(ctx context.Context, orderID string) ([]models.OrderItem, error)
	MarkPaid(ctx context.Context, orderID, providerRef string, paidAt time.Time) (bool, error)
	MarkFailed(ctx context.Context, orderID string) (bool, error)
	MarkRefunded(ctx context.Context, orderID string) (bool, error)
	InsertWebhookEvent(ctx context.Context, ev models.WebhookEvent) (bool, error)
	DeleteWebhookEvent(ctx context.Context, eventID string) error
}

type Inventory interface {
	ReleaseItems(ctx context.Context, items []models.OrderItem) error
}

type Holds interface {
	ClearHold(ctx context.Context, orderID string) error
}

type Fulfillment interface {
	Dispatch(ctx context.Context, order *models.Order, items []models.OrderItem) error
}

type Invoices interface {
	EnsureInvoice(ctx context.Context, order *models.Order) (*models.Invoice, error)
}

// Compensator undoes delivered goods when the provider refunds a payment,
// and returns captured payments that can no longer be honored.
type Compensator interface {
	Compensate(ctx context.Context, order *models.Order, items []models.OrderItem) error
	RefundPayment(ctx context.Context, providerRef string, amount int64, reason string) error
}

type Publisher interface {
	PublishOrderPaid(ctx context.Context, order *models.Order) error
	PublishOrderFailed(ctx context.Context, order *models.Order) error
	PublishOrderRefunded(ctx context.Context, order *models.Order) error
}

// Processor turns verified provider events into order state transitions and
// their side effects. Deliveries are deduplicated on the provider event id
// before any business logic runs; the state machine's conditional updates
// are the second line of defense.
type Processor struct {
	Verifier    payment.EventVerifier
	Ledger      Ledger
	Inventory   Inventory
	Holds       Holds
	Fulfillment Fulfillment
	Invoices    Invoices
	Refunds     Compensator
	Publisher   Publisher
	Logger      *logger.Logger
}

// Process verifies, deduplicates and applies one webhook delivery. A nil
// return tells the handler to acknowledge the delivery; a *ProcessingError
// tells it what to answer instead. Non-2xx answers make the provider
// redeliver, which is what we want after a transient failure.
func (p *Processor) Process(ctx context.Context, payload []byte, sigHeader string) error {
	ev, err := p.Verifier.VerifyEvent(payload, sigHeader)
	if err != nil {
		p.Logger.Error("WEBHOOK", fmt.Sprintf("Signature verification failed: %v", err))
		return &ProcessingError{
			Category:      "validation",
			StatusCode:    http.StatusBadRequest,
			PublicError:   "Invalid webhook signature",
			InternalError: fmt.Sprintf("signature verification failed: %v", err),
			OriginalErr:   err,
		}
	}

	if ev.Kind == payment.EventUnknown {
		p.Logger.Info("WEBHOOK", fmt.Sprintf("Ignoring event %s of unhandled type %s", ev.ID, ev.RawType))
		return nil
	}

	fresh, err := p.Ledger.InsertWebhookEvent(ctx, models.WebhookEvent{
		EventID:    ev.ID,
		Provider:   "stripe",
		Type:       ev.RawType,
		OrderID:    ev.OrderID,
		ReceivedAt: time.Now().UTC(),
	})
	if err != nil {
		return p.processingFailure(ev, fmt.Errorf("record webhook event: %w", err))
	}
	if !fresh {
		p.Logger.LogWebhook(ev.RawType, ev.ID, "duplicate delivery, already processed")
		return nil
	}

	switch ev.Kind {
	case payment.EventCheckoutCompleted:
		err = p.handlePaid(ctx, ev)
	case payment.EventPaymentFailed, payment.EventCheckoutExpired:
		err = p.handleFailed(ctx, ev)
	case payment.EventChargeRefunded:
		err = p.handleRefunded(ctx, ev)
	}
	if err != nil {
		// Forget the event id so the provider's redelivery gets processed
		// instead of being dropped as a duplicate.
		if delErr := p.Ledger.DeleteWebhookEvent(ctx, ev.ID); delErr != nil {
			p.Logger.Error("WEBHOOK", fmt.Sprintf("Failed to unrecord event %s: %v", ev.ID, delErr))
		}
		return p.processingFailure(ev, err)
	}

	p.Logger.LogWebhook(ev.RawType, ev.ID, "processed")
	return nil
}

func (p *Processor) handlePaid(ctx context.Context, ev payment.Event) error {
	order, err := p.resolveOrder(ctx, ev)
	if err != nil {
		return err
	}

	paidAt := time.Now().UTC()
	moved, err := p.Ledger.MarkPaid(ctx, order.OrderID, ev.ProviderRef, paidAt)
	if err != nil {
		return fmt.Errorf("mark paid: %w", err)
	}
	if !moved {
		// Already paid (earlier delivery finished the transition) or failed.
		// Re-run the idempotent side effects so a crash after MarkPaid but
		// before fulfillment still converges.
		current, err := p.Ledger.GetOrderByID(ctx, order.OrderID)
		if err != nil {
			return err
		}
		if current.Status == models.OrderFailed && ev.ProviderRef != "" {
			// The hold-expiry reaper failed the order moments before the
			// payment confirmation arrived. The charge went through with
			// nothing left to deliver; send the money back. An error here
			// answers non-2xx, so the provider redelivers and we retry.
			if err := p.Refunds.RefundPayment(ctx, ev.ProviderRef, current.Total, "order expired before payment confirmation"); err != nil {
				return fmt.Errorf("refund captured payment for failed order %s: %w", current.OrderID, err)
			}
			p.Logger.LogOrder("REFUND", current.OrderID, "payment captured after order failed, refunded at provider")
			return nil
		}
		if current.Status != models.OrderPaid {
			p.Logger.Warn("WEBHOOK", fmt.Sprintf("Payment event for order %s in state %s, ignoring", order.OrderID, current.Status))
			return nil
		}
		order = current
	} else {
		order.Status = models.OrderPaid
		order.ProviderRef = ev.ProviderRef
		order.PaidAt = paidAt
		p.Logger.LogOrder("PAID", order.OrderID, fmt.Sprintf("provider ref %s", ev.ProviderRef))
	}

	if err := p.Holds.ClearHold(ctx, order.OrderID); err != nil {
		p.Logger.Warn("WEBHOOK", fmt.Sprintf("Failed to clear hold for order %s: %v", order.OrderID, err))
	}

	items, err := p.Ledger.GetItemsByOrder(ctx, order.OrderID)
	if err != nil {
		return err
	}
	if err := p.Fulfillment.Dispatch(ctx, order, items); err != nil {
		return fmt.Errorf("fulfillment: %w", err)
	}
	if _, err := p.Invoices.EnsureInvoice(ctx, order); err != nil {
		return fmt.Errorf("invoice: %w", err)
	}

	if err := p.Publisher.PublishOrderPaid(ctx, order); err != nil {
		p.Logger.Error("WEBHOOK", fmt.Sprintf("Failed to publish paid event for order %s: %v", order.OrderID, err))
	}
	return nil
}

func (p *Processor) handleFailed(ctx context.Context, ev payment.Event) error {
	order, err := p.resolveOrder(ctx, ev)
	if err != nil {
		return err
	}

	moved, err := p.Ledger.MarkFailed(ctx, order.OrderID)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if !moved {
		// Paid wins over a late failure; an already-failed order (hold
		// expiry got there first) has had its inventory released.
		p.Logger.Info("WEBHOOK", fmt.Sprintf("Order %s not pending, failure event is a no-op", order.OrderID))
		return nil
	}
	order.Status = models.OrderFailed
	p.Logger.LogOrder("FAILED", order.OrderID, ev.RawType)

	items, err := p.Ledger.GetItemsByOrder(ctx, order.OrderID)
	if err != nil {
		return err
	}
	if err := p.Inventory.ReleaseItems(ctx, items); err != nil {
		return fmt.Errorf("release inventory: %w", err)
	}
	if err := p.Holds.ClearHold(ctx, order.OrderID); err != nil {
		p.Logger.Warn("WEBHOOK", fmt.Sprintf("Failed to clear hold for order %s: %v", order.OrderID, err))
	}

	if err := p.Publisher.PublishOrderFailed(ctx, order); err != nil {
		p.Logger.Error("WEBHOOK", fmt.Sprintf("Failed to publish failed event for order %s: %v", order.OrderID, err))
	}
	return nil
}

func (p *Processor) handleRefunded(ctx context.Context, ev payment.Event) error {
	order, err := p.resolveOrder(ctx, ev)
	if err != nil {
		return err
	}

	moved, err := p.Ledger.MarkRefunded(ctx, order.OrderID)
	if err != nil {
		return fmt.Errorf("mark refunded: %w", err)
	}
	if !moved {
		// Refunds initiated through our own API already moved the order and
		// ran the compensations before the provider confirmed.
		p.Logger.Info("WEBHOOK", fmt.Sprintf("Order %s not paid, refund event is a no-op", order.OrderID))
		return nil
	}
	order.Status = models.OrderRefunded
	p.Logger.LogOrder("REFUNDED", order.OrderID, fmt.Sprintf("provider event %s", ev.ID))

	items, err := p.Ledger.GetItemsByOrder(ctx, order.OrderID)
	if err != nil {
		return err
	}
	if err := p.Refunds.Compensate(ctx, order, items); err != nil {
		return fmt.Errorf("refund compensation: %w", err)
	}

	if err := p.Publisher.PublishOrderRefunded(ctx, order); err != nil {
		p.Logger.Error("WEBHOOK", fmt.Sprintf("Failed to publish refund event for order %s: %v", order.OrderID, err))
	}
	return nil
}

// resolveOrder finds the order an event refers to. Checkout events carry the
// order id in metadata; refund events may only carry the payment intent.
func (p *Processor) resolveOrder(ctx context.Context, ev payment.Event) (*models.Order, error) {
	if ev.OrderID != "" {
		return p.Ledger.GetOrderByID(ctx, ev.OrderID)
	}
	if ev.ProviderRef != "" {
		return p.Ledger.GetOrderByProviderRef(ctx, ev.ProviderRef)
	}
	return nil, fmt.Errorf("event %s carries neither order id nor provider ref", ev.ID)
}

func (p *Processor) processingFailure(ev payment.Event, err error) *ProcessingError {
	status := http.StatusInternalServerError
	if errors.Is(err, ledger.ErrOrderNotFound) {
		// An unknown order will not become known on redelivery.
		status = http.StatusBadRequest
	}
	p.Logger.Error("WEBHOOK", fmt.Sprintf("Event %s (%s) failed: %v", ev.ID, ev.RawType, err))
	return &ProcessingError{
		Category:      "processing",
		StatusCode:    status,
		PublicError:   "Webhook processing error",
		InternalError: fmt.Sprintf("event %s: %v", ev.ID, err),
		OriginalErr:   err,
	}
}
