package refund

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-orders/internal/logger"
	"ms-orders/internal/models"
	"ms-orders/internal/payment"
)

var ErrInvalidState = errors.New("order is not refundable in its current state")

type Ledger interface {
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	GetItemsByOrder(ctx context.Context, orderID string) ([]models.OrderItem, error)
	MarkRefunded(ctx context.Context, orderID string) (bool, error)
}

type Catalog interface {
	ExpireListing(ctx context.Context, listingID string, at time.Time) error
	UnstickTopic(ctx context.Context, topicID string) error
}

type Ticketing interface {
	GetTicketOrderByItem(ctx context.Context, orderItemID string) (*models.TicketOrder, error)
	VoidCodes(ctx context.Context, ticketOrderID string) (int, error)
}

type Inventory interface {
	ReturnSold(ctx context.Context, ticketTypeID string, qty int) error
}

type Publisher interface {
	PublishOrderRefunded(ctx context.Context, order *models.Order) error
}

// Coordinator refunds paid orders and takes delivered goods back: promoted
// listings expire, sticky topics unpin, tickets void and their units return
// to the open capacity.
type Coordinator struct {
	Ledger    Ledger
	Catalog   Catalog
	Ticketing Ticketing
	Inventory Inventory
	Gateway   payment.Gateway
	Publisher Publisher
	Logger    *logger.Logger
}

func NewCoordinator(ledger Ledger, catalog Catalog, ticketing Ticketing, inv Inventory, gw payment.Gateway, pub Publisher, log *logger.Logger) *Coordinator {
	return &Coordinator{
		Ledger:    ledger,
		Catalog:   catalog,
		Ticketing: ticketing,
		Inventory: inv,
		Gateway:   gw,
		Publisher: pub,
		Logger:    log,
	}
}

// RefundOrder refunds the full amount of a paid order. The provider is only
// contacted when the order really is paid; any other state is rejected up
// front with ErrInvalidState.
func (c *Coordinator) RefundOrder(ctx context.Context, orderID, reason string) (*models.Order, error) {
	order, err := c.Ledger.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderPaid {
		return nil, fmt.Errorf("%w: order %s is %s", ErrInvalidState, orderID, order.Status)
	}

	refundID, err := c.Gateway.Refund(ctx, order.ProviderRef, order.Total, reason)
	if err != nil {
		return nil, err
	}
	c.Logger.LogOrder("REFUND", order.OrderID, fmt.Sprintf("provider refund %s issued", refundID))

	moved, err := c.Ledger.MarkRefunded(ctx, order.OrderID)
	if err != nil {
		return nil, err
	}
	if !moved {
		// The provider's charge.refunded webhook raced us and already ran
		// the transition and the compensations.
		c.Logger.Info("REFUND", fmt.Sprintf("Order %s already refunded by webhook", order.OrderID))
		return c.Ledger.GetOrderByID(ctx, orderID)
	}
	order.Status = models.OrderRefunded

	items, err := c.Ledger.GetItemsByOrder(ctx, order.OrderID)
	if err != nil {
		return nil, err
	}
	if err := c.Compensate(ctx, order, items); err != nil {
		// The money is returned and the order is refunded; compensation
		// failures are logged and retried by hand, never rolled back.
		c.Logger.Error("REFUND", fmt.Sprintf("Compensation for order %s incomplete: %v", order.OrderID, err))
	}

	if c.Publisher != nil {
		if err := c.Publisher.PublishOrderRefunded(ctx, order); err != nil {
			c.Logger.Error("REFUND", fmt.Sprintf("Failed to publish refund event for order %s: %v", order.OrderID, err))
		}
	}
	return order, nil
}

// RefundPayment sends a captured payment back without touching order state.
// Used when money arrives for an order that already failed, e.g. the
// reservation hold expired moments before the payment confirmation.
func (c *Coordinator) RefundPayment(ctx context.Context, providerRef string, amount int64, reason string) error {
	refundID, err := c.Gateway.Refund(ctx, providerRef, amount, reason)
	if err != nil {
		return err
	}
	c.Logger.Info("REFUND", fmt.Sprintf("Orphaned payment %s returned, provider refund %s", providerRef, refundID))
	return nil
}

// Compensate takes back every delivered item of a refunded order. Each
// branch is idempotent, so running it again after a partial failure finishes
// the remainder without redoing the rest.
func (c *Coordinator) Compensate(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	now := time.Now().UTC()
	var firstErr error
	for _, item := range items {
		var err error
		switch item.Type {
		case models.ItemListingPlan:
			err = c.Catalog.ExpireListing(ctx, item.TargetID, now)
		case models.ItemForumSticky:
			err = c.Catalog.UnstickTopic(ctx, item.TargetID)
		case models.ItemTicket:
			err = c.compensateTicket(ctx, item)
		default:
			err = fmt.Errorf("unknown item type %q on item %s", item.Type, item.OrderItemID)
		}
		if err != nil {
			c.Logger.Error("REFUND", fmt.Sprintf("Compensation of item %s (%s): %v", item.OrderItemID, item.Type, err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		c.Logger.Info("REFUND", fmt.Sprintf("Item %s (%s) of order %s compensated", item.OrderItemID, item.Type, order.OrderID))
	}
	return firstErr
}

func (c *Coordinator) compensateTicket(ctx context.Context, item models.OrderItem) error {
	to, err := c.Ticketing.GetTicketOrderByItem(ctx, item.OrderItemID)
	if err != nil {
		return err
	}
	if to == nil {
		// Paid but never fulfilled; there is nothing to void and the sold
		// counter was never incremented.
		return nil
	}

	voided, err := c.Ticketing.VoidCodes(ctx, to.TicketOrderID)
	if err != nil {
		return err
	}
	if voided == 0 {
		// Codes already void from an earlier compensation run; the sold
		// units were returned then.
		return nil
	}
	return c.Inventory.ReturnSold(ctx, to.TicketTypeID, to.Quantity)
}
