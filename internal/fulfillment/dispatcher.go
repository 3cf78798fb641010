package fulfillment

import (
	"context"
	"fmt"
	"time"

	"ms-orders/internal/fulfillment/qr"
	"ms-orders/internal/logger"
	"ms-orders/internal/models"

	"github.com/google/uuid"
)

type Catalog interface {
	PromoteListing(ctx context.Context, listingID string, status models.ListingStatus, publishedAt, expiresAt time.Time) error
	StickTopic(ctx context.Context, topicID string, until time.Time) error
}

type Ticketing interface {
	GetTicketOrderByItem(ctx context.Context, orderItemID string) (*models.TicketOrder, error)
	IssueTicketOrder(ctx context.Context, to models.TicketOrder, codes []models.TicketQRCode) error
}

// Dispatcher hands each item of a paid order to its product-type fulfillment.
// Every branch is safe to run again for the same item: listing and sticky
// windows are derived from paid_at so a rerun writes the same values, and
// ticket issuance checks for the existing ticket order first.
type Dispatcher struct {
	Catalog   Catalog
	Ticketing Ticketing
	QR        *qr.Generator
	Logger    *logger.Logger
}

func NewDispatcher(catalog Catalog, ticketing Ticketing, gen *qr.Generator, log *logger.Logger) *Dispatcher {
	return &Dispatcher{Catalog: catalog, Ticketing: ticketing, QR: gen, Logger: log}
}

// Dispatch fulfills all items of a paid order. Every item is attempted even
// when an earlier one fails; the first error is returned so the webhook
// delivery is retried and the idempotent branches converge.
func (d *Dispatcher) Dispatch(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	var firstErr error
	for _, item := range items {
		var err error
		switch item.Type {
		case models.ItemListingPlan:
			err = d.fulfillListingPlan(ctx, order, item)
		case models.ItemForumSticky:
			err = d.fulfillForumSticky(ctx, order, item)
		case models.ItemTicket:
			err = d.fulfillTicket(ctx, order, item)
		default:
			err = fmt.Errorf("unknown item type %q on item %s", item.Type, item.OrderItemID)
		}
		if err != nil {
			d.Logger.Error("FULFILLMENT", fmt.Sprintf("Item %s (%s) of order %s: %v", item.OrderItemID, item.Type, order.OrderID, err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		d.Logger.LogFulfillment(string(item.Type), order.OrderID, fmt.Sprintf("item %s fulfilled", item.OrderItemID))
	}
	return firstErr
}

func (d *Dispatcher) fulfillListingPlan(ctx context.Context, order *models.Order, item models.OrderItem) error {
	meta, err := item.ListingPlanMeta()
	if err != nil {
		return err
	}

	status := models.ListingPendingReview
	if meta.AutoApprove {
		status = models.ListingActive
	}

	base := order.PaidAt
	if base.IsZero() {
		base = time.Now().UTC()
	}
	expires := base.AddDate(0, 0, meta.DurationDays)

	return d.Catalog.PromoteListing(ctx, item.TargetID, status, base, expires)
}

func (d *Dispatcher) fulfillForumSticky(ctx context.Context, order *models.Order, item models.OrderItem) error {
	meta, err := item.ForumStickyMeta()
	if err != nil {
		return err
	}

	base := order.PaidAt
	if base.IsZero() {
		base = time.Now().UTC()
	}
	until := base.AddDate(0, 0, meta.DurationDays)

	return d.Catalog.StickTopic(ctx, item.TargetID, until)
}

func (d *Dispatcher) fulfillTicket(ctx context.Context, order *models.Order, item models.OrderItem) error {
	existing, err := d.Ticketing.GetTicketOrderByItem(ctx, item.OrderItemID)
	if err != nil {
		return err
	}
	if existing != nil {
		d.Logger.Info("FULFILLMENT", fmt.Sprintf("Item %s already issued as ticket order %s", item.OrderItemID, existing.TicketOrderID))
		return nil
	}

	meta, err := item.TicketMeta()
	if err != nil {
		return err
	}

	to := models.TicketOrder{
		TicketOrderID: uuid.NewString(),
		OrderItemID:   item.OrderItemID,
		OrderID:       order.OrderID,
		BuyerID:       order.BuyerID,
		EventID:       meta.EventID,
		TicketTypeID:  meta.TicketTypeID,
		Quantity:      item.Quantity,
		CreatedAt:     time.Now().UTC(),
	}

	codes := make([]models.TicketQRCode, 0, item.Quantity)
	issuedAt := time.Now().UTC()
	for i := 0; i < item.Quantity; i++ {
		code := uuid.NewString()
		png, err := d.QR.GenerateEncryptedQR(models.QRPayload{
			Code:          code,
			TicketOrderID: to.TicketOrderID,
			EventID:       meta.EventID,
			IssuedAt:      issuedAt,
		})
		if err != nil {
			return fmt.Errorf("generate qr: %w", err)
		}
		codes = append(codes, models.TicketQRCode{
			Code:          code,
			TicketOrderID: to.TicketOrderID,
			EventID:       meta.EventID,
			Status:        models.QRValid,
			PNG:           png,
			IssuedAt:      issuedAt,
		})
	}

	return d.Ticketing.IssueTicketOrder(ctx, to, codes)
}
