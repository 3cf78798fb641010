package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-orders/internal/logger"
	"ms-orders/internal/models"
	"ms-orders/internal/payment"
	"ms-orders/internal/vat"

	"github.com/google/uuid"
)

var (
	ErrInvalidPlan      = errors.New("plan is invalid for this purchase")
	ErrNotOwner         = errors.New("buyer does not own the target")
	ErrInvalidSelection = errors.New("invalid ticket selection")
)

type Ledger interface {
	CreateOrderWithItems(ctx context.Context, order models.Order, items []models.OrderItem) error
	SetProviderSession(ctx context.Context, orderID, sessionID, sessionURL string) error
	MarkFailed(ctx context.Context, orderID string) (bool, error)
}

type Catalog interface {
	GetListing(ctx context.Context, id string) (*models.Listing, error)
	GetPlan(ctx context.Context, id string) (*models.Plan, error)
	GetTopic(ctx context.Context, id string) (*models.ForumTopic, error)
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	GetBuyer(ctx context.Context, id string) (*models.Buyer, error)
}

type Inventory interface {
	GetTicketType(ctx context.Context, id string) (*models.TicketType, error)
	Reserve(ctx context.Context, ticketTypeID string, qty int) error
	Release(ctx context.Context, ticketTypeID string, qty int) error
}

type Holds interface {
	PlaceHold(ctx context.Context, orderID string) error
}

// TicketSelection is one requested ticket tier and quantity.
type TicketSelection struct {
	TicketTypeID string `json:"ticket_type_id"`
	Quantity     int    `json:"quantity"`
}

// Result is what checkout creation hands back to the API layer.
type Result struct {
	Order      models.OrderWithItems `json:"order"`
	SessionID  string                `json:"session_id"`
	SessionURL string                `json:"session_url"`
}

// Service builds pending orders and hosted checkout sessions. The order and
// its items are persisted before the provider is contacted; a provider
// failure leaves the order behind as failed for audit.
type Service struct {
	Ledger    Ledger
	Catalog   Catalog
	Inventory Inventory
	Holds     Holds
	Gateway   payment.Gateway
	VAT       *vat.Table
	Logger    *logger.Logger

	Currency   string
	SuccessURL string
	CancelURL  string
}

func NewService(ledger Ledger, catalog Catalog, inv Inventory, holds Holds, gw payment.Gateway, vatTable *vat.Table, log *logger.Logger, currency, successURL, cancelURL string) *Service {
	return &Service{
		Ledger:     ledger,
		Catalog:    catalog,
		Inventory:  inv,
		Holds:      holds,
		Gateway:    gw,
		VAT:        vatTable,
		Logger:     log,
		Currency:   currency,
		SuccessURL: successURL,
		CancelURL:  cancelURL,
	}
}

// CreateListingPlanCheckout starts a paid listing promotion purchase.
func (s *Service) CreateListingPlanCheckout(ctx context.Context, buyerID, listingID, planID string) (*Result, error) {
	listing, err := s.Catalog.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.OwnerID != buyerID {
		return nil, ErrNotOwner
	}

	plan, err := s.Catalog.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if !plan.Active || plan.Kind != models.PlanListing {
		return nil, ErrInvalidPlan
	}
	if plan.CategoryID != "" && plan.CategoryID != listing.CategoryID {
		return nil, fmt.Errorf("%w: plan %s does not cover category %s", ErrInvalidPlan, plan.PlanID, listing.CategoryID)
	}

	meta, err := models.EncodeMeta(models.ListingPlanMeta{
		PlanID:       plan.PlanID,
		PlanName:     plan.Name,
		DurationDays: plan.DurationDays,
		AutoApprove:  plan.AutoApprove,
	})
	if err != nil {
		return nil, err
	}

	item := models.OrderItem{
		OrderItemID: uuid.NewString(),
		Type:        models.ItemListingPlan,
		TargetID:    listing.ListingID,
		Quantity:    1,
		UnitPrice:   plan.Price,
		Total:       plan.Price,
		Meta:        meta,
	}

	return s.createOrder(ctx, buyerID, []models.OrderItem{item}, []payment.LineItem{{
		Name:       plan.Name,
		Quantity:   1,
		UnitAmount: plan.Price,
	}})
}

// CreateForumStickyCheckout starts a paid topic pin purchase.
func (s *Service) CreateForumStickyCheckout(ctx context.Context, buyerID, topicID, planID string) (*Result, error) {
	topic, err := s.Catalog.GetTopic(ctx, topicID)
	if err != nil {
		return nil, err
	}
	if topic.AuthorID != buyerID {
		return nil, ErrNotOwner
	}

	plan, err := s.Catalog.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if !plan.Active || plan.Kind != models.PlanForum {
		return nil, ErrInvalidPlan
	}

	meta, err := models.EncodeMeta(models.ForumStickyMeta{
		PlanID:       plan.PlanID,
		PlanName:     plan.Name,
		DurationDays: plan.DurationDays,
	})
	if err != nil {
		return nil, err
	}

	item := models.OrderItem{
		OrderItemID: uuid.NewString(),
		Type:        models.ItemForumSticky,
		TargetID:    topic.TopicID,
		Quantity:    1,
		UnitPrice:   plan.Price,
		Total:       plan.Price,
		Meta:        meta,
	}

	return s.createOrder(ctx, buyerID, []models.OrderItem{item}, []payment.LineItem{{
		Name:       plan.Name,
		Quantity:   1,
		UnitAmount: plan.Price,
	}})
}

// CreateTicketCheckout starts a ticket purchase. Each selection is reserved
// against current inventory before the order exists; everything reserved is
// released again when a later step fails.
func (s *Service) CreateTicketCheckout(ctx context.Context, buyerID, eventID string, selections []TicketSelection) (*Result, error) {
	if len(selections) == 0 {
		return nil, fmt.Errorf("%w: no tickets selected", ErrInvalidSelection)
	}

	event, err := s.Catalog.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	var (
		items    []models.OrderItem
		lines    []payment.LineItem
		reserved []TicketSelection
	)
	release := func() {
		for _, r := range reserved {
			if err := s.Inventory.Release(ctx, r.TicketTypeID, r.Quantity); err != nil {
				s.Logger.Error("CHECKOUT", fmt.Sprintf("Failed to release %d units of %s: %v", r.Quantity, r.TicketTypeID, err))
			}
		}
	}

	for _, sel := range selections {
		if sel.Quantity <= 0 {
			release()
			return nil, fmt.Errorf("%w: quantity must be positive", ErrInvalidSelection)
		}

		tt, err := s.Inventory.GetTicketType(ctx, sel.TicketTypeID)
		if err != nil {
			release()
			return nil, err
		}
		if tt.EventID != event.EventID {
			release()
			return nil, fmt.Errorf("%w: ticket type %s does not belong to event %s", ErrInvalidSelection, tt.TicketTypeID, event.EventID)
		}

		if err := s.Inventory.Reserve(ctx, tt.TicketTypeID, sel.Quantity); err != nil {
			release()
			return nil, err
		}
		reserved = append(reserved, sel)

		meta, err := models.EncodeMeta(models.TicketMeta{
			EventID:      event.EventID,
			TicketTypeID: tt.TicketTypeID,
			TicketName:   tt.Name,
			UnitPrice:    tt.Price,
		})
		if err != nil {
			release()
			return nil, err
		}

		items = append(items, models.OrderItem{
			OrderItemID: uuid.NewString(),
			Type:        models.ItemTicket,
			TargetID:    tt.TicketTypeID,
			Quantity:    sel.Quantity,
			UnitPrice:   tt.Price,
			Total:       tt.Price * int64(sel.Quantity),
			Meta:        meta,
		})
		lines = append(lines, payment.LineItem{
			Name:       fmt.Sprintf("%s - %s", event.Title, tt.Name),
			Quantity:   int64(sel.Quantity),
			UnitAmount: tt.Price,
		})
	}

	result, err := s.createOrder(ctx, buyerID, items, lines)
	if err != nil {
		release()
		return nil, err
	}

	if err := s.Holds.PlaceHold(ctx, result.Order.OrderID); err != nil {
		s.Logger.Warn("CHECKOUT", fmt.Sprintf("Failed to place reservation hold for order %s: %v", result.Order.OrderID, err))
	}
	return result, nil
}

// createOrder persists the pending order, then asks the provider for a hosted
// session. Provider failures keep the order as failed, never delete it.
func (s *Service) createOrder(ctx context.Context, buyerID string, items []models.OrderItem, lines []payment.LineItem) (*Result, error) {
	buyer, err := s.Catalog.GetBuyer(ctx, buyerID)
	if err != nil {
		return nil, err
	}

	var subtotal int64
	for i := range items {
		subtotal += items[i].Total
	}
	rate := s.VAT.Rate(buyer.Country)
	tax := vat.Tax(subtotal, rate)

	order := models.Order{
		OrderID:   uuid.NewString(),
		BuyerID:   buyerID,
		Subtotal:  subtotal,
		Tax:       tax,
		Total:     subtotal + tax,
		Currency:  s.Currency,
		Status:    models.OrderPending,
		Provider:  "stripe",
		CreatedAt: time.Now().UTC(),
	}
	for i := range items {
		items[i].OrderID = order.OrderID
	}

	if err := s.Ledger.CreateOrderWithItems(ctx, order, items); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	s.Logger.LogOrder("CREATE", order.OrderID, fmt.Sprintf("pending order for buyer %s, total %d %s", buyerID, order.Total, order.Currency))

	// VAT is included in the item prices at display time; the session total
	// must match order.Total.
	sessionLines := lines
	if tax > 0 {
		sessionLines = append(sessionLines, payment.LineItem{
			Name:       fmt.Sprintf("VAT %.1f%%", rate),
			Quantity:   1,
			UnitAmount: tax,
		})
	}

	sess, err := s.Gateway.CreateCheckoutSession(ctx, payment.SessionParams{
		OrderID:    order.OrderID,
		BuyerEmail: buyer.Email,
		Currency:   s.Currency,
		LineItems:  sessionLines,
		SuccessURL: s.SuccessURL,
		CancelURL:  s.CancelURL,
	})
	if err != nil {
		if _, markErr := s.Ledger.MarkFailed(ctx, order.OrderID); markErr != nil {
			s.Logger.Error("CHECKOUT", fmt.Sprintf("Failed to mark order %s failed after provider error: %v", order.OrderID, markErr))
		}
		s.Logger.LogOrder("FAIL", order.OrderID, "provider rejected checkout session request")
		return nil, err
	}

	if err := s.Ledger.SetProviderSession(ctx, order.OrderID, sess.ID, sess.URL); err != nil {
		return nil, fmt.Errorf("store provider session: %w", err)
	}
	order.ProviderSessionID = sess.ID
	order.SessionURL = sess.URL

	return &Result{
		Order:      models.OrderWithItems{Order: order, Items: items},
		SessionID:  sess.ID,
		SessionURL: sess.URL,
	}, nil
}
