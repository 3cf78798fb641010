package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// OrderStatus only ever moves forward: pending -> paid|failed, paid -> refunded.
type OrderStatus string

const (
	OrderPending  OrderStatus = "pending"
	OrderPaid     OrderStatus = "paid"
	OrderFailed   OrderStatus = "failed"
	OrderRefunded OrderStatus = "refunded"
)

// ItemType is the closed set of purchasable product types. Adding a new type
// means adding a constant here and a case to every exhaustive switch that
// fails on unknown types.
type ItemType string

const (
	ItemListingPlan ItemType = "listing_plan"
	ItemForumSticky ItemType = "forum_sticky"
	ItemTicket      ItemType = "ticket"
)

func (t ItemType) Valid() bool {
	switch t {
	case ItemListingPlan, ItemForumSticky, ItemTicket:
		return true
	}
	return false
}

// Order is the financial record of one purchase attempt. All amounts are in
// minor currency units (cents). Invariant: Total == Subtotal + Tax.
type Order struct {
	bun.BaseModel `bun:"table:orders"`

	OrderID           string          `bun:"order_id,pk" json:"order_id"`
	BuyerID           string          `bun:"buyer_id" json:"buyer_id"`
	SellerID          string          `bun:"seller_id,nullzero" json:"seller_id,omitempty"`
	Subtotal          int64           `bun:"subtotal" json:"subtotal"`
	Tax               int64           `bun:"tax" json:"tax"`
	Total             int64           `bun:"total" json:"total"`
	Currency          string          `bun:"currency" json:"currency"`
	Status            OrderStatus     `bun:"status" json:"status"`
	Provider          string          `bun:"provider" json:"provider"`
	ProviderRef       string          `bun:"provider_ref,nullzero" json:"provider_ref,omitempty"`
	ProviderSessionID string          `bun:"provider_session_id,nullzero" json:"provider_session_id,omitempty"`
	SessionURL        string          `bun:"session_url,nullzero" json:"session_url,omitempty"`
	PaidAt            time.Time       `bun:"paid_at,nullzero" json:"paid_at,omitempty"`
	Metadata          json.RawMessage `bun:"metadata,nullzero" json:"metadata,omitempty"`
	CreatedAt         time.Time       `bun:"created_at" json:"created_at"`
}

// OrderItem is one line of an Order. Items are written once at checkout time
// and never mutated afterwards; Meta carries the frozen per-type snapshot so
// later plan or price edits cannot change a paid purchase.
type OrderItem struct {
	bun.BaseModel `bun:"table:order_items"`

	OrderItemID string          `bun:"order_item_id,pk" json:"order_item_id"`
	OrderID     string          `bun:"order_id" json:"order_id"`
	Type        ItemType        `bun:"item_type" json:"item_type"`
	TargetID    string          `bun:"item_id" json:"item_id"`
	Quantity    int             `bun:"quantity" json:"quantity"`
	UnitPrice   int64           `bun:"unit_price" json:"unit_price"`
	Total       int64           `bun:"total" json:"total"`
	Meta        json.RawMessage `bun:"metadata,nullzero" json:"metadata,omitempty"`
}

// ListingPlanMeta is the frozen snapshot for a listing_plan item.
type ListingPlanMeta struct {
	PlanID       string `json:"plan_id"`
	PlanName     string `json:"plan_name"`
	DurationDays int    `json:"duration_days"`
	AutoApprove  bool   `json:"auto_approve"`
}

// ForumStickyMeta is the frozen snapshot for a forum_sticky item.
type ForumStickyMeta struct {
	PlanID       string `json:"plan_id"`
	PlanName     string `json:"plan_name"`
	DurationDays int    `json:"duration_days"`
}

// TicketMeta is the frozen snapshot for a ticket item. UnitPrice repeats the
// item's unit price so the ticket row survives later price changes.
type TicketMeta struct {
	EventID      string `json:"event_id"`
	TicketTypeID string `json:"ticket_type_id"`
	TicketName   string `json:"ticket_name"`
	UnitPrice    int64  `json:"unit_price"`
}

func EncodeMeta(v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode item metadata: %w", err)
	}
	return raw, nil
}

func (i OrderItem) ListingPlanMeta() (ListingPlanMeta, error) {
	var m ListingPlanMeta
	if i.Type != ItemListingPlan {
		return m, fmt.Errorf("item %s is %s, not %s", i.OrderItemID, i.Type, ItemListingPlan)
	}
	err := json.Unmarshal(i.Meta, &m)
	return m, err
}

func (i OrderItem) ForumStickyMeta() (ForumStickyMeta, error) {
	var m ForumStickyMeta
	if i.Type != ItemForumSticky {
		return m, fmt.Errorf("item %s is %s, not %s", i.OrderItemID, i.Type, ItemForumSticky)
	}
	err := json.Unmarshal(i.Meta, &m)
	return m, err
}

func (i OrderItem) TicketMeta() (TicketMeta, error) {
	var m TicketMeta
	if i.Type != ItemTicket {
		return m, fmt.Errorf("item %s is %s, not %s", i.OrderItemID, i.Type, ItemTicket)
	}
	err := json.Unmarshal(i.Meta, &m)
	return m, err
}

// OrderWithItems is the API shape returned by checkout and order reads.
type OrderWithItems struct {
	Order
	Items []OrderItem `json:"items"`
}
