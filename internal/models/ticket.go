package models

import (
	"time"

	"github.com/uptrace/bun"
)

// TicketType holds the shared inventory counters for one ticket tier of one
// event. Invariant: sold + reserved never exceeds capacity; the only writes
// are the conditional updates in the inventory store.
type TicketType struct {
	bun.BaseModel `bun:"table:ticket_types"`

	TicketTypeID string `bun:"ticket_type_id,pk" json:"ticket_type_id"`
	EventID      string `bun:"event_id" json:"event_id"`
	Name         string `bun:"name" json:"name"`
	Price        int64  `bun:"price" json:"price"`
	Capacity     int    `bun:"capacity" json:"capacity"`
	Sold         int    `bun:"sold" json:"sold"`
	Reserved     int    `bun:"reserved" json:"reserved"`
}

func (t TicketType) Remaining() int {
	return t.Capacity - t.Sold - t.Reserved
}

// TicketOrder aggregates one fulfilled ticket purchase. The unique
// order_item_id is what makes ticket fulfillment re-entrant: a second
// dispatch for the same item finds the existing row and stops.
type TicketOrder struct {
	bun.BaseModel `bun:"table:ticket_orders"`

	TicketOrderID string    `bun:"ticket_order_id,pk" json:"ticket_order_id"`
	OrderItemID   string    `bun:"order_item_id,unique" json:"order_item_id"`
	OrderID       string    `bun:"order_id" json:"order_id"`
	BuyerID       string    `bun:"buyer_id" json:"buyer_id"`
	EventID       string    `bun:"event_id" json:"event_id"`
	TicketTypeID  string    `bun:"ticket_type_id" json:"ticket_type_id"`
	Quantity      int       `bun:"quantity" json:"quantity"`
	CreatedAt     time.Time `bun:"created_at" json:"created_at"`
}

type QRStatus string

const (
	QRValid QRStatus = "valid"
	QRUsed  QRStatus = "used"
	QRVoid  QRStatus = "void"
)

// TicketQRCode is one admission unit. Code is globally unique; the PNG is the
// encrypted QR image handed to the buyer.
type TicketQRCode struct {
	bun.BaseModel `bun:"table:ticket_qr_codes"`

	Code          string    `bun:"code,pk" json:"code"`
	TicketOrderID string    `bun:"ticket_order_id" json:"ticket_order_id"`
	EventID       string    `bun:"event_id" json:"event_id"`
	Status        QRStatus  `bun:"status" json:"status"`
	PNG           []byte    `bun:"png" json:"-"`
	IssuedAt      time.Time `bun:"issued_at" json:"issued_at"`
}

// QRPayload is what gets encrypted into the QR image.
type QRPayload struct {
	Code          string    `json:"code"`
	TicketOrderID string    `json:"ticket_order_id"`
	EventID       string    `json:"event_id"`
	IssuedAt      time.Time `json:"issued_at"`
}
