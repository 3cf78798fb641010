package models

import (
	"time"

	"github.com/uptrace/bun"
)

// WebhookEvent records every provider event id that has been accepted for
// processing. The primary key is the provider's event id, so a redelivered
// event is recognized before any business logic runs.
type WebhookEvent struct {
	bun.BaseModel `bun:"table:webhook_events"`

	EventID    string    `bun:"event_id,pk" json:"event_id"`
	Provider   string    `bun:"provider" json:"provider"`
	Type       string    `bun:"type" json:"type"`
	OrderID    string    `bun:"order_id,nullzero" json:"order_id,omitempty"`
	ReceivedAt time.Time `bun:"received_at" json:"received_at"`
}
