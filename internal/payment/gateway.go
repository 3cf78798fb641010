package payment

import (
	"context"
	"errors"
)

var (
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	ErrSignatureInvalid    = errors.New("webhook signature verification failed")
)

// LineItem is one display line of a hosted checkout session. Amounts are in
// minor currency units.
type LineItem struct {
	Name       string
	Quantity   int64
	UnitAmount int64
}

type SessionParams struct {
	OrderID    string
	BuyerEmail string
	Currency   string
	LineItems  []LineItem
	SuccessURL string
	CancelURL  string
}

type Session struct {
	ID  string
	URL string
}

// EventKind is the normalized set of provider events the pipeline reacts to.
type EventKind string

const (
	EventCheckoutCompleted EventKind = "checkout.session.completed"
	EventCheckoutExpired   EventKind = "checkout.session.expired"
	EventPaymentFailed     EventKind = "payment_intent.payment_failed"
	EventChargeRefunded    EventKind = "charge.refunded"
	EventUnknown           EventKind = ""
)

// Event is a verified, provider-independent webhook event. OrderID comes from
// the metadata the gateway attached when the session was created; ProviderRef
// is the provider's transaction id.
type Event struct {
	ID          string
	Kind        EventKind
	RawType     string
	OrderID     string
	ProviderRef string
}

// Gateway is the capability the pipeline needs from a payment provider. The
// core logic never touches provider SDK types directly, so it is testable
// without a live provider and a second provider shares the contract.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, p SessionParams) (*Session, error)
	Refund(ctx context.Context, providerRef string, amount int64, reason string) (string, error)
}

// EventVerifier checks a webhook payload's signature and normalizes it. A
// verification failure must cause rejection with no state change.
type EventVerifier interface {
	VerifyEvent(payload []byte, sigHeader string) (Event, error)
}
