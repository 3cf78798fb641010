package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ms-orders/internal/logger"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

var ErrStripeClientInitFailed = errors.New("failed to initialize Stripe client")

// StripeGateway implements Gateway and EventVerifier against Stripe's hosted
// checkout and webhook APIs.
type StripeGateway struct {
	client        *client.API
	webhookSecret string
	log           *logger.Logger
}

func NewStripeGateway(secretKey, webhookSecret string, log *logger.Logger) (*StripeGateway, error) {
	if secretKey == "" {
		log.Error("STRIPE", "Stripe secret key not configured")
		return nil, ErrStripeClientInitFailed
	}

	sc := client.New(secretKey, nil)
	log.Info("STRIPE", "Stripe client initialized")
	return &StripeGateway{
		client:        sc,
		webhookSecret: webhookSecret,
		log:           log,
	}, nil
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, p SessionParams) (*Session, error) {
	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(p.LineItems))
	for _, li := range p.LineItems {
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(li.Quantity),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(p.Currency),
				UnitAmount: stripe.Int64(li.UnitAmount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(li.Name),
				},
			},
		})
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(p.SuccessURL),
		CancelURL:  stripe.String(p.CancelURL),
		LineItems:  lineItems,
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{"order_id": p.OrderID},
		},
	}
	if p.BuyerEmail != "" {
		params.CustomerEmail = stripe.String(p.BuyerEmail)
	}
	params.AddMetadata("order_id", p.OrderID)
	params.Context = ctx

	sess, err := g.client.CheckoutSessions.New(params)
	if err != nil {
		g.log.Error("STRIPE", fmt.Sprintf("Failed to create checkout session for order %s: %v", p.OrderID, err))
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	g.log.Info("STRIPE", fmt.Sprintf("Checkout session %s created for order %s", sess.ID, p.OrderID))
	return &Session{ID: sess.ID, URL: sess.URL}, nil
}

func (g *StripeGateway) Refund(ctx context.Context, providerRef string, amount int64, reason string) (string, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(providerRef),
		Amount:        stripe.Int64(amount),
	}
	if reason != "" {
		params.AddMetadata("reason", reason)
	}
	params.Context = ctx

	ref, err := g.client.Refunds.New(params)
	if err != nil {
		g.log.Error("STRIPE", fmt.Sprintf("Refund of %s failed: %v", providerRef, err))
		return "", fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	g.log.Info("STRIPE", fmt.Sprintf("Refund %s created for payment %s", ref.ID, providerRef))
	return ref.ID, nil
}

// VerifyEvent checks the Stripe-Signature header against the shared webhook
// secret and maps the event into the provider-independent shape. Unrecognized
// event types come back as EventUnknown with RawType set, never as an error.
func (g *StripeGateway) VerifyEvent(payload []byte, sigHeader string) (Event, error) {
	opts := webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	}

	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, g.webhookSecret, opts)
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	out := Event{ID: event.ID, RawType: string(event.Type)}

	switch string(event.Type) {
	case string(EventCheckoutCompleted), string(EventCheckoutExpired):
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return Event{}, fmt.Errorf("unmarshal checkout session: %w", err)
		}
		out.Kind = EventKind(event.Type)
		out.OrderID = sess.Metadata["order_id"]
		if sess.PaymentIntent != nil {
			out.ProviderRef = sess.PaymentIntent.ID
		}

	case string(EventPaymentFailed):
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return Event{}, fmt.Errorf("unmarshal payment intent: %w", err)
		}
		out.Kind = EventPaymentFailed
		out.OrderID = pi.Metadata["order_id"]
		out.ProviderRef = pi.ID

	case string(EventChargeRefunded):
		var ch stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &ch); err != nil {
			return Event{}, fmt.Errorf("unmarshal charge: %w", err)
		}
		out.Kind = EventChargeRefunded
		out.OrderID = ch.Metadata["order_id"]
		if ch.PaymentIntent != nil {
			out.ProviderRef = ch.PaymentIntent.ID
		}

	default:
		out.Kind = EventUnknown
	}

	return out, nil
}
