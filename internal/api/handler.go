package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"ms-orders/internal/auth"
	"ms-orders/internal/catalog"
	"ms-orders/internal/checkout"
	"ms-orders/internal/inventory"
	"ms-orders/internal/invoice"
	"ms-orders/internal/ledger"
	"ms-orders/internal/logger"
	"ms-orders/internal/models"
	"ms-orders/internal/payment"
	"ms-orders/internal/refund"
	"ms-orders/internal/webhook"

	"github.com/go-chi/chi/v5"
)

// Payloads above 64KB are not something the provider sends.
const maxWebhookBody = 65536

type Handler struct {
	Checkout *checkout.Service
	Webhooks *webhook.Processor
	Orders   *ledger.DB
	Invoices *invoice.Service
	Refunds  *refund.Coordinator
	Logger   *logger.Logger
}

func NewHandler(co *checkout.Service, wh *webhook.Processor, orders *ledger.DB, inv *invoice.Service, rf *refund.Coordinator, log *logger.Logger) *Handler {
	return &Handler{
		Checkout: co,
		Webhooks: wh,
		Orders:   orders,
		Invoices: inv,
		Refunds:  rf,
		Logger:   log,
	}
}

// Routes mounts every endpoint. The webhook route stays outside the auth
// group; the provider signs its requests instead of carrying a bearer token.
func (h *Handler) Routes(r chi.Router, authMiddleware func(http.Handler) http.Handler) {
	r.Post("/api/payments/webhook", h.StripeWebhook)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/api/checkout/listing", h.CreateListingCheckout)
		r.Post("/api/checkout/forum-sticky", h.CreateForumStickyCheckout)
		r.Post("/api/checkout/tickets", h.CreateTicketCheckout)
		r.Get("/api/orders", h.ListOrders)
		r.Get("/api/orders/{orderId}", h.GetOrder)
		r.Get("/api/orders/{orderId}/invoice", h.GetInvoice)
		r.Post("/api/orders/{orderId}/refund", h.RefundOrder)
	})
}

func (h *Handler) CreateListingCheckout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ListingID string `json:"listing_id"`
		PlanID    string `json:"plan_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.ListingID == "" || req.PlanID == "" {
		http.Error(w, "listing_id and plan_id are required", http.StatusBadRequest)
		return
	}

	buyerID := auth.UserID(r.Context())
	h.Logger.Info("API", fmt.Sprintf("CreateListingCheckout: buyer=%s listing=%s plan=%s", buyerID, req.ListingID, req.PlanID))

	result, err := h.Checkout.CreateListingPlanCheckout(r.Context(), buyerID, req.ListingID, req.PlanID)
	if err != nil {
		h.checkoutError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, result)
}

func (h *Handler) CreateForumStickyCheckout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TopicID string `json:"topic_id"`
		PlanID  string `json:"plan_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.TopicID == "" || req.PlanID == "" {
		http.Error(w, "topic_id and plan_id are required", http.StatusBadRequest)
		return
	}

	buyerID := auth.UserID(r.Context())
	h.Logger.Info("API", fmt.Sprintf("CreateForumStickyCheckout: buyer=%s topic=%s plan=%s", buyerID, req.TopicID, req.PlanID))

	result, err := h.Checkout.CreateForumStickyCheckout(r.Context(), buyerID, req.TopicID, req.PlanID)
	if err != nil {
		h.checkoutError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, result)
}

func (h *Handler) CreateTicketCheckout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EventID    string                     `json:"event_id"`
		Selections []checkout.TicketSelection `json:"selections"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.EventID == "" {
		http.Error(w, "event_id is required", http.StatusBadRequest)
		return
	}

	buyerID := auth.UserID(r.Context())
	h.Logger.Info("API", fmt.Sprintf("CreateTicketCheckout: buyer=%s event=%s selections=%d", buyerID, req.EventID, len(req.Selections)))

	result, err := h.Checkout.CreateTicketCheckout(r.Context(), buyerID, req.EventID, req.Selections)
	if err != nil {
		h.checkoutError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, result)
}

// StripeWebhook hands the raw body and signature to the processor. Any non-2xx
// answer makes the provider redeliver later.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("StripeWebhook: failed to read body: %v", err))
		http.Error(w, "Failed to read request body", http.StatusServiceUnavailable)
		return
	}

	if err := h.Webhooks.Process(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		var procErr *webhook.ProcessingError
		if errors.As(err, &procErr) {
			http.Error(w, procErr.PublicError, procErr.StatusCode)
			return
		}
		http.Error(w, "Webhook processing error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	buyerID := auth.UserID(r.Context())
	orders, err := h.Orders.GetOrdersByBuyer(r.Context(), buyerID)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("ListOrders: %v", err))
		http.Error(w, "Failed to load orders", http.StatusInternalServerError)
		return
	}
	h.respondJSON(w, http.StatusOK, orders)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := h.loadOwnedOrder(w, r)
	if !ok {
		return
	}
	h.respondJSON(w, http.StatusOK, order)
}

func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	order, ok := h.loadOwnedOrder(w, r)
	if !ok {
		return
	}

	inv, err := h.Invoices.GetForOrder(r.Context(), order.OrderID)
	if errors.Is(err, invoice.ErrInvoiceNotFound) {
		http.Error(w, "Order has no invoice", http.StatusNotFound)
		return
	}
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetInvoice: %v", err))
		http.Error(w, "Failed to load invoice", http.StatusInternalServerError)
		return
	}
	h.respondJSON(w, http.StatusOK, inv)
}

func (h *Handler) RefundOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := h.loadOwnedOrder(w, r)
	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req) // reason is optional
	}

	refunded, err := h.Refunds.RefundOrder(r.Context(), order.OrderID, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, refund.ErrInvalidState):
			http.Error(w, "Order cannot be refunded in its current state", http.StatusConflict)
		case errors.Is(err, payment.ErrProviderUnavailable):
			http.Error(w, "Payment provider unavailable", http.StatusBadGateway)
		default:
			h.Logger.Error("API", fmt.Sprintf("RefundOrder: %v", err))
			http.Error(w, "Refund failed", http.StatusInternalServerError)
		}
		return
	}
	h.respondJSON(w, http.StatusOK, refunded)
}

// loadOwnedOrder fetches the order and enforces that the caller owns it. A
// foreign order answers 404, not 403, so order ids cannot be probed.
func (h *Handler) loadOwnedOrder(w http.ResponseWriter, r *http.Request) (*models.OrderWithItems, bool) {
	orderID := chi.URLParam(r, "orderId")
	order, err := h.Orders.GetOrderWithItems(r.Context(), orderID)
	if errors.Is(err, ledger.ErrOrderNotFound) {
		http.Error(w, "Order not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("loadOwnedOrder: %v", err))
		http.Error(w, "Failed to load order", http.StatusInternalServerError)
		return nil, false
	}
	if order.BuyerID != auth.UserID(r.Context()) {
		http.Error(w, "Order not found", http.StatusNotFound)
		return nil, false
	}
	return order, true
}

// checkoutError maps checkout failures onto statuses: bad input 400/422,
// contention 409, provider trouble 502.
func (h *Handler) checkoutError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, checkout.ErrInvalidPlan):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, checkout.ErrInvalidSelection):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, checkout.ErrNotOwner):
		http.Error(w, "You do not own this item", http.StatusForbidden)
	case errors.Is(err, inventory.ErrInsufficientInventory):
		http.Error(w, "Not enough tickets available", http.StatusConflict)
	case errors.Is(err, payment.ErrProviderUnavailable):
		http.Error(w, "Payment provider unavailable", http.StatusBadGateway)
	case errors.Is(err, catalog.ErrListingNotFound),
		errors.Is(err, catalog.ErrPlanNotFound),
		errors.Is(err, catalog.ErrTopicNotFound),
		errors.Is(err, catalog.ErrEventNotFound),
		errors.Is(err, catalog.ErrBuyerNotFound),
		errors.Is(err, inventory.ErrTicketTypeNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		h.Logger.Error("API", fmt.Sprintf("checkout failed: %v", err))
		http.Error(w, "Checkout failed", http.StatusInternalServerError)
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.Logger.Error("API", fmt.Sprintf("Failed to encode response: %v", err))
	}
}
