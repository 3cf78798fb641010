package invoice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ms-orders/internal/logger"
	"ms-orders/internal/models"
	"ms-orders/internal/vat"

	"github.com/google/uuid"
)

type BuyerSource interface {
	GetBuyer(ctx context.Context, id string) (*models.Buyer, error)
}

type Publisher interface {
	PublishInvoiceCreated(ctx context.Context, inv *models.Invoice) error
}

// Service creates exactly one invoice per paid order. Creation is getOrCreate
// on the unique order_id, so the payment path can call it any number of
// times.
type Service struct {
	Store     *Store
	Buyers    BuyerSource
	VAT       *vat.Table
	Worker    *Worker
	Publisher Publisher
	Logger    *logger.Logger
}

func NewService(store *Store, buyers BuyerSource, vatTable *vat.Table, worker *Worker, pub Publisher, log *logger.Logger) *Service {
	return &Service{Store: store, Buyers: buyers, VAT: vatTable, Worker: worker, Publisher: pub, Logger: log}
}

// EnsureInvoice returns the order's invoice, creating it first when it does
// not exist yet. Amounts come from the order, never recomputed, so the
// invoice always matches what was charged.
func (s *Service) EnsureInvoice(ctx context.Context, order *models.Order) (*models.Invoice, error) {
	inv, err := s.Store.GetByOrderID(ctx, order.OrderID)
	if err == nil {
		if inv.PDFURL == "" {
			s.Worker.Enqueue(inv.InvoiceID)
		}
		return inv, nil
	}
	if !errors.Is(err, ErrInvoiceNotFound) {
		return nil, err
	}

	buyer, err := s.Buyers.GetBuyer(ctx, order.BuyerID)
	if err != nil {
		return nil, fmt.Errorf("load buyer for invoice: %w", err)
	}

	billing, err := json.Marshal(models.BillingDetails{
		Name:       buyer.Name,
		Company:    buyer.Company,
		Email:      buyer.Email,
		VATNumber:  buyer.VATNumber,
		Street:     buyer.Street,
		City:       buyer.City,
		PostalCode: buyer.PostalCode,
		Country:    buyer.Country,
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot billing details: %w", err)
	}

	issuedAt := order.PaidAt
	if issuedAt.IsZero() {
		issuedAt = time.Now().UTC()
	}

	inv = &models.Invoice{
		InvoiceID:  uuid.NewString(),
		OrderID:    order.OrderID,
		Year:       issuedAt.Year(),
		VATCountry: buyer.Country,
		VATRate:    s.VAT.Rate(buyer.Country),
		Subtotal:   order.Subtotal,
		Tax:        order.Tax,
		Total:      order.Total,
		Currency:   order.Currency,
		Billing:    billing,
		CreatedAt:  issuedAt,
	}

	if err := s.Store.CreateWithSequence(ctx, inv); err != nil {
		// A concurrent call may have won the unique order_id race; the
		// existing invoice is the right answer then.
		if existing, getErr := s.Store.GetByOrderID(ctx, order.OrderID); getErr == nil {
			return existing, nil
		}
		return nil, err
	}
	s.Logger.Info("INVOICE", fmt.Sprintf("Invoice %s created for order %s", inv.Number, order.OrderID))

	s.Worker.Enqueue(inv.InvoiceID)

	if s.Publisher != nil {
		if err := s.Publisher.PublishInvoiceCreated(ctx, inv); err != nil {
			s.Logger.Error("INVOICE", fmt.Sprintf("Failed to publish invoice.created for %s: %v", inv.Number, err))
		}
	}
	return inv, nil
}

// GetForOrder serves the retrieval endpoint. An invoice whose background
// render never finished gets rendered here, on first access.
func (s *Service) GetForOrder(ctx context.Context, orderID string) (*models.Invoice, error) {
	inv, err := s.Store.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if inv.PDFURL == "" {
		if err := s.Worker.RenderAndUpload(ctx, inv.InvoiceID); err != nil {
			s.Logger.Error("INVOICE", fmt.Sprintf("On-demand render of invoice %s failed: %v", inv.Number, err))
			return inv, nil
		}
		return s.Store.GetByOrderID(ctx, orderID)
	}
	return inv, nil
}
