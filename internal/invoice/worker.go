package invoice

import (
	"context"
	"fmt"
	"time"

	"ms-orders/internal/logger"
	"ms-orders/internal/models"
)

const renderAttempts = 3

type ItemSource interface {
	GetItemsByOrder(ctx context.Context, orderID string) ([]models.OrderItem, error)
}

// Worker renders invoice PDFs off the webhook path and uploads them.
// Rendering is deferred so a slow PDF library or object store never delays
// the webhook acknowledgement; a lost job is recovered by the
// render-on-first-access path in the service.
type Worker struct {
	Store    *Store
	Items    ItemSource
	Renderer *Renderer
	Objects  ObjectStore
	Logger   *logger.Logger

	jobs chan string
}

func NewWorker(store *Store, items ItemSource, renderer *Renderer, objects ObjectStore, log *logger.Logger) *Worker {
	return &Worker{
		Store:    store,
		Items:    items,
		Renderer: renderer,
		Objects:  objects,
		Logger:   log,
		jobs:     make(chan string, 64),
	}
}

// Enqueue schedules a render without blocking. When the queue is full the
// job is dropped; the document is rendered on first access instead.
func (w *Worker) Enqueue(invoiceID string) {
	select {
	case w.jobs <- invoiceID:
	default:
		w.Logger.Warn("INVOICE", fmt.Sprintf("Render queue full, deferring invoice %s to first access", invoiceID))
	}
}

func (w *Worker) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case invoiceID := <-w.jobs:
				if err := w.renderWithRetry(ctx, invoiceID); err != nil {
					w.Logger.Error("INVOICE", fmt.Sprintf("Giving up rendering invoice %s: %v", invoiceID, err))
				}
			}
		}
	}()
}

func (w *Worker) renderWithRetry(ctx context.Context, invoiceID string) error {
	var err error
	for attempt := 1; attempt <= renderAttempts; attempt++ {
		if err = w.RenderAndUpload(ctx, invoiceID); err == nil {
			return nil
		}
		w.Logger.Warn("INVOICE", fmt.Sprintf("Render attempt %d/%d for invoice %s failed: %v", attempt, renderAttempts, invoiceID, err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * time.Second):
		}
	}
	return err
}

// RenderAndUpload produces the PDF and backfills pdf_url. Safe to call for an
// invoice that already has a document; rendering is deterministic and the
// upload overwrites the same key.
func (w *Worker) RenderAndUpload(ctx context.Context, invoiceID string) error {
	inv, err := w.Store.GetByID(ctx, invoiceID)
	if err != nil {
		return err
	}
	if inv.PDFURL != "" {
		return nil
	}

	items, err := w.Items.GetItemsByOrder(ctx, inv.OrderID)
	if err != nil {
		return err
	}

	pdf, err := w.Renderer.Render(inv, items)
	if err != nil {
		return err
	}

	key := fmt.Sprintf("invoices/%d/%s.pdf", inv.Year, inv.Number)
	url, err := w.Objects.Put(ctx, key, pdf)
	if err != nil {
		return err
	}

	if err := w.Store.SetPDFURL(ctx, inv.InvoiceID, url); err != nil {
		return err
	}
	w.Logger.Info("INVOICE", fmt.Sprintf("Invoice %s rendered and stored at %s", inv.Number, url))
	return nil
}
