package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ms-orders/internal/config"
	"ms-orders/internal/logger"
	"ms-orders/internal/models"

	"github.com/segmentio/kafka-go"
)

// OrderEvent is the envelope downstream consumers (notifications, search,
// accounting) receive on every order lifecycle change.
type OrderEvent struct {
	OrderID    string             `json:"order_id"`
	BuyerID    string             `json:"buyer_id"`
	Status     models.OrderStatus `json:"status"`
	Total      int64              `json:"total"`
	Currency   string             `json:"currency"`
	OccurredAt time.Time          `json:"occurred_at"`
}

// InvoiceEvent announces a freshly numbered invoice.
type InvoiceEvent struct {
	InvoiceID  string    `json:"invoice_id"`
	OrderID    string    `json:"order_id"`
	Number     string    `json:"invoice_number"`
	Total      int64     `json:"total"`
	Currency   string    `json:"currency"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Producer streams order lifecycle events, one writer per topic. With
// Enabled false every publish is a logged no-op, which keeps local
// development free of a broker requirement.
type Producer struct {
	paid     *kafka.Writer
	failed   *kafka.Writer
	refunded *kafka.Writer
	invoiced *kafka.Writer
	enabled  bool
	log      *logger.Logger
}

func NewProducer(cfg config.KafkaConfig, log *logger.Logger) *Producer {
	p := &Producer{enabled: cfg.Enabled, log: log}
	if !cfg.Enabled {
		log.Warn("KAFKA", "Event publishing disabled, order events will only be logged")
		return p
	}
	p.paid = newWriter(cfg.Brokers, cfg.Topics.OrderPaid)
	p.failed = newWriter(cfg.Brokers, cfg.Topics.OrderFailed)
	p.refunded = newWriter(cfg.Brokers, cfg.Topics.OrderRefunded)
	p.invoiced = newWriter(cfg.Brokers, cfg.Topics.InvoiceCreated)
	return p
}

func newWriter(brokers []string, topic string) *kafka.Writer {
	return kafka.NewWriter(kafka.WriterConfig{
		Brokers: brokers,
		Topic:   topic,
	})
}

func (p *Producer) PublishOrderPaid(ctx context.Context, order *models.Order) error {
	return p.publishOrder(ctx, p.paid, order)
}

func (p *Producer) PublishOrderFailed(ctx context.Context, order *models.Order) error {
	return p.publishOrder(ctx, p.failed, order)
}

func (p *Producer) PublishOrderRefunded(ctx context.Context, order *models.Order) error {
	return p.publishOrder(ctx, p.refunded, order)
}

func (p *Producer) PublishInvoiceCreated(ctx context.Context, inv *models.Invoice) error {
	ev := InvoiceEvent{
		InvoiceID:  inv.InvoiceID,
		OrderID:    inv.OrderID,
		Number:     inv.Number,
		Total:      inv.Total,
		Currency:   inv.Currency,
		OccurredAt: time.Now().UTC(),
	}
	return p.publish(ctx, p.invoiced, inv.OrderID, ev)
}

func (p *Producer) publishOrder(ctx context.Context, w *kafka.Writer, order *models.Order) error {
	ev := OrderEvent{
		OrderID:    order.OrderID,
		BuyerID:    order.BuyerID,
		Status:     order.Status,
		Total:      order.Total,
		Currency:   order.Currency,
		OccurredAt: time.Now().UTC(),
	}
	return p.publish(ctx, w, order.OrderID, ev)
}

func (p *Producer) publish(ctx context.Context, w *kafka.Writer, key string, payload any) error {
	msgBytes, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if !p.enabled || w == nil {
		p.log.Info("KAFKA", fmt.Sprintf("(disabled) would publish: %s", string(msgBytes)))
		return nil
	}
	return w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: msgBytes,
	})
}

func (p *Producer) Close() error {
	var firstErr error
	for _, w := range []*kafka.Writer{p.paid, p.failed, p.refunded, p.invoiced} {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
