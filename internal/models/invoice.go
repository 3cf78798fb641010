package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// BillingDetails is frozen onto the invoice at creation time. Buyer profiles
// can change after invoicing; the snapshot cannot.
type BillingDetails struct {
	Name       string `json:"name"`
	Company    string `json:"company,omitempty"`
	Email      string `json:"email"`
	VATNumber  string `json:"vat_number,omitempty"`
	Street     string `json:"street"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// Invoice is 1:1 with a paid order and immutable after creation, except for
// pdf_url which is filled in once rendering finishes.
type Invoice struct {
	bun.BaseModel `bun:"table:invoices"`

	InvoiceID  string          `bun:"invoice_id,pk" json:"invoice_id"`
	OrderID    string          `bun:"order_id,unique" json:"order_id"`
	Number     string          `bun:"invoice_number,unique" json:"invoice_number"`
	Year       int             `bun:"year" json:"year"`
	Seq        int64           `bun:"seq" json:"seq"`
	VATCountry string          `bun:"vat_country" json:"vat_country"`
	VATRate    float64         `bun:"vat_rate" json:"vat_rate"`
	Subtotal   int64           `bun:"subtotal" json:"subtotal"`
	Tax        int64           `bun:"tax" json:"tax"`
	Total      int64           `bun:"total" json:"total"`
	Currency   string          `bun:"currency" json:"currency"`
	Billing    json.RawMessage `bun:"billing_details" json:"billing_details"`
	PDFURL     string          `bun:"pdf_url,nullzero" json:"pdf_url,omitempty"`
	CreatedAt  time.Time       `bun:"created_at" json:"created_at"`
}

func (inv Invoice) BillingDetails() (BillingDetails, error) {
	var b BillingDetails
	err := json.Unmarshal(inv.Billing, &b)
	return b, err
}

// InvoiceNumber renders the canonical INV-{year}-{6-digit-seq} format.
func InvoiceNumber(year int, seq int64) string {
	return fmt.Sprintf("INV-%d-%06d", year, seq)
}

// InvoiceSequence is the per-calendar-year allocation counter. Rows are only
// ever touched by the atomic upsert in the invoice store.
type InvoiceSequence struct {
	bun.BaseModel `bun:"table:invoice_sequences"`

	Year      int   `bun:"year,pk"`
	LastValue int64 `bun:"last_value"`
}
