package invoice

import (
	"fmt"
	"strings"

	"ms-orders/internal/config"
	"ms-orders/internal/models"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	mconfig "github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// Renderer turns an invoice and its order lines into a PDF. Rendering is
// pure: the same invoice always produces the same document, which is why a
// lost PDF can simply be rendered again.
type Renderer struct {
	Company config.CompanyConfig
}

func NewRenderer(company config.CompanyConfig) *Renderer {
	return &Renderer{Company: company}
}

func (r *Renderer) Render(inv *models.Invoice, items []models.OrderItem) ([]byte, error) {
	billing, err := inv.BillingDetails()
	if err != nil {
		return nil, fmt.Errorf("decode billing details: %w", err)
	}

	cfg := mconfig.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(12,
		text.NewCol(12, "Invoice "+inv.Number, props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
	)

	m.AddRow(16,
		col.New(6).Add(
			text.New("Invoice number: "+inv.Number, props.Text{Top: 0}),
			text.New("Date of issue: "+inv.CreatedAt.Format("2006-01-02"), props.Text{Top: 4}),
			text.New("Order: "+inv.OrderID, props.Text{Top: 8}),
		),
		col.New(6),
	)

	buyerLines := []string{billing.Name}
	if billing.Company != "" {
		buyerLines = append(buyerLines, billing.Company)
	}
	buyerLines = append(buyerLines,
		billing.Street,
		billing.PostalCode+" "+billing.City,
		billing.Country,
	)
	if billing.VATNumber != "" {
		buyerLines = append(buyerLines, "VAT: "+billing.VATNumber)
	}

	m.AddRow(40,
		col.New(6).Add(
			text.New(r.Company.Name, props.Text{Style: fontstyle.Bold}),
			text.New(r.Company.Address, props.Text{Top: 5}),
			text.New(r.Company.Email, props.Text{Top: 9}),
			text.New("VAT: "+r.Company.VATID, props.Text{Top: 13}),
		),
		col.New(6).Add(
			text.New("Bill to", props.Text{Style: fontstyle.Bold}),
			text.New(strings.Join(buyerLines, ", "), props.Text{Top: 5}),
			text.New(billing.Email, props.Text{Top: 13}),
		),
	)

	m.AddRow(10,
		text.NewCol(6, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Qty", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Unit price", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	for _, item := range items {
		m.AddRow(10,
			text.NewCol(6, itemDescription(item), props.Text{Size: 9}),
			text.NewCol(2, fmt.Sprintf("%d", item.Quantity), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, formatAmount(item.UnitPrice, inv.Currency), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, formatAmount(item.Total, inv.Currency), props.Text{Size: 9, Align: align.Right}),
		)
	}

	m.AddRow(8,
		col.New(8),
		text.NewCol(2, "Subtotal", props.Text{Size: 9}),
		text.NewCol(2, formatAmount(inv.Subtotal, inv.Currency), props.Text{Size: 9, Align: align.Right}),
	)
	m.AddRow(8,
		col.New(8),
		text.NewCol(2, fmt.Sprintf("VAT %.1f%% (%s)", inv.VATRate, inv.VATCountry), props.Text{Size: 9}),
		text.NewCol(2, formatAmount(inv.Tax, inv.Currency), props.Text{Size: 9, Align: align.Right}),
	)
	m.AddRow(8,
		col.New(8),
		text.NewCol(2, "Total", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, formatAmount(inv.Total, inv.Currency), props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("render invoice pdf: %w", err)
	}
	return doc.GetBytes(), nil
}

func itemDescription(item models.OrderItem) string {
	switch item.Type {
	case models.ItemListingPlan:
		if meta, err := item.ListingPlanMeta(); err == nil {
			return meta.PlanName
		}
	case models.ItemForumSticky:
		if meta, err := item.ForumStickyMeta(); err == nil {
			return meta.PlanName
		}
	case models.ItemTicket:
		if meta, err := item.TicketMeta(); err == nil {
			return meta.TicketName
		}
	}
	return string(item.Type)
}

func formatAmount(minor int64, currency string) string {
	return fmt.Sprintf("%.2f %s", float64(minor)/100, strings.ToUpper(currency))
}
