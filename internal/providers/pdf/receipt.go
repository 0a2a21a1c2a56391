package pdf

import (
	"context"
	"fmt"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// Receipt holds pre-formatted values; the renderer does no money math.
type Receipt struct {
	StoreName     string
	StoreEmail    string
	OrderID       string
	IssuedAt      string
	PaidAt        string
	CustomerEmail string
	PaymentMethod string
	PaymentRef    string
	Status        string

	PlanName    string
	PlanCode    string
	DataAllow   string
	Validity    string
	ICCID       string
	Amount      string
	ChargedUSD  string
	RefundLine  string
	FooterNotes string
}

type PDFProvider struct{}

func New() Renderer {
	return &PDFProvider{}
}

func (p *PDFProvider) RenderReceipt(ctx context.Context, receipt Receipt) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()
	m := maroto.New(cfg)

	m.AddRow(20,
		text.NewCol(6, "Receipt", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(6, receipt.StoreName, props.Text{
			Size:  12,
			Style: fontstyle.Bold,
			Align: align.Right,
		}),
	)

	m.AddRow(24,
		col.New(6).Add(
			text.New("Order: "+receipt.OrderID, props.Text{Top: 0}),
			text.New("Issued: "+receipt.IssuedAt, props.Text{Top: 5}),
			text.New("Paid: "+receipt.PaidAt, props.Text{Top: 10}),
			text.New("Status: "+receipt.Status, props.Text{Top: 15}),
		),
		col.New(6).Add(
			text.New("Billed to", props.Text{Style: fontstyle.Bold, Align: align.Right}),
			text.New(receipt.CustomerEmail, props.Text{Top: 5, Align: align.Right}),
			text.New(fmt.Sprintf("Paid by %s", receipt.PaymentMethod), props.Text{Top: 10, Align: align.Right}),
			text.New(receipt.PaymentRef, props.Text{Top: 15, Size: 8, Align: align.Right}),
		),
	)

	m.AddRow(15,
		text.NewCol(12, receipt.Amount+" paid on "+receipt.PaidAt, props.Text{
			Size:  14,
			Style: fontstyle.Bold,
			Top:   5,
		}),
	)

	m.AddRow(10,
		text.NewCol(6, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Data", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Validity", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	m.AddRow(15,
		col.New(6).Add(
			text.New(receipt.PlanName, props.Text{Size: 9}),
			text.New(receipt.PlanCode, props.Text{Size: 7, Top: 4}),
		),
		text.NewCol(2, receipt.DataAllow, props.Text{Size: 9, Align: align.Right}),
		text.NewCol(2, receipt.Validity, props.Text{Size: 9, Align: align.Right}),
		text.NewCol(2, receipt.Amount, props.Text{Size: 9, Align: align.Right}),
	)
	if receipt.ICCID != "" {
		m.AddRow(8, text.NewCol(12, "ICCID: "+receipt.ICCID, props.Text{Size: 8}))
	}

	m.AddRow(10,
		col.New(8),
		text.NewCol(2, "Total", props.Text{Size: 9, Style: fontstyle.Bold}),
		text.NewCol(2, receipt.Amount, props.Text{Size: 9, Style: fontstyle.Bold, Align: align.Right}),
	)
	if receipt.ChargedUSD != "" {
		m.AddRow(8,
			col.New(8),
			text.NewCol(2, "USD", props.Text{Size: 8}),
			text.NewCol(2, receipt.ChargedUSD, props.Text{Size: 8, Align: align.Right}),
		)
	}
	if receipt.RefundLine != "" {
		m.AddRow(10, text.NewCol(12, receipt.RefundLine, props.Text{Size: 9, Style: fontstyle.Bold, Top: 3}))
	}
	if receipt.FooterNotes != "" || receipt.StoreEmail != "" {
		m.AddRow(15,
			text.NewCol(12, receipt.FooterNotes+" "+receipt.StoreEmail, props.Text{Size: 8, Top: 5}),
		)
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return doc.GetBytes(), nil
}
