package pdf

import (
	"bytes"
	"context"
	"io"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

type MarotoProvider struct{}

func NewMarotoProvider() *MarotoProvider {
	return &MarotoProvider{}
}

func (p *MarotoProvider) GenerateReceipt(ctx context.Context, data ReceiptData) (io.Reader, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(30,
		text.NewCol(8, "Receipt", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, data.ProviderName, props.Text{
			Size:  12,
			Align: align.Right,
			Top:   4,
		}),
	)

	m.AddRow(20,
		col.New(6).Add(
			text.New("Receipt number: "+data.ReceiptNumber, props.Text{Top: 0}),
			text.New("Date paid: "+data.DatePaid, props.Text{Top: 4}),
		),
		col.New(6).Add(
			text.New("Billed to", props.Text{Style: fontstyle.Bold}),
			text.New(data.OrgName, props.Text{Top: 5}),
			text.New(data.SupportEmail, props.Text{Top: 9}),
		),
	)

	m.AddRow(15,
		text.NewCol(12, data.Total+" paid on "+data.DatePaid, props.Text{
			Size:  14,
			Style: fontstyle.Bold,
			Top:   5,
		}),
	)

	m.AddRow(10,
		text.NewCol(6, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(3, "Hours", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(3, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	m.AddRow(15,
		text.NewCol(6, data.BundleName, props.Text{Size: 9}),
		text.NewCol(3, data.Hours, props.Text{Size: 9, Align: align.Right}),
		text.NewCol(3, data.Total, props.Text{Size: 9, Align: align.Right}),
	)

	m.AddRow(10,
		col.New(8),
		text.NewCol(2, "Total", props.Text{Size: 9}),
		text.NewCol(2, data.Total, props.Text{Size: 9, Align: align.Right}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}

	return bytes.NewReader(doc.GetBytes()), nil
}
