// Package pdf renders printable receipts for paid credit orders.
package pdf

import (
	"context"
	"io"
)

// ReceiptData is everything the receipt layout needs, preformatted. Amount
// strings arrive display-ready so the renderer stays currency-agnostic.
type ReceiptData struct {
	ReceiptNumber string
	DatePaid      string
	OrgName       string
	ProviderName  string
	SupportEmail  string
	BundleName    string
	Hours         string
	Total         string
}

type Provider interface {
	GenerateReceipt(ctx context.Context, data ReceiptData) (io.Reader, error)
}

type NoOpProvider struct{}

func (p *NoOpProvider) GenerateReceipt(ctx context.Context, data ReceiptData) (io.Reader, error) {
	return nil, nil
}
