// Package domain defines fulfillment: turning a verified checkout event into
// a paid order, a credit lot, a ledger credit and an invoice, exactly once no
// matter how many times the provider delivers the event.
package domain

import (
	"context"
	"errors"
	"time"

	paymentdomain "github.com/flowvane/creditdesk/internal/payment/domain"
)

var (
	// ErrOrderNotFound is permanent: retrying the same delivery cannot make
	// the order appear.
	ErrOrderNotFound = errors.New("order_not_found")
	ErrInvalidEvent  = errors.New("invalid_event")
)

type Service interface {
	// ProcessPaymentEvent handles checkout completion and expiry. Duplicate
	// and concurrent deliveries resolve to success without double-granting.
	ProcessPaymentEvent(ctx context.Context, event *paymentdomain.PaymentEvent) error
	// ReconcilePaid grants the missing lot for paid orders whose fulfillment
	// died between the status flip and the grant. Returns how many orders
	// were repaired.
	ReconcilePaid(ctx context.Context, now time.Time) (int, error)
}
