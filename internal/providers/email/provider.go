// Package email sends best-effort notifications. Delivery failures are the
// caller's problem to log, never to propagate into an accounting operation.
package email

import "context"

type Provider interface {
	Send(ctx context.Context, to []string, subject string, htmlBody string) error
}

type NoOpProvider struct{}

func (p *NoOpProvider) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	return nil
}
