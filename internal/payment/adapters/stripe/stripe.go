package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/flowvane/creditdesk/internal/payment/domain"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "stripe"
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	secret, ok := readString(cfg.Config, "webhook_secret")
	if !ok {
		return nil, paymentdomain.ErrInvalidConfig
	}
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}

	return &Adapter{
		webhookSecret: secret,
	}, nil
}

type Adapter struct {
	webhookSecret string
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return paymentdomain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseStripeSignature(sigHeader)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return paymentdomain.ErrInvalidSignature
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.PaymentEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	switch strings.TrimSpace(event.Type) {
	case "checkout.session.completed":
		return a.parseCheckoutSession(event, payload, paymentdomain.EventTypeCheckoutCompleted)
	case "checkout.session.expired":
		return a.parseCheckoutSession(event, payload, paymentdomain.EventTypeCheckoutExpired)
	case "invoice.paid":
		return a.parseInvoice(event, payload)
	default:
		return nil, paymentdomain.ErrEventIgnored
	}
}

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripeCheckoutSession struct {
	ID            string         `json:"id"`
	PaymentIntent string         `json:"payment_intent"`
	AmountTotal   int64          `json:"amount_total"`
	Currency      string         `json:"currency"`
	Created       int64          `json:"created"`
	Metadata      map[string]any `json:"metadata"`
}

type stripeInvoice struct {
	ID               string         `json:"id"`
	Subscription     string         `json:"subscription"`
	AmountPaid       int64          `json:"amount_paid"`
	Currency         string         `json:"currency"`
	HostedInvoiceURL string         `json:"hosted_invoice_url"`
	PeriodStart      int64          `json:"period_start"`
	PeriodEnd        int64          `json:"period_end"`
	Created          int64          `json:"created"`
	Metadata         map[string]any `json:"metadata"`
}

func (a *Adapter) parseCheckoutSession(event stripeEvent, payload []byte, eventType string) (*paymentdomain.PaymentEvent, error) {
	var session stripeCheckoutSession
	if err := json.Unmarshal(event.Data.Object, &session); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(session.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	orderID, err := parseMetadataOrderID(session.Metadata)
	if err != nil {
		return nil, err
	}

	occurredAt := timestamp(session.Created, event.Created)
	return &paymentdomain.PaymentEvent{
		Provider:          "stripe",
		ProviderEventID:   event.ID,
		Type:              eventType,
		OrderID:           orderID,
		CheckoutSessionID: session.ID,
		PaymentIntentRef:  strings.TrimSpace(session.PaymentIntent),
		AmountCents:       session.AmountTotal,
		Currency:          strings.ToUpper(strings.TrimSpace(session.Currency)),
		OccurredAt:        occurredAt,
		RawPayload:        payload,
	}, nil
}

func (a *Adapter) parseInvoice(event stripeEvent, payload []byte) (*paymentdomain.PaymentEvent, error) {
	var invoice stripeInvoice
	if err := json.Unmarshal(event.Data.Object, &invoice); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(invoice.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	// Renewal grants are keyed by (subscription, period); an invoice without
	// a subscription reference belongs to a one-time checkout and the
	// checkout event already covers it.
	if strings.TrimSpace(invoice.Subscription) == "" {
		return nil, paymentdomain.ErrEventIgnored
	}

	orderID, err := parseMetadataOrderID(invoice.Metadata)
	if err != nil {
		return nil, err
	}

	occurredAt := timestamp(invoice.Created, event.Created)
	return &paymentdomain.PaymentEvent{
		Provider:        "stripe",
		ProviderEventID: event.ID,
		Type:            paymentdomain.EventTypeInvoicePaid,
		OrderID:         orderID,
		SubscriptionRef: strings.TrimSpace(invoice.Subscription),
		PeriodStart:     time.Unix(invoice.PeriodStart, 0).UTC(),
		PeriodEnd:       time.Unix(invoice.PeriodEnd, 0).UTC(),
		ReceiptRef:      strings.TrimSpace(invoice.HostedInvoiceURL),
		AmountCents:     invoice.AmountPaid,
		Currency:        strings.ToUpper(strings.TrimSpace(invoice.Currency)),
		OccurredAt:      occurredAt,
		RawPayload:      payload,
	}, nil
}

func parseMetadataOrderID(metadata map[string]any) (snowflake.ID, error) {
	raw, ok := metadata["order_id"]
	if !ok {
		return 0, nil
	}
	switch value := raw.(type) {
	case string:
		value = strings.TrimSpace(value)
		if value == "" {
			return 0, nil
		}
		id, err := snowflake.ParseString(value)
		if err != nil {
			return 0, paymentdomain.ErrInvalidEvent
		}
		return id, nil
	case float64:
		return snowflake.ParseInt64(int64(value)), nil
	default:
		return 0, paymentdomain.ErrInvalidEvent
	}
}

func parseStripeSignature(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	if _, err := strconv.ParseInt(timestamp, 10, 64); err != nil {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}

func timestamp(primary int64, fallback int64) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}

func readString(config map[string]any, key string) (string, bool) {
	raw, ok := config[key]
	if !ok {
		return "", false
	}
	value, ok := raw.(string)
	return value, ok
}
