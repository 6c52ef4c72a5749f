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
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/flowvane/creditdesk/internal/payment/domain"
)

func TestVerifySignature(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{"id":"evt_123","type":"checkout.session.completed","data":{"object":{}}}`)
	timestamp := time.Now().Unix()

	header := buildStripeSignatureHeader(secret, payload, timestamp)
	reqHeader := http.Header{}
	reqHeader.Set("Stripe-Signature", header)

	adapter := &Adapter{webhookSecret: secret}
	if err := adapter.Verify(context.Background(), payload, reqHeader); err != nil {
		t.Fatalf("expected valid signature, got error: %v", err)
	}

	reqHeader.Set("Stripe-Signature", buildStripeSignatureHeader("wrong", payload, timestamp))
	if err := adapter.Verify(context.Background(), payload, reqHeader); err == nil {
		t.Fatalf("expected invalid signature error")
	}

	reqHeader.Del("Stripe-Signature")
	if err := adapter.Verify(context.Background(), payload, reqHeader); !errors.Is(err, paymentdomain.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestParseCheckoutEvents(t *testing.T) {
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	orderID := node.Generate()
	created := time.Now().UTC().Unix()

	tests := []struct {
		name     string
		event    any
		wantType string
	}{{
		name: "checkout.session.completed",
		event: map[string]any{
			"id":      "evt_cs_done",
			"type":    "checkout.session.completed",
			"created": created,
			"data": map[string]any{
				"object": map[string]any{
					"id":             "cs_1",
					"payment_intent": "pi_1",
					"amount_total":   49900,
					"currency":       "usd",
					"created":        created,
					"metadata": map[string]any{
						"order_id": orderID.String(),
					},
				},
			},
		},
		wantType: paymentdomain.EventTypeCheckoutCompleted,
	}, {
		name: "checkout.session.expired",
		event: map[string]any{
			"id":      "evt_cs_gone",
			"type":    "checkout.session.expired",
			"created": created,
			"data": map[string]any{
				"object": map[string]any{
					"id":       "cs_1",
					"currency": "usd",
					"created":  created,
					"metadata": map[string]any{
						"order_id": orderID.String(),
					},
				},
			},
		},
		wantType: paymentdomain.EventTypeCheckoutExpired,
	}}

	adapter := &Adapter{webhookSecret: "whsec_test"}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := json.Marshal(tt.event)
			if err != nil {
				t.Fatalf("marshal payload: %v", err)
			}
			event, err := adapter.Parse(context.Background(), payload)
			if err != nil {
				t.Fatalf("parse event: %v", err)
			}
			if event.Type != tt.wantType {
				t.Fatalf("expected type %s, got %s", tt.wantType, event.Type)
			}
			if event.OrderID != orderID {
				t.Fatalf("expected order id %s, got %s", orderID, event.OrderID)
			}
			if event.CheckoutSessionID != "cs_1" {
				t.Fatalf("expected session cs_1, got %s", event.CheckoutSessionID)
			}
			if event.Currency != "USD" {
				t.Fatalf("expected currency USD, got %s", event.Currency)
			}
		})
	}
}

func TestParseInvoicePaid(t *testing.T) {
	created := time.Now().UTC().Unix()
	periodStart := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	periodEnd := periodStart.AddDate(0, 1, 0)

	payload, err := json.Marshal(map[string]any{
		"id":      "evt_inv",
		"type":    "invoice.paid",
		"created": created,
		"data": map[string]any{
			"object": map[string]any{
				"id":                 "in_1",
				"subscription":       "sub_1",
				"amount_paid":        9900,
				"currency":           "usd",
				"hosted_invoice_url": "https://pay.example.com/in_1",
				"period_start":       periodStart.Unix(),
				"period_end":         periodEnd.Unix(),
				"created":            created,
			},
		},
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	adapter := &Adapter{webhookSecret: "whsec_test"}
	event, err := adapter.Parse(context.Background(), payload)
	if err != nil {
		t.Fatalf("parse event: %v", err)
	}
	if event.Type != paymentdomain.EventTypeInvoicePaid {
		t.Fatalf("expected invoice_paid, got %s", event.Type)
	}
	if event.SubscriptionRef != "sub_1" {
		t.Fatalf("expected subscription sub_1, got %s", event.SubscriptionRef)
	}
	if !event.PeriodStart.Equal(periodStart) || !event.PeriodEnd.Equal(periodEnd) {
		t.Fatalf("unexpected period %s..%s", event.PeriodStart, event.PeriodEnd)
	}
	if event.ReceiptRef != "https://pay.example.com/in_1" {
		t.Fatalf("unexpected receipt ref %s", event.ReceiptRef)
	}
}

func TestParseIgnoresUnknownEvents(t *testing.T) {
	payload := []byte(`{"id":"evt_x","type":"customer.created","data":{"object":{}}}`)
	adapter := &Adapter{webhookSecret: "whsec_test"}
	if _, err := adapter.Parse(context.Background(), payload); !errors.Is(err, paymentdomain.ErrEventIgnored) {
		t.Fatalf("expected ErrEventIgnored, got %v", err)
	}
}

func buildStripeSignatureHeader(secret string, payload []byte, timestamp int64) string {
	signedPayload := fmt.Sprintf("%d.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signedPayload))
	signature := hex.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("t=%d,v1=%s", timestamp, signature)
}
