package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/flowvane/creditdesk/internal/config"
	fulfillmentdomain "github.com/flowvane/creditdesk/internal/fulfillment/domain"
	"github.com/flowvane/creditdesk/internal/payment/adapters"
	paymentdomain "github.com/flowvane/creditdesk/internal/payment/domain"
	subscriptiondomain "github.com/flowvane/creditdesk/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	GenID           *snowflake.Node
	Repo            paymentdomain.Repository
	Adapters        *adapters.Registry
	FulfillmentSvc  fulfillmentdomain.Service
	SubscriptionSvc subscriptiondomain.Service
	Cfg             config.Config
}

type Service struct {
	db              *gorm.DB
	log             *zap.Logger
	genID           *snowflake.Node
	repo            paymentdomain.Repository
	adapters        *adapters.Registry
	fulfillmentSvc  fulfillmentdomain.Service
	subscriptionSvc subscriptiondomain.Service
	cfg             config.Config
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:              p.DB,
		log:             p.Log.Named("payment.webhook"),
		genID:           p.GenID,
		repo:            p.Repo,
		adapters:        p.Adapters,
		fulfillmentSvc:  p.FulfillmentSvc,
		subscriptionSvc: p.SubscriptionSvc,
		cfg:             p.Cfg,
	}
}

func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return paymentdomain.ErrInvalidProvider
	}
	if s.adapters == nil || !s.adapters.ProviderExists(provider) {
		return paymentdomain.ErrProviderNotFound
	}
	if !json.Valid(payload) {
		return paymentdomain.ErrInvalidPayload
	}

	adapterCfg, err := s.providerConfig(provider)
	if err != nil {
		return err
	}
	adapter, err := s.adapters.NewAdapter(provider, adapterCfg)
	if err != nil {
		return err
	}

	if err := adapter.Verify(ctx, payload, headers); err != nil {
		return err
	}

	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			return nil
		}
		return err
	}
	if event.RawPayload == nil {
		event.RawPayload = payload
	}

	now := time.Now().UTC()
	record := paymentdomain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.Type,
		OrderID:         event.OrderID,
		Payload:         datatypes.JSON(event.RawPayload),
		ReceivedAt:      now,
	}
	inserted, err := s.repo.InsertEvent(ctx, s.db, &record)
	if err != nil {
		return err
	}
	stored := &record
	if !inserted {
		stored, err = s.repo.FindEvent(ctx, s.db, event.Provider, event.ProviderEventID)
		if err != nil {
			return err
		}
		if stored == nil {
			return paymentdomain.ErrInvalidEvent
		}
		if stored.ProcessedAt != nil {
			s.log.Info("webhook event already processed",
				zap.String("provider", event.Provider),
				zap.String("provider_event_id", event.ProviderEventID),
			)
			return nil
		}
	}

	if err := s.route(ctx, event); err != nil {
		return err
	}

	return s.repo.MarkProcessed(ctx, s.db, stored.ID, now)
}

func (s *Service) route(ctx context.Context, event *paymentdomain.PaymentEvent) error {
	switch event.Type {
	case paymentdomain.EventTypeCheckoutCompleted, paymentdomain.EventTypeCheckoutExpired:
		return s.fulfillmentSvc.ProcessPaymentEvent(ctx, event)
	case paymentdomain.EventTypeInvoicePaid:
		return s.subscriptionSvc.ProcessRenewal(ctx, event)
	default:
		return paymentdomain.ErrInvalidEvent
	}
}

// providerConfig builds the adapter config from the environment. Secrets
// live in config, one per provider.
func (s *Service) providerConfig(provider string) (paymentdomain.AdapterConfig, error) {
	switch provider {
	case "stripe":
		secret := strings.TrimSpace(s.cfg.StripeWebhookSecret)
		if secret == "" {
			return paymentdomain.AdapterConfig{}, paymentdomain.ErrInvalidConfig
		}
		return paymentdomain.AdapterConfig{
			Provider: provider,
			Config:   map[string]any{"webhook_secret": secret},
		}, nil
	default:
		return paymentdomain.AdapterConfig{}, paymentdomain.ErrProviderNotFound
	}
}
