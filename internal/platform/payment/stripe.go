// Package payment adapts Stripe PaymentIntents to the booking payment
// gateway.
package payment

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	domain "github.com/medconnect/medconnect/internal/domain/payment"
)

type Config struct {
	SecretKey string
	// APIURL overrides the Stripe endpoint, for stripe-mock or tests.
	APIURL     string
	Timeout    time.Duration
	MaxRetries int64
}

// StripeGateway implements the payment gateway over the PaymentIntents API.
type StripeGateway struct {
	api *client.API
}

func NewStripeGateway(cfg Config, logger zerolog.Logger) *StripeGateway {
	bc := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.Timeout},
		LeveledLogger:     &leveledLogger{log: logger.With().Str("component", "stripe").Logger()},
		MaxNetworkRetries: stripe.Int64(cfg.MaxRetries),
	}
	if cfg.APIURL != "" {
		bc.URL = stripe.String(strings.TrimRight(cfg.APIURL, "/"))
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, bc)
	return &StripeGateway{
		api: client.New(cfg.SecretKey, &stripe.Backends{API: backend, Connect: backend, Uploads: backend}),
	}
}

func (g *StripeGateway) CreateIntent(ctx context.Context, amount int64, currency string, metadata map[string]string) (*domain.Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(strings.ToLower(currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	return toIntent(pi), nil
}

func (g *StripeGateway) GetIntent(ctx context.Context, id string) (*domain.Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := g.api.PaymentIntents.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("get payment intent %s: %w", id, err)
	}
	return toIntent(pi), nil
}

func (g *StripeGateway) CancelIntent(ctx context.Context, id string) (*domain.Intent, error) {
	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonAbandoned)),
	}
	params.Context = ctx
	pi, err := g.api.PaymentIntents.Cancel(id, params)
	if err != nil {
		return nil, fmt.Errorf("cancel payment intent %s: %w", id, err)
	}
	return toIntent(pi), nil
}

func toIntent(pi *stripe.PaymentIntent) *domain.Intent {
	return &domain.Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       statusOf(pi),
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
		Metadata:     pi.Metadata,
		CreatedAt:    time.Unix(pi.Created, 0).UTC(),
	}
}

// statusOf folds Stripe's intent statuses into the gateway's. An intent
// back in requires_payment_method after an attempt has failed.
func statusOf(pi *stripe.PaymentIntent) domain.IntentStatus {
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return domain.IntentSucceeded
	case stripe.PaymentIntentStatusProcessing:
		return domain.IntentProcessing
	case stripe.PaymentIntentStatusCanceled:
		return domain.IntentCanceled
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		if pi.LastPaymentError != nil {
			return domain.IntentFailed
		}
	}
	return domain.IntentRequiresAction
}

// leveledLogger routes stripe-go's logging into zerolog.
type leveledLogger struct {
	log zerolog.Logger
}

func (l *leveledLogger) Debugf(format string, v ...interface{}) { l.log.Debug().Msgf(format, v...) }
func (l *leveledLogger) Infof(format string, v ...interface{})  { l.log.Debug().Msgf(format, v...) }
func (l *leveledLogger) Warnf(format string, v ...interface{})  { l.log.Warn().Msgf(format, v...) }
func (l *leveledLogger) Errorf(format string, v ...interface{}) { l.log.Error().Msgf(format, v...) }
