// Package payment creates payment intents with Stripe.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/storefront/apiserver/config"
	"github.com/stripe/stripe-go/v82"
)

// ErrNotConfigured is returned by NewStripe without a secret key.
var ErrNotConfigured = errors.New("stripe secret key is not configured")

// IntentCreator is the slice of the Stripe client used here.
type IntentCreator interface {
	Create(ctx context.Context, params *stripe.PaymentIntentCreateParams) (*stripe.PaymentIntent, error)
}

// Stripe creates payment intents in a fixed currency.
type Stripe struct {
	intents  IntentCreator
	currency string
}

// NewStripe builds a processor from cfg. Currency defaults to usd.
func NewStripe(cfg config.StripeConfig) (*Stripe, error) {
	key := strings.TrimSpace(cfg.SecretKey)
	if key == "" {
		return nil, ErrNotConfigured
	}
	sc := stripe.NewClient(key)
	return NewStripeWithClient(sc.V1PaymentIntents, cfg.Currency), nil
}

// NewStripeWithClient wraps an existing intents client.
func NewStripeWithClient(intents IntentCreator, currency string) *Stripe {
	currency = strings.ToLower(strings.TrimSpace(currency))
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}
	return &Stripe{intents: intents, currency: currency}
}

// CreateIntent requests an intent for amount minor units and returns its
// client secret. Stripe's user-facing message is preserved in the error.
func (s *Stripe) CreateIntent(ctx context.Context, amount int64, metadata map[string]string) (string, error) {
	params := &stripe.PaymentIntentCreateParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(s.currency),
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	intent, err := s.intents.Create(ctx, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Msg != "" {
			return "", fmt.Errorf("stripe: %s", stripeErr.Msg)
		}
		return "", fmt.Errorf("stripe: %w", err)
	}
	return intent.ClientSecret, nil
}

// Currency returns the ISO currency code intents are created in.
func (s *Stripe) Currency() string {
	return s.currency
}
