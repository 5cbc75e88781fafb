package payment

import (
	"context"
	"testing"

	"github.com/storefront/apiserver/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
)

type fakeIntents struct {
	params *stripe.PaymentIntentCreateParams
	err    error
}

func (f *fakeIntents) Create(_ context.Context, params *stripe.PaymentIntentCreateParams) (*stripe.PaymentIntent, error) {
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	return &stripe.PaymentIntent{ID: "pi_1", ClientSecret: "pi_1_secret_abc"}, nil
}

func TestNewStripeRequiresKey(t *testing.T) {
	_, err := NewStripe(config.StripeConfig{})
	require.ErrorIs(t, err, ErrNotConfigured)

	s, err := NewStripe(config.StripeConfig{SecretKey: "sk_test_123"})
	require.NoError(t, err)
	assert.Equal(t, "usd", s.Currency())
}

func TestCreateIntent(t *testing.T) {
	fake := &fakeIntents{}
	s := NewStripeWithClient(fake, "USD")

	secret, err := s.CreateIntent(context.Background(), 1999, map[string]string{"integration_check": "accept_a_payment"})
	require.NoError(t, err)
	assert.Equal(t, "pi_1_secret_abc", secret)

	require.NotNil(t, fake.params)
	assert.Equal(t, int64(1999), *fake.params.Amount)
	assert.Equal(t, "usd", *fake.params.Currency)
	assert.Equal(t, "accept_a_payment", fake.params.Metadata["integration_check"])
}

func TestCreateIntentSurfacesStripeMessage(t *testing.T) {
	fake := &fakeIntents{err: &stripe.Error{Msg: "Amount must be at least $0.50 usd"}}
	s := NewStripeWithClient(fake, "")

	_, err := s.CreateIntent(context.Background(), 1, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Amount must be at least $0.50 usd")
}
