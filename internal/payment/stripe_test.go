package payment

import (
	"context"
	"errors"
	"testing"

	"storefront/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/webhook"
	"go.uber.org/zap"
)

type fakeSessions struct {
	params *stripe.CheckoutSessionParams
	err    error
}

func (f *fakeSessions) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	return &stripe.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.test/cs_test_1"}, nil
}

type fakeIntents struct {
	intents map[string]*stripe.PaymentIntent
}

func (f *fakeIntents) Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	pi, ok := f.intents[id]
	if !ok {
		return nil, &stripe.Error{HTTPStatusCode: 404, Msg: "No such payment_intent"}
	}
	return pi, nil
}

const testWebhookSecret = "whsec_test"

func newTestStripe(t *testing.T, sessions *fakeSessions, intents *fakeIntents) *Stripe {
	t.Helper()
	s, err := NewStripe(StripeConfig{
		WebhookSecret: testWebhookSecret,
		ReturnBaseURL: "http://localhost:3000/",
		sessions:      sessions,
		intents:       intents,
	}, zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestNewStripeRequiresSecrets(t *testing.T) {
	_, err := NewStripe(StripeConfig{SecretKey: "sk_test_1"}, zap.NewNop())
	assert.Error(t, err)

	_, err = NewStripe(StripeConfig{SecretKey: "sk_test_1", WebhookSecret: "  "}, zap.NewNop())
	assert.Error(t, err)

	_, err = NewStripe(StripeConfig{WebhookSecret: testWebhookSecret}, zap.NewNop())
	assert.Error(t, err)

	s, err := NewStripe(StripeConfig{SecretKey: "sk_test_1", WebhookSecret: testWebhookSecret}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, ProviderStripe, s.Name())
}

func TestStripeCreatesCheckoutSession(t *testing.T) {
	sessions := &fakeSessions{}
	s := newTestStripe(t, sessions, &fakeIntents{})

	session, err := s.CreatePaymentSession(context.Background(), sessionRequest(nil))
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", session.ID)
	assert.Equal(t, "https://checkout.stripe.test/cs_test_1", session.RedirectURL)

	p := sessions.params
	require.NotNil(t, p)
	assert.Equal(t, "SS-ABC-1234", *p.ClientReferenceID)
	assert.Equal(t, "SS-ABC-1234", p.PaymentIntentData.Metadata[MetadataOrderNumber])
	assert.Equal(t, "http://localhost:3000/checkout/success?order=SS-ABC-1234", *p.SuccessURL)
	assert.Equal(t, "http://localhost:3000/checkout/failure?order=SS-ABC-1234", *p.CancelURL)
	require.Len(t, p.LineItems, 1)
	assert.Equal(t, int64(750000), *p.LineItems[0].PriceData.UnitAmount)
	assert.Equal(t, "ars", *p.LineItems[0].PriceData.Currency)
	assert.Equal(t, int64(2), *p.LineItems[0].Quantity)
}

func TestStripeSessionFailure(t *testing.T) {
	s := newTestStripe(t, &fakeSessions{err: errors.New("api down")}, &fakeIntents{})

	_, err := s.CreatePaymentSession(context.Background(), sessionRequest(nil))
	assert.Error(t, err)
}

func TestStripeGetPaymentNormalisesStatus(t *testing.T) {
	meta := map[string]string{MetadataOrderNumber: "SS-1"}
	intents := &fakeIntents{intents: map[string]*stripe.PaymentIntent{
		"pi_ok":       {ID: "pi_ok", Status: stripe.PaymentIntentStatusSucceeded, Metadata: meta},
		"pi_refunded": {ID: "pi_refunded", Status: stripe.PaymentIntentStatusSucceeded, Metadata: meta, LatestCharge: &stripe.Charge{Refunded: true}},
		"pi_proc":     {ID: "pi_proc", Status: stripe.PaymentIntentStatusProcessing, Metadata: meta},
		"pi_cancel":   {ID: "pi_cancel", Status: stripe.PaymentIntentStatusCanceled, Metadata: meta},
		"pi_action":   {ID: "pi_action", Status: stripe.PaymentIntentStatusRequiresAction, Metadata: meta},
	}}
	s := newTestStripe(t, &fakeSessions{}, intents)

	want := map[string]string{
		"pi_ok":       models.ProcessorStatusApproved,
		"pi_refunded": models.ProcessorStatusRefunded,
		"pi_proc":     models.ProcessorStatusInProcess,
		"pi_cancel":   models.ProcessorStatusCancelled,
		"pi_action":   models.ProcessorStatusPending,
	}
	for id, status := range want {
		p, err := s.GetPayment(context.Background(), id)
		require.NoError(t, err, id)
		assert.Equal(t, status, p.Status, id)
		assert.Equal(t, "SS-1", p.ExternalReference, id)
	}

	_, err := s.GetPayment(context.Background(), "pi_missing")
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func signedEvent(t *testing.T, payload string) (string, []byte) {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: []byte(payload),
		Secret:  testWebhookSecret,
	})
	return signed.Header, signed.Payload
}

func TestStripeParseWebhook(t *testing.T) {
	s := newTestStripe(t, &fakeSessions{}, &fakeIntents{})

	header, body := signedEvent(t, `{"id":"evt_1","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_123","object":"payment_intent"}}}`)
	id, err := s.ParseWebhook(body, header)
	require.NoError(t, err)
	assert.Equal(t, "pi_123", id)

	header, body = signedEvent(t, `{"id":"evt_2","object":"event","type":"charge.refunded","data":{"object":{"id":"ch_1","object":"charge","payment_intent":"pi_456"}}}`)
	id, err = s.ParseWebhook(body, header)
	require.NoError(t, err)
	assert.Equal(t, "pi_456", id)

	header, body = signedEvent(t, `{"id":"evt_3","object":"event","type":"customer.created","data":{"object":{"id":"cus_1","object":"customer"}}}`)
	id, err = s.ParseWebhook(body, header)
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestStripeParseWebhookRejectsBadSignature(t *testing.T) {
	s := newTestStripe(t, &fakeSessions{}, &fakeIntents{})

	_, err := s.ParseWebhook([]byte(`{"id":"evt_1"}`), "t=1,v1=deadbeef")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}
