package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"storefront/internal/models"

	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/client"
	"github.com/stripe/stripe-go/v80/webhook"
	"go.uber.org/zap"
)

// MetadataOrderNumber carries the order number on sessions and payment intents.
const MetadataOrderNumber = "order_number"

var ErrInvalidSignature = errors.New("payment: invalid webhook signature")

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type stripePaymentIntentAPI interface {
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeConfig configures the Stripe adapter. ReturnBaseURL is used for the
// mandatory success and cancel URLs when the request carries no callbacks.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	ReturnBaseURL string

	sessions stripeSessionAPI
	intents  stripePaymentIntentAPI
}

// Stripe implements Provider over Stripe Checkout.
type Stripe struct {
	sessions      stripeSessionAPI
	intents       stripePaymentIntentAPI
	webhookSecret string
	returnBaseURL string
	logger        *zap.Logger
}

// NewStripe creates the adapter
func NewStripe(cfg StripeConfig, logger *zap.Logger) (*Stripe, error) {
	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		return nil, errors.New("stripe: webhook secret is required")
	}
	sessions, intents := cfg.sessions, cfg.intents
	if sessions == nil || intents == nil {
		key := strings.TrimSpace(cfg.SecretKey)
		if key == "" {
			return nil, errors.New("stripe: secret key is required")
		}
		sc := client.New(key, nil)
		sessions, intents = sc.CheckoutSessions, sc.PaymentIntents
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Stripe{
		sessions:      sessions,
		intents:       intents,
		webhookSecret: cfg.WebhookSecret,
		returnBaseURL: strings.TrimRight(cfg.ReturnBaseURL, "/"),
		logger:        logger,
	}, nil
}

func (s *Stripe) Name() string { return ProviderStripe }

// CreatePaymentSession creates a hosted Checkout Session
func (s *Stripe) CreatePaymentSession(ctx context.Context, req SessionRequest) (Session, error) {
	if err := req.Validate(); err != nil {
		return Session{}, err
	}

	success, cancel := s.returnURLs(req)
	metadata := map[string]string{MetadataOrderNumber: req.ExternalReference}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(success),
		CancelURL:         stripe.String(cancel),
		ClientReferenceID: stripe.String(req.ExternalReference),
		Metadata:          metadata,
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: metadata,
		},
	}
	params.Context = ctx
	if req.Payer.Email != "" {
		params.CustomerEmail = stripe.String(req.Payer.Email)
	}
	if req.StatementDescriptor != "" {
		params.PaymentIntentData.StatementDescriptor = stripe.String(req.StatementDescriptor)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	currency := strings.ToLower(req.Currency)
	for _, item := range req.Items {
		product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name:     stripe.String(item.Title),
			Metadata: map[string]string{"sku": item.ID},
		}
		if item.Description != "" {
			product.Description = stripe.String(item.Description)
		}
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(int64(item.Quantity)),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(currency),
				UnitAmount:  stripe.Int64(item.UnitPrice),
				ProductData: product,
			},
		})
	}

	session, err := s.sessions.New(params)
	if err != nil {
		return Session{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}

	s.logger.Debug("Stripe checkout session created",
		zap.String("session_id", session.ID),
		zap.String("order_number", req.ExternalReference),
	)

	return Session{ID: session.ID, RedirectURL: session.URL}, nil
}

func (s *Stripe) returnURLs(req SessionRequest) (success, cancel string) {
	if cb := req.Callbacks; cb != nil {
		return cb.Success, cb.Failure
	}
	base := s.returnBaseURL + "/checkout/%s?order=" + req.ExternalReference
	return fmt.Sprintf(base, "success"), fmt.Sprintf(base, "failure")
}

// GetPayment reads a PaymentIntent and normalises its status
func (s *Stripe) GetPayment(ctx context.Context, paymentID string) (Payment, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	params.AddExpand("latest_charge")

	pi, err := s.intents.Get(paymentID, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == 404 {
			return Payment{}, ErrPaymentNotFound
		}
		return Payment{}, fmt.Errorf("stripe: get payment intent %s: %w", paymentID, err)
	}

	return Payment{
		ID:                pi.ID,
		Status:            stripeProcessorStatus(pi),
		ExternalReference: pi.Metadata[MetadataOrderNumber],
	}, nil
}

func stripeProcessorStatus(pi *stripe.PaymentIntent) string {
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		if pi.LatestCharge != nil && pi.LatestCharge.Refunded {
			return models.ProcessorStatusRefunded
		}
		return models.ProcessorStatusApproved
	case stripe.PaymentIntentStatusProcessing:
		return models.ProcessorStatusInProcess
	case stripe.PaymentIntentStatusCanceled:
		return models.ProcessorStatusCancelled
	case stripe.PaymentIntentStatusRequiresPaymentMethod,
		stripe.PaymentIntentStatusRequiresConfirmation,
		stripe.PaymentIntentStatusRequiresAction,
		stripe.PaymentIntentStatusRequiresCapture:
		return models.ProcessorStatusPending
	}
	return string(pi.Status)
}

// ParseWebhook verifies the signature and extracts the payment intent id the
// event refers to. An empty id with a nil error means the event is not relevant.
func (s *Stripe) ParseWebhook(payload []byte, signature string) (string, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	eventType := string(event.Type)
	switch {
	case strings.HasPrefix(eventType, "payment_intent."):
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return "", fmt.Errorf("stripe: decode payment intent: %w", err)
		}
		return pi.ID, nil
	case eventType == "charge.refunded":
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return "", fmt.Errorf("stripe: decode charge: %w", err)
		}
		if charge.PaymentIntent == nil {
			return "", nil
		}
		return charge.PaymentIntent.ID, nil
	}

	s.logger.Info("Unhandled Stripe event type", zap.String("event_type", eventType))
	return "", nil
}
