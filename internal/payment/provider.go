// Package payment adapts external payment processors to the order lifecycle.
//
// Every adapter speaks the processor status vocabulary defined in models
// (approved, pending, in_process, rejected, cancelled, refunded); anything
// else it reports is passed through verbatim and treated as pending upstream.
package payment

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

const (
	ProviderMercadoPago = "mercadopago"
	ProviderStripe      = "stripe"
)

var (
	ErrPaymentNotFound = errors.New("payment: not found")
	ErrInvalidRequest  = errors.New("payment: invalid request")
)

// LineItem is one order line as presented to the processor.
// UnitPrice is in minor currency units.
type LineItem struct {
	ID          string
	Title       string
	Description string
	Quantity    int
	UnitPrice   int64
	ImageURL    string
}

// Payer carries the customer's contact details.
type Payer struct {
	Name       string
	Email      string
	Phone      string
	Address    string
	PostalCode string
}

// CallbackURLs are only sent when the deployment is publicly reachable.
type CallbackURLs struct {
	Success      string
	Failure      string
	Pending      string
	Notification string
}

// SessionRequest asks the processor for a hosted checkout.
type SessionRequest struct {
	Items               []LineItem
	Payer               Payer
	ExternalReference   string
	Currency            string
	StatementDescriptor string
	IdempotencyKey      string
	Callbacks           *CallbackURLs
}

// Validate checks the fields every adapter relies on.
func (r SessionRequest) Validate() error {
	if r.ExternalReference == "" {
		return fmt.Errorf("%w: external reference is required", ErrInvalidRequest)
	}
	if len(r.Items) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrInvalidRequest)
	}
	return nil
}

// Session is the processor's answer to a SessionRequest.
type Session struct {
	ID                 string
	RedirectURL        string
	SandboxRedirectURL string
}

// Payment is the processor's view of a single payment.
type Payment struct {
	ID                string
	Status            string
	ExternalReference string
}

// Provider is implemented by every processor adapter.
type Provider interface {
	Name() string
	CreatePaymentSession(ctx context.Context, req SessionRequest) (Session, error)
	GetPayment(ctx context.Context, paymentID string) (Payment, error)
}

// IsPublicURL reports whether base can be reached by the processor.
func IsPublicURL(base string) bool {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return false
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return false
	}
	return true
}

// SplitName splits a full name into a first name and the remaining surname.
func SplitName(full string) (first, rest string) {
	parts := strings.Fields(full)
	if len(parts) == 0 {
		return "", ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}
