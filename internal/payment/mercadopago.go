package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// MercadoPagoConfig configures the MercadoPago adapter.
type MercadoPagoConfig struct {
	AccessToken string
	BaseURL     string
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// MercadoPago talks to the Checkout Pro REST API.
type MercadoPago struct {
	token   string
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewMercadoPago creates the adapter
func NewMercadoPago(cfg MercadoPagoConfig, logger *zap.Logger) (*MercadoPago, error) {
	if strings.TrimSpace(cfg.AccessToken) == "" {
		return nil, fmt.Errorf("mercadopago: access token is required")
	}

	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.mercadopago.com"
	}

	return &MercadoPago{
		token:   cfg.AccessToken,
		baseURL: baseURL,
		http:    client,
		logger:  logger,
	}, nil
}

func (m *MercadoPago) Name() string { return ProviderMercadoPago }

type mpItem struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	PictureURL  string  `json:"picture_url,omitempty"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	CurrencyID  string  `json:"currency_id"`
}

type mpPhone struct {
	AreaCode string `json:"area_code"`
	Number   string `json:"number"`
}

type mpAddress struct {
	StreetName string `json:"street_name"`
	ZipCode    string `json:"zip_code"`
}

type mpPayer struct {
	Name    string    `json:"name"`
	Surname string    `json:"surname"`
	Email   string    `json:"email"`
	Phone   mpPhone   `json:"phone"`
	Address mpAddress `json:"address"`
}

type mpBackURLs struct {
	Success string `json:"success"`
	Failure string `json:"failure"`
	Pending string `json:"pending"`
}

type mpPreferenceRequest struct {
	Items               []mpItem    `json:"items"`
	Payer               mpPayer     `json:"payer"`
	ExternalReference   string      `json:"external_reference"`
	StatementDescriptor string      `json:"statement_descriptor,omitempty"`
	BackURLs            *mpBackURLs `json:"back_urls,omitempty"`
	AutoReturn          string      `json:"auto_return,omitempty"`
	NotificationURL     string      `json:"notification_url,omitempty"`
}

type mpPreferenceResponse struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point"`
}

type mpPaymentResponse struct {
	ID                json.Number `json:"id"`
	Status            string      `json:"status"`
	ExternalReference string      `json:"external_reference"`
}

// CreatePaymentSession creates a checkout preference
func (m *MercadoPago) CreatePaymentSession(ctx context.Context, req SessionRequest) (Session, error) {
	if err := req.Validate(); err != nil {
		return Session{}, err
	}

	first, surname := SplitName(req.Payer.Name)
	body := mpPreferenceRequest{
		Payer: mpPayer{
			Name:    first,
			Surname: surname,
			Email:   req.Payer.Email,
			Phone:   mpPhone{Number: req.Payer.Phone},
			Address: mpAddress{StreetName: req.Payer.Address, ZipCode: req.Payer.PostalCode},
		},
		ExternalReference:   req.ExternalReference,
		StatementDescriptor: req.StatementDescriptor,
	}
	for _, item := range req.Items {
		body.Items = append(body.Items, mpItem{
			ID:          item.ID,
			Title:       item.Title,
			Description: item.Description,
			PictureURL:  item.ImageURL,
			Quantity:    item.Quantity,
			UnitPrice:   float64(item.UnitPrice) / 100,
			CurrencyID:  req.Currency,
		})
	}
	if cb := req.Callbacks; cb != nil {
		body.BackURLs = &mpBackURLs{Success: cb.Success, Failure: cb.Failure, Pending: cb.Pending}
		body.AutoReturn = "approved"
		body.NotificationURL = cb.Notification
	}

	var pref mpPreferenceResponse
	if err := m.do(ctx, http.MethodPost, "/checkout/preferences", req.IdempotencyKey, body, &pref); err != nil {
		return Session{}, fmt.Errorf("mercadopago: create preference: %w", err)
	}
	if pref.ID == "" || pref.InitPoint == "" {
		return Session{}, fmt.Errorf("mercadopago: create preference: empty response")
	}

	return Session{
		ID:                 pref.ID,
		RedirectURL:        pref.InitPoint,
		SandboxRedirectURL: pref.SandboxInitPoint,
	}, nil
}

// GetPayment fetches a payment by its processor id
func (m *MercadoPago) GetPayment(ctx context.Context, paymentID string) (Payment, error) {
	paymentID = strings.TrimSpace(paymentID)
	if !IsMercadoPagoPaymentID(paymentID) {
		return Payment{}, fmt.Errorf("%w: mercadopago payment id %q is not numeric", ErrInvalidRequest, paymentID)
	}

	var p mpPaymentResponse
	if err := m.do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID), "", nil, &p); err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			err = ErrPaymentNotFound
		}
		return Payment{}, fmt.Errorf("mercadopago: get payment %s: %w", paymentID, err)
	}

	id := p.ID.String()
	if id == "" {
		id = paymentID
	}
	return Payment{ID: id, Status: p.Status, ExternalReference: p.ExternalReference}, nil
}

// IsMercadoPagoPaymentID reports whether id has the shape of a MercadoPago
// payment id, which is always numeric.
func IsMercadoPagoPaymentID(id string) bool {
	if id == "" || len(id) > 20 {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

type apiError struct {
	StatusCode int
	Message    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Message)
}

func (m *MercadoPago) do(ctx context.Context, method, path, idempotencyKey string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, m.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+m.token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("X-Idempotency-Key", idempotencyKey)
	}

	resp, err := m.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		m.logger.Warn("MercadoPago request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", data),
		)
		return &apiError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}

	return json.Unmarshal(data, out)
}
