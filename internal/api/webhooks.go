package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"storefront/internal/payment"
	"storefront/internal/service"
	"storefront/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	maxWebhookBody  = 64 << 10
	stripeSignature = "Stripe-Signature"
)

// mercadoPagoNotification is the body MercadoPago posts. data.id arrives as
// a number or as a string depending on the notification version.
type mercadoPagoNotification struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	Data   struct {
		ID json.RawMessage `json:"id"`
	} `json:"data"`
}

func (n mercadoPagoNotification) paymentID() string {
	raw := bytes.TrimSpace(n.Data.ID)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var num json.Number
	if err := json.Unmarshal(raw, &num); err == nil {
		return num.String()
	}
	return ""
}

// webhookVerification answers the processor's reachability probe
func (h *Handler) webhookVerification(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// mercadoPagoWebhook always acknowledges with 200 so the processor stops
// retrying; failures are logged and counted instead.
func (h *Handler) mercadoPagoWebhook(c *gin.Context) {
	var n mercadoPagoNotification
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err == nil && len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &n); err != nil {
			h.webhookFailure(payment.ProviderMercadoPago, "invalid_payload", "", err)
		}
	}

	if n.Type == "" {
		n.Type = c.Query("type")
		if n.Type == "" {
			n.Type = c.Query("topic")
		}
	}
	paymentID := n.paymentID()
	if paymentID == "" {
		paymentID = c.Query("data.id")
		if paymentID == "" {
			paymentID = c.Query("id")
		}
	}

	if n.Type != "payment" {
		h.logger.Info("Ignoring MercadoPago notification", zap.String("type", n.Type), zap.String("action", n.Action))
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	if paymentID == "" {
		h.webhookFailure(payment.ProviderMercadoPago, "missing_id", "", errors.New("payment notification without id"))
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	if !payment.IsMercadoPagoPaymentID(paymentID) {
		h.webhookFailure(payment.ProviderMercadoPago, "invalid_id", paymentID, errors.New("payment id is not numeric"))
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	h.reconcile(c, payment.ProviderMercadoPago, paymentID)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// stripeWebhook rejects unsigned payloads and acknowledges everything else
func (h *Handler) stripeWebhook(c *gin.Context) {
	if h.stripe == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "stripe is not configured"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		h.webhookFailure(payment.ProviderStripe, "invalid_payload", "", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	paymentID, err := h.stripe.ParseWebhook(body, c.GetHeader(stripeSignature))
	if errors.Is(err, payment.ErrInvalidSignature) {
		h.webhookFailure(payment.ProviderStripe, "invalid_signature", "", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
		return
	}
	if err != nil {
		h.webhookFailure(payment.ProviderStripe, "invalid_payload", "", err)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	if paymentID != "" {
		h.reconcile(c, payment.ProviderStripe, paymentID)
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) reconcile(c *gin.Context, provider, paymentID string) {
	result, err := h.payments.ReconcilePayment(c.Request.Context(), paymentID)
	if err != nil {
		h.webhookFailure(provider, webhookReason(err), paymentID, err)
		return
	}
	h.logger.Info("Webhook processed",
		zap.String("provider", provider),
		zap.String("payment_id", paymentID),
		zap.String("order_number", result.OrderNumber),
		zap.Bool("applied", result.Applied))
}

func (h *Handler) webhookFailure(provider, reason, paymentID string, err error) {
	util.WebhookErrorsTotal.WithLabelValues(provider, reason).Inc()
	h.logger.Error("Webhook processing failed",
		zap.String("provider", provider),
		zap.String("reason", reason),
		zap.String("payment_id", paymentID),
		zap.Error(err))
}

func webhookReason(err error) string {
	switch {
	case errors.Is(err, payment.ErrPaymentNotFound):
		return "payment_not_found"
	case errors.Is(err, service.ErrUpstream):
		return "lookup_failed"
	case errors.Is(err, service.ErrOrderNotFound):
		return "order_not_found"
	case errors.Is(err, service.ErrMissingReference):
		return "no_reference"
	}
	return "internal"
}
