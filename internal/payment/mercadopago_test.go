package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestMercadoPago(t *testing.T, handler http.HandlerFunc) *MercadoPago {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	mp, err := NewMercadoPago(MercadoPagoConfig{AccessToken: "TEST-token", BaseURL: srv.URL}, zap.NewNop())
	require.NoError(t, err)
	return mp
}

func sessionRequest(callbacks *CallbackURLs) SessionRequest {
	return SessionRequest{
		Items: []LineItem{{
			ID:          "vela-grande-Dorada-default",
			Title:       "Vela grande",
			Description: "Cinta: Dorada",
			Quantity:    2,
			UnitPrice:   750000,
		}},
		Payer: Payer{
			Name:    "Ana María Pérez",
			Email:   "ana@example.com",
			Phone:   "1155550000",
			Address: "Av. Siempre Viva 742",
		},
		ExternalReference:   "SS-ABC-1234",
		Currency:            "ARS",
		StatementDescriptor: "SENGGE SOUL",
		Callbacks:           callbacks,
	}
}

func TestMercadoPagoCreatesPreference(t *testing.T) {
	var got map[string]interface{}
	mp := newTestMercadoPago(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/checkout/preferences", r.URL.Path)
		assert.Equal(t, "Bearer TEST-token", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"pref-123","init_point":"https://mp.test/init","sandbox_init_point":"https://sandbox.mp.test/init"}`))
	})

	cb := &CallbackURLs{
		Success:      "https://shop.test/checkout/success?order=SS-ABC-1234",
		Failure:      "https://shop.test/checkout/failure?order=SS-ABC-1234",
		Pending:      "https://shop.test/checkout/pending?order=SS-ABC-1234",
		Notification: "https://shop.test/api/v1/webhooks/mercadopago",
	}
	session, err := mp.CreatePaymentSession(context.Background(), sessionRequest(cb))
	require.NoError(t, err)

	assert.Equal(t, "pref-123", session.ID)
	assert.Equal(t, "https://mp.test/init", session.RedirectURL)
	assert.Equal(t, "https://sandbox.mp.test/init", session.SandboxRedirectURL)

	assert.Equal(t, "SS-ABC-1234", got["external_reference"])
	assert.Equal(t, "approved", got["auto_return"])
	assert.Equal(t, cb.Notification, got["notification_url"])

	items := got["items"].([]interface{})
	require.Len(t, items, 1)
	item := items[0].(map[string]interface{})
	assert.Equal(t, 7500.0, item["unit_price"])
	assert.Equal(t, 2.0, item["quantity"])
	assert.Equal(t, "ARS", item["currency_id"])

	payer := got["payer"].(map[string]interface{})
	assert.Equal(t, "Ana", payer["name"])
	assert.Equal(t, "María Pérez", payer["surname"])
}

func TestMercadoPagoOmitsCallbacksWhenNotPublic(t *testing.T) {
	var got map[string]interface{}
	mp := newTestMercadoPago(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"id":"pref-1","init_point":"https://mp.test/init"}`))
	})

	_, err := mp.CreatePaymentSession(context.Background(), sessionRequest(nil))
	require.NoError(t, err)

	assert.NotContains(t, got, "back_urls")
	assert.NotContains(t, got, "auto_return")
	assert.NotContains(t, got, "notification_url")
}

func TestMercadoPagoUpstreamFailure(t *testing.T) {
	mp := newTestMercadoPago(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"message":"boom"}`))
	})

	_, err := mp.CreatePaymentSession(context.Background(), sessionRequest(nil))
	require.Error(t, err)
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
}

func TestMercadoPagoRejectsInvalidRequest(t *testing.T) {
	mp := newTestMercadoPago(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	req := sessionRequest(nil)
	req.Items = nil
	_, err := mp.CreatePaymentSession(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestMercadoPagoGetPayment(t *testing.T) {
	mp := newTestMercadoPago(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments/987654", r.URL.Path)
		w.Write([]byte(`{"id":987654,"status":"approved","external_reference":"SS-ABC-1234"}`))
	})

	p, err := mp.GetPayment(context.Background(), "987654")
	require.NoError(t, err)
	assert.Equal(t, Payment{ID: "987654", Status: "approved", ExternalReference: "SS-ABC-1234"}, p)
}

func TestMercadoPagoGetPaymentNotFound(t *testing.T) {
	mp := newTestMercadoPago(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := mp.GetPayment(context.Background(), "1")
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestMercadoPagoGetPaymentRejectsNonNumericIDs(t *testing.T) {
	mp := newTestMercadoPago(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request to %s?%s", r.URL.Path, r.URL.RawQuery)
		w.Write([]byte(`{"id":1,"external_reference":"SS-ABC-1234"}`))
	})

	for _, id := range []string{
		"1/../../checkout/preferences/PREF?x=1",
		"../checkout/preferences/PREF",
		"123?access_token=x",
		"12a",
		"",
	} {
		_, err := mp.GetPayment(context.Background(), id)
		assert.ErrorIs(t, err, ErrInvalidRequest, id)
	}
}

func TestMercadoPagoNotFoundOnlyMeansPaymentNotFoundForLookups(t *testing.T) {
	mp := newTestMercadoPago(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"resource not found"}`))
	})

	_, err := mp.CreatePaymentSession(context.Background(), sessionRequest(nil))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrPaymentNotFound)
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)

	_, err = mp.GetPayment(context.Background(), "42")
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestIsMercadoPagoPaymentID(t *testing.T) {
	cases := map[string]bool{
		"123456789":             true,
		"0":                     true,
		"":                      false,
		"12 3":                  false,
		"-1":                    false,
		"1/../2":                false,
		"123456789012345678901": false,
	}
	for id, want := range cases {
		assert.Equal(t, want, IsMercadoPagoPaymentID(id), id)
	}
}

func TestIsPublicURL(t *testing.T) {
	cases := map[string]bool{
		"http://localhost:3000":     false,
		"http://127.0.0.1:8080":     false,
		"http://app.localhost":      false,
		"":                          false,
		"https://senggesoul.com.ar": true,
		"https://shop.example.com/": true,
		"http://192.168.1.10:3000":  true,
	}
	for base, want := range cases {
		assert.Equal(t, want, IsPublicURL(base), base)
	}
}

func TestSplitName(t *testing.T) {
	first, rest := SplitName("  Ana   María Pérez ")
	assert.Equal(t, "Ana", first)
	assert.Equal(t, "María Pérez", rest)

	first, rest = SplitName("Cher")
	assert.Equal(t, "Cher", first)
	assert.Empty(t, rest)
}
