package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/google/uuid"
	"github.com/pedalport/rental-backend/internal/config"
	"github.com/pedalport/rental-backend/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKhaltiAdapter(serverURL string) *KhaltiAdapter {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewKhaltiAdapter(config.KhaltiConfig{
		BaseURL:    serverURL,
		SecretKey:  "test-secret-key",
		ReturnURL:  "https://app.example.com/return",
		WebsiteURL: "https://app.example.com",
	}, logger)
}

func TestKhaltiBuildRequest(t *testing.T) {
	correlationID := uuid.New()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/epayment/initiate/", r.URL.Path)
		require.Equal(t, "key test-secret-key", r.Header.Get("Authorization"))

		var req khaltiInitiateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(150000), req.Amount) // 1500.00 in paisa
		assert.Equal(t, correlationID.String(), req.PurchaseOrderID)

		json.NewEncoder(w).Encode(khaltiInitiateResponse{
			Pidx:       "bZQLD9wRVWo4CdESSfuSsB",
			PaymentURL: "https://pay.example.com/?pidx=bZQLD9wRVWo4CdESSfuSsB",
		})
	}))
	defer server.Close()

	a := newTestKhaltiAdapter(server.URL)
	payload, err := a.BuildRequest(context.Background(), CheckoutIntent{
		CorrelationID: correlationID,
		BookingID:     42,
		Amount:        1500,
		Currency:      "NPR",
		Description:   "Bike rental booking #42",
	})
	require.NoError(t, err)

	assert.Equal(t, "khalti", payload.Provider)
	assert.Equal(t, "https://pay.example.com/?pidx=bZQLD9wRVWo4CdESSfuSsB", payload.RedirectURL)
	assert.Equal(t, "bZQLD9wRVWo4CdESSfuSsB", payload.GatewayRef)
	assert.Empty(t, payload.FormFields)
}

func TestKhaltiBuildRequestGatewayError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"detail":"Invalid token."}`))
	}))
	defer server.Close()

	a := newTestKhaltiAdapter(server.URL)
	_, err := a.BuildRequest(context.Background(), CheckoutIntent{
		CorrelationID: uuid.New(),
		Amount:        1500,
	})
	assert.Error(t, err)
}

func TestKhaltiParseCallback(t *testing.T) {
	correlationID := uuid.New()

	newLookupServer := func(status string, amount int64) *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/epayment/lookup/", r.URL.Path)

			var req khaltiLookupRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			json.NewEncoder(w).Encode(khaltiLookupResponse{
				Pidx:          req.Pidx,
				TotalAmount:   amount,
				Status:        status,
				TransactionID: "GFq9PFS7b2iYvL8Lir9oXe",
			})
		}))
	}

	callbackParams := func() url.Values {
		params := url.Values{}
		params.Set("pidx", "bZQLD9wRVWo4CdESSfuSsB")
		params.Set("purchase_order_id", correlationID.String())
		params.Set("status", "Completed") // never trusted, lookup decides
		return params
	}

	t.Run("Completed", func(t *testing.T) {
		server := newLookupServer("Completed", 150000)
		defer server.Close()

		a := newTestKhaltiAdapter(server.URL)
		result, err := a.ParseCallback(context.Background(), callbackParams())
		require.NoError(t, err)
		assert.Equal(t, correlationID, result.CorrelationID)
		assert.Equal(t, "bZQLD9wRVWo4CdESSfuSsB", result.GatewayRef)
		assert.Equal(t, OutcomeSuccess, result.Outcome)
		assert.Equal(t, 1500.00, result.RawAmount)
	})

	t.Run("Pending", func(t *testing.T) {
		server := newLookupServer("Pending", 150000)
		defer server.Close()

		a := newTestKhaltiAdapter(server.URL)
		_, err := a.ParseCallback(context.Background(), callbackParams())
		assert.ErrorIs(t, err, models.ErrPendingOutcome)
	})

	t.Run("User Canceled", func(t *testing.T) {
		server := newLookupServer("User canceled", 150000)
		defer server.Close()

		a := newTestKhaltiAdapter(server.URL)
		result, err := a.ParseCallback(context.Background(), callbackParams())
		require.NoError(t, err)
		assert.Equal(t, OutcomeFailed, result.Outcome)
	})

	t.Run("Missing Pidx", func(t *testing.T) {
		a := newTestKhaltiAdapter("http://unused.invalid")
		params := url.Values{}
		params.Set("purchase_order_id", correlationID.String())

		_, err := a.ParseCallback(context.Background(), params)
		assert.ErrorIs(t, err, models.ErrMalformedPayload)
	})

	t.Run("Lookup Unavailable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		a := newTestKhaltiAdapter(server.URL)
		_, err := a.ParseCallback(context.Background(), callbackParams())
		// A provider blip is not a verdict on the payment.
		assert.ErrorIs(t, err, models.ErrGatewayUnreachable)
	})

	t.Run("Lookup Connection Refused", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		server.Close() // nothing listening anymore

		a := newTestKhaltiAdapter(server.URL)
		_, err := a.ParseCallback(context.Background(), callbackParams())
		assert.ErrorIs(t, err, models.ErrGatewayUnreachable)
	})

	t.Run("Non UUID Order ID", func(t *testing.T) {
		a := newTestKhaltiAdapter("http://unused.invalid")
		params := url.Values{}
		params.Set("pidx", "bZQLD9wRVWo4CdESSfuSsB")
		params.Set("purchase_order_id", "order-123")

		_, err := a.ParseCallback(context.Background(), params)
		assert.ErrorIs(t, err, models.ErrMalformedPayload)
	})
}

func TestPaisaConversion(t *testing.T) {
	assert.Equal(t, int64(150000), toPaisa(1500))
	assert.Equal(t, int64(133), toPaisa(1.33)) // rounds, never truncates
	assert.Equal(t, 1500.00, fromPaisa(150000))
	assert.Equal(t, 0.01, fromPaisa(1))
}
