package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/pedalport/rental-backend/internal/config"
	"github.com/pedalport/rental-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// KhaltiAdapter implements the lookup-verified flow: checkout is opened with
// a server-side initiate call, and callbacks are never trusted directly - the
// outcome is fetched from the provider's lookup endpoint using the pidx
// reference.
type KhaltiAdapter struct {
	cfg    config.KhaltiConfig
	logger *logrus.Logger
	client *http.Client
}

// NewKhaltiAdapter creates a new KhaltiAdapter
func NewKhaltiAdapter(cfg config.KhaltiConfig, logger *logrus.Logger) *KhaltiAdapter {
	return &KhaltiAdapter{
		cfg:    cfg,
		logger: logger,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// WithHTTPClient overrides the HTTP client, used in tests.
func (a *KhaltiAdapter) WithHTTPClient(client *http.Client) *KhaltiAdapter {
	a.client = client
	return a
}

// Provider returns the provider name.
func (a *KhaltiAdapter) Provider() string {
	return string(models.PaymentMethodKhalti)
}

type khaltiInitiateRequest struct {
	ReturnURL         string `json:"return_url"`
	WebsiteURL        string `json:"website_url"`
	Amount            int64  `json:"amount"` // paisa
	PurchaseOrderID   string `json:"purchase_order_id"`
	PurchaseOrderName string `json:"purchase_order_name"`
}

type khaltiInitiateResponse struct {
	Pidx       string `json:"pidx"`
	PaymentURL string `json:"payment_url"`
	ExpiresAt  string `json:"expires_at"`
	Detail     string `json:"detail,omitempty"`
}

type khaltiLookupRequest struct {
	Pidx string `json:"pidx"`
}

type khaltiLookupResponse struct {
	Pidx          string `json:"pidx"`
	TotalAmount   int64  `json:"total_amount"` // paisa
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
	Refunded      bool   `json:"refunded"`
}

// BuildRequest opens a checkout with the provider and returns the redirect
// URL plus the gateway-assigned pidx.
func (a *KhaltiAdapter) BuildRequest(ctx context.Context, intent CheckoutIntent) (*CheckoutPayload, error) {
	req := &khaltiInitiateRequest{
		ReturnURL:         a.cfg.ReturnURL,
		WebsiteURL:        a.cfg.WebsiteURL,
		Amount:            toPaisa(intent.Amount),
		PurchaseOrderID:   intent.CorrelationID.String(),
		PurchaseOrderName: intent.Description,
	}

	var resp khaltiInitiateResponse
	if err := a.post(ctx, "/epayment/initiate/", req, &resp); err != nil {
		return nil, fmt.Errorf("failed to initiate checkout: %w", err)
	}
	if resp.Pidx == "" || resp.PaymentURL == "" {
		return nil, fmt.Errorf("gateway returned no payment URL: %s", resp.Detail)
	}

	a.logger.WithFields(logrus.Fields{
		"correlation_id": intent.CorrelationID,
		"pidx":           resp.Pidx,
	}).Info("Khalti checkout initiated")

	return &CheckoutPayload{
		Provider:    a.Provider(),
		RedirectURL: resp.PaymentURL,
		GatewayRef:  resp.Pidx,
	}, nil
}

// ParseCallback verifies the callback by looking the payment up server-side.
// The pidx and purchase_order_id query parameters are required; everything
// else in the callback is ignored in favor of the lookup response.
func (a *KhaltiAdapter) ParseCallback(ctx context.Context, params url.Values) (*NormalizedResult, error) {
	pidx := params.Get("pidx")
	orderID := params.Get("purchase_order_id")
	if pidx == "" || orderID == "" {
		return nil, fmt.Errorf("missing pidx or purchase_order_id: %w", models.ErrMalformedPayload)
	}

	correlationID, err := uuid.Parse(orderID)
	if err != nil {
		return nil, fmt.Errorf("purchase_order_id is not a valid correlation id: %w", models.ErrMalformedPayload)
	}

	var resp khaltiLookupResponse
	if err := a.post(ctx, "/epayment/lookup/", &khaltiLookupRequest{Pidx: pidx}, &resp); err != nil {
		return nil, fmt.Errorf("lookup verification failed: %w", err)
	}

	var outcome Outcome
	switch resp.Status {
	case "Completed":
		outcome = OutcomeSuccess
	case "Pending", "Initiated":
		return nil, models.ErrPendingOutcome
	default:
		// Expired, User canceled, Refunded
		outcome = OutcomeFailed
	}

	return &NormalizedResult{
		CorrelationID: correlationID,
		GatewayRef:    resp.Pidx,
		Outcome:       outcome,
		RawAmount:     fromPaisa(resp.TotalAmount),
	}, nil
}

func (a *KhaltiAdapter) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key "+a.cfg.SecretKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request failed: %v: %w", err, models.ErrGatewayUnreachable)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", models.ErrGatewayUnreachable)
	}
	// 5xx is the provider having a bad moment, not a verdict on the payment.
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("gateway returned status %d: %w", resp.StatusCode, models.ErrGatewayUnreachable)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func toPaisa(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

func fromPaisa(paisa int64) float64 {
	return float64(paisa) / 100
}
