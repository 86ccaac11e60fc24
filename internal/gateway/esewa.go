package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pedalport/rental-backend/internal/config"
	"github.com/pedalport/rental-backend/internal/models"
	"github.com/sirupsen/logrus"
)

const esewaStatusComplete = "COMPLETE"

// EsewaAdapter implements the HMAC-signed redirect form flow. The checkout is
// a POST form the client submits to the gateway; the callback carries a
// base64 JSON blob whose signature is recomputed server-side over the
// advertised signed field list.
type EsewaAdapter struct {
	cfg    config.EsewaConfig
	logger *logrus.Logger
}

// NewEsewaAdapter creates a new EsewaAdapter
func NewEsewaAdapter(cfg config.EsewaConfig, logger *logrus.Logger) *EsewaAdapter {
	return &EsewaAdapter{cfg: cfg, logger: logger}
}

// Provider returns the provider name.
func (a *EsewaAdapter) Provider() string {
	return string(models.PaymentMethodEsewa)
}

// esewaCallbackData is the decoded callback blob.
type esewaCallbackData struct {
	TransactionCode  string `json:"transaction_code"`
	Status           string `json:"status"`
	TotalAmount      string `json:"total_amount"`
	TransactionUUID  string `json:"transaction_uuid"`
	ProductCode      string `json:"product_code"`
	SignedFieldNames string `json:"signed_field_names"`
	Signature        string `json:"signature"`
}

// BuildRequest is pure given the signing secret: it emits the redirect form
// fields plus the base64 HMAC-SHA256 signature over the canonical
// total_amount, transaction_uuid, product_code list.
func (a *EsewaAdapter) BuildRequest(_ context.Context, intent CheckoutIntent) (*CheckoutPayload, error) {
	amount := formatAmount(intent.Amount)

	signedFields := "total_amount,transaction_uuid,product_code"
	message := fmt.Sprintf("total_amount=%s,transaction_uuid=%s,product_code=%s",
		amount, intent.CorrelationID, a.cfg.ProductCode)

	fields := map[string]string{
		"amount":                  amount,
		"tax_amount":              "0",
		"total_amount":            amount,
		"transaction_uuid":        intent.CorrelationID.String(),
		"product_code":            a.cfg.ProductCode,
		"product_service_charge":  "0",
		"product_delivery_charge": "0",
		"success_url":             a.cfg.SuccessURL,
		"failure_url":             a.cfg.FailureURL,
		"signed_field_names":      signedFields,
		"signature":               a.sign(message),
	}

	return &CheckoutPayload{
		Provider:   a.Provider(),
		FormAction: a.cfg.GatewayURL,
		FormFields: fields,
	}, nil
}

// ParseCallback decodes the base64 data blob, verifies its signature and maps
// the provider status onto the shared outcome vocabulary.
func (a *EsewaAdapter) ParseCallback(_ context.Context, params url.Values) (*NormalizedResult, error) {
	raw := params.Get("data")
	if raw == "" {
		return nil, fmt.Errorf("missing data parameter: %w", models.ErrMalformedPayload)
	}

	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("data is not valid base64: %w", models.ErrMalformedPayload)
	}

	var data esewaCallbackData
	if err := json.Unmarshal(decoded, &data); err != nil {
		return nil, fmt.Errorf("data is not valid JSON: %w", models.ErrMalformedPayload)
	}
	if data.Signature == "" || data.SignedFieldNames == "" {
		return nil, fmt.Errorf("callback is unsigned: %w", models.ErrBadSignature)
	}

	if !a.verify(&data) {
		a.logger.WithFields(logrus.Fields{
			"transaction_uuid": data.TransactionUUID,
			"product_code":     data.ProductCode,
		}).Warn("Callback signature mismatch")
		return nil, models.ErrBadSignature
	}

	correlationID, err := uuid.Parse(data.TransactionUUID)
	if err != nil {
		return nil, fmt.Errorf("transaction_uuid is not a valid correlation id: %w", models.ErrMalformedPayload)
	}

	amount, err := parseEsewaAmount(data.TotalAmount)
	if err != nil {
		return nil, fmt.Errorf("unparseable total_amount %q: %w", data.TotalAmount, models.ErrMalformedPayload)
	}

	outcome := OutcomeFailed
	switch strings.ToUpper(data.Status) {
	case esewaStatusComplete:
		outcome = OutcomeSuccess
	case "PENDING", "AMBIGUOUS":
		return nil, models.ErrPendingOutcome
	}

	return &NormalizedResult{
		CorrelationID: correlationID,
		GatewayRef:    data.TransactionCode,
		Outcome:       outcome,
		RawAmount:     amount,
	}, nil
}

// verify recomputes the signature over the callback's advertised signed field
// list, in its order, and compares in constant time.
func (a *EsewaAdapter) verify(data *esewaCallbackData) bool {
	values := map[string]string{
		"transaction_code":   data.TransactionCode,
		"status":             data.Status,
		"total_amount":       data.TotalAmount,
		"transaction_uuid":   data.TransactionUUID,
		"product_code":       data.ProductCode,
		"signed_field_names": data.SignedFieldNames,
	}

	fields := strings.Split(data.SignedFieldNames, ",")
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		v, ok := values[f]
		if !ok {
			return false
		}
		parts = append(parts, f+"="+v)
	}

	expected := a.sign(strings.Join(parts, ","))
	return hmac.Equal([]byte(expected), []byte(data.Signature))
}

func (a *EsewaAdapter) sign(message string) string {
	mac := hmac.New(sha256.New, []byte(a.cfg.SecretKey))
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// parseEsewaAmount tolerates the gateway's thousands separators ("1,500.0").
func parseEsewaAmount(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
}

func formatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', 2, 64)
}
